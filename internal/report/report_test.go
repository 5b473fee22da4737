package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func ptr(f float64) *float64 { return &f }

func TestScoreBands(t *testing.T) {
	tests := []struct {
		similarity float64
		percent    int
		severity   Severity
	}{
		{0.93, 93, SeverityHigh},
		{0.75, 75, SeverityMedium},
		{0.40, 40, SeverityLow},
		{1.0, 100, SeverityHigh},
		{0.0, 0, SeverityLow},
		{0.896, 90, SeverityMedium}, // band follows the unrounded score
		{0.694, 69, SeverityLow},
	}
	for _, tt := range tests {
		pct, sev := Score(tt.similarity)
		assert.Equal(t, tt.percent, pct, "percent for %v", tt.similarity)
		assert.Equal(t, tt.severity, sev, "severity for %v", tt.similarity)
	}
}

func TestBadges(t *testing.T) {
	assert.Nil(t, Badges(nil), "absent list renders nothing")

	empty := Badges([]string{})
	require.Len(t, empty, 1)
	assert.True(t, empty[0].Placeholder)
	assert.Equal(t, NoIssuesLabel, empty[0].Label)

	two := Badges([]string{"mistranslation", "missing ingredient"})
	require.Len(t, two, 2)
	assert.Equal(t, "mistranslation", two[0].Label)
	assert.Equal(t, "missing ingredient", two[1].Label)
	assert.False(t, two[0].Placeholder)
}

func TestBuildFullReport(t *testing.T) {
	r := &types.MergedResult{
		Report: types.EvaluationReport{
			Evaluation: &types.Evaluation{
				Result:             types.Fail,
				SemanticSimilarity: ptr(0.75),
				Summary:            "Ingredient list lost",
				KeywordMatch:       map[string]bool{"ingredients": false, "product_name": true, "category": true},
				ErrorType:          []string{"missing ingredient"},
			},
			OriginalText:       "녹차 라떼",
			TranslatedText:     "Green tea latte",
			BackTranslatedText: "녹차 라떼",
			ImageURL:           "http://svc/original.png",
			TranslatedImageURL: "http://svc/translated.png",
		},
		Preview: types.PreviewHandle{DataURI: "data:image/jpeg;base64,AAAA"},
	}

	v := Build(r)
	assert.Equal(t, types.Fail, v.Verdict)
	assert.True(t, v.HasScore)
	assert.Equal(t, 75, v.Percent)
	assert.Equal(t, SeverityMedium, v.Severity)

	require.Len(t, v.Checklist, 3)
	assert.Equal(t, []string{"product_name", "category", "ingredients"},
		[]string{v.Checklist[0].Key, v.Checklist[1].Key, v.Checklist[2].Key})
	assert.False(t, v.Checklist[2].Match)

	require.NotNil(t, v.OriginalImage)
	assert.Equal(t, FromPreview, v.OriginalImage.Source, "local preview wins for the original")
	require.NotNil(t, v.TranslatedImage)
	assert.Equal(t, "http://svc/translated.png", v.TranslatedImage.URI)
}

func TestBuildMissingFields(t *testing.T) {
	assert.Equal(t, View{}, Build(nil))

	v := Build(&types.MergedResult{})
	assert.Empty(t, v.Verdict)
	assert.False(t, v.HasScore)
	assert.Nil(t, v.Badges)
	assert.Nil(t, v.OriginalImage)
	assert.Nil(t, v.TranslatedImage)

	v = Build(&types.MergedResult{Report: types.EvaluationReport{
		Evaluation: &types.Evaluation{
			Result:       "MAYBE",
			KeywordMatch: map[string]bool{"category": true},
		},
		ImageURL: "http://svc/original.png",
	}})
	assert.Empty(t, v.Verdict, "unknown verdicts are not shown")
	assert.False(t, v.HasScore)
	require.Len(t, v.Checklist, 1)
	assert.Equal(t, "Category preserved", v.Checklist[0].Label)
	require.NotNil(t, v.OriginalImage)
	assert.Equal(t, FromRemote, v.OriginalImage.Source)
	assert.Nil(t, v.TranslatedImage)
}

func TestRender(t *testing.T) {
	v := Build(&types.MergedResult{
		Report: types.EvaluationReport{
			Evaluation: &types.Evaluation{
				Result:             types.Pass,
				SemanticSimilarity: ptr(0.93),
				Summary:            "Faithful",
				KeywordMatch:       map[string]bool{"product_name": true},
				ErrorType:          []string{},
			},
			TranslatedText:     "Green tea latte",
			TranslatedImageURL: "http://svc/translated.png",
		},
	})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, v))
	out := buf.String()

	for _, want := range []string{"PASS", "93% (high)", `"Faithful"`, "Green tea latte", "Product name match", "MATCH", NoIssuesLabel, "http://svc/translated.png"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Back-translated")
	assert.NotContains(t, out, "Original:")
	assert.Equal(t, 1, strings.Count(out, NoIssuesLabel))
}
