// Package report derives the presentation model of a merged result and
// renders it for the terminal. Missing fields render nothing.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/andresmejia3/visualtrans/internal/utils"
	"github.com/fatih/color"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// NoIssuesLabel is the single placeholder badge shown for an empty issue list.
const NoIssuesLabel = "No issues found"

var checklistLabels = map[string]string{
	"product_name": "Product name match",
	"category":     "Category preserved",
	"ingredients":  "Ingredients conveyed",
}

type ChecklistRow struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Match bool   `json:"match"`
}

type Badge struct {
	Label       string `json:"label"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// ImageSource tells where a displayed image comes from.
type ImageSource string

const (
	FromPreview ImageSource = "preview"
	FromRemote  ImageSource = "remote"
)

type ImageRef struct {
	Source ImageSource `json:"source"`
	URI    string      `json:"uri"`
}

// View is everything a renderer needs. Zero values mean "absent".
type View struct {
	Verdict            types.Verdict  `json:"verdict,omitempty"`
	HasScore           bool           `json:"has_score"`
	Percent            int            `json:"percent"`
	Severity           Severity       `json:"severity,omitempty"`
	Summary            string         `json:"summary,omitempty"`
	Checklist          []ChecklistRow `json:"checklist,omitempty"`
	Badges             []Badge        `json:"badges,omitempty"`
	OriginalText       string         `json:"original_text,omitempty"`
	TranslatedText     string         `json:"translated_text,omitempty"`
	BackTranslatedText string         `json:"back_translated_text,omitempty"`
	OriginalImage      *ImageRef      `json:"original_image,omitempty"`
	TranslatedImage    *ImageRef      `json:"translated_image,omitempty"`
}

// Build derives the View for r. A nil result yields the zero View.
func Build(r *types.MergedResult) View {
	if r == nil {
		return View{}
	}
	rep := r.Report
	v := View{
		OriginalText:       rep.OriginalText,
		TranslatedText:     rep.TranslatedText,
		BackTranslatedText: rep.BackTranslatedText,
		OriginalImage:      pickImage(imageRef(FromPreview, r.Preview.DataURI), imageRef(FromRemote, rep.ImageURL)),
		TranslatedImage:    pickImage(imageRef(FromRemote, rep.TranslatedImageURL), imageRef(FromPreview, r.Preview.DataURI)),
	}

	e := rep.Evaluation
	if e == nil {
		return v
	}
	if e.Result == types.Pass || e.Result == types.Fail {
		v.Verdict = e.Result
	}
	if e.SemanticSimilarity != nil {
		v.HasScore = true
		v.Percent, v.Severity = Score(*e.SemanticSimilarity)
	}
	v.Summary = e.Summary

	for _, key := range types.KeywordKeys {
		match, ok := e.KeywordMatch[key]
		if !ok {
			continue
		}
		v.Checklist = append(v.Checklist, ChecklistRow{Key: key, Label: checklistLabels[key], Match: match})
	}

	v.Badges = Badges(e.ErrorType)
	return v
}

// Score converts a similarity in [0, 1] to a whole percent and its severity band.
// The band is taken from the unrounded score.
func Score(similarity float64) (int, Severity) {
	pct := similarity * 100
	sev := SeverityLow
	switch {
	case pct >= 90:
		sev = SeverityHigh
	case pct >= 70:
		sev = SeverityMedium
	}
	return int(math.Round(pct)), sev
}

// Badges keeps input order. An empty list yields one placeholder; a nil list yields none.
func Badges(issues []string) []Badge {
	if issues == nil {
		return nil
	}
	if len(issues) == 0 {
		return []Badge{{Label: NoIssuesLabel, Placeholder: true}}
	}
	badges := make([]Badge, 0, len(issues))
	for _, issue := range issues {
		badges = append(badges, Badge{Label: issue})
	}
	return badges
}

func imageRef(src ImageSource, uri string) *ImageRef {
	if uri == "" {
		return nil
	}
	return &ImageRef{Source: src, URI: uri}
}

func pickImage(refs ...*ImageRef) *ImageRef {
	for _, r := range refs {
		if r != nil {
			return r
		}
	}
	return nil
}

// --- Terminal rendering ---

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	passColor   = color.New(color.FgGreen, color.Bold)
	failColor   = color.New(color.FgRed, color.Bold)
	issueColor  = color.New(color.FgYellow)
	mutedColor  = color.New(color.FgHiBlack, color.Italic)
)

func severityColor(s Severity) *color.Color {
	switch s {
	case SeverityHigh:
		return color.New(color.FgGreen)
	case SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// Render prints v as a sectioned terminal report.
func Render(w io.Writer, v View) error {
	headerColor.Fprintln(w, "\n📊 Analysis Report")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	switch v.Verdict {
	case types.Pass:
		fmt.Fprintf(tw, "Verdict:\t%s\n", passColor.Sprint("✅ PASS"))
	case types.Fail:
		fmt.Fprintf(tw, "Verdict:\t%s\n", failColor.Sprint("❌ FAIL"))
	}
	if v.HasScore {
		fmt.Fprintf(tw, "Similarity:\t%s\n", severityColor(v.Severity).Sprintf("%d%% (%s)", v.Percent, v.Severity))
	}
	if v.Summary != "" {
		fmt.Fprintf(tw, "Summary:\t%q\n", v.Summary)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if v.OriginalText != "" || v.TranslatedText != "" || v.BackTranslatedText != "" {
		headerColor.Fprintln(w, "\n📝 Translation")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		textRow(tw, "Original", v.OriginalText)
		textRow(tw, "Translated", v.TranslatedText)
		textRow(tw, "Back-translated", v.BackTranslatedText)
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(v.Checklist) > 0 || v.Badges != nil {
		headerColor.Fprintln(w, "\n✔️  Quality Checklist")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, row := range v.Checklist {
			status := passColor.Sprint("MATCH")
			if !row.Match {
				status = failColor.Sprint("MISMATCH")
			}
			fmt.Fprintf(tw, "  %s\t%s\n", row.Label, status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		for _, b := range v.Badges {
			if b.Placeholder {
				fmt.Fprintf(w, "  %s\n", mutedColor.Sprint(b.Label))
				continue
			}
			fmt.Fprintf(w, "  %s\n", issueColor.Sprintf("⚠️  %s", b.Label))
		}
	}

	if v.OriginalImage != nil || v.TranslatedImage != nil {
		headerColor.Fprintln(w, "\n🖼️  Images")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		imageRow(tw, "Original", v.OriginalImage)
		imageRow(tw, "Translated", v.TranslatedImage)
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func textRow(w io.Writer, label, text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(w, "  %s:\t%s\n", label, text)
}

func imageRow(w io.Writer, label string, ref *ImageRef) {
	if ref == nil {
		return
	}
	if ref.Source == FromPreview {
		fmt.Fprintf(w, "  %s:\tlocal preview (%s)\n", label, utils.Truncate(ref.URI, 32))
		return
	}
	fmt.Fprintf(w, "  %s:\t%s\n", label, ref.URI)
}
