package types

import "fmt"

// Verdict is the pass/fail outcome of the back-translation check.
type Verdict string

const (
	Pass Verdict = "PASS"
	Fail Verdict = "FAIL"
)

// KeywordKeys is the fixed key set of Evaluation.KeywordMatch, in display order.
var KeywordKeys = []string{"product_name", "category", "ingredients"}

// Evaluation matches the "evaluation" object of the service response.
type Evaluation struct {
	Result             Verdict         `json:"result"`
	SemanticSimilarity *float64        `json:"semantic_similarity,omitempty"`
	Summary            string          `json:"summary,omitempty"`
	KeywordMatch       map[string]bool `json:"keyword_match,omitempty"`
	// ErrorType is nil when the service omitted the field and empty when it found no issues.
	ErrorType []string `json:"error_type"`
}

// EvaluationReport is the service's success body.
type EvaluationReport struct {
	Evaluation         *Evaluation `json:"evaluation,omitempty"`
	OriginalText       string      `json:"original_text,omitempty"`
	TranslatedText     string      `json:"translated_text,omitempty"`
	BackTranslatedText string      `json:"back_translated_text,omitempty"`
	ImageURL           string      `json:"imageUrl,omitempty"`
	TranslatedImageURL string      `json:"translatedImageUrl,omitempty"`
}

// Problems lists contract violations in r. They are advisory: rendering
// degrades around them and no run fails because of them.
func (r *EvaluationReport) Problems() []string {
	if r == nil {
		return []string{"report is missing"}
	}
	e := r.Evaluation
	if e == nil {
		return []string{"evaluation block is missing"}
	}

	var problems []string
	if e.Result != Pass && e.Result != Fail {
		problems = append(problems, fmt.Sprintf("result %q is neither PASS nor FAIL", e.Result))
	}
	if e.SemanticSimilarity == nil {
		problems = append(problems, "semantic_similarity is missing")
	} else if s := *e.SemanticSimilarity; s < 0 || s > 1 {
		problems = append(problems, fmt.Sprintf("semantic_similarity %v is outside [0, 1]", s))
	}
	for key := range e.KeywordMatch {
		if !isKeywordKey(key) {
			problems = append(problems, fmt.Sprintf("keyword_match has unexpected key %q", key))
		}
	}
	return problems
}

func isKeywordKey(key string) bool {
	for _, k := range KeywordKeys {
		if k == key {
			return true
		}
	}
	return false
}
