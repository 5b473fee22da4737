package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// --- Stages ---

// StageCount is the number of named stages in the pipeline narrative.
const StageCount = 7

// StageLabels names each stage in display order.
var StageLabels = [StageCount]string{
	"Upload",
	"OCR",
	"Translate",
	"Inpaint",
	"Synthesize",
	"Back-translate",
	"Finalize",
}

// StageIndex is a position in the stage narrative. StageIndex(StageCount)
// means the pipeline is fully complete.
type StageIndex int

// Label returns the stage name, "Complete" for the terminal index and "" when out of range.
func (s StageIndex) Label() string {
	switch {
	case s >= 0 && int(s) < StageCount:
		return StageLabels[s]
	case int(s) == StageCount:
		return "Complete"
	default:
		return ""
	}
}

// Terminal reports whether s is the "fully complete" index for a pipeline of n stages.
func (s StageIndex) Terminal(n int) bool {
	return int(s) == n
}

// --- Languages ---

// ErrUnknownLanguage is returned when a language name is not one of the supported targets.
var ErrUnknownLanguage = errors.New("unknown target language")

// TargetLanguage is the language the image text is translated into.
// The value is sent verbatim as the target_language request parameter.
type TargetLanguage string

const (
	Korean   TargetLanguage = "Korean"
	English  TargetLanguage = "English"
	Chinese  TargetLanguage = "Chinese"
	Japanese TargetLanguage = "Japanese"
	Spanish  TargetLanguage = "Spanish"
	French   TargetLanguage = "French"
)

// DefaultLanguage is selected when the user does not pick one.
const DefaultLanguage = Korean

// Languages lists the supported targets in selector order.
var Languages = []TargetLanguage{Korean, English, Chinese, Japanese, Spanish, French}

var languageLabels = map[TargetLanguage]string{
	Korean:   "한국어 (Korean)",
	English:  "영어 (English)",
	Chinese:  "중국어 (Chinese)",
	Japanese: "일본어 (Japanese)",
	Spanish:  "스페인어 (Spanish)",
	French:   "프랑스어 (French)",
}

// Valid reports whether l is a supported target language.
func (l TargetLanguage) Valid() bool {
	_, ok := languageLabels[l]
	return ok
}

// Label returns the selector label for l.
func (l TargetLanguage) Label() string {
	return languageLabels[l]
}

// ParseLanguage resolves a case-insensitive language name. An empty string yields DefaultLanguage.
func ParseLanguage(s string) (TargetLanguage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultLanguage, nil
	}
	for _, l := range Languages {
		if strings.EqualFold(string(l), s) {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
}

// --- Image capture ---

// Source identifies how the user supplied an image.
type Source string

const (
	SourcePicker Source = "picker"
	SourceDrop   Source = "drop"
)

// ImagePayload is the captured image. It is never mutated after capture.
type ImagePayload struct {
	Name      string
	MediaType string
	Data      []byte
	Source    Source
}

// PreviewHandle is a locally renderable rendition of the payload. It never leaves the process.
type PreviewHandle struct {
	DataURI string `json:"data_uri"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// --- Results ---

// MergedResult is the only object published to rendering: the remote report plus the local preview.
type MergedResult struct {
	RunID     string           `json:"run_id"`
	Language  TargetLanguage   `json:"language"`
	ImageName string           `json:"image_name"`
	Report    EvaluationReport `json:"report"`
	Preview   PreviewHandle    `json:"preview"`
}

// RunStatus is the terminal state of a recorded run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord is what the history store keeps for every finished run.
type RunRecord struct {
	RunID        string
	ImageName    string
	Fingerprint  string
	MediaType    string
	Language     TargetLanguage
	Status       RunStatus
	Report       *EvaluationReport
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}
