// Package ui renders run progress on the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/visualtrans/internal/orchestrator"
	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

var (
	doneMark    = color.New(color.FgGreen).Sprint("✔")
	currentMark = color.New(color.FgBlue, color.Bold).Sprint("➤")
	pendingMark = color.New(color.FgHiBlack).Sprint("○")
)

// StepIndicator lists every stage as completed, current or pending relative to stage.
func StepIndicator(stage types.StageIndex) string {
	var b strings.Builder
	for i, label := range types.StageLabels {
		idx := types.StageIndex(i)
		switch {
		case idx < stage:
			fmt.Fprintf(&b, "%s %s\n", doneMark, label)
		case idx == stage:
			fmt.Fprintf(&b, "%s %s\n", currentMark, color.New(color.Bold).Sprint(label))
		default:
			fmt.Fprintf(&b, "%s %s\n", pendingMark, label)
		}
	}
	return b.String()
}

// StageProgress follows orchestrator snapshots with a stage bar, then a spinner
// while the service is still working after the last stage.
type StageProgress struct {
	mu      sync.Mutex
	total   int
	bar     *progressbar.ProgressBar
	spin    *spinner.Spinner
	stage   types.StageIndex
	waiting bool
	done    bool
}

func NewStageProgress(w io.Writer, total int) *StageProgress {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🌐 "+types.StageIndex(0).Label()),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for the localization service..."
	s.Writer = w

	return &StageProgress{total: total, bar: bar, spin: s}
}

// Update is meant to be passed to Orchestrator.Subscribe.
func (p *StageProgress) Update(s orchestrator.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}

	switch s.Phase {
	case orchestrator.PhaseSucceeded, orchestrator.PhaseFailed:
		p.stopLocked(s.Phase == orchestrator.PhaseSucceeded)
		return
	case orchestrator.PhaseRunning:
	default:
		return
	}

	if s.Stage > p.stage {
		p.stage = s.Stage
		p.bar.Describe("🌐 " + s.Stage.Label())
		_ = p.bar.Set(int(s.Stage))
	}
	if s.Stage.Terminal(p.total) && !p.waiting {
		p.waiting = true
		p.spin.Start()
	}
}

// Stop tears down the bar and spinner if the run ended without a final snapshot.
func (p *StageProgress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done {
		p.stopLocked(false)
	}
}

func (p *StageProgress) stopLocked(success bool) {
	p.done = true
	if p.waiting {
		p.spin.Stop()
	}
	if success {
		_ = p.bar.Finish()
		return
	}
	_ = p.bar.Clear()
}
