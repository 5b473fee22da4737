// Package stages paces the fixed stage narrative shown while the remote call runs.
// It has no view of real backend progress.
package stages

import (
	"context"
	"math/rand"
	"time"

	"github.com/andresmejia3/visualtrans/internal/types"
)

const (
	DefaultMinPause = 400 * time.Millisecond
	DefaultMaxPause = 1200 * time.Millisecond
)

// Simulator emits stage indices separated by random pauses drawn from [MinPause, MaxPause].
type Simulator struct {
	MinPause time.Duration
	MaxPause time.Duration

	// Int64N and Sleep are swapped out in tests.
	Int64N func(n int64) int64
	Sleep  func(ctx context.Context, d time.Duration) error
}

// New returns a Simulator with the given bounds. Swapped or non-positive bounds are normalized.
func New(minPause, maxPause time.Duration) *Simulator {
	if minPause < 0 {
		minPause = 0
	}
	if maxPause < minPause {
		maxPause = minPause
	}
	return &Simulator{
		MinPause: minPause,
		MaxPause: maxPause,
		Int64N:   rand.Int63n,
		Sleep:    sleep,
	}
}

// Run emits 0..stageCount-1 in order with a pause after each, then the terminal index stageCount.
// It returns ctx.Err() without further emissions if ctx ends during a pause.
func (s *Simulator) Run(ctx context.Context, stageCount int, onStage func(types.StageIndex)) error {
	for i := 0; i < stageCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		onStage(types.StageIndex(i))
		if err := s.Sleep(ctx, s.pause()); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	onStage(types.StageIndex(stageCount))
	return nil
}

func (s *Simulator) pause() time.Duration {
	span := int64(s.MaxPause - s.MinPause)
	if span <= 0 {
		return s.MinPause
	}
	return s.MinPause + time.Duration(s.Int64N(span+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
