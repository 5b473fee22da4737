// Package orchestrator runs one localization at a time: it launches the stage
// narrative and the remote call together, waits for both, and publishes a
// single merged result or a failure message.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/visualtrans/internal/imagesource"
	"github.com/andresmejia3/visualtrans/internal/remote"
	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/andresmejia3/visualtrans/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSuperseded is returned to waiters of a run that a newer run replaced.
	ErrSuperseded = errors.New("run superseded by a newer run")
	// ErrInvalidLanguage rejects a target language outside the supported set.
	ErrInvalidLanguage = fmt.Errorf("invalid target language: %w", types.ErrUnknownLanguage)
)

// Processor performs the remote localization call.
type Processor interface {
	Submit(ctx context.Context, payload types.ImagePayload, lang types.TargetLanguage) (*types.EvaluationReport, error)
}

// Simulator paces the stage narrative.
type Simulator interface {
	Run(ctx context.Context, stageCount int, onStage func(types.StageIndex)) error
}

// Recorder keeps finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, rec types.RunRecord) error
}

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Snapshot is the published state. Result is set only in PhaseSucceeded, Error only in PhaseFailed.
type Snapshot struct {
	RunID      string               `json:"run_id,omitempty"`
	Phase      Phase                `json:"phase"`
	Stage      types.StageIndex     `json:"stage"`
	StageCount int                  `json:"stage_count"`
	Language   types.TargetLanguage `json:"language,omitempty"`
	ImageName  string               `json:"image_name,omitempty"`
	Result     *types.MergedResult  `json:"result,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithCapturer(c *imagesource.Capturer) Option {
	return func(o *Orchestrator) { o.capturer = c }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithStageCount(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.stageCount = n
		}
	}
}

// Orchestrator is the single writer of the current stage and result.
type Orchestrator struct {
	proc       Processor
	sim        Simulator
	capturer   *imagesource.Capturer
	recorder   Recorder
	stageCount int

	mu      sync.Mutex
	gen     uint64
	current *Run
	snap    Snapshot
	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

func New(proc Processor, sim Simulator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		proc:       proc,
		sim:        sim,
		capturer:   imagesource.New(0),
		stageCount: types.StageCount,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.snap = Snapshot{Phase: PhaseIdle, StageCount: o.stageCount}
	return o
}

// Run is a handle on one started localization.
type Run struct {
	ID string

	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// guarded by Orchestrator.mu until done is closed
	settled bool
	result  *types.MergedResult
	err     error
}

func (r *Run) close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Done is closed once the run has finished or been superseded.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes. A superseded run returns ErrSuperseded.
func (r *Run) Wait(ctx context.Context) (*types.MergedResult, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start captures in and begins a run. Invalid input or language returns an error
// and leaves the published state untouched. Any run still in flight is superseded.
// The run lives as long as ctx; cancelling ctx fails the run.
func (o *Orchestrator) Start(ctx context.Context, in imagesource.Input, lang types.TargetLanguage) (*Run, error) {
	if !lang.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLanguage, lang)
	}
	payload, preview, err := o.capturer.Capture(in)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	o.gen++
	run.gen = o.gen
	if prev := o.current; prev != nil {
		prev.cancel()
		if !prev.settled {
			prev.settled = true
			prev.err = ErrSuperseded
			prev.close()
			log.Debug().Str("run_id", prev.ID).Msg("Run superseded")
		}
	}
	o.current = run
	o.snap = Snapshot{
		RunID:      run.ID,
		Phase:      PhaseRunning,
		Stage:      0,
		StageCount: o.stageCount,
		Language:   lang,
		ImageName:  payload.Name,
	}
	o.publishLocked()
	o.mu.Unlock()

	log.Info().
		Str("run_id", run.ID).
		Str("image", payload.Name).
		Str("source", string(payload.Source)).
		Str("language", string(lang)).
		Msg("Run started")

	go o.execute(runCtx, run, payload, preview, lang, time.Now())
	return run, nil
}

// Process starts a run and waits for its outcome.
func (o *Orchestrator) Process(ctx context.Context, in imagesource.Input, lang types.TargetLanguage) (*types.MergedResult, error) {
	run, err := o.Start(ctx, in, lang)
	if err != nil {
		return nil, err
	}
	return run.Wait(ctx)
}

// Snapshot returns the current published state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// StageCount is the number of named stages runs go through.
func (o *Orchestrator) StageCount() int {
	return o.stageCount
}

// Subscribe registers fn for every published change, delivered in publication order.
// fn runs while the state lock is held and must not call back into the Orchestrator.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextSub++
	id := o.nextSub
	o.subs = append(o.subs, subscriber{id: id, fn: fn})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, s := range o.subs {
			if s.id == id {
				o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

func (o *Orchestrator) publishLocked() {
	for _, s := range o.subs {
		s.fn(o.snap)
	}
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, payload types.ImagePayload, preview types.PreviewHandle, lang types.TargetLanguage, startedAt time.Time) {
	defer run.cancel()

	var report *types.EvaluationReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.sim.Run(gctx, o.stageCount, func(i types.StageIndex) {
			o.setStage(run, i)
		})
	})
	g.Go(func() error {
		r, err := o.proc.Submit(gctx, payload, lang)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	err := g.Wait()
	if err == nil && report == nil {
		err = &remote.RemoteError{Message: remote.GenericFailure}
	}

	var result *types.MergedResult
	if err == nil {
		result = &types.MergedResult{
			RunID:     run.ID,
			Language:  lang,
			ImageName: payload.Name,
			Report:    *report,
			Preview:   preview,
		}
	}

	o.mu.Lock()
	if run.gen != o.gen {
		o.mu.Unlock()
		log.Debug().Str("run_id", run.ID).Msg("Dropping outcome of superseded run")
		return
	}
	run.settled = true
	run.result = result
	run.err = err
	if err != nil {
		o.snap.Phase = PhaseFailed
		o.snap.Stage = 0
		o.snap.Result = nil
		o.snap.Error = remote.Message(err)
	} else {
		o.snap.Phase = PhaseSucceeded
		o.snap.Stage = types.StageIndex(o.stageCount)
		o.snap.Result = result
		o.snap.Error = ""
	}
	o.publishLocked()
	o.mu.Unlock()

	logger := log.With().Str("run_id", run.ID).Dur("elapsed", time.Since(startedAt)).Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("Run failed")
	} else {
		logger.Info().Msg("Run succeeded")
	}

	o.record(ctx, run, payload, lang, startedAt)
	run.close()
}

// setStage drops writes from stale or finished runs and writes that would move the stage backwards.
func (o *Orchestrator) setStage(run *Run, i types.StageIndex) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if run.gen != o.gen || run.settled || o.snap.Phase != PhaseRunning {
		return
	}
	if i <= o.snap.Stage || int(i) > o.stageCount {
		return
	}
	o.snap.Stage = i
	log.Debug().Str("run_id", run.ID).Int("stage", int(i)).Str("label", i.Label()).Msg("Stage advanced")
	o.publishLocked()
}

func (o *Orchestrator) record(ctx context.Context, run *Run, payload types.ImagePayload, lang types.TargetLanguage, startedAt time.Time) {
	if o.recorder == nil {
		return
	}
	rec := types.RunRecord{
		RunID:       run.ID,
		ImageName:   payload.Name,
		Fingerprint: utils.Fingerprint(payload.Data),
		MediaType:   payload.MediaType,
		Language:    lang,
		Status:      types.RunSucceeded,
		StartedAt:   startedAt,
		FinishedAt:  time.Now(),
	}
	if run.err != nil {
		rec.Status = types.RunFailed
		rec.ErrorMessage = remote.Message(run.err)
	} else {
		report := run.result.Report
		rec.Report = &report
	}

	if err := o.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record run history")
	}
}
