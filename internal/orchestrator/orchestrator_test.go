package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/visualtrans/internal/imagesource"
	"github.com/andresmejia3/visualtrans/internal/remote"
	"github.com/andresmejia3/visualtrans/internal/stages"
	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

type fakeProcessor struct {
	calls  atomic.Int32
	submit func(ctx context.Context, payload types.ImagePayload) (*types.EvaluationReport, error)
}

func (f *fakeProcessor) Submit(ctx context.Context, payload types.ImagePayload, lang types.TargetLanguage) (*types.EvaluationReport, error) {
	f.calls.Add(1)
	return f.submit(ctx, payload)
}

func returning(report *types.EvaluationReport, err error) *fakeProcessor {
	return &fakeProcessor{submit: func(context.Context, types.ImagePayload) (*types.EvaluationReport, error) {
		return report, err
	}}
}

// gatedSimulator emits every non-terminal stage at once and holds the terminal one until released.
type gatedSimulator struct {
	release  chan struct{}
	returned chan error
}

func newGatedSimulator() *gatedSimulator {
	return &gatedSimulator{release: make(chan struct{}), returned: make(chan error, 1)}
}

func (g *gatedSimulator) Run(ctx context.Context, n int, onStage func(types.StageIndex)) error {
	for i := 0; i < n; i++ {
		onStage(types.StageIndex(i))
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		g.returned <- ctx.Err()
		return ctx.Err()
	}
	onStage(types.StageIndex(n))
	g.returned <- nil
	return nil
}

type scriptedSimulator []types.StageIndex

func (s scriptedSimulator) Run(ctx context.Context, n int, onStage func(types.StageIndex)) error {
	for _, i := range s {
		onStage(i)
	}
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	records []types.RunRecord
}

func (m *memRecorder) RecordRun(ctx context.Context, rec types.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

type snapshotLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *snapshotLog) add(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, s)
}

func (l *snapshotLog) all() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Snapshot(nil), l.snaps...)
}

// --- Helpers ---

func pngInput(t *testing.T, name string) imagesource.Input {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16))))
	return imagesource.FromDrop(name, "image/png", buf.Bytes())
}

func passReport() *types.EvaluationReport {
	sim := 0.93
	return &types.EvaluationReport{
		Evaluation: &types.Evaluation{
			Result:             types.Pass,
			SemanticSimilarity: &sim,
			Summary:            "ok",
		},
		TranslatedText: "Green tea latte",
	}
}

// --- Tests ---

func TestProcessPublishesStagesInOrderThenResult(t *testing.T) {
	proc := returning(passReport(), nil)
	o := New(proc, stages.New(0, 0))

	var log snapshotLog
	defer o.Subscribe(log.add)()

	result, err := o.Process(context.Background(), pngInput(t, "label.png"), types.Japanese)
	require.NoError(t, err)
	require.NotNil(t, result)

	snaps := log.all()
	require.Len(t, snaps, types.StageCount+2, "start, stages 1..7, result")
	for i, s := range snaps[:len(snaps)-1] {
		assert.Equal(t, types.StageIndex(i), s.Stage)
		assert.Equal(t, PhaseRunning, s.Phase)
		assert.Nil(t, s.Result, "no result before the join")
	}

	last := snaps[len(snaps)-1]
	assert.Equal(t, PhaseSucceeded, last.Phase)
	assert.Equal(t, types.StageIndex(types.StageCount), last.Stage)
	require.NotNil(t, last.Result)
	assert.Equal(t, "Green tea latte", last.Result.Report.TranslatedText)
	assert.Equal(t, types.Japanese, last.Result.Language)
	assert.Equal(t, "label.png", last.Result.ImageName)
	assert.NotEmpty(t, last.Result.Preview.DataURI)
	assert.Equal(t, int32(1), proc.calls.Load())
}

func TestResultWaitsForNarrativeToFinish(t *testing.T) {
	proc := returning(passReport(), nil)
	sim := newGatedSimulator()
	o := New(proc, sim)

	run, err := o.Start(context.Background(), pngInput(t, "label.png"), types.Korean)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := o.Snapshot()
		return proc.calls.Load() == 1 && s.Stage == types.StageIndex(types.StageCount-1)
	}, time.Second, 5*time.Millisecond)

	// The remote already answered, yet nothing is published until the narrative ends.
	s := o.Snapshot()
	assert.Equal(t, PhaseRunning, s.Phase)
	assert.Nil(t, s.Result)

	close(sim.release)
	result, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, PhaseSucceeded, o.Snapshot().Phase)
}

func TestRemoteFailureResetsStageAndStopsNarrative(t *testing.T) {
	proc := returning(nil, &remote.RemoteError{Status: 413, Message: "file too large"})
	sim := newGatedSimulator()
	o := New(proc, sim)

	var log snapshotLog
	defer o.Subscribe(log.add)()

	_, err := o.Process(context.Background(), pngInput(t, "huge.png"), types.Korean)
	var re *remote.RemoteError
	require.True(t, errors.As(err, &re), "expected RemoteError, got %v", err)
	assert.Equal(t, "file too large", re.Message)

	s := o.Snapshot()
	assert.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, types.StageIndex(0), s.Stage)
	assert.Equal(t, "file too large", s.Error)
	assert.Nil(t, s.Result)

	select {
	case simErr := <-sim.returned:
		assert.ErrorIs(t, simErr, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("narrative was not cancelled after the remote failure")
	}

	for _, snap := range log.all() {
		assert.Nil(t, snap.Result, "a failed run never publishes a result")
	}
	assert.Equal(t, int32(1), proc.calls.Load(), "no retry")
}

func TestNewRunSupersedesInFlightRun(t *testing.T) {
	firstDone := make(chan struct{})
	proc := &fakeProcessor{submit: func(ctx context.Context, p types.ImagePayload) (*types.EvaluationReport, error) {
		if p.Name == "first.png" {
			<-ctx.Done()
			close(firstDone)
			return nil, ctx.Err()
		}
		return passReport(), nil
	}}
	o := New(proc, stages.New(0, 0))

	first, err := o.Start(context.Background(), pngInput(t, "first.png"), types.Korean)
	require.NoError(t, err)
	second, err := o.Start(context.Background(), pngInput(t, "second.png"), types.French)
	require.NoError(t, err)

	_, err = first.Wait(context.Background())
	assert.ErrorIs(t, err, ErrSuperseded)

	result, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second.png", result.ImageName)

	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("superseded run was not cancelled")
	}

	// Late callbacks from the first run must never overwrite the second run's outcome.
	assert.Never(t, func() bool {
		s := o.Snapshot()
		return s.RunID != second.ID || s.Phase != PhaseSucceeded || s.Result == nil
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestInvalidInputLeavesStateUntouched(t *testing.T) {
	proc := returning(passReport(), nil)
	o := New(proc, stages.New(0, 0))

	var log snapshotLog
	defer o.Subscribe(log.add)()
	before := o.Snapshot()

	_, err := o.Start(context.Background(), imagesource.FromDrop("notes.txt", "text/plain", []byte("hello")), types.Korean)
	var invalid *imagesource.InvalidInputError
	assert.True(t, errors.As(err, &invalid), "expected InvalidInputError, got %v", err)

	_, err = o.Start(context.Background(), pngInput(t, "label.png"), types.TargetLanguage("Klingon"))
	assert.ErrorIs(t, err, ErrInvalidLanguage)
	assert.ErrorIs(t, err, types.ErrUnknownLanguage)

	assert.Equal(t, before, o.Snapshot())
	assert.Equal(t, PhaseIdle, before.Phase)
	assert.Empty(t, log.all())
	assert.Zero(t, proc.calls.Load())
}

func TestStageNeverMovesBackwards(t *testing.T) {
	proc := returning(passReport(), nil)
	o := New(proc, scriptedSimulator{0, 3, 1, 3, 5, 2, types.StageIndex(types.StageCount)})

	var log snapshotLog
	defer o.Subscribe(log.add)()

	_, err := o.Process(context.Background(), pngInput(t, "label.png"), types.Korean)
	require.NoError(t, err)

	var seen []types.StageIndex
	for _, s := range log.all() {
		seen = append(seen, s.Stage)
	}
	assert.Equal(t, []types.StageIndex{0, 3, 5, 7, 7}, seen)
}

func TestRecorderReceivesFinishedRuns(t *testing.T) {
	rec := &memRecorder{}

	o := New(returning(passReport(), nil), stages.New(0, 0), WithRecorder(rec))
	result, err := o.Process(context.Background(), pngInput(t, "ok.png"), types.Spanish)
	require.NoError(t, err)

	o.proc = returning(nil, &remote.RemoteError{Status: 500, Message: remote.GenericFailure})
	_, err = o.Process(context.Background(), pngInput(t, "bad.png"), types.Spanish)
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.records, 2)

	ok := rec.records[0]
	assert.Equal(t, result.RunID, ok.RunID)
	assert.Equal(t, types.RunSucceeded, ok.Status)
	assert.Equal(t, types.Spanish, ok.Language)
	assert.Len(t, ok.Fingerprint, 64)
	require.NotNil(t, ok.Report)
	assert.Equal(t, types.Pass, ok.Report.Evaluation.Result)

	bad := rec.records[1]
	assert.Equal(t, types.RunFailed, bad.Status)
	assert.Equal(t, remote.GenericFailure, bad.ErrorMessage)
	assert.Nil(t, bad.Report)
	assert.False(t, bad.FinishedAt.Before(bad.StartedAt))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	o := New(returning(passReport(), nil), stages.New(0, 0))

	var calls atomic.Int32
	unsubscribe := o.Subscribe(func(Snapshot) { calls.Add(1) })
	unsubscribe()

	_, err := o.Process(context.Background(), pngInput(t, "label.png"), types.Korean)
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
}
