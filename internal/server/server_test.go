package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/visualtrans/internal/orchestrator"
	"github.com/andresmejia3/visualtrans/internal/remote"
	"github.com/andresmejia3/visualtrans/internal/stages"
	"github.com/andresmejia3/visualtrans/internal/store"
	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	report *types.EvaluationReport
	err    error
}

func (p stubProcessor) Submit(ctx context.Context, payload types.ImagePayload, lang types.TargetLanguage) (*types.EvaluationReport, error) {
	return p.report, p.err
}

type stubHistory struct {
	runs []types.RunRecord
}

func (h stubHistory) ListRuns(ctx context.Context, limit int) ([]types.RunRecord, error) {
	if limit < len(h.runs) {
		return h.runs[:limit], nil
	}
	return h.runs, nil
}

func (h stubHistory) GetRun(ctx context.Context, id string) (*types.RunRecord, error) {
	for _, r := range h.runs {
		if r.RunID == id {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func newTestServer(t *testing.T, proc orchestrator.Processor, history History, maxUpload int64) *httptest.Server {
	t.Helper()
	orch := orchestrator.New(proc, stages.New(0, 0))
	srv := httptest.NewServer(New(context.Background(), orch, history, maxUpload).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func passingProcessor() stubProcessor {
	sim := 0.93
	return stubProcessor{report: &types.EvaluationReport{
		Evaluation: &types.Evaluation{Result: types.Pass, SemanticSimilarity: &sim, ErrorType: []string{}},
	}}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

// upload builds a multipart body. An empty name omits the file part.
func upload(t *testing.T, name, contentType string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("source", "drop"))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeDetail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Detail
}

func TestHealthAndCatalog(t *testing.T) {
	srv := newTestServer(t, passingProcessor(), nil, 1<<20)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/api/languages")
	require.NoError(t, err)
	defer resp.Body.Close()
	var langs []languageJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&langs))
	require.Len(t, langs, len(types.Languages))
	assert.Equal(t, types.Korean, langs[0].Code)
	assert.True(t, langs[0].Default)

	resp2, err := http.Get(srv.URL + "/api/stages")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var st struct {
		Stages []string `json:"stages"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&st))
	assert.Len(t, st.Stages, types.StageCount)
}

func TestStartRunAndPollState(t *testing.T) {
	srv := newTestServer(t, passingProcessor(), nil, 1<<20)

	body, ct := upload(t, "label.png", "image/png", pngBytes(t))
	resp, err := http.Post(srv.URL+"/api/runs?target_language=english", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started["run_id"])

	var state stateResponse
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/state")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		state = stateResponse{}
		return json.NewDecoder(r.Body).Decode(&state) == nil && state.State.Phase == orchestrator.PhaseSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, started["run_id"], state.State.RunID)
	assert.Equal(t, types.English, state.State.Language)
	require.NotNil(t, state.Report)
	assert.Equal(t, 93, state.Report.Percent)
	require.Len(t, state.Report.Badges, 1)
	assert.True(t, state.Report.Badges[0].Placeholder)
}

func TestStartRunRejections(t *testing.T) {
	srv := newTestServer(t, passingProcessor(), nil, 4<<10)

	tests := []struct {
		name       string
		query      string
		file       string
		ctype      string
		data       []byte
		wantStatus int
		wantDetail string
	}{
		{"Non image", "", "notes.txt", "text/plain", []byte("hello"), http.StatusBadRequest, "only image files"},
		{"No file", "", "", "", nil, http.StatusBadRequest, "no file"},
		{"Unknown language", "?target_language=Klingon", "label.png", "image/png", []byte{1}, http.StatusBadRequest, "unknown target language"},
		{"Too large", "", "big.png", "image/png", bytes.Repeat([]byte{0xAB}, 16<<10), http.StatusRequestEntityTooLarge, "file too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := upload(t, tt.file, tt.ctype, tt.data)
			resp, err := http.Post(srv.URL+"/api/runs"+tt.query, ct, body)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, decodeDetail(t, resp), tt.wantDetail)
		})
	}

	// Nothing started, so the published state is still idle.
	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	var state stateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, orchestrator.PhaseIdle, state.State.Phase)
}

func TestStartRunNotMultipart(t *testing.T) {
	srv := newTestServer(t, passingProcessor(), nil, 1<<20)
	resp, err := http.Post(srv.URL+"/api/runs", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRemoteFailureIsPublished(t *testing.T) {
	srv := newTestServer(t, stubProcessor{err: &remote.RemoteError{Status: 413, Message: "file too large"}}, nil, 1<<20)

	body, ct := upload(t, "label.png", "image/png", pngBytes(t))
	resp, err := http.Post(srv.URL+"/api/runs", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var state stateResponse
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/state")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		state = stateResponse{}
		return json.NewDecoder(r.Body).Decode(&state) == nil && state.State.Phase == orchestrator.PhaseFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "file too large", state.State.Error)
	assert.Equal(t, types.StageIndex(0), state.State.Stage)
	assert.Nil(t, state.Report)
}

func TestRunHistoryEndpoints(t *testing.T) {
	disabled := newTestServer(t, passingProcessor(), nil, 1<<20)
	resp, err := http.Get(disabled.URL + "/api/runs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history := stubHistory{runs: []types.RunRecord{
		{RunID: "run-2", ImageName: "b.png", Status: types.RunFailed, ErrorMessage: "Upload failed", StartedAt: started, FinishedAt: started.Add(2 * time.Second)},
		{RunID: "run-1", ImageName: "a.png", Status: types.RunSucceeded, Report: passingProcessor().report, StartedAt: started, FinishedAt: started.Add(time.Second)},
	}}
	srv := newTestServer(t, passingProcessor(), history, 1<<20)

	resp, err = http.Get(srv.URL + "/api/runs?limit=1")
	require.NoError(t, err)
	var list []runJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, "run-2", list[0].RunID)
	assert.Equal(t, int64(2000), list[0].DurationMsec)

	resp, err = http.Get(srv.URL + "/api/runs?limit=zero")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/runs/run-1")
	require.NoError(t, err)
	var one runJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	resp.Body.Close()
	require.NotNil(t, one.Report)
	assert.Equal(t, types.Pass, one.Report.Verdict)

	resp, err = http.Get(srv.URL + "/api/runs/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
