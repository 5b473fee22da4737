// Package server exposes the orchestrator over HTTP: uploads start runs, and
// clients poll the published state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/visualtrans/internal/config"
	"github.com/andresmejia3/visualtrans/internal/imagesource"
	"github.com/andresmejia3/visualtrans/internal/orchestrator"
	"github.com/andresmejia3/visualtrans/internal/remote"
	"github.com/andresmejia3/visualtrans/internal/report"
	"github.com/andresmejia3/visualtrans/internal/store"
	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// History is the read side of the run history store.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]types.RunRecord, error)
	GetRun(ctx context.Context, id string) (*types.RunRecord, error)
}

type Server struct {
	orch      *orchestrator.Orchestrator
	history   History
	maxUpload int64
	// runCtx bounds runs started over HTTP; request contexts end at the 202.
	runCtx context.Context
}

// New creates a Server. history may be nil when run history is disabled.
func New(runCtx context.Context, orch *orchestrator.Orchestrator, history History, maxUploadBytes int64) *Server {
	return &Server{orch: orch, history: history, maxUpload: maxUploadBytes, runCtx: runCtx}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/languages", s.handleLanguages)
		r.Get("/stages", s.handleStages)
		r.Get("/state", s.handleState)
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Starting web server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Handlers ---

type languageJSON struct {
	Code    types.TargetLanguage `json:"code"`
	Label   string               `json:"label"`
	Default bool                 `json:"default,omitempty"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	out := make([]languageJSON, 0, len(types.Languages))
	for _, l := range types.Languages {
		out = append(out, languageJSON{Code: l, Label: l.Label(), Default: l == types.DefaultLanguage})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"stages": types.StageLabels})
}

type stateResponse struct {
	State  orchestrator.Snapshot `json:"state"`
	Report *report.View          `json:"report,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot()
	resp := stateResponse{State: snap}
	if snap.Result != nil {
		v := report.Build(snap.Result)
		resp.Report = &v
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	lang, err := types.ParseLanguage(r.URL.Query().Get(remote.LanguageParam))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if tooLarge(err) {
			httpError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		httpError(w, http.StatusBadRequest, "expected a multipart upload with a \"file\" field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	source := types.SourceDrop
	if r.FormValue("source") == string(types.SourcePicker) {
		source = types.SourcePicker
	}

	var fh *multipart.FileHeader
	if files := r.MultipartForm.File[remote.FileField]; len(files) > 0 {
		fh = files[0]
	}
	in, err := imagesource.FromFileHeader(fh, source)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	run, err := s.orch.Start(s.runCtx, in, lang)
	if err != nil {
		var invalid *imagesource.InvalidInputError
		if errors.As(err, &invalid) || errors.Is(err, orchestrator.ErrInvalidLanguage) {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Failed to start run")
		httpError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID, "state_url": "/api/state"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httpError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			httpError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		httpError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runJSON, 0, len(runs))
	for _, rec := range runs {
		out = append(out, toRunJSON(rec))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httpError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	rec, err := s.history.GetRun(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, store.ErrAmbiguous):
		httpError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to fetch run")
		httpError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	respondJSON(w, http.StatusOK, toRunJSON(*rec))
}

type runJSON struct {
	RunID        string               `json:"run_id"`
	ImageName    string               `json:"image_name"`
	Fingerprint  string               `json:"image_sha256"`
	Language     types.TargetLanguage `json:"language"`
	Status       types.RunStatus      `json:"status"`
	Error        string               `json:"error,omitempty"`
	Report       *report.View         `json:"report,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
	DurationMsec int64                `json:"duration_ms"`
}

func toRunJSON(rec types.RunRecord) runJSON {
	out := runJSON{
		RunID:        rec.RunID,
		ImageName:    rec.ImageName,
		Fingerprint:  rec.Fingerprint,
		Language:     rec.Language,
		Status:       rec.Status,
		Error:        rec.ErrorMessage,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		DurationMsec: rec.FinishedAt.Sub(rec.StartedAt).Milliseconds(),
	}
	if rec.Report != nil {
		v := report.Build(&types.MergedResult{RunID: rec.RunID, Language: rec.Language, ImageName: rec.ImageName, Report: *rec.Report})
		out.Report = &v
	}
	return out
}

// --- Helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// httpError mirrors the localization service's {"detail": ...} error shape.
func httpError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"detail": message})
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		}()
		next.ServeHTTP(ww, r)
	})
}
