// Package httpapi serves the DevPilot HTTP API: run listing and
// inspection, approval grants, run submission, and an SSE event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/purlieu-studios/DevPilot-sub002/internal/agent"
	"github.com/purlieu-studios/DevPilot-sub002/internal/pipeline"
	"github.com/purlieu-studios/DevPilot-sub002/internal/store"
	"github.com/purlieu-studios/DevPilot-sub002/internal/store/postgres"
	"github.com/purlieu-studios/DevPilot-sub002/internal/store/sqlite"
	"github.com/purlieu-studios/DevPilot-sub002/pkg/models"
)

// defaultMaxRequestBodyBytes is the default limit for request body size (1 MiB) to prevent OOM.
const defaultMaxRequestBodyBytes = 1 << 20

// Runner executes a pipeline run for a request. The serve command binds
// this to an orchestrator; tests substitute their own.
type Runner func(ctx context.Context, request string, emit func(agent.Event)) pipeline.Result

// ServerOptions configures the HTTP server (home dir, listen addr, API key, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	DBDriver       string       // "sqlite" (default) or "postgres"
	DBURL          string       // for postgres: connection string (or set DATABASE_URL env)
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
	Runner         Runner       // if set, POST /api/runs executes a pipeline run
}

// App holds the HTTP server, SSE hub, store, and home path.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Store  store.Store
	Home   string
	runner Runner
}

// NewApp creates the HTTP app (server, hub, store) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = sqlite.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	app := &App{Hub: hub, Store: st, Home: opts.Home, runner: opts.Runner}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			runs, _ := st.ListRuns(r.Context(), models.DefaultRunListLimit)
			var succeeded, failed, pending int64
			for _, run := range runs {
				switch {
				case run.RequiresApproval:
					pending++
				case run.Success:
					succeeded++
				default:
					failed++
				}
			}
			_, _ = fmt.Fprintf(w, "# TYPE devpilot_runs_total gauge\n")
			_, _ = fmt.Fprintf(w, "devpilot_runs_total{outcome=\"succeeded\"} %d\n", succeeded)
			_, _ = fmt.Fprintf(w, "devpilot_runs_total{outcome=\"failed\"} %d\n", failed)
			_, _ = fmt.Fprintf(w, "devpilot_runs_total{outcome=\"awaiting_approval\"} %d\n", pending)
		})
	}

	mux.HandleFunc("/events", hub.Handler())

	mux.HandleFunc("/api/runs", app.handleRuns)
	mux.HandleFunc("/api/runs/", app.handleRunByID)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(defaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "devpilot")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})
	app.Server = srv
	return app, nil
}

// handleRuns serves GET /api/runs (list) and POST /api/runs (execute).
func (a *App) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("awaiting") == "1" {
			runs, err := a.Store.ListAwaitingApproval(r.Context())
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, toSummaries(runs))
			return
		}
		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			if n, _ := fmt.Sscanf(l, "%d", &limit); n == 1 && limit > models.DefaultRunListLimit {
				limit = models.DefaultRunListLimit
			}
		}
		runs, err := a.Store.ListRuns(r.Context(), limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, toSummaries(runs))
	case http.MethodPost:
		if a.runner == nil {
			writeJSONError(w, http.StatusNotImplemented, "run execution not enabled on this server")
			return
		}
		var body models.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if strings.TrimSpace(body.Request) == "" {
			writeJSONError(w, http.StatusBadRequest, "request required")
			return
		}
		res := a.runner(r.Context(), body.Request, func(ev agent.Event) {
			a.Hub.PublishJSON(ev)
		})
		run, transitions, artifacts := store.FromResult(res)
		if err := a.Store.SaveRun(r.Context(), run, transitions, artifacts); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		a.Hub.PublishJSON(map[string]any{"type": "run_update", "run_id": run.RunID})
		writeJSON(w, toDetail(run, transitions, artifacts))
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRunByID serves /api/runs/{id} and /api/runs/{id}/approve.
func (a *App) handleRunByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	runID := parts[0]

	if len(parts) >= 2 && parts[1] == "approve" {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		granted, err := a.Store.GrantApproval(r.Context(), runID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if granted {
			a.Hub.PublishJSON(map[string]any{"type": "run_update", "run_id": runID})
		}
		resp := models.ApproveResponse{OK: true, Granted: granted}
		if !granted {
			resp.Message = "run was not awaiting approval"
		}
		writeJSON(w, resp)
		return
	}

	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	run, err := a.Store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	transitions, err := a.Store.GetTransitions(r.Context(), runID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	artifacts, err := a.Store.GetArtifacts(r.Context(), runID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, toDetail(*run, transitions, artifacts))
}

func toSummary(r store.RunRecord) models.RunSummary {
	return models.RunSummary{
		RunID:            r.RunID,
		Request:          r.Request,
		FinalStage:       r.FinalStage,
		Success:          r.Success,
		RequiresApproval: r.RequiresApproval,
		Message:          r.Message,
		CreatedAt:        r.CreatedAt,
	}
}

func toSummaries(runs []store.RunRecord) []models.RunSummary {
	out := make([]models.RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, toSummary(r))
	}
	return out
}

func toDetail(r store.RunRecord, transitions []store.TransitionRecord, artifacts []store.ArtifactRecord) models.RunDetail {
	d := models.RunDetail{
		RunSummary:     toSummary(r),
		ApprovalReason: r.ApprovalReason,
		RevisionCount:  r.RevisionCount,
		TestFailures:   r.TestFailures,
		DurationMS:     r.Duration.Milliseconds(),
		Transitions:    make([]models.Transition, 0, len(transitions)),
	}
	for _, tr := range transitions {
		d.Transitions = append(d.Transitions, models.Transition{
			Seq:       tr.Seq,
			FromStage: tr.FromStage,
			ToStage:   tr.ToStage,
			At:        tr.At,
		})
	}
	if len(artifacts) > 0 {
		d.Artifacts = make(map[string]string, len(artifacts))
		for _, a := range artifacts {
			d.Artifacts[a.Stage] = a.Output
		}
	}
	return d
}

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (local tooling on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/healthz" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
