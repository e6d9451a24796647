// Package server exposes budget, cost and video job operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/audit"
	"github.com/reelforge/reelforge/pkg/budget"
	"github.com/reelforge/reelforge/pkg/clock"
	"github.com/reelforge/reelforge/pkg/config"
	"github.com/reelforge/reelforge/pkg/generate"
	"github.com/reelforge/reelforge/pkg/jobs"
	"github.com/reelforge/reelforge/pkg/ledger"
	"github.com/reelforge/reelforge/pkg/logging"
	"github.com/reelforge/reelforge/pkg/metrics"
	"github.com/reelforge/reelforge/pkg/reconcile"
	"github.com/reelforge/reelforge/pkg/storage"
)

// Deps are the components the server routes to.
type Deps struct {
	Config     *config.Config
	Ledger     ledger.Ledger
	Jobs       jobs.Store
	Gate       *budget.Gate
	Submitter  *generate.Submitter
	Reconciler *reconcile.Reconciler
	Store      storage.ObjectStore
	Journal    *audit.Logger
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Clock      clock.Clock
	Logger     *zap.Logger
}

// Server is the reelforge HTTP API.
type Server struct {
	cfg        *config.Config
	ledger     ledger.Ledger
	jobs       jobs.Store
	gate       *budget.Gate
	submitter  *generate.Submitter
	reconciler *reconcile.Reconciler
	store      storage.ObjectStore
	journal    *audit.Logger
	metrics    *metrics.Metrics
	clock      clock.Clock
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a Server wired with all dependencies.
func New(d Deps) *Server {
	s := &Server{
		cfg:        d.Config,
		ledger:     d.Ledger,
		jobs:       d.Jobs,
		gate:       d.Gate,
		submitter:  d.Submitter,
		reconciler: d.Reconciler,
		store:      d.Store,
		journal:    d.Journal,
		metrics:    d.Metrics,
		clock:      clock.OrReal(d.Clock),
		logger:     logging.OrNop(d.Logger),
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /v1/budget", s.handleBudgetStatus)
	s.mux.HandleFunc("POST /v1/budget/check", s.handleBudgetCheck)
	s.mux.HandleFunc("POST /v1/costs", s.handleRecordCost)
	s.mux.HandleFunc("GET /v1/costs", s.handleListCosts)
	s.mux.HandleFunc("POST /v1/videos", s.handleSubmitVideo)
	s.mux.HandleFunc("GET /v1/videos", s.handleListVideos)
	s.mux.HandleFunc("GET /v1/videos/{id}", s.handleGetVideo)
	s.mux.HandleFunc("POST /v1/videos/{id}/cancel", s.handleCancelVideo)
	s.mux.HandleFunc("GET /v1/videos/{id}/events", s.handleVideoEvents)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if d.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if local, ok := d.Store.(*storage.LocalStore); ok {
		s.mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(local.Dir()))))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", rec.status),
		zap.Duration("duration", time.Since(start)))
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("reelforge listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Error codes returned in the error envelope.
const (
	codeBadRequest         = "BAD_REQUEST"
	codeBudgetExceeded     = "BUDGET_EXCEEDED"
	codeInsufficientBudget = "INSUFFICIENT_BUDGET"
	codeNotFound           = "NOT_FOUND"
	codeExpired            = "EXPIRED"
	codeCannotCancel       = "CANNOT_CANCEL"
	codeNotCancelled       = "NOT_CANCELLED"
	codeProviderError      = "PROVIDER_ERROR"
	codeInternal           = "INTERNAL"
)

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Message: message, Type: "reelforge_error", Code: code},
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
