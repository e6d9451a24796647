package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/audit"
	"github.com/reelforge/reelforge/pkg/budget"
	"github.com/reelforge/reelforge/pkg/generate"
	"github.com/reelforge/reelforge/pkg/jobs"
	"github.com/reelforge/reelforge/pkg/ledger"
	"github.com/reelforge/reelforge/pkg/models"
	"github.com/reelforge/reelforge/pkg/provider"
	"github.com/reelforge/reelforge/pkg/reconcile"
)

// rejection is the 402 body for refused admissions.
type rejection struct {
	Error     errorBody        `json:"error"`
	Admission models.Admission `json:"admission"`
}

func writeRejection(w http.ResponseWriter, adm models.Admission, err error) {
	code := codeInsufficientBudget
	if errors.Is(err, budget.ErrBudgetExceeded) {
		code = codeBudgetExceeded
	}
	writeJSON(w, http.StatusPaymentRequired, rejection{
		Error:     errorBody{Message: err.Error(), Type: "reelforge_error", Code: code},
		Admission: adm,
	})
}

func isRejection(err error) bool {
	return errors.Is(err, budget.ErrBudgetExceeded) || errors.Is(err, budget.ErrInsufficientBudget)
}

func (s *Server) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.gate.Evaluator().Status(r.Context())
	if err != nil {
		s.logger.Error("budget status failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, codeInternal, "budget status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type checkRequest struct {
	EstimatedCost float64 `json:"estimated_cost"`
}

func (s *Server) handleBudgetCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	if req.EstimatedCost < 0 {
		writeJSONError(w, http.StatusBadRequest, codeBadRequest, "estimated_cost must be >= 0")
		return
	}

	adm, err := s.gate.Check(r.Context(), req.EstimatedCost)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, adm)
	case isRejection(err):
		writeRejection(w, adm, err)
	default:
		s.logger.Error("admission check failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, codeInternal, "budget check failed")
	}
}

type costRequest struct {
	Service     string  `json:"service"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	SessionID   string  `json:"session_id"`
	JobID       string  `json:"job_id"`
}

func (s *Server) handleRecordCost(w http.ResponseWriter, r *http.Request) {
	var req costRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	svc, err := models.ParseService(req.Service)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	entry := models.CostEntry{
		Service:     svc,
		Amount:      req.Amount,
		Description: req.Description,
		SessionID:   req.SessionID,
		JobID:       req.JobID,
	}
	id, err := s.ledger.Record(r.Context(), entry)
	if err != nil {
		if errors.Is(err, ledger.ErrPersistence) {
			s.logger.Error("cost record failed", zap.String("service", string(svc)), zap.Float64("amount", req.Amount), zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, codeInternal, "cost record failed")
			return
		}
		writeJSONError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	s.metrics.ObserveCost(svc, req.Amount)
	entry.ID = id
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleListCosts(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSONError(w, http.StatusBadRequest, codeBadRequest, "window must be a positive duration such as 1h or 24h")
			return
		}
		window = d
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.ledger.Query(r.Context(), window, limit)
	if err != nil {
		s.logger.Error("cost query failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, codeInternal, "cost query failed")
		return
	}
	if entries == nil {
		entries = []models.CostEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"window": window.String(), "entries": entries})
}

func (s *Server) handleSubmitVideo(w http.ResponseWriter, r *http.Request) {
	var in generate.SubmitInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeJSONError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	job, err := s.submitter.Submit(r.Context(), in)
	if err != nil {
		var rej *generate.RejectedError
		switch {
		case errors.As(err, &rej):
			writeRejection(w, rej.Admission, rej.Err)
		case errors.Is(err, generate.ErrInvalidInput):
			writeJSONError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		case errors.Is(err, provider.ErrUnavailable):
			s.logger.Warn("provider submit failed", zap.Error(err))
			writeJSONError(w, http.StatusBadGateway, codeProviderError, "video provider unavailable")
		default:
			s.logger.Error("submit failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, codeInternal, "submit failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	opts := jobs.ListOpts{
		Status:    models.JobStatus(r.URL.Query().Get("status")),
		SessionID: r.URL.Query().Get("session_id"),
		Limit:     limit,
	}
	if opts.Status != "" && !opts.Status.Valid() {
		writeJSONError(w, http.StatusBadRequest, codeBadRequest, "unknown status")
		return
	}
	list, err := s.jobs.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, codeInternal, "list jobs failed")
		return
	}
	if list == nil {
		list = []models.VideoJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// handleGetVideo checks existence and freshness before reconciling, then
// signs durable URLs of completed jobs.
func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.lookupFresh(w, r, id) {
		return
	}

	job, err := s.reconciler.Reconcile(r.Context(), id)
	if err != nil {
		s.writeJobError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, s.signed(r, job))
}

func (s *Server) handleCancelVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.lookupFresh(w, r, id) {
		return
	}

	job, err := s.reconciler.Cancel(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, job)
	case errors.Is(err, reconcile.ErrCannotCancel):
		writeJSONError(w, http.StatusConflict, codeCannotCancel, err.Error())
	case errors.Is(err, reconcile.ErrNotCancelled):
		writeJSON(w, http.StatusAccepted, map[string]any{
			"error": errorBody{Message: err.Error(), Type: "reelforge_error", Code: codeNotCancelled},
			"job":   job,
		})
	default:
		s.writeJobError(w, id, err)
	}
}

func (s *Server) handleVideoEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.jobs.Get(r.Context(), id); err != nil {
		s.writeJobError(w, id, err)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	events, err := s.journal.Query(r.Context(), audit.QueryOpts{JobID: id, Limit: limit})
	if err != nil {
		s.logger.Error("transition query failed", zap.String("job_id", id), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, codeInternal, "event query failed")
		return
	}
	if events == nil {
		events = []models.JobTransition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "events": events})
}

// lookupFresh writes 404 or 410 and returns false when the job is missing
// or past the expiry window.
func (s *Server) lookupFresh(w http.ResponseWriter, r *http.Request, id string) bool {
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeJobError(w, id, err)
		return false
	}
	if err := jobs.CheckFresh(job, s.clock.Now(), s.cfg.Jobs.Expiry); err != nil {
		writeJSONError(w, http.StatusGone, codeExpired, err.Error())
		return false
	}
	return true
}

func (s *Server) writeJobError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, codeNotFound, "job not found")
	case errors.Is(err, provider.ErrUnavailable):
		s.logger.Warn("provider call failed", zap.String("job_id", id), zap.Error(err))
		writeJSONError(w, http.StatusBadGateway, codeProviderError, "video provider unavailable")
	default:
		s.logger.Error("job operation failed", zap.String("job_id", id), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, codeInternal, "job operation failed")
	}
}

// signed returns a copy of job whose durable URLs are time-limited.
func (s *Server) signed(r *http.Request, job *models.VideoJob) *models.VideoJob {
	if s.store == nil || job.Status != models.JobCompleted {
		return job
	}
	out := *job
	ttl := s.cfg.Storage.SignedURLTTL
	for _, u := range []*string{&out.VideoURL, &out.ThumbnailURL} {
		if *u == "" || !s.store.Owns(*u) {
			continue
		}
		signedURL, err := s.store.SignURL(r.Context(), *u, ttl)
		if err != nil {
			s.logger.Warn("url signing failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		*u = signedURL
	}
	return &out
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeJSONError(w, http.StatusBadRequest, codeBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
