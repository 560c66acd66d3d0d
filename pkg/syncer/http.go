package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/reviewpulse/platform/pkg/alerts"
	"github.com/reviewpulse/platform/pkg/common/logger"
	"github.com/reviewpulse/platform/pkg/jobs"
	"github.com/reviewpulse/platform/pkg/provider"
	"github.com/reviewpulse/platform/pkg/reviews"
	"github.com/reviewpulse/platform/pkg/status"
)

// errorInfo and apiResponse form the envelope every trigger response
// uses; requestId correlates logs with responses.
type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	OK        bool        `json:"ok"`
	RequestID string      `json:"requestId"`
	Error     *errorInfo  `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

type jobQueue interface {
	Enqueue(ctx context.Context, accountID, jobType string, payload map[string]interface{}, runAt time.Time) (*jobs.JobModel, error)
}

type batchProcessor interface {
	ProcessBatch(ctx context.Context, maxJobs int) (jobs.BatchResult, error)
}

type statusReader interface {
	ImportStatuses(ctx context.Context, accountID string) ([]status.ImportStatusModel, error)
	RecentRuns(ctx context.Context, accountID string, limit int) ([]status.SyncRunModel, error)
}

type alertReader interface {
	ForAccount(ctx context.Context, accountID string, limit int) ([]alerts.AlertModel, error)
}

// HTTPHandler exposes the sync triggers. All routes require the shared
// secret; scheduled infrastructure and the dashboard backend are the
// only intended callers.
type HTTPHandler struct {
	service      *Service
	processor    batchProcessor
	queue        jobQueue
	statuses     statusReader
	alerts       alertReader
	secret       string
	maxBody      int64
	jobBatchSize int
}

func NewHTTPHandler(service *Service, processor batchProcessor, queue jobQueue, statuses statusReader, alertStore alertReader, secret string, maxBody int64, jobBatchSize int) *HTTPHandler {
	if jobBatchSize <= 0 {
		jobBatchSize = 10
	}
	return &HTTPHandler{
		service:      service,
		processor:    processor,
		queue:        queue,
		statuses:     statuses,
		alerts:       alertStore,
		secret:       secret,
		maxBody:      maxBody,
		jobBatchSize: jobBatchSize,
	}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.Use(h.authenticate)
	router.HandleFunc("/sync/run", h.handleRunBatch).Methods(http.MethodPost)
	router.HandleFunc("/sync/account", h.handleSyncAccount).Methods(http.MethodPost)
	router.HandleFunc("/sync/location", h.handleSyncLocation).Methods(http.MethodPost)
	router.HandleFunc("/sync/enqueue", h.handleEnqueue).Methods(http.MethodPost)
	router.HandleFunc("/sync/status/{accountID}", h.handleImportStatus).Methods(http.MethodGet)
	router.HandleFunc("/sync/runs/{accountID}", h.handleRuns).Methods(http.MethodGet)
	router.HandleFunc("/sync/alerts/{accountID}", h.handleAlerts).Methods(http.MethodGet)
}

// authenticate checks the shared secret by exact string match. An
// unconfigured secret rejects everything rather than opening the
// triggers to the world.
func (h *HTTPHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.secret == "" || r.Header.Get("X-Sync-Secret") != h.secret {
			writeError(w, requestID(r), http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid sync secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type triggerRequest struct {
	AccountID  string `json:"accountId"`
	LocationID string `json:"locationId,omitempty"`
	MaxJobs    int    `json:"maxJobs,omitempty"`
	DryRun     bool   `json:"dryRun,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, into *triggerRequest) bool {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, requestID(r), http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return false
	}
	return true
}

func (h *HTTPHandler) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	req := triggerRequest{}
	if !h.decode(w, r, &req) {
		return
	}
	maxJobs := req.MaxJobs
	if maxJobs <= 0 {
		maxJobs = h.jobBatchSize
	}

	result, err := h.processor.ProcessBatch(r.Context(), maxJobs)
	if err != nil {
		logger.Log.WithError(err).WithField("request_id", requestID(r)).Error("job batch failed")
		writeError(w, requestID(r), http.StatusInternalServerError, "BATCH_FAILED", "job batch processing failed")
		return
	}
	writeOK(w, requestID(r), result)
}

func (h *HTTPHandler) handleSyncAccount(w http.ResponseWriter, r *http.Request) {
	req := triggerRequest{}
	if !h.decode(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		writeError(w, requestID(r), http.StatusBadRequest, "BAD_REQUEST", "accountId is required")
		return
	}

	result, err := h.service.SyncAccount(r.Context(), req.AccountID, Options{DryRun: req.DryRun, Force: req.Force})
	if err != nil {
		h.writeSyncError(w, r, err)
		return
	}
	writeOK(w, requestID(r), result)
}

func (h *HTTPHandler) handleSyncLocation(w http.ResponseWriter, r *http.Request) {
	req := triggerRequest{}
	if !h.decode(w, r, &req) {
		return
	}
	if req.AccountID == "" || req.LocationID == "" {
		writeError(w, requestID(r), http.StatusBadRequest, "BAD_REQUEST", "accountId and locationId are required")
		return
	}

	outcome, err := h.service.SyncLocationByID(r.Context(), req.AccountID, req.LocationID, Options{DryRun: req.DryRun, Force: req.Force})
	if err != nil {
		h.writeSyncError(w, r, err)
		return
	}
	writeOK(w, requestID(r), outcome)
}

func (h *HTTPHandler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	req := triggerRequest{}
	if !h.decode(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		writeError(w, requestID(r), http.StatusBadRequest, "BAD_REQUEST", "accountId is required")
		return
	}

	job, err := h.queue.Enqueue(r.Context(), req.AccountID, jobs.TypeAccountSync, nil, time.Now().UTC())
	if err != nil {
		logger.Log.WithError(err).WithField("request_id", requestID(r)).Error("enqueue failed")
		writeError(w, requestID(r), http.StatusInternalServerError, "ENQUEUE_FAILED", "could not enqueue sync job")
		return
	}
	writeOK(w, requestID(r), map[string]interface{}{"jobId": job.ID, "status": job.Status})
}

func (h *HTTPHandler) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountID"]
	statuses, err := h.statuses.ImportStatuses(r.Context(), accountID)
	if err != nil {
		logger.Log.WithError(err).WithField("request_id", requestID(r)).Error("status lookup failed")
		writeError(w, requestID(r), http.StatusInternalServerError, "INTERNAL", "could not load import statuses")
		return
	}
	writeOK(w, requestID(r), statuses)
}

func (h *HTTPHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountID"]
	runs, err := h.statuses.RecentRuns(r.Context(), accountID, 50)
	if err != nil {
		logger.Log.WithError(err).WithField("request_id", requestID(r)).Error("run lookup failed")
		writeError(w, requestID(r), http.StatusInternalServerError, "INTERNAL", "could not load sync runs")
		return
	}
	writeOK(w, requestID(r), runs)
}

func (h *HTTPHandler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountID"]
	rows, err := h.alerts.ForAccount(r.Context(), accountID, 50)
	if err != nil {
		logger.Log.WithError(err).WithField("request_id", requestID(r)).Error("alert lookup failed")
		writeError(w, requestID(r), http.StatusInternalServerError, "INTERNAL", "could not load alerts")
		return
	}
	writeOK(w, requestID(r), rows)
}

// writeSyncError maps the pipeline's error taxonomy onto response
// codes.
func (h *HTTPHandler) writeSyncError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := requestID(r)
	switch {
	case errors.Is(err, reviews.ErrConnectionNotFound):
		writeError(w, reqID, http.StatusNotFound, "CONNECTION_NOT_FOUND", "no provider connection for account")
	case errors.Is(err, reviews.ErrLocationNotFound):
		writeError(w, reqID, http.StatusNotFound, "LOCATION_NOT_FOUND", "location not found")
	case errors.Is(err, provider.ErrReauthRequired):
		writeError(w, reqID, http.StatusConflict, "REAUTH_REQUIRED", "account must reconnect the review provider")
	case errors.Is(err, provider.ErrTransientAuth):
		writeError(w, reqID, http.StatusBadGateway, "AUTH_UNAVAILABLE", "token refresh failed, retry later")
	default:
		logger.Log.WithError(err).WithField("request_id", reqID).Error("sync failed")
		writeError(w, reqID, http.StatusInternalServerError, "INTERNAL", "sync failed")
	}
}

func writeOK(w http.ResponseWriter, reqID string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{OK: true, RequestID: reqID, Data: data})
}

func writeError(w http.ResponseWriter, reqID string, httpStatus int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(apiResponse{
		OK:        false,
		RequestID: reqID,
		Error:     &errorInfo{Code: code, Message: message},
	})
}
