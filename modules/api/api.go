// Package api is the HTTP binding of the control plane. Handlers delegate to
// the gateway client; every error leaves as the common envelope.
package api

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/eventstack/maestro/pkg/teststate"
)

// control is the slice of the gateway client the handlers need.
type control interface {
	InitializeTest(ctx context.Context) (string, error)
	StartTest(ctx context.Context, testID, bucketRef, testType string, tags []string) (bool, string, error)
	GetStatus(ctx context.Context, testID string) (teststate.Status, error)
	GetQueueStatus(ctx context.Context, testID string) (teststate.QueueStatus, error)
	CancelTest(ctx context.Context, testID string) (bool, string, error)
	Health(ctx context.Context) error
}

type API struct {
	client control
	logger log.Logger
}

func New(client control, logger log.Logger) *API {
	return &API{client: client, logger: log.With(logger, "component", "api")}
}

// RegisterRoutes mounts the control-plane surface on the router.
func (a *API) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/tests", a.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/tests/{testId}/start", a.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/tests/{testId}/cancel", a.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/tests/{testId}", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/queue", a.handleQueueStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/health", a.handleHealth).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusNotFound, "not_found", "no such route", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := a.client.InitializeTest(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"testId":  id,
		"message": "test submitted",
	})
}

type startRequest struct {
	BucketRef string   `json:"bucketRef"`
	TestType  string   `json:"testType,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "bad_request", "malformed request body", err.Error())
		return
	}
	if req.BucketRef == "" {
		writeEnvelope(w, http.StatusBadRequest, "validation_error", "bucketRef is required", nil)
		return
	}

	testID := mux.Vars(r)["testId"]
	accepted, reason, err := a.client.StartTest(r.Context(), testID, req.BucketRef, req.TestType, req.Tags)
	if err != nil {
		a.writeError(w, err)
		return
	}

	message := "test accepted"
	if reason != "" {
		message = reason
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"testId":   testID,
		"accepted": accepted,
		"testType": req.TestType,
		"message":  message,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.client.GetStatus(r.Context(), mux.Vars(r)["testId"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	qs, err := a.client.GetQueueStatus(r.Context(), r.URL.Query().Get("testId"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	testID := mux.Vars(r)["testId"]
	cancelled, reason, err := a.client.CancelTest(r.Context(), testID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	resp := map[string]any{
		"testId":    testID,
		"cancelled": cancelled,
	}
	if reason != "" {
		resp["message"] = reason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.client.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":       "unhealthy",
			"orchestrator": "unavailable",
			"error":        err.Error(),
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"orchestrator": "running",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		level.Error(a.logger).Log("msg", "request failed", "err", err)
	}
	writeEnvelope(w, status, kind, err.Error(), nil)
}

// requireJSON enforces the content type on requests that carry a body.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		writeEnvelope(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json", nil)
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil || mt != "application/json" {
		writeEnvelope(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json", nil)
		return false
	}
	return true
}

func writeEnvelope(w http.ResponseWriter, status int, kind, message string, details any) {
	body := map[string]any{
		"error":     kind,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
