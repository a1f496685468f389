package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-obo/pkg/oboerrors"
	"github.com/tendant/simple-obo/pkg/orchestration"
	"github.com/tendant/simple-obo/pkg/tokenvalidator"
)

// Handler exposes the HTTP trigger and status endpoints of the
// orchestration host
type Handler struct {
	engine        *orchestration.Engine
	validator     *tokenvalidator.Validator
	orchestration string
}

// NewHandler creates a handler that schedules the named orchestration
func NewHandler(engine *orchestration.Engine, validator *tokenvalidator.Validator, orchestrationName string) *Handler {
	return &Handler{
		engine:        engine,
		validator:     validator,
		orchestration: orchestrationName,
	}
}

// RegisterRoutes registers the trigger and status routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/Function1_HttpStart", h.Start)
	r.Post("/Function1_HttpStart", h.Start)
	r.Get("/instances/{instanceID}", h.Status)
}

// StartResponse is the 202 payload returned by the trigger: the instance id
// plus the polling handle for its status
type StartResponse struct {
	ID                string `json:"id"`
	StatusQueryGetURI string `json:"statusQueryGetUri"`
}

// StatusResponse is the instance status payload
type StatusResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RuntimeStatus string `json:"runtimeStatus"`
	Output        string `json:"output,omitempty"`
	Error         string `json:"error,omitempty"`
	CreatedAt     string `json:"createdAt"`
	LastUpdatedAt string `json:"lastUpdatedAt"`
}

// ErrorResponse is the error payload of the host endpoints
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func renderError(w http.ResponseWriter, r *http.Request, err *oboerrors.Error) {
	render.Status(r, err.HTTPStatusCode())
	render.JSON(w, r, ErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

// Start handles POST|GET /Function1_HttpStart. The caller is validated
// before any instance exists: a rejected request leaves no trace in the
// orchestration store.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	claims, err := h.validator.Validate(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		slog.Debug("Rejected orchestration trigger", "err", err)
		renderError(w, r, oboerrors.Unauthorized("missing or invalid bearer token"))
		return
	}

	// The validated assertion travels as orchestration input so activities
	// can perform their own delegation hop under the caller's identity.
	id, err := h.engine.Schedule(r.Context(), h.orchestration, claims.RawToken)
	if err != nil {
		slog.Error("Failed scheduling orchestration", "name", h.orchestration, "err", err)
		renderError(w, r, oboerrors.Internal("failed to schedule orchestration"))
		return
	}

	slog.Info("started orchestration", "instanceId", id, "sub", claims.Subject)

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, StartResponse{
		ID:                id.String(),
		StatusQueryGetURI: fmt.Sprintf("/instances/%s", id),
	})
}

// Status handles GET /instances/{instanceID}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "instanceID"))
	if err != nil {
		renderError(w, r, oboerrors.New(oboerrors.ErrCodeInvalidInput, "invalid instance id"))
		return
	}

	instance, err := h.engine.Instance(r.Context(), id)
	if err != nil {
		renderError(w, r, oboerrors.Newf(oboerrors.ErrCodeNotFound, "instance %s not found", id))
		return
	}

	render.JSON(w, r, StatusResponse{
		ID:            instance.ID.String(),
		Name:          instance.Name,
		RuntimeStatus: string(instance.Status),
		Output:        instance.Output,
		Error:         instance.Error,
		CreatedAt:     instance.CreatedAt.UTC().Format(time.RFC3339),
		LastUpdatedAt: instance.UpdatedAt.UTC().Format(time.RFC3339),
	})
}
