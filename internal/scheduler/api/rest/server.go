package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
	"github.com/nemanja-m/scheduler/internal/scheduler/service"
	"github.com/nemanja-m/scheduler/internal/shared/config"
	"github.com/nemanja-m/scheduler/internal/shared/logging"
)

const maxBodyBytes = 16 << 20

type API struct {
	submitter service.JobSubmitter
	logger    logging.Logger
}

func NewAPI(submitter service.JobSubmitter, logger logging.Logger) *API {
	return &API{
		submitter: submitter,
		logger:    logger,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /job", a.submitJob)
	mux.HandleFunc("POST /api/jobs", a.submitJob)
	mux.HandleFunc("GET /healthz", a.health)
}

// submitJob handles POST /job
func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	spec, err := DecodeJobSpec(r)
	if err != nil {
		a.respondError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	// a dropped client must not cut a dispatch short halfway through a role
	ctx := context.WithoutCancel(r.Context())
	result, err := a.submitter.Submit(ctx, spec)
	if err != nil {
		var perr *core.ParameterError
		switch {
		case errors.Is(err, core.ErrInvalidJob), errors.As(err, &perr):
			a.respondError(w, r, http.StatusBadRequest, "validation failed", err.Error())
		case errors.Is(err, core.ErrBrokerConnection), errors.Is(err, core.ErrQueueNotFound):
			a.respondError(w, r, http.StatusInternalServerError, "broker unavailable", err.Error())
		default:
			a.respondError(w, r, http.StatusInternalServerError, "dispatch failed", err.Error())
		}
		return
	}

	a.respondJSON(w, http.StatusCreated, toResponse(result.JobName, result.Queues, result.Published))
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("Failed to write response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, r *http.Request, statusCode int, error string, message string) {
	resp := ErrorResponse{
		Error:     error,
		Message:   message,
		Code:      statusCode,
		RequestID: RequestIDFromContext(r.Context()),
	}
	a.respondJSON(w, statusCode, resp)
}

// NewServer wires the job API, health and metrics endpoints behind the
// request id, recovery and logging middleware.
func NewServer(cfg config.HTTPConfig, submitter service.JobSubmitter, registry *prometheus.Registry, logger logging.Logger) *http.Server {
	api := NewAPI(submitter, logger)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(
		registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	))

	handler := ChainMiddleware(
		mux,
		RequestIDMiddleware,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
