package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/syncbox/internal/telemetry"
)

// NewRouter mounts the API behind the request id, logging and telemetry
// middleware and adds the operational endpoints.
func NewRouter(h *TransferHandler, tel *telemetry.Telemetry) http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", h.Routes())

	return r
}
