package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	CORSOrigins  []string
	MaxBodyBytes int64
	// Gatherer serves /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Shutdown is canceled when the server stops. Running workers are
	// aborted then.
	Shutdown context.Context
	Logger   *zap.Logger
}

// NewRouter mounts the webhook, health and metrics endpoints.
func NewRouter(g *Gateway, opts RouterOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	webhook := func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, opts.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, Response{Status: StatusError, Message: "request body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, Response{Status: StatusError, Message: "read request body"})
			return
		}

		// Client disconnects do not abort a running worker; the worker
		// timeout and server shutdown do.
		ctx, cancel := context.WithCancel(context.WithoutCancel(req.Context()))
		defer cancel()
		if opts.Shutdown != nil {
			stop := context.AfterFunc(opts.Shutdown, cancel)
			defer stop()
		}
		resp := g.Handle(ctx, body)
		log.Debug("dispatch: webhook handled",
			zap.String("request_id", middleware.GetReqID(req.Context())),
			zap.Int("status", resp.HTTPStatus),
		)
		writeJSON(w, resp.HTTPStatus, resp)
	}
	r.Post("/webhook", webhook)
	r.Post("/", webhook)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
