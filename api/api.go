// Package api exposes the job hub over HTTP: a JSON REST surface under
// /api, a server-sent event stream, and the wire protocol WebSocket.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JadKHaddad-ORG/JobHub/hub"
	"github.com/JadKHaddad-ORG/JobHub/wire"
)

// TokenHeader carries the API token.
const TokenHeader = "api_key"

// maxBodyBytes bounds a submitted spec, inline inputs included.
const maxBodyBytes = 32 << 20

// API wires the HTTP handlers for a hub.
type API struct {
	hub       *hub.Hub
	auth      wire.Authenticator
	wire      *wire.Server
	logger    *slog.Logger
	keepAlive time.Duration
}

// Option configures an API.
type Option func(*API)

// WithToken requires every /api request to carry token in the api_key
// header. An empty token disables authentication.
func WithToken(token string) Option {
	return func(a *API) { a.auth = wire.NewTokenAuthenticator(token) }
}

// WithAuth sets a custom authenticator.
func WithAuth(auth wire.Authenticator) Option {
	return func(a *API) { a.auth = auth }
}

// WithLogger sets the logger for request logs and the wire server.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithKeepAlive sets the interval of SSE keep-alive comments.
func WithKeepAlive(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.keepAlive = d
		}
	}
}

// New creates an API over h.
func New(h *hub.Hub, opts ...Option) *API {
	a := &API{
		hub:       h,
		auth:      wire.NoopAuthenticator{},
		logger:    slog.Default(),
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.wire = wire.NewServer(h,
		wire.WithAuth(a.auth),
		wire.WithLogger(a.logger),
	)
	return a
}

// Wire returns the WebSocket server mounted at /api/ws.
func (a *API) Wire() *wire.Server { return a.wire }

// Close drops open WebSocket sessions. http.Server.Shutdown does not see
// hijacked connections.
func (a *API) Close() { a.wire.Close() }

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.health)

	r.Route("/api", func(r chi.Router) {
		// The WebSocket authenticates with its hello frame.
		r.Handle("/ws", a.wire)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Get("/owner", a.newOwner)
			r.Get("/stats", a.stats)
			r.Get("/events", a.events)

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", a.submitJob)
				r.Get("/", a.listJobs)
				r.Route("/{jobId}", func(r chi.Router) {
					r.Get("/", a.getJob)
					r.Put("/cancel", a.cancelJob)
					r.Get("/archive", a.archive)
					r.Get("/logs", a.logFiles)
					r.Get("/logs/{stream}", a.logs)
				})
			})
		})
	})
	return r
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.auth.Authenticate(r.Context(), r.Header.Get(TokenHeader)); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// owner returns the caller's owner id.
func owner(r *http.Request) string { return r.Header.Get(wire.OwnerHeader) }
