// Package server implements the Sealbox HTTP server and its route multiplexer.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sealbox/sealbox/internal/auth"
	"github.com/sealbox/sealbox/internal/blob"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/handlers"
	"github.com/sealbox/sealbox/internal/session"
	"github.com/sealbox/sealbox/internal/signing"
)

// Server is the Sealbox HTTP server. It routes resumable upload and blob
// retrieval requests to their handlers.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	sessions   *session.Store
	blobs      *blob.Store
	signer     *signing.Signer
	verifier   auth.Verifier
	uploads    *handlers.UploadHandler
	blobH      *handlers.BlobHandler
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithSessionStore sets the upload session store for the server.
func WithSessionStore(sessions *session.Store) ServerOption {
	return func(s *Server) {
		s.sessions = sessions
	}
}

// WithBlobStore sets the permanent blob store for the server.
func WithBlobStore(blobs *blob.Store) ServerOption {
	return func(s *Server) {
		s.blobs = blobs
	}
}

// WithSigner sets the blob handle signer for the server.
func WithSigner(signer *signing.Signer) ServerOption {
	return func(s *Server) {
		s.signer = signer
	}
}

// WithVerifier sets the bearer token verifier. When unset the upload
// endpoints are served without authentication.
func WithVerifier(v auth.Verifier) ServerOption {
	return func(s *Server) {
		s.verifier = v
	}
}

// New creates a new Server with the given configuration and wires up all
// routes on the Chi router with Huma API. Use ServerOption functions to
// provide the session store, blob store, signer and verifier.
func New(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("Sealbox Upload API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.uploads = handlers.NewUploadHandler(s.sessions, s.blobs, s.signer, cfg.Uploads.MaxUploadLength)
	s.blobH = handlers.NewBlobHandler(s.blobs, s.signer)

	s.registerRoutes()
	return s, nil
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
// Middleware chain: metricsMiddleware -> commonHeaders -> router.
func (s *Server) ListenAndServe(addr string) error {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully assembled handler, including middleware. Used by
// tests that drive the server through httptest.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// registerRoutes configures all routes on the Chi router. When the upload
// feature is disabled no upload or blob routes are registered at all, so
// every one of those paths falls through to Chi's 404.
func (s *Server) registerRoutes() {
	// Register /health via Huma for auto-OpenAPI documentation.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the Sealbox server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	if !s.cfg.Uploads.Enabled {
		return
	}

	s.router.Group(func(r chi.Router) {
		if s.verifier != nil {
			r.Use(auth.Middleware(s.verifier))
		}
		r.Post("/uploads", s.uploads.CreateUpload)
		r.Head("/uploads/{id}", s.uploads.HeadUpload)
		r.Patch("/uploads/{id}", s.uploads.PatchUpload)
	})

	// Blob retrieval authenticates with the signed handle itself; the
	// bearer token middleware is not applied here.
	s.router.Get("/blobs/{handle}", s.blobH.GetBlob)
}
