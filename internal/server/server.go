// Package server implements the HTTP server and routing for nxt-gallery.
package server

import (
	"io"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banux/nxt-gallery/internal/gallery"
	"github.com/banux/nxt-gallery/internal/serve"
	"github.com/banux/nxt-gallery/internal/store"
)

// DefaultMaxUploadBytes bounds an upload request body when Options does
// not set a limit.
const DefaultMaxUploadBytes = 64 << 20

// Options holds optional configuration for the Server.
type Options struct {
	// StaticFS is the filesystem containing the frontend static assets.
	// If nil, the frontend is not served.
	StaticFS fs.FS

	// Fallback is served in place of any image that cannot be resolved.
	Fallback serve.Asset

	// MaxUploadBytes limits the body of an upload request.
	MaxUploadBytes int64

	Logger *slog.Logger
}

// Server is the HTTP server for the gallery.
type Server struct {
	router   *mux.Router
	gallery  *gallery.Service
	images   *serve.Handler
	sessions *sessionStore
	opts     Options
	logger   *slog.Logger
}

// New creates and configures a new Server.
func New(svc *gallery.Service, st *store.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		router:   mux.NewRouter(),
		gallery:  svc,
		images:   serve.NewHandler(serve.NewResolver(st), gallery.UploadsURLPrefix, opts.Fallback, opts.Logger),
		sessions: newSessionStore(),
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "http")),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler, delegating to the mux router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(s.recoverer, s.requestLogger)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLoginPost).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost, http.MethodGet)

	// Public browsing API
	r.HandleFunc("/api/categories", s.handleListCategories).Methods(http.MethodGet)
	r.HandleFunc("/api/categories/{id:[0-9]+}/images", s.handleListImages).Methods(http.MethodGet)
	r.HandleFunc("/api/images/{id:[0-9]+}", s.handleGetImage).Methods(http.MethodGet)

	r.HandleFunc("/feeds/categories/{id:[0-9]+}", s.handleCategoryFeed).Methods(http.MethodGet)

	// Image files
	r.PathPrefix(gallery.UploadsURLPrefix).Handler(s.images).Methods(http.MethodGet, http.MethodHead)

	// Admin operations
	admin := r.NewRoute().Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/api/images/{id:[0-9]+}", s.handleDeleteImage).Methods(http.MethodDelete)
	admin.HandleFunc("/api/categories", s.handleAddCategory).Methods(http.MethodPost)
	admin.HandleFunc("/api/categories/{id:[0-9]+}", s.handleDeleteCategory).Methods(http.MethodDelete)
	admin.HandleFunc("/admin/add_category", s.handleAddCategory).Methods(http.MethodPost)
	admin.HandleFunc("/admin/delete_category/{id:[0-9]+}", s.handleDeleteCategory).Methods(http.MethodPost)
	admin.HandleFunc("/admin/scan_folder/{id:[0-9]+}", s.handleScanCategory).Methods(http.MethodPost)
	admin.HandleFunc("/admin/upload", s.handleUpload).Methods(http.MethodPost)

	// Frontend static assets
	if s.opts.StaticFS != nil {
		r.PathPrefix("/").Handler(http.FileServer(http.FS(s.opts.StaticFS))).Methods(http.MethodGet, http.MethodHead)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, false, "not found")
	})
}
