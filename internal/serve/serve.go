// Package serve resolves requested image names to file content. Every
// failure, whether a bad name, an index miss, a missing file or a read
// error, is answered with the same fallback asset; only the status code
// tells "not found" apart from "server error".
package serve

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/text/unicode/norm"

	"github.com/banux/nxt-gallery/internal/catalog"
	"github.com/banux/nxt-gallery/internal/pathutil"
	"github.com/banux/nxt-gallery/internal/store"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gallery_serve_requests_total",
	Help: "Image serving requests by outcome",
}, []string{"outcome"})

const defaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
}

// ContentType returns the MIME type for filename's extension, or
// application/octet-stream when it is unknown.
func ContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return defaultContentType
}

// File is a resolved image ready to be written to a client.
type File struct {
	Path        string
	ContentType string
	Data        []byte
}

// Resolver maps a requested name to an indexed file.
type Resolver struct {
	store *store.Store
}

// NewResolver creates a Resolver.
func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve decodes the percent-encoded requestedName, looks up its base name
// in the index and reads the recorded file. Lookup is by filename alone, so
// when several categories hold the same name the lowest-id record wins.
//
// A *catalog.NotFoundError is returned for malformed encoding, an index
// miss, a record outside its category folder or a file missing on disk.
// Any other failure is a *catalog.IOError.
func (r *Resolver) Resolve(ctx context.Context, requestedName string) (*File, error) {
	decoded, err := url.PathUnescape(requestedName)
	if err != nil {
		return nil, catalog.ImageNotFound(requestedName)
	}
	name := pathutil.CleanFilename(decoded)
	if name == "" {
		return nil, catalog.ImageNotFound(requestedName)
	}

	img, err := r.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if !pathutil.IsContained(img.FilePath, img.CategoryFolder) {
		return nil, catalog.ImageNotFound(name)
	}

	fi, err := os.Stat(img.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, catalog.ImageNotFound(name)
	}
	if err != nil {
		return nil, &catalog.IOError{Op: "stat", Path: img.FilePath, Err: err}
	}
	if !fi.Mode().IsRegular() {
		return nil, catalog.ImageNotFound(name)
	}
	data, err := os.ReadFile(img.FilePath)
	if err != nil {
		return nil, &catalog.IOError{Op: "read", Path: img.FilePath, Err: err}
	}
	return &File{Path: img.FilePath, ContentType: ContentType(img.Filename), Data: data}, nil
}

// lookup tries name as given, then its NFC and NFD forms, so names stored
// by a filesystem that normalizes differently from the client still match.
func (r *Resolver) lookup(ctx context.Context, name string) (*catalog.Image, error) {
	tried := map[string]bool{}
	var lastErr error
	for _, candidate := range []string{name, norm.NFC.String(name), norm.NFD.String(name)} {
		if tried[candidate] {
			continue
		}
		tried[candidate] = true
		img, err := r.store.ImageByFilename(ctx, candidate)
		if err == nil {
			return img, nil
		}
		if !catalog.IsNotFound(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Asset is a fixed payload served in place of an unresolved image.
type Asset struct {
	ContentType string
	Data        []byte
}

// LoadAsset reads a fallback asset from disk.
func LoadAsset(path string) (Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Asset{}, err
	}
	return Asset{ContentType: ContentType(path), Data: data}, nil
}

// Handler serves resolved images below a URL prefix.
type Handler struct {
	resolver *Resolver
	prefix   string
	fallback Asset
	logger   *slog.Logger
}

// NewHandler returns a handler that resolves the escaped request path
// after prefix.
func NewHandler(resolver *Resolver, prefix string, fallback Asset, logger *slog.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		prefix:   prefix,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "serve")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requested := strings.TrimPrefix(r.URL.EscapedPath(), h.prefix)

	f, err := h.resolver.Resolve(r.Context(), requested)
	if err != nil {
		status := http.StatusInternalServerError
		outcome := "error"
		if catalog.IsNotFound(err) {
			status = http.StatusNotFound
			outcome = "not_found"
		} else {
			h.logger.Error("serve image failed",
				slog.String("requested", requested),
				slog.String("error", err.Error()),
			)
		}
		requestsTotal.WithLabelValues(outcome).Inc()
		h.writeFallback(w, status)
		return
	}

	requestsTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(f.Data)
	}
}

func (h *Handler) writeFallback(w http.ResponseWriter, status int) {
	ct := h.fallback.ContentType
	if ct == "" {
		ct = defaultContentType
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(h.fallback.Data)
}
