// Package gallery is the application service the HTTP layer calls. It
// gates mutating operations on an explicit Capability and composes the
// store, reconcile, upload and imageinfo packages into whole operations.
package gallery

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banux/nxt-gallery/internal/catalog"
	"github.com/banux/nxt-gallery/internal/imageinfo"
	"github.com/banux/nxt-gallery/internal/pathutil"
	"github.com/banux/nxt-gallery/internal/reconcile"
	"github.com/banux/nxt-gallery/internal/store"
	"github.com/banux/nxt-gallery/internal/upload"
)

// UploadsURLPrefix is the URL path under which image files are served.
const UploadsURLPrefix = "/uploads/"

// Capability is what the caller is allowed to do. It is derived by the
// caller's auth layer and passed into every mutating operation.
type Capability struct {
	Admin bool
}

// Service implements the gallery operations.
type Service struct {
	store      *store.Store
	reconciler *reconcile.Engine
	ingestor   *upload.Ingestor
	uploadsDir string
	logger     *slog.Logger
}

// New creates a Service. uploadsDir is the root under which category
// folders are created by default and against which image URLs are built.
func New(s *store.Store, uploadsDir string, logger *slog.Logger) *Service {
	if abs, err := filepath.Abs(uploadsDir); err == nil {
		uploadsDir = abs
	}
	return &Service{
		store:      s,
		reconciler: reconcile.New(s, logger),
		ingestor:   upload.New(s, logger),
		uploadsDir: uploadsDir,
		logger:     logger.With(slog.String("component", "gallery")),
	}
}

// BootstrapOptions configures Bootstrap.
type BootstrapOptions struct {
	AdminUsername   string
	AdminPassword   string
	DefaultCategory string
}

// Bootstrap seeds the admin user and the default category, then reconciles
// the default category. It is run once at startup before serving traffic.
func (s *Service) Bootstrap(ctx context.Context, opts BootstrapOptions) (*catalog.Category, error) {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return nil, &catalog.IOError{Op: "mkdir", Path: s.uploadsDir, Err: err}
	}
	if opts.AdminUsername != "" {
		if _, err := s.store.EnsureUser(ctx, opts.AdminUsername, opts.AdminPassword, store.UserTypeAdmin); err != nil {
			return nil, err
		}
	}

	name := opts.DefaultCategory
	if name == "" {
		name = "default"
	}
	cat, err := s.store.EnsureDefaultCategory(ctx, name, filepath.Join(s.uploadsDir, name))
	if err != nil {
		return nil, err
	}
	res, err := s.reconciler.Reconcile(ctx, cat.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("bootstrap complete",
		slog.String("default_category", cat.Name),
		slog.String("folder", cat.FolderPath),
		slog.Int("images", res.Total),
	)
	return cat, nil
}

// Login checks credentials and returns the capability of the user.
func (s *Service) Login(ctx context.Context, username, password string) (Capability, error) {
	u, err := s.store.Authenticate(ctx, username, password)
	if err != nil {
		return Capability{}, err
	}
	return Capability{Admin: u.UserType == store.UserTypeAdmin}, nil
}

// ListCategories returns all categories.
func (s *Service) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	return s.store.ListCategories(ctx)
}

// GetCategory returns one category.
func (s *Service) GetCategory(ctx context.Context, id int64) (*catalog.Category, error) {
	return s.store.CategoryByID(ctx, id)
}

// ImageView is an image with its public URL and on-disk details. Size,
// Width and Height are nil when the file is missing or undecodable.
type ImageView struct {
	catalog.Image
	URL    string
	Size   *int64
	Width  *int
	Height *int
}

// ImageListing is one page of ImageViews.
type ImageListing struct {
	Items      []ImageView
	Page       int
	PageSize   int
	TotalCount int
	TotalPages int
}

// ListImages returns one page of a category's images.
func (s *Service) ListImages(ctx context.Context, q catalog.ListQuery) (*ImageListing, error) {
	page, err := s.store.ListImages(ctx, q)
	if err != nil {
		return nil, err
	}
	out := &ImageListing{
		Items:      make([]ImageView, 0, len(page.Items)),
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
		TotalPages: page.TotalPages,
	}
	for _, img := range page.Items {
		out.Items = append(out.Items, s.view(img))
	}
	return out, nil
}

// GetImage returns one image with its category name.
func (s *Service) GetImage(ctx context.Context, id int64) (*ImageView, error) {
	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	v := s.view(*img)
	return &v, nil
}

func (s *Service) view(img catalog.Image) ImageView {
	v := ImageView{Image: img, URL: s.imageURL(img)}
	if info, err := imageinfo.Probe(img.FilePath); err == nil {
		size := info.Size
		v.Size = &size
		if info.HasDimensions() {
			w, h := info.Width, info.Height
			v.Width, v.Height = &w, &h
		}
	}
	return v
}

// imageURL builds the serving URL from the path relative to the uploads
// root, or from the bare filename for files stored elsewhere.
func (s *Service) imageURL(img catalog.Image) string {
	rel, err := pathutil.ToRelative(img.FilePath, s.uploadsDir)
	if err != nil || rel == "." {
		return UploadsURLPrefix + url.PathEscape(img.Filename)
	}
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return UploadsURLPrefix + strings.Join(parts, "/")
}

// AddCategory creates a category and indexes the files already in its
// folder, in one transaction. An empty folderPath places the folder under
// the uploads root, named after the category.
func (s *Service) AddCategory(ctx context.Context, c Capability, name, folderPath string) (*catalog.Category, *reconcile.Result, error) {
	if !c.Admin {
		return nil, nil, catalog.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if strings.TrimSpace(folderPath) == "" {
		if name == "" || pathutil.CleanFilename(name) != name {
			return nil, nil, &catalog.ValidationError{Field: "name", Message: "must be a plain folder name when no folder path is given"}
		}
		folderPath = filepath.Join(s.uploadsDir, name)
	}

	var cat *catalog.Category
	var res *reconcile.Result
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		if cat, err = tx.InsertCategory(ctx, name, folderPath, false); err != nil {
			return err
		}
		res, err = s.reconciler.ReconcileTx(ctx, tx, cat)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("category added",
		slog.Int64("category_id", cat.ID),
		slog.String("name", cat.Name),
		slog.String("folder", cat.FolderPath),
	)
	return cat, res, nil
}

// DeleteCategory removes a category and its image records. Files and the
// folder stay on disk.
func (s *Service) DeleteCategory(ctx context.Context, c Capability, id int64) error {
	if !c.Admin {
		return catalog.ErrUnauthorized
	}
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logger.Info("category deleted", slog.Int64("category_id", id))
	return nil
}

// ScanCategory reconciles a category with its folder.
func (s *Service) ScanCategory(ctx context.Context, c Capability, id int64) (*reconcile.Result, error) {
	if !c.Admin {
		return nil, catalog.ErrUnauthorized
	}
	return s.reconciler.Reconcile(ctx, id)
}

// Upload ingests a batch of files into a category.
func (s *Service) Upload(ctx context.Context, c Capability, categoryID int64, files []upload.IncomingFile) (*upload.Result, error) {
	if !c.Admin {
		return nil, catalog.ErrUnauthorized
	}
	if categoryID <= 0 {
		return nil, &catalog.ValidationError{Field: "category_id", Message: "a category must be selected"}
	}
	if len(files) == 0 {
		return nil, &catalog.ValidationError{Field: "images", Message: "no files provided"}
	}
	return s.ingestor.Ingest(ctx, categoryID, files)
}

// DeleteImage removes an image record, then removes its file. The file is
// only removed when it lies inside the category folder; a failed removal
// is logged and does not fail the call.
func (s *Service) DeleteImage(ctx context.Context, c Capability, id int64) (*catalog.Image, error) {
	if !c.Admin {
		return nil, catalog.ErrUnauthorized
	}
	img, err := s.store.DeleteImage(ctx, id)
	if err != nil {
		return nil, err
	}

	if !pathutil.IsContained(img.FilePath, img.CategoryFolder) {
		s.logger.Warn("image file outside category folder left on disk",
			slog.Int64("image_id", id),
			slog.String("path", img.FilePath),
		)
	} else if err := os.Remove(img.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("remove image file failed",
			slog.Int64("image_id", id),
			slog.String("path", img.FilePath),
			slog.String("error", err.Error()),
		)
	}
	return img, nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.store.Ping(ctx)
}
