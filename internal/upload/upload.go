// Package upload writes client-supplied image files into a category folder
// and indexes them.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banux/nxt-gallery/internal/catalog"
	"github.com/banux/nxt-gallery/internal/pathutil"
	"github.com/banux/nxt-gallery/internal/store"
)

var filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gallery_upload_files_total",
	Help: "Uploaded files by outcome",
}, []string{"outcome"})

// Reasons reported for skipped files.
const (
	ReasonEmptyName   = "empty filename"
	ReasonNotAllowed  = "file type not allowed"
	ReasonOutsideBase = "destination outside category folder"
	ReasonWriteFailed = "write failed"
)

// IncomingFile is one file of an upload batch.
type IncomingFile struct {
	Filename string
	Content  io.Reader
}

// Skipped records a file that was not ingested.
type Skipped struct {
	Filename string
	Reason   string
}

// Result is the outcome of an upload batch.
type Result struct {
	CategoryID int64
	// Uploaded holds the final base names, possibly disambiguated.
	Uploaded []string
	Skipped  []Skipped
}

// Succeeded reports whether at least one file was ingested. A batch with no
// successes is a failed outcome even though Ingest returned no error.
func (r *Result) Succeeded() bool {
	return len(r.Uploaded) > 0
}

// Ingestor stores uploaded files and indexes them.
type Ingestor struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Ingestor.
func New(s *store.Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:  s,
		logger: logger.With(slog.String("component", "upload")),
		now:    time.Now,
	}
}

type written struct {
	name string
	path string
}

// Ingest writes each accepted file into the category folder and indexes all
// of them in one transaction followed by a single reorder. Files rejected
// by the type gate or failing to write are skipped and reported in the
// result. An unknown category fails the whole call before anything is
// written.
//
// Files are written before the index transaction. If that transaction
// fails the files remain on disk unindexed; the next reconciliation pass
// picks them up.
func (in *Ingestor) Ingest(ctx context.Context, categoryID int64, files []IncomingFile) (*Result, error) {
	cat, err := in.store.CategoryByID(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	res := &Result{CategoryID: categoryID}
	var done []written
	for _, f := range files {
		name := pathutil.CleanFilename(f.Filename)
		switch {
		case name == "":
			res.skip(f.Filename, ReasonEmptyName)
			continue
		case !pathutil.IsAllowed(name):
			res.skip(f.Filename, ReasonNotAllowed)
			continue
		case f.Content == nil:
			res.skip(f.Filename, ReasonWriteFailed)
			continue
		}

		w, reason, err := in.write(cat, name, f.Content)
		if err != nil {
			in.logger.Warn("upload file skipped",
				slog.String("filename", f.Filename),
				slog.Int64("category_id", categoryID),
				slog.String("error", err.Error()),
			)
			res.skip(f.Filename, reason)
			continue
		}
		done = append(done, w)
	}

	if len(done) > 0 {
		now := in.now()
		err := in.store.WithTx(ctx, func(tx *store.Tx) error {
			if _, err := tx.CategoryByID(ctx, categoryID); err != nil {
				return err
			}
			for _, w := range done {
				if _, _, err := tx.InsertImage(ctx, categoryID, w.name, w.path, now); err != nil {
					return err
				}
			}
			return tx.Reorder(ctx, categoryID)
		})
		if err != nil {
			filesTotal.WithLabelValues("unindexed").Add(float64(len(done)))
			return nil, fmt.Errorf("index uploaded files: %w", err)
		}
		for _, w := range done {
			res.Uploaded = append(res.Uploaded, w.name)
		}
	}

	filesTotal.WithLabelValues("uploaded").Add(float64(len(res.Uploaded)))
	filesTotal.WithLabelValues("skipped").Add(float64(len(res.Skipped)))
	in.logger.Info("upload complete",
		slog.Int64("category_id", categoryID),
		slog.Int("uploaded", len(res.Uploaded)),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

func (r *Result) skip(filename, reason string) {
	r.Skipped = append(r.Skipped, Skipped{Filename: filename, Reason: reason})
}

// write reserves a free name in the category folder, streams content to a
// temporary file beside it and renames the temporary file over the
// reservation. On failure both files are removed.
func (in *Ingestor) write(cat *catalog.Category, name string, content io.Reader) (written, string, error) {
	final, dest, err := pathutil.ReserveName(cat.FolderPath, name)
	if err != nil {
		return written{}, ReasonWriteFailed, &catalog.IOError{Op: "reserve", Path: filepath.Join(cat.FolderPath, name), Err: err}
	}
	if !pathutil.IsContained(dest, cat.FolderPath) {
		os.Remove(dest)
		return written{}, ReasonOutsideBase, &catalog.PathOutsideBaseError{Path: dest, Base: cat.FolderPath}
	}

	tmp := filepath.Join(cat.FolderPath, ".upload-"+uuid.NewString()+".tmp")
	if err := copyTo(tmp, content); err != nil {
		os.Remove(tmp)
		os.Remove(dest)
		return written{}, ReasonWriteFailed, &catalog.IOError{Op: "write", Path: dest, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		os.Remove(dest)
		return written{}, ReasonWriteFailed, &catalog.IOError{Op: "rename", Path: dest, Err: err}
	}
	return written{name: final, path: dest}, "", nil
}

func copyTo(path string, content io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
