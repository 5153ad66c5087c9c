// Package reconcile keeps a category's image index in step with the files
// under its folder. A pass walks the folder tree, diffs the walked paths
// against the recorded ones, inserts what is new, deletes what is gone and
// reassigns the category's order, all inside one store transaction.
package reconcile

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banux/nxt-gallery/internal/catalog"
	"github.com/banux/nxt-gallery/internal/pathutil"
	"github.com/banux/nxt-gallery/internal/store"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_reconcile_runs_total",
		Help: "Reconciliation passes by outcome",
	}, []string{"outcome"})

	changesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_reconcile_images_total",
		Help: "Image records added or removed by reconciliation",
	}, []string{"change"})

	durationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_reconcile_duration_seconds",
		Help:    "Duration of reconciliation passes",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// Result summarizes one reconciliation pass.
type Result struct {
	CategoryID int64
	Added      int
	Removed    int
	// Total is the number of indexed images after the pass.
	Total int
}

// Engine runs reconciliation passes against a store.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Engine.
func New(s *store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  s,
		logger: logger.With(slog.String("component", "reconcile")),
		now:    time.Now,
	}
}

// Reconcile runs one pass for the category in its own transaction.
func (e *Engine) Reconcile(ctx context.Context, categoryID int64) (*Result, error) {
	var res *Result
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		cat, err := tx.CategoryByID(ctx, categoryID)
		if err != nil {
			return err
		}
		res, err = e.ReconcileTx(ctx, tx, cat)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReconcileTx runs one pass inside the caller's transaction. Any walk
// error, including a missing folder, aborts the pass so the caller's
// transaction rolls back and the index is left as it was.
func (e *Engine) ReconcileTx(ctx context.Context, tx *store.Tx, cat *catalog.Category) (*Result, error) {
	start := time.Now()
	res, err := e.reconcile(ctx, tx, cat)
	durationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		e.logger.Error("reconcile failed",
			slog.Int64("category_id", cat.ID),
			slog.String("folder", cat.FolderPath),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	runsTotal.WithLabelValues("ok").Inc()
	changesTotal.WithLabelValues("added").Add(float64(res.Added))
	changesTotal.WithLabelValues("removed").Add(float64(res.Removed))

	e.logger.Info("reconcile complete",
		slog.Int64("category_id", cat.ID),
		slog.Int("added", res.Added),
		slog.Int("removed", res.Removed),
		slog.Int("total", res.Total),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (e *Engine) reconcile(ctx context.Context, tx *store.Tx, cat *catalog.Category) (*Result, error) {
	onDisk, err := walk(ctx, cat.FolderPath)
	if err != nil {
		return nil, err
	}
	indexed, err := tx.ImagePaths(ctx, cat.ID)
	if err != nil {
		return nil, err
	}

	var toAdd []string
	for path := range onDisk {
		if _, ok := indexed[path]; !ok {
			toAdd = append(toAdd, path)
		}
	}
	var toRemove []int64
	for path, id := range indexed {
		if _, ok := onDisk[path]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	sort.Strings(toAdd)
	sort.Slice(toRemove, func(i, j int) bool { return toRemove[i] < toRemove[j] })

	res := &Result{CategoryID: cat.ID}
	if err := tx.DeleteImages(ctx, toRemove); err != nil {
		return nil, err
	}
	res.Removed = len(toRemove)

	now := e.now()
	for _, path := range toAdd {
		_, created, err := tx.InsertImage(ctx, cat.ID, filepath.Base(path), path, now)
		if err != nil {
			return nil, err
		}
		if created {
			res.Added++
		}
	}

	if err := tx.Reorder(ctx, cat.ID); err != nil {
		return nil, err
	}
	res.Total = len(indexed) - res.Removed + res.Added
	return res, nil
}

// walk returns the set of absolute paths of allowed image files under root.
// Symlinked directories are not followed.
func walk(ctx context.Context, root string) (map[string]struct{}, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, &catalog.IOError{Op: "walk", Path: root, Err: err}
	}
	// WalkDir does not descend into a symlinked root, so the resolved
	// directory is walked and paths are reported under root as stored.
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, &catalog.IOError{Op: "walk", Path: root, Err: err}
	}
	found := make(map[string]struct{})
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !pathutil.IsAllowed(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(resolved, path)
		if err != nil {
			return err
		}
		found[filepath.Join(root, rel)] = struct{}{}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
		return nil, &catalog.IOError{Op: "walk", Path: root, Err: err}
	}
	return found, nil
}
