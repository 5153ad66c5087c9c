package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banux/nxt-gallery/internal/catalog"
)

const imageColumns = `i.id, i.filename, i.filepath, i.category_id, c.name, c.folder_path, i.upload_time, i.sort_index`

const imageFrom = ` FROM images i JOIN categories c ON c.id = i.category_id`

func scanImage(row interface{ Scan(...any) error }) (*catalog.Image, error) {
	var img catalog.Image
	var uploaded int64
	var sortIndex sql.NullInt64
	if err := row.Scan(&img.ID, &img.Filename, &img.FilePath, &img.CategoryID,
		&img.CategoryName, &img.CategoryFolder, &uploaded, &sortIndex); err != nil {
		return nil, err
	}
	img.UploadTime = time.UnixMilli(uploaded).UTC()
	if sortIndex.Valid {
		img.SortIndex = int(sortIndex.Int64)
	}
	return &img, nil
}

// ListImages returns one page of a category's images ordered by sort
// index in the requested direction. Search matches filename substrings,
// ignoring ASCII case. A NotFoundError is returned for unknown categories.
func (s *Store) ListImages(ctx context.Context, q catalog.ListQuery) (*catalog.ImagePage, error) {
	q = q.Normalize()
	var page *catalog.ImagePage
	err := s.readSnapshot(ctx, func(db querier) error {
		var err error
		page, err = listImages(ctx, db, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// listImages reads the count and the page through db. Callers run it in one
// snapshot so TotalCount agrees with Items.
func listImages(ctx context.Context, db querier, q catalog.ListQuery) (*catalog.ImagePage, error) {
	if _, err := categoryByID(ctx, db, q.CategoryID); err != nil {
		return nil, err
	}

	where := ` WHERE i.category_id = ? AND instr(LOWER(i.filename), LOWER(?)) > 0`
	args := []any{q.CategoryID, q.Search}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*)`+imageFrom+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count images: %w", err)
	}

	order := ` ORDER BY i.sort_index DESC, i.id DESC`
	if q.Sort == catalog.SortAsc {
		order = ` ORDER BY i.sort_index ASC, i.id ASC`
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+imageColumns+imageFrom+where+order+` LIMIT ? OFFSET ?`,
		append(args, q.PageSize, q.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	page := &catalog.ImagePage{
		Items:      []catalog.Image{},
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalCount: total,
		TotalPages: catalog.TotalPages(total, q.PageSize),
	}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		page.Items = append(page.Items, *img)
	}
	return page, rows.Err()
}

// GetImage returns the image with the given id, joined with its category.
func (s *Store) GetImage(ctx context.Context, id int64) (*catalog.Image, error) {
	img, err := scanImage(s.db.QueryRowContext(ctx, `SELECT `+imageColumns+imageFrom+` WHERE i.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ImageNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query image %d: %w", id, err)
	}
	return img, nil
}

// ImageByFilename returns the lowest-id image whose base name equals
// filename. Filenames are not unique across categories; callers that need
// an unambiguous reference should use GetImage.
func (s *Store) ImageByFilename(ctx context.Context, filename string) (*catalog.Image, error) {
	img, err := scanImage(s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+imageFrom+` WHERE i.filename = ? ORDER BY i.id LIMIT 1`, filename))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ImageNotFound(filename)
	}
	if err != nil {
		return nil, fmt.Errorf("query image %q: %w", filename, err)
	}
	return img, nil
}

// InsertImage records a single image and reassigns the category's order
// in one transaction.
func (s *Store) InsertImage(ctx context.Context, categoryID int64, filename, path string, uploaded time.Time) (*catalog.Image, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.CategoryByID(ctx, categoryID); err != nil {
			return err
		}
		var err error
		if id, _, err = tx.InsertImage(ctx, categoryID, filename, path, uploaded); err != nil {
			return err
		}
		return tx.Reorder(ctx, categoryID)
	})
	if err != nil {
		return nil, err
	}
	return s.GetImage(ctx, id)
}

// DeleteImage removes the image record and reassigns the category's order
// in one transaction. The removed record is returned so the caller can
// clean up the file; the file itself is not touched here.
func (s *Store) DeleteImage(ctx context.Context, id int64) (*catalog.Image, error) {
	var img *catalog.Image
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		img, err = scanImage(tx.q.QueryRowContext(ctx, `SELECT `+imageColumns+imageFrom+` WHERE i.id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.ImageNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("query image %d: %w", id, err)
		}
		if err := tx.DeleteImages(ctx, []int64{id}); err != nil {
			return err
		}
		return tx.Reorder(ctx, img.CategoryID)
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// ImagePaths returns the recorded filepath of every image in the category,
// mapped to its id.
func (tx *Tx) ImagePaths(ctx context.Context, categoryID int64) (map[string]int64, error) {
	rows, err := tx.q.QueryContext(ctx, `SELECT id, filepath FROM images WHERE category_id = ?`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list image paths: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("scan image path: %w", err)
		}
		out[path] = id
	}
	return out, rows.Err()
}

// InsertImage adds an image record unless one already exists for the same
// category and filepath. It returns the id of the row for that path and
// whether this call created it. Ordering is not updated; call Reorder.
func (tx *Tx) InsertImage(ctx context.Context, categoryID int64, filename, path string, uploaded time.Time) (int64, bool, error) {
	res, err := tx.q.ExecContext(ctx,
		`INSERT INTO images (filename, filepath, category_id, upload_time)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (category_id, filepath) DO NOTHING`,
		filename, path, categoryID, uploaded.UnixMilli())
	if err != nil {
		return 0, false, fmt.Errorf("insert image %q: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert image %q: %w", path, err)
	}

	var id int64
	if err := tx.q.QueryRowContext(ctx,
		`SELECT id FROM images WHERE category_id = ? AND filepath = ?`, categoryID, path).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("query image id %q: %w", path, err)
	}
	return id, n > 0, nil
}

// DeleteImages removes the image records with the given ids.
func (tx *Tx) DeleteImages(ctx context.Context, ids []int64) error {
	for len(ids) > 0 {
		batch := ids[:min(len(ids), deleteBatchSize)]
		ids = ids[len(batch):]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM images WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("delete images: %w", err)
		}
	}
	return nil
}

// deleteBatchSize keeps IN lists well under SQLite's bound-parameter limit.
const deleteBatchSize = 500

// Reorder recomputes sort_index for every image in the category as a dense
// 1-based rank: newest upload_time first, ties broken by id ascending.
func (tx *Tx) Reorder(ctx context.Context, categoryID int64) error {
	_, err := tx.q.ExecContext(ctx, `
		UPDATE images SET sort_index = ranked.rn
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY upload_time DESC, id ASC) AS rn
			FROM images WHERE category_id = ?
		) AS ranked
		WHERE images.id = ranked.id`, categoryID)
	if err != nil {
		return fmt.Errorf("reorder category %d: %w", categoryID, err)
	}
	return nil
}
