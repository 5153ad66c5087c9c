package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banux/nxt-gallery/internal/catalog"
)

const categoryColumns = `id, name, folder_path, is_default`

func scanCategory(row interface{ Scan(...any) error }) (*catalog.Category, error) {
	var c catalog.Category
	var isDefault int
	if err := row.Scan(&c.ID, &c.Name, &c.FolderPath, &isDefault); err != nil {
		return nil, err
	}
	c.IsDefault = isDefault != 0
	return &c, nil
}

// ListCategories returns all categories ordered by id.
func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []catalog.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// CategoryByID returns the category with the given id or a NotFoundError.
func (s *Store) CategoryByID(ctx context.Context, id int64) (*catalog.Category, error) {
	return categoryByID(ctx, s.db, id)
}

// CategoryByID is the transactional form of Store.CategoryByID.
func (tx *Tx) CategoryByID(ctx context.Context, id int64) (*catalog.Category, error) {
	return categoryByID(ctx, tx.q, id)
}

func categoryByID(ctx context.Context, q querier, id int64) (*catalog.Category, error) {
	c, err := scanCategory(q.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.CategoryNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query category %d: %w", id, err)
	}
	return c, nil
}

// DefaultCategory returns the category marked as default, or a
// NotFoundError when bootstrap has not created it yet.
func (s *Store) DefaultCategory(ctx context.Context) (*catalog.Category, error) {
	c, err := scanCategory(s.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE is_default = 1 ORDER BY id LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &catalog.NotFoundError{Resource: "category", Key: "default"}
	}
	if err != nil {
		return nil, fmt.Errorf("query default category: %w", err)
	}
	return c, nil
}

// InsertCategory creates a category in its own transaction. See
// Tx.InsertCategory.
func (s *Store) InsertCategory(ctx context.Context, name, folderPath string) (*catalog.Category, error) {
	var c *catalog.Category
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		c, err = tx.InsertCategory(ctx, name, folderPath, false)
		return err
	})
	return c, err
}

// InsertCategory records a category and ensures its folder exists.
// folderPath is made absolute before it is stored. The row is inserted
// first so a DuplicateError (name or folder already used) leaves the
// filesystem untouched; the folder is then created with MkdirAll, and a
// failure there fails the transaction.
func (tx *Tx) InsertCategory(ctx context.Context, name, folderPath string, isDefault bool) (*catalog.Category, error) {
	name = strings.TrimSpace(name)
	folderPath = strings.TrimSpace(folderPath)
	if name == "" {
		return nil, &catalog.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if folderPath == "" {
		return nil, &catalog.ValidationError{Field: "folder_path", Message: "must not be empty"}
	}
	abs, err := filepath.Abs(folderPath)
	if err != nil {
		return nil, &catalog.ValidationError{Field: "folder_path", Message: err.Error()}
	}

	res, err := tx.q.ExecContext(ctx,
		`INSERT INTO categories (name, folder_path, is_default) VALUES (?, ?, ?)`,
		name, abs, boolToInt(isDefault))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &catalog.DuplicateError{Resource: "category", Err: err}
		}
		return nil, fmt.Errorf("insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("category id: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &catalog.IOError{Op: "mkdir", Path: abs, Err: err}
	}
	return &catalog.Category{ID: id, Name: name, FolderPath: abs, IsDefault: isDefault}, nil
}

// DeleteCategory removes a category and its image records in one
// transaction. The default category cannot be deleted. The folder on disk
// is never touched.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		c, err := tx.CategoryByID(ctx, id)
		if err != nil {
			return err
		}
		if c.IsDefault {
			return &catalog.ValidationError{Field: "category_id", Message: "the default category cannot be deleted"}
		}
		for _, stmt := range []string{
			`DELETE FROM images WHERE category_id = ?`,
			`DELETE FROM user_category_permissions WHERE category_id = ?`,
			`DELETE FROM categories WHERE id = ?`,
		} {
			if _, err := tx.q.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("delete category %d: %w", id, err)
			}
		}
		return nil
	})
}

// EnsureDefaultCategory returns the default category, creating it with
// name and folderPath when none exists. The folder is created in either
// case so a deleted directory is restored on startup.
func (s *Store) EnsureDefaultCategory(ctx context.Context, name, folderPath string) (*catalog.Category, error) {
	c, err := s.DefaultCategory(ctx)
	if err == nil {
		if err := os.MkdirAll(c.FolderPath, 0o755); err != nil {
			return nil, &catalog.IOError{Op: "mkdir", Path: c.FolderPath, Err: err}
		}
		return c, nil
	}
	if !catalog.IsNotFound(err) {
		return nil, err
	}
	err = s.WithTx(ctx, func(tx *Tx) error {
		c, err = tx.InsertCategory(ctx, name, folderPath, true)
		return err
	})
	return c, err
}
