// Package catalog provides the image gallery's core data types.
// Categories own images; both are persisted by the store package and
// manipulated by the reconcile, upload and serve packages.
package catalog

import (
	"time"
)

// Category is a named grouping of images backed by one folder on disk.
type Category struct {
	// ID is the database identifier.
	ID int64

	// Name is the unique display name.
	Name string

	// FolderPath is the absolute path of the backing folder.
	FolderPath string

	// IsDefault marks the bootstrap category, which cannot be deleted.
	IsDefault bool
}

// Image is an indexed image file belonging to a category.
type Image struct {
	ID int64

	// Filename is the base name of the file.
	Filename string

	// FilePath is the absolute path recorded when the row was inserted.
	FilePath string

	CategoryID int64

	// CategoryName and CategoryFolder are only populated by lookups that
	// join the category.
	CategoryName   string
	CategoryFolder string

	// UploadTime is when the image was uploaded or first discovered.
	UploadTime time.Time

	// SortIndex is the dense 1-based display rank (1 = newest).
	// Zero means no rank has been assigned yet.
	SortIndex int
}

// SortDirection controls the order in which images are listed by SortIndex.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ParseSortDirection maps a caller-supplied string to a SortDirection.
// Anything other than "asc" lists in descending order.
func ParseSortDirection(s string) SortDirection {
	if s == string(SortAsc) {
		return SortAsc
	}
	return SortDesc
}

const (
	// DefaultPageSize is used by callers that do not specify a page size.
	DefaultPageSize = 20

	// MaxPageSize is the upper bound a page size is clamped to.
	MaxPageSize = 100
)

// ListQuery carries the parameters for listing the images of one category.
type ListQuery struct {
	CategoryID int64

	// Page is 1-based; values below 1 are treated as 1.
	Page int

	// PageSize is clamped to [1, MaxPageSize].
	PageSize int

	// Search is a case-insensitive (ASCII) filename substring filter.
	Search string

	Sort SortDirection
}

// Normalize returns a copy of q with Page and PageSize clamped and Sort
// defaulted.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 1
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	if q.Sort != SortAsc {
		q.Sort = SortDesc
	}
	return q
}

// Offset returns the row offset of the first item on the query's page.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// ImagePage is one page of a category listing.
type ImagePage struct {
	Items      []Image
	Page       int
	PageSize   int
	TotalCount int
	TotalPages int
}

// TotalPages returns ceil(total / pageSize), or 0 when pageSize is not positive.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// User is a credential record used by the login collaborator.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	UserType     string
}
