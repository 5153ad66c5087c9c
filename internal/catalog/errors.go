package catalog

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when a mutating operation is called without
// an admin capability.
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError reports a missing or invalid input field. No state was changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// NotFoundError reports an unknown category or image.
type NotFoundError struct {
	Resource string
	Key      any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.Key)
}

// DuplicateError reports a uniqueness violation. The surrounding
// transaction has been rolled back.
type DuplicateError struct {
	Resource string
	Err      error
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists", e.Resource)
}

func (e *DuplicateError) Unwrap() error { return e.Err }

// PathOutsideBaseError reports a path that does not resolve inside its
// expected base directory.
type PathOutsideBaseError struct {
	Path string
	Base string
}

func (e *PathOutsideBaseError) Error() string {
	return fmt.Sprintf("path %q is outside base directory %q", e.Path, e.Base)
}

// IOError reports a failed disk operation.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CategoryNotFound returns the NotFoundError for a category id.
func CategoryNotFound(id int64) error {
	return &NotFoundError{Resource: "category", Key: id}
}

// ImageNotFound returns the NotFoundError for an image key (id or filename).
func ImageNotFound(key any) error {
	return &NotFoundError{Resource: "image", Key: key}
}

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDuplicate reports whether err is or wraps a *DuplicateError.
func IsDuplicate(err error) bool {
	var de *DuplicateError
	return errors.As(err, &de)
}

// IsPathOutsideBase reports whether err is or wraps a *PathOutsideBaseError.
func IsPathOutsideBase(err error) bool {
	var pe *PathOutsideBaseError
	return errors.As(err, &pe)
}
