package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrDuplicateKey is returned when an insert collides with an existing
	// (mtime, url) pair or item id. Callers treat it as already done.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnknownItem is returned when a row refers to an item id that has no
	// image row.
	ErrUnknownItem = errors.New("unknown item")
)

// StorageError wraps any persistence failure that is not one of the
// recoverable sentinels above. A run that sees one must stop.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is, or wraps, a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Wrap maps a database error to the store's error taxonomy. nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w", op, ErrUnknownItem)
		}
	}

	return &StorageError{Op: op, Err: err}
}
