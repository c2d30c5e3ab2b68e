package database

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no row matches a key
var ErrNotFound = errors.New("record not found")

// StorageError wraps any failure of the persistence layer
type StorageError struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Table: table, Err: err}
}

// IsStorageError reports whether err was raised by the persistence layer
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
