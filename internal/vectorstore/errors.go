package vectorstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when creating a collection that exists.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the collection's dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// StoreError records a failed store operation.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("vectorstore %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vectorstore %s %q: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err for op on collection. A nil err yields nil, and
// an err that is already a *StoreError is returned unchanged.
func NewStoreError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Collection: collection, Err: err}
}

// IsStoreError reports whether err carries a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
