package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEmbedding indicates the provider returned no vector for the input.
	ErrNoEmbedding = errors.New("no embedding returned")

	// ErrEmptyInput indicates empty input text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyResponse indicates a chat completion without choices.
	ErrEmptyResponse = errors.New("empty completion response")
)

// ProviderError records a failed provider operation.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err for op. It returns nil for a nil err and
// passes an existing *ProviderError through unchanged.
func NewProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}

// IsProviderError reports whether err wraps a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
