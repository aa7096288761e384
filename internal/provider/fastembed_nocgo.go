//go:build !cgo

package provider

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned by binaries built without cgo.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without cgo, use the openai embedder)")

// FastEmbedConfig configures the local ONNX embedder.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbed is a stub for non-cgo builds.
type FastEmbed struct{}

// NewFastEmbed always fails without cgo.
func NewFastEmbed(FastEmbedConfig) (*FastEmbed, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (f *FastEmbed) Embed(context.Context, string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (f *FastEmbed) EmbedQuery(context.Context, string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (f *FastEmbed) Dimension() int { return 0 }

func (f *FastEmbed) Close() error { return nil }
