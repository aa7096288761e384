//go:build cgo

package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedConfig configures the local ONNX embedder.
type FastEmbedConfig struct {
	// Model is a Hugging Face name such as BAAI/bge-small-en-v1.5 or a
	// fastembed model name.
	Model string

	// CacheDir holds downloaded model files. Defaults to ./local_cache.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// FastEmbed embeds text locally with fastembed-go.
type FastEmbed struct {
	mu        sync.RWMutex
	model     *fastembed.FlagEmbedding
	dimension int
}

var (
	_ Embedder      = (*FastEmbed)(nil)
	_ QueryEmbedder = (*FastEmbed)(nil)
)

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// NewFastEmbed loads the model, downloading it into CacheDir if needed.
func NewFastEmbed(cfg FastEmbedConfig) (*FastEmbed, error) {
	model, ok := fastEmbedModels[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
	}
	dim, known := FastEmbedDimension(string(model))
	if !known {
		return nil, fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, cfg.Model)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	showProgress := false

	fe, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, NewProviderError("init", err)
	}
	return &FastEmbed{model: fe, dimension: dim}, nil
}

// Embed embeds text as a stored passage.
func (f *FastEmbed) Embed(ctx context.Context, text string) ([][]float32, error) {
	if text == "" {
		return nil, NewProviderError("embed", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	vectors, err := f.model.PassageEmbed([]string{text}, 1)
	if err != nil {
		return nil, NewProviderError("embed", err)
	}
	return vectors, nil
}

// EmbedQuery embeds text with the model's query prefix.
func (f *FastEmbed) EmbedQuery(ctx context.Context, text string) ([][]float32, error) {
	if text == "" {
		return nil, NewProviderError("embed_query", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	vector, err := f.model.QueryEmbed(text)
	if err != nil {
		return nil, NewProviderError("embed_query", err)
	}
	return [][]float32{vector}, nil
}

// Dimension returns the model's vector size.
func (f *FastEmbed) Dimension() int {
	return f.dimension
}

// Close releases the ONNX session.
func (f *FastEmbed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model != nil {
		return f.model.Destroy()
	}
	return nil
}
