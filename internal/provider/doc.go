// Package provider talks to embedding and chat-completion backends.
//
// The OpenAI implementation speaks the OpenAI-compatible HTTP API through
// langchaingo and serves both Embedder and ChatCompleter. FastEmbed runs
// ONNX embedding models locally and needs a cgo build.
package provider
