package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragkb/internal/config"
	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

// fakeOpenAI serves the embeddings and chat completions endpoints. Texts
// mentioning a whale embed onto the first axis, everything else onto the
// second.
type fakeOpenAI struct {
	mu      sync.Mutex
	systems []string
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			vec := []float32{0, 1, 0}
			if strings.Contains(strings.ToLower(text), "whale") {
				vec = []float32{1, 0, 0}
			}
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "test"})

	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		var req struct {
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var question string
		for _, m := range req.Messages {
			text := messageText(m.Content)
			switch m.Role {
			case "system":
				f.mu.Lock()
				f.systems = append(f.systems, text)
				f.mu.Unlock()
			case "user":
				question = text
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "answer to " + question},
			}},
		})

	default:
		http.NotFound(w, r)
	}
}

// messageText accepts both the string and the content-parts encoding.
func messageText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(raw, &parts)
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (f *fakeOpenAI) lastSystem() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.systems) == 0 {
		return ""
	}
	return f.systems[len(f.systems)-1]
}

func setupEnv(t *testing.T) *fakeOpenAI {
	t.Helper()
	fake := &fakeOpenAI{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	t.Setenv("RAGKB_VECTORSTORE_PROVIDER", "chromem")
	t.Setenv("RAGKB_VECTORSTORE_CHROMEM_PATH", t.TempDir())
	t.Setenv("RAGKB_PROVIDER_BASE_URL", srv.URL)
	t.Setenv("RAGKB_PROVIDER_API_KEY", "test-key")
	t.Setenv("RAGKB_LOGGING_LEVEL", "error")
	return fake
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestAndAsk(t *testing.T) {
	fake := setupEnv(t)

	batches := filepath.Join(t.TempDir(), "book.json")
	require.NoError(t, os.WriteFile(batches, []byte(`[["The white whale"],["A ship at sea","Harpoons"]]`), 0o600))

	out, err := execute(t, "", "ingest", batches, "--collection", "moby", "--vector-size", "3", "--reset")
	require.NoError(t, err)
	assert.Equal(t, "Successfully inserted 3 records. The collection now has 3 records in total.\n", out)

	out, err = execute(t, `[["Call me Ishmael"]]`, "ingest", "-", "--collection", "moby")
	require.NoError(t, err)
	assert.Equal(t, "Successfully inserted 1 records. The collection now has 4 records in total.\n", out)

	out, err = execute(t, "", "ask", "--collection", "moby", "Which", "whale?")
	require.NoError(t, err)
	assert.Equal(t, "answer to Which whale?\n", out)
	assert.True(t, strings.HasSuffix(fake.lastSystem(), "\nThe white whale"), fake.lastSystem())
	assert.NotContains(t, fake.lastSystem(), "Harpoons")
}

func TestIngestFailures(t *testing.T) {
	setupEnv(t)

	t.Run("malformed file", func(t *testing.T) {
		_, err := execute(t, `{"not":"batches"}`, "ingest", "-", "--reset", "--vector-size", "3")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed input")
		assert.Contains(t, err.Error(), "status 400")
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := execute(t, `[["x"]]`, "ingest", "-", "--collection", "absent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Cannot query database!")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "", "ingest", filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read file")
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Commit:")
}

func TestRequestFlagsDefaults(t *testing.T) {
	cfg := config.Default()

	req := (&requestFlags{}).request(cfg)
	assert.Equal(t, "my_kb", req.Collection)
	assert.Equal(t, uint64(1536), req.VectorSize)
	assert.False(t, req.Reset)

	req = (&requestFlags{collection: "books", vectorSize: 3, reset: true}).request(cfg)
	assert.Equal(t, "books", req.Collection)
	assert.Equal(t, uint64(3), req.VectorSize)
	assert.True(t, req.Reset)
}

func TestNewStore(t *testing.T) {
	t.Run("chromem in memory", func(t *testing.T) {
		store, err := newStore(config.VectorStoreConfig{Provider: "chromem"}, logging.NewNop())
		require.NoError(t, err)
		defer store.Close()

		_, ok := store.(vectorstore.Pinger)
		assert.True(t, ok)
		require.NoError(t, store.CreateCollection(context.Background(), "kb", 3))
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := newStore(config.VectorStoreConfig{Provider: "milvus"}, logging.NewNop())
		assert.Error(t, err)
	})
}

func TestServiceConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retrieval.Threshold = 0.5

	sc := serviceConfig(cfg)
	assert.Equal(t, 20000, sc.SoftLimit)
	require.NotNil(t, sc.Retrieval.Threshold)
	assert.Equal(t, float32(0.5), *sc.Retrieval.Threshold)
	assert.Equal(t, uint64(5), sc.Retrieval.Limit)
	assert.Equal(t, 256, sc.Summarizer.MaxTokens)
	require.NotNil(t, sc.Summarizer.Retries)
	assert.Equal(t, 1, *sc.Summarizer.Retries)

	cfg.Ingest.SummaryTemperature = 0
	sc = serviceConfig(cfg)
	require.NotNil(t, sc.Summarizer.Temperature)
	assert.Zero(t, *sc.Summarizer.Temperature)
	assert.Equal(t, "gpt-3.5-turbo-16k", sc.ChatModel)
}
