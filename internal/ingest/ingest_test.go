package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/provider"
)

// scriptedEmbedder returns per-text vectors or errors.
type scriptedEmbedder struct {
	vectors map[string][][]float32
	fail    map[string]bool
	calls   []string
}

func (e *scriptedEmbedder) Embed(_ context.Context, text string) ([][]float32, error) {
	e.calls = append(e.calls, text)
	if e.fail[text] {
		return nil, provider.NewProviderError("embed", errors.New("upstream 500"))
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return [][]float32{{1, 0, 0}}, nil
}

type scriptedChat struct {
	fail  map[string]bool
	opts  []provider.ChatOptions
	convs []string
}

func (c *scriptedChat) Complete(_ context.Context, conv, prompt string, opts provider.ChatOptions) (string, error) {
	c.opts = append(c.opts, opts)
	c.convs = append(c.convs, conv)
	if c.fail[prompt] {
		return "", provider.NewProviderError("chat", errors.New("timeout"))
	}
	return "summary of " + prompt[:min(len(prompt), 5)], nil
}

func TestNeedsSummarization(t *testing.T) {
	tests := []struct {
		name  string
		units []string
		want  bool
	}{
		{"empty batch", nil, false},
		{"all small", []string{"a", "b"}, false},
		{"exactly at limit", []string{strings.Repeat("x", SoftLimit)}, false},
		{"one over limit", []string{"a", strings.Repeat("x", SoftLimit+1)}, true},
		// 20000 two-byte runes are 40000 bytes but still at the limit.
		{"multibyte at limit", []string{strings.Repeat("é", SoftLimit)}, false},
		{"multibyte over limit", []string{strings.Repeat("é", SoftLimit+1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsSummarization(tt.units))
		})
	}
}

func TestAnyExceeds_CustomLimit(t *testing.T) {
	assert.True(t, AnyExceeds([]string{"abcd"}, 3))
	assert.False(t, AnyExceeds([]string{"abc"}, 3))
}

func TestSummarizer_Summarize(t *testing.T) {
	chat := &scriptedChat{}
	s := NewSummarizer(chat, SummarizerConfig{}, nil)

	got := s.Summarize(context.Background(), "long text here")
	assert.Equal(t, "summary of long ", got)

	require.Len(t, chat.opts, 1)
	opts := chat.opts[0]
	assert.Equal(t, 256, opts.MaxTokens)
	assert.InDelta(t, 0.7, opts.Temperature, 1e-9)
	require.NotNil(t, opts.Retries)
	assert.Equal(t, 1, *opts.Retries)
	assert.Contains(t, opts.SystemPrompt, "one concise factual paragraph")
	assert.True(t, opts.Stateless)
	assert.Equal(t, "", chat.convs[0])
}

func TestSummarizer_ExplicitZeros(t *testing.T) {
	chat := &scriptedChat{}
	temperature, retries := 0.0, 0
	s := NewSummarizer(chat, SummarizerConfig{Temperature: &temperature, Retries: &retries}, nil)

	s.Summarize(context.Background(), "text")
	require.Len(t, chat.opts, 1)
	assert.Zero(t, chat.opts[0].Temperature)
	require.NotNil(t, chat.opts[0].Retries)
	assert.Zero(t, *chat.opts[0].Retries)
}

func TestSummarizer_FailureReturnsEmpty(t *testing.T) {
	tl := logging.NewTestLogger()
	chat := &scriptedChat{fail: map[string]bool{"bad": true}}
	s := NewSummarizer(chat, SummarizerConfig{}, tl.Logger)

	assert.Equal(t, "", s.Summarize(context.Background(), "bad"))
	tl.AssertLogged(t, zapcore.WarnLevel, "summarization failed")
}

func TestSummarizer_SummarizeAll(t *testing.T) {
	chat := &scriptedChat{fail: map[string]bool{"bad": true}}
	s := NewSummarizer(chat, SummarizerConfig{}, nil)

	got, dropped := s.SummarizeAll(context.Background(), []string{"first", "bad", "third"})
	assert.Equal(t, []string{"summary of first", "summary of third"}, got)
	assert.Equal(t, 1, dropped)
}

func TestOrchestrator_SequentialIDs(t *testing.T) {
	emb := &scriptedEmbedder{}
	o := NewOrchestrator(emb, nil)

	out := o.Embed(context.Background(), []string{"a", "b", "c"}, 0)
	require.Equal(t, 3, out.Count)
	assert.Len(t, out.Points, out.Count)
	assert.Equal(t, uint64(3), out.NextID)
	for i, p := range out.Points {
		assert.Equal(t, uint64(i), p.ID)
	}
	assert.Equal(t, "b", out.Points[1].Payload.Text)
}

func TestOrchestrator_MultipleVectorsContinueSequence(t *testing.T) {
	emb := &scriptedEmbedder{vectors: map[string][][]float32{
		"split": {{1, 0}, {0, 1}},
	}}
	o := NewOrchestrator(emb, nil)

	out := o.Embed(context.Background(), []string{"split"}, 7)
	require.Len(t, out.Points, 2)
	assert.Equal(t, uint64(7), out.Points[0].ID)
	assert.Equal(t, uint64(8), out.Points[1].ID)
	assert.Equal(t, "split", out.Points[0].Payload.Text)
	assert.Equal(t, "split", out.Points[1].Payload.Text)
	assert.Equal(t, uint64(9), out.NextID)
}

func TestOrchestrator_SkipsFailedUnits(t *testing.T) {
	tl := logging.NewTestLogger()
	emb := &scriptedEmbedder{fail: map[string]bool{"broken": true}}
	o := NewOrchestrator(emb, tl.Logger)

	out := o.Embed(context.Background(), []string{"broken", "fine", "also fine"}, 10)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, uint64(10), out.Points[0].ID, "failed units consume no IDs")
	assert.Equal(t, "fine", out.Points[0].Payload.Text)
	assert.Equal(t, uint64(11), out.Points[1].ID)
	assert.Equal(t, []string{"broken", "fine", "also fine"}, emb.calls)
	tl.AssertLogged(t, zapcore.ErrorLevel, "embedding failed")
}

func TestOrchestrator_ZeroVectorsYieldNoPoints(t *testing.T) {
	emb := &scriptedEmbedder{vectors: map[string][][]float32{"void": {}}}
	o := NewOrchestrator(emb, nil)

	out := o.Embed(context.Background(), []string{"void"}, 4)
	assert.Zero(t, out.Count)
	assert.Zero(t, out.Failed)
	assert.Equal(t, uint64(4), out.NextID)
}

func TestOrchestrator_CanceledContext(t *testing.T) {
	emb := &scriptedEmbedder{}
	o := NewOrchestrator(emb, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := o.Embed(ctx, []string{"a", "b"}, 0)
	assert.Zero(t, out.Count)
	assert.Equal(t, 2, out.Failed)
	assert.Empty(t, emb.calls)
}
