package kb

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/provider"
	"github.com/fyrsmithlabs/ragkb/internal/retrieval"
	"github.com/fyrsmithlabs/ragkb/internal/runs"
	"github.com/fyrsmithlabs/ragkb/internal/telemetry"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

// mapEmbedder returns vectors by text, a default vector for unknown text,
// and errors for texts listed in fail.
type mapEmbedder struct {
	vectors map[string][][]float32
	fail    map[string]bool
	calls   int
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([][]float32, error) {
	m.calls++
	if m.fail[text] {
		return nil, provider.NewProviderError("embed", errors.New("upstream 500"))
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return [][]float32{{1, 0, 0}}, nil
}

type recordingChat struct {
	answer string
	err    error
	system []string
	prompt []string
}

func (c *recordingChat) Complete(_ context.Context, _, prompt string, opts provider.ChatOptions) (string, error) {
	c.system = append(c.system, opts.SystemPrompt)
	c.prompt = append(c.prompt, prompt)
	if c.err != nil {
		return "", c.err
	}
	if c.answer != "" {
		return c.answer, nil
	}
	return "short summary", nil
}

type fixture struct {
	svc   *Service
	store *vectorstore.ChromemStore
	emb   *mapEmbedder
	chat  *recordingChat
	runs  *runs.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store: store,
		emb:   &mapEmbedder{vectors: map[string][][]float32{}, fail: map[string]bool{}},
		chat:  &recordingChat{},
		runs:  runs.NewRegistry(nil, nil),
	}
	f.svc, err = NewService(Deps{
		Store:    store,
		Embedder: f.emb,
		Chat:     f.chat,
		Runs:     f.runs,
	}, Config{}, logging.NewNop(), opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) seed(t *testing.T, name string, size uint64, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateCollection(ctx, name, size))
	pts := make([]vectorstore.Point, n)
	for i := range pts {
		v := make([]float32, size)
		v[0] = 1
		pts[i] = vectorstore.Point{ID: uint64(i), Vector: v, Payload: vectorstore.Payload{Text: "seed"}}
	}
	require.NoError(t, f.store.UpsertPoints(ctx, name, pts))
}

func TestIngest_ResetStartsAtZero(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "my_kb", 3, 4)

	req := ParseQuery(url.Values{"reset": {""}, "vector_size": {"3"}})
	res := f.svc.Handle(context.Background(), req, []byte(`[["hello world"]]`))

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Successfully inserted 1 records. The collection now has 1 records in total.", res.Body())
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, uint64(1), res.Total)

	hits, err := f.store.SearchPoints(context.Background(), "my_kb", vectorstore.SearchParams{Vector: []float32{1, 0, 0}, Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint64(0), hits[0].ID)
	assert.Equal(t, "hello world", hits[0].Payload.Text)

	ev, err := f.svc.Run(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCompleted, ev.Status)
	assert.Equal(t, uint64(0), ev.StartID)
}

func TestIngest_ContinuesAfterExistingPoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "books", 2, 7)
	f.emb.vectors["chapter"] = [][]float32{{0, 1}, {1, 1}}

	req := Request{Collection: "books", VectorSize: 2}
	res := f.svc.Ingest(context.Background(), req, [][]string{{"chapter"}})

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, uint64(9), res.Total)

	hits, err := f.store.SearchPoints(context.Background(), "books", vectorstore.SearchParams{Vector: []float32{0, 1}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint64(7), hits[0].ID)
	assert.Equal(t, "chapter", hits[0].Payload.Text)

	ev, err := f.svc.Run(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ev.StartID)
}

func TestIngest_SkipsUnitsThatFailToEmbed(t *testing.T) {
	f := newFixture(t)
	f.emb.fail["broken"] = true

	req := Request{Collection: "kb", VectorSize: 3, Reset: true}
	res := f.svc.Ingest(context.Background(), req, [][]string{{"broken"}, {"fine"}})

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, uint64(1), res.Total)
	assert.Equal(t, "Successfully inserted 1 records. The collection now has 1 records in total.", res.Message)
}

func TestAsk_ContextKeepsOneFragment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateCollection(ctx, "book", 3))
	require.NoError(t, f.store.UpsertPoints(ctx, "book", []vectorstore.Point{
		{ID: 0, Vector: []float32{1, 0, 0}, Payload: vectorstore.Payload{Text: "The white whale"}},
		{ID: 1, Vector: []float32{0.9, 0.1, 0}, Payload: vectorstore.Payload{Text: "white whale"}},
		{ID: 2, Vector: []float32{0.5, 0.5, 0}, Payload: vectorstore.Payload{Text: "a harpoon"}},
		{ID: 3, Vector: []float32{0, 1, 0}, Payload: vectorstore.Payload{Text: "the sea"}},
		{ID: 4, Vector: []float32{0, 0, 1}, Payload: vectorstore.Payload{Text: "a ship"}},
	}))
	f.chat.answer = "Moby Dick"

	req := ParseQuery(url.Values{"collection_name": {"book"}, "ask": {""}})
	res := f.svc.Handle(ctx, req, []byte("Which whale?"))

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "Moby Dick", res.Body())
	require.Len(t, f.chat.system, 1)
	assert.Equal(t, retrieval.Preamble+"\nThe white whale", f.chat.system[0])
	assert.Equal(t, "Which whale?", f.chat.prompt[0])
}

func TestIngest_SummarizesWholeBatchWhenOneUnitIsOversized(t *testing.T) {
	f := newFixture(t)
	big := strings.Repeat("a", 20001)

	req := Request{Collection: "kb", VectorSize: 3, Reset: true}
	res := f.svc.Ingest(context.Background(), req, [][]string{{"small", big}})

	require.True(t, res.OK(), res.Message)
	assert.Len(t, f.chat.prompt, 2, "every unit is summarized")
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, f.emb.calls)
}

func TestIngest_SmallUnitsPassThrough(t *testing.T) {
	f := newFixture(t)

	req := Request{Collection: "kb", VectorSize: 3, Reset: true}
	res := f.svc.Ingest(context.Background(), req, [][]string{{"a", "b"}, {"c"}})

	require.True(t, res.OK(), res.Message)
	assert.Empty(t, f.chat.prompt)
	assert.Equal(t, 3, res.Inserted)
}

func TestIngest_FailedSummariesAreDropped(t *testing.T) {
	f := newFixture(t)
	f.chat.err = errors.New("chat down")

	req := Request{Collection: "kb", VectorSize: 3, Reset: true}
	res := f.svc.Ingest(context.Background(), req, [][]string{{strings.Repeat("x", 20001)}})

	require.True(t, res.OK(), res.Message)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, f.emb.calls)
}

func TestIngest_MissingCollectionWithoutReset(t *testing.T) {
	f := newFixture(t)

	res := f.svc.Ingest(context.Background(), Request{Collection: "absent", VectorSize: 3}, [][]string{{"x"}})
	assert.False(t, res.OK())
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.Equal(t, "Cannot query database!", res.Body())
	assert.Zero(t, f.emb.calls, "no embedding work before the start ID is known")

	ev, err := f.svc.Run(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, ev.Status)
}

func TestIngest_CreateFailure(t *testing.T) {
	f := newFixture(t)

	res := f.svc.Ingest(context.Background(), Request{Collection: "kb", VectorSize: 0, Reset: true}, [][]string{{"x"}})
	assert.False(t, res.OK())
	assert.Equal(t, "Cannot create collection", res.Message)
	assert.Equal(t, http.StatusBadGateway, res.Code)
}

func TestIngest_UpsertFailure(t *testing.T) {
	f := newFixture(t)
	f.emb.vectors["short"] = [][]float32{{1, 0}}

	res := f.svc.Ingest(context.Background(), Request{Collection: "kb", VectorSize: 3, Reset: true}, [][]string{{"short"}})
	assert.False(t, res.OK())
	assert.Equal(t, "Cannot upsert into database!", res.Message)
}

func TestHandle_MalformedInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		body string
	}{
		{"not json", Request{Collection: "kb"}, "hello"},
		{"flat array", Request{Collection: "kb"}, `["a","b"]`},
		{"object", Request{Collection: "kb"}, `{"a":["b"]}`},
		{"empty body", Request{Collection: "kb"}, ""},
		{"bad collection", Request{Collection: "../etc"}, `[["a"]]`},
		{"invalid utf8 question", Request{Collection: "kb", Ask: true}, "\xff\xfe"},
		{"blank question", Request{Collection: "kb", Ask: true}, "  \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.svc.Handle(ctx, tt.req, []byte(tt.body))
			assert.False(t, res.OK())
			assert.Equal(t, http.StatusBadRequest, res.Code)
			assert.Contains(t, res.Message, "malformed input")
		})
	}
	assert.Zero(t, f.emb.calls)
}

func TestAsk_NoEmbedding(t *testing.T) {
	f := newFixture(t)
	f.emb.vectors["q"] = [][]float32{}

	res := f.svc.Ask(context.Background(), Request{Collection: "kb"}, "q")
	assert.False(t, res.OK())
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.Equal(t, "Cannot embed the question!", res.Message)
	assert.Empty(t, f.chat.prompt)
}

func TestAsk_SendsQuestionUnchanged(t *testing.T) {
	f := newFixture(t)
	f.chat.answer = "Moby Dick"

	res := f.svc.Ask(context.Background(), Request{Collection: "absent"}, "  Which whale?\n")
	require.True(t, res.OK(), res.Message)
	require.Len(t, f.chat.prompt, 1)
	assert.Equal(t, "  Which whale?\n", f.chat.prompt[0])

	res = f.svc.Ask(context.Background(), Request{Collection: "absent"}, " \n\t")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Len(t, f.chat.prompt, 1)
}

func TestAsk_ChatFailure(t *testing.T) {
	f := newFixture(t)
	f.chat.err = errors.New("timeout")

	res := f.svc.Ask(context.Background(), Request{Collection: "kb"}, "q")
	assert.False(t, res.OK())
	assert.Equal(t, "Cannot answer the question!", res.Body())
}

func TestAsk_MissingCollectionDegrades(t *testing.T) {
	f := newFixture(t)
	f.chat.answer = "I don't know"

	res := f.svc.Ask(context.Background(), Request{Collection: "absent"}, "q")
	require.True(t, res.OK())
	assert.Equal(t, retrieval.Preamble, f.chat.system[0])
}

func TestService_Tracing(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	f := newFixture(t, WithTracer(tt.Tracer("test")))

	res := f.svc.Ingest(context.Background(), Request{Collection: "kb", VectorSize: 3, Reset: true}, [][]string{{"a"}})
	require.True(t, res.OK())

	tt.AssertSpanExists(t, "kb.ingest")
	tt.AssertSpanAttribute(t, "kb.ingest", "collection", "kb")
	tt.AssertSpanAttribute(t, "kb.ingest", "inserted", int64(1))
}

func TestService_Stats(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "kb", 4, 3)

	info, err := f.svc.Stats(context.Background(), "kb")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.PointsCount)
	assert.Equal(t, uint64(4), info.VectorSize)

	_, err = f.svc.Stats(context.Background(), "missing")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	_, err = f.svc.Stats(context.Background(), "bad name")
	var mie *MalformedInputError
	assert.ErrorAs(t, err, &mie)
}

func TestNewService_RequiresDeps(t *testing.T) {
	_, err := NewService(Deps{}, Config{}, nil)
	assert.Error(t, err)
}
