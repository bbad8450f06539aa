package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pbaille/deskorg/internal/config"
	"github.com/pbaille/deskorg/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ClassifierConfig {
	cfg := config.Default().Classifier
	cfg.RateLimit = 60000
	cfg.Burst = 10
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

// scriptedBackend answers from a queue and records what it was asked
type scriptedBackend struct {
	mu      sync.Mutex
	answers []func(ctx context.Context) (string, error)
	chunks  []string
	known   [][]string
}

func (b *scriptedBackend) Categorize(ctx context.Context, chunk string, known []string) (string, error) {
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.known = append(b.known, known)
	next := b.answers[0]
	if len(b.answers) > 1 {
		b.answers = b.answers[1:]
	}
	b.mu.Unlock()
	return next(ctx)
}

func answer(category string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return category, nil }
}

func fail(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		size, max int
		want      []string
	}{
		{"empty", "   ", 10, 4, nil},
		{"short", "hello", 10, 4, []string{"hello"}},
		{"breaks on space", "aaaa bbbb cccc dddd", 10, 4, []string{"aaaa bbbb", "cccc dddd"}},
		{"chunk cap", "aaaa bbbb cccc dddd", 10, 1, []string{"aaaa bbbb"}},
		{"no spaces", "abcdefghijkl", 5, 4, []string{"abcde", "fghij", "kl"}},
		{"runes", "ééééé ààààà", 6, 4, []string{"ééééé", "ààààà"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Chunk(tt.text, tt.size, tt.max))
		})
	}
}

func TestVote(t *testing.T) {
	assert.Equal(t, "a", Vote([]string{"a", "b", "b", "a"}), "tie goes to earliest")
	assert.Equal(t, "a", Vote([]string{"b", "a", "a"}))
	assert.Equal(t, "", Vote(nil))
}

func TestClientMajorityVote(t *testing.T) {
	cfg := testConfig()
	cfg.MaxChunkChars = 10
	backend := &scriptedBackend{answers: []func(context.Context) (string, error){
		answer("Recipes"), answer(" Invoices "), answer("Invoices"),
	}}
	c := NewClient(backend, cfg, logging.Discard())
	c.SetKnownCategories([]string{"Invoices", "Travel"})

	got, err := c.Classify(context.Background(), "aaaa bbbb cccc dddd eeee ffff")
	require.NoError(t, err)
	assert.Equal(t, "Invoices", got)
	assert.Len(t, backend.chunks, 3)
	assert.Equal(t, []string{"Invoices", "Travel"}, backend.known[0])
}

func TestClientSkipsFailedChunks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxChunkChars = 5
	cfg.Retries = 0
	backend := &scriptedBackend{answers: []func(context.Context) (string, error){
		fail(errors.New("bad answer")), answer("Travel"),
	}}
	c := NewClient(backend, cfg, logging.Discard())

	got, err := c.Classify(context.Background(), "aaaa bbbb")
	require.NoError(t, err)
	assert.Equal(t, "Travel", got)
}

func TestClientAllChunksFail(t *testing.T) {
	cfg := testConfig()
	cfg.Retries = 0
	backend := &scriptedBackend{answers: []func(context.Context) (string, error){fail(errors.New("boom"))}}
	c := NewClient(backend, cfg, logging.Discard())

	_, err := c.Classify(context.Background(), "text")
	assert.EqualError(t, err, "boom")

	_, err = c.Classify(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestClientRetriesTransient(t *testing.T) {
	cfg := testConfig()
	cfg.Retries = 2
	backend := &scriptedBackend{answers: []func(context.Context) (string, error){
		fail(&statusError{code: http.StatusTooManyRequests}),
		fail(&statusError{code: http.StatusBadGateway}),
		answer("Taxes"),
	}}
	c := NewClient(backend, cfg, logging.Discard())

	got, err := c.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "Taxes", got)
	assert.Len(t, backend.chunks, 3)
}

func TestClientDoesNotRetryPermanent(t *testing.T) {
	cfg := testConfig()
	cfg.Retries = 3
	backend := &scriptedBackend{answers: []func(context.Context) (string, error){
		fail(&statusError{code: http.StatusUnauthorized}),
	}}
	c := NewClient(backend, cfg, logging.Discard())

	_, err := c.Classify(context.Background(), "text")
	require.Error(t, err)
	assert.Len(t, backend.chunks, 1)
}

func TestClientTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Retries = 0
	cfg.Timeout = 20 * time.Millisecond
	backend := &scriptedBackend{answers: []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}}
	c := NewClient(backend, cfg, logging.Discard())

	_, err := c.Classify(context.Background(), "text")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransient(t *testing.T) {
	assert.True(t, transient(&statusError{code: 429}))
	assert.True(t, transient(&statusError{code: 503}))
	assert.False(t, transient(&statusError{code: 400}))
	assert.False(t, transient(errors.New("parse json")))
}

func TestParseResponse(t *testing.T) {
	got, err := parseResponse("```json\n{\"category\": \"Invoices\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Invoices", got)

	_, err = parseResponse("Invoices")
	assert.Error(t, err)

	_, err = parseResponse(`{"category": "  "}`)
	assert.Error(t, err)
}

func TestBuildPromptListsKnown(t *testing.T) {
	p := buildPrompt("text", []string{"Recipes", "Travel"})
	assert.Contains(t, p, "- Recipes\n- Travel\n")
	assert.Contains(t, buildPrompt("text", nil), "Existing folders: none")
}

func TestAnthropic(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, anthropicModel, req.Model)
		assert.Contains(t, req.Messages[0].Content, "- Recipes")

		if status != 0 {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"category\": \"Recipes\"}"}]}`))
	}))
	defer srv.Close()

	a, err := NewAnthropic("k", "", srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := a.Categorize(ctx, "pasta with basil", []string{"Recipes"})
	require.NoError(t, err)
	assert.Equal(t, "Recipes", got)

	status = 529
	_, err = a.Categorize(ctx, "pasta", []string{"Recipes"})
	require.Error(t, err)
	assert.True(t, transient(err))
}

func TestOpenAI(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"category\":\"Travel\"}"}}]}`))
	}))
	defer srv.Close()

	o, err := NewOpenAI("k", "", srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := o.Categorize(ctx, "flight to Lisbon", nil)
	require.NoError(t, err)
	assert.Equal(t, "Travel", got)

	status = http.StatusServiceUnavailable
	_, err = o.Categorize(ctx, "flight", nil)
	require.Error(t, err)
	assert.True(t, transient(err))
}

func TestVoyage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		var data []item
		for i, in := range req.Input {
			switch {
			case in == "Invoices":
				data = append(data, item{i, []float64{1, 0}})
			case in == "Recipes":
				data = append(data, item{i, []float64{0, 1}})
			case strings.Contains(in, "pasta"):
				data = append(data, item{i, []float64{0.1, 0.9}})
			default:
				data = append(data, item{i, []float64{-1, -1}})
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	v, err := NewVoyage("k", "", srv.URL, []string{"Invoices", "Recipes"}, 0.5)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := v.Categorize(ctx, "fresh pasta", nil)
	require.NoError(t, err)
	assert.Equal(t, "Recipes", got)

	_, err = v.Categorize(ctx, "unrelated", nil)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestNew(t *testing.T) {
	log := logging.Discard()

	cfg := testConfig()
	cfg.Provider = "anthropic"
	cfg.APIKey = ""
	_, err := New(cfg, log)
	assert.Error(t, err, "missing key is fatal")

	cfg.APIKey = "k"
	c, err := New(cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, c.backend)

	cfg.Provider = "voyage"
	_, err = New(cfg, log)
	assert.Error(t, err, "voyage needs categories")

	cfg.Provider = "mystery"
	_, err = New(cfg, log)
	assert.Error(t, err)
}
