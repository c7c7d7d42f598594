package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedbot/internal/jobs"
	"schedbot/pkg/logx"
)

func TestClientProduce(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.Equal(t, "write a poem", req.Prompt)
		assert.False(t, req.Stream)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "  roses are red  "})
	}))
	defer srv.Close()

	c := NewClient("poem", ProducerConfig{BaseURL: srv.URL + "/api/", Model: "llama3", Prompt: "write a poem"}, srv.Client(), logx.Nop())
	text, err := c.Produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "roses are red", text)

	var _ jobs.Producer = c
}

func TestClientFallbackAndErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	plain := NewClient("p", ProducerConfig{BaseURL: srv.URL}, srv.Client(), logx.Nop())
	_, err := plain.Produce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	fb := NewClient("p", ProducerConfig{BaseURL: srv.URL, Fallback: "Sorry, no poem today."}, srv.Client(), logx.Nop())
	text, err := fb.Produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sorry, no poem today.", text)
}

func TestClientEmptyResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":""}`))
	}))
	defer srv.Close()
	c := NewClient("p", ProducerConfig{BaseURL: srv.URL}, srv.Client(), logx.Nop())
	_, err := c.Produce(context.Background())
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClientBreakerOpens(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("p", ProducerConfig{BaseURL: srv.URL, MaxFailures: 2, OpenFor: time.Minute}, srv.Client(), logx.Nop())
	for i := 0; i < 2; i++ {
		_, err := c.Produce(context.Background())
		require.Error(t, err)
	}
	_, err := c.Produce(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load(), "open breaker short-circuits the request")
}

func TestCatalogBind(t *testing.T) {
	t.Parallel()
	cat := NewCatalog()
	cat.Register("quote", jobs.ProducerFunc(func(context.Context) (string, error) { return "q", nil }))
	cat.Apply(map[string]ProducerConfig{"poem": {BaseURL: "http://127.0.0.1:1"}}, nil, logx.Nop())
	assert.Equal(t, []string{"poem"}, cat.Names(), "apply replaces registered producers")

	var cfg jobs.Config
	require.NoError(t, cat.Bind(&cfg, ""))
	assert.Nil(t, cfg.Producer)
	require.NoError(t, cat.Bind(&cfg, "poem"))
	assert.NotNil(t, cfg.Producer)
	assert.Equal(t, "poem", cfg.ProducerLabel)
	assert.ErrorIs(t, cat.Bind(&cfg, "missing"), jobs.ErrContentUnavailable)
}

func TestCatalogAsk(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "echo: " + req.Prompt})
	}))
	defer srv.Close()

	cat := NewCatalog()
	cat.Apply(map[string]ProducerConfig{
		"poem": {BaseURL: srv.URL, Model: "llama3", Prompt: "write a poem", Fallback: "unused"},
	}, srv.Client(), logx.Nop())

	text, err := cat.Ask(context.Background(), "", "what time is it")
	require.NoError(t, err)
	assert.Equal(t, "echo: what time is it", text, "prompt replaces the configured one")

	text, err = cat.Ask(context.Background(), "poem", "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", text)

	_, err = cat.Ask(context.Background(), "ghost", "hi")
	assert.ErrorIs(t, err, ErrNoAsker)

	cat.Register("quote", jobs.ProducerFunc(func(context.Context) (string, error) { return "q", nil }))
	_, err = cat.Ask(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrNoAsker, "several producers need a name")
	_, err = cat.Ask(context.Background(), "quote", "hi")
	assert.ErrorIs(t, err, ErrNoAsker, "static producers cannot answer prompts")
}

func TestClientAskSkipsFallback(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	var failures atomic.Int32
	c := NewClient("p", ProducerConfig{BaseURL: srv.URL, Fallback: "canned"}, srv.Client(), logx.Nop())
	c.OnFailure(func(string, error) { failures.Add(1) })
	_, err := c.Ask(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), failures.Load())
}
