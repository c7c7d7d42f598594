// Package content produces message text at fire time from a text-generation
// endpoint (Ollama-compatible /generate API).
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"schedbot/pkg/logx"
)

var (
	ErrEmptyResponse = errors.New("generator returned empty text")
	ErrUnavailable   = errors.New("generator unavailable")
)

type ProducerConfig struct {
	BaseURL  string
	Model    string
	Prompt   string
	Timeout  time.Duration
	Fallback string
	// Breaker opens after this many consecutive failures (default 5).
	MaxFailures uint32
	// OpenFor is how long the breaker stays open before a probe (default 30s).
	OpenFor time.Duration
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Client calls the generate endpoint behind a circuit breaker. It implements
// jobs.Producer.
type Client struct {
	name    string
	cfg     ProducerConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	log     logx.Logger
	onFail  func(name string, err error)
}

func NewClient(name string, cfg ProducerConfig, hc *http.Client, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	log = log.With(logx.String("comp", "content"), logx.String("producer", name))
	maxFail := cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "content." + name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFail
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("breaker state changed", logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
	return &Client{name: name, cfg: cfg, http: hc, breaker: cb, log: log}
}

func (c *Client) Name() string { return c.name }

// OnFailure registers fn to observe every failed generation, including
// calls rejected by an open breaker. Set it before first use.
func (c *Client) OnFailure(fn func(name string, err error)) { c.onFail = fn }

// Produce returns generated text, or the configured fallback when generation
// fails. Without a fallback the error is returned.
func (c *Client) Produce(ctx context.Context) (string, error) {
	text, err := c.execute(ctx, c.cfg.Prompt)
	if err == nil {
		return text, nil
	}
	if c.cfg.Fallback != "" {
		c.log.Warn("generation failed, using fallback", logx.Err(err))
		return c.cfg.Fallback, nil
	}
	return "", err
}

// Ask answers an ad-hoc prompt through the same model and breaker. The
// fallback text does not apply.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	return c.execute(ctx, prompt)
}

func (c *Client) execute(ctx context.Context, prompt string) (string, error) {
	text, err := c.breaker.Execute(func() (string, error) {
		return c.generate(ctx, prompt)
	})
	if err == nil {
		return text, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if c.onFail != nil {
		c.onFail(c.name, err)
	}
	return "", err
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.cfg.Model, Prompt: prompt})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate: upstream returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("generate: decode: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("generate: %s", out.Error)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", ErrEmptyResponse
	}
	c.log.Debug("text generated", logx.Int("chars", len(text)), logx.Duration("took", time.Since(start)))
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
