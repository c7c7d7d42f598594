package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, Nop().IsZero())
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "jobs"))
	l.Info("job scheduled", String("job", "j1"), Int("recipients", 2), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "jobs", m["comp"])
	assert.Equal(t, "j1", m["job"])
	assert.Equal(t, float64(2), m["recipients"])
	assert.Equal(t, "boom", m["err"])
	assert.Equal(t, "job scheduled", m["message"])
}

func TestWriterLoggerLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Contains(t, buf.String(), `"caller":"logging_test.go:`)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"Error", zerolog.ErrorLevel},
		{"loud", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in, zerolog.InfoLevel), tt.in)
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"send failed","job":"j2","comp":"dispatch"}`)
	got := formatAlert(line)
	assert.True(t, strings.HasPrefix(got, "[WARN] send failed"))
	assert.Contains(t, got, "- comp=dispatch\n- job=j2")
	assert.NotContains(t, got, "time=")
}

func TestServiceAlertSink(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		sent []string
	)
	svc, log := New(Config{Level: "debug", Alert: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 50}})
	defer svc.Close()
	svc.SetAlertSender(AlertSenderFunc(func(ctx context.Context, text string) error {
		mu.Lock()
		sent = append(sent, text)
		mu.Unlock()
		return nil
	}))

	log.Info("not forwarded")
	log.Warn("forwarded", String("tenant", "acme"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, sent[0], "[WARN] forwarded")
	assert.Contains(t, sent[0], "tenant=acme")
}
