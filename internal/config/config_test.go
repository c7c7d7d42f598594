package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: info
  console: true
scheduler:
  timezone: America/Bogota
  one_time_policy: rearm
  rate_per_sec: 2
  send_timeout: 15s
transport:
  driver: console
  console:
    self: "573009998877"
sessions:
  autostart: [acme]
  seed_jobs:
    acme:
      - id: morning
        kind: recurring
        recipients: ["573001112233"]
        message: good morning
        expression: "0 8 * * *"
  commands:
    prefix: "!"
content:
  producers:
    poem:
      base_url: http://127.0.0.1:11434/api
      model: llama3
      prompt: write a short poem
      timeout: 30s
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	m := NewConfigManager(p)

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())
	assert.Equal(t, "America/Bogota", cfg.Scheduler.Timezone)
	assert.Equal(t, "console", cfg.Transport.Driver)
	require.Len(t, cfg.Sessions.SeedJobs["acme"], 1)
	assert.Equal(t, "0 8 * * *", cfg.Sessions.SeedJobs["acme"][0].Expression)
	assert.True(t, cfg.Sessions.ReadyNoticeEnabled())
	assert.Equal(t, 15*time.Second, DurationOr(cfg.Scheduler.SendTimeout, 0))
}

func TestExampleConfigParses(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfigManager(filepath.Join("..", "..", "config.example.yaml")).Parse()
	require.NoError(t, err)
	assert.Equal(t, "whatsapp", cfg.Transport.Driver)
	assert.Contains(t, cfg.Content.Producers, "poem")
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body, want string
	}{
		{"unknown key", "c.json", `{"transport":{"driver":"console"},"nope":1}`, "unknown field"},
		{"trailing", "c.json", `{"transport":{"driver":"console"}}{}`, "trailing data"},
		{"bad driver", "c.json", `{"transport":{"driver":"pigeon"}}`, "transport.driver"},
		{"bad timezone", "c.json", `{"transport":{"driver":"console"},"scheduler":{"timezone":"Mars/Base"}}`, "scheduler.timezone"},
		{"bad duration", "c.json", `{"transport":{"driver":"console"},"scheduler":{"send_timeout":"soon"}}`, "scheduler.send_timeout"},
		{"telegram token", "c.json", `{"transport":{"driver":"telegram"}}`, "transport.telegram.token"},
		{"bad policy", "c.json", `{"transport":{"driver":"console"},"scheduler":{"one_time_policy":"never"}}`, "one_time_policy"},
		{"bad tenant", "c.json", `{"transport":{"driver":"console"},"sessions":{"autostart":["a b"]}}`, "invalid tenant"},
		{"open http", "c.json", `{"transport":{"driver":"console"},"http":{"enabled":true,"addr":"0.0.0.0:8090"}}`, "http.token"},
		{"yaml syntax", "c.yaml", "transport: [", "yaml"},
		{"ask producer", "c.json", `{"transport":{"driver":"console"},"sessions":{"commands":{"ask_producer":"ghost"}}}`, "sessions.commands.ask_producer"},
		{
			"seed producer", "c.json",
			`{"transport":{"driver":"console"},"sessions":{"seed_jobs":{"acme":[{"id":"a","kind":"recurring","recipients":["573001112233"],"expression":"@daily","producer":"ghost"}]}}}`,
			"unknown producer",
		},
		{
			"seed duplicate", "c.json",
			`{"transport":{"driver":"console"},"sessions":{"seed_jobs":{"acme":[` +
				`{"id":"a","kind":"recurring","recipients":["1"],"message":"x","expression":"@daily"},` +
				`{"id":"a","kind":"recurring","recipients":["1"],"message":"x","expression":"@daily"}]}}}`,
			"duplicate id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), tt.file, tt.body)
			_, err := NewConfigManager(p).Parse()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", sampleYAML)
	writeFile(t, dir, ".env", "SCHEDBOT_HTTP_TOKEN=from-dotenv\n")
	t.Setenv("SCHEDBOT_TIMEZONE", "UTC")
	t.Setenv("SCHEDBOT_AUTOSTART", "one,two")
	t.Setenv("SCHEDBOT_HTTP_TOKEN", "")
	require.NoError(t, os.Unsetenv("SCHEDBOT_HTTP_TOKEN"))

	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, []string{"one", "two"}, cfg.Sessions.Autostart)
	assert.Equal(t, "from-dotenv", cfg.HTTP.Token)
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published)

	writeFile(t, filepath.Dir(p), "config.yaml", sampleYAML+"http:\n  enabled: true\n")
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, published)
	got := <-sub
	assert.True(t, got.HTTP.Enabled)

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	writeFile(t, filepath.Dir(p), "config.yaml", sampleYAML)
	_, err = m.Reload(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, m.Get().HTTP.Enabled)

	m.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	require.Eventually(t, func() bool {
		writeFile(t, filepath.Dir(p), "config.yaml", sampleYAML+"http:\n  pprof: true\n")
		select {
		case cfg := <-sub:
			return cfg.HTTP.Pprof
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	<-done
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	base := &Config{Transport: TransportConfig{Driver: "console"}}

	same := *base
	assert.True(t, SummarizeConfigChange(base, &same).Empty())

	next := *base
	next.Scheduler.RatePerSec = 5
	next.Scheduler.Timezone = "UTC"
	next.Transport.Telegram.Token = "secret"
	next.Sessions.Commands.Allow = []string{"573001112233"}
	ch := SummarizeConfigChange(base, &next)
	assert.Equal(t, []string{"commands", "dispatch", "scheduler", "transport"}, ch.Sections)
	assert.Equal(t, []string{"scheduler", "transport"}, ch.RestartRequired)
}
