package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedbot/internal/session"
)

const baseConfig = `
logging:
  level: error
transport:
  driver: console
  console:
    self: "573000000000"
sessions:
  autostart: [acme]
  ready_notice: false
  seed_jobs:
    acme:
      - id: morning
        kind: recurring
        recipients: ["573001112233"]
        message: good morning
        expression: "0 9 * * *"
storage:
  driver: file
  path: %s
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func startApp(t *testing.T) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(baseConfig, filepath.Join(dir, "audit"))
	p := writeConfig(t, dir, body)

	a, err := New(p, "test")
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopSignal)
	})
	return a, p
}

func TestStartAutostartsAndSeeds(t *testing.T) {
	a, _ := startApp(t)

	require.Eventually(t, func() bool { return a.sessions.IsReady("acme") }, 3*time.Second, 20*time.Millisecond)
	s, ok := a.sessions.Get("acme")
	require.True(t, ok)
	require.Eventually(t, func() bool { return s.Jobs().Len() == 1 }, time.Second, 10*time.Millisecond)

	snap, ok := s.Jobs().Get("morning")
	require.True(t, ok)
	assert.Equal(t, "good morning", snap.Message)
	assert.Equal(t, "America/Bogota", snap.Timezone)

	h := a.health()
	assert.Equal(t, "test", h["version"])
	assert.Contains(t, h["tasks"], "config.reload")
	assert.Equal(t, 1, a.sessions.CountByState()[session.StateReady])
}

func TestReloadAppliesCommandConfig(t *testing.T) {
	a, p := startApp(t)
	assert.Equal(t, "", a.cmdCfg.Load().Prefix)

	body := fmt.Sprintf(baseConfig, filepath.Join(filepath.Dir(p), "audit"))
	body = strings.Replace(body, "  ready_notice: false\n", "  ready_notice: false\n  commands:\n    prefix: \"/\"\n    disabled: true\n", 1)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	require.Eventually(t, func() bool { return a.cmdCfg.Load().Prefix == "/" }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, a.cmdOff.Load())
}

func TestSendAlertNeedsReadySession(t *testing.T) {
	a, _ := startApp(t)
	err := a.sendAlert(context.Background(), "boom")
	assert.Error(t, err)
}

func TestStopWithoutStart(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "transport:\n  driver: console\n")
	a, err := New(p, "test")
	require.NoError(t, err)
	assert.NoError(t, a.Stop(context.Background(), StopSignal))
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed before Start")
	}
}

