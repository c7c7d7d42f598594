package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedbot/internal/jobs"
)

func TestObserveDispatch(t *testing.T) {
	t.Parallel()
	m := New()
	start := time.Now()

	tests := []struct {
		name   string
		rep    jobs.DispatchReport
		result string
	}{
		{"ok", jobs.DispatchReport{Outcomes: []jobs.Outcome{{Delivered: true}}}, "ok"},
		{"partial", jobs.DispatchReport{Outcomes: []jobs.Outcome{{Delivered: true}, {Err: "x"}}}, "partial"},
		{"failed", jobs.DispatchReport{Outcomes: []jobs.Outcome{{Err: "x"}}}, "failed"},
		{"no content", jobs.DispatchReport{ContentErr: "down"}, "no_content"},
	}
	for _, tt := range tests {
		tt.rep.Tenant = "acme"
		tt.rep.StartedAt, tt.rep.FinishedAt = start, start.Add(time.Second)
		m.ObserveDispatch(tt.rep)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchRuns.WithLabelValues("acme", tt.result)), tt.name)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchOutcomes.WithLabelValues("acme", "delivered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchOutcomes.WithLabelValues("acme", "failed")))
}

func TestGaugesAndHandler(t *testing.T) {
	t.Parallel()
	m := New()
	m.SetJobs("acme", jobs.Summary{Total: 3, Active: 2, Paused: 1})
	m.SetSessions(map[string]int{"ready": 2, "authenticating": 1})
	m.SetSessions(map[string]int{"ready": 1})
	m.ContentFailure("poem", errors.New("down"))
	m.Action("job.create", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues("acme", "active")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sessions))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `schedbot_content_failures_total{producer="poem"} 1`)
	assert.Contains(t, string(body), `schedbot_commands_total{action="job.create",outcome="ok"} 1`)

	m.ForgetTenant("acme")
	assert.Equal(t, 0, testutil.CollectAndCount(m.jobs))
}
