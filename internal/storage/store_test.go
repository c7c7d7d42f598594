package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedbot/internal/jobs"
	"schedbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo", Path: "x"}, logx.Nop())
	assert.Error(t, err)
}

func TestStores(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "audit.db")}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			ctx := context.Background()

			base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
			for i, tenant := range []string{"acme", "globex", "acme", "acme"} {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{
					At:     base.Add(time.Duration(i) * time.Second),
					Tenant: tenant,
					Actor:  "http",
					Action: "job.create",
					Target: []string{"a", "b", "c", "d"}[i],
					OK:     1,
				}))
			}

			got, err := st.Recent(ctx, "acme", 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "d", got[0].Target)
			assert.Equal(t, "c", got[1].Target)
			assert.NotEmpty(t, got[0].ID)
			assert.True(t, got[0].At.Equal(base.Add(3*time.Second)))

			all, err := st.Recent(ctx, "", 10)
			require.NoError(t, err)
			assert.Len(t, all, 4)
		})
	}
}

func TestDispatchEntry(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	rep := jobs.DispatchReport{
		RunID:      "run-1",
		Tenant:     "acme",
		JobID:      "morning",
		Kind:       jobs.KindRecurring,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Outcomes: []jobs.Outcome{
			{Recipient: "573001112233", Delivered: true},
			{Recipient: "573004445566", Err: "blocked"},
		},
	}
	e := DispatchEntry(rep)
	assert.Equal(t, "run-1", e.ID)
	assert.Equal(t, "job.dispatch", e.Action)
	assert.Equal(t, "morning", e.Target)
	assert.Equal(t, 1, e.OK)
	assert.Equal(t, 1, e.Fail)
	assert.Equal(t, int64(1500), e.TookMS)
	assert.Contains(t, e.Meta, "573004445566")
	assert.NotContains(t, e.Meta, "573001112233")
}
