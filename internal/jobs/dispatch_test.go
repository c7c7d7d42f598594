package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedbot/internal/recipient"
	"schedbot/pkg/logx"
)

func newTestJob(t *testing.T, msg MessageSource, rcpts ...string) *Job {
	t.Helper()
	rs, err := recipient.NormalizeAll(rcpts)
	require.NoError(t, err)
	return newJob(KindRecurring, rs, msg, Trigger{Kind: KindRecurring, Expression: "* * * * *"}, bogota, time.Now())
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{fail: map[recipient.Recipient]bool{"573000000002": true}}
	d := NewDispatcher("acme", DispatchConfig{}, snd, logx.Nop())
	j := newTestJob(t, Static("hello"), "573000000001", "573000000002", "573000000003")

	rep := d.Run(context.Background(), "j1", j)

	require.Len(t, rep.Outcomes, 3)
	assert.Equal(t, 2, rep.Delivered())
	assert.Equal(t, 1, rep.Failed())
	assert.False(t, rep.Outcomes[1].Delivered)
	assert.Contains(t, rep.Outcomes[1].Err, "refused")
	assert.Equal(t, "hello", rep.Content)
	assert.Equal(t, "acme", rep.Tenant)
	assert.Equal(t, "j1", rep.JobID)
	assert.NotEmpty(t, rep.RunID)
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))

	got := snd.sent()
	require.Len(t, got, 3)
	for i, want := range []recipient.Recipient{"573000000001", "573000000002", "573000000003"} {
		assert.Equal(t, want, got[i].to, "sends follow list order")
		assert.Equal(t, "hello", got[i].text)
	}
}

func TestDispatchContentFailureSkipsSends(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	d := NewDispatcher("acme", DispatchConfig{}, snd, logx.Nop())
	var reports []DispatchReport
	d.OnReport(func(r DispatchReport) { reports = append(reports, r) })

	j := newTestJob(t, Computed("quote", ProducerFunc(func(context.Context) (string, error) {
		return "", errors.New("model offline")
	})), "573000000001")

	rep := d.Run(context.Background(), "j2", j)
	assert.Empty(t, snd.sent())
	assert.Empty(t, rep.Outcomes)
	assert.Contains(t, rep.ContentErr, "model offline")
	require.Len(t, reports, 1)
	assert.Equal(t, rep.RunID, reports[0].RunID)
}

func TestDispatchSendTimeout(t *testing.T) {
	t.Parallel()
	slow := SenderFunc(func(ctx context.Context, to recipient.Recipient, text string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d := NewDispatcher("acme", DispatchConfig{SendTimeout: 20 * time.Millisecond}, slow, logx.Nop())
	j := newTestJob(t, Static("x"), "573000000001", "573000000002")

	rep := d.Run(context.Background(), "slow", j)
	require.Len(t, rep.Outcomes, 2)
	assert.Equal(t, 2, rep.Failed())
	assert.Contains(t, rep.Outcomes[0].Err, context.DeadlineExceeded.Error())
}

func TestDispatchWithoutSender(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("acme", DispatchConfig{RatePerSec: 100}, nil, logx.Nop())
	rep := d.Run(context.Background(), "j", newTestJob(t, Static("x"), "573000000001"))
	assert.Equal(t, 1, rep.Failed())

	snd := &fakeSender{}
	d.SetSender(snd)
	rep = d.Run(context.Background(), "j", newTestJob(t, Static("x"), "573000000001"))
	assert.Equal(t, 1, rep.Delivered())
}

func TestDispatchConcurrentRuns(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	d := NewDispatcher("acme", DispatchConfig{}, snd, logx.Nop())
	j := newTestJob(t, Static("x"), "573000000001")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(context.Background(), "j", j)
		}()
	}
	wg.Wait()
	assert.Len(t, snd.sent(), 8)
}
