package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"oneTime", KindOneTime, true},
		{"one_time", KindOneTime, true},
		{"ONCE", KindOneTime, true},
		{"recurring", KindRecurring, true},
		{"weekly", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrUnknownJobKind, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestOneTimeSpecUsesSchedulerLocation(t *testing.T) {
	t.Parallel()
	// 14:30 UTC is 09:30 in Bogota (UTC-5, no DST).
	at := time.Date(2030, time.March, 7, 14, 30, 0, 0, time.UTC)
	trig := Trigger{Kind: KindOneTime, At: at}
	assert.Equal(t, "30 9 7 3 *", trig.Spec(bogota))
	assert.Equal(t, "30 14 7 3 *", trig.Spec(time.UTC))

	rec := Trigger{Kind: KindRecurring, Expression: "*/5 * * * *"}
	assert.Equal(t, "*/5 * * * *", rec.Spec(bogota))
}

func TestValidateExpression(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		ok   bool
	}{
		{"0 9 * * 1-5", true},
		{"*/15 * * * *", true},
		{"0 8,20 1 */2 *", true},
		{"@daily", true},
		{"@weekly", true},
		{"", false},
		{"0 9 * *", false},
		{"61 * * * *", false},
		{"0 0 9 * * *", false},
		{"every day", false},
		{"CRON_TZ=Asia/Tokyo 0 9 * * *", false},
		{"TZ=UTC 0 9 * * *", false},
		{"@every 1s", false},
		{"@every 5m", false},
	}
	for _, tt := range tests {
		err := ValidateExpression(tt.expr)
		if tt.ok {
			assert.NoError(t, err, tt.expr)
		} else {
			assert.ErrorIs(t, err, ErrInvalidSchedule, tt.expr)
		}
	}
}

func TestNextFires(t *testing.T) {
	t.Parallel()
	from := time.Date(2030, time.January, 1, 8, 0, 0, 0, bogota)
	got, err := NextFires("0 9 * * *", from, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2030, time.January, 1, 9, 0, 0, 0, bogota), got[0])
	assert.Equal(t, time.Date(2030, time.January, 3, 9, 0, 0, 0, bogota), got[2])

	_, err = NextFires("nope", from, 1)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}
