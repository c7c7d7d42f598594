package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var factoryNow = time.Date(2030, time.June, 1, 12, 0, 0, 0, bogota)

func TestFactoryCreateErrors(t *testing.T) {
	t.Parallel()
	f := NewFactory(bogota, fixedClock(factoryNow))
	rcpts := []string{"573001112233"}

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"unknown kind", Config{Kind: "weekly", Recipients: rcpts, Message: "x"}, ErrUnknownJobKind},
		{"unknown kind wins over missing fields", Config{Kind: "weekly"}, ErrUnknownJobKind},
		{"missing kind", Config{Recipients: rcpts, Message: "x"}, ErrMissingField},
		{"missing recipients", Config{Kind: "recurring", Message: "x", Expression: "* * * * *"}, ErrMissingField},
		{"missing message", Config{Kind: "recurring", Recipients: rcpts, Expression: "* * * * *"}, ErrMissingField},
		{"missing at", Config{Kind: "oneTime", Recipients: rcpts, Message: "x"}, ErrMissingField},
		{"missing expression", Config{Kind: "recurring", Recipients: rcpts, Message: "x"}, ErrMissingField},
		{"bad recipient", Config{Kind: "recurring", Recipients: []string{"573001112233", "12"}, Message: "x", Expression: "* * * * *"}, ErrInvalidRecipient},
		{"bad expression", Config{Kind: "recurring", Recipients: rcpts, Message: "x", Expression: "61 * * * *"}, ErrInvalidSchedule},
		{"bad at", Config{Kind: "oneTime", Recipients: rcpts, Message: "x", At: "tomorrow"}, ErrInvalidSchedule},
		{"past at", Config{Kind: "oneTime", Recipients: rcpts, Message: "x", At: "2030-06-01 11:59:00"}, ErrPastSchedule},
		{"at equal now", Config{Kind: "oneTime", Recipients: rcpts, Message: "x", At: "2030-06-01 12:00:00"}, ErrPastSchedule},
		{"at in current minute", Config{Kind: "oneTime", Recipients: rcpts, Message: "x", At: "2030-06-01 12:00:30"}, ErrInvalidSchedule},
		{"at beyond a year", Config{Kind: "oneTime", Recipients: rcpts, Message: "x", At: "2031-06-01 12:01:00"}, ErrInvalidSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j, err := f.Create(tt.cfg)
			assert.Nil(t, j)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestFactoryMissingFieldNamesField(t *testing.T) {
	t.Parallel()
	f := NewFactory(bogota, fixedClock(factoryNow))
	_, err := f.Create(Config{Kind: "recurring", Expression: "* * * * *"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipients")
	assert.Contains(t, err.Error(), "message")
}

func TestFactoryCreateOneTime(t *testing.T) {
	t.Parallel()
	f := NewFactory(bogota, fixedClock(factoryNow))

	tests := []struct {
		at   string
		want time.Time
	}{
		{"2030-06-02 08:15:00", time.Date(2030, time.June, 2, 8, 15, 0, 0, bogota)},
		{"2030-06-02T08:15:00", time.Date(2030, time.June, 2, 8, 15, 0, 0, bogota)},
		{"02/06/2030 08:15:00", time.Date(2030, time.June, 2, 8, 15, 0, 0, bogota)},
		{"2030-06-02T13:15:00Z", time.Date(2030, time.June, 2, 8, 15, 0, 0, bogota)},
	}
	for _, tt := range tests {
		j, err := f.Create(Config{Kind: "oneTime", Recipients: []string{"+57 300 111 2233"}, Message: "hi", At: tt.at})
		require.NoError(t, err, tt.at)
		assert.True(t, tt.want.Equal(j.Trigger().At), tt.at)
		assert.Equal(t, "15 8 2 6 *", j.Expression())
		assert.True(t, j.IsActive())
		assert.Equal(t, "573001112233", string(j.Recipients()[0]))
	}
}

func TestFactoryCreateRecurringWithProducer(t *testing.T) {
	t.Parallel()
	f := NewFactory(bogota, fixedClock(factoryNow))
	j, err := f.Create(Config{
		Kind:          "recurring",
		Recipients:    []string{"573001112233", "573004445566"},
		Expression:    "  0   9 * *  1-5 ",
		Producer:      ProducerFunc(func(context.Context) (string, error) { return "generated", nil }),
		ProducerLabel: "daily-quote",
	})
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * 1-5", j.Expression())

	info := j.Info()
	assert.Equal(t, KindRecurring, info.Kind)
	assert.True(t, info.Computed)
	assert.Equal(t, "computed:daily-quote", info.Message)
	assert.Equal(t, "America/Bogota", info.Timezone)
	assert.Nil(t, info.At)
	assert.Len(t, info.Recipients, 2)
}
