package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind string

const (
	KindOneTime   Kind = "one_time"
	KindRecurring Kind = "recurring"
)

// ParseKind accepts the canonical names plus the spellings used by chat commands.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "one_time", "onetime", "one-time", "once":
		return KindOneTime, nil
	case "recurring", "cron":
		return KindRecurring, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownJobKind, s)
	}
}

// cronParser is shared by validation and registration so both accept exactly
// the same grammar: minute hour dom month dow, plus @daily style descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateExpression checks expr against the scheduling grammar. Timezone
// prefixes (TZ=, CRON_TZ=) and @every intervals are refused: every job fires
// on the scheduler's wall clock.
func ValidateExpression(expr string) error {
	_, err := parseExpression(expr)
	return err
}

func parseExpression(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("%w: %q: timezone prefix not allowed", ErrInvalidSchedule, expr)
	}
	if strings.HasPrefix(expr, "@every") {
		return nil, fmt.Errorf("%w: %q: @every is not supported", ErrInvalidSchedule, expr)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// Trigger is the timing rule of a job.
type Trigger struct {
	Kind       Kind
	At         time.Time // OneTime only
	Expression string    // Recurring only
}

// Spec returns the cron expression the scheduler registers.
// For OneTime it matches At's minute, hour, day and month in loc, any weekday.
func (t Trigger) Spec(loc *time.Location) string {
	if t.Kind != KindOneTime {
		return t.Expression
	}
	if loc == nil {
		loc = time.Local
	}
	at := t.At.In(loc)
	return fmt.Sprintf("%d %d %d %d *", at.Minute(), at.Hour(), at.Day(), int(at.Month()))
}

// NextFires previews the next n fire times of expr after from (in from's location).
func NextFires(expr string, from time.Time, n int) ([]time.Time, error) {
	sched, err := parseExpression(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
