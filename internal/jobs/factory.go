package jobs

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"schedbot/internal/recipient"
)

// Config is the untyped request to build a job, as received from chat
// commands, HTTP or seed configuration.
type Config struct {
	Kind       string   `json:"kind" validate:"required"`
	Recipients []string `json:"recipients" validate:"required,min=1"`
	Message    string   `json:"message,omitempty" validate:"required_without=Producer"`
	At         string   `json:"at,omitempty"`
	Expression string   `json:"expression,omitempty"`

	// Producer replaces Message with content computed at fire time.
	Producer      Producer  `json:"-" validate:"-"`
	ProducerLabel string    `json:"-" validate:"-"`
	AtTime        time.Time `json:"-" validate:"-"`
}

// AtLayouts are tried in order when Config.At carries no zone; the value is
// then read in the scheduler timezone.
var AtLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

type Factory struct {
	loc      *time.Location
	now      func() time.Time
	validate *validator.Validate
}

func NewFactory(loc *time.Location, now func() time.Time) *Factory {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return &Factory{loc: loc, now: now, validate: v}
}

func (f *Factory) Location() *time.Location { return f.loc }

// Create validates cfg and returns an active Job. It never touches a scheduler.
func (f *Factory) Create(cfg Config) (*Job, error) {
	if strings.TrimSpace(cfg.Kind) != "" {
		if _, err := ParseKind(cfg.Kind); err != nil {
			return nil, err
		}
	}
	if err := f.validate.Struct(cfg); err != nil {
		return nil, missingFields(err)
	}
	kind, _ := ParseKind(cfg.Kind)
	rcpts, err := recipient.NormalizeAll(cfg.Recipients)
	if err != nil {
		return nil, err
	}

	msg := Static(cfg.Message)
	if cfg.Producer != nil {
		msg = Computed(cfg.ProducerLabel, cfg.Producer)
	}

	now := f.now()
	var trig Trigger
	switch kind {
	case KindOneTime:
		at, err := f.resolveAt(cfg)
		if err != nil {
			return nil, err
		}
		if !at.After(now) {
			return nil, fmt.Errorf("%w: %s", ErrPastSchedule, at.Format(time.RFC3339))
		}
		// The timer has minute resolution and matches the date once a year.
		if !at.Truncate(time.Minute).After(now) {
			return nil, fmt.Errorf("%w: %s falls in the current minute", ErrInvalidSchedule, at.Format(time.RFC3339))
		}
		if at.After(now.AddDate(1, 0, 0)) {
			return nil, fmt.Errorf("%w: %s is more than a year ahead", ErrInvalidSchedule, at.Format(time.RFC3339))
		}
		trig = Trigger{Kind: KindOneTime, At: at}
	case KindRecurring:
		if strings.TrimSpace(cfg.Expression) == "" {
			return nil, fmt.Errorf("%w: expression", ErrMissingField)
		}
		expr := strings.Join(strings.Fields(cfg.Expression), " ")
		if err := ValidateExpression(expr); err != nil {
			return nil, err
		}
		trig = Trigger{Kind: KindRecurring, Expression: expr}
	}
	return newJob(kind, rcpts, msg, trig, f.loc, now), nil
}

func (f *Factory) resolveAt(cfg Config) (time.Time, error) {
	if !cfg.AtTime.IsZero() {
		return cfg.AtTime.In(f.loc), nil
	}
	raw := strings.TrimSpace(cfg.At)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: at", ErrMissingField)
	}
	return ParseAt(raw, f.loc)
}

// ParseAt reads an instant. RFC 3339 values keep their offset; everything
// else is interpreted in loc.
func ParseAt(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range AtLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized time %q", ErrInvalidSchedule, raw)
}

func missingFields(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fe.Field())
	}
	return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(names, ", "))
}
