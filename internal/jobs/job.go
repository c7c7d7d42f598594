package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"schedbot/internal/recipient"
)

// Job is an immutable send definition plus a mutable active flag.
// The id lives in the Scheduler's registry, not on the Job.
type Job struct {
	kind       Kind
	recipients []recipient.Recipient
	message    MessageSource
	trigger    Trigger
	loc        *time.Location
	createdAt  time.Time

	active atomic.Bool
}

func newJob(kind Kind, rcpts []recipient.Recipient, msg MessageSource, trig Trigger, loc *time.Location, now time.Time) *Job {
	j := &Job{
		kind:       kind,
		recipients: rcpts,
		message:    msg,
		trigger:    trig,
		loc:        loc,
		createdAt:  now,
	}
	j.active.Store(true)
	return j
}

func (j *Job) Kind() Kind               { return j.kind }
func (j *Job) Trigger() Trigger         { return j.trigger }
func (j *Job) Message() MessageSource   { return j.message }
func (j *Job) Location() *time.Location { return j.loc }
func (j *Job) CreatedAt() time.Time     { return j.createdAt }
func (j *Job) Expression() string       { return j.trigger.Spec(j.loc) }
func (j *Job) IsActive() bool           { return j.active.Load() }
func (j *Job) SetActive(v bool)         { j.active.Store(v) }
func (j *Job) Recipients() []recipient.Recipient {
	out := make([]recipient.Recipient, len(j.recipients))
	copy(out, j.recipients)
	return out
}

// Execute fires the job once through d under id.
func (j *Job) Execute(ctx context.Context, id string, d *Dispatcher) DispatchReport {
	return d.Run(ctx, id, j)
}

// Info renders the job's static fields. Scheduler-owned fields (id, next,
// runs) are filled in by Scheduler.Snapshot.
func (j *Job) Info() Snapshot {
	s := Snapshot{
		Kind:       j.kind,
		Recipients: recipient.Strings(j.recipients),
		Message:    j.message.Describe(),
		Computed:   j.message.Kind() == SourceComputed,
		Timezone:   j.loc.String(),
		Active:     j.IsActive(),
		Expression: j.Expression(),
		CreatedAt:  j.createdAt,
	}
	if j.kind == KindOneTime {
		at := j.trigger.At.In(j.loc)
		s.At = &at
	}
	return s
}
