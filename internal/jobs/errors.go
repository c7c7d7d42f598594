package jobs

import (
	"errors"

	"schedbot/internal/recipient"
)

// Validation errors are returned synchronously by Factory.Create and never
// leave partial state behind.
var (
	ErrMissingField     = errors.New("missing field")
	ErrInvalidRecipient = recipient.ErrInvalid
	ErrInvalidSchedule  = errors.New("invalid schedule")
	ErrPastSchedule     = errors.New("schedule is not in the future")
	ErrUnknownJobKind   = errors.New("unknown job kind")
)

var (
	ErrDuplicateID        = errors.New("job id already scheduled")
	ErrNotFound           = errors.New("job not found")
	ErrContentUnavailable = errors.New("message content unavailable")
)

// IsValidation reports whether err comes from job construction.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidRecipient) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrPastSchedule) ||
		errors.Is(err, ErrUnknownJobKind)
}
