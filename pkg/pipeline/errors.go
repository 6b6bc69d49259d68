package pipeline

import (
	"errors"
	"fmt"

	"walktour/pkg/cancel"
	"walktour/pkg/model"
)

// ValidationError reports a missing or malformed required input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

// UnitError records a single unit that failed after its retries. It does
// not fail the run.
type UnitError struct {
	Kind  model.UnitKind
	Index int
	Msg   string
}

func (e *UnitError) Error() string {
	unit := "intro"
	if e.Index != model.IntroIndex {
		unit = fmt.Sprintf("stop %d", e.Index)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Kind, unit, e.Msg)
}

// ErrPartialGeneration is matched by the joined unit failures of a run.
var ErrPartialGeneration = errors.New("partial generation failure")

// Is lets errors.Is(err, ErrPartialGeneration) match any UnitError.
func (e *UnitError) Is(target error) bool { return target == ErrPartialGeneration }

// IsCancelled reports whether err is a session cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, cancel.ErrCancelled)
}

// failureReason is the message recorded on a failed document.
func failureReason(err error) string {
	var ve *ValidationError
	switch {
	case IsCancelled(err):
		return "cancelled: " + err.Error()
	case errors.As(err, &ve):
		return "validation: " + ve.Error()
	default:
		return err.Error()
	}
}
