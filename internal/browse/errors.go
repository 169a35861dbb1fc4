package browse

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoReplayLog = errors.New("no replay log enabled for message VPN")
	ErrNoPrevPage  = errors.New("no previous page")
	ErrNoNextPage  = errors.New("no next page")
)

// InvalidStateError is returned when a browser operation runs while the
// browser is not in the state the operation requires, including when the
// browser was closed or reopened since the operation started.
type InvalidStateError struct {
	Expected []State
	Actual   State
	// Stale is set when the state matches but belongs to a later epoch.
	Stale bool
	// BenignRace marks an open that was overtaken by a close (opening to
	// closing), the expected outcome of switching sources quickly.
	BenignRace bool
}

func (e *InvalidStateError) Error() string {
	want := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		want[i] = s.String()
	}
	msg := fmt.Sprintf("invalid browser state: expected %s, actual %s", strings.Join(want, "|"), e.Actual)
	if e.Stale {
		msg += " (browser was reopened)"
	}
	return msg
}

// IsBenignRace reports whether err is an open invalidated by a concurrent close.
func IsBenignRace(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se) && se.BenignRace
}

// OpenError is returned by Open when the browser is not closed.
type OpenError struct {
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("cannot open browser: state is %s, want %s", e.State, StateClosed)
}

// PermissionError is a broker refusal for lack of authorization. It is never
// retried.
type PermissionError struct {
	Principal string
	Operation string
	Err       error
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("permission denied for %q", e.Principal)
	if e.Operation != "" {
		msg += " to " + e.Operation
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PermissionError) Unwrap() error { return e.Err }

// UnsupportedModeError is returned for source kind and mode combinations
// no strategy implements.
type UnsupportedModeError struct {
	Kind SourceKind
	Mode Mode
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("browse mode %s is not supported for %s sources", e.Mode, e.Kind)
}
