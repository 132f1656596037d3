package collect

import (
	"errors"
	"fmt"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
)

// ErrFatal marks errors after which the session state can no longer be
// trusted. Every fatal class below wraps it.
var ErrFatal = errors.New("declarative debugger internal error")

var (
	ErrNoTraceMetadata  = fmt.Errorf("%w: event without execution trace metadata", ErrFatal)
	ErrUnsupportedPort  = fmt.Errorf("%w: foreign language code is not handled", ErrFatal)
	ErrUnexpectedMode   = fmt.Errorf("%w: unexpected controller mode", ErrFatal)
	ErrFrontEndContract = fmt.Errorf("%w: front end broke its contract", ErrFatal)
	ErrNotCollecting    = fmt.Errorf("%w: no collection in progress", ErrFatal)
	ErrInvariant        = fmt.Errorf("%w: tree invariant violated", ErrFatal)
)

// ErrCannotStart is returned when a session is refused before anything is
// collected. The engine is left where it was.
var ErrCannotStart = errors.New("declarative debugging cannot start")

// MissedBoundEventError reports that an event past the collection bound
// arrived. The engine has already been handed back to the user.
type MissedBoundEventError struct {
	Event uint64
	Bound uint64
}

func (e *MissedBoundEventError) Error() string {
	return fmt.Sprintf("missed final event: got event %d, bound was %d", e.Event, e.Bound)
}

// IsFatal reports whether err must abort the session.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var gb *aet.GraphBoundsError
	return errors.Is(err, ErrFatal) || errors.As(err, &gb)
}

func fatalf(class error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{class}, args...)...)
}

func fatalGraph(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}
