package xlat

import "errors"

// outcome classifies how _translate_packet (translate4to6/translate6to4)
// disposed of a packet, per the error taxonomy in spec.md §7. It never
// carries a Go error for the ordinary packet-drop/policy-drop cases --
// those are expected, frequent, and must not allocate.
type outcome int

const (
	outcomeTranslated outcome = iota
	outcomeDroppedSilently
	outcomeDroppedWithReply
)

// ErrInvariantViolation is returned (never recovered from) when a buffer
// invariant is violated -- size underflow, capacity exceeded, a scratch
// region written past its declared bound. This is a bug, not an
// operational condition: the worker loop lets it propagate and the process
// exits with code 3, per spec.md §7's "Invariant violation" class.
var ErrInvariantViolation = errors.New("xlat: invariant violation")

// FatalIOError wraps an I/O-fatal condition (EBADF, EIO, endpoint closed)
// as classified by an Endpoint implementation. The worker loop logs it and
// the process exits with code 2.
type FatalIOError struct {
	Op  string
	Err error
}

func (e *FatalIOError) Error() string {
	return "xlat: fatal I/O error during " + e.Op + ": " + e.Err.Error()
}

func (e *FatalIOError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err should terminate the worker (and, ultimately,
// the process) rather than being treated as a single packet's
// packet-drop/policy-drop outcome.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fatal *FatalIOError
	return errors.As(err, &fatal) || errors.Is(err, ErrInvariantViolation)
}
