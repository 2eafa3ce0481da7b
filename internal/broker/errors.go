package broker

import "fmt"

// Kind enumerates the categories of failure the broker must distinguish,
// as opposed to a single opaque error value.
type Kind int

const (
	// RootMissing means the root directory does not exist.
	RootMissing Kind = iota
	// RootUninitiated means the root exists but has no .ddmq marker file
	// (layout.MarkerFile); a root config file alone does not mark it initiated.
	RootUninitiated
	// QueueMissing means the queue directory is absent and create was not set.
	QueueMissing
	// InvalidName means a queue name failed the admin-surface regex.
	InvalidName
	// InvalidPriority means a negative priority was given at publish time.
	InvalidPriority
	// MalformedName means a file in a queue/work directory does not match
	// the filename grammar.
	MalformedName
	// IOFault covers any other filesystem error.
	IOFault
)

func (k Kind) String() string {
	switch k {
	case RootMissing:
		return "root_missing"
	case RootUninitiated:
		return "root_uninitiated"
	case QueueMissing:
		return "queue_missing"
	case InvalidName:
		return "invalid_name"
	case InvalidPriority:
		return "invalid_priority"
	case MalformedName:
		return "malformed_name"
	case IOFault:
		return "io_fault"
	default:
		return "unknown"
	}
}

// Error is the broker's error representation: a Kind plus an optional
// wrapped cause, so callers can branch with errors.As while still getting
// a useful message and chain with errors.Is/errors.Unwrap.
type Error struct {
	Kind  Kind
	Queue string
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Queue != "" {
		if e.Cause != nil {
			return fmt.Sprintf("ddmq: %s: queue %q: %s: %v", e.Kind, e.Queue, e.Msg, e.Cause)
		}
		return fmt.Sprintf("ddmq: %s: queue %q: %s", e.Kind, e.Queue, e.Msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("ddmq: %s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("ddmq: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, enabling
// errors.Is(err, &Error{Kind: QueueMissing}) style checks.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newErr(kind Kind, queue, msg string, cause error) *Error {
	return &Error{Kind: kind, Queue: queue, Msg: msg, Cause: cause}
}
