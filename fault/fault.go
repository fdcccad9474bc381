// Package fault defines the rejection taxonomy shared by every component.
//
// Each component declares its own sentinels with New, one per rejection
// reason, so callers can match a specific reason with errors.Is and a whole
// class of reasons with KindOf.
package fault

import "errors"

// Kind classifies why an operation was rejected.
type Kind uint8

const (
	// Unknown is reported for errors that did not originate from a sentinel,
	// typically infrastructure failures.
	Unknown Kind = iota
	// Validation covers malformed input, wrong lifecycle state, duplicates and
	// exhausted limits.
	Validation
	// Authorization covers a caller that is not the expected party, proposer
	// or administrator.
	Authorization
	// Economic covers insufficient balances, exceeded caps and blocked scores.
	Economic
	// Timing covers enforcement attempted before it is due. It is retryable;
	// a window or deadline that has already passed is a Validation fault.
	Timing
	// NotFound covers records that do not exist.
	NotFound
	// Unavailable covers collaborators that could not be reached. Requests
	// that depend on them fail closed.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authorization:
		return "authorization"
	case Economic:
		return "economic"
	case Timing:
		return "timing"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a tagged rejection. Values are compared by identity, so a sentinel
// survives wrapping with fmt.Errorf("...: %w", err).
type Error struct {
	kind Kind
	msg  string
}

// New declares a sentinel of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind reports the rejection class.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return Unknown
}

// Is reports whether err carries a rejection of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
