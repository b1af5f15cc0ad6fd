package token

import "fmt"

// Violation is a recoverable, subtree-scoped failure: incoming data broke
// a constraint, or a taster refused an object. The frame that raised it
// (and everything nested under it) is abandoned; the connection survives.
type Violation struct {
	Msg string

	// Where is the object-graph path of the original failure site. It is
	// set at most once; later SetLocation calls are ignored so re-wrapping
	// never moves the reported location.
	Where string

	// Wrapped carries a failure being propagated through an enclosing
	// frame. Propagation uses the innermost failure (see Original) instead
	// of nesting one Violation per stack level.
	Wrapped error
}

// Violationf creates a Violation with a formatted message.
func Violationf(format string, args ...any) *Violation {
	return &Violation{Msg: fmt.Sprintf(format, args...)}
}

func (v *Violation) Error() string {
	if v.Where != "" {
		return fmt.Sprintf("violation (at %s): %s", v.Where, v.Msg)
	}
	return "violation: " + v.Msg
}

// SetLocation records the failure path. The first caller wins.
func (v *Violation) SetLocation(where string) {
	if v.Where == "" {
		v.Where = where
	}
}

func (v *Violation) Unwrap() error { return v.Wrapped }

// Original returns the innermost Violation in a chain of re-raises.
func (v *Violation) Original() *Violation {
	cur := v
	for {
		inner, ok := cur.Wrapped.(*Violation)
		if !ok {
			return cur
		}
		cur = inner
	}
}

// ProtocolError is a fatal wire-format failure: the token stream itself is
// malformed, or reference bookkeeping broke. The connection must drop; no
// further tokens are processed in either direction.
type ProtocolError struct {
	Msg   string
	Where string
}

// Protocolf creates a ProtocolError with a formatted message.
func Protocolf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ProtocolError) Error() string {
	if e.Where != "" {
		return fmt.Sprintf("protocol error (in %s): %s", e.Where, e.Msg)
	}
	return "protocol error: " + e.Msg
}

// SetLocation records the failure path. The first caller wins.
func (e *ProtocolError) SetLocation(where string) {
	if e.Where == "" {
		e.Where = where
	}
}
