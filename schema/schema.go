// Package schema implements the constraint system: per-node checks applied
// to incoming tokens before their bodies are buffered, bounding receiver
// memory and enforcing type shape.
//
// A constraint answers two questions. CheckToken: is this token type, with
// this declared size, acceptable at this position? CheckOpentype: is a
// child structure of this kind acceptable here? Both answer with a
// Violation when the data is unacceptable; a token type outside the wire
// vocabulary is the decoder's problem and never reaches a constraint.
package schema

import "github.com/chazu/banana/token"

// A Constraint validates tokens arriving at one position of the structure
// tree. Constraints are immutable once built and may be shared freely
// between nodes; container constraints supply the constraints for their
// children.
type Constraint interface {
	// CheckToken is consulted for every token except Close and Abort,
	// before any body byte of a long token is buffered.
	CheckToken(tag byte, size uint64) error

	// CheckOpentype is consulted once the index tokens of a child
	// structure have been collected, before the child consumer is built.
	CheckOpentype(opentype []string) error
}

// limit resolves a configured byte bound, applying the default when the
// caller left it zero.
func limit(configured uint64) uint64 {
	if configured == 0 {
		return token.SizeLimit
	}
	return configured
}

// Any accepts every legal token, with only the default size limit on long
// bodies. An Any-constrained node puts no bound on structure depth or
// element count; on untrusted input, wrap it or rely on an outer limit.
type Any struct{}

func (Any) CheckToken(tag byte, size uint64) error {
	if token.IsLong(tag) && size > token.SizeLimit {
		return token.Violationf("%s token of %d bytes exceeds limit %d",
			token.Name(tag), size, token.SizeLimit)
	}
	return nil
}

func (Any) CheckOpentype(opentype []string) error { return nil }
