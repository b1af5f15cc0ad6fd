package schema

import "github.com/chazu/banana/token"

// String accepts a single string. MaxLength bounds its byte length; zero
// applies the default limit. Vocab substitutions are accepted wherever a
// string would be.
type String struct {
	MaxLength uint64
}

func (c String) CheckToken(tag byte, size uint64) error {
	switch tag {
	case token.String:
		if size > limit(c.MaxLength) {
			return token.Violationf("string of %d bytes exceeds limit %d",
				size, limit(c.MaxLength))
		}
		return nil
	case token.Vocab:
		return nil
	}
	return token.Violationf("expected a string, got %s", token.Name(tag))
}

func (c String) CheckOpentype(opentype []string) error {
	return token.Violationf("expected a string, not a %v structure", opentype)
}

// Integer accepts Int and Neg, plus LongInt/LongNeg bodies of up to
// MaxBytes bytes (zero applies the default limit).
type Integer struct {
	MaxBytes uint64
}

func (c Integer) CheckToken(tag byte, size uint64) error {
	switch tag {
	case token.Int, token.Neg:
		return nil
	case token.LongInt, token.LongNeg:
		if size > limit(c.MaxBytes) {
			return token.Violationf("integer of %d bytes exceeds limit %d",
				size, limit(c.MaxBytes))
		}
		return nil
	}
	return token.Violationf("expected an integer, got %s", token.Name(tag))
}

func (c Integer) CheckOpentype(opentype []string) error {
	return token.Violationf("expected an integer, not a %v structure", opentype)
}

// Number accepts any numeric token: Int, Neg, Float, and long integers
// within the default limit.
type Number struct{}

func (Number) CheckToken(tag byte, size uint64) error {
	switch tag {
	case token.Int, token.Neg, token.Float:
		return nil
	case token.LongInt, token.LongNeg:
		if size > token.SizeLimit {
			return token.Violationf("integer of %d bytes exceeds limit %d",
				size, token.SizeLimit)
		}
		return nil
	}
	return token.Violationf("expected a number, got %s", token.Name(tag))
}

func (Number) CheckOpentype(opentype []string) error {
	return token.Violationf("expected a number, not a %v structure", opentype)
}

// Boolean accepts the boolean structure and nothing else.
type Boolean struct{}

func (Boolean) CheckToken(tag byte, size uint64) error {
	if tag == token.Open {
		return nil
	}
	return token.Violationf("expected a boolean, got %s", token.Name(tag))
}

func (Boolean) CheckOpentype(opentype []string) error {
	if len(opentype) == 1 && opentype[0] == "boolean" {
		return nil
	}
	return token.Violationf("expected a boolean, not a %v structure", opentype)
}

// List accepts a list structure whose elements satisfy Item and whose
// length does not exceed MaxLength. A nil Item leaves elements
// unconstrained; a zero MaxLength leaves the length unbounded.
type List struct {
	Item      Constraint
	MaxLength uint64
}

func (c List) CheckToken(tag byte, size uint64) error {
	if tag == token.Open {
		return nil
	}
	return token.Violationf("expected a list, got %s", token.Name(tag))
}

func (c List) CheckOpentype(opentype []string) error {
	if len(opentype) == 1 && opentype[0] == "list" {
		return nil
	}
	return token.Violationf("expected a list, not a %v structure", opentype)
}

// Dict accepts a dict structure. Key and Value constrain the pairs (nil
// leaves them unconstrained; keys are always strings); MaxKeys bounds the
// number of entries, zero meaning unbounded.
type Dict struct {
	Key     Constraint
	Value   Constraint
	MaxKeys uint64
}

func (c Dict) CheckToken(tag byte, size uint64) error {
	if tag == token.Open {
		return nil
	}
	return token.Violationf("expected a dict, got %s", token.Name(tag))
}

func (c Dict) CheckOpentype(opentype []string) error {
	if len(opentype) == 1 && opentype[0] == "dict" {
		return nil
	}
	return token.Violationf("expected a dict, not a %v structure", opentype)
}
