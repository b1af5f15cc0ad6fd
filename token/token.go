// Package token defines the banana wire alphabet: the closed set of token
// type bytes, the base-128 header encoding shared by every token, and the
// two failure classes used throughout the engine.
package token

import "fmt"

// Token type bytes. Every type byte has the high bit set; header digits do
// not, which is how the two are told apart on the wire.
const (
	List    byte = 0x80 // legacy oldbanana token, never valid here
	Int     byte = 0x81
	String  byte = 0x82
	Neg     byte = 0x83
	Float   byte = 0x84
	LongInt byte = 0x85
	LongNeg byte = 0x86
	Vocab   byte = 0x87
	Open    byte = 0x88
	Close   byte = 0x89
	Abort   byte = 0x8A
	Error   byte = 0x8D
)

// SizeLimit is the default bound on the body length of long tokens
// (String, LongInt, LongNeg, Error) when no tighter constraint applies.
const SizeLimit = 1000

var names = map[byte]string{
	List:    "LIST",
	Int:     "INT",
	String:  "STRING",
	Neg:     "NEG",
	Float:   "FLOAT",
	LongInt: "LONGINT",
	LongNeg: "LONGNEG",
	Vocab:   "VOCAB",
	Open:    "OPEN",
	Close:   "CLOSE",
	Abort:   "ABORT",
	Error:   "ERROR",
}

// Name returns a human-readable name for a token type byte.
func Name(tag byte) string {
	if n, ok := names[tag]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", tag)
}

// Legal reports whether tag is part of the current wire vocabulary. The
// legacy List token is not: receiving one means the peer speaks a protocol
// we cannot continue with.
func Legal(tag byte) bool {
	switch tag {
	case Int, String, Neg, Float, LongInt, LongNeg, Vocab, Open, Close, Abort, Error:
		return true
	}
	return false
}

// IsLong reports whether tag's header declares a body length that must be
// checked before the body is buffered.
func IsLong(tag byte) bool {
	switch tag {
	case String, LongInt, LongNeg, Error:
		return true
	}
	return false
}
