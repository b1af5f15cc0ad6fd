package banana

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/banana/schema"
	"github.com/chazu/banana/token"
)

func TestRootConstraintRejectsAndResyncs(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Send(strings.Repeat("x", 200)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := enc.Send("ok"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	dec := NewDecoder(&buf, WithRootConstraint(schema.String{MaxLength: 100}))
	_, err := dec.Receive()
	var v *token.Violation
	if !errors.As(err, &v) {
		t.Fatalf("oversized string: got %v, want a violation", err)
	}

	// the decoder must have resynchronized past the rejected body
	got, err := dec.Receive()
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if got != "ok" {
		t.Errorf("second object: got %v", got)
	}
}

func TestConstraintRejectsWrongType(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Send(int64(5)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	dec := NewDecoder(&buf, WithRootConstraint(schema.String{}))
	_, err := dec.Receive()
	var v *token.Violation
	if !errors.As(err, &v) {
		t.Fatalf("got %v, want a violation", err)
	}
}

func TestListItemConstraintViolationAbandonsList(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Send([]any{int64(1), "not a number", int64(3)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := enc.Send([]any{int64(9)}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	dec := NewDecoder(&buf, WithRootConstraint(schema.List{Item: schema.Integer{}}))
	_, err := dec.Receive()
	var v *token.Violation
	if !errors.As(err, &v) {
		t.Fatalf("got %v, want a violation", err)
	}
	if v.Where != "[1]" {
		t.Errorf("failure location: got %q, want %q", v.Where, "[1]")
	}

	got, err := dec.Receive()
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	l, ok := got.([]any)
	if !ok || len(l) != 1 || l[0] != int64(9) {
		t.Errorf("second object: got %#v", got)
	}
}

func TestNestedViolationReportsDeepestLocation(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	obj := []any{
		[]any{int64(1)},
		[]any{int64(2), "bad"},
	}
	if err := enc.Send(obj); err != nil {
		t.Fatalf("Send: %v", err)
	}

	inner := schema.List{Item: schema.Integer{}}
	dec := NewDecoder(&buf, WithRootConstraint(schema.List{Item: inner}))
	_, err := dec.Receive()
	var v *token.Violation
	if !errors.As(err, &v) {
		t.Fatalf("got %v, want a violation", err)
	}
	if v.Where != "[1].[1]" {
		t.Errorf("failure location: got %q, want %q", v.Where, "[1].[1]")
	}
}

func TestSenderAbortSurfacesAsViolation(t *testing.T) {
	type opaque struct{}
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	// the unserializable element aborts the list mid-stream
	if err := enc.Send([]any{int64(1), opaque{}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := enc.Send("after"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	dec := NewDecoder(&buf)
	_, err := dec.Receive()
	var v *token.Violation
	if !errors.As(err, &v) {
		t.Fatalf("got %v, want a violation", err)
	}
	if !strings.Contains(v.Msg, "aborted by sender") {
		t.Errorf("message: got %q", v.Msg)
	}

	got, err := dec.Receive()
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if got != "after" {
		t.Errorf("second object: got %v", got)
	}
}

func TestEncoderRefusesUnknownTypeAtTopLevel(t *testing.T) {
	type opaque struct{}
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	err := enc.Send(opaque{})
	var v *token.Violation
	if !errors.As(err, &v) {
		t.Fatalf("got %v, want a violation", err)
	}
	if buf.Len() != 0 {
		t.Errorf("refused object leaked %d bytes onto the wire", buf.Len())
	}

	// the encoder survives a top-level refusal
	if err := enc.Send(int64(1)); err != nil {
		t.Fatalf("Send after refusal: %v", err)
	}
}

func TestDecoderTokenSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Send(strings.Repeat("y", 20)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := enc.Send("ok"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	dec := NewDecoder(&buf, WithMaxTokenSize(10))
	_, err := dec.Receive()
	var v *token.Violation
	if !errors.As(err, &v) {
		t.Fatalf("got %v, want a violation", err)
	}
	if !strings.Contains(v.Msg, "connection limit") {
		t.Errorf("message: got %q", v.Msg)
	}

	got, err := dec.Receive()
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if got != "ok" {
		t.Errorf("second object: got %v", got)
	}
}

func TestDanglingDictKeyReportsClosingFrame(t *testing.T) {
	// dict closed immediately after a key, before its value arrives
	var buf bytes.Buffer
	writeHeader := func(v uint64, tag byte) {
		buf.Write(append(token.AppendHeader(nil, v), tag))
	}
	writeString := func(s string) {
		writeHeader(uint64(len(s)), token.String)
		buf.WriteString(s)
	}
	writeHeader(0, token.Open)
	writeString("dict")
	writeString("k")
	writeHeader(0, token.Close)

	dec := NewDecoder(&buf)
	_, err := dec.Receive()
	var v *token.Violation
	if !errors.As(err, &v) {
		t.Fatalf("got %v, want a violation", err)
	}
	if !strings.Contains(v.Msg, "dangling") {
		t.Errorf("message: got %q", v.Msg)
	}
	// the location must include the dict's own fragment
	if v.Where != "{k}" {
		t.Errorf("failure location: got %q, want %q", v.Where, "{k}")
	}
}

func TestDictDuplicateKeyViolation(t *testing.T) {
	// hand-built stream: a dict sending the same key twice
	var buf bytes.Buffer
	writeHeader := func(v uint64, tag byte) {
		buf.Write(append(token.AppendHeader(nil, v), tag))
	}
	writeString := func(s string) {
		writeHeader(uint64(len(s)), token.String)
		buf.WriteString(s)
	}
	writeHeader(0, token.Open)
	writeString("dict")
	writeString("k")
	writeHeader(1, token.Int)
	writeString("k")
	writeHeader(2, token.Int)
	writeHeader(0, token.Close)

	dec := NewDecoder(&buf)
	_, err := dec.Receive()
	var v *token.Violation
	if !errors.As(err, &v) {
		t.Fatalf("got %v, want a violation", err)
	}
	if !strings.Contains(v.Msg, "duplicate") {
		t.Errorf("message: got %q", v.Msg)
	}
}
