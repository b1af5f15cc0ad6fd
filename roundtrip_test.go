package banana

import (
	"bytes"
	"io"
	"math"
	"math/big"
	"reflect"
	"testing"
)

// roundTrip sends obj through a fresh encoder/decoder pair and returns
// the decoded result.
func roundTrip(t *testing.T, obj any) any {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Send(obj); err != nil {
		t.Fatalf("Send: %v", err)
	}
	dec := NewDecoder(&buf)
	got, err := dec.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return got
}

func TestRoundTripScalars(t *testing.T) {
	cases := []struct {
		in   any
		want any
	}{
		{int64(0), int64(0)},
		{int64(42), int64(42)},
		{int(7), int64(7)},
		{int64(-1), int64(-1)},
		{int64(-123456789), int64(-123456789)},
		{int64(math.MaxInt64), int64(math.MaxInt64)},
		{int64(math.MinInt64), int64(math.MinInt64)},
		{3.14, 3.14},
		{-0.5, -0.5},
		{"", ""},
		{"hello", "hello"},
		{true, true},
		{false, false},
		{nil, nil},
	}
	for _, c := range cases {
		got := roundTrip(t, c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("round trip %v (%T): got %v (%T)", c.in, c.in, got, got)
		}
	}
}

func TestRoundTripBigInt(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	got := roundTrip(t, huge)
	bi, ok := got.(*big.Int)
	if !ok {
		t.Fatalf("got %T, want *big.Int", got)
	}
	if bi.Cmp(huge) != 0 {
		t.Errorf("got %v, want %v", bi, huge)
	}

	neg := new(big.Int).Neg(huge)
	got = roundTrip(t, neg)
	bi, ok = got.(*big.Int)
	if !ok {
		t.Fatalf("got %T, want *big.Int", got)
	}
	if bi.Cmp(neg) != 0 {
		t.Errorf("got %v, want %v", bi, neg)
	}
}

func TestRoundTripLargeUint64(t *testing.T) {
	got := roundTrip(t, uint64(math.MaxUint64))
	bi, ok := got.(*big.Int)
	if !ok {
		t.Fatalf("got %T, want *big.Int", got)
	}
	if bi.Cmp(new(big.Int).SetUint64(math.MaxUint64)) != 0 {
		t.Errorf("got %v", bi)
	}
}

func TestRoundTripContainers(t *testing.T) {
	obj := map[string]any{
		"numbers": []any{int64(1), int64(2), int64(3)},
		"nested":  map[string]any{"deep": []any{"a", "b"}},
		"flag":    true,
		"nothing": nil,
	}
	got := roundTrip(t, obj)
	if !reflect.DeepEqual(got, obj) {
		t.Errorf("got %#v, want %#v", got, obj)
	}
}

func TestRoundTripEmptyContainers(t *testing.T) {
	got := roundTrip(t, []any{})
	if l, ok := got.([]any); !ok || len(l) != 0 {
		t.Errorf("empty list: got %#v", got)
	}
	got = roundTrip(t, map[string]any{})
	if m, ok := got.(map[string]any); !ok || len(m) != 0 {
		t.Errorf("empty dict: got %#v", got)
	}
}

func TestSharedReference(t *testing.T) {
	shared := []any{int64(1), int64(2)}
	obj := []any{shared, shared}

	got := roundTrip(t, obj)
	l, ok := got.([]any)
	if !ok || len(l) != 2 {
		t.Fatalf("got %#v", got)
	}
	a, b := l[0].([]any), l[1].([]any)
	if !reflect.DeepEqual(a, shared) {
		t.Errorf("first copy: got %#v", a)
	}
	if reflect.ValueOf(a).Pointer() != reflect.ValueOf(b).Pointer() {
		t.Error("shared list decoded as two distinct objects")
	}
}

func TestSlicePrefixIsNotConflated(t *testing.T) {
	backing := []any{int64(1), int64(2)}
	// both views share a backing-array base but differ in extent
	obj := []any{backing[:1], backing}

	got := roundTrip(t, obj)
	l, ok := got.([]any)
	if !ok || len(l) != 2 {
		t.Fatalf("got %#v", got)
	}
	if want := []any{int64(1)}; !reflect.DeepEqual(l[0], want) {
		t.Errorf("prefix: got %#v, want %#v", l[0], want)
	}
	if want := []any{int64(1), int64(2)}; !reflect.DeepEqual(l[1], want) {
		t.Errorf("full slice: got %#v, want %#v", l[1], want)
	}
}

func TestIdenticalSliceViewsShareOneReference(t *testing.T) {
	backing := []any{int64(1), int64(2)}
	obj := []any{backing, backing[:2]}

	got := roundTrip(t, obj)
	l, ok := got.([]any)
	if !ok || len(l) != 2 {
		t.Fatalf("got %#v", got)
	}
	if reflect.ValueOf(l[0]).Pointer() != reflect.ValueOf(l[1]).Pointer() {
		t.Error("same-extent views decoded as two distinct objects")
	}
}

func TestSelfReferentialList(t *testing.T) {
	l := make([]any, 1)
	l[0] = l

	got := roundTrip(t, l)
	out, ok := got.([]any)
	if !ok || len(out) != 1 {
		t.Fatalf("got %#v", got)
	}
	inner, ok := out[0].([]any)
	if !ok {
		t.Fatalf("element: got %T", out[0])
	}
	if reflect.ValueOf(out).Pointer() != reflect.ValueOf(inner).Pointer() {
		t.Error("cycle not closed: element is not the list itself")
	}
}

func TestSelfReferentialDict(t *testing.T) {
	m := map[string]any{}
	m["self"] = m

	got := roundTrip(t, m)
	out, ok := got.(map[string]any)
	if !ok || len(out) != 1 {
		t.Fatalf("got %#v", got)
	}
	inner, ok := out["self"].(map[string]any)
	if !ok {
		t.Fatalf("value: got %T", out["self"])
	}
	if reflect.ValueOf(out).Pointer() != reflect.ValueOf(inner).Pointer() {
		t.Error("cycle not closed: value is not the dict itself")
	}
}

func TestMultipleSendsShareOneCounter(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := 0; i < 3; i++ {
		if err := enc.Send([]any{int64(i)}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	dec := NewDecoder(&buf)
	for i := 0; i < 3; i++ {
		got, err := dec.Receive()
		if err != nil {
			t.Fatalf("Receive %d: %v", i, err)
		}
		want := []any{int64(i)}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Receive %d: got %#v", i, got)
		}
	}
	if _, err := dec.Receive(); err != io.EOF {
		t.Errorf("after last object: got %v, want io.EOF", err)
	}
}

func TestReferenceAcrossSends(t *testing.T) {
	shared := []any{"payload"}
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Send(shared); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := enc.Send(shared); err != nil {
		t.Fatalf("second Send: %v", err)
	}

	dec := NewDecoder(&buf)
	first, err := dec.Receive()
	if err != nil {
		t.Fatalf("first Receive: %v", err)
	}
	second, err := dec.Receive()
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if reflect.ValueOf(first).Pointer() != reflect.ValueOf(second).Pointer() {
		t.Error("object sent twice decoded as two distinct objects")
	}
}
