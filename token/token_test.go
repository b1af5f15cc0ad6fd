package token

import (
	"math"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 44, 127, 128, 300, 1000, 1 << 20, 1 << 40, math.MaxUint64}
	for _, v := range values {
		buf := AppendHeader(nil, v)
		buf = append(buf, Int)
		got, n, ok, err := ParseHeader(buf)
		if err != nil {
			t.Fatalf("ParseHeader(%d): %v", v, err)
		}
		if !ok {
			t.Fatalf("ParseHeader(%d): no type byte found", v)
		}
		if got != v {
			t.Errorf("ParseHeader(%d): got %d", v, got)
		}
		if n != len(buf)-1 {
			t.Errorf("ParseHeader(%d): consumed %d digits, want %d", v, n, len(buf)-1)
		}
	}
}

func TestHeaderZeroIsOneDigit(t *testing.T) {
	buf := AppendHeader(nil, 0)
	if len(buf) != 1 || buf[0] != 0 {
		t.Errorf("zero header: got % X", buf)
	}
}

func TestHeaderIncomplete(t *testing.T) {
	_, _, ok, err := ParseHeader([]byte{0x2C, 0x02})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("header without a type byte should not be complete")
	}
}

func TestHeaderTooLong(t *testing.T) {
	p := make([]byte, 12)
	for i := range p {
		p[i] = 1
	}
	if _, _, _, err := ParseHeader(p); err == nil {
		t.Error("11-digit header should be rejected")
	}
}

func TestHeaderOverflow(t *testing.T) {
	p := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 2, Int}
	if _, _, _, err := ParseHeader(p); err == nil {
		t.Error("header exceeding 64 bits should be rejected")
	}
}

func TestLegal(t *testing.T) {
	if Legal(List) {
		t.Error("legacy List token must not be legal")
	}
	if Legal(0x8B) {
		t.Error("unassigned type byte must not be legal")
	}
	for _, tag := range []byte{Int, String, Neg, Float, LongInt, LongNeg, Vocab, Open, Close, Abort, Error} {
		if !Legal(tag) {
			t.Errorf("%s should be legal", Name(tag))
		}
	}
}

func TestIsLong(t *testing.T) {
	for _, tag := range []byte{String, LongInt, LongNeg, Error} {
		if !IsLong(tag) {
			t.Errorf("%s should be long", Name(tag))
		}
	}
	for _, tag := range []byte{Int, Neg, Float, Vocab, Open, Close, Abort} {
		if IsLong(tag) {
			t.Errorf("%s should not be long", Name(tag))
		}
	}
}

func TestViolationLocationFirstWins(t *testing.T) {
	v := Violationf("bad data")
	v.SetLocation("[2].{key}")
	v.SetLocation("[2]")
	if v.Where != "[2].{key}" {
		t.Errorf("Where: got %q", v.Where)
	}
}

func TestViolationOriginal(t *testing.T) {
	inner := Violationf("root cause")
	inner.SetLocation("[0]")
	mid := &Violation{Msg: "child failed", Wrapped: inner}
	outer := &Violation{Msg: "child failed", Wrapped: mid}
	if outer.Original() != inner {
		t.Error("Original should unwrap to the innermost violation")
	}
}

func TestProtocolErrorMessage(t *testing.T) {
	e := Protocolf("desync at %d", 7)
	e.SetLocation("[1]")
	if e.Error() != "protocol error (in [1]): desync at 7" {
		t.Errorf("Error: got %q", e.Error())
	}
}
