package token

// MaxHeaderBytes bounds the base-128 header. Ten 7-bit digits cover a
// uint64; anything longer is malformed.
const MaxHeaderBytes = 10

// AppendHeader appends v to dst as base-128 digits, least significant
// first. Zero is a single zero digit. The type byte is not appended.
func AppendHeader(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, 0)
	}
	for v > 0 {
		dst = append(dst, byte(v&0x7F))
		v >>= 7
	}
	return dst
}

// ParseHeader decodes a base-128 header from the front of p, stopping at
// the first type byte (high bit set). It returns the header value and the
// number of digit bytes consumed. ok is false when p ends before a type
// byte appears.
func ParseHeader(p []byte) (v uint64, n int, ok bool, err error) {
	for i, b := range p {
		if b >= 0x80 {
			return v, i, true, nil
		}
		if i >= MaxHeaderBytes {
			return 0, 0, false, Protocolf("token header longer than %d bytes", MaxHeaderBytes)
		}
		if i == MaxHeaderBytes-1 && b > 1 {
			return 0, 0, false, Protocolf("token header overflows 64 bits")
		}
		v |= uint64(b) << (7 * uint(i))
		n = i + 1
	}
	return v, n, false, nil
}
