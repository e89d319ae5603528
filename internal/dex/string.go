package dex

// String is an interned string with its modified-UTF-8 encoding cached.
// Equality is pointer equality.
type String struct {
	str     string
	encoded []byte
	id      uint32
}

// Str returns the decoded Go string.
func (s *String) Str() string {
	return s.str
}

// Encoded returns the modified-UTF-8 byte sequence. Embedded NULs encode as
// 0xC0 0x80 and supplementary code points as CESU-8 surrogate pairs, so the
// result never contains a zero byte.
func (s *String) Encoded() []byte {
	return s.encoded
}

// ID returns the registry-assigned dense id for this string.
func (s *String) ID() uint32 {
	return s.id
}

func (s *String) String() string {
	return s.str
}

// encodeMUTF8 converts a Go string to modified UTF-8.
func encodeMUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r == 0:
			out = append(out, 0xC0, 0x80)
		case r < 0x80:
			out = append(out, byte(r))
		case r < 0x800:
			out = append(out, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
		case r < 0x10000:
			out = append(out, 0xE0|byte(r>>12), 0x80|byte((r>>6)&0x3F), 0x80|byte(r&0x3F))
		default:
			// Supplementary code points become a surrogate pair, each half
			// encoded as a 3-byte sequence (CESU-8).
			r -= 0x10000
			hi := 0xD800 + (r >> 10)
			lo := 0xDC00 + (r & 0x3FF)
			out = append(out, 0xE0|byte(hi>>12), 0x80|byte((hi>>6)&0x3F), 0x80|byte(hi&0x3F))
			out = append(out, 0xE0|byte(lo>>12), 0x80|byte((lo>>6)&0x3F), 0x80|byte(lo&0x3F))
		}
	}
	return out
}
