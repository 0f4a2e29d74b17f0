// Package decoder interprets the raw buffer stored at a result location.
//
// Layout: an 8-byte reserved header, a 4-byte little-endian length, then that many bytes of UTF-8 text.
package decoder

import (
	"encoding/binary"
	"strings"
)

const (
	// HeaderSize is the reserved prefix (account discriminator) that is skipped.
	HeaderSize = 8
	lenSize    = 4
)

// Decode returns the trimmed text payload of buf.
// ok is false when buf is absent, too short, truncated, or holds only whitespace.
func Decode(buf []byte) (text string, ok bool) {
	if len(buf) <= HeaderSize || len(buf) < HeaderSize+lenSize {
		return "", false
	}

	n := binary.LittleEndian.Uint32(buf[HeaderSize : HeaderSize+lenSize])
	body := buf[HeaderSize+lenSize:]
	if uint64(n) > uint64(len(body)) {
		return "", false
	}

	text = strings.TrimSpace(string(body[:n]))
	if text == "" {
		return "", false
	}
	return text, true
}

// Encode builds a buffer that Decode maps back to text. The header is zeroed.
func Encode(text string) []byte {
	buf := make([]byte, HeaderSize+lenSize+len(text))
	binary.LittleEndian.PutUint32(buf[HeaderSize:], uint32(len(text)))
	copy(buf[HeaderSize+lenSize:], text)
	return buf
}
