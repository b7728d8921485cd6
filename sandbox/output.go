package sandbox

import (
	"strings"
	"unicode/utf8"
)

const truncatedMarker = "\n[output truncated]\n"

// outputBuffer captures print output up to a byte limit, cut at a rune
// boundary
type outputBuffer struct {
	buf       strings.Builder
	limit     int
	truncated bool
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: limit}
}

// WriteString appends s, dropping whatever exceeds the limit
func (b *outputBuffer) WriteString(s string) {
	if b.truncated {
		return
	}
	if b.limit > 0 && b.buf.Len()+len(s) > b.limit {
		remaining := b.limit - b.buf.Len()
		// Never split a multi-byte rune.
		for remaining > 0 && !utf8.RuneStart(s[remaining]) {
			remaining--
		}
		if remaining > 0 {
			b.buf.WriteString(s[:remaining])
		}
		b.truncated = true
		return
	}
	b.buf.WriteString(s)
}

func (b *outputBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncatedMarker
	}
	return b.buf.String()
}
