// Package hexdump renders byte chunks as offset, hex and ASCII rows for
// inspecting relayed traffic.
package hexdump

import (
	"strings"
)

const (
	// BytesPerRow is the number of bytes rendered on each row.
	BytesPerRow = 16

	// Separator sits between the row offset and the hex field.
	Separator = " | "

	hexFieldWidth = BytesPerRow*3 - 1
	hexDigits     = "0123456789abcdef"
)

// Format renders chunk one row per 16 bytes:
//
//	00000000 | 70 69 6e 67                                      ping
//
// The hex field is always padded to the width of a full row so the ASCII
// column lines up. Bytes outside 0x21-0x7e render as '.'. Rows are joined
// with '\n' and there is no trailing newline. An empty chunk renders as "".
func Format(chunk []byte) string {
	if len(chunk) == 0 {
		return ""
	}

	rows := (len(chunk) + BytesPerRow - 1) / BytesPerRow

	var b strings.Builder
	b.Grow(rows * (8 + len(Separator) + hexFieldWidth + 2 + BytesPerRow + 1))

	for off := 0; off < len(chunk); off += BytesPerRow {
		if off > 0 {
			b.WriteByte('\n')
		}
		writeRow(&b, off, chunk[off:min(off+BytesPerRow, len(chunk))])
	}

	return b.String()
}

func writeRow(b *strings.Builder, off int, row []byte) {
	for shift := 28; shift >= 0; shift -= 4 {
		b.WriteByte(hexDigits[(off>>shift)&0xf])
	}
	b.WriteString(Separator)

	for i, c := range row {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0xf])
	}
	b.WriteString(strings.Repeat(" ", hexFieldWidth-(len(row)*3-1)))

	b.WriteString("  ")
	for _, c := range row {
		b.WriteByte(Printable(c))
	}
}

// Printable returns c itself when it is a visible ASCII character and '.'
// otherwise. Space is not considered visible.
func Printable(c byte) byte {
	if c >= 0x21 && c <= 0x7e {
		return c
	}
	return '.'
}
