// Package termstate implements C6: a small VT/ANSI terminal emulator that
// tracks screen contents and cursor state from raw PTY output, and serializes
// that state into the snapshot/delta wire format in internal/frame.
//
// Neither third-party terminal emulator referenced in the surrounding corpus
// could safely serve this: one is never actually exercised by its listed
// owner and its API cannot be confirmed, and the other is only shown driving
// an ANSI-text Render() rather than exposing the per-cell foreground/
// background/attribute state the snapshot format requires (see DESIGN.md).
// The state machine below is therefore hand-rolled against the ECMA-48/
// xterm control sequences actually needed by spec §4.6.
package termstate

// Color kinds packed into a Cell's 32-bit Fg/Bg fields: the high byte is the
// kind, the low 24 bits are the value.
const (
	colorKindDefault uint8 = 0
	colorKindPalette uint8 = 1
	colorKindRGB     uint8 = 2
)

func encodeColor(kind uint8, value uint32) uint32 {
	return uint32(kind)<<24 | (value & 0xFFFFFF)
}

var defaultColor = encodeColor(colorKindDefault, 0)

func paletteColor(n uint32) uint32 { return encodeColor(colorKindPalette, n) }

func rgbColor(r, g, b uint32) uint32 {
	return encodeColor(colorKindRGB, (r<<16)|(g<<8)|b)
}

// Attribute bits packed into a Cell's Attrs byte.
const (
	AttrBold uint8 = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrReverse
	AttrStrikethrough
)
