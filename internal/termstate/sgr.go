package termstate

// applySGR applies a Select Graphic Rendition parameter sequence to the
// emulator's current drawing attributes.
func (e *Emulator) applySGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		p := params[i]
		switch {
		case p <= 0:
			e.curFg, e.curBg = defaultColor, defaultColor
			e.curAttrs = 0
		case p == 1:
			e.curAttrs |= AttrBold
		case p == 2:
			e.curAttrs |= AttrDim
		case p == 3:
			e.curAttrs |= AttrItalic
		case p == 4:
			e.curAttrs |= AttrUnderline
		case p == 5:
			e.curAttrs |= AttrBlink
		case p == 7:
			e.curAttrs |= AttrReverse
		case p == 9:
			e.curAttrs |= AttrStrikethrough
		case p == 22:
			e.curAttrs &^= AttrBold | AttrDim
		case p == 23:
			e.curAttrs &^= AttrItalic
		case p == 24:
			e.curAttrs &^= AttrUnderline
		case p == 25:
			e.curAttrs &^= AttrBlink
		case p == 27:
			e.curAttrs &^= AttrReverse
		case p == 29:
			e.curAttrs &^= AttrStrikethrough
		case p >= 30 && p <= 37:
			e.curFg = paletteColor(uint32(p - 30))
		case p == 38:
			color, consumed := parseExtendedColor(params[i+1:])
			e.curFg = color
			i += consumed
		case p == 39:
			e.curFg = defaultColor
		case p >= 40 && p <= 47:
			e.curBg = paletteColor(uint32(p - 40))
		case p == 48:
			color, consumed := parseExtendedColor(params[i+1:])
			e.curBg = color
			i += consumed
		case p == 49:
			e.curBg = defaultColor
		case p >= 90 && p <= 97:
			e.curFg = paletteColor(uint32(p-90) + 8)
		case p >= 100 && p <= 107:
			e.curBg = paletteColor(uint32(p-100) + 8)
		}
	}
}

// parseExtendedColor parses the tail of a 38/48 extended color parameter
// sequence: either "5;n" (256-color palette) or "2;r;g;b" (truecolor). It
// returns the resolved color and how many of rest's entries were consumed.
func parseExtendedColor(rest []int) (uint32, int) {
	if len(rest) == 0 {
		return defaultColor, 0
	}
	switch rest[0] {
	case 5:
		if len(rest) < 2 {
			return defaultColor, len(rest)
		}
		return paletteColor(uint32(rest[1])), 2
	case 2:
		if len(rest) < 4 {
			return defaultColor, len(rest)
		}
		return rgbColor(uint32(rest[1]), uint32(rest[2]), uint32(rest[3])), 4
	default:
		return defaultColor, 1
	}
}
