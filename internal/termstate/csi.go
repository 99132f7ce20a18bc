package termstate

import "strconv"

// stepCSI accumulates a CSI sequence's parameter bytes (digits and ';') and
// dispatches on its final byte (the first byte in 0x40-0x7e).
func (e *Emulator) stepCSI(b byte) {
	switch {
	case b == '?' && e.csiCur == "" && len(e.csiParams) == 0:
		e.csiPrivate = true
	case b >= '0' && b <= '9':
		e.csiCur += string(b)
	case b == ';':
		e.csiParams = append(e.csiParams, parseIntOr(e.csiCur, 0))
		e.csiCur = ""
	case b >= 0x40 && b <= 0x7e:
		e.csiParams = append(e.csiParams, parseIntOr(e.csiCur, -1))
		e.dispatchCSI(b, e.csiParams, e.csiPrivate)
		e.state = stateGround
	default:
		// Ignore intermediate bytes we don't interpret (e.g. ' ' before a
		// final byte).
	}
}

func parseIntOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// param returns params[i] if present and non-negative, else def.
func param(params []int, i, def int) int {
	if i >= len(params) || params[i] < 0 {
		return def
	}
	return params[i]
}

func (e *Emulator) dispatchCSI(final byte, params []int, private bool) {
	switch final {
	case 'A': // CUU: cursor up
		e.moveCursor(0, -param(params, 0, 1))
	case 'B': // CUD: cursor down
		e.moveCursor(0, param(params, 0, 1))
	case 'C': // CUF: cursor forward
		e.moveCursor(param(params, 0, 1), 0)
	case 'D': // CUB: cursor back
		e.moveCursor(-param(params, 0, 1), 0)
	case 'G': // CHA: cursor horizontal absolute
		e.setCursor(param(params, 0, 1)-1, e.cursorY)
	case 'd': // VPA: line position absolute
		e.setCursor(e.cursorX, param(params, 0, 1)-1)
	case 'H', 'f': // CUP/HVP: cursor position
		row := param(params, 0, 1) - 1
		col := param(params, 1, 1) - 1
		e.setCursor(col, row)
	case 'J': // ED: erase in display
		e.eraseDisplay(param(params, 0, 0))
	case 'K': // EL: erase in line
		e.eraseLine(param(params, 0, 0))
	case 'L': // IL: insert lines
		e.insertLines(param(params, 0, 1))
	case 'M': // DL: delete lines
		e.deleteLines(param(params, 0, 1))
	case 'P': // DCH: delete characters
		e.deleteChars(param(params, 0, 1))
	case '@': // ICH: insert characters
		e.insertChars(param(params, 0, 1))
	case 'S': // SU: scroll up
		e.scrollUp(param(params, 0, 1))
	case 'T': // SD: scroll down
		e.scrollDown(param(params, 0, 1))
	case 'r': // DECSTBM: set scroll region
		top := param(params, 0, 1) - 1
		bottom := param(params, 1, e.rows) - 1
		if top < 0 {
			top = 0
		}
		if bottom >= e.rows {
			bottom = e.rows - 1
		}
		if top < bottom {
			e.scrollTop, e.scrollBottom = top, bottom
		} else {
			e.scrollTop, e.scrollBottom = 0, e.rows-1
		}
	case 's': // save cursor (ANSI.SYS variant)
		e.savedX, e.savedY = e.cursorX, e.cursorY
	case 'u': // restore cursor
		e.setCursor(e.savedX, e.savedY)
	case 'm': // SGR
		e.applySGR(params)
	case 'h', 'l':
		if private {
			e.applyPrivateMode(params, final == 'h')
		}
	}
}

func (e *Emulator) moveCursor(dx, dy int) {
	e.setCursor(e.cursorX+dx, e.cursorY+dy)
}

func (e *Emulator) setCursor(x, y int) {
	if x < 0 {
		x = 0
	}
	if x >= e.cols {
		x = e.cols - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= e.rows {
		y = e.rows - 1
	}
	e.cursorX, e.cursorY = x, y
	e.pendingWrap = false
	e.cursorMoved = true
}

// eraseDisplay implements ED mode 0 (cursor to end), 1 (start to cursor), and
// 2/3 (whole screen).
func (e *Emulator) eraseDisplay(mode int) {
	grid := e.activeGrid()
	switch mode {
	case 0:
		e.eraseLine(0)
		for y := e.cursorY + 1; y < e.rows; y++ {
			grid[y] = blankRow(e.cols)
			e.markDirty(y)
		}
	case 1:
		for y := 0; y < e.cursorY; y++ {
			grid[y] = blankRow(e.cols)
			e.markDirty(y)
		}
		e.eraseLine(1)
	default:
		for y := 0; y < e.rows; y++ {
			grid[y] = blankRow(e.cols)
			e.markDirty(y)
		}
	}
}

// eraseLine implements EL mode 0 (cursor to end), 1 (start to cursor), and 2
// (whole line).
func (e *Emulator) eraseLine(mode int) {
	grid := e.activeGrid()
	if e.cursorY < 0 || e.cursorY >= len(grid) {
		return
	}
	row := grid[e.cursorY]
	switch mode {
	case 0:
		for x := e.cursorX; x < e.cols; x++ {
			row[x] = blankCell()
		}
	case 1:
		for x := 0; x <= e.cursorX && x < e.cols; x++ {
			row[x] = blankCell()
		}
	default:
		for x := 0; x < e.cols; x++ {
			row[x] = blankCell()
		}
	}
	e.markDirty(e.cursorY)
}

func (e *Emulator) insertLines(n int) {
	if e.cursorY < e.scrollTop || e.cursorY > e.scrollBottom {
		return
	}
	grid := e.activeGrid()
	bottom := e.scrollBottom
	for i := 0; i < n; i++ {
		copy(grid[e.cursorY+1:bottom+1], grid[e.cursorY:bottom])
		grid[e.cursorY] = blankRow(e.cols)
	}
	for y := e.cursorY; y <= bottom; y++ {
		e.markDirty(y)
	}
}

func (e *Emulator) deleteLines(n int) {
	if e.cursorY < e.scrollTop || e.cursorY > e.scrollBottom {
		return
	}
	grid := e.activeGrid()
	bottom := e.scrollBottom
	for i := 0; i < n; i++ {
		copy(grid[e.cursorY:bottom], grid[e.cursorY+1:bottom+1])
		grid[bottom] = blankRow(e.cols)
	}
	for y := e.cursorY; y <= bottom; y++ {
		e.markDirty(y)
	}
}

func (e *Emulator) deleteChars(n int) {
	grid := e.activeGrid()
	if e.cursorY < 0 || e.cursorY >= len(grid) {
		return
	}
	row := grid[e.cursorY]
	if n > e.cols-e.cursorX {
		n = e.cols - e.cursorX
	}
	copy(row[e.cursorX:e.cols-n], row[e.cursorX+n:])
	for x := e.cols - n; x < e.cols; x++ {
		row[x] = blankCell()
	}
	e.markDirty(e.cursorY)
}

func (e *Emulator) insertChars(n int) {
	grid := e.activeGrid()
	if e.cursorY < 0 || e.cursorY >= len(grid) {
		return
	}
	row := grid[e.cursorY]
	if n > e.cols-e.cursorX {
		n = e.cols - e.cursorX
	}
	copy(row[e.cursorX+n:e.cols], row[e.cursorX:e.cols-n])
	for x := e.cursorX; x < e.cursorX+n; x++ {
		row[x] = blankCell()
	}
	e.markDirty(e.cursorY)
}

// applyPrivateMode handles the DEC private modes this emulator cares about:
// 1049/47/1047 alternate screen. Other modes, including 25 (cursor
// visibility), are ignored; the snapshot always carries a cursor position.
func (e *Emulator) applyPrivateMode(params []int, set bool) {
	for _, p := range params {
		switch p {
		case 47, 1047, 1049:
			if set && !e.altScreen {
				e.altSavedX, e.altSavedY = e.cursorX, e.cursorY
				e.altGrid = newGrid(e.cols, e.rows)
				e.altScreen = true
				e.cursorX, e.cursorY = 0, 0
				e.pendingWrap = false
				e.markAllDirty()
			} else if !set && e.altScreen {
				e.altScreen = false
				e.cursorX, e.cursorY = e.altSavedX, e.altSavedY
				e.pendingWrap = false
				e.markAllDirty()
			}
		}
	}
}
