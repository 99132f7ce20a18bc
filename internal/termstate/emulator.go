package termstate

import "sync"

type cell struct {
	r     rune
	fg    uint32
	bg    uint32
	attrs uint8
}

func blankCell() cell { return cell{r: ' ', fg: defaultColor, bg: defaultColor} }

// parser states for the control-sequence state machine.
const (
	stateGround = iota
	stateEscape
	stateCSI
	stateOSC
)

// Emulator tracks one terminal screen's contents and cursor position from raw
// PTY byte output (spec §4.6). It is not safe for concurrent Write calls, but
// Snapshot/Delta may be called from another goroutine while Write runs
// elsewhere; both take the same lock.
type Emulator struct {
	mu sync.Mutex

	cols, rows int
	grid       [][]cell // rows x cols, primary screen
	altGrid    [][]cell // alternate screen buffer
	altScreen  bool

	cursorX, cursorY int
	savedX, savedY   int
	altSavedX, altSavedY int
	pendingWrap      bool

	curFg, curBg uint32
	curAttrs     uint8

	scrollTop, scrollBottom int // inclusive scroll region, 0-based

	scrollback    [][]cell // rows that scrolled off the primary screen's top, oldest first
	maxScrollback int

	title string

	dirtyRows   map[int]bool
	cursorMoved bool

	onTitle func(string)
	onBell  func()

	state     int
	csiParams []int
	csiCur    string
	csiPrivate bool
	oscBuf    []byte
}

// NewEmulator constructs an emulator with a blank cols x rows grid.
// maxScrollback bounds how many rows scrolled off the primary screen are
// retained (spec §3/§8.1's scrollback buffer, SPEC_FULL.md §1's pinned
// 10,000-line default); <= 0 retains none.
func NewEmulator(cols, rows, maxScrollback int) *Emulator {
	if maxScrollback < 0 {
		maxScrollback = 0
	}
	e := &Emulator{
		cols: cols, rows: rows,
		curFg: defaultColor, curBg: defaultColor,
		scrollBottom:  rows - 1,
		dirtyRows:     make(map[int]bool),
		maxScrollback: maxScrollback,
	}
	e.grid = newGrid(cols, rows)
	e.altGrid = newGrid(cols, rows)
	return e
}

// ScrollbackLen reports how many rows are currently retained in scrollback.
func (e *Emulator) ScrollbackLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.scrollback)
}

func newGrid(cols, rows int) [][]cell {
	g := make([][]cell, rows)
	for i := range g {
		g[i] = make([]cell, cols)
		for j := range g[i] {
			g[i][j] = blankCell()
		}
	}
	return g
}

// SetOnTitle registers a callback invoked whenever an OSC 0/1/2 title
// sequence is parsed.
func (e *Emulator) SetOnTitle(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTitle = fn
}

// SetOnBell registers a callback invoked on BEL (0x07).
func (e *Emulator) SetOnBell(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onBell = fn
}

// Title returns the current window title.
func (e *Emulator) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title
}

// Resize changes the grid dimensions, preserving existing content in the
// overlapping region and clamping the cursor and scroll region.
func (e *Emulator) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cols == e.cols && rows == e.rows {
		return
	}
	e.grid = resizeGrid(e.grid, e.cols, e.rows, cols, rows)
	e.altGrid = resizeGrid(e.altGrid, e.cols, e.rows, cols, rows)
	e.cols, e.rows = cols, rows
	e.scrollTop = 0
	e.scrollBottom = rows - 1
	if e.cursorX >= cols {
		e.cursorX = cols - 1
	}
	if e.cursorY >= rows {
		e.cursorY = rows - 1
	}
	e.markAllDirty()
}

func resizeGrid(old [][]cell, oldCols, oldRows, cols, rows int) [][]cell {
	g := newGrid(cols, rows)
	for y := 0; y < oldRows && y < rows; y++ {
		for x := 0; x < oldCols && x < cols; x++ {
			g[y][x] = old[y][x]
		}
	}
	return g
}

func (e *Emulator) activeGrid() [][]cell {
	if e.altScreen {
		return e.altGrid
	}
	return e.grid
}

func (e *Emulator) markDirty(y int) {
	if y < 0 || y >= e.rows {
		return
	}
	e.dirtyRows[y] = true
}

func (e *Emulator) markAllDirty() {
	for y := 0; y < e.rows; y++ {
		e.dirtyRows[y] = true
	}
}

// Write feeds raw PTY output into the emulator, updating grid contents,
// cursor position, and title as control sequences are parsed.
func (e *Emulator) Write(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range data {
		e.step(b)
	}
}

func (e *Emulator) step(b byte) {
	switch e.state {
	case stateGround:
		e.stepGround(b)
	case stateEscape:
		e.stepEscape(b)
	case stateCSI:
		e.stepCSI(b)
	case stateOSC:
		e.stepOSC(b)
	}
}

func (e *Emulator) stepGround(b byte) {
	switch b {
	case 0x1b: // ESC
		e.state = stateEscape
	case '\r':
		e.cursorX = 0
		e.pendingWrap = false
	case '\n':
		e.lineFeed()
	case '\b':
		if e.cursorX > 0 {
			e.cursorX--
		}
		e.pendingWrap = false
	case '\t':
		e.cursorX = nextTabStop(e.cursorX, e.cols)
	case 0x07: // BEL
		if e.onBell != nil {
			fn := e.onBell
			e.mu.Unlock()
			fn()
			e.mu.Lock()
		}
	default:
		if b < 0x20 {
			return // ignore other C0 controls
		}
		e.printRune(rune(b))
	}
}

func nextTabStop(x, cols int) int {
	next := (x/8 + 1) * 8
	if next >= cols {
		return cols - 1
	}
	return next
}

// printRune writes one cell at the cursor, handling wraparound and
// auto-advancing the cursor (single-width runes only; wide-rune handling is
// out of scope).
func (e *Emulator) printRune(r rune) {
	if e.pendingWrap {
		e.cursorX = 0
		e.lineFeed()
		e.pendingWrap = false
	}
	grid := e.activeGrid()
	if e.cursorY >= 0 && e.cursorY < len(grid) && e.cursorX >= 0 && e.cursorX < e.cols {
		grid[e.cursorY][e.cursorX] = cell{r: r, fg: e.curFg, bg: e.curBg, attrs: e.curAttrs}
		e.markDirty(e.cursorY)
	}
	if e.cursorX == e.cols-1 {
		e.pendingWrap = true
	} else {
		e.cursorX++
	}
}

// lineFeed advances the cursor one row, scrolling the active region if
// already at its bottom.
func (e *Emulator) lineFeed() {
	if e.cursorY == e.scrollBottom {
		e.scrollUp(1)
	} else if e.cursorY < e.rows-1 {
		e.cursorY++
	}
	e.cursorMoved = true
}

// scrollUp shifts n rows of the scroll region up, blanking the rows that
// scroll in at the bottom. On the primary screen, a row scrolled off a
// full-screen region (top of the default scroll region) is retained in
// scrollback, bounded to maxScrollback (spec §3's scrollback buffer); rows
// scrolled out of a partial scroll region, or on the alternate screen, are
// discarded, matching real terminals' scrollback behavior.
func (e *Emulator) scrollUp(n int) {
	grid := e.activeGrid()
	top, bottom := e.scrollTop, e.scrollBottom
	retain := !e.altScreen && top == 0 && bottom == e.rows-1 && e.maxScrollback > 0
	for i := 0; i < n; i++ {
		if retain {
			e.pushScrollback(grid[top])
		}
		copy(grid[top:bottom], grid[top+1:bottom+1])
		grid[bottom] = blankRow(e.cols)
	}
	for y := top; y <= bottom; y++ {
		e.markDirty(y)
	}
}

func (e *Emulator) pushScrollback(row []cell) {
	saved := make([]cell, len(row))
	copy(saved, row)
	e.scrollback = append(e.scrollback, saved)
	if excess := len(e.scrollback) - e.maxScrollback; excess > 0 {
		e.scrollback = e.scrollback[excess:]
	}
}

// scrollDown shifts n rows of the scroll region down, blanking the rows that
// scroll in at the top.
func (e *Emulator) scrollDown(n int) {
	grid := e.activeGrid()
	top, bottom := e.scrollTop, e.scrollBottom
	for i := 0; i < n; i++ {
		copy(grid[top+1:bottom+1], grid[top:bottom])
		grid[top] = blankRow(e.cols)
	}
	for y := top; y <= bottom; y++ {
		e.markDirty(y)
	}
}

func blankRow(cols int) []cell {
	row := make([]cell, cols)
	for i := range row {
		row[i] = blankCell()
	}
	return row
}
