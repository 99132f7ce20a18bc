package termstate

import "github.com/vibetunnel/vibetunneld/internal/frame"

// CursorPosition returns the current cursor column/row.
func (e *Emulator) CursorPosition() (x, y int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursorX, e.cursorY
}

// Snapshot returns a full frame.Screen describing the current grid, for
// encoding via frame.EncodeSnapshot. It does not clear the dirty set, so a
// TakeDelta call immediately after still reports the rows changed since the
// last TakeDelta or ResetDirty; ResetDirty starts deltas from this point.
func (e *Emulator) Snapshot() frame.Screen {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Emulator) snapshotLocked() frame.Screen {
	grid := e.activeGrid()
	rowData := make([]frame.Row, e.rows)
	for y := 0; y < e.rows; y++ {
		rowData[y] = toFrameRow(grid[y])
	}
	return frame.Screen{
		Cols:      e.cols,
		Rows:      e.rows,
		CursorX:   int32(e.cursorX),
		CursorY:   int32(e.cursorY),
		AltScreen: e.altScreen,
		RowData:   rowData,
	}
}

func toFrameRow(row []cell) frame.Row {
	for _, c := range row {
		if c.r != ' ' || c.fg != defaultColor || c.bg != defaultColor || c.attrs != 0 {
			cells := make([]frame.Cell, len(row))
			for i, c := range row {
				cells[i] = frame.Cell{Rune: c.r, Fg: c.fg, Bg: c.bg, Attrs: c.attrs}
			}
			return frame.Row{Cells: cells}
		}
	}
	return frame.Row{Empty: true}
}

// TakeDelta returns the rows changed (and/or cursor movement) since the last
// TakeDelta or ResetDirty call, clearing the dirty set. ok is false if
// nothing changed.
func (e *Emulator) TakeDelta() (frame.Delta, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.dirtyRows) == 0 && !e.cursorMoved {
		return frame.Delta{}, false
	}

	grid := e.activeGrid()
	d := frame.Delta{
		Cols: e.cols, Rows: e.rows,
		CursorMoved: e.cursorMoved,
		CursorX:     int32(e.cursorX),
		CursorY:     int32(e.cursorY),
	}
	for y := range e.dirtyRows {
		if y < 0 || y >= len(grid) {
			continue
		}
		d.ChangedRows = append(d.ChangedRows, frame.ChangedRow{
			Index: y,
			Row:   toFrameRow(grid[y]),
		})
	}
	e.dirtyRows = make(map[int]bool)
	e.cursorMoved = false
	return d, true
}

// ResetDirty clears the dirty set without producing a Delta, used right
// after a full Snapshot has been sent so the next TakeDelta only reports
// changes from that point forward.
func (e *Emulator) ResetDirty() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirtyRows = make(map[int]bool)
	e.cursorMoved = false
}
