package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/vibetunnel/vibetunneld/internal/httperr"
)

// SnapshotMagic/SnapshotVersion identify the snapshot/delta blob header
// defined in spec §4.1. The blob magic happens to share the numeric value of
// BufferMagic ('V','T') but is a distinct field at a distinct protocol layer,
// so it is named separately.
const (
	SnapshotMagic   uint16 = 0x5654
	SnapshotVersion uint8  = 1
)

// snapshotHeaderLen matches spec §4.1's 32-byte fixed header.
const snapshotHeaderLen = 32

// FlagAltScreen marks that the screen was in the alternate-screen buffer at
// capture time (implementation-defined bit, carried in the header's flags
// byte; readers that don't understand it simply render the grid as given).
const FlagAltScreen uint8 = 1 << 0

// Cell is one terminal grid cell.
type Cell struct {
	Rune  rune
	Fg    uint32
	Bg    uint32
	Attrs uint8
}

// Row is one row of cells, or an empty marker row (spec §4.1 "empty rows"
// opcode 0xFE) used for fully blank rows.
type Row struct {
	Empty bool
	Cells []Cell
}

// Screen is the minimal view of a terminal screen model needed to serialize a
// snapshot blob.
type Screen struct {
	Cols      int
	Rows      int
	ViewportY int32
	CursorX   int32
	CursorY   int32
	AltScreen bool
	RowData   []Row // len == Rows
}

// row opcodes, pinned in SPEC_FULL.md §1.
const (
	opEmptyRows byte = 0xFE
	opEndOfRow  byte = 0xFD
)

// EncodeSnapshot serializes a full screen into the snapshot payload blob.
func EncodeSnapshot(s Screen) []byte {
	buf := make([]byte, snapshotHeaderLen)
	binary.LittleEndian.PutUint16(buf[0:2], SnapshotMagic)
	buf[2] = SnapshotVersion
	var flags uint8
	if s.AltScreen {
		flags |= FlagAltScreen
	}
	buf[3] = flags
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.Cols))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.Rows))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(s.ViewportY))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(s.CursorX))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(s.CursorY))
	// buf[24:32] reserved, left zero.

	buf = append(buf, encodeRows(s.RowData)...)
	return buf
}

// encodeRows serializes a row sequence using the run-length cell encoding,
// coalescing consecutive empty rows into a single 0xFE opcode.
func encodeRows(rows []Row) []byte {
	var out []byte
	i := 0
	for i < len(rows) {
		if rows[i].Empty {
			j := i
			for j < len(rows) && rows[j].Empty {
				j++
			}
			n := j - i
			for n > 0 {
				chunk := n
				if chunk > 0xFFFF {
					chunk = 0xFFFF
				}
				out = append(out, opEmptyRows)
				out = appendU16(out, uint16(chunk))
				n -= chunk
			}
			i = j
			continue
		}
		out = append(out, encodeRow(rows[i].Cells)...)
		i++
	}
	return out
}

func encodeRow(cells []Cell) []byte {
	var out []byte
	i := 0
	for i < len(cells) {
		j := i + 1
		for j < len(cells) && cells[j] == cells[i] {
			j++
		}
		run := j - i
		for run > 0 {
			chunk := run
			if chunk > 0xFFFF {
				chunk = 0xFFFF
			}
			out = appendU16(out, uint16(chunk))
			out = appendU32(out, uint32(cells[i].Rune))
			out = appendU32(out, cells[i].Fg)
			out = appendU32(out, cells[i].Bg)
			out = append(out, cells[i].Attrs)
			run -= chunk
		}
		i = j
	}
	out = append(out, opEndOfRow)
	return out
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// DecodeSnapshot parses a snapshot payload blob back into a Screen. The
// returned Screen's RowData always has exactly Rows entries, with empty-row
// runs expanded for ease of use by callers (the wire form coalesces them; the
// in-memory form need not).
func DecodeSnapshot(b []byte) (Screen, error) {
	if len(b) < snapshotHeaderLen {
		return Screen{}, httperr.New(httperr.MalformedFrame, "snapshot blob shorter than header")
	}
	magic := binary.LittleEndian.Uint16(b[0:2])
	if magic != SnapshotMagic {
		return Screen{}, httperr.New(httperr.MalformedFrame, fmt.Sprintf("bad snapshot magic 0x%04x", magic))
	}
	version := b[2]
	if version != SnapshotVersion {
		return Screen{}, httperr.New(httperr.MalformedFrame, fmt.Sprintf("unsupported snapshot version %d", version))
	}
	flags := b[3]
	cols := binary.LittleEndian.Uint32(b[4:8])
	rows := binary.LittleEndian.Uint32(b[8:12])
	viewportY := int32(binary.LittleEndian.Uint32(b[12:16]))
	cursorX := int32(binary.LittleEndian.Uint32(b[16:20]))
	cursorY := int32(binary.LittleEndian.Uint32(b[20:24]))

	rowData, _, err := decodeRows(b[snapshotHeaderLen:], int(rows))
	if err != nil {
		return Screen{}, err
	}

	return Screen{
		Cols:      int(cols),
		Rows:      int(rows),
		ViewportY: viewportY,
		CursorX:   cursorX,
		CursorY:   cursorY,
		AltScreen: flags&FlagAltScreen != 0,
		RowData:   rowData,
	}, nil
}

// decodeRows parses up to wantRows rows of opcode-encoded data starting at
// b[0], returning the rows and the number of bytes consumed.
func decodeRows(b []byte, wantRows int) ([]Row, int, error) {
	rows := make([]Row, 0, wantRows)
	off := 0
	for len(rows) < wantRows {
		if off >= len(b) {
			return nil, off, httperr.New(httperr.MalformedFrame, "row data truncated")
		}
		switch b[off] {
		case opEmptyRows:
			if off+3 > len(b) {
				return nil, off, httperr.New(httperr.MalformedFrame, "truncated empty-rows opcode")
			}
			n := int(binary.LittleEndian.Uint16(b[off+1 : off+3]))
			off += 3
			for i := 0; i < n && len(rows) < wantRows; i++ {
				rows = append(rows, Row{Empty: true})
			}
		default:
			cells, consumed, err := decodeRowCells(b[off:])
			if err != nil {
				return nil, off, err
			}
			off += consumed
			rows = append(rows, Row{Cells: cells})
		}
	}
	return rows, off, nil
}

func decodeRowCells(b []byte) ([]Cell, int, error) {
	var cells []Cell
	off := 0
	for {
		if off >= len(b) {
			return nil, off, httperr.New(httperr.MalformedFrame, "row missing end-of-row opcode")
		}
		if b[off] == opEndOfRow {
			off++
			return cells, off, nil
		}
		if off+2+4+4+4+1 > len(b) {
			return nil, off, httperr.New(httperr.MalformedFrame, "truncated cell run")
		}
		count := binary.LittleEndian.Uint16(b[off : off+2])
		off += 2
		r := rune(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		fg := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		bg := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		attrs := b[off]
		off++
		cell := Cell{Rune: r, Fg: fg, Bg: bg, Attrs: attrs}
		for i := 0; i < int(count); i++ {
			cells = append(cells, cell)
		}
	}
}

// ChangedRow is one row of a delta payload: the row index plus its new
// content (or empty marker).
type ChangedRow struct {
	Index int
	Row   Row
}

// Delta is a changed-rows-only update plus an optional cursor move, applied
// on top of a prior Screen to reconstruct the current one (spec §4.6).
type Delta struct {
	Cols, Rows   int
	CursorMoved  bool
	CursorX      int32
	CursorY      int32
	ChangedRows  []ChangedRow
}

const deltaHeaderLen = 4 + 4 + 1 + 4 + 4 + 4 // cols,rows,cursorMoved,cursorX,cursorY,numChanged

// EncodeDelta serializes a Delta into the DELTA payload blob.
func EncodeDelta(d Delta) []byte {
	buf := make([]byte, deltaHeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.Cols))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(d.Rows))
	if d.CursorMoved {
		buf[8] = 1
	}
	binary.LittleEndian.PutUint32(buf[9:13], uint32(d.CursorX))
	binary.LittleEndian.PutUint32(buf[13:17], uint32(d.CursorY))
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(d.ChangedRows)))

	for _, cr := range d.ChangedRows {
		buf = appendU32(buf, uint32(cr.Index))
		if cr.Row.Empty {
			buf = append(buf, opEmptyRows)
			buf = appendU16(buf, 1)
		} else {
			buf = append(buf, encodeRow(cr.Row.Cells)...)
		}
	}
	return buf
}

// DecodeDelta parses a DELTA payload blob.
func DecodeDelta(b []byte) (Delta, error) {
	if len(b) < deltaHeaderLen {
		return Delta{}, httperr.New(httperr.MalformedFrame, "delta blob shorter than header")
	}
	d := Delta{
		Cols:        int(binary.LittleEndian.Uint32(b[0:4])),
		Rows:        int(binary.LittleEndian.Uint32(b[4:8])),
		CursorMoved: b[8] != 0,
		CursorX:     int32(binary.LittleEndian.Uint32(b[9:13])),
		CursorY:     int32(binary.LittleEndian.Uint32(b[13:17])),
	}
	numChanged := int(binary.LittleEndian.Uint32(b[17:21]))
	off := deltaHeaderLen
	for i := 0; i < numChanged; i++ {
		if off+4 > len(b) {
			return Delta{}, httperr.New(httperr.MalformedFrame, "truncated changed-row index")
		}
		idx := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		rows, consumed, err := decodeRows(b[off:], 1)
		if err != nil {
			return Delta{}, err
		}
		off += consumed
		d.ChangedRows = append(d.ChangedRows, ChangedRow{Index: idx, Row: rows[0]})
	}
	return d, nil
}

// ApplyDelta applies d on top of s, returning the resulting screen. Used by
// tests verifying the "snapshot ⊇ deltas" property (spec §8) and by any
// client-side reconstruction logic.
func ApplyDelta(s Screen, d Delta) Screen {
	out := s
	out.Cols = d.Cols
	out.Rows = d.Rows
	if d.CursorMoved {
		out.CursorX = d.CursorX
		out.CursorY = d.CursorY
	}
	rowData := make([]Row, len(s.RowData))
	copy(rowData, s.RowData)
	for _, cr := range d.ChangedRows {
		if cr.Index < 0 {
			continue
		}
		for len(rowData) <= cr.Index {
			rowData = append(rowData, Row{Empty: true})
		}
		rowData[cr.Index] = cr.Row
	}
	out.RowData = rowData
	return out
}
