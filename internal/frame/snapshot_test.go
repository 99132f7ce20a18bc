package frame

import "testing"

func sampleScreen() Screen {
	cellA := Cell{Rune: 'A', Fg: 7, Bg: 0, Attrs: 0}
	cellB := Cell{Rune: 'B', Fg: 1, Bg: 2, Attrs: 1}
	return Screen{
		Cols:      10,
		Rows:      4,
		ViewportY: 2,
		CursorX:   3,
		CursorY:   1,
		AltScreen: true,
		RowData: []Row{
			{Cells: []Cell{cellA, cellA, cellA, cellB}},
			{Empty: true},
			{Empty: true},
			{Cells: []Cell{cellB}},
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := sampleScreen()
	blob := EncodeSnapshot(s)
	got, err := DecodeSnapshot(blob)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if got.Cols != s.Cols || got.Rows != s.Rows || got.ViewportY != s.ViewportY ||
		got.CursorX != s.CursorX || got.CursorY != s.CursorY || got.AltScreen != s.AltScreen {
		t.Fatalf("header mismatch: got %+v, want %+v", got, s)
	}
	if len(got.RowData) != len(s.RowData) {
		t.Fatalf("row count mismatch: got %d, want %d", len(got.RowData), len(s.RowData))
	}
	for i := range s.RowData {
		if got.RowData[i].Empty != s.RowData[i].Empty {
			t.Fatalf("row %d empty mismatch", i)
		}
		if len(got.RowData[i].Cells) != len(s.RowData[i].Cells) {
			t.Fatalf("row %d cell count mismatch: got %d, want %d", i, len(got.RowData[i].Cells), len(s.RowData[i].Cells))
		}
		for j := range s.RowData[i].Cells {
			if got.RowData[i].Cells[j] != s.RowData[i].Cells[j] {
				t.Fatalf("row %d cell %d mismatch: got %+v, want %+v", i, j, got.RowData[i].Cells[j], s.RowData[i].Cells[j])
			}
		}
	}
}

func TestSnapshotBadMagic(t *testing.T) {
	blob := EncodeSnapshot(sampleScreen())
	blob[0] ^= 0xFF
	if _, err := DecodeSnapshot(blob); err == nil {
		t.Fatalf("expected error for corrupted magic")
	}
}

func TestSnapshotSupersetOfDeltas(t *testing.T) {
	s := sampleScreen()

	d := Delta{
		Cols: s.Cols, Rows: s.Rows,
		CursorMoved: true, CursorX: 5, CursorY: 2,
		ChangedRows: []ChangedRow{
			{Index: 1, Row: Row{Cells: []Cell{{Rune: 'Z', Fg: 9, Bg: 9, Attrs: 0}}}},
		},
	}

	blob := EncodeDelta(d)
	gotDelta, err := DecodeDelta(blob)
	if err != nil {
		t.Fatalf("decode delta: %v", err)
	}

	applied := ApplyDelta(s, gotDelta)
	if applied.CursorX != 5 || applied.CursorY != 2 {
		t.Fatalf("cursor not applied: %+v", applied)
	}
	if applied.RowData[1].Empty {
		t.Fatalf("row 1 should no longer be empty after delta")
	}
	if applied.RowData[1].Cells[0].Rune != 'Z' {
		t.Fatalf("row 1 content mismatch: %+v", applied.RowData[1])
	}
	// Untouched rows must be unchanged.
	if applied.RowData[0].Cells[0].Rune != 'A' {
		t.Fatalf("row 0 should be untouched: %+v", applied.RowData[0])
	}
}

func TestSnapshotLargeEmptyRun(t *testing.T) {
	rows := make([]Row, 70000)
	for i := range rows {
		rows[i] = Row{Empty: true}
	}
	s := Screen{Cols: 80, Rows: len(rows), RowData: rows}
	blob := EncodeSnapshot(s)
	got, err := DecodeSnapshot(blob)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(got.RowData) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(got.RowData), len(rows))
	}
	for i, r := range got.RowData {
		if !r.Empty {
			t.Fatalf("row %d expected empty", i)
		}
	}
}
