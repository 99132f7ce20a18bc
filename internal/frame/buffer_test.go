package frame

import (
	"bytes"
	"testing"
)

func TestBufferRoundTrip(t *testing.T) {
	cases := []BufferFrame{
		{Type: BufferSubscribe, SessionID: "abc-123"},
		{Type: BufferUnsubscribe, SessionID: "abc-123"},
		{Type: BufferSnapshot, SessionID: "session-1", Payload: []byte{1, 2, 3, 4}},
		{Type: BufferDelta, SessionID: "session-1", Payload: []byte{9, 9}},
		{Type: BufferBell, SessionID: "session-1"},
	}

	for _, f := range cases {
		encoded := EncodeBuffer(f)
		got, err := DecodeBuffer(encoded)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if got.Type != f.Type || got.SessionID != f.SessionID || !bytes.Equal(got.Payload, f.Payload) {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", got, f)
		}
	}
}

func TestBufferFragmentation(t *testing.T) {
	f1 := BufferFrame{Type: BufferSubscribe, SessionID: "s1"}
	f2 := BufferFrame{Type: BufferSnapshot, SessionID: "s1", Payload: []byte{1, 2, 3}}
	f3 := BufferFrame{Type: BufferBell, SessionID: "s2"}

	combined := append(append(EncodeBuffer(f1), EncodeBuffer(f2)...), EncodeBuffer(f3)...)

	p := &BufferParser{}
	var got []BufferFrame
	for i := 0; i < len(combined); i++ {
		p.Feed(combined[i : i+1])
		for {
			f, ok, err := p.Next()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !ok {
				break
			}
			got = append(got, f)
		}
	}

	want := []BufferFrame{f1, f2, f3}
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Type != want[i].Type || got[i].SessionID != want[i].SessionID || !bytes.Equal(got[i].Payload, want[i].Payload) {
			t.Fatalf("frame %d mismatch: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBufferBadMagic(t *testing.T) {
	b := EncodeBuffer(BufferFrame{Type: BufferBell, SessionID: "x"})
	b[0] ^= 0xFF
	if _, err := DecodeBuffer(b); err == nil {
		t.Fatalf("expected error for corrupted magic")
	}
}
