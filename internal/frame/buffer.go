package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/vibetunnel/vibetunneld/internal/httperr"
)

// BufferMagic is the fixed magic number ('V','T' as u16 LE = 0x5654) at the
// start of every buffer frame.
const BufferMagic uint16 = 0x5654

// BufferVersion is the current buffer-frame wire version.
const BufferVersion uint8 = 3

// BufferType is a buffer frame's message type byte.
type BufferType byte

const (
	BufferSubscribe   BufferType = 10
	BufferUnsubscribe BufferType = 11
	BufferSnapshot    BufferType = 21
	BufferDelta       BufferType = 22
	BufferBell        BufferType = 30
)

// bufferHeaderLen is magic(2) + version(1) + type(1) + sessionIdLen(4).
const bufferHeaderLen = 2 + 1 + 1 + 4

// BufferFrame is one decoded buffer-broadcast frame (spec §4.1).
type BufferFrame struct {
	Type      BufferType
	SessionID string
	Payload   []byte
}

// EncodeBuffer serializes f into the wire format:
// [magic:u16 LE][version:u8][type:u8][sessionIdLen:u32 LE][sessionId][payloadLen:u32 LE][payload].
func EncodeBuffer(f BufferFrame) []byte {
	sid := []byte(f.SessionID)
	total := bufferHeaderLen + len(sid) + 4 + len(f.Payload)
	buf := make([]byte, total)

	binary.LittleEndian.PutUint16(buf[0:2], BufferMagic)
	buf[2] = BufferVersion
	buf[3] = byte(f.Type)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(sid)))
	off := 8
	copy(buf[off:], sid)
	off += len(sid)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(f.Payload)))
	off += 4
	copy(buf[off:], f.Payload)

	return buf
}

// DecodeBuffer decodes a single complete buffer frame from b. It does not
// tolerate trailing bytes; use BufferParser for streaming input (e.g. over a
// WebSocket that may coalesce writes, or in tests feeding fragments).
func DecodeBuffer(b []byte) (BufferFrame, error) {
	p := &BufferParser{}
	p.Feed(b)
	f, ok, err := p.Next()
	if err != nil {
		return BufferFrame{}, err
	}
	if !ok {
		return BufferFrame{}, httperr.New(httperr.MalformedFrame, "truncated buffer frame")
	}
	if len(p.buf) != 0 {
		return BufferFrame{}, httperr.New(httperr.MalformedFrame, "trailing bytes after buffer frame")
	}
	return f, nil
}

// BufferParser incrementally decodes buffer frames from chunked input, the
// same fragmentation contract as IPCParser. Not safe for concurrent use.
type BufferParser struct {
	buf []byte
}

// Feed appends newly received bytes.
func (p *BufferParser) Feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// Next decodes the next complete frame, if any bytes for one are fully
// buffered.
func (p *BufferParser) Next() (BufferFrame, bool, error) {
	if len(p.buf) < bufferHeaderLen {
		return BufferFrame{}, false, nil
	}

	magic := binary.LittleEndian.Uint16(p.buf[0:2])
	if magic != BufferMagic {
		return BufferFrame{}, false, httperr.New(httperr.MalformedFrame,
			fmt.Sprintf("bad buffer frame magic 0x%04x", magic))
	}
	version := p.buf[2]
	if version != BufferVersion {
		return BufferFrame{}, false, httperr.New(httperr.MalformedFrame,
			fmt.Sprintf("unsupported buffer frame version %d", version))
	}
	typ := BufferType(p.buf[3])
	sidLen := binary.LittleEndian.Uint32(p.buf[4:8])

	if bufferHeaderLen+int(sidLen)+4 > len(p.buf) {
		return BufferFrame{}, false, nil
	}
	sidStart := bufferHeaderLen
	sidEnd := sidStart + int(sidLen)
	sessionID := string(p.buf[sidStart:sidEnd])

	payloadLenOff := sidEnd
	payloadLen := binary.LittleEndian.Uint32(p.buf[payloadLenOff : payloadLenOff+4])
	payloadStart := payloadLenOff + 4
	payloadEnd := payloadStart + int(payloadLen)
	if payloadEnd > len(p.buf) {
		return BufferFrame{}, false, nil
	}

	payload := make([]byte, payloadLen)
	copy(payload, p.buf[payloadStart:payloadEnd])
	p.buf = p.buf[payloadEnd:]

	return BufferFrame{Type: typ, SessionID: sessionID, Payload: payload}, true, nil
}
