// Package frame implements the two wire framings from spec §4.1: the
// length-prefixed IPC frame used between local clients and the per-session
// socket server (C5), and the buffer-broadcast frame used between the server
// and WebSocket clients (C7). It also implements the snapshot/delta binary
// payload used inside buffer frames (see snapshot.go).
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/vibetunnel/vibetunneld/internal/httperr"
)

// IPCType is an IPC frame's message type byte.
type IPCType byte

const (
	IPCStdinData     IPCType = 0x01
	IPCControlCmd    IPCType = 0x02
	IPCStatusUpdate  IPCType = 0x03
	IPCHeartbeat     IPCType = 0x04
	IPCError         IPCType = 0x05
)

// DefaultMaxIPCPayload is the default maximum accepted frame payload length.
const DefaultMaxIPCPayload = 4 * 1024 * 1024

const ipcHeaderLen = 1 + 4 // type:u8 + length:u32

// IPCFrame is one decoded IPC frame: [type:u8][length:u32 BE][payload].
type IPCFrame struct {
	Type    IPCType
	Payload []byte
}

// EncodeIPC serializes f into the wire format.
func EncodeIPC(f IPCFrame) []byte {
	buf := make([]byte, ipcHeaderLen+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
	copy(buf[5:], f.Payload)
	return buf
}

// IPCParser incrementally decodes a stream of IPC frames from arbitrarily
// chunked byte slices (spec §4.1: "streams may arrive in arbitrary TCP
// chunks"). It is not safe for concurrent use.
type IPCParser struct {
	maxPayload int
	buf        []byte
	skip       int // bytes of an oversized frame's payload still to discard
}

// NewIPCParser creates a parser that rejects frames whose declared length
// exceeds maxPayload. maxPayload <= 0 selects DefaultMaxIPCPayload.
func NewIPCParser(maxPayload int) *IPCParser {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxIPCPayload
	}
	return &IPCParser{maxPayload: maxPayload}
}

// Feed appends newly read bytes to the parser's internal buffer.
func (p *IPCParser) Feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// Next attempts to decode one complete frame from the buffered bytes. It
// returns ok=false when more bytes are needed. err is non-nil only for
// protocol violations (oversized or unrecognized frames); in that case the
// parser has already resynchronized past the offending frame when possible
// (spec §4.1: "the stream is resynchronized by dropping the declared-length
// payload").
func (p *IPCParser) Next() (f IPCFrame, ok bool, err error) {
	if p.skip > 0 {
		n := p.skip
		if n > len(p.buf) {
			n = len(p.buf)
		}
		p.buf = p.buf[n:]
		p.skip -= n
	}
	if p.skip > 0 || len(p.buf) < ipcHeaderLen {
		return IPCFrame{}, false, nil
	}

	typ := IPCType(p.buf[0])
	length := binary.BigEndian.Uint32(p.buf[1:5])

	if int(length) > p.maxPayload {
		// Resynchronize: drop header + declared payload if we have it,
		// otherwise drop everything we currently hold (the rest will
		// arrive and be dropped by subsequent calls until we've consumed
		// the full declared length).
		total := ipcHeaderLen + int(length)
		if total < 0 || total > len(p.buf) {
			// Don't buffer unboundedly waiting for an oversized frame's
			// payload to fully arrive; drop what we have and track the
			// remaining bytes to discard.
			consumed := len(p.buf)
			p.buf = p.buf[:0]
			p.skip = total - consumed
			return IPCFrame{}, false, httperr.New(httperr.PayloadTooLarge,
				fmt.Sprintf("frame declared length %d exceeds max %d (discarded %d buffered bytes, %d more to drop)",
					length, p.maxPayload, consumed, total-consumed))
		}
		p.buf = p.buf[total:]
		return IPCFrame{}, false, httperr.New(httperr.PayloadTooLarge,
			fmt.Sprintf("frame declared length %d exceeds max %d", length, p.maxPayload))
	}

	total := ipcHeaderLen + int(length)
	if len(p.buf) < total {
		return IPCFrame{}, false, nil
	}

	payload := make([]byte, length)
	copy(payload, p.buf[ipcHeaderLen:total])
	p.buf = p.buf[total:]

	if !validIPCType(typ) {
		return IPCFrame{}, false, httperr.New(httperr.InvalidMessageType,
			fmt.Sprintf("unrecognized IPC frame type 0x%02x", byte(typ)))
	}

	return IPCFrame{Type: typ, Payload: payload}, true, nil
}

func validIPCType(t IPCType) bool {
	switch t {
	case IPCStdinData, IPCControlCmd, IPCStatusUpdate, IPCHeartbeat, IPCError:
		return true
	default:
		return false
	}
}

// Drain repeatedly calls Next, returning every complete frame currently
// available. A non-nil error for one frame does not stop decoding of frames
// that follow it in the buffer; callers that need per-frame error handling
// should call Next directly.
func (p *IPCParser) Drain() (frames []IPCFrame, errs []error) {
	for {
		f, ok, err := p.Next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			return frames, errs
		}
		frames = append(frames, f)
	}
}
