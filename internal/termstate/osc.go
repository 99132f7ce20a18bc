package termstate

import "strings"

// stepOSC accumulates an OSC string body until its terminator: BEL (0x07) or
// ST (ESC \\). Only OSC 0/1/2 (set title) are interpreted; everything else
// is parsed far enough to find the terminator and then discarded.
func (e *Emulator) stepOSC(b byte) {
	if b == 0x07 {
		e.finishOSC()
		e.state = stateGround
		return
	}
	if b == 0x1b {
		// Tentatively treat as the start of an ST (ESC \\); stepGround isn't
		// re-entered until we see the following '\\'.
		e.oscBuf = append(e.oscBuf, b)
		return
	}
	if len(e.oscBuf) > 0 && e.oscBuf[len(e.oscBuf)-1] == 0x1b {
		if b == '\\' {
			e.oscBuf = e.oscBuf[:len(e.oscBuf)-1]
			e.finishOSC()
			e.state = stateGround
			return
		}
		// False alarm: the ESC wasn't the start of ST, keep it as data.
	}
	e.oscBuf = append(e.oscBuf, b)
}

func (e *Emulator) finishOSC() {
	s := string(e.oscBuf)
	idx := strings.IndexByte(s, ';')
	if idx < 0 {
		return
	}
	kind, body := s[:idx], s[idx+1:]
	if kind == "0" || kind == "1" || kind == "2" {
		e.title = body
		if e.onTitle != nil {
			fn := e.onTitle
			e.mu.Unlock()
			fn(body)
			e.mu.Lock()
		}
	}
}
