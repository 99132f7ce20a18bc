package recorder

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"
)

// pollInterval is how often Follow checks for newly appended bytes.
const pollInterval = 20 * time.Millisecond

// Follow reads path starting after the header line and delivers each fully
// terminated event to onEvent as it is appended, tolerating a partially
// written trailing line by holding it back until its terminating newline
// arrives (spec §4.4: "Readers may tail the file and MUST tolerate
// partially-written trailing lines"). It returns when ctx is done or the stop
// channel is closed.
//
// A plain *bufio.Reader is not used here: once it observes io.EOF from the
// underlying file it will not re-attempt reads even after the file grows, so
// tailing is implemented with raw Read calls over a growing byte buffer
// instead.
func Follow(ctx context.Context, path string, stop <-chan struct{}, onEvent func(Event)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Skip the header line first.
	if err := skipLine(f); err != nil && err != io.EOF {
		return err
	}

	var pending bytes.Buffer
	chunk := make([]byte, 32*1024)

	for {
		n, err := f.Read(chunk)
		if n > 0 {
			pending.Write(chunk[:n])
			for {
				line, ok := takeLine(&pending)
				if !ok {
					break
				}
				ev, decodeErr := DecodeEvent(line)
				if decodeErr != nil {
					continue
				}
				onEvent(ev)
			}
		}
		if err != nil && err != io.EOF {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-time.After(pollInterval):
		}
	}
}

// skipLine consumes bytes from f up to and including the next newline.
func skipLine(f *os.File) error {
	buf := make([]byte, 1)
	for {
		n, err := f.Read(buf)
		if n > 0 && buf[0] == '\n' {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// takeLine extracts one complete line (without its trailing newline) from
// buf, if a full newline-terminated line is present.
func takeLine(buf *bytes.Buffer) ([]byte, bool) {
	b := buf.Bytes()
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return nil, false
	}
	line := make([]byte, idx)
	copy(line, b[:idx])
	buf.Next(idx + 1)
	return line, true
}
