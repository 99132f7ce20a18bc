package ptysuper

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GenerateTitle is the pure function behind title mode "static" and the
// initial title written to a session's stream header (spec §4.3, §8
// testable property: deterministic given the same inputs). name, if
// non-empty after trimming whitespace, wins; a whitespace-only name is
// treated as absent.
func GenerateTitle(workingDir string, command []string, name string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	dir := abbreviateHome(workingDir)
	cmdStr := "shell"
	if len(command) > 0 {
		cmdStr = strings.Join(command, " ")
	}
	return fmt.Sprintf("%s - %s", dir, cmdStr)
}

// abbreviateHome replaces a leading $HOME prefix with "~" (spec §4.3: "home-
// prefix replaced by ~").
func abbreviateHome(dir string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return dir
	}
	if dir == home {
		return "~"
	}
	if rest, ok := strings.CutPrefix(dir, home+string(filepath.Separator)); ok {
		return "~" + string(filepath.Separator) + rest
	}
	return dir
}

// BuildOSCTitleSequence builds an OSC 2 "set window title" escape sequence,
// terminated with BEL (the widest-compatible terminator).
func BuildOSCTitleSequence(title string) []byte {
	var b bytes.Buffer
	b.WriteString("\x1b]2;")
	b.WriteString(title)
	b.WriteByte('\a')
	return b.Bytes()
}

// StripOSCTitleSequences removes OSC 0/1/2 title-setting sequences from data,
// used by TitleModeStatic and TitleModeFilter to keep the foreground program
// from overriding the session's displayed title (spec §4.3). OSC sequences
// not setting a title (e.g. OSC 8 hyperlinks) pass through untouched.
func StripOSCTitleSequences(data []byte) []byte {
	var out bytes.Buffer
	for i := 0; i < len(data); {
		if isTitleOSCStart(data, i) {
			end := oscSequenceEnd(data, i)
			if end < 0 {
				// Incomplete trailing sequence: drop the rest of this chunk
				// rather than emit a half escape code.
				break
			}
			i = end
			continue
		}
		out.WriteByte(data[i])
		i++
	}
	return out.Bytes()
}

// isTitleOSCStart reports whether data[i:] begins an OSC 0/1/2 sequence:
// ESC ] ('0'|'1'|'2') ';'.
func isTitleOSCStart(data []byte, i int) bool {
	if i+3 >= len(data) {
		return false
	}
	if data[i] != 0x1b || data[i+1] != ']' {
		return false
	}
	if data[i+2] != '0' && data[i+2] != '1' && data[i+2] != '2' {
		return false
	}
	return data[i+3] == ';'
}

// oscSequenceEnd returns the index just past the terminator (BEL, or
// ESC '\\' i.e. String Terminator) of the OSC sequence starting at i, or -1
// if the sequence is not terminated within data.
func oscSequenceEnd(data []byte, i int) int {
	for j := i + 4; j < len(data); j++ {
		if data[j] == '\a' {
			return j + 1
		}
		if data[j] == 0x1b && j+1 < len(data) && data[j+1] == '\\' {
			return j + 2
		}
	}
	return -1
}
