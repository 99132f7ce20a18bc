// Package ptysuper implements C3: resolving and spawning a command under a
// pseudo-terminal, owning its lifecycle, and mediating stdin/resize/kill.
package ptysuper

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Resolved is the (binary, args, useShell, resolvedFrom) quadruple from spec
// §4.3's command resolution order.
type Resolved struct {
	Binary       string
	Args         []string
	UseShell     bool
	ResolvedFrom string // "path" | "shell" | "alias"
}

var loginShellNames = map[string]bool{
	"bash": true, "zsh": true, "sh": true, "fish": true,
}

// ResolveCommand implements spec §4.3's resolution order. userShell is the
// fallback interactive shell (typically $SHELL, defaulting to /bin/sh) used
// when argv[0] is neither path-resolvable nor a known login shell name.
func ResolveCommand(argv []string, userShell string) (Resolved, error) {
	argv = stripLeadingSeparator(argv)
	if len(argv) == 0 {
		return Resolved{}, errEmptyCommand
	}

	first := argv[0]

	// 1. argv[0] contains a path separator, or is found on PATH.
	if strings.ContainsRune(first, os.PathSeparator) {
		return Resolved{Binary: first, Args: argv[1:], ResolvedFrom: "path"}, nil
	}
	if resolved, err := exec.LookPath(first); err == nil {
		return Resolved{Binary: resolved, Args: argv[1:], ResolvedFrom: "path"}, nil
	}

	joined := joinArgv(argv)

	// 2. argv[0] is a known login shell name.
	base := filepath.Base(first)
	if loginShellNames[base] {
		shellPath := first
		if resolved, err := exec.LookPath(first); err == nil {
			shellPath = resolved
		}
		return Resolved{
			Binary: shellPath, Args: []string{"-i", "-l", "-c", joined},
			UseShell: true, ResolvedFrom: "shell",
		}, nil
	}

	// 3. Fall back to USER_SHELL -c "<joined-argv>".
	if userShell == "" {
		userShell = "/bin/sh"
	}
	return Resolved{
		Binary: userShell, Args: []string{"-c", joined},
		UseShell: true, ResolvedFrom: "alias",
	}, nil
}

// stripLeadingSeparator removes one leading "--" the caller used to separate
// flags from the command (spec §4.3: "Callers must strip any leading `--`
// separator ... the supervisor MUST NOT treat `--` as the program").
func stripLeadingSeparator(argv []string) []string {
	if len(argv) > 0 && argv[0] == "--" {
		return argv[1:]
	}
	return argv
}

// joinArgv quotes each argument for safe inclusion in a shell -c string,
// adapted from the teacher's ShellQuote.
func joinArgv(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = shellQuote(a)
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	safe := s != ""
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '/' || c == '.' || c == '-' || c == '_') {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type resolveError string

func (e resolveError) Error() string { return string(e) }

const errEmptyCommand = resolveError("command must not be empty")
