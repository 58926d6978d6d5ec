package expr

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"
)

// A Shell runs a command substitution (spec.md §4.1's <!(cmd) / <!@(cmd)
// forms) and returns its trimmed standard output. It's modeled as an
// injected capability (spec.md §9 "Command substitution as side effect")
// so tests can substitute a deterministic fake instead of spawning real
// processes.
type Shell interface {
	Run(cmd string) (string, error)
}

// OSShell runs commands via the host shell. It's the production
// implementation; command substitutions inherit the generator process's
// lifetime (spec.md §5 — no timeout is imposed).
type OSShell struct{}

// Run implements Shell.
func (OSShell) Run(cmd string) (string, error) {
	c := exec.Command("sh", "-c", cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return "", fmt.Errorf("command substitution %q failed: %w (stderr: %s)", cmd, err, stderr.String())
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

// Words splits a command substitution's captured output on whitespace for
// the <!@(cmd) list form, using POSIX shell word-splitting rules so quoted
// segments in the command's output survive intact.
func Words(output string) ([]string, error) {
	words, err := shlex.Split(output)
	if err != nil {
		return nil, fmt.Errorf("splitting command substitution output: %w", err)
	}
	return words, nil
}

// FakeShell is a deterministic Shell for tests: it looks commands up in a
// fixed table and fails on anything else.
type FakeShell map[string]string

// Run implements Shell.
func (f FakeShell) Run(cmd string) (string, error) {
	out, ok := f[cmd]
	if !ok {
		return "", fmt.Errorf("fake shell has no entry for command %q", cmd)
	}
	return out, nil
}
