// Package daemon tracks the detached cookd server process through a
// pid file, so serve start/stop/status can find it across CLI
// invocations.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFile records which process owns the cookd daemon.
type PIDFile struct {
	path string
}

// New returns a PIDFile at path. Nothing is touched on disk until
// Write or WritePID.
func New(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location.
func (p *PIDFile) Path() string { return p.path }

// Write records the current process.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID records pid, replacing any previous owner.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file %s: %w", p.path, err)
	}
	return nil
}

// Read returns the recorded pid. A missing file means no daemon was
// started; garbage content means the file was clobbered and is
// reported as an error rather than a pid.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s holds %q, not a pid", p.path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Running reports the recorded pid and whether that process is alive.
// A missing or clobbered file reads as not running.
func (p *PIDFile) Running() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, Alive(pid)
}

// Remove deletes the file. Callers remove it when the daemon exits or
// when a stale entry is detected.
func (p *PIDFile) Remove() error {
	return os.Remove(p.path)
}
