package defra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Pidfile guards against two daemons managing the same DefraDB node.
type Pidfile struct {
	path string
}

// NewPidfile creates a Pidfile handle for the given path.
func NewPidfile(path string) *Pidfile {
	return &Pidfile{path: path}
}

// Acquire writes the current process ID. It fails if the file names a
// process that is still alive.
func (p *Pidfile) Acquire() error {
	if pid, err := p.read(); err == nil && processAlive(pid) {
		return fmt.Errorf("another instance is running (pid %d)", pid)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Release removes the pidfile.
func (p *Pidfile) Release() {
	_ = os.Remove(p.path)
}

func (p *Pidfile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pidfile contents: %w", err)
	}
	return pid, nil
}

// processAlive checks whether a process with the given PID is running.
// Signal 0 checks existence without sending a real signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
