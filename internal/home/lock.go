package home

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked is returned by Lock when another live process holds the home.
var ErrLocked = errors.New("home directory in use")

// Lock claims the home for this process by writing its PID to PidPath.
// A PID file left behind by a dead process is taken over.
func (d *Dir) Lock() error {
	if pid, err := d.LockOwner(); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("%w: %s is held by pid %d", ErrLocked, d.path, pid)
	}
	if err := os.WriteFile(d.PidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Unlock removes the PID file if this process still owns it.
func (d *Dir) Unlock() {
	if pid, err := d.LockOwner(); err == nil && pid == os.Getpid() {
		_ = os.Remove(d.PidPath())
	}
}

// LockOwner returns the PID recorded in the PID file.
func (d *Dir) LockOwner() (int, error) {
	data, err := os.ReadFile(d.PidPath())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file contents: %w", err)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without sending a real signal. EPERM
	// means the process exists under another user.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
