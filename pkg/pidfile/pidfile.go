package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var ErrAlreadyRunning = errors.New("daemon already running")

// RunningError reports the PID of the instance holding the file
type RunningError struct {
	PID int
}

func (e *RunningError) Error() string {
	return fmt.Sprintf("%v with PID %d", ErrAlreadyRunning, e.PID)
}

func (e *RunningError) Unwrap() error {
	return ErrAlreadyRunning
}

// PIDFile guards a daemon against running twice
type PIDFile struct {
	path  string
	pid   int
	alive func(pid int) bool
}

// New creates a PIDFile for the current process
func New(path string) *PIDFile {
	return &PIDFile{
		path:  path,
		pid:   os.Getpid(),
		alive: processAlive,
	}
}

// Create writes the PID file. A file left by a process that is gone is
// replaced; a live owner yields a *RunningError.
func (p *PIDFile) Create() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", p.pid)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(p.path)
				return fmt.Errorf("failed to write PID file: %w", errors.Join(werr, cerr))
			}
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create PID file: %w", err)
		}

		existing, rerr := p.readExistingPID()
		if rerr == nil && existing != p.pid && p.alive(existing) {
			return &RunningError{PID: existing}
		}
		// Stale or unreadable
		if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}
	return fmt.Errorf("failed to create PID file %s: raced with another instance", p.path)
}

// Remove deletes the PID file if it still belongs to this process
func (p *PIDFile) Remove() error {
	existing, err := p.readExistingPID()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && existing != p.pid {
		return fmt.Errorf("PID file contains different PID (%d vs %d), not removing", existing, p.pid)
	}
	return os.Remove(p.path)
}

// ForceRemove deletes the PID file regardless of ownership
func (p *PIDFile) ForceRemove() error {
	err := os.Remove(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Path returns the path to the PID file
func (p *PIDFile) Path() string {
	return p.path
}

// CheckRunning reports whether another live process holds the file
func (p *PIDFile) CheckRunning() (bool, int, error) {
	existing, err := p.readExistingPID()
	if errors.Is(err, os.ErrNotExist) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	return existing != p.pid && p.alive(existing), existing, nil
}

func (p *PIDFile) readExistingPID() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", pidStr)
	}
	return pid, nil
}

// processAlive probes pid with signal 0. EPERM means the process exists but
// belongs to another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
