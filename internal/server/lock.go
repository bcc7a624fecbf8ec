package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

// LockFile marks a state dir as owned by one process.
const LockFile = "state.lock"

// ErrStateLocked is returned by OpenState while another live process holds
// the state dir.
var ErrStateLocked = errors.New("state dir is in use")

type stateLock struct {
	fs   afero.Fs
	path string
}

// acquireLock creates path exclusively and writes the current pid into it. A
// lock left behind by a process that no longer runs is taken over.
func acquireLock(fs afero.Fs, path string) (*stateLock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = fs.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
			}
			return &stateLock{fs: fs, path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		pid := lockOwner(fs, path)
		if pid > 0 && processAlive(pid) {
			return nil, fmt.Errorf("%w by pid %d (%s); stop the server or use the admin API", ErrStateLocked, pid, path)
		}
		if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock file: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s keeps reappearing", ErrStateLocked, path)
}

func (l *stateLock) release() error {
	if err := l.fs.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// lockOwner returns the pid recorded in the lock file, or 0 when unreadable.
func lockOwner(fs afero.Fs, path string) int {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func processAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
