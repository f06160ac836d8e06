package history

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrOwned is returned when a live process already drives the history file
var ErrOwned = errors.New("history is owned by another rgsx process")

// OwnerLock marks the process allowed to rewrite history.json. Only the
// owner may recover interrupted entries or run downloads.
type OwnerLock struct {
	path string
}

// AcquireOwner creates the pid file at path. A pid file left by a dead
// process is reclaimed.
func AcquireOwner(path string) (*OwnerLock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("failed to write owner file: %w", werr)
			}
			return &OwnerLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create owner file: %w", err)
		}

		if pid, alive := ownerAlive(path); alive {
			return nil, fmt.Errorf("%w (pid %d)", ErrOwned, pid)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale owner file: %w", err)
		}
	}
	return nil, ErrOwned
}

// ownerAlive reports the pid recorded at path and whether it still runs.
// An unreadable or garbled file counts as stale.
func ownerAlive(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if pid == os.Getpid() {
		return pid, true
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return pid, false
	}
	return pid, alive
}

// Release removes the pid file
func (l *OwnerLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
