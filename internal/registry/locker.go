package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Locker serialises read-modify-write cycles on the registry file.
type Locker interface {
	// Lock blocks until the lock is held and returns the function that
	// releases it.
	Lock() (unlock func(), err error)
}

var (
	// ErrLockTimeout is returned when the registry lock cannot be taken in time.
	ErrLockTimeout = errors.New("registry lock timeout")
	// ErrLockUnsupported is returned where advisory file locks are unavailable.
	ErrLockUnsupported = errors.New("file locking not supported on this platform")
)

// Locking modes accepted by NewLocker.
const (
	LockFile  = "file"
	LockMutex = "mutex"
)

// MutexLocker is a process-wide mutex. It is only safe when a single
// process owns the registry file.
type MutexLocker struct {
	mu sync.Mutex
}

func (l *MutexLocker) Lock() (func(), error) {
	l.mu.Lock()
	return l.mu.Unlock, nil
}

// FileLocker takes an exclusive advisory lock on a sidecar lock file.
// Goroutines of the same process queue on a mutex first, since advisory
// locks are per open file description.
type FileLocker struct {
	path    string
	timeout time.Duration
	poll    time.Duration

	mu sync.Mutex
}

// NewFileLocker returns a FileLocker for path. A zero timeout means 5s.
func NewFileLocker(path string, timeout time.Duration) *FileLocker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FileLocker{path: path, timeout: timeout, poll: 20 * time.Millisecond}
}

func (l *FileLocker) Lock() (func(), error) {
	if !fileLockSupported {
		return nil, ErrLockUnsupported
	}
	l.mu.Lock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("open lock file %s: %w", l.path, err)
	}

	deadline := time.Now().Add(l.timeout)
	for {
		ok, err := tryLockFile(f)
		if err != nil {
			f.Close()
			l.mu.Unlock()
			return nil, fmt.Errorf("lock %s: %w", l.path, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			f.Close()
			l.mu.Unlock()
			return nil, fmt.Errorf("%w after %s: %s", ErrLockTimeout, l.timeout, l.path)
		}
		time.Sleep(l.poll)
	}

	return func() {
		_ = unlockFile(f)
		_ = f.Close()
		l.mu.Unlock()
	}, nil
}

// NewLocker builds the Locker for a locking mode. The file mode degrades to
// a process mutex where advisory locks are unavailable.
func NewLocker(mode, lockPath string, timeout time.Duration, logger *slog.Logger) (Locker, error) {
	switch mode {
	case "", LockFile:
		if !fileLockSupported {
			logger.Warn("advisory file locks unavailable, using in-process mutex", "path", lockPath)
			return &MutexLocker{}, nil
		}
		return NewFileLocker(lockPath, timeout), nil
	case LockMutex:
		return &MutexLocker{}, nil
	default:
		return nil, fmt.Errorf("unknown locking mode %q", mode)
	}
}
