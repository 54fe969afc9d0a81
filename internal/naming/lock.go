package naming

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// ErrDirLocked means another run holds the output directory.
var ErrDirLocked = errors.New("output directory is locked by another run")

const lockRetryDelay = 250 * time.Millisecond

// DirLock is the single-writer lock on an output directory.
type DirLock struct {
	path string
	lock *flock.Flock
}

// LockDir acquires the lock of layout's output directory, waiting until ctx
// is done. A ctx without deadline that is already cancelled makes this a
// single attempt.
func LockDir(ctx context.Context, layout Layout) (*DirLock, error) {
	if err := os.MkdirAll(layout.StatePath(""), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	path := layout.StatePath("lock")
	l := &DirLock{path: path, lock: flock.New(path)}

	ok, err := l.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if ok {
		return l, nil
	}
	if ctx.Err() != nil {
		return nil, ErrDirLocked
	}

	ok, err = l.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrDirLocked, err)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrDirLocked
	}
	return l, nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}

// Unlock releases the lock.
func (l *DirLock) Unlock() error {
	return l.lock.Unlock()
}
