package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"hopper/internal/fileutil"
)

const lockRetryDelay = 50 * time.Millisecond

// DirLocks serializes filesystem mutations per destination directory. The
// in-process mutex orders workers of this daemon; the flock file keeps a
// concurrent one-shot CLI run out of the same directory.
type DirLocks struct {
	dir string

	mu    sync.Mutex
	locks map[string]*dirLock
}

type dirLock struct {
	mu   sync.Mutex
	refs int
}

// NewDirLocks stores lock files under lockDir.
func NewDirLocks(lockDir string) *DirLocks {
	return &DirLocks{dir: lockDir, locks: make(map[string]*dirLock)}
}

// Acquire blocks until target is held or ctx ends. The returned func
// releases both locks.
func (l *DirLocks) Acquire(ctx context.Context, target string) (func(), error) {
	target = filepath.Clean(target)
	local := l.ref(target)

	acquired := make(chan struct{})
	go func() {
		local.mu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-ctx.Done():
		go func() {
			<-acquired
			local.mu.Unlock()
			l.unref(target)
		}()
		return nil, ctx.Err()
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		local.mu.Unlock()
		l.unref(target)
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fileLock := flock.New(filepath.Join(l.dir, fileutil.HashString(target)[:16]+".lock"))
	ok, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		local.mu.Unlock()
		l.unref(target)
		if err == nil {
			err = fmt.Errorf("lock %s: not acquired", target)
		}
		return nil, err
	}

	return func() {
		_ = fileLock.Unlock()
		local.mu.Unlock()
		l.unref(target)
	}, nil
}

func (l *DirLocks) ref(target string) *dirLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[target]
	if !ok {
		lock = &dirLock{}
		l.locks[target] = lock
	}
	lock.refs++
	return lock
}

func (l *DirLocks) unref(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[target]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs <= 0 {
		delete(l.locks, target)
	}
}
