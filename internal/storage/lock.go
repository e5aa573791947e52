package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// LockRetryInitialInterval is the first wait for a held lock.
	LockRetryInitialInterval = 5 * time.Millisecond
	// LockRetryMaxInterval caps the wait between attempts.
	LockRetryMaxInterval = 200 * time.Millisecond
	// LockTimeout bounds how long a writer waits for another process.
	LockTimeout = 5 * time.Second
)

// ErrLockTimeout is returned when a document stays locked past LockTimeout.
var ErrLockTimeout = errors.New("timed out waiting for lock")

var errLockBusy = errors.New("lock busy")

// FileLock serializes writers of one document, across goroutines through
// a mutex and across processes through flock on a sidecar .lock file.
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a lock for the document at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func newLockBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = LockRetryInitialInterval
	b.MaxInterval = LockRetryMaxInterval
	b.MaxElapsedTime = LockTimeout
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Lock polls until the lock is held, ctx is done or LockTimeout passes.
func (l *FileLock) Lock(ctx context.Context) error {
	err := backoff.Retry(func() error {
		ok, err := l.tryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockBusy
		}
		return nil
	}, newLockBackoff(ctx))
	if errors.Is(err, errLockBusy) {
		return fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
	}
	return err
}

// TryLock takes the lock only if nobody holds it.
func (l *FileLock) TryLock() bool {
	ok, _ := l.tryLock()
	return ok
}

func (l *FileLock) tryLock() (bool, error) {
	if !l.mu.TryLock() {
		return false, nil
	}
	err := l.acquire()
	if err == nil {
		return true, nil
	}
	l.mu.Unlock()
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return false, nil
	}
	return false, err
}

func (l *FileLock) acquire() error {
	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return err
	}
	l.file = f
	return nil
}

// Unlock releases the lock and removes the sidecar file.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(l.path + ".lock")
	l.file = nil
	l.mu.Unlock()
	return nil
}
