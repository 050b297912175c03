package lock

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// localLock is the in-process half of the lock, shared by key. Handing
// the semaphore to the next waiter is the local "marker absent" signal.
type localLock struct {
	sem chan struct{}
}

var (
	registryMu sync.Mutex
	registry   = map[string]*localLock{}
)

// localFor returns the process-wide local lock for key.
func localFor(key string) *localLock {
	registryMu.Lock()
	defer registryMu.Unlock()

	l, ok := registry[key]
	if !ok {
		l = &localLock{sem: make(chan struct{}, 1)}
		registry[key] = l
	}
	return l
}

// lock takes the mutex, waiting at most timeout.
func (l *localLock) lock(ctx context.Context, timeout time.Duration) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *localLock) unlock() {
	<-l.sem
}

// SignalReleaseHook releases the lock on SIGINT or SIGTERM, then re-raises
// the signal so the process still stops (or other handlers still run).
func SignalReleaseHook(release func()) (unregister func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			release()
			signal.Stop(sigs)
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				_ = p.Signal(sig)
			}
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
		})
	}
}

// NoReleaseHook registers nothing. Useful in tests and for callers that
// manage process signals themselves.
func NoReleaseHook(func()) func() { return func() {} }
