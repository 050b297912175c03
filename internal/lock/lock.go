package lock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Defaults for Manager options.
const (
	DefaultTimeout      = time.Minute
	DefaultPollInterval = time.Second
	releaseTimeout      = 10 * time.Second
)

var (
	// ErrLockTimeout is returned when the local mutex cannot be taken in time.
	ErrLockTimeout = errors.New("LOCK_TIMEOUT: timed out waiting for the local migration lock")

	// ErrMarkerExists is returned by MarkerStore.InsertMarker when another
	// run already holds the marker.
	ErrMarkerExists = errors.New("lock marker already exists")
)

// Marker is the record a run keeps in the target while it holds the lock.
type Marker struct {
	Token    string
	Owner    string
	PID      int
	LockedAt time.Time
}

// MarkerStore reads and writes the lock marker in the target.
//
// The store holds at most one marker. InsertMarker must be atomic: when a
// marker is already present it returns ErrMarkerExists and changes nothing.
// DeleteMarker removes the marker only if it carries the given token.
type MarkerStore interface {
	InsertMarker(ctx context.Context, m Marker) error
	MarkerExists(ctx context.Context) (bool, error)
	DeleteMarker(ctx context.Context, token string) error
}

// ReleaseHook arranges for release to be called if the process is stopped
// while the lock is held. It returns a function that cancels the
// arrangement. release cancels the running task and deletes the marker; it
// is safe to call more than once.
type ReleaseHook func(release func()) (unregister func())

// Manager acquires the lock for one target and runs tasks under it.
//
// A Manager is safe for concurrent use.
type Manager struct {
	key     string
	local   *localLock
	markers MarkerStore

	timeout  time.Duration
	poll     time.Duration
	hook     ReleaseHook
	now      func() time.Time
	newToken func() string
	owner    string
	observe  func(wait time.Duration)
	logger   *logrus.Entry
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout bounds the wait for the local mutex, which a co-located run
// holds for its whole duration.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithPollInterval sets how often a waiting caller re-checks the marker.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.poll = d }
}

// WithReleaseHook replaces the default signal-based release hook.
func WithReleaseHook(h ReleaseHook) Option {
	return func(m *Manager) { m.hook = h }
}

// WithClock sets the time source used for marker timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTokenGenerator sets the marker token generator (default UUIDv7).
func WithTokenGenerator(gen func() string) Option {
	return func(m *Manager) { m.newToken = gen }
}

// WithOwner overrides the network address recorded in the marker.
func WithOwner(owner string) Option {
	return func(m *Manager) { m.owner = owner }
}

// WithWaitObserver registers a callback receiving the time spent acquiring.
func WithWaitObserver(fn func(wait time.Duration)) Option {
	return func(m *Manager) { m.observe = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager for the target identified by key.
//
// Managers created with the same key share one local mutex, so co-located
// runs against the same target serialize before touching it.
func New(key string, markers MarkerStore, opts ...Option) *Manager {
	m := &Manager{
		key:      key,
		local:    localFor(key),
		markers:  markers,
		timeout:  DefaultTimeout,
		poll:     DefaultPollInterval,
		hook:     SignalReleaseHook,
		now:      time.Now,
		newToken: func() string { return uuid.Must(uuid.NewV7()).String() },
		observe:  func(time.Duration) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.owner == "" {
		m.owner = defaultOwner()
	}
	if m.logger == nil {
		m.logger = logrus.WithField("component", "lock")
	}
	m.logger = m.logger.WithField("target", key)
	return m
}

// Run acquires the lock, runs task and releases the lock.
//
// The local mutex is held from acquisition until the marker is deleted, so
// co-located runs wait at most the configured timeout before failing with
// ErrLockTimeout. The marker is deleted on every exit path. If deleting it
// fails, that error is joined with the task's error rather than replacing it.
//
// task runs with a context that the release hook cancels, so a transaction
// open at that moment rolls back before the marker is deleted.
func (m *Manager) Run(ctx context.Context, task func(ctx context.Context) error) (err error) {
	start := time.Now()
	if err := m.local.lock(ctx, m.timeout); err != nil {
		return err
	}
	defer m.local.unlock()

	marker, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	m.observe(time.Since(start))
	m.logger.WithFields(logrus.Fields{
		"token": marker.Token,
		"owner": marker.Owner,
	}).Info("migration lock acquired")

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := &hold{m: m, marker: marker, cancel: cancel}
	unregister := m.hook(h.release)

	defer func() {
		unregister()
		h.release()
		if releaseErr := h.result(); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()

	return task(taskCtx)
}

// acquire inserts the marker, waiting while another process holds one.
// Must hold the local mutex.
func (m *Manager) acquire(ctx context.Context) (Marker, error) {
	waitLogged := false
	for {
		marker, inserted, err := m.tryInsert(ctx)
		if err != nil {
			return Marker{}, err
		}
		if inserted {
			return marker, nil
		}

		if !waitLogged {
			m.logger.Info("migration lock held by another process, waiting")
			waitLogged = true
		}
		timer := time.NewTimer(m.poll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Marker{}, ctx.Err()
		}
	}
}

// tryInsert inserts a marker if none exists. Must hold the local mutex.
func (m *Manager) tryInsert(ctx context.Context) (Marker, bool, error) {
	exists, err := m.markers.MarkerExists(ctx)
	if err != nil {
		return Marker{}, false, fmt.Errorf("check lock marker: %w", err)
	}
	if exists {
		return Marker{}, false, nil
	}

	marker := Marker{
		Token:    m.newToken(),
		Owner:    m.owner,
		PID:      os.Getpid(),
		LockedAt: m.now().UTC(),
	}
	err = m.markers.InsertMarker(ctx, marker)
	if errors.Is(err, ErrMarkerExists) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("insert lock marker: %w", err)
	}
	return marker, true, nil
}

// hold is one acquisition of the lock.
type hold struct {
	m      *Manager
	marker Marker
	cancel context.CancelFunc

	mu      sync.Mutex
	deleted bool
	err     error
}

// release cancels the task's context, then deletes the marker. It is safe
// to call from several goroutines; once a delete succeeds later calls do
// nothing, while a failed delete is retried by the next call.
func (h *hold) release() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deleted {
		return
	}
	h.err = h.m.deleteMarker(h.marker)
	h.deleted = h.err == nil
}

func (h *hold) result() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// deleteMarker removes the marker.
//
// It uses its own context: the run's context may already be cancelled.
func (m *Manager) deleteMarker(marker Marker) error {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := m.markers.DeleteMarker(ctx, marker.Token); err != nil {
		m.logger.WithError(err).WithField("token", marker.Token).Error("failed to delete migration lock marker")
		return fmt.Errorf("delete lock marker %s: %w", marker.Token, err)
	}
	m.logger.WithField("token", marker.Token).Info("migration lock released")
	return nil
}

// defaultOwner returns "hostname (ip)" for the first non-loopback address.
func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return host
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return fmt.Sprintf("%s (%s)", host, ip4)
		}
	}
	return host
}
