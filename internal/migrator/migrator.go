// Package migrator is the entry point of a migration run.
//
// A run loads the declared changelog, connects to the target and, under the
// migration lock, reads the history, backfills missing checksums, rejects
// edited changesets, selects what is left to apply and hands it to the
// writer. Everything between reading history and the last commit happens
// while the lock is held.
package migrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/graphmig/internal/changelog"
	"github.com/roach88/graphmig/internal/diff"
	"github.com/roach88/graphmig/internal/lock"
	"github.com/roach88/graphmig/internal/writer"
)

// Target is a connection to the store being migrated.
type Target interface {
	writer.Target
	lock.MarkerStore

	// Key identifies the target for the lock manager.
	Key() string

	ReadHistory(ctx context.Context) ([]changelog.Changeset, error)
	BackfillChecksums(ctx context.Context, changesets []changelog.Changeset) (int64, error)
	ClearChecksums(ctx context.Context, ids []string) (int64, error)

	Close() error
}

// ConnectFunc opens a connection to the target. Each call returns a new
// connection, owned and closed by the caller.
type ConnectFunc func(ctx context.Context) (Target, error)

// Migrator runs migrations against one target.
type Migrator struct {
	connect    ConnectFunc
	lockOpts   []lock.Option
	writerOpts []writer.Option
	logger     *logrus.Entry
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLockOptions passes options to the lock manager of every run.
func WithLockOptions(opts ...lock.Option) Option {
	return func(m *Migrator) { m.lockOpts = append(m.lockOpts, opts...) }
}

// WithWriterOptions passes options to the writer of every run.
func WithWriterOptions(opts ...writer.Option) Option {
	return func(m *Migrator) { m.writerOpts = append(m.writerOpts, opts...) }
}

// WithLogger sets the logger. The lock manager and the writer log through
// it unless their own options say otherwise.
func WithLogger(l *logrus.Entry) Option {
	return func(m *Migrator) { m.logger = l }
}

// New creates a Migrator.
func New(connect ConnectFunc, opts ...Option) *Migrator {
	m := &Migrator{connect: connect}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return m
}

// Result summarizes a run.
type Result struct {
	Declared   int            `json:"declared"`
	Persisted  int            `json:"persisted"`
	Backfilled int64          `json:"backfilled"`
	Selected   int            `json:"selected"`
	Report     *writer.Report `json:"report"`
	Duration   time.Duration  `json:"duration"`
}

// Run applies every declared changeset that the history and contexts
// select.
//
// An edited changeset without run-on-change aborts the run with
// *diff.IntegrityConflictError before anything is written. On error the
// returned Result still describes the work done so far.
func (m *Migrator) Run(ctx context.Context, source changelog.Source, contexts changelog.ExecutionContexts) (res *Result, err error) {
	start := time.Now()
	res = &Result{}
	defer func() {
		res.Duration = time.Since(start)
		runDurationSeconds.Observe(res.Duration.Seconds())
		runsTotal.WithLabelValues(runStatus(err)).Inc()
	}()

	declared, err := m.load(ctx, source)
	if err != nil {
		return res, err
	}
	res.Declared = len(declared)

	target, err := m.connect(ctx)
	if err != nil {
		return res, fmt.Errorf("connect to target: %w", err)
	}
	defer func() {
		if cerr := target.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close target: %w", cerr))
		}
	}()

	logger := m.logger.WithField("target", target.Key())
	logger.WithFields(logrus.Fields{
		"declared": res.Declared,
		"contexts": contexts.String(),
	}).Info("starting migration run")

	locker := lock.New(target.Key(), target, m.lockOptions(logger)...)
	err = locker.Run(ctx, func(ctx context.Context) error {
		return m.migrate(ctx, logger, target, declared, contexts, res)
	})
	if err != nil {
		return res, err
	}

	logger.WithFields(logrus.Fields{
		"selected":   res.Selected,
		"backfilled": res.Backfilled,
		"duration":   time.Since(start).Round(time.Millisecond),
	}).Info("migration run complete")
	return res, nil
}

// migrate is the part of a run that holds the lock.
func (m *Migrator) migrate(ctx context.Context, logger *logrus.Entry, target Target, declared []changelog.Changeset, contexts changelog.ExecutionContexts, res *Result) error {
	persisted, err := target.ReadHistory(ctx)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	res.Persisted = len(persisted)

	if backfill := diff.ComputeToBackfillChecksum(declared, persisted); len(backfill) > 0 {
		n, err := target.BackfillChecksums(ctx, backfill)
		if err != nil {
			return fmt.Errorf("backfill checksums: %w", err)
		}
		res.Backfilled = n
		logger.WithField("count", n).Info("backfilled missing checksums")

		if persisted, err = target.ReadHistory(ctx); err != nil {
			return fmt.Errorf("read history: %w", err)
		}
	}

	if err := diff.CheckConflicts(declared, persisted); err != nil {
		return err
	}

	selected := diff.ComputeToInsert(contexts, declared, persisted)
	res.Selected = len(selected)

	report, err := writer.New(target, m.writerOptions(logger)...).Write(ctx, selected)
	res.Report = report
	observeReport(report)
	return err
}

// DryRun writes what Run would apply to w, without taking the lock or
// writing anything.
func (m *Migrator) DryRun(ctx context.Context, source changelog.Source, contexts changelog.ExecutionContexts, w io.Writer) (err error) {
	declared, err := m.load(ctx, source)
	if err != nil {
		return err
	}

	target, err := m.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect to target: %w", err)
	}
	defer func() {
		if cerr := target.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close target: %w", cerr))
		}
	}()

	persisted, err := target.ReadHistory(ctx)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	// Missing checksums would be backfilled from the declared changesets,
	// so they cannot conflict.
	for _, cs := range diff.ComputeToBackfillChecksum(declared, persisted) {
		for i, p := range persisted {
			if p.SameAs(cs) {
				persisted[i] = p.WithChecksum(cs.Checksum())
			}
		}
	}
	if err := diff.CheckConflicts(declared, persisted); err != nil {
		return err
	}

	return writer.DryRun(w, diff.ComputeToInsert(contexts, declared, persisted))
}

// ClearChecksums nulls stored checksums: all of them when ids is empty,
// otherwise those of the listed changeset ids. Query history is untouched.
// It runs under the migration lock.
func (m *Migrator) ClearChecksums(ctx context.Context, ids ...string) (cleared int64, err error) {
	target, err := m.connect(ctx)
	if err != nil {
		return 0, fmt.Errorf("connect to target: %w", err)
	}
	defer func() {
		if cerr := target.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close target: %w", cerr))
		}
	}()

	logger := m.logger.WithField("target", target.Key())
	locker := lock.New(target.Key(), target, m.lockOptions(logger)...)
	err = locker.Run(ctx, func(ctx context.Context) error {
		n, err := target.ClearChecksums(ctx, ids)
		cleared = n
		return err
	})
	if err != nil {
		return cleared, fmt.Errorf("clear checksums: %w", err)
	}
	logger.WithFields(logrus.Fields{"cleared": cleared, "ids": ids}).Info("checksums cleared")
	return cleared, nil
}

// load reads and validates the declared changelog.
func (m *Migrator) load(ctx context.Context, source changelog.Source) ([]changelog.Changeset, error) {
	declared, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load changelog: %w", err)
	}
	if err := changelog.Validate(declared); err != nil {
		return nil, err
	}
	for _, w := range changelog.NormalizationWarnings(declared) {
		m.logger.Warn(w)
	}
	return declared, nil
}

func (m *Migrator) lockOptions(logger *logrus.Entry) []lock.Option {
	opts := []lock.Option{
		lock.WithLogger(logger.WithField("component", "lock")),
		lock.WithWaitObserver(func(d time.Duration) { lockWaitSeconds.Observe(d.Seconds()) }),
	}
	return append(opts, m.lockOpts...)
}

func (m *Migrator) writerOptions(logger *logrus.Entry) []writer.Option {
	opts := []writer.Option{writer.WithLogger(logger.WithField("component", "writer"))}
	return append(opts, m.writerOpts...)
}

func observeReport(r *writer.Report) {
	if r == nil {
		return
	}
	for _, a := range r.Changesets {
		changesetsTotal.WithLabelValues(a.Outcome.String()).Inc()
		applicationsTotal.Add(float64(a.Applications))
	}
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return statusSuccess
	case diff.IsIntegrityConflict(err):
		return statusConflict
	default:
		return statusFailed
	}
}
