// Package writer applies selected changesets to the target.
//
// Each changeset runs through a small state machine inside its own
// transaction:
//
//	PENDING -> PRECONDITION_CHECKED -> {EXECUTED | SKIPPED | ABORTED} -> RECORDED
//
// A precondition that is not met resolves by policy: CONTINUE skips the
// changeset and records nothing, FAIL aborts the run, MARK_AS_EXECUTED
// records the changeset without running its queries. After an execution
// the queries run again while the postcondition holds. The loop has no
// upper bound.
//
// Any error rolls back the current transaction and stops the run.
// Changesets committed before the error stay committed.
package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/graphmig/internal/changelog"
	"github.com/roach88/graphmig/internal/condition"
)

// Tx is one target transaction. It is never shared between changesets.
type Tx interface {
	condition.Executor

	// Exec runs one changeset query.
	Exec(ctx context.Context, query string) error

	// ExecutedPosition returns the history position key was first recorded
	// at, or 0 if it has never been recorded.
	ExecutedPosition(ctx context.Context, key changelog.Key) (int64, error)

	// RecordChangeset writes the history entry of cs. The position is
	// stored only the first time cs is recorded.
	RecordChangeset(ctx context.Context, cs changelog.Changeset, position int64, at time.Time) error

	Commit() error
	Rollback() error
}

// Target is the store the Writer applies changesets to.
type Target interface {
	BeginTx(ctx context.Context) (Tx, error)
	LastPosition(ctx context.Context) (int64, error)
}

// Writer applies changesets in order.
type Writer struct {
	target Target
	now    func() time.Time
	logger *logrus.Entry
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the time source for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(w *Writer) { w.logger = l }
}

// New creates a Writer for target.
func New(target Target, opts ...Option) *Writer {
	w := &Writer{
		target: target,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logrus.WithField("component", "writer")
	}
	return w
}

// Write applies changesets in the given order and reports what happened
// to each one.
//
// On error the report covers the changesets processed before the failing
// one, and the failing changeset's transaction has been rolled back.
func (w *Writer) Write(ctx context.Context, changesets []changelog.Changeset) (*Report, error) {
	report := &Report{Changesets: []Applied{}}
	if len(changesets) == 0 {
		w.logger.Info("no changesets to apply")
		return report, nil
	}

	last, err := w.target.LastPosition(ctx)
	if err != nil {
		return report, fmt.Errorf("read last history position: %w", err)
	}
	pos := &positions{last: last}

	for _, cs := range changesets {
		applied, err := w.apply(ctx, pos, cs)
		if err != nil {
			return report, err
		}
		report.Changesets = append(report.Changesets, applied)
	}

	w.logger.WithFields(logrus.Fields{
		"executed":           report.Count(Executed),
		"skipped":            report.Count(Skipped),
		"marked_as_executed": report.Count(MarkedAsExecuted),
	}).Info("changesets applied")
	return report, nil
}

// apply runs one changeset in its own transaction.
func (w *Writer) apply(ctx context.Context, pos *positions, cs changelog.Changeset) (applied Applied, err error) {
	logger := w.logger.WithFields(logrus.Fields{
		"changeset": cs.ID(),
		"author":    cs.Author(),
	})
	applied = Applied{Key: cs.Key()}

	tx, err := w.target.BeginTx(ctx)
	if err != nil {
		return applied, &ApplyError{Key: cs.Key(), Stage: "begin", Err: err}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.WithError(rbErr).Warn("rollback failed")
		}
	}()

	applied.Outcome = Executed
	if pre := cs.Precondition(); pre != nil {
		ok, err := condition.Evaluate(ctx, tx, pre.Query)
		if err != nil {
			return applied, &ApplyError{Key: cs.Key(), Stage: "precondition", Err: err}
		}
		if !ok {
			switch pre.Policy {
			case changelog.PolicyContinue:
				logger.Info("precondition not met, skipping changeset")
				applied.Outcome = Skipped
				return applied, nil
			case changelog.PolicyMarkAsExecuted:
				logger.Info("precondition not met, marking changeset as executed")
				applied.Outcome = MarkedAsExecuted
			default:
				rendered, rerr := condition.Render(pre.Query)
				if rerr != nil {
					rendered = fmt.Sprintf("%v", pre.Query)
				}
				logger.WithField("policy", pre.Policy).Error("precondition not met, aborting run")
				return applied, &PreconditionFailedError{Key: cs.Key(), Query: rendered, Policy: pre.Policy}
			}
		}
	}

	if applied.Outcome == Executed {
		for {
			if err := w.execute(ctx, tx, cs); err != nil {
				return applied, err
			}
			applied.Applications++

			post := cs.Postcondition()
			if post == nil {
				break
			}
			again, err := condition.Evaluate(ctx, tx, post.Query)
			if err != nil {
				return applied, &ApplyError{Key: cs.Key(), Stage: "postcondition", Err: err}
			}
			if !again {
				break
			}
			logger.WithField("applications", applied.Applications).Debug("postcondition holds, applying queries again")
		}
	}

	applied.Position, err = pos.assign(ctx, tx, cs.Key())
	if err != nil {
		return applied, &ApplyError{Key: cs.Key(), Stage: "record", Err: err}
	}
	if err := tx.RecordChangeset(ctx, cs, applied.Position, w.now()); err != nil {
		return applied, &ApplyError{Key: cs.Key(), Stage: "record", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return applied, &ApplyError{Key: cs.Key(), Stage: "commit", Err: err}
	}
	committed = true

	logger.WithFields(logrus.Fields{
		"outcome":      applied.Outcome,
		"applications": applied.Applications,
		"position":     applied.Position,
	}).Info("changeset recorded")
	return applied, nil
}

// execute runs the query list once, in order.
func (w *Writer) execute(ctx context.Context, tx Tx, cs changelog.Changeset) error {
	for i, q := range cs.Queries() {
		if err := tx.Exec(ctx, q); err != nil {
			return &ApplyError{Key: cs.Key(), Stage: fmt.Sprintf("exec query %d", i+1), Err: err}
		}
	}
	return nil
}
