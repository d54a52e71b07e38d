// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/enrollment"
)

// detachedContext keeps its parent's values but is never cancelled: once a unit of work has begun it
// runs to commit or rollback.
type detachedContext struct{ parent context.Context }

func (detachedContext) Deadline() (time.Time, bool)         { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}               { return nil }
func (detachedContext) Err() error                          { return nil }
func (c detachedContext) Value(key interface{}) interface{} { return c.parent.Value(key) }

// runInTx runs fn in a transaction started on a detached context.
func runInTx(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context, tx *sqlx.Tx) error) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}
	ctx = detachedContext{parent: ctx}

	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return storageErr(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = storageErr(cErr, "committing transaction")
		}
	}()
	return fn(ctx, tx)
}

// storageErr maps a driver error to an enrollment error: serialization failures, deadlocks and unique
// violations are conflicts with another unit of work, anything else is a storage failure.
func storageErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "serialization_failure", "deadlock_detected", "unique_violation":
			return enrollment.WrapError(enrollment.ConcurrentModification, err, format, args...)
		}
	}
	return enrollment.WrapError(enrollment.StorageError, err, format, args...)
}

// where accumulates `AND`-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

// add appends cond, in which `?` stands for arg.
func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
