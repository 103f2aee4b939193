// Package sqlxrepos implements the repositories on PostgreSQL through sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/strmangle"

	"github.com/daniel-alt-pages/ietac-sub000/core"
)

const uniqueViolation = "23505"

// where accumulates AND-ed conditions and their positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

// add appends cond, where every "?" stands for the next argument.
func (w *where) add(cond string, args ...interface{}) {
	for _, arg := range args {
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)+1), 1)
		w.args = append(w.args, arg)
	}
	w.conds = append(w.conds, cond)
}

// in appends "col IN (...)" for vals.
func (w *where) in(col string, vals ...string) {
	w.inOp(col, "IN", vals)
}

func (w *where) notIn(col string, vals ...string) {
	w.inOp(col, "NOT IN", vals)
}

func (w *where) inOp(col, op string, vals []string) {
	w.conds = append(w.conds, fmt.Sprintf("%s %s (%s)", col, op, strmangle.Placeholders(true, len(vals), len(w.args)+1, 1)))
	for _, v := range vals {
		w.args = append(w.args, v)
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// inClause renders "col IN ($1,...)" with its arguments.
func inClause(col string, vals ...string) (string, []interface{}) {
	var w where
	w.in(col, vals...)
	return w.conds[0], w.args
}

func isUniqueViolation(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code == uniqueViolation
}

// trapNoRowsErr maps "no rows" to notFound and wraps anything else as a store failure.
func trapNoRowsErr(err error, notFound error, op string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return core.NewStoreError(err, op)
}

// withinTx runs fn inside a transaction of db, rolling back when fn fails.
func withinTx(ctx context.Context, db core.DB, fn func(tx core.DBExecutor) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return core.NewStoreError(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back: %v", rbErr)
		}
		return err
	}
	return core.NewStoreError(tx.Commit(), "committing transaction")
}
