// Package sqlxrepos implements the training repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/training"
)

// postgres error codes
const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

// connErr turns a dead connection into a shutdown request: the API cannot serve without its DB.
func connErr(err error) error {
	if errors.Is(err, sql.ErrConnDone) {
		return core.NewShutdownError("database connection closed")
	}
	return err
}

type baseRepository struct {
	exec core.DBExecutor
}

func (repo baseRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// selectx runs a `?` placeholder query and scans every row into dest (a pointer to a slice).
// Works on transactions too since it only needs a core.DBExecutor.
func (repo baseRepository) selectx(ctx context.Context, exec []core.DBExecutor, dest interface{}, q string, args ...interface{}) error {
	rows, err := repo.getExec(exec).QueryContext(ctx, sqlx.Rebind(sqlx.DOLLAR, q), args...)
	if err != nil {
		return connErr(err)
	}
	defer func() { _ = rows.Close() }()
	return sqlx.StructScan(rows, dest)
}

func (repo baseRepository) execx(ctx context.Context, exec []core.DBExecutor, q string, args ...interface{}) (int64, error) {
	res, err := repo.getExec(exec).ExecContext(ctx, sqlx.Rebind(sqlx.DOLLAR, q), args...)
	if err != nil {
		return 0, connErr(err)
	}
	return res.RowsAffected()
}

// trapFKErr maps foreign key violations (unknown exercise) to training.ErrExerciseNotFound.
func trapFKErr(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return training.ErrExerciseNotFound
	}
	return errors.Wrap(err, msg)
}

// trapOrderErr maps the order_index unique violation to training.ErrOrderIndexExists.
func trapOrderErr(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "exercises_order_index_key" {
		return training.ErrOrderIndexExists
	}
	return errors.Wrap(err, msg)
}

// Repositories returns the sqlx implementation of every training repository.
func Repositories(db *sqlx.DB) training.Repositories {
	return training.Repositories{
		Exercises: NewExerciseRepository(db),
		Progress:  NewProgressRepository(db),
		Reviews:   NewReviewRepository(db),
		Quiz:      NewQuizRepository(db),
	}
}
