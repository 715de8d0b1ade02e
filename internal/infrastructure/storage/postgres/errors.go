package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"pharmapos/internal/core/apperror"
)

// SQLSTATE codes the engine reacts to.
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateCheckViolation      = "23514"
	sqlStateForeignKeyViolation = "23503"
	sqlStateLockNotAvailable    = "55P03"
	sqlStateDeadlockDetected    = "40P01"
	sqlStateQueryCanceled       = "57014"
)

// PgCode returns the SQLSTATE of err, or "" when err is not a server error.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err violates the named constraint
// (any unique constraint when name is empty).
func IsUniqueViolation(err error, name string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != sqlStateUniqueViolation {
		return false
	}
	return name == "" || pgErr.ConstraintName == name
}

// IsCheckViolation reports whether err violates a CHECK constraint.
func IsCheckViolation(err error) bool {
	return PgCode(err) == sqlStateCheckViolation
}

// MapLockError turns lock wait failures into LockTimeout and leaves other errors alone.
func MapLockError(err error, resource string) error {
	switch PgCode(err) {
	case sqlStateLockNotAvailable, sqlStateDeadlockDetected:
		return apperror.NewLockTimeout(resource).WithCause(err)
	}
	return err
}
