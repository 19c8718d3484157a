package core

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateToken is returned by KeyService.Issue when the token already
// exists. Callers issuing with a random suffix may retry with a new one.
var ErrDuplicateToken = errors.New("duplicate token")

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
