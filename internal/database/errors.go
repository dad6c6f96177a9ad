package database

import (
	"errors"

	"github.com/lib/pq"
)

// isUndefinedTable reports a Postgres 42P01 error.
func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}

// IsUniqueViolation reports a Postgres 23505 error raised through lib/pq.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
