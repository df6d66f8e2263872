// Package repositories implements the data access layer for ConfigVault.
// Each repository type encapsulates all database queries for one entity; services
// never issue SQL directly. Lookups return (nil, nil) when no row matches.
package repositories

import (
	"errors"

	"github.com/lib/pq"
)

// ErrDuplicate is returned when an insert violates a unique constraint
var ErrDuplicate = errors.New("duplicate key")

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = pq.ErrorCode("23505")

// translateError maps driver errors onto repository sentinels
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
