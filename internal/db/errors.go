package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
var (
	// ErrTransactionConflict indicates concurrent writers touched the same
	// record. Callers may retry.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrSchemaViolation indicates a value did not match a defined field type.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrNotFound indicates the requested snapshot does not exist.
	ErrNotFound = errors.New("snapshot not found")
)

// wrapQueryError maps known SurrealDB query errors onto the sentinels.
// Anything else is returned unchanged.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		switch {
		case strings.Contains(msg, "Transaction conflict"):
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		case strings.Contains(msg, "Couldn't coerce"), strings.Contains(msg, "Expected a"):
			return fmt.Errorf("%w: %s", ErrSchemaViolation, msg)
		}
	}

	return err
}
