package apperr

import (
	"database/sql"
	"errors"
	"strings"
)

// FromRepository classifies a raw database/driver error into a stable Kind.
// SQLite's mattn driver and pgx both report uniqueness violations as plain
// strings rather than typed errors, so this matches on substrings, listing
// each driver's wording for the same constraint failure.
func FromRepository(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, sql.ErrNoRows) {
		return NotFoundf("entity not found")
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "duplicate key value violates unique constraint"),
		strings.Contains(msg, "SQLSTATE 23505"):
		return Conflictf("%s", msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "violates foreign key constraint"),
		strings.Contains(msg, "SQLSTATE 23503"):
		return NotFoundf("%s", msg)
	case strings.Contains(msg, "CHECK constraint failed"),
		strings.Contains(msg, "SQLSTATE 23514"):
		return Validationf("%s", msg)
	default:
		return Internalf(err, "repository error")
	}
}
