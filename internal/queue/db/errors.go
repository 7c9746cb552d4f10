package db

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrTicketNotFound means no ticket matches the barcode or visit in
	// the requested category.
	ErrTicketNotFound = errors.New("queue ticket not found")

	// ErrPreconditionFailed means a conditional update lost a race: the
	// row changed between the read and the write. The caller may re-fetch
	// and retry once, never in a loop.
	ErrPreconditionFailed = errors.New("ticket changed since it was read")

	// ErrDuplicateBarcode means an insert collided with an existing
	// barcode in the same category.
	ErrDuplicateBarcode = errors.New("barcode already exists in category")
)

// isUniqueViolation reports whether err is the store's uniqueness-constraint
// error. Postgres surfaces SQLSTATE 23505; the sqlite driver used in tests
// reports a plain "UNIQUE constraint failed" message.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: queue_tickets")
}
