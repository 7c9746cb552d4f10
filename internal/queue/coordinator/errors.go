package coordinator

import "errors"

// Business-rule errors. None of these are retried by the coordinator; they
// propagate to the entry point for user-facing handling. Concurrency
// conflicts surface as db.ErrPreconditionFailed and may be retried once by
// the caller with fresh state.
var (
	// ErrUnknownCategory means the queue category is not configured.
	ErrUnknownCategory = errors.New("unknown queue category")

	// ErrInvalidBarcode means the scanned barcode does not exist in the
	// category. Recovered by re-prompting.
	ErrInvalidBarcode = errors.New("barcode not found in queue category")

	// ErrBarcodeAlreadyInUse means a walk-in scanned a ticket that is
	// already held or bound.
	ErrBarcodeAlreadyInUse = errors.New("barcode already in use")

	// ErrBarcodeAssignedToAnotherVisit means the ticket is bound to a
	// different visit than the one checking in.
	ErrBarcodeAssignedToAnotherVisit = errors.New("barcode assigned to another visit")

	// ErrTicketNotBound means check-out was requested for a ticket that
	// has no visit on it.
	ErrTicketNotBound = errors.New("ticket is not checked in")

	// ErrVisitMismatch means check-out supplied a visit identity that
	// disagrees with the ticket's bound visit.
	ErrVisitMismatch = errors.New("visit does not match ticket")
)
