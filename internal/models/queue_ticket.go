package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TicketState describes the association between a ticket and a visit.
type TicketState string

const (
	// TicketFree means the ticket is unclaimed and can be issued.
	TicketFree TicketState = "free"
	// TicketHeld means a walk-in claimed the ticket before any visit
	// record exists for them.
	TicketHeld TicketState = "held"
	// TicketBound means the ticket currently represents a registered visit.
	TicketBound TicketState = "bound"
)

// QueueTicket is one issuable priority slot within a queue category. Tickets
// are minted once by the replenisher and reused indefinitely; only the
// hold/visit association cycles.
type QueueTicket struct {
	bun.BaseModel `bun:"table:queue_tickets"`

	ID             int64      `bun:"id,pk,autoincrement"`
	QueueCategory  string     `bun:"queue_category,notnull"`
	SequenceNumber int        `bun:"sequence_number,notnull"`
	Barcode        string     `bun:"barcode,notnull"`
	HoldTimestamp  *time.Time `bun:"hold_timestamp"`
	VisitID        *int64     `bun:"visit_id"`
	Version        int64      `bun:"version,notnull,default:0"`
	UpdatedBy      string     `bun:"updated_by"`
	UpdatedAt      time.Time  `bun:"updated_at"`
	SupervisorID   *string    `bun:"supervisor_id"`
}

// State derives the ticket's position in the Free/Held/Bound machine.
// A ticket never has both a hold timestamp and a visit.
func (t *QueueTicket) State() TicketState {
	switch {
	case t.VisitID != nil:
		return TicketBound
	case t.HoldTimestamp != nil:
		return TicketHeld
	default:
		return TicketFree
	}
}
