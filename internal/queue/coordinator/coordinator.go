package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinic-arrivals/internal/models"
	"clinic-arrivals/internal/queue/db"

	"github.com/uptrace/bun"
)

// Actor identifies who performed a transition. SupervisorID is set when the
// acting user is a supervised trainee.
type Actor struct {
	UserID        string
	SupervisorID  *string
	SourceSession string
}

// Request carries one scan: a barcode within a category, optionally with the
// visit the caller already knows about.
type Request struct {
	QueueCategory string
	Barcode       string
	VisitID       *int64
	Actor         Actor
}

// Actions reported in a Result.
const (
	ActionHeld               = "held"
	ActionCheckedIn          = "checked_in"
	ActionCheckedOut         = "checked_out"
	ActionChartPulled        = "chart_pulled"
	ActionChartPullRetracted = "chart_pull_retracted"
)

// Result describes a committed transition. Notification is the payload the
// entry point publishes for downstream fan-out; it is never nil on success.
type Result struct {
	Action         string
	SequenceNumber int
	VisitID        *int64
	Notification   *models.ChangeNotification
}

// Coordinator is the single implementation of the arrival state machine.
// Every transition runs in one database transaction: the ticket row is
// re-read inside the transaction, the precondition validated, and the
// conditional ticket update and ledger append are committed together or not
// at all. Both entry points (HTTP form and message command) call into here.
type Coordinator struct {
	Bun        *bun.DB
	Categories *models.CategorySet
}

func New(bunDB *bun.DB, categories *models.CategorySet) *Coordinator {
	return &Coordinator{Bun: bunDB, Categories: categories}
}

// CheckIn claims a ticket. Without a visit the ticket must be Free and
// becomes Held (no ledger row: the visit does not exist yet). With a visit
// the ticket must be Free or Held and becomes Bound, paired with a check-in
// ledger row.
func (c *Coordinator) CheckIn(ctx context.Context, req Request) (Result, error) {
	return c.run(ctx, req.QueueCategory, func(ctx context.Context, tickets *db.TicketStore, events *db.EventLog) (Result, error) {
		ticket, err := fetchTicket(ctx, tickets, req)
		if err != nil {
			return Result{}, err
		}
		if req.VisitID == nil {
			return c.hold(ctx, tickets, ticket, req.Actor)
		}
		return c.bind(ctx, tickets, events, ticket, *req.VisitID, req.Actor)
	})
}

// CheckOut frees a Bound ticket and writes a check-out ledger row for the
// visit it carried. A supplied visit identity must match the bound one.
func (c *Coordinator) CheckOut(ctx context.Context, req Request) (Result, error) {
	return c.run(ctx, req.QueueCategory, func(ctx context.Context, tickets *db.TicketStore, events *db.EventLog) (Result, error) {
		ticket, err := fetchTicket(ctx, tickets, req)
		if err != nil {
			return Result{}, err
		}
		return c.release(ctx, tickets, events, ticket, req.VisitID, req.Actor)
	})
}

// Dispatch is the single-gesture entry point: state is derived from one
// fetch inside the same transaction as the write. A ticket bound to this
// visit (or, anonymously, to any visit) is checked out; anything else is a
// check-in.
func (c *Coordinator) Dispatch(ctx context.Context, req Request) (Result, error) {
	return c.run(ctx, req.QueueCategory, func(ctx context.Context, tickets *db.TicketStore, events *db.EventLog) (Result, error) {
		ticket, err := fetchTicket(ctx, tickets, req)
		if err != nil {
			return Result{}, err
		}
		if ticket.State() == models.TicketBound {
			if req.VisitID == nil || *req.VisitID == *ticket.VisitID {
				return c.release(ctx, tickets, events, ticket, req.VisitID, req.Actor)
			}
			return Result{}, ErrBarcodeAssignedToAnotherVisit
		}
		if req.VisitID == nil {
			return c.hold(ctx, tickets, ticket, req.Actor)
		}
		return c.bind(ctx, tickets, events, ticket, *req.VisitID, req.Actor)
	})
}

// ToggleChartPull records that a visit's paper chart was pulled, or retracts
// today's most recent chart-pulled entry if one exists. Retraction deletes
// the single newest matching row; it never edits.
func (c *Coordinator) ToggleChartPull(ctx context.Context, category string, visitID int64, actor Actor) (Result, error) {
	return c.run(ctx, category, func(ctx context.Context, tickets *db.TicketStore, events *db.EventLog) (Result, error) {
		now := time.Now().UTC()
		existing, err := events.LatestChartPull(ctx, visitID, now)
		if err != nil {
			return Result{}, err
		}

		if existing != nil {
			if err := events.RetractChartPull(ctx, existing.ID); err != nil {
				return Result{}, err
			}
			return Result{
				Action:       ActionChartPullRetracted,
				VisitID:      &visitID,
				Notification: notification("visit_event", existing.ID, actor),
			}, nil
		}

		event := &models.VisitEvent{
			EventCategory: models.EventChartPull,
			QueueCategory: category,
			OccurredAt:    now,
			SourceSession: actor.SourceSession,
			VisitID:       &visitID,
			ActorID:       actorID(actor),
		}
		if err := events.Append(ctx, event); err != nil {
			return Result{}, err
		}
		return Result{
			Action:       ActionChartPulled,
			VisitID:      &visitID,
			Notification: notification("visit_event", event.ID, actor),
		}, nil
	})
}

// run opens the transaction boundary shared by every operation. The callback
// gets stores scoped to the transaction; any error rolls the whole unit back.
func (c *Coordinator) run(ctx context.Context, category string, fn func(context.Context, *db.TicketStore, *db.EventLog) (Result, error)) (Result, error) {
	if !c.Categories.Contains(category) {
		return Result{}, ErrUnknownCategory
	}

	var result Result
	err := c.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = fn(ctx, db.NewTicketStore(tx), db.NewEventLog(tx))
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func fetchTicket(ctx context.Context, tickets *db.TicketStore, req Request) (*models.QueueTicket, error) {
	ticket, err := tickets.GetByBarcode(ctx, req.QueueCategory, req.Barcode)
	if err != nil {
		if errors.Is(err, db.ErrTicketNotFound) {
			return nil, ErrInvalidBarcode
		}
		return nil, err
	}
	return ticket, nil
}

// hold transitions Free -> Held for a walk-in with no visit record yet.
func (c *Coordinator) hold(ctx context.Context, tickets *db.TicketStore, ticket *models.QueueTicket, actor Actor) (Result, error) {
	if ticket.State() != models.TicketFree {
		return Result{}, ErrBarcodeAlreadyInUse
	}

	now := time.Now().UTC()
	expected := ticket.Version
	ticket.HoldTimestamp = &now
	ticket.VisitID = nil
	stampActor(ticket, actor)
	if err := tickets.UpdateIfVersion(ctx, ticket, expected); err != nil {
		return Result{}, err
	}

	return Result{
		Action:         ActionHeld,
		SequenceNumber: ticket.SequenceNumber,
		Notification:   notification("queue_ticket", ticket.ID, actor),
	}, nil
}

// bind transitions Free/Held -> Bound and pairs the update with a check-in
// ledger row in the same transaction.
func (c *Coordinator) bind(ctx context.Context, tickets *db.TicketStore, events *db.EventLog, ticket *models.QueueTicket, visitID int64, actor Actor) (Result, error) {
	if ticket.VisitID != nil {
		if *ticket.VisitID != visitID {
			return Result{}, ErrBarcodeAssignedToAnotherVisit
		}
		return Result{}, ErrBarcodeAlreadyInUse
	}

	expected := ticket.Version
	ticket.HoldTimestamp = nil
	ticket.VisitID = &visitID
	stampActor(ticket, actor)
	if err := tickets.UpdateIfVersion(ctx, ticket, expected); err != nil {
		return Result{}, err
	}

	event := &models.VisitEvent{
		EventCategory: models.EventCheckIn,
		QueueCategory: ticket.QueueCategory,
		SourceSession: actor.SourceSession,
		VisitID:       &visitID,
		ActorID:       actorID(actor),
	}
	if err := events.Append(ctx, event); err != nil {
		return Result{}, err
	}

	return Result{
		Action:         ActionCheckedIn,
		SequenceNumber: ticket.SequenceNumber,
		VisitID:        &visitID,
		Notification:   notification("queue_ticket", ticket.ID, actor),
	}, nil
}

// release transitions Bound -> Free and writes the check-out ledger row for
// the visit the ticket carried before the transition.
func (c *Coordinator) release(ctx context.Context, tickets *db.TicketStore, events *db.EventLog, ticket *models.QueueTicket, expectVisit *int64, actor Actor) (Result, error) {
	if ticket.VisitID == nil {
		return Result{}, ErrTicketNotBound
	}
	if expectVisit != nil && *expectVisit != *ticket.VisitID {
		return Result{}, ErrVisitMismatch
	}

	boundVisit := *ticket.VisitID
	expected := ticket.Version
	ticket.VisitID = nil
	ticket.HoldTimestamp = nil
	stampActor(ticket, actor)
	if err := tickets.UpdateIfVersion(ctx, ticket, expected); err != nil {
		return Result{}, err
	}

	event := &models.VisitEvent{
		EventCategory: models.EventCheckOut,
		QueueCategory: ticket.QueueCategory,
		SourceSession: actor.SourceSession,
		VisitID:       &boundVisit,
		ActorID:       actorID(actor),
	}
	if err := events.Append(ctx, event); err != nil {
		return Result{}, err
	}

	return Result{
		Action:         ActionCheckedOut,
		SequenceNumber: ticket.SequenceNumber,
		VisitID:        &boundVisit,
		Notification:   notification("queue_ticket", ticket.ID, actor),
	}, nil
}

func stampActor(ticket *models.QueueTicket, actor Actor) {
	ticket.UpdatedBy = actor.UserID
	ticket.SupervisorID = actor.SupervisorID
}

func actorID(actor Actor) *string {
	if actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}

func notification(kind string, id int64, actor Actor) *models.ChangeNotification {
	return &models.ChangeNotification{
		EntityKind:    kind,
		EntityID:      id,
		ActorID:       actor.UserID,
		SourceSession: actor.SourceSession,
	}
}
