package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinic-arrivals/internal/models"

	"github.com/uptrace/bun"
)

// TicketStore is the persistence layer for the ticket pool. It runs over
// bun.IDB so the same store works on the root connection and inside a
// transaction opened by the coordinator.
type TicketStore struct {
	Bun bun.IDB
}

func NewTicketStore(idb bun.IDB) *TicketStore {
	return &TicketStore{Bun: idb}
}

// GetByBarcode fetches the ticket carrying a barcode within a category.
func (s *TicketStore) GetByBarcode(ctx context.Context, category, barcode string) (*models.QueueTicket, error) {
	var ticket models.QueueTicket
	err := s.Bun.NewSelect().
		Model(&ticket).
		Where("queue_category = ?", category).
		Where("barcode = ?", barcode).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// GetByVisit fetches the ticket currently bound to a visit within a category.
func (s *TicketStore) GetByVisit(ctx context.Context, category string, visitID int64) (*models.QueueTicket, error) {
	var ticket models.QueueTicket
	err := s.Bun.NewSelect().
		Model(&ticket).
		Where("queue_category = ?", category).
		Where("visit_id = ?", visitID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// ListBound returns the tickets currently bound to a visit in a category,
// in sequence order. Feeds the arrival board.
func (s *TicketStore) ListBound(ctx context.Context, category string) ([]models.QueueTicket, error) {
	var tickets []models.QueueTicket
	err := s.Bun.NewSelect().
		Model(&tickets).
		Where("queue_category = ?", category).
		Where("visit_id IS NOT NULL").
		Order("sequence_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// ListByCategory returns every ticket of a category in sequence order.
// Feeds the printable sheet.
func (s *TicketStore) ListByCategory(ctx context.Context, category string) ([]models.QueueTicket, error) {
	var tickets []models.QueueTicket
	err := s.Bun.NewSelect().
		Model(&tickets).
		Where("queue_category = ?", category).
		Order("sequence_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// CountInCategory counts all tickets of a category, regardless of state.
func (s *TicketStore) CountInCategory(ctx context.Context, category string) (int, error) {
	return s.Bun.NewSelect().
		Model((*models.QueueTicket)(nil)).
		Where("queue_category = ?", category).
		Count(ctx)
}

// MaxSequence returns the highest sequence number in a category, or 0 when
// the category holds no tickets yet.
func (s *TicketStore) MaxSequence(ctx context.Context, category string) (int, error) {
	var maxSeq sql.NullInt64
	err := s.Bun.NewSelect().
		Model((*models.QueueTicket)(nil)).
		ColumnExpr("MAX(sequence_number)").
		Where("queue_category = ?", category).
		Scan(ctx, &maxSeq)
	if err != nil {
		return 0, err
	}
	if !maxSeq.Valid {
		return 0, nil
	}
	return int(maxSeq.Int64), nil
}

// Insert adds one freshly minted ticket. A collision with the category's
// barcode uniqueness constraint surfaces as ErrDuplicateBarcode so the
// replenisher can regenerate just that row.
func (s *TicketStore) Insert(ctx context.Context, ticket *models.QueueTicket) error {
	_, err := s.Bun.NewInsert().Model(ticket).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateBarcode, ticket.Barcode)
		}
		return err
	}
	return nil
}

// InsertBatch adds tickets one at a time and stops at the first failure,
// returning how many rows made it in.
func (s *TicketStore) InsertBatch(ctx context.Context, tickets []models.QueueTicket) (int, error) {
	for i := range tickets {
		if err := s.Insert(ctx, &tickets[i]); err != nil {
			return i, err
		}
	}
	return len(tickets), nil
}

// UpdateIfVersion writes the ticket's association columns, conditional on
// the version observed when the row was read. Zero rows affected means
// another transaction got there first.
func (s *TicketStore) UpdateIfVersion(ctx context.Context, ticket *models.QueueTicket, expectedVersion int64) error {
	ticket.Version = expectedVersion + 1
	ticket.UpdatedAt = time.Now().UTC()

	res, err := s.Bun.NewUpdate().
		Model(ticket).
		Column("hold_timestamp", "visit_id", "version", "updated_by", "updated_at", "supervisor_id").
		Where("id = ?", ticket.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			// Another ticket in the category already carries this visit.
			ticket.Version = expectedVersion
			return ErrPreconditionFailed
		}
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		ticket.Version = expectedVersion
		return ErrPreconditionFailed
	}
	return nil
}

// LoadCategories reads the active queue categories for the startup lookup.
func (s *TicketStore) LoadCategories(ctx context.Context) ([]models.QueueCategory, error) {
	var categories []models.QueueCategory
	err := s.Bun.NewSelect().
		Model(&categories).
		Where("active = ?", true).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return categories, nil
}
