package replenish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinic-arrivals/internal/models"
	"clinic-arrivals/internal/queue/db"
	"clinic-arrivals/internal/utils"

	"github.com/uptrace/bun"
)

// maxBarcodeAttempts bounds regeneration when a random barcode collides
// with an existing row. Collisions are rare (six-digit space, pool of a few
// hundred) but the constraint is the safety net, not the randomness.
const maxBarcodeAttempts = 5

// SheetWriter produces the printable barcode sheet for a category.
type SheetWriter interface {
	Generate(category string, tickets []models.QueueTicket) error
	Exists(category string) bool
}

// Replenisher keeps each queue category supplied with at least MinPoolSize
// tickets, and regenerates the printable sheet whenever the pool grows or
// the artifact is missing. It runs at process start, guarded by the
// deployment's instance-zero signal (consulted by the caller, not here).
type Replenisher struct {
	Bun         *bun.DB
	MinPoolSize int
	BarcodeMin  int
	BarcodeMax  int
	Sheet       SheetWriter
}

func New(bunDB *bun.DB, minPoolSize, barcodeMin, barcodeMax int, sheet SheetWriter) *Replenisher {
	return &Replenisher{
		Bun:         bunDB,
		MinPoolSize: minPoolSize,
		BarcodeMin:  barcodeMin,
		BarcodeMax:  barcodeMax,
		Sheet:       sheet,
	}
}

// EnsurePool tops the category up to MinPoolSize and returns how many
// tickets were minted. Sequence numbers continue upward from the current
// maximum. Each row is inserted on its own so a duplicate barcode costs only
// that row a regeneration, not the whole batch.
func (r *Replenisher) EnsurePool(ctx context.Context, category string) (int, error) {
	store := db.NewTicketStore(r.Bun)

	count, err := store.CountInCategory(ctx, category)
	if err != nil {
		return 0, fmt.Errorf("count tickets for %s: %w", category, err)
	}

	inserted := 0
	if count < r.MinPoolSize {
		deficit := r.MinPoolSize - count
		maxSeq, err := store.MaxSequence(ctx, category)
		if err != nil {
			return 0, fmt.Errorf("max sequence for %s: %w", category, err)
		}

		for i := 1; i <= deficit; i++ {
			ticket := models.QueueTicket{
				QueueCategory:  category,
				SequenceNumber: maxSeq + i,
				Barcode:        utils.GenerateBarcode(r.BarcodeMin, r.BarcodeMax),
				UpdatedBy:      "replenisher",
				UpdatedAt:      time.Now().UTC(),
			}
			if err := r.insertWithRegeneration(ctx, store, &ticket); err != nil {
				return inserted, err
			}
			inserted++
		}
	}

	if inserted > 0 || !r.Sheet.Exists(category) {
		tickets, err := store.ListByCategory(ctx, category)
		if err != nil {
			return inserted, fmt.Errorf("list tickets for sheet: %w", err)
		}
		if err := r.Sheet.Generate(category, tickets); err != nil {
			return inserted, fmt.Errorf("generate sheet for %s: %w", category, err)
		}
	}

	return inserted, nil
}

// insertWithRegeneration retries only the colliding barcode, up to
// maxBarcodeAttempts, instead of assuming randomness never repeats.
func (r *Replenisher) insertWithRegeneration(ctx context.Context, store *db.TicketStore, ticket *models.QueueTicket) error {
	var err error
	for attempt := 0; attempt < maxBarcodeAttempts; attempt++ {
		err = store.Insert(ctx, ticket)
		if !errors.Is(err, db.ErrDuplicateBarcode) {
			return err
		}
		ticket.Barcode = utils.GenerateBarcode(r.BarcodeMin, r.BarcodeMax)
	}
	return fmt.Errorf("sequence %d in %s: %w", ticket.SequenceNumber, ticket.QueueCategory, err)
}

// RunAtStartup replenishes every configured category. The first failure
// stops the run; categories already processed keep their new tickets.
func (r *Replenisher) RunAtStartup(ctx context.Context, categories *models.CategorySet) (int, error) {
	total := 0
	for _, name := range categories.Names() {
		n, err := r.EnsurePool(ctx, name)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
