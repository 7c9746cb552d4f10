package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinic-arrivals/internal/models"

	"github.com/uptrace/bun"
)

// EventLog is the append-only arrival-lifecycle ledger. The only delete it
// supports is retracting the newest chart-pulled row for a visit on a given
// day; rows are never edited.
type EventLog struct {
	Bun bun.IDB
}

func NewEventLog(idb bun.IDB) *EventLog {
	return &EventLog{Bun: idb}
}

// Append writes one ledger row. OccurredAt defaults to now when unset.
func (l *EventLog) Append(ctx context.Context, event *models.VisitEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	_, err := l.Bun.NewInsert().Model(event).Exec(ctx)
	return err
}

// LatestChartPull finds the most recent chart-pulled entry for a visit on
// the UTC calendar day containing at. Returns (nil, nil) when no entry
// exists that day.
func (l *EventLog) LatestChartPull(ctx context.Context, visitID int64, at time.Time) (*models.VisitEvent, error) {
	dayStart := at.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var event models.VisitEvent
	err := l.Bun.NewSelect().
		Model(&event).
		Where("event_category = ?", models.EventChartPull).
		Where("visit_id = ?", visitID).
		Where("occurred_at >= ?", dayStart).
		Where("occurred_at < ?", dayEnd).
		Order("occurred_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// RetractChartPull deletes a single chart-pulled row by id. It refuses to
// touch any other event category.
func (l *EventLog) RetractChartPull(ctx context.Context, eventID int64) error {
	_, err := l.Bun.NewDelete().
		Model((*models.VisitEvent)(nil)).
		Where("id = ?", eventID).
		Where("event_category = ?", models.EventChartPull).
		Exec(ctx)
	return err
}

// EventsForVisit returns a visit's ledger rows in occurrence order.
func (l *EventLog) EventsForVisit(ctx context.Context, visitID int64) ([]models.VisitEvent, error) {
	var events []models.VisitEvent
	err := l.Bun.NewSelect().
		Model(&events).
		Where("visit_id = ?", visitID).
		Order("occurred_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}
