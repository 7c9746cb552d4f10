package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event categories written by the coordinator. The ledger is append-only;
// a mistaken entry is corrected by a compensating event, never edited.
const (
	EventCheckIn   = "check_in"
	EventCheckOut  = "check_out"
	EventChartPull = "chart_pulled"
)

// VisitEvent is one row of the arrival-lifecycle ledger.
type VisitEvent struct {
	bun.BaseModel `bun:"table:visit_events"`

	ID            int64     `bun:"id,pk,autoincrement"`
	EventCategory string    `bun:"event_category,notnull"`
	QueueCategory string    `bun:"queue_category,notnull"`
	OccurredAt    time.Time `bun:"occurred_at,notnull"`
	Note          string    `bun:"note"`
	SourceSession string    `bun:"source_session"`
	VisitID       *int64    `bun:"visit_id"`
	ActorID       *string   `bun:"actor_id"`
}
