package api

import (
	"context"
	"fmt"

	"clinic-arrivals/internal/kafka"
	"clinic-arrivals/internal/queue/coordinator"
	"clinic-arrivals/internal/utils"
)

// Scan command modes accepted from the message flow.
const (
	ModeCheckIn  = "checkin"
	ModeCheckOut = "checkout"
)

// HandleScanCommand routes one message-flow scan through the same
// coordinator as the HTTP routes. The sender already knows whether a visit
// exists, so the mode picks the explicit operation instead of the dispatch
// gesture. Errors are logged and the message dropped; there is no reply
// channel on this flow.
func (h *Handler) HandleScanCommand(ctx context.Context, cmd kafka.ScanCommand) {
	req := coordinator.Request{
		QueueCategory: cmd.QueueCategory,
		Barcode:       cmd.Barcode,
		VisitID:       cmd.VisitID,
		Actor: coordinator.Actor{
			UserID:        cmd.ActorID,
			SourceSession: cmd.SourceSession,
		},
	}
	if req.Actor.SourceSession == "" {
		req.Actor.SourceSession = utils.GenerateSessionID()
	}
	if cmd.SupervisorID != "" {
		supervisor := cmd.SupervisorID
		req.Actor.SupervisorID = &supervisor
	}

	var result coordinator.Result
	var err error
	switch cmd.Mode {
	case ModeCheckIn:
		result, err = h.Coordinator.CheckIn(ctx, req)
	case ModeCheckOut:
		result, err = h.Coordinator.CheckOut(ctx, req)
	default:
		h.Logger.Warn("KAFKA", fmt.Sprintf("Unknown scan command mode: %s", cmd.Mode))
		return
	}
	if err != nil {
		h.Logger.Error("KAFKA", fmt.Sprintf("Scan command %s for barcode %s failed: %v", cmd.Mode, cmd.Barcode, err))
		return
	}

	h.Logger.LogQueue(result.Action, cmd.Barcode, "transition committed via scan command")
	h.afterTransition(ctx, cmd.QueueCategory, result)
}
