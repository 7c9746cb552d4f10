package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"clinic-arrivals/internal/logger"
	"clinic-arrivals/internal/models"
	"clinic-arrivals/internal/queue/coordinator"
	"clinic-arrivals/internal/queue/db"
	"clinic-arrivals/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Coordinator is the slice of the queue coordinator the handlers use.
type Coordinator interface {
	CheckIn(ctx context.Context, req coordinator.Request) (coordinator.Result, error)
	CheckOut(ctx context.Context, req coordinator.Request) (coordinator.Result, error)
	Dispatch(ctx context.Context, req coordinator.Request) (coordinator.Result, error)
	ToggleChartPull(ctx context.Context, category string, visitID int64, actor coordinator.Actor) (coordinator.Result, error)
}

// Notifier publishes change notifications after a committed transition.
type Notifier interface {
	PublishRecordChange(topic string, notification models.ChangeNotification) error
}

// BoardCache caches the arrival-board payload per category.
type BoardCache interface {
	Get(ctx context.Context, category string) ([]byte, bool, error)
	Set(ctx context.Context, category string, payload []byte) error
	Invalidate(ctx context.Context, category string) error
}

// TicketReader is the read path backing the arrival board.
type TicketReader interface {
	ListBound(ctx context.Context, category string) ([]models.QueueTicket, error)
}

type Handler struct {
	Coordinator Coordinator
	Tickets     TicketReader
	Notifier    Notifier
	Cache       BoardCache
	ChangeTopic string
	Logger      *logger.Logger
}

func NewHandler(coord Coordinator, tickets TicketReader, notifier Notifier, cache BoardCache, changeTopic string, log *logger.Logger) *Handler {
	return &Handler{
		Coordinator: coord,
		Tickets:     tickets,
		Notifier:    notifier,
		Cache:       cache,
		ChangeTopic: changeTopic,
		Logger:      log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/arrivals", func(r chi.Router) {
		r.Post("/scan", h.Scan)
		r.Post("/checkin", h.CheckIn)
		r.Post("/checkout", h.CheckOut)
		r.Post("/chart-pull", h.ChartPull)
		r.Get("/board", h.Board)
	})
}

// Scan is the single-gesture endpoint: the scanner posts a barcode and the
// coordinator decides between check-in and check-out from current state.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.Coordinator.Dispatch)
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.Coordinator.CheckIn)
}

func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.Coordinator.CheckOut)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, coordinator.Request) (coordinator.Result, error)) {
	start := time.Now()
	req, err := parseScanForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", err.Error()))
		return
	}

	result, err := op(r.Context(), req)
	if err != nil {
		h.writeTransitionError(w, r, err)
		return
	}

	h.afterTransition(r.Context(), req.QueueCategory, result)
	h.Logger.LogAPI(r.Method, r.URL.Path, "200", time.Since(start).String())
	writeJSON(w, http.StatusOK, utils.SuccessResponse(result.Action, transitionPayload(result)))
}

// ChartPull toggles today's chart-pulled entry for a visit.
func (h *Handler) ChartPull(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", err.Error()))
		return
	}
	category := r.PostFormValue("category")
	visitID, err := strconv.ParseInt(r.PostFormValue("visit_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", "visit_id must be an integer"))
		return
	}

	result, err := h.Coordinator.ToggleChartPull(r.Context(), category, visitID, actorFromHeaders(r))
	if err != nil {
		h.writeTransitionError(w, r, err)
		return
	}

	h.afterTransition(r.Context(), category, result)
	writeJSON(w, http.StatusOK, utils.SuccessResponse(result.Action, transitionPayload(result)))
}

// Board serves the current bound tickets of a category, cached briefly.
func (h *Handler) Board(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", "category is required"))
		return
	}

	if cached, ok, err := h.Cache.Get(r.Context(), category); err == nil && ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(cached)
		return
	}

	tickets, err := h.Tickets.ListBound(r.Context(), category)
	if err != nil {
		h.Logger.Error("API", "board query failed: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load arrival board", ""))
		return
	}

	entries := make([]boardEntry, 0, len(tickets))
	for _, t := range tickets {
		entries = append(entries, boardEntry{
			SequenceNumber: t.SequenceNumber,
			VisitID:        *t.VisitID,
			UpdatedAt:      t.UpdatedAt,
		})
	}

	payload, err := json.Marshal(utils.SuccessResponse("arrival board", entries))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load arrival board", ""))
		return
	}
	if err := h.Cache.Set(r.Context(), category, payload); err != nil {
		h.Logger.Warn("API", "board cache set failed: "+err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

type boardEntry struct {
	SequenceNumber int       `json:"sequence_number"`
	VisitID        int64     `json:"visit_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// afterTransition handles the out-of-transaction followups: the change
// notification and the board cache. Neither failure rolls anything back;
// the transition is already committed.
func (h *Handler) afterTransition(ctx context.Context, category string, result coordinator.Result) {
	if result.Notification != nil {
		if err := h.Notifier.PublishRecordChange(h.ChangeTopic, *result.Notification); err != nil {
			h.Logger.Error("KAFKA", "change notification publish failed: "+err.Error())
		}
	}
	if err := h.Cache.Invalidate(ctx, category); err != nil {
		h.Logger.Warn("API", "board cache invalidation failed: "+err.Error())
	}
}

func (h *Handler) writeTransitionError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := mapTransitionError(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("API", r.URL.Path+": "+err.Error())
	}
	writeJSON(w, status, resp)
}

// mapTransitionError translates coordinator errors into HTTP status codes.
// Only the concurrency conflict is marked retryable; business-rule conflicts
// need a person to look at the ticket.
func mapTransitionError(err error) (int, utils.APIResponse) {
	switch {
	case errors.Is(err, coordinator.ErrInvalidBarcode):
		return http.StatusNotFound, utils.ErrorResponse("Barcode not recognized", "invalid_barcode")
	case errors.Is(err, coordinator.ErrUnknownCategory):
		return http.StatusBadRequest, utils.ErrorResponse("Unknown queue category", "unknown_category")
	case errors.Is(err, coordinator.ErrBarcodeAlreadyInUse):
		return http.StatusConflict, utils.ErrorResponse("Barcode is already in use", "barcode_already_in_use")
	case errors.Is(err, coordinator.ErrBarcodeAssignedToAnotherVisit):
		return http.StatusConflict, utils.ErrorResponse("Barcode is assigned to another visit", "barcode_assigned_to_another_visit")
	case errors.Is(err, coordinator.ErrVisitMismatch):
		return http.StatusConflict, utils.ErrorResponse("Ticket is bound to a different visit", "visit_mismatch")
	case errors.Is(err, coordinator.ErrTicketNotBound):
		return http.StatusConflict, utils.ErrorResponse("Ticket is not checked in", "ticket_not_bound")
	case errors.Is(err, db.ErrPreconditionFailed):
		return http.StatusConflict, utils.RetryableResponse("Ticket was modified concurrently", "precondition_failed")
	default:
		return http.StatusInternalServerError, utils.ErrorResponse("Internal error", "")
	}
}

func parseScanForm(r *http.Request) (coordinator.Request, error) {
	if err := r.ParseForm(); err != nil {
		return coordinator.Request{}, err
	}

	req := coordinator.Request{
		QueueCategory: r.PostFormValue("category"),
		Barcode:       r.PostFormValue("barcode"),
		Actor:         actorFromHeaders(r),
	}
	if req.Barcode == "" {
		return coordinator.Request{}, errors.New("barcode is required")
	}

	if raw := r.PostFormValue("visit_id"); raw != "" {
		visitID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return coordinator.Request{}, errors.New("visit_id must be an integer")
		}
		req.VisitID = &visitID
	}
	return req, nil
}

func actorFromHeaders(r *http.Request) coordinator.Actor {
	actor := coordinator.Actor{
		UserID:        r.Header.Get("X-User-ID"),
		SourceSession: r.Header.Get("X-Session-ID"),
	}
	if actor.SourceSession == "" {
		actor.SourceSession = utils.GenerateSessionID()
	}
	if supervisor := r.Header.Get("X-Supervisor-ID"); supervisor != "" {
		actor.SupervisorID = &supervisor
	}
	return actor
}

func transitionPayload(result coordinator.Result) map[string]interface{} {
	payload := map[string]interface{}{
		"action":          result.Action,
		"sequence_number": result.SequenceNumber,
	}
	if result.VisitID != nil {
		payload["visit_id"] = *result.VisitID
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, resp utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
