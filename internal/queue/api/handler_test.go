package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"clinic-arrivals/internal/kafka"
	"clinic-arrivals/internal/logger"
	"clinic-arrivals/internal/models"
	"clinic-arrivals/internal/queue/api"
	"clinic-arrivals/internal/queue/coordinator"
	"clinic-arrivals/internal/queue/db"
	"clinic-arrivals/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// MockCoordinator simulates the queue coordinator for handler tests.
type MockCoordinator struct {
	lastOperation string
	lastRequest   coordinator.Request
	result        coordinator.Result
	errorToReturn error
}

func (m *MockCoordinator) respond(operation string, req coordinator.Request) (coordinator.Result, error) {
	m.lastOperation = operation
	m.lastRequest = req
	if m.errorToReturn != nil {
		return coordinator.Result{}, m.errorToReturn
	}
	return m.result, nil
}

func (m *MockCoordinator) CheckIn(ctx context.Context, req coordinator.Request) (coordinator.Result, error) {
	return m.respond("CheckIn", req)
}

func (m *MockCoordinator) CheckOut(ctx context.Context, req coordinator.Request) (coordinator.Result, error) {
	return m.respond("CheckOut", req)
}

func (m *MockCoordinator) Dispatch(ctx context.Context, req coordinator.Request) (coordinator.Result, error) {
	return m.respond("Dispatch", req)
}

func (m *MockCoordinator) ToggleChartPull(ctx context.Context, category string, visitID int64, actor coordinator.Actor) (coordinator.Result, error) {
	return m.respond("ToggleChartPull", coordinator.Request{QueueCategory: category, VisitID: &visitID, Actor: actor})
}

// MockNotifier records published change notifications.
type MockNotifier struct {
	published []models.ChangeNotification
	topics    []string
}

func (m *MockNotifier) PublishRecordChange(topic string, notification models.ChangeNotification) error {
	m.topics = append(m.topics, topic)
	m.published = append(m.published, notification)
	return nil
}

// MockBoardCache is an in-memory stand-in for the redis board cache.
type MockBoardCache struct {
	entries     map[string][]byte
	invalidated []string
}

func NewMockBoardCache() *MockBoardCache {
	return &MockBoardCache{entries: make(map[string][]byte)}
}

func (m *MockBoardCache) Get(ctx context.Context, category string) ([]byte, bool, error) {
	payload, ok := m.entries[category]
	return payload, ok, nil
}

func (m *MockBoardCache) Set(ctx context.Context, category string, payload []byte) error {
	m.entries[category] = payload
	return nil
}

func (m *MockBoardCache) Invalidate(ctx context.Context, category string) error {
	m.invalidated = append(m.invalidated, category)
	delete(m.entries, category)
	return nil
}

// MockTicketReader serves a fixed set of bound tickets.
type MockTicketReader struct {
	bound []models.QueueTicket
}

func (m *MockTicketReader) ListBound(ctx context.Context, category string) ([]models.QueueTicket, error) {
	return m.bound, nil
}

type testEnv struct {
	coordinator *MockCoordinator
	notifier    *MockNotifier
	cache       *MockBoardCache
	reader      *MockTicketReader
	handler     *api.Handler
	router      chi.Router
}

func setupHandler(t *testing.T) *testEnv {
	env := &testEnv{
		coordinator: &MockCoordinator{},
		notifier:    &MockNotifier{},
		cache:       NewMockBoardCache(),
		reader:      &MockTicketReader{},
	}

	env.handler = api.NewHandler(env.coordinator, env.reader, env.notifier, env.cache, "clinic.records.changed", logger.NewLogger())
	env.router = chi.NewRouter()
	env.handler.RegisterRoutes(env.router)
	return env
}

func postForm(router chi.Router, path string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestScanSuccess(t *testing.T) {
	env := setupHandler(t)

	seq := 17
	visitID := int64(7001)
	env.coordinator.result = coordinator.Result{
		Action:         coordinator.ActionCheckedIn,
		SequenceNumber: seq,
		VisitID:        &visitID,
		Notification: &models.ChangeNotification{
			EntityKind: "queue_ticket",
			EntityID:   1,
		},
	}

	form := url.Values{
		"category": {"prenatal"},
		"barcode":  {"482913"},
		"visit_id": {"7001"},
	}
	headers := map[string]string{
		"X-User-ID":    "reception-1",
		"X-Session-ID": "kiosk-a",
	}
	rec := postForm(env.router, "/api/arrivals/scan", form, headers)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp utils.APIResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, coordinator.ActionCheckedIn, resp.Message)

	// The coordinator saw the parsed request and actor
	assert.Equal(t, "prenatal", env.coordinator.lastRequest.QueueCategory)
	assert.Equal(t, "482913", env.coordinator.lastRequest.Barcode)
	assert.Equal(t, int64(7001), *env.coordinator.lastRequest.VisitID)
	assert.Equal(t, "reception-1", env.coordinator.lastRequest.Actor.UserID)
	assert.Equal(t, "kiosk-a", env.coordinator.lastRequest.Actor.SourceSession)

	// The committed transition published its notification and dropped the board
	assert.Equal(t, 1, len(env.notifier.published))
	assert.Equal(t, "clinic.records.changed", env.notifier.topics[0])
	assert.Equal(t, []string{"prenatal"}, env.cache.invalidated)
}

func TestScanMissingBarcode(t *testing.T) {
	env := setupHandler(t)

	rec := postForm(env.router, "/api/arrivals/scan", url.Values{"category": {"prenatal"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, len(env.notifier.published))
}

func TestTransitionErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		retryable bool
	}{
		{"invalid barcode", coordinator.ErrInvalidBarcode, http.StatusNotFound, false},
		{"unknown category", coordinator.ErrUnknownCategory, http.StatusBadRequest, false},
		{"already in use", coordinator.ErrBarcodeAlreadyInUse, http.StatusConflict, false},
		{"assigned to another visit", coordinator.ErrBarcodeAssignedToAnotherVisit, http.StatusConflict, false},
		{"visit mismatch", coordinator.ErrVisitMismatch, http.StatusConflict, false},
		{"not bound", coordinator.ErrTicketNotBound, http.StatusConflict, false},
		{"lost race", db.ErrPreconditionFailed, http.StatusConflict, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupHandler(t)
			env.coordinator.errorToReturn = tc.err

			form := url.Values{"category": {"prenatal"}, "barcode": {"482913"}}
			rec := postForm(env.router, "/api/arrivals/checkin", form, nil)

			assert.Equal(t, tc.status, rec.Code)

			var resp utils.APIResponse
			assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tc.retryable, resp.Retryable)

			// Failed transitions publish nothing
			assert.Equal(t, 0, len(env.notifier.published))
		})
	}
}

func TestCheckOutRoute(t *testing.T) {
	env := setupHandler(t)

	visitID := int64(7001)
	env.coordinator.result = coordinator.Result{
		Action:         coordinator.ActionCheckedOut,
		SequenceNumber: 17,
		VisitID:        &visitID,
		Notification:   &models.ChangeNotification{EntityKind: "queue_ticket", EntityID: 1},
	}

	form := url.Values{"category": {"prenatal"}, "barcode": {"482913"}}
	rec := postForm(env.router, "/api/arrivals/checkout", form, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, env.coordinator.lastRequest.VisitID)
}

func TestChartPullRoute(t *testing.T) {
	env := setupHandler(t)

	env.coordinator.result = coordinator.Result{
		Action:       coordinator.ActionChartPulled,
		Notification: &models.ChangeNotification{EntityKind: "visit_event", EntityID: 3},
	}

	form := url.Values{"category": {"prenatal"}, "visit_id": {"7001"}}
	rec := postForm(env.router, "/api/arrivals/chart-pull", form, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7001), *env.coordinator.lastRequest.VisitID)
	assert.Equal(t, 1, len(env.notifier.published))

	// Missing visit_id is rejected before the coordinator runs
	rec = postForm(env.router, "/api/arrivals/chart-pull", url.Values{"category": {"prenatal"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBoardCachesResult(t *testing.T) {
	env := setupHandler(t)

	visitID := int64(7001)
	env.reader.bound = []models.QueueTicket{
		{SequenceNumber: 17, VisitID: &visitID, UpdatedAt: time.Now().UTC()},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/arrivals/board?category=prenatal", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	// Second hit is served from the cache even if the reader changes
	cached := rec.Body.String()
	env.reader.bound = nil

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cached, rec.Body.String())
}

func TestScanCommandRoutesByMode(t *testing.T) {
	env := setupHandler(t)
	ctx := context.Background()

	visitID := int64(7001)
	env.coordinator.result = coordinator.Result{
		Action:         coordinator.ActionCheckedIn,
		SequenceNumber: 17,
		VisitID:        &visitID,
		Notification:   &models.ChangeNotification{EntityKind: "queue_ticket", EntityID: 1},
	}

	supervisor := "attending-9"
	env.handler.HandleScanCommand(ctx, kafka.ScanCommand{
		Mode:          api.ModeCheckIn,
		QueueCategory: "prenatal",
		Barcode:       "482913",
		VisitID:       &visitID,
		ActorID:       "trainee-4",
		SupervisorID:  supervisor,
		SourceSession: "scanner-1",
	})

	assert.Equal(t, "CheckIn", env.coordinator.lastOperation)
	assert.Equal(t, "prenatal", env.coordinator.lastRequest.QueueCategory)
	assert.Equal(t, "482913", env.coordinator.lastRequest.Barcode)
	assert.Equal(t, int64(7001), *env.coordinator.lastRequest.VisitID)
	assert.Equal(t, "trainee-4", env.coordinator.lastRequest.Actor.UserID)
	assert.Equal(t, "attending-9", *env.coordinator.lastRequest.Actor.SupervisorID)
	assert.Equal(t, "scanner-1", env.coordinator.lastRequest.Actor.SourceSession)

	// The committed transition gets the same followups as the HTTP routes
	assert.Equal(t, 1, len(env.notifier.published))
	assert.Equal(t, "clinic.records.changed", env.notifier.topics[0])
	assert.Equal(t, []string{"prenatal"}, env.cache.invalidated)

	env.handler.HandleScanCommand(ctx, kafka.ScanCommand{
		Mode:          api.ModeCheckOut,
		QueueCategory: "prenatal",
		Barcode:       "482913",
	})
	assert.Equal(t, "CheckOut", env.coordinator.lastOperation)

	// A command without a session still stamps an opaque one
	assert.NotEmpty(t, env.coordinator.lastRequest.Actor.SourceSession)
}

func TestScanCommandUnknownMode(t *testing.T) {
	env := setupHandler(t)

	env.handler.HandleScanCommand(context.Background(), kafka.ScanCommand{
		Mode:          "toggle",
		QueueCategory: "prenatal",
		Barcode:       "482913",
	})

	// Unknown modes never reach the coordinator or publish anything
	assert.Equal(t, "", env.coordinator.lastOperation)
	assert.Equal(t, 0, len(env.notifier.published))
	assert.Equal(t, 0, len(env.cache.invalidated))
}

func TestScanCommandErrorSkipsFollowups(t *testing.T) {
	env := setupHandler(t)
	env.coordinator.errorToReturn = coordinator.ErrInvalidBarcode

	env.handler.HandleScanCommand(context.Background(), kafka.ScanCommand{
		Mode:          api.ModeCheckIn,
		QueueCategory: "prenatal",
		Barcode:       "999999",
	})

	assert.Equal(t, "CheckIn", env.coordinator.lastOperation)
	assert.Equal(t, 0, len(env.notifier.published))
	assert.Equal(t, 0, len(env.cache.invalidated))
}

func TestBoardRequiresCategory(t *testing.T) {
	env := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/arrivals/board", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
