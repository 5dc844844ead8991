package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/activity"
	"github.com/garyjia/leave-approval/internal/application/scheduler"
	"github.com/garyjia/leave-approval/internal/application/service"
	"github.com/garyjia/leave-approval/internal/domain/leave"
	"github.com/garyjia/leave-approval/internal/infrastructure/notification"
	"github.com/garyjia/leave-approval/internal/infrastructure/persistence/memory"
)

type testServer struct {
	t      *testing.T
	server *Server
	leave  service.LeaveService
}

func newTestServer(t *testing.T) *testServer {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC))
	policy := activity.Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 2}
	svc := service.NewLeaveService(scheduler.Deps{
		Log:      memory.NewEventLog(),
		Notifier: notification.NewLogNotifier(zap.NewNop()),
		Invoker:  activity.NewInvoker(policy, clock, zap.NewNop()),
		Clock:    clock,
	}, leave.DefaultTiming(), nil, zap.NewNop())
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "leave_test_total", Help: "test"}))

	return &testServer{
		t:      t,
		server: NewServer(DefaultServerConfig(), svc, reg, zap.NewNop()),
		leave:  svc,
	}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.server.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func submitBody(id string) SubmitRequest {
	return SubmitRequest{
		RequestID:     id,
		EmployeeName:  "Yamada Taro",
		EmployeeEmail: "yamada@example.com",
		StartDate:     "2024-12-20",
		EndDate:       "2024-12-25",
		Reason:        "Year-end holidays",
		ApproverEmail: "manager@example.com",
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, w).Status)
}

func TestSubmitAndGet(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/requests", submitBody("leave-001"))
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[SubmitResponse](t, w)
	assert.Equal(t, "leave-001", created.RequestID)
	assert.Equal(t, leave.StatusPending, created.Status)

	w = s.do(http.MethodGet, "/api/requests/leave-001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[leave.State](t, w)
	assert.Equal(t, leave.StatusPending, state.Status)
	assert.Equal(t, "Yamada Taro", state.Request.EmployeeName)

	w = s.do(http.MethodPost, "/api/requests", submitBody("leave-001"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AlreadyExists", decode[ErrorResponse](t, w).Code)
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t)

	body := submitBody("")
	body.ApproverEmail = "not-an-email"
	w := s.do(http.MethodPost, "/api/requests", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", decode[ErrorResponse](t, w).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRequestIsNotFound(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/requests/nope"},
		{http.MethodGet, "/api/requests/nope/history"},
		{http.MethodPost, "/api/requests/nope/approve"},
		{http.MethodPost, "/api/requests/nope/reject"},
		{http.MethodPost, "/api/requests/nope/cancel"},
	} {
		w := s.do(tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
		assert.Equal(t, "NotFound", decode[ErrorResponse](t, w).Code, tc.path)
	}
}

func TestApproveFlow(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/requests", submitBody("leave-001")).Code)

	w := s.do(http.MethodPost, "/api/requests/leave-001/approve", DecisionRequest{Comment: "Enjoy", DecidedBy: "boss@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[SignalResponse](t, w)
	assert.True(t, resp.Applied)
	assert.Equal(t, leave.StatusApproved, resp.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.leave.Await(ctx, "leave-001")
	require.NoError(t, err)

	w = s.do(http.MethodPost, "/api/requests/leave-001/reject", nil)
	require.Equal(t, http.StatusOK, w.Code)
	late := decode[SignalResponse](t, w)
	assert.False(t, late.Applied)
	assert.Equal(t, leave.StatusApproved, late.Status)

	w = s.do(http.MethodGet, "/api/requests/leave-001", nil)
	state := decode[leave.State](t, w)
	assert.Equal(t, leave.StatusApproved, state.Status)
	require.NotNil(t, state.Decision)
	assert.Equal(t, "Enjoy", state.Decision.Comment)

	w = s.do(http.MethodGet, "/api/requests/leave-001/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[service.History](t, w)
	assert.True(t, history.ChainValid)
	assert.NotEmpty(t, history.Events)
}

func TestCancelWithDefaultReason(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/requests", submitBody("leave-001")).Code)

	w := s.do(http.MethodPost, "/api/requests/leave-001/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	state := decode[leave.State](t, s.do(http.MethodGet, "/api/requests/leave-001", nil))
	assert.Equal(t, leave.StatusCancelled, state.Status)
	assert.Equal(t, service.DefaultCancelReason, state.CancelReason)
}

func TestListRequests(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/requests", submitBody("leave-001")).Code)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/requests", submitBody("leave-002")).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/requests/leave-002/cancel", CancelRequest{Reason: "plans changed"}).Code)

	w := s.do(http.MethodGet, "/api/requests?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]service.InstanceView](t, w)
	require.Len(t, views, 1)
	assert.Equal(t, "leave-001", views[0].InstanceID)

	w = s.do(http.MethodGet, "/api/requests", nil)
	assert.Len(t, decode[[]service.InstanceView](t, w), 2)

	w = s.do(http.MethodGet, "/api/requests?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "leave_test_total")
}
