package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/dto"
	"github.com/himanshugvu/eventAdapter/internal/repository"
)

const testEventID = "5b1f9c9e-4d3a-4c55-9a52-0f0b6c1d2e3f"

// MockStatsService is a mock implementation of service.StatsServicer
type MockStatsService struct {
	mock.Mock
}

func (m *MockStatsService) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStatsService) LatencyStats() *dto.LatencyStatsResponse {
	return m.Called().Get(0).(*dto.LatencyStatsResponse)
}

func (m *MockStatsService) Summary(ctx context.Context) (*dto.SummaryResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.SummaryResponse), args.Error(1)
}

func (m *MockStatsService) GetEvent(ctx context.Context, id string) (*dto.EventResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.EventResponse), args.Error(1)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func newTestHandler(svc *MockStatsService) *Handler {
	return NewHandler(svc, prometheus.NewRegistry(), zap.NewNop())
}

func TestHandler_HealthCheck(t *testing.T) {
	mockService := new(MockStatsService)
	mockService.On("Health", mock.Anything).Return(nil)

	w := serve(newTestHandler(mockService), "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	var response dto.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestHandler_HealthCheck_StoreDown(t *testing.T) {
	mockService := new(MockStatsService)
	mockService.On("Health", mock.Anything).Return(errors.New("event store unreachable"))

	w := serve(newTestHandler(mockService), "/health")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var response dto.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "unavailable", response.Status)
	assert.Equal(t, "event store unreachable", response.Error)
}

func TestHandler_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "orchestrator_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewHandler(new(MockStatsService), reg, zap.NewNop())
	w := serve(h, "/metrics")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "orchestrator_test_total 1")
}

func TestHandler_GetLatencyMetrics(t *testing.T) {
	mockService := new(MockStatsService)
	mockService.On("LatencyStats").Return(&dto.LatencyStatsResponse{
		TotalMessages:    8,
		SlowMessages:     2,
		FastMessages:     6,
		SlowPercentage:   "25.00%",
		LatencyThreshold: "1000ms",
		Timestamp:        1700000000000,
	})

	w := serve(newTestHandler(mockService), "/api/metrics/latency")

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(8), response["totalMessages"])
	assert.Equal(t, float64(6), response["fastMessages"])
	assert.Equal(t, "25.00%", response["slowPercentage"])
	assert.Equal(t, "1000ms", response["latencyThreshold"])
}

func TestHandler_GetSummary(t *testing.T) {
	mockService := new(MockStatsService)
	mockService.On("Summary", mock.Anything).Return(&dto.SummaryResponse{
		Status:   "running",
		Strategy: "RELIABLE",
		Events:   map[string]int64{"FAILED": 3},
	}, nil)

	w := serve(newTestHandler(mockService), "/api/metrics/summary")

	assert.Equal(t, http.StatusOK, w.Code)
	var response dto.SummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "RELIABLE", response.Strategy)
	assert.Equal(t, int64(3), response.Events["FAILED"])
}

func TestHandler_GetSummary_ServiceError(t *testing.T) {
	mockService := new(MockStatsService)
	mockService.On("Summary", mock.Anything).Return(nil, errors.New("db timeout"))

	w := serve(newTestHandler(mockService), "/api/metrics/summary")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var response dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "internal_error", response.Error)
}

func TestHandler_GetEvent(t *testing.T) {
	mockService := new(MockStatsService)
	mockService.On("GetEvent", mock.Anything, testEventID).Return(&dto.EventResponse{
		ID:           testEventID,
		Status:       "FAILED",
		ErrorMessage: "Invalid amount",
	}, nil)

	w := serve(newTestHandler(mockService), "/api/events/"+testEventID)

	assert.Equal(t, http.StatusOK, w.Code)
	var response dto.EventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "FAILED", response.Status)
	assert.Equal(t, "Invalid amount", response.ErrorMessage)
}

func TestHandler_GetEvent_NotFound(t *testing.T) {
	mockService := new(MockStatsService)
	mockService.On("GetEvent", mock.Anything, testEventID).
		Return(nil, fmt.Errorf("%w: %s", repository.ErrNotFound, testEventID))

	w := serve(newTestHandler(mockService), "/api/events/"+testEventID)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_GetEvent_InvalidID(t *testing.T) {
	mockService := new(MockStatsService)

	w := serve(newTestHandler(mockService), "/api/events/not-a-uuid")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "GetEvent", mock.Anything, mock.Anything)
}

func TestHandler_GetEvent_ServiceError(t *testing.T) {
	mockService := new(MockStatsService)
	mockService.On("GetEvent", mock.Anything, testEventID).Return(nil, errors.New("connection reset"))

	w := serve(newTestHandler(mockService), "/api/events/"+testEventID)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
