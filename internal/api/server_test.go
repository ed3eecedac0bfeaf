package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"beaconrig/domain/core"
	"beaconrig/domain/metrics"
	"beaconrig/domain/run"
	"beaconrig/internal"
	"beaconrig/internal/errors"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveReport(ctx context.Context, r *metrics.Report, man *run.RunManifest) error {
	return m.Called(ctx, r, man).Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, id core.RunID) (*run.RunRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*run.RunRecord)
	return rec, args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, limit int) ([]*run.RunRecord, error) {
	args := m.Called(ctx, limit)
	recs, _ := args.Get(0).([]*run.RunRecord)
	return recs, args.Error(1)
}

func (m *mockStore) ListTrials(ctx context.Context, id core.RunID) ([]metrics.TrialMetrics, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).([]metrics.TrialMetrics)
	return out, args.Error(1)
}

func (m *mockStore) ListSummaries(ctx context.Context, id core.RunID) ([]metrics.ConditionSummary, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).([]metrics.ConditionSummary)
	return out, args.Error(1)
}

func (m *mockStore) ListExclusions(ctx context.Context, id core.RunID) ([]metrics.Exclusion, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).([]metrics.Exclusion)
	return out, args.Error(1)
}

func newTestServer(store *mockStore) *Server {
	return NewServer(store, internal.NewLogger(internal.LogLevelError))
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(&mockStore{}), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSummary(t *testing.T) {
	store := &mockStore{}
	store.On("ListSummaries", mock.Anything, core.RunID("run-1")).Return([]metrics.ConditionSummary{{
		Condition: "F100",
		Trials:    3,
		Metrics:   map[string]metrics.MetricStat{"pdr_unique": {Mean: metrics.Float(0.97), N: 3}},
	}}, nil)

	rec := get(t, newTestServer(store), "/runs/run-1/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []metrics.ConditionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.InDelta(t, 0.97, *got[0].Metric("pdr_unique").Mean, 1e-12)
	store.AssertExpectations(t)
}

func TestTrialsFilterByCondition(t *testing.T) {
	store := &mockStore{}
	store.On("ListTrials", mock.Anything, core.RunID("run-1")).Return([]metrics.TrialMetrics{
		{Condition: "F100", Repeat: 1},
		{Condition: "P3", Repeat: 1},
		{Condition: "F100", Repeat: 2},
	}, nil)

	rec := get(t, newTestServer(store), "/runs/run-1/trials?condition=F100")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []metrics.TrialMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].Repeat)
}

func TestExclusionsAndRun(t *testing.T) {
	store := &mockStore{}
	store.On("ListExclusions", mock.Anything, core.RunID("run-1")).Return([]metrics.Exclusion{
		{Source: "pw/7.csv", Kind: metrics.ExclusionPreamble, Reason: "tie"},
	}, nil)
	store.On("GetRun", mock.Anything, core.RunID("run-1")).Return(&run.RunRecord{RunID: "run-1", TrialsAccepted: 4}, nil)
	s := newTestServer(store)

	rec := get(t, s, "/runs/run-1/exclusions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PreambleCorruption")

	rec = get(t, s, "/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trials_accepted":4`)
}

func TestErrorStatusCodes(t *testing.T) {
	store := &mockStore{}
	store.On("ListSummaries", mock.Anything, core.RunID("missing")).Return(nil, errors.NotFound("run missing"))
	store.On("ListTrials", mock.Anything, core.RunID("broken")).Return(nil, errors.DatabaseError("connection reset"))
	s := newTestServer(store)

	rec := get(t, s, "/runs/missing/summary")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), errors.CodeNotFound)

	rec = get(t, s, "/runs/broken/trials")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = get(t, s, "/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRunsDefaultLimit(t *testing.T) {
	store := &mockStore{}
	store.On("ListRuns", mock.Anything, 50).Return([]*run.RunRecord{{RunID: "a"}, {RunID: "b"}}, nil)

	rec := get(t, newTestServer(store), "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []run.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	s := newTestServer(&mockStore{})
	get(t, s, "/health")

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `beaconrig_api_requests_total{route="/health",status="200"}`)
}
