package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/sebas/relayengine/api/types/v1"
	"github.com/sebas/relayengine/internal/relay/media"
	"github.com/sebas/relayengine/internal/relay/metrics"
	"github.com/sebas/relayengine/internal/relay/worker"
)

type fakeEngine struct {
	stats []worker.Stats
	legs  []worker.Leg
	err   error
}

func (f *fakeEngine) Stats(context.Context) ([]worker.Stats, error) { return f.stats, f.err }
func (f *fakeEngine) Legs(context.Context) ([]worker.Leg, error)    { return f.legs, f.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(":0", &fakeEngine{}, nil, nil)
	rec := get(t, s.Handler(), "/api/v1/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body types.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestStatsAggregatesShards(t *testing.T) {
	fe := &fakeEngine{stats: []worker.Stats{
		{Legs: 2, Active: 2, Calls: 1, FreePorts: 8},
		{Legs: 1, Pending: 1, Calls: 1, FreePorts: 9},
	}}
	s := NewServer(":0", fe, nil, nil)
	rec := get(t, s.Handler(), "/api/v1/stats")

	require.Equal(t, http.StatusOK, rec.Code)
	var body types.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.TotalLegs)
	assert.Equal(t, 2, body.ActiveLegs)
	assert.Equal(t, 2, body.ActiveCalls)
	assert.Equal(t, 17, body.TotalFreePorts)
	require.Len(t, body.Shards, 2)
	assert.Equal(t, 1, body.Shards[1].Shard)
	assert.Equal(t, 1, body.Shards[1].Pending)
}

func TestLegsFilter(t *testing.T) {
	created := time.Now().Add(-time.Minute)
	fe := &fakeEngine{legs: []worker.Leg{
		{ID: "1", CallID: "c1", LegID: "a", State: "active", Port: 10000, Created: created,
			Stats: media.Snapshot{PacketsIn: 5, BytesIn: 860, SSRC: 42}},
		{ID: "2", CallID: "c1", LegID: "b", State: "pending", Port: 10001, Created: created},
		{ID: "3", CallID: "c2", LegID: "a", State: "active", Port: 10002, Created: created},
	}}
	s := NewServer(":0", fe, nil, nil)

	var all []types.Leg
	require.NoError(t, json.Unmarshal(get(t, s.Handler(), "/api/v1/legs").Body.Bytes(), &all))
	assert.Len(t, all, 3)

	var c1 []types.Leg
	require.NoError(t, json.Unmarshal(get(t, s.Handler(), "/api/v1/legs?call_id=c1").Body.Bytes(), &c1))
	require.Len(t, c1, 2)
	assert.Equal(t, uint64(5), c1[0].PacketsIn)
	assert.Equal(t, uint32(42), c1[0].SSRC)
	assert.GreaterOrEqual(t, c1[0].Duration, 59)
}

func TestEngineUnavailable(t *testing.T) {
	s := NewServer(":0", &fakeEngine{err: errors.New("engine closed")}, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/api/v1/stats").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/api/v1/legs").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(":0", &fakeEngine{}, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/legs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Command("ng", "ping", "ok")

	s := NewServer(":0", &fakeEngine{}, reg, nil)
	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `relay_control_commands_total{command="ping",result="ok",transport="ng"} 1`)

	noMetrics := NewServer(":0", &fakeEngine{}, nil, nil)
	assert.Equal(t, http.StatusNotFound, get(t, noMetrics.Handler(), "/metrics").Code)
}
