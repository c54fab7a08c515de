package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vjranagit/historian/pkg/fft"
	"github.com/vjranagit/historian/pkg/storage"
	"github.com/vjranagit/historian/pkg/types"
)

var (
	flow  = types.Series{ID: 1, XID: "DP_flow", Kind: types.KindNumeric}
	pump  = types.Series{ID: 2, XID: "DP_pump", Kind: types.KindMultistate}
	alarm = types.Series{ID: 3, XID: "DP_alarm", Kind: types.KindAlphanumeric}
)

func newTestServer(t *testing.T, opts Options) (*Server, storage.Storage) {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.InMemory = true
	store, err := storage.NewStorage(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewServer(":0", store, opts, nil), store
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func write(t *testing.T, s *Server, data ...types.SeriesData) {
	t.Helper()
	body, err := json.Marshal(types.WriteRequest{Data: data})
	require.NoError(t, err)
	rec := do(t, s, http.MethodPost, "/api/v1/write", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func numeric(ts int64, v float64) types.Sample {
	return types.Sample{Timestamp: ts, Value: types.NumericValue(v)}
}

func seedFlow(t *testing.T, s *Server) {
	t.Helper()
	write(t, s, types.SeriesData{Series: flow, Samples: []types.Sample{
		numeric(1000, 1),
		numeric(2000, 2),
		numeric(3000, 3),
	}})
}

func TestWriteAndSeries(t *testing.T) {
	s, store := newTestServer(t, Options{})
	seedFlow(t, s)

	got, ok := store.SeriesByXID("DP_flow")
	require.True(t, ok)
	assert.Equal(t, flow, got)

	rec := do(t, s, http.MethodGet, "/api/v1/series", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1,"xid":"DP_flow","kind":"NUMERIC"}]`, rec.Body.String())
}

func TestWriteRejectsBadRequests(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := do(t, s, http.MethodPost, "/api/v1/write", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// multistate sample for a numeric series
	body, err := json.Marshal(types.WriteRequest{Data: []types.SeriesData{{
		Series:  flow,
		Samples: []types.Sample{{Timestamp: 1, Value: types.MultistateValue(2)}},
	}}})
	require.NoError(t, err)
	rec = do(t, s, http.MethodPost, "/api/v1/write", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/write", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPointValuesRaw(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	seedFlow(t, s)

	rec := do(t, s, http.MethodGet, "/api/v1/point-values?xid=DP_flow&from=0&to=10000", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"DP_flow":[
		{"timestamp":1000,"value":1},
		{"timestamp":2000,"value":2},
		{"timestamp":3000,"value":3}
	]}`, rec.Body.String())

	// ISO 8601 bounds and a limit
	q := url.Values{
		"xid":   {"DP_flow"},
		"from":  {"1970-01-01T00:00:02Z"},
		"to":    {"1970-01-01T00:00:10Z"},
		"limit": {"1"},
	}
	rec = do(t, s, http.MethodGet, "/api/v1/point-values?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"DP_flow":[{"timestamp":2000,"value":2}]}`, rec.Body.String())
}

func TestPointValuesBookend(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	seedFlow(t, s)

	rec := do(t, s, http.MethodGet, "/api/v1/point-values?xid=DP_flow&from=1500&to=2500&bookend=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"DP_flow":[
		{"timestamp":1500,"value":1,"bookend":true},
		{"timestamp":2000,"value":2},
		{"timestamp":2500,"value":2,"bookend":true}
	]}`, rec.Body.String())
}

func TestPointValuesSingleArray(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	seedFlow(t, s)
	write(t, s, types.SeriesData{Series: pump, Samples: []types.Sample{
		{Timestamp: 1500, Value: types.MultistateValue(4)},
	}})

	rec := do(t, s, http.MethodGet, "/api/v1/point-values?xid=DP_flow,DP_pump&from=0&to=2500&singleArray=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[
		{"xid":"DP_flow","timestamp":1000,"value":1},
		{"xid":"DP_pump","timestamp":1500,"value":4},
		{"xid":"DP_flow","timestamp":2000,"value":2}
	]`, rec.Body.String())
}

func TestPointValuesRollup(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	seedFlow(t, s)

	rec := do(t, s, http.MethodGet, "/api/v1/point-values?xid=DP_flow&from=0&to=5000&rollup=MAX&rollupInterval=5+SECONDS", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string][]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out["DP_flow"], 1)
	assert.Equal(t, 3.0, out["DP_flow"][0]["value"])
	assert.Equal(t, 0.0, out["DP_flow"][0]["timestamp"])
}

func TestPointValuesCSV(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	seedFlow(t, s)

	rec := do(t, s, http.MethodGet, "/api/v1/point-values?xid=DP_flow&from=0&to=2500&format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "xid,timestamp,value,bookend\nDP_flow,1000,1,\nDP_flow,2000,2,\n", rec.Body.String())
}

func TestPointValuesErrors(t *testing.T) {
	s, _ := newTestServer(t, Options{MaxSeries: 1})
	seedFlow(t, s)
	write(t, s, types.SeriesData{Series: pump, Samples: []types.Sample{
		{Timestamp: 1500, Value: types.MultistateValue(4)},
	}})

	testCases := []struct {
		description string
		query       string
	}{
		{"missing xid", "from=0&to=10"},
		{"unknown xid", "xid=nope&from=0&to=10"},
		{"too many series", "xid=DP_flow&xid=DP_pump&from=0&to=10"},
		{"inverted range", "xid=DP_flow&from=10&to=0"},
		{"bad time", "xid=DP_flow&from=yesterday&to=10"},
		{"unknown rollup", "xid=DP_flow&from=0&to=10&rollup=MEDIAN&rollupInterval=1+SECONDS"},
		{"rollup without interval", "xid=DP_flow&from=0&to=10&rollup=MAX"},
		{"bad interval", "xid=DP_flow&from=0&to=10&rollup=MAX&rollupInterval=5+FORTNIGHTS"},
		{"negative limit", "xid=DP_flow&from=0&to=10&limit=-1"},
		{"bad bool", "xid=DP_flow&from=0&to=10&bookend=maybe"},
		{"bad timezone", "xid=DP_flow&from=0&to=10&timezone=Mars/Olympus"},
		{"simplify with rollup", "xid=DP_flow&from=0&to=10&rollup=MAX&rollupInterval=1+SECONDS&simplifyTolerance=1"},
		{"negative tolerance", "xid=DP_flow&from=0&to=10&simplifyTolerance=-1"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/api/v1/point-values?"+tc.query, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestParseQuery(t *testing.T) {
	resolve := func(xid string) (types.Series, bool) {
		if xid == flow.XID {
			return flow, true
		}
		return types.Series{}, false
	}
	now := time.UnixMilli(10 * 3600 * 1000)
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	q, err := ParseQuery(url.Values{"xid": {"DP_flow"}}, resolve, Options{DefaultLimit: 50}, now)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), q.Range.To)
	assert.Equal(t, now.UnixMilli()-time.Hour.Milliseconds(), q.Range.From)
	assert.Equal(t, 50, q.Limit)
	assert.Equal(t, time.UTC, q.Location)
	assert.Nil(t, q.Simplify)

	params := url.Values{
		"xid":                    {"DP_flow"},
		"from":                   {"2024-01-01T00:00:00"},
		"to":                     {"2024-01-02T00:00:00"},
		"timezone":               {"Europe/Berlin"},
		"rollup":                 {"calendar"},
		"rollupInterval":         {"P1D"},
		"multiplePointsPerArray": {"true"},
	}
	q, err = ParseQuery(params, resolve, Options{}, now)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", q.Location.String())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, berlin).UnixMilli(), q.Range.From)
	assert.Equal(t, types.RollupCalendar, q.Rollup)
	assert.Equal(t, types.Interval{Count: 1, Unit: types.Days}, q.Interval)
	assert.True(t, q.MultiplePointsPerArray)

	params = url.Values{
		"xid":                    {"DP_flow"},
		"simplifyTarget":         {"10"},
		"simplifyHighQuality":    {"true"},
		"simplifyPrePostProcess": {"true"},
	}
	q, err = ParseQuery(params, resolve, Options{}, now)
	require.NoError(t, err)
	require.NotNil(t, q.Simplify)
	assert.Equal(t, 10, q.Simplify.TargetPointCount)
	assert.True(t, q.Simplify.HighQuality)
	assert.True(t, q.Simplify.PrePostProcess)
	assert.Equal(t, "simplify", q.Mode())

	_, err = ParseQuery(url.Values{"xid": {"DP_flow"}, "from": {"5"}, "to": {"1"}}, resolve, Options{}, now)
	assert.True(t, types.IsKind(err, types.RangeInvalid))

	_, err = ParseQuery(url.Values{"xid": {"other"}}, resolve, Options{}, now)
	assert.True(t, types.IsKind(err, types.ArgumentInvalid))
}

func TestTransformEndpoints(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	// constant signal sampled every second
	samples := make([]types.Sample, 8)
	for i := range samples {
		samples[i] = numeric(int64(i)*1000, 2)
	}
	write(t, s, types.SeriesData{Series: flow, Samples: samples})

	rec := do(t, s, http.MethodGet, "/api/v1/point-values/fft/DP_flow?from=0&to=8000", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var bins []fft.Bin
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bins))
	require.Len(t, bins, 4)
	assert.InDelta(t, 16.0, bins[0].Value, 1e-9)
	assert.InDelta(t, 0.125, bins[1].Frequency, 1e-9)
	assert.InDelta(t, 8.0, bins[1].Period, 1e-9)
	for _, b := range bins[1:] {
		assert.InDelta(t, 0.0, b.Value, 1e-9)
	}

	// a poll period hint overrides the measured rate
	rec = do(t, s, http.MethodGet, "/api/v1/point-values/fft/DP_flow?from=0&to=8000&pollPeriod=500", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bins))
	assert.InDelta(t, 0.25, bins[1].Frequency, 1e-9)

	rec = do(t, s, http.MethodGet, "/api/v1/point-values/ifft/DP_flow?from=0&to=8000", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bins))
	assert.Len(t, bins, 4)

	// no data in range
	rec = do(t, s, http.MethodGet, "/api/v1/point-values/fft/DP_flow?from=100000&to=200000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = do(t, s, http.MethodGet, "/api/v1/point-values/fft/nope?from=0&to=8000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/point-values/fft/DP_flow?from=0&to=8000&pollPeriod=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransformCancelled(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	seedFlow(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/point-values/fft/DP_flow?from=0&to=8000", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "cancelled")
}

func TestRespondJSONLogsEncodeFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := NewServer(":0", nil, Options{}, zap.New(core))

	rec := httptest.NewRecorder()
	s.respondJSON(rec, http.StatusOK, []fft.Bin{{Value: 1}})
	assert.JSONEq(t, `[{"frequency":0,"period":0,"value":1}]`, rec.Body.String())
	assert.Zero(t, logs.Len())

	rec = httptest.NewRecorder()
	s.respondJSON(rec, http.StatusOK, math.Inf(1))
	require.Equal(t, 1, logs.FilterMessage("failed to encode response").Len())
}

func TestTransformRejectsAlphanumeric(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	write(t, s, types.SeriesData{Series: alarm, Samples: []types.Sample{
		{Timestamp: 10, Value: types.AlphanumericValue("HIGH")},
	}})

	rec := do(t, s, http.MethodGet, "/api/v1/point-values/fft/DP_alarm?from=0&to=100", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestTransform(t *testing.T) {
	bins, err := Transform(nil, true, 0)
	require.NoError(t, err)
	assert.Empty(t, bins)

	bins, err = Transform([]types.Sample{numeric(0, 5)}, true, 0)
	require.NoError(t, err)
	require.Len(t, bins, 1)
	assert.Equal(t, 5.0, bins[0].Value)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "historian_samples_written_total")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(types.ConfigError("x", 1, "bad")))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(types.Cancelled(nil)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&types.Error{Kind: types.StorageFailure}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
