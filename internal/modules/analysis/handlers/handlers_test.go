package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/alphapulse/internal/modules/analysis"
	"github.com/aristath/alphapulse/internal/modules/marketdata"
	"github.com/aristath/alphapulse/internal/modules/montecarlo"
)

type stubProvider struct {
	table *marketdata.PriceTable
	err   error
}

func (s *stubProvider) GetPriceTable(ctx context.Context, tickers []string, start, end time.Time) (*marketdata.PriceTable, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.table, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func oscillating(tickers []string, days int) *marketdata.PriceTable {
	prices := make(map[string][]marketdata.DailyPrice, len(tickers))
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for k, ticker := range tickers {
		series := make([]marketdata.DailyPrice, days)
		for i := range series {
			series[i] = marketdata.DailyPrice{
				Date:     base.AddDate(0, 0, i).Format("2006-01-02"),
				AdjClose: 50 * (1 + 0.002*float64(i) + 0.03*math.Cos(float64(i*(k+1)))),
			}
		}
		prices[ticker] = series
	}
	return marketdata.BuildPriceTable(tickers, prices)
}

func setupRouter(t *testing.T, provider marketdata.Provider) (chi.Router, *analysis.Service) {
	t.Helper()

	defaults := analysis.DefaultDefaults()
	defaults.Tickers = []string{"AAPL", "KO"}
	defaults.Horizon = 10
	defaults.Runs = 300
	defaults.Workers = 2

	service := analysis.NewService(provider, montecarlo.NewSimulator(testLogger()), analysis.NewRegistry(5), defaults, testLogger())
	handler := NewHandler(service, 30*time.Second, testLogger())

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})
	return r, service
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func postAnalysis(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/analysis", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createAnalysis(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := postAnalysis(t, router, `{"seed": 7}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := decode(t, rec)["data"].(map[string]interface{})
	return data["id"].(string)
}

func TestHandleRunAnalysis(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 90)})

	rec := postAnalysis(t, router, `{"horizon_days": 5, "runs": 200, "seed": 3}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	assert.Contains(t, body["metadata"], "timestamp")

	data := body["data"].(map[string]interface{})
	assert.NotEmpty(t, data["id"])

	request := data["request"].(map[string]interface{})
	assert.Equal(t, float64(5), request["horizon_days"])
	assert.Equal(t, float64(200), request["runs"])
	assert.Equal(t, float64(3), request["seed"])

	risk := data["risk"].(map[string]interface{})
	assert.Equal(t, float64(200), risk["runs"])
	assert.Contains(t, []interface{}{"loss", "gain"}, risk["scenario"])

	display := data["display"].(map[string]interface{})
	assert.Equal(t, "$10,000.00", display["initial_investment"])
}

func TestHandleRunAnalysis_EmptyBodyUsesDefaults(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 60)})

	req := httptest.NewRequest(http.MethodPost, "/api/analysis", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(300), data["request"].(map[string]interface{})["runs"])
}

func TestHandleRunAnalysis_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
		body     string
		status   int
		hint     bool
	}{
		{
			name:     "invalid body",
			provider: &stubProvider{table: oscillating([]string{"AAPL"}, 30)},
			body:     `{"runs": "many"}`,
			status:   http.StatusBadRequest,
		},
		{
			name:     "invalid configuration",
			provider: &stubProvider{table: oscillating([]string{"AAPL"}, 30)},
			body:     `{"horizon_days": -1}`,
			status:   http.StatusBadRequest,
		},
		{
			name:     "insufficient history",
			provider: &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 2)},
			body:     `{}`,
			status:   http.StatusBadRequest,
		},
		{
			name: "upstream failure",
			provider: &stubProvider{err: &marketdata.UpstreamError{
				Ticker: "AAPL",
				Err:    errors.New("rate limited"),
			}},
			body:   `{}`,
			status: http.StatusBadGateway,
			hint:   true,
		},
		{
			name:     "upstream timeout",
			provider: &stubProvider{err: fmt.Errorf("fetch: %w", context.DeadlineExceeded)},
			body:     `{}`,
			status:   http.StatusGatewayTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := setupRouter(t, tt.provider)

			rec := postAnalysis(t, router, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			body := decode(t, rec)
			assert.NotEmpty(t, body["error"])
			if tt.hint {
				assert.Equal(t, marketdata.UpstreamHint, body["hint"])
			} else {
				assert.NotContains(t, body, "hint")
			}
		})
	}
}

func TestHandleGetAnalysis(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 60)})
	id := createAnalysis(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/"+id, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, id, data["id"])
}

func TestHandleGetAnalysis_NotFound(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{})

	for _, path := range []string{"/api/analysis/missing", "/api/analysis/missing/paths", "/api/analysis/missing/bands"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestHandleListAnalyses(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 60)})
	first := createAnalysis(t, router)
	second := createAnalysis(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	data := body["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, second, data[0].(map[string]interface{})["id"])
	assert.Equal(t, first, data[1].(map[string]interface{})["id"])
	assert.Equal(t, float64(2), body["metadata"].(map[string]interface{})["count"])
}

func TestHandleGetPaths(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 60)})
	id := createAnalysis(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/"+id+"/paths?sample=25", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(300), data["runs"])
	assert.Equal(t, float64(25), data["sampled"])
	assert.Equal(t, float64(10), data["horizon"])
	assert.Equal(t, "300 Possible Futures (10 Trading Days Horizon)", data["title"])

	paths := data["paths"].([]interface{})
	require.Len(t, paths, 25)
	values := paths[0].(map[string]interface{})["values"].([]interface{})
	assert.Len(t, values, 10)
	assert.Greater(t, values[0].(float64), 0.0)
}

func TestHandleGetPaths_DefaultSampleCappedAtRuns(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 60)})
	id := createAnalysis(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/"+id+"/paths", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(300), data["sampled"])
}

func TestHandleGetPaths_Msgpack(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 60)})
	id := createAnalysis(t, router)

	for _, variant := range []struct {
		query  string
		accept string
	}{
		{query: "?sample=4&format=msgpack"},
		{query: "?sample=4", accept: "application/msgpack"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/analysis/"+id+"/paths"+variant.query, nil)
		if variant.accept != "" {
			req.Header.Set("Accept", variant.accept)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))

		var payload PathsPayload
		require.NoError(t, msgpack.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&payload))
		assert.Equal(t, id, payload.ID)
		assert.Equal(t, 300, payload.Runs)
		assert.Equal(t, 4, payload.Sampled)
		require.Len(t, payload.Paths, 4)
		assert.Len(t, payload.Paths[0].Values, 10)
	}
}

func TestHandleGetPaths_InvalidSample(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 60)})
	id := createAnalysis(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/"+id+"/paths?sample=abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetBands(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 60)})
	id := createAnalysis(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/"+id+"/bands", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	bands := data["bands"].([]interface{})
	require.Len(t, bands, 5)

	low := bands[0].(map[string]interface{})
	high := bands[4].(map[string]interface{})
	assert.Equal(t, float64(5), low["percentile"])
	assert.Equal(t, float64(95), high["percentile"])

	lowValues := low["values"].([]interface{})
	highValues := high["values"].([]interface{})
	require.Len(t, lowValues, 10)
	for i := range lowValues {
		assert.LessOrEqual(t, lowValues[i].(float64), highValues[i].(float64))
	}
}

func TestHandleGetBands_CustomAndInvalid(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 60)})
	id := createAnalysis(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/"+id+"/bands?p=1,99", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	bands := decode(t, rec)["data"].(map[string]interface{})["bands"].([]interface{})
	assert.Len(t, bands, 2)

	for _, q := range []string{"p=abc", "p=150", "p=NaN", "p=5,nan"} {
		req := httptest.NewRequest(http.MethodGet, "/api/analysis/"+id+"/bands?"+q, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestHandleGetPrices(t *testing.T) {
	table := oscillating([]string{"AAPL", "KO"}, 30)
	router, _ := setupRouter(t, &stubProvider{table: table})

	req := httptest.NewRequest(http.MethodGet, "/api/market/prices?tickers=aapl,ko&tail=3", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(30), data["trading_days"])
	assert.Equal(t, float64(29), data["observations"])

	prices := data["prices"].([]interface{})
	require.Len(t, prices, 3)
	last := prices[2].(map[string]interface{})
	assert.Equal(t, table.Dates[29], last["date"])
	assert.InDelta(t, table.Prices["AAPL"][29], last["values"].(map[string]interface{})["AAPL"], 1e-9)

	assert.Len(t, data["returns"], 3)
	assert.Len(t, data["summaries"], 2)
}

func TestHandleGetPrices_InvalidTail(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 30)})

	req := httptest.NewRequest(http.MethodGet, "/api/market/prices?tail=-2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetCorrelation(t *testing.T) {
	router, _ := setupRouter(t, &stubProvider{table: oscillating([]string{"AAPL", "KO"}, 40)})

	req := httptest.NewRequest(http.MethodGet, "/api/market/correlation", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, analysis.CorrelationInsight, data["insight"])

	corr := data["correlation"].(map[string]interface{})
	values := corr["values"].([]interface{})
	require.Len(t, values, 2)
	assert.InDelta(t, 1.0, values[0].([]interface{})[0], 1e-12)
}

func TestRows_NullsMissingValues(t *testing.T) {
	out := rows(
		[]string{"2024-01-02", "2024-01-03"},
		[]string{"AAPL"},
		map[string][]float64{"AAPL": {math.NaN(), 101.5}},
	)

	require.Len(t, out, 2)
	assert.Nil(t, out[0].Values["AAPL"])
	require.NotNil(t, out[1].Values["AAPL"])
	assert.Equal(t, 101.5, *out[1].Values["AAPL"])

	encoded, err := json.Marshal(out[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-01-02","values":{"AAPL":null}}`, string(encoded))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&montecarlo.ConfigError{Field: "runs", Reason: "must be positive"}, http.StatusBadRequest},
		{&montecarlo.InsufficientHistoryError{Asset: "AAPL", Observations: 1}, http.StatusBadRequest},
		{&marketdata.UpstreamError{Ticker: "AAPL", Err: errors.New("boom")}, http.StatusBadGateway},
		{&marketdata.UpstreamError{Ticker: "AAPL", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{context.Canceled, http.StatusRequestTimeout},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusFor(tt.err), tt.err.Error())
	}
}
