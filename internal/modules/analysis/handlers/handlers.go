// Package handlers provides HTTP handlers for market data and risk analysis.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/alphapulse/internal/modules/analysis"
	"github.com/aristath/alphapulse/internal/modules/marketdata"
	"github.com/aristath/alphapulse/internal/modules/montecarlo"
)

const (
	defaultTail       = 5
	defaultPathSample = 1000
	msgpackType       = "application/msgpack"
)

var defaultBands = []float64{5, 25, 50, 75, 95}

// AnalysisService is the part of analysis.Service the handlers use.
type AnalysisService interface {
	Run(ctx context.Context, req analysis.Request, progress montecarlo.ProgressFunc) (*analysis.Report, error)
	Get(id string) (*analysis.Run, bool)
	List() []*analysis.Report
	MarketData(ctx context.Context, req analysis.Request) (*analysis.MarketView, error)
	Correlation(ctx context.Context, req analysis.Request) (*marketdata.CorrelationMatrix, error)
}

// Handler handles market data and analysis HTTP requests
type Handler struct {
	service        AnalysisService
	requestTimeout time.Duration
	log            zerolog.Logger
}

// NewHandler creates a new analysis handler. requestTimeout bounds every
// non-streaming request; 0 disables it.
func NewHandler(service AnalysisService, requestTimeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		service:        service,
		requestTimeout: requestTimeout,
		log:            log.With().Str("handler", "analysis").Logger(),
	}
}

// PriceRow is one day of a table; missing values are null.
type PriceRow struct {
	Date   string              `json:"date"`
	Values map[string]*float64 `json:"values"`
}

// HandleGetPrices handles GET /api/market/prices
func (h *Handler) HandleGetPrices(w http.ResponseWriter, r *http.Request) {
	req := requestFromQuery(r)
	tail, err := intParam(r, "tail", defaultTail)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	view, err := h.service.MarketData(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load market data")
		return
	}

	prices := view.Prices.Tail(tail)
	returns := view.Returns.Tail(tail)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"tickers":      view.Prices.Tickers,
			"trading_days": view.Prices.Len(),
			"observations": view.Returns.Len(),
			"prices":       rows(prices.Dates, prices.Tickers, prices.Prices),
			"returns":      rows(returns.Dates, returns.Tickers, returns.Returns),
			"summaries":    view.Summaries,
			"fill":         view.Fill,
		},
		"metadata": metadata(),
	})
}

// HandleGetCorrelation handles GET /api/market/correlation
func (h *Handler) HandleGetCorrelation(w http.ResponseWriter, r *http.Request) {
	corr, err := h.service.Correlation(r.Context(), requestFromQuery(r))
	if err != nil {
		h.writeServiceError(w, err, "Failed to compute correlation")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"correlation": corr,
			"insight":     analysis.CorrelationInsight,
		},
		"metadata": metadata(),
	})
}

// HandleRunAnalysis handles POST /api/analysis
func (h *Handler) HandleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), "")
			return
		}
	}

	report, err := h.service.Run(r.Context(), req, nil)
	if err != nil {
		h.writeServiceError(w, err, "Analysis failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data":     report,
		"metadata": metadata(),
	})
}

// HandleListAnalyses handles GET /api/analysis
func (h *Handler) HandleListAnalyses(w http.ResponseWriter, r *http.Request) {
	reports := h.service.List()

	summaries := make([]map[string]interface{}, 0, len(reports))
	for _, rep := range reports {
		summaries = append(summaries, map[string]interface{}{
			"id":         rep.ID,
			"created_at": rep.CreatedAt,
			"tickers":    rep.Request.Tickers,
			"runs":       rep.Request.Runs,
			"scenario":   rep.Risk.Scenario,
			"var":        rep.Risk.ValueAtRisk,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": summaries,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"count":     len(summaries),
		},
	})
}

// HandleGetAnalysis handles GET /api/analysis/{id}
func (h *Handler) HandleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     run.Report,
		"metadata": metadata(),
	})
}

// PathsPayload is a sample of simulated paths, ready to plot.
type PathsPayload struct {
	ID                string                  `json:"id" msgpack:"id"`
	Title             string                  `json:"title" msgpack:"title"`
	Horizon           int                     `json:"horizon" msgpack:"horizon"`
	Runs              int                     `json:"runs" msgpack:"runs"`
	Sampled           int                     `json:"sampled" msgpack:"sampled"`
	InitialInvestment float64                 `json:"initial_investment" msgpack:"initial_investment"`
	Paths             []montecarlo.SamplePath `json:"paths" msgpack:"paths"`
}

// HandleGetPaths handles GET /api/analysis/{id}/paths
func (h *Handler) HandleGetPaths(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}

	sample, err := intParam(r, "sample", defaultPathSample)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	paths := run.Ensemble.SamplePaths(sample)
	payload := PathsPayload{
		ID:                run.Report.ID,
		Title:             run.Report.Display.PathsTitle,
		Horizon:           run.Ensemble.Horizon(),
		Runs:              run.Ensemble.Runs(),
		Sampled:           len(paths),
		InitialInvestment: run.Ensemble.InitialInvestment(),
		Paths:             paths,
	}

	if wantsMsgpack(r) {
		h.writeMsgpack(w, http.StatusOK, payload)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     payload,
		"metadata": metadata(),
	})
}

// HandleGetBands handles GET /api/analysis/{id}/bands
func (h *Handler) HandleGetBands(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}

	percentiles := defaultBands
	if raw := r.URL.Query().Get("p"); raw != "" {
		parsed, err := floatList(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		percentiles = parsed
	}

	bands, err := run.Ensemble.PercentileBands(percentiles...)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"id":      run.Report.ID,
			"horizon": run.Ensemble.Horizon(),
			"bands":   bands,
		},
		"metadata": metadata(),
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*analysis.Run, bool) {
	id := chi.URLParam(r, "id")
	run, ok := h.service.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("Analysis %s not found", id), "")
		return nil, false
	}
	return run, true
}

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.Is(err, marketdata.ErrUpstreamData):
		return http.StatusBadGateway
	case errors.Is(err, montecarlo.ErrInvalidConfiguration),
		errors.Is(err, montecarlo.ErrInsufficientHistory),
		errors.Is(err, montecarlo.ErrMisalignedHistory),
		errors.Is(err, montecarlo.ErrNonFiniteReturn):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func hintFor(err error) string {
	if errors.Is(err, marketdata.ErrUpstreamData) {
		return marketdata.UpstreamHint
	}
	return ""
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Int("status", status).Msg(msg)
	} else {
		h.log.Warn().Err(err).Int("status", status).Msg(msg)
	}
	h.writeError(w, status, err.Error(), hintFor(err))
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, hint string) {
	body := map[string]interface{}{
		"error":    message,
		"metadata": metadata(),
	}
	if hint != "" {
		body["hint"] = hint
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeMsgpack(w http.ResponseWriter, status int, data interface{}) {
	body, err := msgpack.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode msgpack response")
		h.writeError(w, http.StatusInternalServerError, "Failed to encode response", "")
		return
	}

	w.Header().Set("Content-Type", msgpackType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.log.Debug().Err(err).Msg("Failed to write msgpack response")
	}
}

func metadata() map[string]interface{} {
	return map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

func wantsMsgpack(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("format"), "msgpack") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), msgpackType)
}

// requestFromQuery reads tickers, start and end from the query string.
func requestFromQuery(r *http.Request) analysis.Request {
	q := r.URL.Query()
	var tickers []string
	if raw := q.Get("tickers"); raw != "" {
		tickers = strings.Split(raw, ",")
	}
	return analysis.Request{
		Tickers: tickers,
		Start:   q.Get("start"),
		End:     q.Get("end"),
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return v, nil
}

func floatList(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid percentile %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

// rows turns a column table into JSON-safe day rows.
func rows(dates, tickers []string, columns map[string][]float64) []PriceRow {
	out := make([]PriceRow, len(dates))
	for i, d := range dates {
		values := make(map[string]*float64, len(tickers))
		for _, t := range tickers {
			v := columns[t][i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				values[t] = nil
				continue
			}
			values[t] = &v
		}
		out[i] = PriceRow{Date: d, Values: values}
	}
	return out
}
