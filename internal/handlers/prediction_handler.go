package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/predictions"
	"github.com/ternarybob/stockfeed/internal/snapshot"
)

// PredictionHandler serves queries over the latest snapshot of each market state
type PredictionHandler struct {
	layout snapshot.Layout
	logger arbor.ILogger
	now    func() time.Time
}

// NewPredictionHandler creates a handler reading snapshots through layout
func NewPredictionHandler(layout snapshot.Layout, logger arbor.ILogger) *PredictionHandler {
	return &PredictionHandler{
		layout: layout,
		logger: logger,
		now:    time.Now,
	}
}

type dataTypeQuery struct {
	DataType string `form:"data_type"`
}

type stockQuery struct {
	Ticker      string `form:"ticker" binding:"required"`
	MarketState string `form:"market_state" binding:"required"`
	MonthYear   string `form:"month_year"`
}

type marketStateQuery struct {
	MarketState string `form:"market_state" binding:"required"`
}

// marketState normalizes a market state parameter and reports whether it is known
func (h *PredictionHandler) marketState(value string) (string, bool) {
	state := strings.ToUpper(strings.TrimSpace(value))
	return state, h.layout.IsMarketState(state)
}

func (h *PredictionHandler) invalidMarketState(value string) string {
	return fmt.Sprintf("Invalid market_state: %s. Must be one of %s", value, strings.Join(h.layout.MarketStates, ", "))
}

// load reads the latest snapshot for a market state
func (h *PredictionHandler) load(state string) (*snapshot.Table, error) {
	path, err := h.layout.Latest(state)
	if err != nil {
		return nil, err
	}

	table, err := snapshot.Read(path)
	if err != nil {
		return nil, err
	}

	h.logger.Debug().Str("market_state", state).Str("path", path).Int("rows", len(table.Rows)).Msg("Loaded snapshot")
	return table, nil
}

// TestHandler reports which snapshot is in use for a market state
func (h *PredictionHandler) TestHandler(c *gin.Context) {
	var query dataTypeQuery
	_ = c.ShouldBindQuery(&query)
	if query.DataType == "" {
		query.DataType = h.defaultState()
	}

	state, ok := h.marketState(query.DataType)
	if !ok {
		WriteError(c, http.StatusOK, h.invalidMarketState(query.DataType))
		return
	}

	table, err := h.load(state)
	if err != nil {
		h.logger.Error().Err(err).Str("market_state", state).Msg("Test endpoint failed")
		WriteError(c, http.StatusOK, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"data_type": query.DataType,
		"file":      table.Path,
		"rows":      len(table.Rows),
		"columns":   table.Header,
	})
}

// StockAllModelsHandler returns one ticker's predictions with per-model statistics
func (h *PredictionHandler) StockAllModelsHandler(c *gin.Context) {
	var query stockQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		WriteDetail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	state, ok := h.marketState(query.MarketState)
	if !ok {
		WriteDetail(c, http.StatusBadRequest, h.invalidMarketState(query.MarketState))
		return
	}
	if strings.TrimSpace(query.Ticker) == "" {
		WriteDetail(c, http.StatusBadRequest, "Ticker cannot be empty")
		return
	}

	table, err := h.load(state)
	if err != nil {
		h.logger.Error().Err(err).Str("market_state", state).Msg("Failed to load snapshot")
		WriteDetail(c, http.StatusInternalServerError, err.Error())
		return
	}

	report, err := predictions.ForTicker(table, query.Ticker, query.MonthYear)
	switch {
	case errors.Is(err, predictions.ErrTickerNotFound):
		WriteDetail(c, http.StatusNotFound, fmt.Sprintf("Ticker '%s' not found in %s data", query.Ticker, state))
		return
	case errors.Is(err, predictions.ErrNoRows):
		detail := "No data found for Ticker=" + query.Ticker
		if query.MonthYear != "" {
			detail += ", Month-Year=" + query.MonthYear
		}
		WriteDetail(c, http.StatusNotFound, detail+", Market-State="+state)
		return
	case err != nil:
		h.logger.Error().Err(err).Str("market_state", state).Str("ticker", query.Ticker).Msg("Ticker query failed")
		WriteDetail(c, http.StatusInternalServerError, err.Error())
		return
	}

	monthYear := query.MonthYear
	if monthYear == "" {
		monthYear = "all"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"timestamp":    Timestamp(h.now()),
		"market_state": state,
		"query_params": gin.H{
			"ticker":     query.Ticker,
			"month_year": monthYear,
		},
		"available_models":   report.Models,
		"total_models":       len(report.Models),
		"overall_statistics": report.Overall,
		"model_statistics":   report.ModelStatistics,
		"data":               report.Data,
	})
}

// LatestDateHandler returns every ticker's predictions at its latest month
func (h *PredictionHandler) LatestDateHandler(c *gin.Context) {
	var query marketStateQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		WriteDetail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	state, ok := h.marketState(query.MarketState)
	if !ok {
		WriteDetail(c, http.StatusBadRequest, h.invalidMarketState(query.MarketState))
		return
	}

	table, err := h.load(state)
	if err != nil {
		h.logger.Error().Err(err).Str("market_state", state).Msg("Failed to load snapshot")
		WriteDetail(c, http.StatusInternalServerError, err.Error())
		return
	}

	latest, err := predictions.LatestByTicker(table)
	if err != nil {
		h.logger.Error().Err(err).Str("market_state", state).Msg("Latest date query failed")
		WriteDetail(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"timestamp":     Timestamp(h.now()),
		"market_state":  state,
		"total_tickers": len(latest),
		"data":          latest,
	})
}

// AvailableFiltersHandler lists the distinct tickers, models and months
func (h *PredictionHandler) AvailableFiltersHandler(c *gin.Context) {
	var query dataTypeQuery
	_ = c.ShouldBindQuery(&query)
	if query.DataType == "" {
		query.DataType = h.defaultState()
	}

	state, ok := h.marketState(query.DataType)
	if !ok {
		WriteDetail(c, http.StatusBadRequest, h.invalidMarketState(query.DataType))
		return
	}

	table, err := h.load(state)
	if err != nil {
		h.logger.Error().Err(err).Str("market_state", state).Msg("Failed to load snapshot")
		WriteDetail(c, http.StatusInternalServerError, err.Error())
		return
	}

	filters := predictions.AvailableFilters(table)
	c.JSON(http.StatusOK, gin.H{
		"data_type":   query.DataType,
		"tickers":     filters.Tickers,
		"models":      filters.Models,
		"month_years": filters.MonthYears,
	})
}

// defaultState is the first configured market state
func (h *PredictionHandler) defaultState() string {
	if len(h.layout.MarketStates) == 0 {
		return ""
	}
	return h.layout.MarketStates[0]
}
