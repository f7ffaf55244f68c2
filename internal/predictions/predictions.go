// Package predictions answers the API's questions about a prediction snapshot.
package predictions

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/stockfeed/internal/snapshot"
)

// Column names of a prediction snapshot
const (
	ColTicker     = "Ticker"
	ColModel      = "Model"
	ColMonthYear  = "Month-Year"
	ColIndex      = "Index"
	ColActual     = "Actual"
	ColPrediction = "Prediction"
	ColProbClass0 = "Prob_Class_0"
	ColProbClass1 = "Prob_Class_1"
	ColCorrect    = "Correct"
)

// RequiredColumns must all be present for ticker and latest-date queries
var RequiredColumns = []string{
	ColTicker, ColModel, ColMonthYear, ColIndex, ColActual,
	ColPrediction, ColProbClass0, ColProbClass1, ColCorrect,
}

var (
	ErrMissingColumns = errors.New("missing columns in snapshot")
	ErrTickerNotFound = errors.New("ticker not found")
	ErrNoRows         = errors.New("no matching rows")
)

// monthLayouts are the Month-Year spellings found in published data
var monthLayouts = []string{
	"2006-01",
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01",
	"2006/01/02",
	"01-2006",
	"01/2006",
	"1/2006",
	"Jan-2006",
	"Jan 2006",
	"January 2006",
	"January-2006",
	"Jan-06",
}

// Stats is a prediction count and accuracy percentage
type Stats struct {
	TotalPredictions   int     `json:"total_predictions"`
	CorrectPredictions int     `json:"correct_predictions"`
	Accuracy           float64 `json:"accuracy"`
}

// ModelStats adds the dates a model has predictions for
type ModelStats struct {
	Stats
	Dates      []string `json:"dates"`
	TotalDates int      `json:"total_dates"`
}

// TickerReport is every model's predictions for one ticker
type TickerReport struct {
	Models          []string                 `json:"available_models"`
	Overall         Stats                    `json:"overall_statistics"`
	ModelStatistics map[string]ModelStats    `json:"model_statistics"`
	Data            []map[string]interface{} `json:"data"`
}

// LatestModel is one model's prediction at a ticker's latest month
type LatestModel struct {
	ModelName  string   `json:"model_name"`
	Index      *int64   `json:"index"`
	Prediction *int64   `json:"prediction"`
	ProbClass1 *float64 `json:"Prob_Class_1"`
	ProbClass0 *float64 `json:"Prob_Class_0"`
}

// LatestTicker groups a ticker's predictions at its latest month
type LatestTicker struct {
	Ticker     string        `json:"ticker"`
	LatestDate string        `json:"latest_date"`
	Models     []LatestModel `json:"models"`
}

// Filters lists the distinct values usable as query filters
type Filters struct {
	Tickers    []string `json:"tickers"`
	Models     []string `json:"models"`
	MonthYears []string `json:"month_years"`
}

// CheckColumns returns an error wrapping ErrMissingColumns when table lacks a required column
func CheckColumns(table *snapshot.Table) error {
	if missing := table.Missing(RequiredColumns); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

// ForTicker reports the predictions of every model for ticker, optionally
// restricted to one Month-Year value
func ForTicker(table *snapshot.Table, ticker, monthYear string) (*TickerReport, error) {
	if err := CheckColumns(table); err != nil {
		return nil, err
	}

	found := false
	var rows [][]string
	for _, row := range table.Rows {
		if table.Value(row, ColTicker) != ticker {
			continue
		}
		found = true
		if monthYear != "" && table.Value(row, ColMonthYear) != monthYear {
			continue
		}
		rows = append(rows, row)
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: ticker %s, month-year %s", ErrNoRows, ticker, monthYear)
	}

	report := &TickerReport{
		ModelStatistics: make(map[string]ModelStats),
		Data:            make([]map[string]interface{}, 0, len(rows)),
	}

	byModel := make(map[string][][]string)
	for _, row := range rows {
		model := table.Value(row, ColModel)
		byModel[model] = append(byModel[model], row)

		record := make(map[string]interface{}, len(RequiredColumns))
		for _, column := range RequiredColumns {
			record[column] = Cell(table.Value(row, column))
		}
		report.Data = append(report.Data, record)
	}

	for model, modelRows := range byModel {
		report.Models = append(report.Models, model)

		dateSet := make(map[string]struct{})
		for _, row := range modelRows {
			dateSet[table.Value(row, ColMonthYear)] = struct{}{}
		}
		dates := sortedKeys(dateSet)

		report.ModelStatistics[model] = ModelStats{
			Stats:      stats(table, modelRows),
			Dates:      dates,
			TotalDates: len(dates),
		}
	}
	sort.Strings(report.Models)
	report.Overall = stats(table, rows)

	return report, nil
}

// LatestByTicker returns, for every ticker in first-seen order, the rows at
// its most recent month grouped by model. Tickers without a parseable
// Month-Year are skipped.
func LatestByTicker(table *snapshot.Table) ([]LatestTicker, error) {
	if err := CheckColumns(table); err != nil {
		return nil, err
	}

	var (
		order   []string
		latest  = make(map[string]time.Time)
		byMonth = make(map[string][][]string)
	)
	for _, row := range table.Rows {
		ticker := table.Value(row, ColTicker)
		if _, seen := byMonth[ticker]; !seen {
			order = append(order, ticker)
			byMonth[ticker] = nil
		}

		month, ok := ParseMonth(table.Value(row, ColMonthYear))
		if !ok {
			continue
		}
		current, has := latest[ticker]
		switch {
		case !has || month.After(current):
			latest[ticker] = month
			byMonth[ticker] = [][]string{row}
		case month.Equal(current):
			byMonth[ticker] = append(byMonth[ticker], row)
		}
	}

	result := make([]LatestTicker, 0, len(order))
	for _, ticker := range order {
		month, ok := latest[ticker]
		if !ok {
			continue
		}

		entry := LatestTicker{
			Ticker:     ticker,
			LatestDate: month.Format("2006-01"),
			Models:     []LatestModel{},
		}
		seenModels := make(map[string]bool)
		for _, row := range byMonth[ticker] {
			model := table.Value(row, ColModel)
			if seenModels[model] {
				continue
			}
			seenModels[model] = true
			entry.Models = append(entry.Models, LatestModel{
				ModelName:  model,
				Index:      parseInt(table.Value(row, ColIndex)),
				Prediction: parseInt(table.Value(row, ColPrediction)),
				ProbClass1: parseFloat(table.Value(row, ColProbClass1)),
				ProbClass0: parseFloat(table.Value(row, ColProbClass0)),
			})
		}
		result = append(result, entry)
	}

	return result, nil
}

// AvailableFilters returns the sorted distinct tickers, models and Month-Year
// values. Absent columns yield empty lists.
func AvailableFilters(table *snapshot.Table) Filters {
	tickers := make(map[string]struct{})
	models := make(map[string]struct{})
	months := make(map[string]struct{})

	for _, row := range table.Rows {
		if table.Has(ColTicker) {
			tickers[table.Value(row, ColTicker)] = struct{}{}
		}
		if table.Has(ColModel) {
			models[table.Value(row, ColModel)] = struct{}{}
		}
		if table.Has(ColMonthYear) {
			months[table.Value(row, ColMonthYear)] = struct{}{}
		}
	}

	return Filters{
		Tickers:    sortedKeys(tickers),
		Models:     sortedKeys(models),
		MonthYears: sortedKeys(months),
	}
}

// ParseMonth reads a Month-Year cell, truncated to the first of the month
func ParseMonth(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// Cell converts a CSV cell to a JSON value: empty becomes null, numbers and
// booleans are typed, everything else stays a string
func Cell(value string) interface{} {
	if value == "" || strings.EqualFold(value, "nan") {
		return nil
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsInf(f, 0) {
		return f
	}
	switch value {
	case "True", "true", "TRUE":
		return true
	case "False", "false", "FALSE":
		return false
	}
	return value
}

// stats counts rows whose Correct cell is truthy
func stats(table *snapshot.Table, rows [][]string) Stats {
	s := Stats{TotalPredictions: len(rows)}
	for _, row := range rows {
		if isCorrect(table.Value(row, ColCorrect)) {
			s.CorrectPredictions++
		}
	}
	if s.TotalPredictions > 0 {
		s.Accuracy = float64(s.CorrectPredictions) / float64(s.TotalPredictions) * 100
	}
	return s
}

func isCorrect(value string) bool {
	switch v := Cell(value).(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

// parseInt accepts integral floats ("3.0") as CSV exports often write them
func parseInt(value string) *int64 {
	switch v := Cell(value).(type) {
	case int64:
		return &v
	case float64:
		i := int64(v)
		return &i
	}
	return nil
}

func parseFloat(value string) *float64 {
	switch v := Cell(value).(type) {
	case int64:
		f := float64(v)
		return &f
	case float64:
		return &v
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
