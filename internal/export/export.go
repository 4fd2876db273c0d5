// internal/export/export.go
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/flashloan-arb/internal/storage/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format of the exported file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

// Options configures the export behavior
type Options struct {
	Format         Format
	Since          time.Time
	Outcome        string // models.Outcome*, empty matches all
	OnlyProfitable bool
	OutputDir      string
}

// AttemptExporter writes journaled attempts to csv or json files.
type AttemptExporter struct {
	logger *zap.Logger
	clock  clockwork.Clock
}

func NewAttemptExporter(clock clockwork.Clock, logger *zap.Logger) *AttemptExporter {
	return &AttemptExporter{
		logger: logger.Named("export"),
		clock:  clock,
	}
}

// Export filters attempts, sorts them oldest first and writes them to a new
// file in options.OutputDir. It returns the file path.
func (e *AttemptExporter) Export(attempts []*models.ArbitrageAttempt, options Options) (string, error) {
	filtered := Filter(attempts, options)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no attempts match the export criteria")
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].EvaluatedAt.Before(filtered[j].EvaluatedAt)
	})

	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir, e.filename(options))

	var err error
	switch options.Format {
	case FormatCSV:
		err = writeCSV(filtered, outputPath)
	case FormatJSON:
		err = e.writeJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("Attempts exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))
	return outputPath, nil
}

// Filter keeps the attempts that pass every filter of options, in their
// original order.
func Filter(attempts []*models.ArbitrageAttempt, options Options) []*models.ArbitrageAttempt {
	var filtered []*models.ArbitrageAttempt
	for _, a := range attempts {
		if !options.Since.IsZero() && a.EvaluatedAt.Before(options.Since) {
			continue
		}
		if options.Outcome != "" && a.Outcome != options.Outcome {
			continue
		}
		if options.OnlyProfitable && !a.Profitable {
			continue
		}
		filtered = append(filtered, a)
	}
	return filtered
}

func (e *AttemptExporter) filename(options Options) string {
	prefix := "attempts_all"
	if options.Outcome != "" {
		prefix = "attempts_" + options.Outcome
	}
	return fmt.Sprintf("%s_%s.%s", prefix, e.clock.Now().Format("20060102_150405"), options.Format)
}

// CSVHeaders returns the column names written by csv exports.
func CSVHeaders() []string {
	return []string{
		"attempt_id", "evaluated_at", "mode", "input_mint", "output_mint",
		"amount_in", "buy_out", "sell_out", "repayment", "profit",
		"outcome", "signature", "lookup_table", "keys", "missing_keys",
		"duration_ms", "error",
	}
}

func csvRow(a *models.ArbitrageAttempt) []string {
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	return []string{
		a.AttemptID,
		a.EvaluatedAt.UTC().Format(time.RFC3339),
		a.Mode,
		a.InputMint,
		a.OutputMint,
		u(a.AmountIn),
		u(a.BuyOut),
		u(a.SellOut),
		u(a.Repayment),
		a.Profit().String(),
		a.Outcome,
		a.Signature,
		a.LookupTable,
		strconv.Itoa(a.Keys),
		strconv.Itoa(a.MissingKeys),
		strconv.FormatInt(a.DurationMs, 10),
		a.ErrorMessage,
	}
}

func writeCSV(attempts []*models.ArbitrageAttempt, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, a := range attempts {
		if err := writer.Write(csvRow(a)); err != nil {
			return fmt.Errorf("failed to write attempt: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func (e *AttemptExporter) writeJSON(attempts []*models.ArbitrageAttempt, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	exportData := struct {
		ExportTime time.Time                  `json:"export_time"`
		Summary    Summary                    `json:"summary"`
		Attempts   []*models.ArbitrageAttempt `json:"attempts"`
	}{
		ExportTime: e.clock.Now(),
		Summary:    Summarize(attempts),
		Attempts:   attempts,
	}
	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summary contains statistics of exported attempts
type Summary struct {
	Total        int             `json:"total"`
	Profitable   int             `json:"profitable"`
	Outcomes     map[string]int  `json:"outcomes"`
	SubmitRate   float64         `json:"submit_rate"`
	BestProfit   decimal.Decimal `json:"best_profit"`
	SubmittedPnL decimal.Decimal `json:"submitted_pnl"` // sum over submitted attempts, base units
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
}

// Summarize expects attempts sorted oldest first.
func Summarize(attempts []*models.ArbitrageAttempt) Summary {
	s := Summary{Total: len(attempts), Outcomes: make(map[string]int)}
	if len(attempts) == 0 {
		return s
	}
	s.StartDate = attempts[0].EvaluatedAt
	s.EndDate = attempts[len(attempts)-1].EvaluatedAt

	first := true
	for _, a := range attempts {
		s.Outcomes[a.Outcome]++
		if a.Profitable {
			s.Profitable++
		}
		if a.Outcome == models.OutcomeSubmitted {
			s.SubmittedPnL = s.SubmittedPnL.Add(a.Profit())
		}
		// no quote, no profit
		if a.Outcome == models.OutcomeNoQuote {
			continue
		}
		if p := a.Profit(); first || p.GreaterThan(s.BestProfit) {
			s.BestProfit, first = p, false
		}
	}
	s.SubmitRate = float64(s.Outcomes[models.OutcomeSubmitted]) / float64(s.Total) * 100
	return s
}
