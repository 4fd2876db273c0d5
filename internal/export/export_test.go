package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/flashloan-arb/internal/storage/models"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func attempt(id string, minute int, outcome string, sellOut uint64) *models.ArbitrageAttempt {
	return &models.ArbitrageAttempt{
		AttemptID:   id,
		Mode:        "cached",
		InputMint:   "in",
		OutputMint:  "out",
		AmountIn:    1_000_000,
		SellOut:     sellOut,
		Repayment:   1_000_900,
		Profitable:  sellOut > 1_000_900,
		Outcome:     outcome,
		EvaluatedAt: start.Add(time.Duration(minute) * time.Minute),
	}
}

func testAttempts() []*models.ArbitrageAttempt {
	// the journal returns newest first
	return []*models.ArbitrageAttempt{
		attempt("d", 3, models.OutcomeFailed, 1_001_500),
		attempt("c", 2, models.OutcomeNoQuote, 0),
		attempt("b", 1, models.OutcomeSubmitted, 1_002_000),
		attempt("a", 0, models.OutcomeUnprofitable, 999_000),
	}
}

func newExporter(t *testing.T) *AttemptExporter {
	return NewAttemptExporter(clockwork.NewFakeClockAt(start.Add(time.Hour)), zaptest.NewLogger(t))
}

func TestExportCSV(t *testing.T) {
	dir := t.TempDir()
	path, err := newExporter(t).Export(testAttempts(), Options{Format: FormatCSV, OutputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "attempts_all_20240301_130000.csv"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 5)
	assert.Equal(t, CSVHeaders(), rows[0])
	ids := []string{rows[1][0], rows[2][0], rows[3][0], rows[4][0]}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	assert.Equal(t, "1100", rows[2][9])  // profit of b
	assert.Equal(t, "-1900", rows[1][9]) // profit of a
}

func TestExportJSONFilters(t *testing.T) {
	dir := t.TempDir()
	path, err := newExporter(t).Export(testAttempts(), Options{
		Format:         FormatJSON,
		OnlyProfitable: true,
		OutputDir:      dir,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got struct {
		Summary  Summary                    `json:"summary"`
		Attempts []*models.ArbitrageAttempt `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, "b", got.Attempts[0].AttemptID)
	assert.Equal(t, 2, got.Summary.Total)
	assert.Equal(t, "1100", got.Summary.BestProfit.String())
}

func TestExportNothingMatches(t *testing.T) {
	_, err := newExporter(t).Export(testAttempts(), Options{
		Format:    FormatCSV,
		Since:     start.Add(time.Hour),
		OutputDir: t.TempDir(),
	})
	require.Error(t, err)
}

func TestExportOutcomeFilename(t *testing.T) {
	path, err := newExporter(t).Export(testAttempts(), Options{
		Format:    FormatCSV,
		Outcome:   models.OutcomeSubmitted,
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, "attempts_submitted_20240301_130000.csv", filepath.Base(path))
}

func TestSummarize(t *testing.T) {
	attempts := testAttempts()
	for i, j := 0, len(attempts)-1; i < j; i, j = i+1, j-1 {
		attempts[i], attempts[j] = attempts[j], attempts[i]
	}
	s := Summarize(attempts)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Profitable)
	assert.Equal(t, map[string]int{
		models.OutcomeUnprofitable: 1,
		models.OutcomeSubmitted:    1,
		models.OutcomeNoQuote:      1,
		models.OutcomeFailed:       1,
	}, s.Outcomes)
	assert.InDelta(t, 25.0, s.SubmitRate, 1e-9)
	assert.Equal(t, "1100", s.BestProfit.String())
	assert.Equal(t, "1100", s.SubmittedPnL.String())
	assert.Equal(t, start, s.StartDate)
	assert.Equal(t, start.Add(3*time.Minute), s.EndDate)

	assert.Zero(t, Summarize(nil).Total)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = ParseFormat("xml")
	require.Error(t, err)
}
