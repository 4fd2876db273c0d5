package logger

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoggerWritesConsoleAndJSONFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "arb.log")
	l, err := New(&Config{LogFile: path, MaxSize: 1, Console: &console})
	require.NoError(t, err)

	l.WithCommand("simple-jupiter-arb", "devnet").Info("started")
	l.Debug("hidden")
	require.NoError(t, l.Close())

	assert.Contains(t, console.String(), "started")
	assert.NotContains(t, console.String(), "hidden")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var entry map[string]any
	require.NoError(t, jsoniter.Unmarshal(scanner.Bytes(), &entry))
	assert.Equal(t, "started", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "simple-jupiter-arb", entry["operation"])
	assert.Equal(t, "devnet", entry["network"])
	assert.NotEmpty(t, entry["correlation_id"])
	assert.NotEmpty(t, entry["timestamp"])
	assert.False(t, scanner.Scan())
}

func TestDevelopmentLevelAndPairFields(t *testing.T) {
	var console bytes.Buffer
	l, err := New(&Config{Development: true, Console: &console})
	require.NoError(t, err)

	in, out := solana.SolMint, solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	WithPair(l.Logger, in, out).Debug("quote")
	done := l.TrackPerformance("quote")
	done()

	s := console.String()
	assert.Contains(t, s, "quote")
	assert.Contains(t, s, in.String())
	assert.Contains(t, s, "Operation completed")
}

func TestLogError(t *testing.T) {
	var console bytes.Buffer
	l, err := New(&Config{Console: &console})
	require.NoError(t, err)

	l.LogError("Command failed", errors.New("rpc down"), zap.String("command", "wrap-native"))

	s := console.String()
	assert.Contains(t, s, "Command failed")
	assert.Contains(t, s, "rpc down")
	assert.Contains(t, s, "wrap-native")
}
