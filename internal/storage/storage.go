// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/rovshanmuradov/flashloan-arb/internal/storage/models"
)

var ErrMigrationInProgress = errors.New("another migration is in progress")

// Journal stores the history of arbitrage attempts.
type Journal interface {
	SaveAttempt(ctx context.Context, attempt *models.ArbitrageAttempt) error
	// ListAttempts returns the newest attempts first. Empty mints match any pair.
	ListAttempts(ctx context.Context, inputMint, outputMint string, limit int) ([]*models.ArbitrageAttempt, error)

	RunMigrations() error
	Close() error
}
