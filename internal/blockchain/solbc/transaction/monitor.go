// internal/blockchain/solbc/transaction/monitor.go
package transaction

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain"
)

type Monitor struct {
	client blockchain.Client
	logger *zap.Logger
	config Config
	clock  clockwork.Clock
}

func NewMonitor(client blockchain.Client, logger *zap.Logger, config Config, clock clockwork.Clock) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		client: client,
		logger: logger.Named("tx-monitor"),
		config: config.withDefaults(),
		clock:  clock,
	}
}

// GetTransactionStatus возвращает текущий статус подписи; неизвестная подпись – "pending".
func (m *Monitor) GetTransactionStatus(ctx context.Context, signature solana.Signature) (*Status, error) {
	response, err := m.client.GetSignatureStatuses(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction status: %w", err)
	}

	if response == nil || len(response.Value) == 0 || response.Value[0] == nil {
		return &Status{
			Signature: signature.String(),
			Status:    "pending",
			Timestamp: m.clock.Now(),
		}, nil
	}

	status := response.Value[0]
	txStatus := &Status{
		Signature: signature.String(),
		Timestamp: m.clock.Now(),
		Slot:      status.Slot,
	}

	if status.Confirmations != nil {
		txStatus.Confirmations = *status.Confirmations
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		txStatus.Status = "finalized"
	case rpc.ConfirmationStatusConfirmed:
		txStatus.Status = "confirmed"
	default:
		txStatus.Status = "pending"
	}

	if status.Err != nil {
		txStatus.Error = fmt.Sprintf("%v", status.Err)
		txStatus.Status = "failed"
	}

	return txStatus, nil
}

func (m *Monitor) confirmed(s *Status) bool {
	switch s.Status {
	case "finalized", "failed":
		return true
	case "confirmed":
		return m.config.Commitment != rpc.CommitmentFinalized
	}
	return s.Confirmations >= uint64(m.config.MinConfirmations)
}

// AwaitConfirmation опрашивает статус до подтверждения, таймаута или отмены ctx.
// Упавшая в сети транзакция возвращает ErrTransactionFailed вместе со статусом.
func (m *Monitor) AwaitConfirmation(ctx context.Context, signature solana.Signature) (*Status, error) {
	ticker := m.clock.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	deadline := m.clock.After(m.config.ConfirmationTime)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("%w: %s", ErrConfirmationTimeout, signature)
		case <-ticker.Chan():
			status, err := m.GetTransactionStatus(ctx, signature)
			if err != nil {
				m.logger.Warn("Confirmation check failed", zap.Error(err))
				continue
			}
			if !m.confirmed(status) {
				continue
			}
			if status.Status == "failed" {
				return status, fmt.Errorf("%w: %s: %s", ErrTransactionFailed, signature, status.Error)
			}
			return status, nil
		}
	}
}
