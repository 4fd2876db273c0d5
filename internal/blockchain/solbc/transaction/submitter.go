// internal/blockchain/solbc/transaction/submitter.go
package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain"
	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solbc"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
)

// Submitter собирает, подписывает, проверяет и отправляет транзакции.
// Повторы – на стороне вызывающего: каждая попытка берёт свежий blockhash.
type Submitter struct {
	client    blockchain.Client
	signer    Signer
	logger    *zap.Logger
	config    Config
	validator *Validator
	monitor   *Monitor
	metrics   *Metrics
	analyzer  *solbc.ErrorAnalyzer
}

func NewSubmitter(client blockchain.Client, signer Signer, logger *zap.Logger, config Config, monitor *Monitor, reg prometheus.Registerer) *Submitter {
	config = config.withDefaults()
	if monitor == nil {
		monitor = NewMonitor(client, logger, config, nil)
	}
	return &Submitter{
		client:    client,
		signer:    signer,
		logger:    logger.Named("tx-submitter"),
		config:    config,
		validator: NewValidator(logger),
		monitor:   monitor,
		metrics:   NewMetrics(reg),
		analyzer:  solbc.NewErrorAnalyzer(logger),
	}
}

// Payer – адрес, оплачивающий комиссии.
func (s *Submitter) Payer() solana.PublicKey {
	return s.signer.Address()
}

// Build компилирует и подписывает транзакцию. С таблицами получается v0 сообщение.
func (s *Submitter) Build(ctx context.Context, ixs []solana.Instruction, tables ...model.AddressTable) (*solana.Transaction, error) {
	if len(ixs) == 0 {
		return nil, ErrInvalidInstruction
	}

	blockhash, err := s.client.GetRecentBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	opts := []solana.TransactionOption{solana.TransactionPayer(s.signer.Address())}
	if m := model.TablesMap(tables); m != nil {
		opts = append(opts, solana.TransactionAddressTables(m))
	}

	tx, err := solana.NewTransaction(ixs, blockhash, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	if err := s.signer.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

// Send собирает транзакцию из ixs и отправляет её. Слишком большая транзакция
// возвращает ErrTransactionTooLarge, повтор её не исправит.
func (s *Submitter) Send(ctx context.Context, ixs []solana.Instruction, tables ...model.AddressTable) (sig solana.Signature, err error) {
	start := time.Now()
	defer func() {
		s.metrics.TrackTransaction(start)
		s.metrics.TrackResult(err)
	}()

	tx, err := s.Build(ctx, ixs, tables...)
	if err != nil {
		return solana.Signature{}, err
	}

	size, err := s.validator.ValidateTransaction(tx)
	if err != nil {
		s.logger.Error("Transaction validation failed", zap.Error(err))
		return solana.Signature{}, err
	}
	s.metrics.TrackSize(size)

	sig, err = s.client.SendTransactionWithOpts(ctx, tx, blockchain.TransactionOptions{
		SkipPreflight:       s.config.SkipPreflight,
		PreflightCommitment: s.config.Commitment,
	})
	if err != nil {
		failure := s.analyzer.Analyze(err)
		s.logger.Error("Failed to send transaction", append(failure.Fields(), zap.Error(err))...)
		if failure.ExceedsPacketSize {
			return solana.Signature{}, fmt.Errorf("%w: %v", ErrTransactionTooLarge, err)
		}
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	s.logger.Debug("Transaction sent",
		zap.String("signature", sig.String()),
		zap.Int("size", size),
		zap.Int("instructions", len(ixs)),
		zap.Int("lookup_tables", len(tables)))

	if !s.config.AwaitConfirmation {
		return sig, nil
	}

	status, err := s.monitor.AwaitConfirmation(ctx, sig)
	if err != nil {
		s.logger.Error("Transaction confirmation failed",
			zap.String("signature", sig.String()),
			zap.Error(err))
		return sig, err
	}
	s.logger.Debug("Transaction confirmed",
		zap.String("signature", sig.String()),
		zap.String("status", status.Status),
		zap.Uint64("slot", status.Slot))
	return sig, nil
}

// IsPermanent сообщает, что повтор отправки бессмысленен.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrTransactionTooLarge) ||
		errors.Is(err, ErrInvalidInstruction) ||
		errors.Is(err, ErrInvalidSignature)
}
