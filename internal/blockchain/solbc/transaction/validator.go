// internal/blockchain/solbc/transaction/validator.go
package transaction

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

type Validator struct {
	logger *zap.Logger
}

func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{
		logger: logger.Named("tx-validator"),
	}
}

// ValidateTransaction проверяет подписанную транзакцию и возвращает её размер в байтах.
func (v *Validator) ValidateTransaction(tx *solana.Transaction) (int, error) {
	if err := v.ValidateSignatures(tx); err != nil {
		return 0, err
	}

	if err := v.ValidateBlockhash(tx); err != nil {
		return 0, err
	}

	if err := v.ValidateInstructions(tx.Message.Instructions); err != nil {
		return 0, err
	}

	return v.ValidateSize(tx)
}

func (v *Validator) ValidateSignatures(tx *solana.Transaction) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) == 0 || len(tx.Signatures) != required {
		return fmt.Errorf("%w: have %d, need %d", ErrInvalidSignature, len(tx.Signatures), required)
	}
	for i, sig := range tx.Signatures {
		if sig.IsZero() {
			return fmt.Errorf("%w: signature %d is empty", ErrInvalidSignature, i)
		}
	}
	return nil
}

func (v *Validator) ValidateBlockhash(tx *solana.Transaction) error {
	if tx.Message.RecentBlockhash == (solana.Hash{}) {
		return ErrInvalidBlockhash
	}
	return nil
}

func (v *Validator) ValidateInstructions(instructions []solana.CompiledInstruction) error {
	if len(instructions) == 0 {
		return ErrInvalidInstruction
	}
	return nil
}

// ValidateSize сериализует транзакцию и сверяет размер с MaxTransactionSize.
func (v *Validator) ValidateSize(tx *solana.Transaction) (int, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("serialize transaction: %w", err)
	}
	if len(raw) > MaxTransactionSize {
		v.logger.Debug("Transaction too large",
			zap.Int("size", len(raw)),
			zap.Int("accounts", len(tx.Message.AccountKeys)),
			zap.Int("lookups", len(tx.Message.AddressTableLookups)))
		return len(raw), fmt.Errorf("%w: %d > %d bytes", ErrTransactionTooLarge, len(raw), MaxTransactionSize)
	}
	return len(raw), nil
}
