// internal/blockchain/solbc/transaction/types.go
package transaction

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	ErrConfirmationTimeout = errors.New("transaction confirmation timeout")
	ErrInvalidSignature    = errors.New("invalid transaction signature")
	ErrInvalidBlockhash    = errors.New("invalid blockhash")
	ErrInvalidInstruction  = errors.New("invalid instruction")
	ErrTransactionTooLarge = errors.New("transaction exceeds packet size")
	ErrTransactionFailed   = errors.New("transaction failed on chain")
)

// MaxTransactionSize – лимит сериализованной транзакции (IPv6 MTU минус заголовки).
const MaxTransactionSize = 1232

// Signer подписывает транзакции; его адрес используется как fee payer.
type Signer interface {
	Address() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
}

type Config struct {
	ConfirmationTime time.Duration
	PollInterval     time.Duration
	SkipPreflight    bool
	Commitment       rpc.CommitmentType
	MinConfirmations uint8
	// AwaitConfirmation – ждать подтверждения после отправки.
	AwaitConfirmation bool
}

func (c Config) withDefaults() Config {
	if c.ConfirmationTime == 0 {
		c.ConfirmationTime = 60 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Commitment == "" {
		c.Commitment = rpc.CommitmentConfirmed
	}
	if c.MinConfirmations == 0 {
		c.MinConfirmations = 1
	}
	return c
}

type Status struct {
	Signature     string
	Status        string
	Confirmations uint64
	Slot          uint64
	Error         string
	Timestamp     time.Time
}
