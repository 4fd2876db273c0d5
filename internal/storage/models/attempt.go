// internal/storage/models/attempt.go
package models

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Outcomes of one arbitrage loop iteration.
const (
	OutcomeNoQuote      = "no_quote"
	OutcomeUnprofitable = "unprofitable"
	OutcomeSubmitted    = "submitted"
	OutcomeFailed       = "failed"
)

// ArbitrageAttempt is one evaluated opportunity of the arbitrage loop.
type ArbitrageAttempt struct {
	BaseModel
	AttemptID    string    `gorm:"uniqueIndex;not null;type:varchar(36)"`
	Mode         string    `gorm:"not null;type:varchar(20)"`
	InputMint    string    `gorm:"index:idx_attempt_pair;not null;type:varchar(44)"`
	OutputMint   string    `gorm:"index:idx_attempt_pair;not null;type:varchar(44)"`
	AmountIn     uint64    `gorm:"type:numeric(20,0);not null"`
	BuyOut       uint64    `gorm:"type:numeric(20,0)"`
	SellOut      uint64    `gorm:"type:numeric(20,0)"`
	Repayment    uint64    `gorm:"type:numeric(20,0)"`
	Profitable   bool      `gorm:"not null;default:false"`
	Outcome      string    `gorm:"index;not null;type:varchar(20)"`
	Signature    string    `gorm:"type:varchar(88)"`
	LookupTable  string    `gorm:"type:varchar(44)"`
	Keys         int       `gorm:"default:0"`
	MissingKeys  int       `gorm:"default:0"`
	ErrorMessage string    `gorm:"type:text"`
	DurationMs   int64     `gorm:"default:0"`
	EvaluatedAt  time.Time `gorm:"index;not null"`
}

// Profit returns SellOut - Repayment in base units, negative when the trade
// would lose. It is exact over the whole uint64 range of both amounts.
func (a *ArbitrageAttempt) Profit() decimal.Decimal {
	return baseUnits(a.SellOut).Sub(baseUnits(a.Repayment))
}

func baseUnits(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
