// internal/arbitrage/examples.go
package arbitrage

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/flashloan-arb/internal/cache"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
	"github.com/rovshanmuradov/flashloan-arb/internal/lookuptable"
)

// Converger fills the table of a key cache with its keys.
type Converger interface {
	Converge(ctx context.Context, name string) (*lookuptable.ConvergeResult, error)
}

// Examples runs a bare borrow/repay against the loan program, first as a
// legacy transaction, then packed with a lookup table seeded from its keys.
type Examples struct {
	lender    Lender
	sender    lookuptable.Sender
	tables    Tables
	converger Converger
	store     cache.Store
	registry  *cache.Registry
	names     cache.Names
	logger    *zap.Logger
}

func NewExamples(deps Deps, converger Converger, registry *cache.Registry, names cache.Names, logger *zap.Logger) *Examples {
	return &Examples{
		lender:    deps.Lender,
		sender:    deps.Sender,
		tables:    deps.Tables,
		converger: converger,
		store:     deps.Store,
		registry:  registry,
		names:     names,
		logger:    logger.Named("examples"),
	}
}

func loanInstructions(plan *model.FlashLoanPlan) []solana.Instruction {
	return append(optional(plan.Setup), plan.Borrow, plan.Repay)
}

// FlashLoan borrows amount of mint and repays it in one legacy transaction.
func (e *Examples) FlashLoan(ctx context.Context, mint solana.PublicKey, amount uint64, referral *solana.PublicKey) (solana.Signature, error) {
	plan, err := e.lender.Plan(ctx, mint, amount, referral)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := e.sender.Send(ctx, loanInstructions(plan))
	if err != nil {
		return solana.Signature{}, err
	}
	e.logger.Info("Flash loan sent",
		zap.String("signature", sig.String()),
		zap.Uint64("repayment", plan.RepaymentAmount))
	return sig, nil
}

// SeedKeys records the account keys of the example loan into its key cache.
func (e *Examples) SeedKeys(ctx context.Context, mint solana.PublicKey, amount uint64, referral *solana.PublicKey) (*cache.KeyCache, error) {
	plan, err := e.lender.Plan(ctx, mint, amount, referral)
	if err != nil {
		return nil, err
	}

	name := e.names.ExampleKeys(mint)
	unlock := e.store.Lock(name)
	defer unlock()

	c, err := cache.LoadKeyCache(e.store, name)
	if err != nil {
		return nil, err
	}
	c.Record(AccountKeys(loanInstructions(plan)...)...)
	if err := e.store.Save(name, c); err != nil {
		return nil, fmt.Errorf("save key cache %s: %w", name, err)
	}

	if addr, ok := c.LookupTable(); ok && e.registry != nil {
		if err := e.registry.Add(addr); err != nil {
			return c, err
		}
	}
	e.logger.Info("Example keys saved", zap.String("cache", name), zap.Int("keys", c.Len()))
	return c, nil
}

// CreateTable converges the example lookup table with the seeded keys.
func (e *Examples) CreateTable(ctx context.Context, mint solana.PublicKey) (*lookuptable.ConvergeResult, error) {
	return e.converger.Converge(ctx, e.names.ExampleKeys(mint))
}

// FlashLoanWithTable sends the example loan as a v0 transaction using the
// table recorded in the example key cache.
func (e *Examples) FlashLoanWithTable(ctx context.Context, mint solana.PublicKey, amount uint64, referral *solana.PublicKey) (solana.Signature, error) {
	name := e.names.ExampleKeys(mint)
	c, err := cache.LoadKeyCache(e.store, name)
	if err != nil {
		return solana.Signature{}, err
	}
	addr, ok := c.LookupTable()
	if !ok {
		return solana.Signature{}, fmt.Errorf("%w: no table in %s", ErrLookupTableMissing, name)
	}
	table, err := e.tables.Load(ctx, addr)
	if errors.Is(err, lookuptable.ErrTableNotFound) {
		return solana.Signature{}, fmt.Errorf("%w: %w", ErrLookupTableMissing, err)
	}
	if err != nil {
		return solana.Signature{}, err
	}

	plan, err := e.lender.Plan(ctx, mint, amount, referral)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := e.sender.Send(ctx, loanInstructions(plan), model.AddressTable{Address: table.Address, Addresses: table.Addresses})
	if err != nil {
		return solana.Signature{}, err
	}
	e.logger.Info("Flash loan sent with lookup table",
		zap.String("signature", sig.String()),
		zap.String("table", addr.String()))
	return sig, nil
}
