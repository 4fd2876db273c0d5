// internal/arbitrage/sequencer.go
package arbitrage

import (
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solana/programs/computebudget"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
)

var ErrIncompletePlan = errors.New("flash loan plan has no borrow or repay instruction")

// Slot is the position of an instruction group in the atomic transaction.
type Slot int

const (
	SlotBuySetup Slot = iota
	SlotLoanSetup
	SlotBorrow
	SlotBuySwap
	SlotSellSetup
	SlotSellSwap
	SlotRepay
	SlotBuyCleanup
	SlotSellCleanup
)

var slotNames = [...]string{
	"buy-setup", "loan-setup", "borrow", "buy-swap", "sell-setup",
	"sell-swap", "repay", "buy-cleanup", "sell-cleanup",
}

func (s Slot) String() string {
	if s < 0 || int(s) >= len(slotNames) {
		return "unknown"
	}
	return slotNames[s]
}

// slotOrder is the execution order of one borrow/swap/repay cycle.
var slotOrder = []Slot{
	SlotBuySetup,
	SlotLoanSetup,
	SlotBorrow,
	SlotBuySwap,
	SlotSellSetup,
	SlotSellSwap,
	SlotRepay,
	SlotBuyCleanup,
	SlotSellCleanup,
}

// Sequence is an ordered instruction list ready to be compiled.
type Sequence struct {
	Instructions []solana.Instruction
	// Keys are the account metas of Instructions, first appearance order, no duplicates.
	Keys []solana.PublicKey
	// ComputeBudget reports whether Instructions[0] is a compute-budget instruction.
	ComputeBudget bool
	// ComputeUnits is the hoisted unit limit, zero when none was requested.
	ComputeUnits uint32
}

// Sequencer places the loan and both swap legs into their slots.
type Sequencer struct{}

// Build orders plan, buy and sell into one atomic sequence.
//
// At most one compute-budget instruction survives and it is moved to index 0:
// the one leading the buy swap, else the one leading the sell swap. Any other
// compute-budget instruction is dropped.
func (Sequencer) Build(plan *model.FlashLoanPlan, buy, sell *model.SwapBundle) (*Sequence, error) {
	if plan == nil || plan.Borrow == nil || plan.Repay == nil {
		return nil, ErrIncompletePlan
	}
	if buy == nil {
		buy = &model.SwapBundle{}
	}
	if sell == nil {
		sell = &model.SwapBundle{}
	}

	buySwap, sellSwap := buy.Swap, sell.Swap
	var cb solana.Instruction
	if len(buySwap) > 0 && computebudget.IsComputeBudget(buySwap[0]) {
		cb, buySwap = buySwap[0], buySwap[1:]
	}
	if len(sellSwap) > 0 && computebudget.IsComputeBudget(sellSwap[0]) {
		if cb == nil {
			cb = sellSwap[0]
		}
		sellSwap = sellSwap[1:]
	}

	slots := map[Slot][]solana.Instruction{
		SlotBuySetup:    buy.Setup,
		SlotLoanSetup:   optional(plan.Setup),
		SlotBorrow:      {plan.Borrow},
		SlotBuySwap:     buySwap,
		SlotSellSetup:   sell.Setup,
		SlotSellSwap:    sellSwap,
		SlotRepay:       {plan.Repay},
		SlotBuyCleanup:  buy.Cleanup,
		SlotSellCleanup: sell.Cleanup,
	}

	seq := &Sequence{}
	if cb != nil {
		seq.Instructions = append(seq.Instructions, cb)
		seq.ComputeBudget = true
		seq.ComputeUnits, _ = computebudget.UnitLimit(cb)
	}
	for _, slot := range slotOrder {
		for _, ix := range slots[slot] {
			if ix == nil || computebudget.IsComputeBudget(ix) {
				continue
			}
			seq.Instructions = append(seq.Instructions, ix)
		}
	}
	seq.Keys = UniqueKeys(seq.Instructions...)
	return seq, nil
}

func optional(ix solana.Instruction) []solana.Instruction {
	if ix == nil {
		return nil
	}
	return []solana.Instruction{ix}
}

// AccountKeys returns every account meta of ixs, duplicates included.
func AccountKeys(ixs ...solana.Instruction) []solana.PublicKey {
	var keys []solana.PublicKey
	for _, ix := range ixs {
		if ix == nil {
			continue
		}
		for _, meta := range ix.Accounts() {
			keys = append(keys, meta.PublicKey)
		}
	}
	return keys
}

// UniqueKeys returns the account metas of ixs in first appearance order.
func UniqueKeys(ixs ...solana.Instruction) []solana.PublicKey {
	return uniquePublicKeys(AccountKeys(ixs...))
}

func uniquePublicKeys(keys []solana.PublicKey) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{}, len(keys))
	out := make([]solana.PublicKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
