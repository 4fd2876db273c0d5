// Package model internal/dex/model/plan.go
package model

import (
	"github.com/gagliardetto/solana-go"
)

// FlashLoanPlan is what the loan program returns for one borrow/repay cycle.
// Setup is nil when no preparatory instruction is required.
type FlashLoanPlan struct {
	Setup           solana.Instruction
	Borrow          solana.Instruction
	Repay           solana.Instruction
	RepaymentAmount uint64 // base units, principal + fee
}

// RouteQuote is a swap router quote. Raw keeps the router payload untouched,
// it is sent back when requesting instructions.
type RouteQuote struct {
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	InAmount    uint64
	OutAmount   uint64
	SlippageBps uint16
	Label       string
	Raw         []byte
}

// SwapBundle groups the instructions of one quoted swap by slot.
type SwapBundle struct {
	Setup   []solana.Instruction
	Swap    []solana.Instruction
	Cleanup []solana.Instruction
	// Lookup tables the router itself requires for this route.
	LookupTables []solana.PublicKey
}

// All returns the bundle flattened in execution order.
func (b SwapBundle) All() []solana.Instruction {
	out := make([]solana.Instruction, 0, len(b.Setup)+len(b.Swap)+len(b.Cleanup))
	out = append(out, b.Setup...)
	out = append(out, b.Swap...)
	return append(out, b.Cleanup...)
}

// AddressTable is a resolved lookup table used to compile a v0 message.
type AddressTable struct {
	Address   solana.PublicKey
	Addresses solana.PublicKeySlice
}

// TablesMap converts tables into the form solana-go expects.
func TablesMap(tables []AddressTable) map[solana.PublicKey]solana.PublicKeySlice {
	if len(tables) == 0 {
		return nil
	}
	m := make(map[solana.PublicKey]solana.PublicKeySlice, len(tables))
	for _, t := range tables {
		m[t.Address] = t.Addresses
	}
	return m
}
