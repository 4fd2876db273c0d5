package model

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
)

func TestSwapBundleAllKeepsSlotOrder(t *testing.T) {
	mk := func(b byte) solana.Instruction {
		return solana.NewInstruction(solana.SystemProgramID, nil, []byte{b})
	}
	b := SwapBundle{
		Setup:   []solana.Instruction{mk(1)},
		Swap:    []solana.Instruction{mk(2), mk(3)},
		Cleanup: []solana.Instruction{mk(4)},
	}

	all := b.All()
	assert.Len(t, all, 4)
	for i, ix := range all {
		data, err := ix.Data()
		assert.NoError(t, err)
		assert.Equal(t, []byte{byte(i + 1)}, data)
	}
}

func TestTablesMap(t *testing.T) {
	assert.Nil(t, TablesMap(nil))

	addr := solana.NewWallet().PublicKey()
	key := solana.NewWallet().PublicKey()
	m := TablesMap([]AddressTable{{Address: addr, Addresses: solana.PublicKeySlice{key}}})
	assert.Equal(t, solana.PublicKeySlice{key}, m[addr])
}
