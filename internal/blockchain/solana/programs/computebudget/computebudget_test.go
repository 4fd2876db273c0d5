package computebudget

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	limit, err := (&SetComputeUnitLimitInstruction{Units: 300_000}).Build()
	require.NoError(t, err)
	limitData, err := limit.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{SetComputeUnitLimit, 0xe0, 0x93, 0x04, 0x00}, limitData)

	price, err := (&SetComputeUnitPriceInstruction{MicroLamports: 5_000}).Build()
	require.NoError(t, err)
	priceData, err := price.Data()
	require.NoError(t, err)
	assert.Equal(t, SetComputeUnitPrice, priceData[0])
	assert.Len(t, priceData, 9)

	assert.True(t, IsComputeBudget(limit))
	assert.True(t, IsComputeBudget(price))
}

func TestIsComputeBudget(t *testing.T) {
	other := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{}, nil)
	assert.False(t, IsComputeBudget(other))
	assert.False(t, IsComputeBudget(nil))
}

func TestUnitLimit(t *testing.T) {
	limit, err := (&SetComputeUnitLimitInstruction{Units: 1_400_000}).Build()
	require.NoError(t, err)
	price, err := (&SetComputeUnitPriceInstruction{MicroLamports: 1_000}).Build()
	require.NoError(t, err)

	units, ok := UnitLimit(limit)
	require.True(t, ok)
	assert.Equal(t, uint32(1_400_000), units)

	_, ok = UnitLimit(price)
	assert.False(t, ok, "price instruction has no limit")
	_, ok = UnitLimit(nil)
	assert.False(t, ok)
}
