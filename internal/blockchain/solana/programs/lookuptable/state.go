// internal/blockchain/solana/programs/lookuptable/state.go
package lookuptable

import (
	"errors"
	"fmt"
	"math"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
)

// Account type index of an initialized table.
const typeLookupTable uint32 = 1

var (
	ErrNotLookupTable = errors.New("account is not an initialized lookup table")
)

// Table is the decoded on-chain state of one lookup table.
type Table struct {
	Address          solana.PublicKey
	Authority        *solana.PublicKey
	DeactivationSlot uint64
	LastExtendedSlot uint64
	Addresses        solana.PublicKeySlice
}

// Decode parses raw account data of the table at addr.
func Decode(addr solana.PublicKey, data []byte) (*Table, error) {
	state, err := addresslookuptable.DecodeAddressLookupTableState(data)
	if err != nil {
		return nil, fmt.Errorf("decode lookup table %s: %w", addr, err)
	}
	if state.TypeIndex != typeLookupTable {
		return nil, fmt.Errorf("%w: %s (type %d)", ErrNotLookupTable, addr, state.TypeIndex)
	}
	return &Table{
		Address:          addr,
		Authority:        state.Authority,
		DeactivationSlot: state.DeactivationSlot,
		LastExtendedSlot: state.LastExtendedSlot,
		Addresses:        state.Addresses,
	}, nil
}

// MarshalBinary encodes the table in the on-chain account layout.
func (t *Table) MarshalBinary() ([]byte, error) {
	state := addresslookuptable.AddressLookupTableState{
		TypeIndex:        typeLookupTable,
		DeactivationSlot: t.DeactivationSlot,
		LastExtendedSlot: t.LastExtendedSlot,
		Authority:        t.Authority,
		Addresses:        t.Addresses,
	}
	return bin.MarshalBin(state)
}

// NewActive returns an empty, active table.
func NewActive(addr, authority solana.PublicKey) *Table {
	return &Table{
		Address:          addr,
		Authority:        &authority,
		DeactivationSlot: math.MaxUint64,
		Addresses:        solana.PublicKeySlice{},
	}
}

func (t *Table) IsActive() bool {
	return t.DeactivationSlot == math.MaxUint64
}

// CanClose reports whether the deactivation cooldown has passed at currentSlot.
func (t *Table) CanClose(currentSlot uint64) bool {
	return !t.IsActive() && currentSlot > t.DeactivationSlot
}

// Remaining is the number of addresses the table can still take.
func (t *Table) Remaining() int {
	return MaxAddresses - len(t.Addresses)
}

// Contains returns the table contents as a lookup set.
func (t *Table) Contains() map[solana.PublicKey]struct{} {
	set := make(map[solana.PublicKey]struct{}, len(t.Addresses))
	for _, a := range t.Addresses {
		set[a] = struct{}{}
	}
	return set
}
