// internal/blockchain/solana/programs/lookuptable/instructions.go
package lookuptable

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var ProgramID = solana.MustPublicKeyFromBase58("AddressLookupTab1e1111111111111111111111111")

// Instruction indexes of the address lookup table program.
const (
	CreateLookupTable     uint32 = 0
	FreezeLookupTable     uint32 = 1
	ExtendLookupTable     uint32 = 2
	DeactivateLookupTable uint32 = 3
	CloseLookupTable      uint32 = 4
)

const (
	// MaxAddresses is the capacity of one table.
	MaxAddresses = 256
	// MaxExtendBatch is how many addresses one extend instruction carries
	// while its transaction stays under the packet size limit.
	MaxExtendBatch = 20
	// MaxTablesPerTx bounds deactivate/close instructions per transaction.
	MaxTablesPerTx = 10
)

// DeriveAddress returns the table address for authority and the recent slot
// used at creation, plus the bump seed.
func DeriveAddress(authority solana.PublicKey, recentSlot uint64) (solana.PublicKey, uint8, error) {
	slot := make([]byte, 8)
	binary.LittleEndian.PutUint64(slot, recentSlot)
	return solana.FindProgramAddress([][]byte{authority[:], slot}, ProgramID)
}

type CreateInstruction struct {
	Authority  solana.PublicKey
	Payer      solana.PublicKey
	RecentSlot uint64
}

// Build returns the create instruction and the address of the new table.
func (instr *CreateInstruction) Build() (solana.Instruction, solana.PublicKey, error) {
	table, bump, err := DeriveAddress(instr.Authority, instr.RecentSlot)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("derive table address: %w", err)
	}

	buf := new(bytes.Buffer)
	for _, v := range []any{CreateLookupTable, instr.RecentSlot, bump} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, solana.PublicKey{}, err
		}
	}

	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(table).WRITE(),
		solana.Meta(instr.Authority).SIGNER(),
		solana.Meta(instr.Payer).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, buf.Bytes()), table, nil
}

type ExtendInstruction struct {
	Table     solana.PublicKey
	Authority solana.PublicKey
	Payer     solana.PublicKey
	Addresses []solana.PublicKey
}

func (instr *ExtendInstruction) Build() (solana.Instruction, error) {
	if len(instr.Addresses) == 0 {
		return nil, fmt.Errorf("extend %s: no addresses", instr.Table)
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, ExtendLookupTable); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint64(len(instr.Addresses))); err != nil {
		return nil, err
	}
	for _, a := range instr.Addresses {
		buf.Write(a[:])
	}

	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(instr.Table).WRITE(),
		solana.Meta(instr.Authority).SIGNER(),
		solana.Meta(instr.Payer).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, buf.Bytes()), nil
}

type DeactivateInstruction struct {
	Table     solana.PublicKey
	Authority solana.PublicKey
}

func (instr *DeactivateInstruction) Build() (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, DeactivateLookupTable); err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(instr.Table).WRITE(),
		solana.Meta(instr.Authority).SIGNER(),
	}, buf.Bytes()), nil
}

type CloseInstruction struct {
	Table     solana.PublicKey
	Authority solana.PublicKey
	Recipient solana.PublicKey
}

func (instr *CloseInstruction) Build() (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, CloseLookupTable); err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(instr.Table).WRITE(),
		solana.Meta(instr.Authority).SIGNER(),
		solana.Meta(instr.Recipient).WRITE(),
	}, buf.Bytes()), nil
}
