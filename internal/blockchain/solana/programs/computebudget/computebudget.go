// internal/blockchain/solana/programs/computebudget/computebudget.go
package computebudget

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var ProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	RequestUnitsDeprecated uint8 = 0
	RequestHeapFrame       uint8 = 1
	SetComputeUnitLimit    uint8 = 2
	SetComputeUnitPrice    uint8 = 3
)

type SetComputeUnitLimitInstruction struct {
	Units uint32
}

type SetComputeUnitPriceInstruction struct {
	MicroLamports uint64
}

// IsComputeBudget reports whether ix targets the compute budget program.
func IsComputeBudget(ix solana.Instruction) bool {
	if ix == nil {
		return false
	}
	return ix.ProgramID().Equals(ProgramID)
}

func encode(discriminator uint8, write func(enc *bin.Encoder) error) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint8(discriminator); err != nil {
		return nil, err
	}
	if err := write(enc); err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{}, buf.Bytes()), nil
}

// Build encodes a SetComputeUnitLimit instruction.
func (instr *SetComputeUnitLimitInstruction) Build() (solana.Instruction, error) {
	return encode(SetComputeUnitLimit, func(enc *bin.Encoder) error {
		return enc.WriteUint32(instr.Units, bin.LE)
	})
}

// Build encodes a SetComputeUnitPrice instruction.
func (instr *SetComputeUnitPriceInstruction) Build() (solana.Instruction, error) {
	return encode(SetComputeUnitPrice, func(enc *bin.Encoder) error {
		return enc.WriteUint64(instr.MicroLamports, bin.LE)
	})
}

// UnitLimit returns the units requested by a SetComputeUnitLimit instruction.
func UnitLimit(ix solana.Instruction) (uint32, bool) {
	if !IsComputeBudget(ix) {
		return 0, false
	}
	data, err := ix.Data()
	if err != nil || len(data) != 5 || data[0] != SetComputeUnitLimit {
		return 0, false
	}
	units, err := bin.NewBinDecoder(data[1:]).ReadUint32(bin.LE)
	if err != nil {
		return 0, false
	}
	return units, true
}
