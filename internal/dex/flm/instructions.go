// =============================
// File: internal/dex/flm/instructions.go
// =============================
package flm

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID – Flash Loan Mastery в mainnet и devnet.
var DefaultProgramID = solana.MustPublicKeyFromBase58("1oanfPPN8r1i4UbugXHDxWMbWVJ5qLSN5qzNFZkz6Fg")

const (
	poolAuthoritySeed = "flash_loan"

	// Комиссия программы: 0.09% от суммы займа.
	loanFeeNumerator   = 900
	loanFeeDenominator = 1_000_000
)

// Дискриминаторы инструкций: sha256("global:<name>")[:8]
var (
	initPoolDiscriminator = anchorDiscriminator("init_pool")
	depositDiscriminator  = anchorDiscriminator("deposit")
	withdrawDiscriminator = anchorDiscriminator("withdraw")
	borrowDiscriminator   = anchorDiscriminator("borrow")
	repayDiscriminator    = anchorDiscriminator("repay")
)

func anchorDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// RepaymentAmount – сумма к возврату: principal + комиссия, округлённая вверх.
func RepaymentAmount(amount uint64) uint64 {
	q, r := amount/loanFeeDenominator, amount%loanFeeDenominator
	fee := q*loanFeeNumerator + (r*loanFeeNumerator+loanFeeDenominator-1)/loanFeeDenominator
	return amount + fee
}

// PoolAuthority выводит PDA пула для mint.
func PoolAuthority(programID, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(poolAuthoritySeed), mint.Bytes()}, programID)
	return addr, err
}

// PoolAccounts – адреса, общие для всех инструкций пула.
type PoolAccounts struct {
	Mint          solana.PublicKey
	PoolAuthority solana.PublicKey
	BankToken     solana.PublicKey // ATA пула для mint
}

// DerivePoolAccounts вычисляет адреса пула для mint.
func DerivePoolAccounts(programID, mint solana.PublicKey) (PoolAccounts, error) {
	authority, err := PoolAuthority(programID, mint)
	if err != nil {
		return PoolAccounts{}, err
	}
	bank, _, err := solana.FindAssociatedTokenAddress(authority, mint)
	if err != nil {
		return PoolAccounts{}, err
	}
	return PoolAccounts{Mint: mint, PoolAuthority: authority, BankToken: bank}, nil
}

func amountData(discriminator []byte, amount uint64) []byte {
	data := make([]byte, 16) // 8 байт дискриминатор + 8 байт amount
	copy(data[0:8], discriminator)
	binary.LittleEndian.PutUint64(data[8:16], amount)
	return data
}

func createInitPoolInstruction(programID solana.PublicKey, pool PoolAccounts, funder, poolShareMint solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(programID, []*solana.AccountMeta{
		solana.NewAccountMeta(funder, true, true),
		solana.NewAccountMeta(pool.Mint, false, false),
		solana.NewAccountMeta(poolShareMint, true, false),
		solana.NewAccountMeta(funder, false, true), // authority минта долей пула
		solana.NewAccountMeta(pool.PoolAuthority, true, false),
		solana.NewAccountMeta(pool.BankToken, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, append([]byte(nil), initPoolDiscriminator...))
}

func createDepositInstruction(programID solana.PublicKey, pool PoolAccounts, depositor, tokenFrom, poolShareTokenTo, poolShareMint solana.PublicKey, amount uint64) solana.Instruction {
	return solana.NewInstruction(programID, []*solana.AccountMeta{
		solana.NewAccountMeta(depositor, false, true),
		solana.NewAccountMeta(tokenFrom, true, false),
		solana.NewAccountMeta(pool.BankToken, true, false),
		solana.NewAccountMeta(poolShareTokenTo, true, false),
		solana.NewAccountMeta(poolShareMint, true, false),
		solana.NewAccountMeta(pool.PoolAuthority, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, amountData(depositDiscriminator, amount))
}

func createWithdrawInstruction(programID solana.PublicKey, pool PoolAccounts, withdrawer, poolShareTokenFrom, tokenTo, poolShareMint solana.PublicKey, amount uint64) solana.Instruction {
	return solana.NewInstruction(programID, []*solana.AccountMeta{
		solana.NewAccountMeta(withdrawer, false, true),
		solana.NewAccountMeta(poolShareTokenFrom, true, false),
		solana.NewAccountMeta(tokenTo, true, false),
		solana.NewAccountMeta(pool.BankToken, true, false),
		solana.NewAccountMeta(poolShareMint, true, false),
		solana.NewAccountMeta(pool.PoolAuthority, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, amountData(withdrawDiscriminator, amount))
}

func createBorrowInstruction(programID solana.PublicKey, pool PoolAccounts, borrower, tokenTo solana.PublicKey, amount uint64) solana.Instruction {
	return solana.NewInstruction(programID, []*solana.AccountMeta{
		solana.NewAccountMeta(borrower, false, true),
		solana.NewAccountMeta(pool.PoolAuthority, false, false),
		solana.NewAccountMeta(pool.BankToken, true, false),
		solana.NewAccountMeta(tokenTo, true, false),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, amountData(borrowDiscriminator, amount))
}

// createRepayInstruction – referral, если задан, передаётся как remaining account.
func createRepayInstruction(programID solana.PublicKey, pool PoolAccounts, repayer, tokenFrom solana.PublicKey, referral *solana.PublicKey, amount uint64) solana.Instruction {
	accounts := []*solana.AccountMeta{
		solana.NewAccountMeta(repayer, false, true),
		solana.NewAccountMeta(tokenFrom, true, false),
		solana.NewAccountMeta(pool.BankToken, true, false),
		solana.NewAccountMeta(pool.PoolAuthority, true, false),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	if referral != nil {
		accounts = append(accounts, solana.NewAccountMeta(*referral, true, false))
	}
	return solana.NewInstruction(programID, accounts, amountData(repayDiscriminator, amount))
}
