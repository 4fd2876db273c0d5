// =============================
// File: internal/dex/flm/client.go
// =============================
package flm

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
	"github.com/rovshanmuradov/flashloan-arb/internal/wallet"
)

// Client строит инструкции программы flash loan для одного кошелька.
type Client struct {
	programID solana.PublicKey
	client    blockchain.Client
	wallet    *wallet.Wallet
	accounts  *wallet.TokenAccounts
	logger    *zap.Logger
}

func NewClient(programID solana.PublicKey, client blockchain.Client, w *wallet.Wallet, logger *zap.Logger) *Client {
	if programID.IsZero() {
		programID = DefaultProgramID
	}
	return &Client{
		programID: programID,
		client:    client,
		wallet:    w,
		accounts:  wallet.NewTokenAccounts(client, w, logger),
		logger:    logger.Named("flm"),
	}
}

func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

// Decimals читает количество знаков mint.
func (c *Client) Decimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	var m token.Mint
	if err := c.client.GetAccountDataInto(ctx, mint, &m); err != nil {
		return 0, fmt.Errorf("failed to load mint %s: %w", mint, err)
	}
	return m.Decimals, nil
}

// ToBaseUnits переводит UI сумму в минимальные единицы mint.
func (c *Client) ToBaseUnits(ctx context.Context, mint solana.PublicKey, amount decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive, got %s", amount)
	}
	decimals, err := c.Decimals(ctx, mint)
	if err != nil {
		return 0, err
	}
	return amount.Shift(int32(decimals)).Floor().BigInt().Uint64(), nil
}

// Plan строит borrow/repay для займа amount (минимальные единицы) в mint.
// С referral в repay добавляется его ATA; если ATA нет, Setup её создаёт.
func (c *Client) Plan(ctx context.Context, mint solana.PublicKey, amount uint64, referral *solana.PublicKey) (*model.FlashLoanPlan, error) {
	pool, err := DerivePoolAccounts(c.programID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive pool accounts: %w", err)
	}
	tokenTo, err := c.wallet.GetATA(mint)
	if err != nil {
		return nil, err
	}

	plan := &model.FlashLoanPlan{RepaymentAmount: RepaymentAmount(amount)}

	var referralATA *solana.PublicKey
	if referral != nil {
		create, ata, err := wallet.CreateAssociatedTokenAccountIdempotentInstruction(c.wallet.PublicKey, *referral, mint)
		if err != nil {
			return nil, err
		}
		exists, err := c.accounts.Exists(ctx, ata)
		if err != nil {
			return nil, fmt.Errorf("check referral token account: %w", err)
		}
		if !exists {
			plan.Setup = create
		}
		referralATA = &ata
	}

	plan.Borrow = createBorrowInstruction(c.programID, pool, c.wallet.PublicKey, tokenTo, amount)
	plan.Repay = createRepayInstruction(c.programID, pool, c.wallet.PublicKey, tokenTo, referralATA, plan.RepaymentAmount)

	c.logger.Debug("Flash loan planned",
		zap.String("mint", mint.String()),
		zap.Uint64("amount", amount),
		zap.Uint64("repayment", plan.RepaymentAmount),
		zap.Bool("setup", plan.Setup != nil))
	return plan, nil
}

// PoolResult – инструкции операции над пулом и задействованные адреса.
type PoolResult struct {
	Instructions   []solana.Instruction
	Pool           PoolAccounts
	PoolShareToken solana.PublicKey
}

// InitPool создаёт пул для tokenMint; poolShareMint должен принадлежать кошельку.
func (c *Client) InitPool(tokenMint, poolShareMint solana.PublicKey) (*PoolResult, error) {
	pool, err := DerivePoolAccounts(c.programID, tokenMint)
	if err != nil {
		return nil, err
	}
	return &PoolResult{
		Instructions: []solana.Instruction{createInitPoolInstruction(c.programID, pool, c.wallet.PublicKey, poolShareMint)},
		Pool:         pool,
	}, nil
}

// Deposit вносит amount (UI) из tokenFrom; доли пула зачисляются на ATA кошелька.
func (c *Client) Deposit(ctx context.Context, mint, poolShareMint, tokenFrom solana.PublicKey, amount decimal.Decimal) (*PoolResult, error) {
	base, err := c.ToBaseUnits(ctx, mint, amount)
	if err != nil {
		return nil, err
	}
	pool, err := DerivePoolAccounts(c.programID, mint)
	if err != nil {
		return nil, err
	}
	createShare, shareATA, err := wallet.CreateAssociatedTokenAccountIdempotentInstruction(c.wallet.PublicKey, c.wallet.PublicKey, poolShareMint)
	if err != nil {
		return nil, err
	}
	return &PoolResult{
		Instructions: []solana.Instruction{
			createShare,
			createDepositInstruction(c.programID, pool, c.wallet.PublicKey, tokenFrom, shareATA, poolShareMint, base),
		},
		Pool:           pool,
		PoolShareToken: shareATA,
	}, nil
}

// Withdraw сжигает amount (UI) долей из poolShareTokenFrom и возвращает токены на ATA кошелька.
func (c *Client) Withdraw(ctx context.Context, mint, poolShareMint, poolShareTokenFrom solana.PublicKey, amount decimal.Decimal) (*PoolResult, error) {
	base, err := c.ToBaseUnits(ctx, mint, amount)
	if err != nil {
		return nil, err
	}
	pool, err := DerivePoolAccounts(c.programID, mint)
	if err != nil {
		return nil, err
	}
	createTo, tokenTo, err := wallet.CreateAssociatedTokenAccountIdempotentInstruction(c.wallet.PublicKey, c.wallet.PublicKey, mint)
	if err != nil {
		return nil, err
	}
	return &PoolResult{
		Instructions: []solana.Instruction{
			createTo,
			createWithdrawInstruction(c.programID, pool, c.wallet.PublicKey, poolShareTokenFrom, tokenTo, poolShareMint, base),
		},
		Pool:           pool,
		PoolShareToken: poolShareTokenFrom,
	}, nil
}
