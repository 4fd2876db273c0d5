// internal/wallet/tokens.go
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain"
)

// ErrInsufficientBalance – на кошельке меньше SOL, чем требуется перевести.
var ErrInsufficientBalance = errors.New("insufficient SOL balance")

var (
	USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	USDTMint = solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")

	// CommonMints – токены, для которых create-token-accounts заводит ATA.
	CommonMints = []solana.PublicKey{
		solana.WrappedSol,
		USDCMint,
		USDTMint,
		solana.MustPublicKeyFromBase58("4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"), // RAY
		solana.MustPublicKeyFromBase58("7dHbWXmci3dT8UFYWYZweBLXgycu7Y3iL6trKn1Y7ARj"), // stSOL
		solana.MustPublicKeyFromBase58("mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So"),  // mSOL
		solana.MustPublicKeyFromBase58("7vfCXTUXx5WJV5JADk17DUJ4ksgau7utNKj4b963voxs"), // ETH (Wormhole)
		solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"), // BONK
	}
)

// ResolveMint принимает алиас (usdc, usdt, sol) или base58 адрес.
func ResolveMint(s string) (solana.PublicKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "usdc":
		return USDCMint, nil
	case "usdt":
		return USDTMint, nil
	case "sol", "wsol":
		return solana.WrappedSol, nil
	}
	mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(s))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid mint %q: %w", s, err)
	}
	return mint, nil
}

// SolToLamports переводит сумму в SOL в лампорты, дробная часть лампорта отбрасывается.
func SolToLamports(sol decimal.Decimal) (uint64, error) {
	if sol.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", sol)
	}
	return sol.Shift(9).Floor().BigInt().Uint64(), nil
}

// TokenAccounts строит инструкции для ATA кошелька.
type TokenAccounts struct {
	client blockchain.Client
	wallet *Wallet
	logger *zap.Logger
}

func NewTokenAccounts(client blockchain.Client, w *Wallet, logger *zap.Logger) *TokenAccounts {
	return &TokenAccounts{
		client: client,
		wallet: w,
		logger: logger.Named("token-accounts"),
	}
}

// Missing возвращает инструкции создания ATA owner для тех mints, у которых ATA ещё нет.
// Нулевой owner – кошелёк.
func (t *TokenAccounts) Missing(ctx context.Context, mints []solana.PublicKey, owner solana.PublicKey) ([]solana.Instruction, error) {
	if owner.IsZero() {
		owner = t.wallet.PublicKey
	}

	atas := make([]solana.PublicKey, 0, len(mints))
	for _, mint := range mints {
		ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
		if err != nil {
			return nil, fmt.Errorf("derive ATA for %s: %w", mint, err)
		}
		atas = append(atas, ata)
	}

	res, err := t.client.GetMultipleAccounts(ctx, atas)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token accounts: %w", err)
	}

	var ixs []solana.Instruction
	for i, mint := range mints {
		if i < len(res.Value) && res.Value[i] != nil {
			continue
		}
		ix, _, err := CreateAssociatedTokenAccountIdempotentInstruction(t.wallet.PublicKey, owner, mint)
		if err != nil {
			return nil, err
		}
		t.logger.Debug("Token account missing",
			zap.String("mint", mint.String()),
			zap.String("ata", atas[i].String()))
		ixs = append(ixs, ix)
	}
	return ixs, nil
}

// Exists сообщает, создан ли аккаунт addr.
func (t *TokenAccounts) Exists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	_, err := t.client.GetAccountInfo(ctx, addr)
	if errors.Is(err, blockchain.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// WrapNative переводит lamports на wSOL ATA кошелька и синхронизирует баланс.
// Баланс кошелька проверяется заранее: без SOL транзакция всё равно упадёт.
func (t *TokenAccounts) WrapNative(ctx context.Context, lamports uint64) ([]solana.Instruction, error) {
	balance, err := t.client.GetBalance(ctx, t.wallet.PublicKey, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet balance: %w", err)
	}
	if balance < lamports {
		return nil, fmt.Errorf("%w: have %d lamports, need %d", ErrInsufficientBalance, balance, lamports)
	}
	ata, err := t.wallet.GetATA(solana.WrappedSol)
	if err != nil {
		return nil, err
	}
	return []solana.Instruction{
		system.NewTransferInstruction(lamports, t.wallet.PublicKey, ata).Build(),
		token.NewSyncNativeInstruction(ata).Build(),
	}, nil
}

// UnwrapNative закрывает wSOL ATA (SOL возвращается кошельку). keepOpen пересоздаёт ATA.
func (t *TokenAccounts) UnwrapNative(keepOpen bool) ([]solana.Instruction, error) {
	ata, err := t.wallet.GetATA(solana.WrappedSol)
	if err != nil {
		return nil, err
	}
	ixs := []solana.Instruction{
		token.NewCloseAccountInstruction(ata, t.wallet.PublicKey, t.wallet.PublicKey, nil).Build(),
	}
	if keepOpen {
		create, _, err := CreateAssociatedTokenAccountIdempotentInstruction(t.wallet.PublicKey, t.wallet.PublicKey, solana.WrappedSol)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, create)
	}
	return ixs, nil
}
