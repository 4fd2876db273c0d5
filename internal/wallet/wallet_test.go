package wallet

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain/blockchaintest"
)

func newTestWallet(t *testing.T) *Wallet {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w, err := NewWallet(base58.Encode(key))
	require.NoError(t, err)
	return w
}

func TestNewWalletRejectsShortKey(t *testing.T) {
	_, err := NewWallet(base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestLoadKeypairFile(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	raw := "["
	for i, b := range key {
		if i > 0 {
			raw += ","
		}
		raw += strconv.Itoa(int(b))
	}
	raw += "]"
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	w, err := LoadKeypairFile(path)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), w.Address())

	_, err = LoadKeypairFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestGetATACached(t *testing.T) {
	w := newTestWallet(t)
	want, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, USDCMint)
	require.NoError(t, err)

	got, err := w.GetATA(USDCMint)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, w.ataCache, 1)

	require.NoError(t, w.PrecomputeATAs(CommonMints))
	assert.Len(t, w.ataCache, len(CommonMints))
}

func TestResolveMint(t *testing.T) {
	tests := []struct {
		in      string
		want    solana.PublicKey
		wantErr bool
	}{
		{"usdc", USDCMint, false},
		{"USDT", USDTMint, false},
		{"sol", solana.WrappedSol, false},
		{USDCMint.String(), USDCMint, false},
		{"not-a-mint", solana.PublicKey{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ResolveMint(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSolToLamports(t *testing.T) {
	got, err := SolToLamports(decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), got)

	got, err = SolToLamports(decimal.RequireFromString("0.0000000019"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)

	_, err = SolToLamports(decimal.NewFromInt(-1))
	assert.Error(t, err)
}

func TestTokenAccountsMissing(t *testing.T) {
	w := newTestWallet(t)
	client := new(blockchaintest.MockClient)
	ta := NewTokenAccounts(client, w, zaptest.NewLogger(t))

	mints := []solana.PublicKey{USDCMint, USDTMint, solana.WrappedSol}
	client.On("GetMultipleAccounts", mock.Anything, mock.MatchedBy(func(keys []solana.PublicKey) bool {
		return len(keys) == 3
	})).Return(&rpc.GetMultipleAccountsResult{
		Value: []*rpc.Account{blockchaintest.Account(solana.TokenProgramID, nil), nil, nil},
	}, nil)

	ixs, err := ta.Missing(context.Background(), mints, solana.PublicKey{})
	require.NoError(t, err)
	require.Len(t, ixs, 2)

	usdtATA, _, _ := solana.FindAssociatedTokenAddress(w.PublicKey, USDTMint)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ixs[0].ProgramID())
	assert.Equal(t, usdtATA, ixs[0].Accounts()[1].PublicKey)
}

func TestWrapUnwrapNative(t *testing.T) {
	w := newTestWallet(t)
	client := new(blockchaintest.MockClient)
	client.On("GetBalance", mock.Anything, w.PublicKey, rpc.CommitmentConfirmed).Return(uint64(5_000), nil)
	ta := NewTokenAccounts(client, w, zaptest.NewLogger(t))
	ata, err := w.GetATA(solana.WrappedSol)
	require.NoError(t, err)

	ixs, err := ta.WrapNative(context.Background(), 1_000)
	require.NoError(t, err)
	require.Len(t, ixs, 2)
	assert.Equal(t, solana.SystemProgramID, ixs[0].ProgramID())
	assert.Equal(t, ata, ixs[0].Accounts()[1].PublicKey)
	assert.Equal(t, solana.TokenProgramID, ixs[1].ProgramID())

	ixs, err = ta.UnwrapNative(false)
	require.NoError(t, err)
	assert.Len(t, ixs, 1)

	ixs, err = ta.UnwrapNative(true)
	require.NoError(t, err)
	require.Len(t, ixs, 2)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ixs[1].ProgramID())
}

func TestWrapNativeInsufficientBalance(t *testing.T) {
	w := newTestWallet(t)
	client := new(blockchaintest.MockClient)
	client.On("GetBalance", mock.Anything, w.PublicKey, rpc.CommitmentConfirmed).Return(uint64(999), nil)
	ta := NewTokenAccounts(client, w, zaptest.NewLogger(t))

	_, err := ta.WrapNative(context.Background(), 1_000)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}
