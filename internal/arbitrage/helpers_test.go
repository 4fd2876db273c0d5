package arbitrage

import (
	"context"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solana/programs/computebudget"
	alt "github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solana/programs/lookuptable"
	"github.com/rovshanmuradov/flashloan-arb/internal/cache"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
	"github.com/rovshanmuradov/flashloan-arb/internal/storage/models"
)

var testProgram = solana.MustPublicKeyFromBase58("1oanfPPN8r1i4UbugXHDxWMbWVJ5qLSN5qzNFZkz6Fg")

// named builds an instruction tagged with name whose metas are keys.
func named(name string, keys ...solana.PublicKey) solana.Instruction {
	metas := make(solana.AccountMetaSlice, 0, len(keys))
	for _, k := range keys {
		metas = append(metas, solana.Meta(k).WRITE())
	}
	return solana.NewInstruction(testProgram, metas, []byte(name))
}

func tag(t *testing.T, ix solana.Instruction) string {
	t.Helper()
	if computebudget.IsComputeBudget(ix) {
		return "cb"
	}
	data, err := ix.Data()
	require.NoError(t, err)
	return string(data)
}

func tags(t *testing.T, ixs []solana.Instruction) []string {
	t.Helper()
	out := make([]string, 0, len(ixs))
	for _, ix := range ixs {
		out = append(out, tag(t, ix))
	}
	return out
}

func computeBudget(t *testing.T) []solana.Instruction {
	t.Helper()
	limit, err := (&computebudget.SetComputeUnitLimitInstruction{Units: 600_000}).Build()
	require.NoError(t, err)
	price, err := (&computebudget.SetComputeUnitPriceInstruction{MicroLamports: 1_000}).Build()
	require.NoError(t, err)
	return []solana.Instruction{limit, price}
}

func testPlan(keys ...solana.PublicKey) *model.FlashLoanPlan {
	return &model.FlashLoanPlan{
		Borrow:          named("borrow", keys...),
		Repay:           named("repay", keys...),
		RepaymentAmount: 1_000_900,
	}
}

func key() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

type mockRouter struct {
	mock.Mock
}

func (m *mockRouter) Quote(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps uint16) (*model.RouteQuote, error) {
	args := m.Called(ctx, in, out, amount, slippageBps)
	q, _ := args.Get(0).(*model.RouteQuote)
	return q, args.Error(1)
}

func (m *mockRouter) Quotes(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps uint16, max int) ([]model.RouteQuote, error) {
	args := m.Called(ctx, in, out, amount, slippageBps, max)
	q, _ := args.Get(0).([]model.RouteQuote)
	return q, args.Error(1)
}

func (m *mockRouter) Instructions(ctx context.Context, quote model.RouteQuote, user solana.PublicKey) (*model.SwapBundle, error) {
	args := m.Called(ctx, quote, user)
	b, _ := args.Get(0).(*model.SwapBundle)
	return b, args.Error(1)
}

type mockLender struct {
	mock.Mock
}

func (m *mockLender) Plan(ctx context.Context, mint solana.PublicKey, amount uint64, referral *solana.PublicKey) (*model.FlashLoanPlan, error) {
	args := m.Called(ctx, mint, amount, referral)
	p, _ := args.Get(0).(*model.FlashLoanPlan)
	return p, args.Error(1)
}

type mockTables struct {
	mock.Mock
}

func (m *mockTables) Load(ctx context.Context, addr solana.PublicKey) (*alt.Table, error) {
	args := m.Called(ctx, addr)
	t, _ := args.Get(0).(*alt.Table)
	return t, args.Error(1)
}

func (m *mockTables) Create(ctx context.Context) (solana.PublicKey, error) {
	args := m.Called(ctx)
	return args.Get(0).(solana.PublicKey), args.Error(1)
}

func (m *mockTables) Extend(ctx context.Context, table solana.PublicKey, keys []solana.PublicKey) error {
	return m.Called(ctx, table, keys).Error(0)
}

type sentTx struct {
	ixs    []solana.Instruction
	tables []model.AddressTable
}

// fakeSender records submitted transactions; err, when set, fails every send.
type fakeSender struct {
	payer solana.PublicKey
	err   error

	mu   sync.Mutex
	sent []sentTx
}

func newFakeSender() *fakeSender {
	return &fakeSender{payer: key()}
}

func (s *fakeSender) Payer() solana.PublicKey { return s.payer }

func (s *fakeSender) Send(_ context.Context, ixs []solana.Instruction, tables ...model.AddressTable) (solana.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentTx{ixs: ixs, tables: tables})
	if s.err != nil {
		return solana.Signature{}, s.err
	}
	return solana.Signature{byte(len(s.sent))}, nil
}

func (s *fakeSender) Sent() []sentTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentTx(nil), s.sent...)
}

type memJournal struct {
	mu       sync.Mutex
	attempts []*models.ArbitrageAttempt
}

func (j *memJournal) SaveAttempt(_ context.Context, a *models.ArbitrageAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, a)
	return nil
}

func (j *memJournal) ListAttempts(_ context.Context, _, _ string, _ int) ([]*models.ArbitrageAttempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*models.ArbitrageAttempt(nil), j.attempts...), nil
}

func (j *memJournal) RunMigrations() error { return nil }
func (j *memJournal) Close() error         { return nil }

func newStore(t *testing.T) *cache.DiskStore {
	t.Helper()
	store, err := cache.NewDiskStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}
