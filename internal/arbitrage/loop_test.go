package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	alt "github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solana/programs/lookuptable"
	"github.com/rovshanmuradov/flashloan-arb/internal/cache"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
	"github.com/rovshanmuradov/flashloan-arb/internal/lookuptable"
	"github.com/rovshanmuradov/flashloan-arb/internal/storage/models"
)

const (
	testAmount    = 1_000_000
	testSlippage  = 50
	testCacheName = "devnet-jupKeyCache-test.json"
)

type loopEnv struct {
	router  *mockRouter
	lender  *mockLender
	tables  *mockTables
	sender  *fakeSender
	store   *cache.DiskStore
	journal *memJournal
	clock   *clockwork.FakeClock
	reg     *prometheus.Registry

	usdc, sol solana.PublicKey
	plan      *model.FlashLoanPlan
	// account keys of the plan and of each swap leg
	loanKeys, buyKeys, sellKeys []solana.PublicKey
}

func newLoopEnv(t *testing.T) *loopEnv {
	a, b := key(), key()
	env := &loopEnv{
		router:   new(mockRouter),
		lender:   new(mockLender),
		tables:   new(mockTables),
		sender:   newFakeSender(),
		store:    newStore(t),
		journal:  &memJournal{},
		clock:    clockwork.NewFakeClock(),
		reg:      prometheus.NewRegistry(),
		usdc:     key(),
		sol:      key(),
		loanKeys: []solana.PublicKey{a, b},
		buyKeys:  []solana.PublicKey{b, key()},
		sellKeys: []solana.PublicKey{key(), a},
	}
	env.plan = testPlan(env.loanKeys...)
	env.lender.On("Plan", mock.Anything, env.usdc, uint64(testAmount), (*solana.PublicKey)(nil)).Return(env.plan, nil)
	return env
}

func (e *loopEnv) loop(t *testing.T, mode Mode) *Loop {
	return NewLoop(Deps{
		Router:  e.router,
		Lender:  e.lender,
		Sender:  e.sender,
		Tables:  e.tables,
		Store:   e.store,
		Journal: e.journal,
	}, LoopConfig{
		Mode:        mode,
		InputMint:   e.usdc,
		OutputMint:  e.sol,
		Amount:      testAmount,
		SlippageBps: testSlippage,
		Interval:    10 * time.Minute,
		CacheName:   testCacheName,
	}, e.clock, zaptest.NewLogger(t), e.reg)
}

// quotes makes the round trip return sellOut.
func (e *loopEnv) quotes(sellOut uint64) (buy, sell *model.RouteQuote) {
	buy = &model.RouteQuote{InputMint: e.usdc, OutputMint: e.sol, InAmount: testAmount, OutAmount: 5_000, Label: "Orca"}
	sell = &model.RouteQuote{InputMint: e.sol, OutputMint: e.usdc, InAmount: 5_000, OutAmount: sellOut, Label: "Raydium"}
	e.router.On("Quote", mock.Anything, e.usdc, e.sol, uint64(testAmount), uint16(testSlippage)).Return(buy, nil)
	e.router.On("Quote", mock.Anything, e.sol, e.usdc, uint64(5_000), uint16(testSlippage)).Return(sell, nil)
	return buy, sell
}

func (e *loopEnv) bundles(t *testing.T, buy, sell *model.RouteQuote) {
	e.router.On("Instructions", mock.Anything, *buy, e.sender.payer).Return(&model.SwapBundle{
		Swap: append(computeBudget(t), named("buy-swap", e.buyKeys...)),
	}, nil)
	e.router.On("Instructions", mock.Anything, *sell, e.sender.payer).Return(&model.SwapBundle{
		Swap: append(computeBudget(t), named("sell-swap", e.sellKeys...)),
	}, nil)
}

// seedCache stores a key cache bound to a table holding tableKeys.
func (e *loopEnv) seedCache(t *testing.T, tableKeys ...solana.PublicKey) *alt.Table {
	table := alt.NewActive(key(), e.sender.payer)
	table.Addresses = tableKeys

	c := cache.NewKeyCache()
	c.Record(tableKeys...)
	require.NoError(t, c.SetLookupTable(table.Address))
	require.NoError(t, e.store.Save(testCacheName, c))
	return table
}

func TestProfitableIsStrict(t *testing.T) {
	tests := []struct {
		sellOut, repayment uint64
		want               bool
	}{
		{1_000_901, 1_000_900, true},
		{1_000_900, 1_000_900, false},
		{1_000_899, 1_000_900, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d>%d", tt.sellOut, tt.repayment), func(t *testing.T) {
			assert.Equal(t, tt.want, Profitable(tt.sellOut, tt.repayment))
		})
	}
}

func TestStepBreakEvenIsNotSubmitted(t *testing.T) {
	env := newLoopEnv(t)
	env.quotes(env.plan.RepaymentAmount)
	l := env.loop(t, ModeUncached)
	require.NoError(t, l.Prepare(context.Background()))

	a, err := l.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnprofitable, a.Outcome)
	assert.False(t, a.Profitable)
	assert.Empty(t, env.sender.Sent())
	env.router.AssertNotCalled(t, "Instructions", mock.Anything, mock.Anything, mock.Anything)
	env.tables.AssertNotCalled(t, "Create", mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.iterations.WithLabelValues(models.OutcomeUnprofitable)))
	assert.Equal(t, 0.0, testutil.ToFloat64(l.metrics.profit))
}

func TestStepWithoutRouteCools(t *testing.T) {
	env := newLoopEnv(t)
	env.router.On("Quote", mock.Anything, env.usdc, env.sol, uint64(testAmount), uint16(testSlippage)).Return(nil, nil)
	l := env.loop(t, ModeUncached)
	require.NoError(t, l.Prepare(context.Background()))

	a, err := l.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoQuote, a.Outcome)
	assert.Empty(t, a.ErrorMessage)
	require.Len(t, env.journal.attempts, 1)
}

func TestStepQuoteErrorIsRecorded(t *testing.T) {
	env := newLoopEnv(t)
	env.router.On("Quote", mock.Anything, env.usdc, env.sol, uint64(testAmount), uint16(testSlippage)).
		Return(nil, errors.New("429 too many requests"))
	l := env.loop(t, ModeUncached)
	require.NoError(t, l.Prepare(context.Background()))

	a, err := l.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoQuote, a.Outcome)
	assert.Contains(t, a.ErrorMessage, "429")
}

func TestCachedPrepareRequiresTable(t *testing.T) {
	env := newLoopEnv(t)
	err := env.loop(t, ModeCached).Prepare(context.Background())
	assert.ErrorIs(t, err, ErrLookupTableMissing)
}

func TestCachedPrepareTableAccountGone(t *testing.T) {
	env := newLoopEnv(t)
	table := env.seedCache(t)
	env.tables.On("Load", mock.Anything, table.Address).
		Return(nil, fmt.Errorf("%w: %s", lookuptable.ErrTableNotFound, table.Address))

	err := env.loop(t, ModeCached).Prepare(context.Background())
	assert.ErrorIs(t, err, ErrLookupTableMissing)
	assert.ErrorIs(t, err, lookuptable.ErrTableNotFound)
}

func TestCachedStepRecordsMissingKeysAndSubmits(t *testing.T) {
	env := newLoopEnv(t)
	table := env.seedCache(t, env.loanKeys...)
	env.tables.On("Load", mock.Anything, table.Address).Return(table, nil)
	buy, sell := env.quotes(env.plan.RepaymentAmount + 1)
	env.bundles(t, buy, sell)

	l := env.loop(t, ModeCached)
	require.NoError(t, l.Prepare(context.Background()))
	a, err := l.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSubmitted, a.Outcome, a.ErrorMessage)
	assert.True(t, a.Profitable)
	assert.Equal(t, table.Address.String(), a.LookupTable)
	assert.Equal(t, 4, a.Keys)
	assert.Equal(t, 2, a.MissingKeys)

	sent := env.sender.Sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].tables, 1)
	assert.Equal(t, table.Address, sent[0].tables[0].Address)
	assert.Equal(t, []string{"cb", "borrow", "buy-swap", "sell-swap", "repay"}, tags(t, sent[0].ixs))

	// the hot loop never extends
	env.tables.AssertNotCalled(t, "Extend", mock.Anything, mock.Anything, mock.Anything)

	c, err := cache.LoadKeyCache(env.store, testCacheName)
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{env.loanKeys[0], env.loanKeys[1], env.buyKeys[1], env.sellKeys[0]}, c.Keys())
	assert.Equal(t, uint64(1), c.Count(env.buyKeys[1]))
	addr, ok := c.LookupTable()
	require.True(t, ok)
	assert.Equal(t, table.Address, addr)

	require.Len(t, env.journal.attempts, 1)
	assert.Equal(t, a.Signature, env.journal.attempts[0].Signature)
}

func TestCachedStepKnownKeysLeaveCacheUntouched(t *testing.T) {
	env := newLoopEnv(t)
	all := append(append(append([]solana.PublicKey{}, env.loanKeys...), env.buyKeys[1]), env.sellKeys[0])
	table := env.seedCache(t, all...)
	env.tables.On("Load", mock.Anything, table.Address).Return(table, nil)
	buy, sell := env.quotes(env.plan.RepaymentAmount + 10)
	env.bundles(t, buy, sell)

	l := env.loop(t, ModeCached)
	require.NoError(t, l.Prepare(context.Background()))
	a, err := l.Step(context.Background())
	require.NoError(t, err)
	assert.Zero(t, a.MissingKeys)

	c, err := cache.LoadKeyCache(env.store, testCacheName)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
}

func TestCachedStepSendFailureIsNotFatal(t *testing.T) {
	env := newLoopEnv(t)
	table := env.seedCache(t, env.loanKeys...)
	env.tables.On("Load", mock.Anything, table.Address).Return(table, nil)
	buy, sell := env.quotes(env.plan.RepaymentAmount + 1)
	env.bundles(t, buy, sell)
	env.sender.err = errors.New("custom program error: 0x1771")

	l := env.loop(t, ModeCached)
	require.NoError(t, l.Prepare(context.Background()))
	a, err := l.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, a.Outcome)
	assert.Contains(t, a.ErrorMessage, "0x1771")
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.iterations.WithLabelValues(models.OutcomeFailed)))
}

func TestUncachedStepCreatesFreshTable(t *testing.T) {
	env := newLoopEnv(t)
	buy, sell := env.quotes(env.plan.RepaymentAmount + 1)
	env.bundles(t, buy, sell)

	fresh := alt.NewActive(key(), env.sender.payer)
	keys := []solana.PublicKey{env.loanKeys[0], env.loanKeys[1], env.buyKeys[1], env.sellKeys[0]}
	fresh.Addresses = keys
	env.tables.On("Create", mock.Anything).Return(fresh.Address, nil).Once()
	env.tables.On("Extend", mock.Anything, fresh.Address, keys).Return(nil).Once()
	env.tables.On("Load", mock.Anything, fresh.Address).Return(fresh, nil).Once()

	l := env.loop(t, ModeUncached)
	l.config.TableWarmup = time.Second
	require.NoError(t, l.Prepare(context.Background()))

	done := make(chan *models.ArbitrageAttempt)
	go func() {
		a, err := l.Step(context.Background())
		assert.NoError(t, err)
		done <- a
	}()

	// warmup wait
	require.NoError(t, env.clock.BlockUntilContext(context.Background(), 1))
	env.tables.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
	env.clock.Advance(time.Second)

	a := <-done
	assert.Equal(t, models.OutcomeSubmitted, a.Outcome, a.ErrorMessage)
	assert.Equal(t, fresh.Address.String(), a.LookupTable)
	env.tables.AssertExpectations(t)

	sent := env.sender.Sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].tables, 1)
	assert.Equal(t, keys, []solana.PublicKey(sent[0].tables[0].Addresses))
}

func TestUncachedPartialExtendSkipsSubmit(t *testing.T) {
	env := newLoopEnv(t)
	buy, sell := env.quotes(env.plan.RepaymentAmount + 1)
	env.bundles(t, buy, sell)

	addr := key()
	env.tables.On("Create", mock.Anything).Return(addr, nil)
	env.tables.On("Extend", mock.Anything, addr, mock.Anything).
		Return(&lookuptable.PartialError{Table: addr, Batches: 1, Failed: []lookuptable.BatchError{{Err: errors.New("timeout")}}})

	l := env.loop(t, ModeUncached)
	require.NoError(t, l.Prepare(context.Background()))
	a, err := l.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, a.Outcome)
	assert.Empty(t, env.sender.Sent())
}

func TestRunCoolsBetweenIterations(t *testing.T) {
	env := newLoopEnv(t)
	env.router.On("Quote", mock.Anything, env.usdc, env.sol, uint64(testAmount), uint16(testSlippage)).Return(nil, nil)
	l := env.loop(t, ModeUncached)
	l.config.MaxIterations = 2

	done := make(chan error)
	go func() { done <- l.Run(context.Background()) }()

	require.NoError(t, env.clock.BlockUntilContext(context.Background(), 1))
	env.router.AssertNumberOfCalls(t, "Quote", 1)
	env.clock.Advance(10 * time.Minute)

	require.NoError(t, <-done)
	env.router.AssertNumberOfCalls(t, "Quote", 2)
	assert.Len(t, env.journal.attempts, 2)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	env := newLoopEnv(t)
	env.router.On("Quote", mock.Anything, env.usdc, env.sol, uint64(testAmount), uint16(testSlippage)).Return(nil, nil)
	l := env.loop(t, ModeUncached)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- l.Run(ctx) }()

	require.NoError(t, env.clock.BlockUntilContext(context.Background(), 1))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunRejectsZeroInterval(t *testing.T) {
	env := newLoopEnv(t)
	l := env.loop(t, ModeUncached)
	l.config.Interval = 0

	assert.ErrorIs(t, l.Run(context.Background()), ErrInvalidInterval)
	env.router.AssertNotCalled(t, "Quote", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunFailsWithoutCachedTable(t *testing.T) {
	env := newLoopEnv(t)
	err := env.loop(t, ModeCached).Run(context.Background())
	assert.ErrorIs(t, err, ErrLookupTableMissing)
	env.router.AssertNotCalled(t, "Quote", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
