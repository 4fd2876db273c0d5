package arbitrage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/flashloan-arb/internal/cache"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
)

type seedEnv struct {
	router   *mockRouter
	lender   *mockLender
	store    *cache.DiskStore
	registry *cache.Registry
	clock    *clockwork.FakeClock
	payer    solana.PublicKey
	seeder   *Seeder

	usdc, sol solana.PublicKey
	a, b      solana.PublicKey // loan keys
	c, d, e   solana.PublicKey // route keys
}

func newSeedEnv(t *testing.T) *seedEnv {
	env := &seedEnv{
		router: new(mockRouter),
		lender: new(mockLender),
		store:  newStore(t),
		clock:  clockwork.NewFakeClock(),
		payer:  key(),
		usdc:   key(), sol: key(),
		a: key(), b: key(), c: key(), d: key(), e: key(),
	}
	env.registry = cache.NewRegistry(env.store, cache.Names{Network: "devnet"}.LookupTables())
	env.seeder = NewSeeder(env.router, env.lender, env.payer, env.store, env.registry, env.clock, zaptest.NewLogger(t))

	env.lender.On("Plan", mock.Anything, env.usdc, uint64(100_000), (*solana.PublicKey)(nil)).
		Return(testPlan(env.a, env.b), nil)

	buys := []model.RouteQuote{
		{InputMint: env.usdc, OutputMint: env.sol, OutAmount: 700, Label: "Orca"},
		{InputMint: env.usdc, OutputMint: env.sol, OutAmount: 690, Label: "Raydium"},
		{InputMint: env.usdc, OutputMint: env.sol, OutAmount: 600, Label: "Lifinity"},
	}
	sells := []model.RouteQuote{
		{InputMint: env.sol, OutputMint: env.usdc, OutAmount: 99_000, Label: "Orca"},
	}
	env.router.On("Quotes", mock.Anything, env.usdc, env.sol, uint64(100_000), uint16(50), 2).Return(buys, nil)
	env.router.On("Quotes", mock.Anything, env.sol, env.usdc, uint64(700), uint16(50), 2).Return(sells, nil)
	env.router.On("Instructions", mock.Anything, buys[0], env.payer).Return(&model.SwapBundle{
		Setup: []solana.Instruction{named("setup", env.c)},
		Swap:  []solana.Instruction{named("swap", env.c, env.d)},
	}, nil)
	env.router.On("Instructions", mock.Anything, buys[1], env.payer).Return(&model.SwapBundle{
		Swap:    []solana.Instruction{named("swap", env.d)},
		Cleanup: []solana.Instruction{named("cleanup", env.a)},
	}, nil)
	env.router.On("Instructions", mock.Anything, sells[0], env.payer).Return(&model.SwapBundle{
		Swap: []solana.Instruction{named("swap", env.e)},
	}, nil)
	return env
}

func (e *seedEnv) config(rounds int) SeedConfig {
	return SeedConfig{
		InputMint:   e.usdc,
		OutputMint:  e.sol,
		Amount:      100_000,
		SlippageBps: 50,
		Rounds:      rounds,
		TakeRoutes:  2,
		Interval:    time.Minute,
		CacheName:   cache.Names{Network: "devnet"}.PairKeys(e.usdc, e.sol),
	}
}

func (e *seedEnv) keyCache(t *testing.T) *cache.KeyCache {
	c, err := cache.LoadKeyCache(e.store, e.config(1).CacheName)
	require.NoError(t, err)
	return c
}

func TestSeederCountsLoanOnceAndRoutesPerRound(t *testing.T) {
	env := newSeedEnv(t)
	cfg := env.config(2)

	done := make(chan *SeedResult)
	go func() {
		res, err := env.seeder.Run(context.Background(), cfg)
		assert.NoError(t, err)
		done <- res
	}()

	// round 1 is flushed before cooling
	require.NoError(t, env.clock.BlockUntilContext(context.Background(), 1))
	c := env.keyCache(t)
	assert.Equal(t, []solana.PublicKey{env.a, env.b, env.c, env.d, env.e}, c.Keys())
	assert.Equal(t, uint64(3), c.Count(env.a)) // borrow, repay, cleanup
	assert.Equal(t, uint64(2), c.Count(env.b))
	assert.Equal(t, uint64(2), c.Count(env.c))
	assert.Equal(t, uint64(2), c.Count(env.d))
	assert.Equal(t, uint64(1), c.Count(env.e))
	env.router.AssertNotCalled(t, "Instructions", mock.Anything,
		mock.MatchedBy(func(q model.RouteQuote) bool { return q.Label == "Lifinity" }), mock.Anything)

	env.clock.Advance(time.Minute)
	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 6, res.Routes)
	assert.Equal(t, 5, res.Keys)
	assert.Nil(t, res.Table)

	c = env.keyCache(t)
	assert.Equal(t, uint64(4), c.Count(env.a))
	assert.Equal(t, uint64(2), c.Count(env.b))
	assert.Equal(t, uint64(4), c.Count(env.c))
	assert.Equal(t, uint64(2), c.Count(env.e))

	tables, err := env.registry.Addresses()
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestSeederKeepsTableAddressAndRegistersIt(t *testing.T) {
	env := newSeedEnv(t)
	cfg := env.config(1)

	table := key()
	existing := cache.NewKeyCache()
	existing.Record(env.e)
	require.NoError(t, existing.SetLookupTable(table))
	require.NoError(t, env.store.Save(cfg.CacheName, existing))

	res, err := env.seeder.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, res.Table)
	assert.Equal(t, table, *res.Table)

	c := env.keyCache(t)
	addr, ok := c.LookupTable()
	require.True(t, ok)
	assert.Equal(t, table, addr)
	// seeded keys accumulate on top of the existing counts
	assert.Equal(t, uint64(2), c.Count(env.e))
	assert.Equal(t, env.e, c.Keys()[0])

	tables, err := env.registry.Addresses()
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{table}, tables)
}

func TestSeederSkipsFailedRoutes(t *testing.T) {
	env := newSeedEnv(t)
	// replace the sell bundle with a failure
	env.router.ExpectedCalls = env.router.ExpectedCalls[:len(env.router.ExpectedCalls)-1]
	env.router.On("Instructions", mock.Anything,
		mock.MatchedBy(func(q model.RouteQuote) bool { return q.InputMint == env.sol }), env.payer).
		Return(nil, errors.New("route expired"))

	res, err := env.seeder.Run(context.Background(), env.config(1))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Routes)
	assert.Zero(t, env.keyCache(t).Count(env.e))
}

func TestSeederQuoteFailureStopsRun(t *testing.T) {
	env := newSeedEnv(t)
	env.router.ExpectedCalls = nil
	env.router.On("Quotes", mock.Anything, env.usdc, env.sol, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("503"))

	res, err := env.seeder.Run(context.Background(), env.config(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "round 1")
	assert.Zero(t, res.Rounds)
	assert.Zero(t, env.keyCache(t).Len())
}
