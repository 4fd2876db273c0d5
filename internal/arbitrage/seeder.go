// internal/arbitrage/seeder.go
package arbitrage

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/flashloan-arb/internal/cache"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
)

// Seeding defaults.
const (
	DefaultSeedRounds     = 5
	DefaultSeedTakeRoutes = 10
	DefaultSeedInterval   = 10 * time.Minute
)

type SeedConfig struct {
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64 // base units of InputMint
	SlippageBps uint16
	Referral    *solana.PublicKey
	Rounds      int
	// TakeRoutes is how many of the best routes per direction are sampled.
	TakeRoutes int
	Interval   time.Duration
	CacheName  string
}

type SeedResult struct {
	Rounds int
	Routes int
	// Observations counts every recorded account meta, repeats included.
	Observations int
	Keys         int
	Table        *solana.PublicKey
}

// Seeder samples swap routes of a pair and counts the account keys they touch.
type Seeder struct {
	router   Router
	lender   Lender
	payer    solana.PublicKey
	store    cache.Store
	registry *cache.Registry
	clock    clockwork.Clock
	logger   *zap.Logger
}

func NewSeeder(router Router, lender Lender, payer solana.PublicKey, store cache.Store, registry *cache.Registry, clock clockwork.Clock, logger *zap.Logger) *Seeder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Seeder{
		router:   router,
		lender:   lender,
		payer:    payer,
		store:    store,
		registry: registry,
		clock:    clock,
		logger:   logger.Named("seeder"),
	}
}

// Run samples cfg.Rounds rounds and flushes the counted keys into the pair
// cache after each one. An existing table address in the cache is kept and
// registered for maintenance.
func (s *Seeder) Run(ctx context.Context, cfg SeedConfig) (*SeedResult, error) {
	if cfg.Rounds <= 0 {
		cfg.Rounds = DefaultSeedRounds
	}
	if cfg.TakeRoutes <= 0 {
		cfg.TakeRoutes = DefaultSeedTakeRoutes
	}

	plan, err := s.lender.Plan(ctx, cfg.InputMint, cfg.Amount, cfg.Referral)
	if err != nil {
		return nil, fmt.Errorf("plan flash loan: %w", err)
	}
	// loan keys are recorded once
	pending := AccountKeys(plan.Setup, plan.Borrow, plan.Repay)

	res := &SeedResult{}
	for round := 1; round <= cfg.Rounds; round++ {
		keys, routes, err := s.sample(ctx, cfg)
		if err != nil {
			return res, fmt.Errorf("round %d: %w", round, err)
		}
		pending = append(pending, keys...)

		total, err := s.flush(cfg.CacheName, pending)
		if err != nil {
			return res, err
		}
		res.Rounds = round
		res.Routes += routes
		res.Observations += len(pending)
		res.Keys = total
		pending = nil

		s.logger.Info("Round done",
			zap.Int("round", round),
			zap.Int("routes", routes),
			zap.Int("keys", total))

		if round < cfg.Rounds {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-s.clock.After(cfg.Interval):
			}
		}
	}

	if err := s.registerTable(cfg.CacheName, res); err != nil {
		return res, err
	}
	s.logger.Info("Seeding done", zap.String("cache", cfg.CacheName), zap.Int("keys", res.Keys))
	return res, nil
}

// sample returns the account metas of the best TakeRoutes routes in both
// directions. The sell side is quoted for the best buy output.
func (s *Seeder) sample(ctx context.Context, cfg SeedConfig) ([]solana.PublicKey, int, error) {
	buys, err := s.router.Quotes(ctx, cfg.InputMint, cfg.OutputMint, cfg.Amount, cfg.SlippageBps, cfg.TakeRoutes)
	if err != nil {
		return nil, 0, fmt.Errorf("buy quotes: %w", err)
	}
	sellAmount := cfg.Amount
	if len(buys) > 0 {
		sellAmount = buys[0].OutAmount
	}
	sells, err := s.router.Quotes(ctx, cfg.OutputMint, cfg.InputMint, sellAmount, cfg.SlippageBps, cfg.TakeRoutes)
	if err != nil {
		return nil, 0, fmt.Errorf("sell quotes: %w", err)
	}

	routes := append(take(buys, cfg.TakeRoutes), take(sells, cfg.TakeRoutes)...)
	var keys []solana.PublicKey
	sampled := 0
	for _, q := range routes {
		bundle, err := s.router.Instructions(ctx, q, s.payer)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			s.logger.Warn("Skipping route",
				zap.String("label", q.Label),
				zap.String("input", q.InputMint.String()),
				zap.Error(err))
			continue
		}
		keys = append(keys, AccountKeys(bundle.All()...)...)
		sampled++
	}
	return keys, sampled, nil
}

func take(quotes []model.RouteQuote, n int) []model.RouteQuote {
	if len(quotes) > n {
		return quotes[:n]
	}
	return quotes
}

// flush records keys into the named cache under its lock and returns the
// number of distinct cached keys.
func (s *Seeder) flush(name string, keys []solana.PublicKey) (int, error) {
	unlock := s.store.Lock(name)
	defer unlock()

	c, err := cache.LoadKeyCache(s.store, name)
	if err != nil {
		return 0, err
	}
	c.Record(keys...)
	if err := s.store.Save(name, c); err != nil {
		return 0, fmt.Errorf("save key cache %s: %w", name, err)
	}
	return c.Len(), nil
}

func (s *Seeder) registerTable(name string, res *SeedResult) error {
	c, err := cache.LoadKeyCache(s.store, name)
	if err != nil {
		return err
	}
	addr, ok := c.LookupTable()
	if !ok {
		return nil
	}
	res.Table = &addr
	if s.registry == nil {
		return nil
	}
	return s.registry.Add(addr)
}
