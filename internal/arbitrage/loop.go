// internal/arbitrage/loop.go
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	alt "github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solana/programs/lookuptable"
	"github.com/rovshanmuradov/flashloan-arb/internal/cache"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
	"github.com/rovshanmuradov/flashloan-arb/internal/lookuptable"
	"github.com/rovshanmuradov/flashloan-arb/internal/storage"
	"github.com/rovshanmuradov/flashloan-arb/internal/storage/models"
)

// ErrLookupTableMissing stops the cached loop: the key cache has no table
// address or the table account no longer exists.
var ErrLookupTableMissing = errors.New("lookup table missing, seed keys and create the table first")

// ErrInvalidInterval rejects a cooldown that would spin the loop.
var ErrInvalidInterval = errors.New("loop interval must be positive")

// Mode selects how the loop obtains a lookup table.
type Mode string

const (
	// ModeCached uses the table recorded in the pair key cache.
	ModeCached Mode = "cached"
	// ModeUncached creates a fresh table for every profitable opportunity.
	ModeUncached Mode = "uncached"
)

// State is the phase of one loop iteration.
type State string

const (
	StateQuoting    State = "quoting"
	StateEvaluating State = "evaluating"
	StateConverging State = "converging"
	StateSubmitting State = "submitting"
	StateCooling    State = "cooling"
)

// Router quotes swaps and returns their instructions.
type Router interface {
	Quote(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps uint16) (*model.RouteQuote, error)
	Quotes(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps uint16, max int) ([]model.RouteQuote, error)
	Instructions(ctx context.Context, quote model.RouteQuote, user solana.PublicKey) (*model.SwapBundle, error)
}

// Lender plans one borrow/repay cycle.
type Lender interface {
	Plan(ctx context.Context, mint solana.PublicKey, amount uint64, referral *solana.PublicKey) (*model.FlashLoanPlan, error)
}

// Tables is the part of the lookup table manager the loop uses.
type Tables interface {
	Load(ctx context.Context, addr solana.PublicKey) (*alt.Table, error)
	Create(ctx context.Context) (solana.PublicKey, error)
	Extend(ctx context.Context, table solana.PublicKey, keys []solana.PublicKey) error
}

// Deps are the collaborators of Loop. Journal is optional.
type Deps struct {
	Router  Router
	Lender  Lender
	Sender  lookuptable.Sender
	Tables  Tables
	Store   cache.Store
	Journal storage.Journal
}

type LoopConfig struct {
	Mode Mode
	// InputMint is borrowed, swapped into OutputMint and bought back.
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64 // base units of InputMint
	SlippageBps uint16
	Referral    *solana.PublicKey
	// Interval is the cooling pause after every iteration.
	Interval time.Duration
	// TableWarmup is waited after extending a fresh table; the table is
	// usable only from the next slot.
	TableWarmup time.Duration
	// CacheName is the key cache document of the pair (cached mode).
	CacheName string
	// MaxIterations stops Run after that many iterations, 0 runs until ctx is done.
	MaxIterations int
}

// Loop polls quotes and submits a flash-loan arbitrage when it pays back the loan.
type Loop struct {
	deps    Deps
	config  LoopConfig
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *loopMetrics
	seq     Sequencer

	plan  *model.FlashLoanPlan
	table *model.AddressTable
	known cache.KeySet
}

func NewLoop(deps Deps, config LoopConfig, clock clockwork.Clock, logger *zap.Logger, reg prometheus.Registerer) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		deps:    deps,
		config:  config,
		clock:   clock,
		logger:  logger.Named("arbitrage").With(zap.String("mode", string(config.Mode))),
		metrics: newLoopMetrics(reg),
	}
}

// Profitable reports whether sellOut strictly exceeds the repayment.
func Profitable(sellOut, repayment uint64) bool {
	return sellOut > repayment
}

// Prepare plans the loan and, in cached mode, loads the pair lookup table.
func (l *Loop) Prepare(ctx context.Context) error {
	plan, err := l.deps.Lender.Plan(ctx, l.config.InputMint, l.config.Amount, l.config.Referral)
	if err != nil {
		return fmt.Errorf("plan flash loan: %w", err)
	}
	l.plan = plan

	if l.config.Mode != ModeCached {
		return nil
	}

	keys, err := cache.LoadKeyCache(l.deps.Store, l.config.CacheName)
	if err != nil {
		return err
	}
	addr, ok := keys.LookupTable()
	if !ok {
		return fmt.Errorf("%w: no table in %s", ErrLookupTableMissing, l.config.CacheName)
	}
	table, err := l.deps.Tables.Load(ctx, addr)
	if errors.Is(err, lookuptable.ErrTableNotFound) {
		return fmt.Errorf("%w: %w", ErrLookupTableMissing, err)
	}
	if err != nil {
		return err
	}
	l.table = &model.AddressTable{Address: table.Address, Addresses: table.Addresses}
	l.known = cache.NewKeySet(table.Addresses...)

	l.logger.Info("Using lookup table",
		zap.String("table", addr.String()),
		zap.Int("addresses", len(table.Addresses)),
		zap.Int("cached_keys", keys.Len()))
	return nil
}

// Run prepares the loop and iterates until ctx is done, MaxIterations is
// reached or a fatal error occurs.
func (l *Loop) Run(ctx context.Context) error {
	if l.config.Interval <= 0 && l.config.MaxIterations != 1 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, l.config.Interval)
	}
	if err := l.Prepare(ctx); err != nil {
		return err
	}
	for i := 1; ; i++ {
		if _, err := l.Step(ctx); err != nil {
			return err
		}
		if l.config.MaxIterations > 0 && i >= l.config.MaxIterations {
			return nil
		}

		l.logger.Debug("state", zap.String("state", string(StateCooling)), zap.Duration("for", l.config.Interval))
		if err := l.wait(ctx, l.config.Interval); err != nil {
			return err
		}
	}
}

// Step runs one Quoting → Evaluating → Converging → Submitting pass. Only a
// cancelled context is returned as an error; everything else ends up in the
// attempt.
func (l *Loop) Step(ctx context.Context) (*models.ArbitrageAttempt, error) {
	if l.plan == nil {
		return nil, errors.New("loop is not prepared")
	}
	start := l.clock.Now()
	a := &models.ArbitrageAttempt{
		AttemptID:   uuid.NewString(),
		Mode:        string(l.config.Mode),
		InputMint:   l.config.InputMint.String(),
		OutputMint:  l.config.OutputMint.String(),
		AmountIn:    l.config.Amount,
		Repayment:   l.plan.RepaymentAmount,
		EvaluatedAt: start.UTC(),
	}
	logger := l.logger.With(zap.String("attempt", a.AttemptID))

	err := l.step(ctx, logger, a)
	if err != nil && ctx.Err() != nil {
		return a, ctx.Err()
	}
	if err != nil {
		a.ErrorMessage = err.Error()
	}
	a.DurationMs = l.clock.Since(start).Milliseconds()
	l.finish(ctx, logger, a)
	return a, nil
}

func (l *Loop) step(ctx context.Context, logger *zap.Logger, a *models.ArbitrageAttempt) error {
	cfg := l.config

	// Quoting
	a.Outcome = models.OutcomeNoQuote
	buy, err := l.deps.Router.Quote(ctx, cfg.InputMint, cfg.OutputMint, cfg.Amount, cfg.SlippageBps)
	if err != nil {
		return fmt.Errorf("buy quote: %w", err)
	}
	if buy == nil {
		logger.Debug("No buy route")
		return nil
	}
	a.BuyOut = buy.OutAmount
	sell, err := l.deps.Router.Quote(ctx, cfg.OutputMint, cfg.InputMint, buy.OutAmount, cfg.SlippageBps)
	if err != nil {
		return fmt.Errorf("sell quote: %w", err)
	}
	if sell == nil {
		logger.Debug("No sell route")
		return nil
	}
	a.SellOut = sell.OutAmount

	// Evaluating
	a.Outcome = models.OutcomeUnprofitable
	l.metrics.profit.Set(a.Profit().InexactFloat64())
	if !Profitable(sell.OutAmount, l.plan.RepaymentAmount) {
		logger.Debug("Not profitable",
			zap.Uint64("sell_out", sell.OutAmount),
			zap.Uint64("repayment", l.plan.RepaymentAmount))
		return nil
	}
	a.Profitable = true
	a.Outcome = models.OutcomeFailed
	logger.Info("Opportunity found",
		zap.String("buy_route", buy.Label),
		zap.String("sell_route", sell.Label),
		zap.Uint64("buy_out", buy.OutAmount),
		zap.Uint64("sell_out", sell.OutAmount),
		zap.Uint64("repayment", l.plan.RepaymentAmount),
		zap.Stringer("profit", a.Profit()))

	payer := l.deps.Sender.Payer()
	buyBundle, err := l.deps.Router.Instructions(ctx, *buy, payer)
	if err != nil {
		return fmt.Errorf("buy instructions: %w", err)
	}
	sellBundle, err := l.deps.Router.Instructions(ctx, *sell, payer)
	if err != nil {
		return fmt.Errorf("sell instructions: %w", err)
	}
	seq, err := l.seq.Build(l.plan, buyBundle, sellBundle)
	if err != nil {
		return err
	}
	a.Keys = len(seq.Keys)

	// Converging
	logger.Debug("state", zap.String("state", string(StateConverging)), zap.Int("keys", len(seq.Keys)),
		zap.Uint32("compute_units", seq.ComputeUnits))
	var table *model.AddressTable
	if cfg.Mode == ModeCached {
		table, err = l.convergeCached(logger, seq, a)
	} else {
		table, err = l.convergeFresh(ctx, logger, seq, a)
	}
	if err != nil {
		return err
	}

	// Submitting
	logger.Debug("state", zap.String("state", string(StateSubmitting)))
	var tables []model.AddressTable
	if table != nil {
		tables = append(tables, *table)
	}
	sig, err := l.deps.Sender.Send(ctx, seq.Instructions, tables...)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	a.Signature = sig.String()
	a.Outcome = models.OutcomeSubmitted
	return nil
}

// convergeCached records the keys the pair table lacks. The table itself is
// extended only by create-lookup-table-from-cache.
func (l *Loop) convergeCached(logger *zap.Logger, seq *Sequence, a *models.ArbitrageAttempt) (*model.AddressTable, error) {
	a.LookupTable = l.table.Address.String()

	missing := make([]solana.PublicKey, 0)
	for _, k := range seq.Keys {
		if !l.known.Has(k) {
			missing = append(missing, k)
		}
	}
	a.MissingKeys = len(missing)
	if len(missing) == 0 {
		return l.table, nil
	}

	added, err := l.trackMissing(missing)
	if err != nil {
		// does not block the send
		logger.Warn("Failed to persist missing keys", zap.Error(err))
	} else if added > 0 {
		logger.Info("New keys cached", zap.Int("added", added), zap.Int("missing", len(missing)))
	}
	return l.table, nil
}

func (l *Loop) trackMissing(keys []solana.PublicKey) (int, error) {
	name := l.config.CacheName
	unlock := l.deps.Store.Lock(name)
	defer unlock()

	c, err := cache.LoadKeyCache(l.deps.Store, name)
	if err != nil {
		return 0, err
	}
	added := c.Track(keys...)
	if added == 0 {
		return 0, nil
	}
	if err := l.deps.Store.Save(name, c); err != nil {
		return 0, err
	}
	return added, nil
}

// convergeFresh creates and fills a table for this opportunity only. The
// manager registers it, so maintenance commands can reclaim it later.
func (l *Loop) convergeFresh(ctx context.Context, logger *zap.Logger, seq *Sequence, a *models.ArbitrageAttempt) (*model.AddressTable, error) {
	addr, err := l.deps.Tables.Create(ctx)
	if err != nil {
		return nil, err
	}
	a.LookupTable = addr.String()
	a.MissingKeys = len(seq.Keys)

	if err := l.deps.Tables.Extend(ctx, addr, seq.Keys); err != nil {
		return nil, fmt.Errorf("extend fresh lookup table: %w", err)
	}
	if err := l.wait(ctx, l.config.TableWarmup); err != nil {
		return nil, err
	}

	table, err := l.deps.Tables.Load(ctx, addr)
	if err != nil {
		return nil, err
	}
	logger.Debug("Fresh lookup table ready", zap.String("table", addr.String()), zap.Int("addresses", len(table.Addresses)))
	return &model.AddressTable{Address: table.Address, Addresses: table.Addresses}, nil
}

func (l *Loop) finish(ctx context.Context, logger *zap.Logger, a *models.ArbitrageAttempt) {
	l.metrics.iterations.WithLabelValues(a.Outcome).Inc()

	fields := []zap.Field{
		zap.String("outcome", a.Outcome),
		zap.Uint64("buy_out", a.BuyOut),
		zap.Uint64("sell_out", a.SellOut),
		zap.Int64("duration_ms", a.DurationMs),
	}
	switch a.Outcome {
	case models.OutcomeSubmitted:
		logger.Info("Arbitrage submitted", append(fields, zap.String("signature", a.Signature))...)
	case models.OutcomeFailed:
		logger.Error("Arbitrage failed", append(fields, zap.String("error", a.ErrorMessage))...)
	default:
		if a.ErrorMessage != "" {
			fields = append(fields, zap.String("error", a.ErrorMessage))
		}
		logger.Debug("Iteration done", fields...)
	}

	if l.deps.Journal == nil {
		return
	}
	if err := l.deps.Journal.SaveAttempt(ctx, a); err != nil {
		logger.Warn("Failed to journal attempt", zap.Error(err))
	}
}

func (l *Loop) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock.After(d):
		return nil
	}
}
