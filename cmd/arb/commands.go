// ====================================
// File: cmd/arb/commands.go
// ====================================
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/flashloan-arb/internal/arbitrage"
	"github.com/rovshanmuradov/flashloan-arb/internal/export"
	"github.com/rovshanmuradov/flashloan-arb/internal/lookuptable"
	"github.com/rovshanmuradov/flashloan-arb/internal/utils/logger"
	"github.com/rovshanmuradov/flashloan-arb/internal/wallet"
)

// ATA create instructions packed into one transaction.
const ataPerTx = 5

var errNoJournal = errors.New("postgres_url is not configured")

type action func(ctx context.Context, a *app) error

type command struct {
	name     string
	usage    string
	required []string
	setup    func(fs *flag.FlagSet) action
}

var commands = []command{
	{
		name:     "init-pool",
		usage:    "create a flash loan pool for a token mint",
		required: []string{"token-mint", "pool-mint"},
		setup: func(fs *flag.FlagSet) action {
			tokenMint := mintFlag(fs, "token-mint", "token the pool lends")
			poolMint := mintFlag(fs, "pool-mint", "pool share mint, authority must be the wallet")
			return func(ctx context.Context, a *app) error {
				res, err := a.flm.InitPool(tokenMint.key, poolMint.key)
				if err != nil {
					return err
				}
				if _, err := a.send(ctx, "init pool", res.Instructions); err != nil {
					return err
				}
				a.logger.Info("Pool created",
					zap.String("pool_authority", res.Pool.PoolAuthority.String()),
					zap.String("bank", res.Pool.BankToken.String()))
				return nil
			}
		},
	},
	{
		name:     "deposit",
		usage:    "deposit tokens into a flash loan pool",
		required: []string{"token-mint", "pool-mint", "amount"},
		setup: func(fs *flag.FlagSet) action {
			tokenMint := mintFlag(fs, "token-mint", "pool token mint")
			poolMint := mintFlag(fs, "pool-mint", "pool share mint")
			tokenFrom := pubkeyFlag(fs, "token-from", "source token account (default: wallet ATA)")
			amount := amountFlag(fs, "amount", "UI amount to deposit")
			return func(ctx context.Context, a *app) error {
				from, err := a.tokenAccountOr(tokenFrom.key, tokenMint.key)
				if err != nil {
					return err
				}
				res, err := a.flm.Deposit(ctx, tokenMint.key, poolMint.key, from, amount.d)
				if err != nil {
					return err
				}
				_, err = a.send(ctx, "deposit", res.Instructions)
				return err
			}
		},
	},
	{
		name:     "withdraw",
		usage:    "burn pool shares and withdraw tokens",
		required: []string{"token-mint", "pool-mint", "amount"},
		setup: func(fs *flag.FlagSet) action {
			tokenMint := mintFlag(fs, "token-mint", "pool token mint")
			poolMint := mintFlag(fs, "pool-mint", "pool share mint")
			shareFrom := pubkeyFlag(fs, "pool-share-token-from", "pool share token account (default: wallet ATA)")
			amount := amountFlag(fs, "amount", "UI amount to withdraw")
			return func(ctx context.Context, a *app) error {
				from, err := a.tokenAccountOr(shareFrom.key, poolMint.key)
				if err != nil {
					return err
				}
				res, err := a.flm.Withdraw(ctx, tokenMint.key, poolMint.key, from, amount.d)
				if err != nil {
					return err
				}
				_, err = a.send(ctx, "withdraw", res.Instructions)
				return err
			}
		},
	},
	exampleCommand("example-flash-loan", "borrow and repay in a legacy transaction",
		func(ctx context.Context, a *app, ex *arbitrage.Examples, mint solana.PublicKey, amount uint64, referral *solana.PublicKey) error {
			_, err := ex.FlashLoan(ctx, mint, amount, referral)
			return err
		}),
	exampleCommand("seed-example-flash-loan-keys", "record the account keys of the example flash loan",
		func(ctx context.Context, a *app, ex *arbitrage.Examples, mint solana.PublicKey, amount uint64, referral *solana.PublicKey) error {
			_, err := ex.SeedKeys(ctx, mint, amount, referral)
			return err
		}),
	{
		name:     "create-example-lookup-table",
		usage:    "create or extend the lookup table of the example flash loan",
		required: []string{"token-mint"},
		setup: func(fs *flag.FlagSet) action {
			mint := mintFlag(fs, "token-mint", "borrowed token")
			return func(ctx context.Context, a *app) error {
				res, err := a.examples().CreateTable(ctx, mint.key)
				if res != nil {
					a.logger.Info("Example lookup table converged",
						zap.String("table", res.Table.String()),
						zap.Int("missing", res.Missing))
				}
				return err
			}
		},
	},
	exampleCommand("example-flash-loan-with-lookup-table", "borrow and repay in a v0 transaction using the example table",
		func(ctx context.Context, a *app, ex *arbitrage.Examples, mint solana.PublicKey, amount uint64, referral *solana.PublicKey) error {
			_, err := ex.FlashLoanWithTable(ctx, mint, amount, referral)
			return err
		}),
	{
		name:  "create-token-accounts",
		usage: "create associated token accounts for common mints",
		setup: func(fs *flag.FlagSet) action {
			owner := pubkeyFlag(fs, "owner", "owner of the accounts (default: wallet)")
			return func(ctx context.Context, a *app) error {
				var o solana.PublicKey
				if owner.key != nil {
					o = *owner.key
				}
				ixs, err := a.accounts.Missing(ctx, wallet.CommonMints, o)
				if err != nil {
					return err
				}
				if len(ixs) == 0 {
					a.logger.Info("All token accounts exist")
					return nil
				}
				for start := 0; start < len(ixs); start += ataPerTx {
					end := min(start+ataPerTx, len(ixs))
					if _, err := a.send(ctx, "create token accounts", ixs[start:end]); err != nil {
						return err
					}
				}
				a.logger.Info("Token accounts created", zap.Int("count", len(ixs)))
				return nil
			}
		},
	},
	{
		name:     "wrap-native",
		usage:    "move SOL into the wallet wSOL account",
		required: []string{"amount"},
		setup: func(fs *flag.FlagSet) action {
			amount := amountFlag(fs, "amount", "SOL to wrap")
			return func(ctx context.Context, a *app) error {
				lamports, err := wallet.SolToLamports(amount.d)
				if err != nil {
					return err
				}
				create, _, err := wallet.CreateAssociatedTokenAccountIdempotentInstruction(a.wallet.PublicKey, a.wallet.PublicKey, solana.WrappedSol)
				if err != nil {
					return err
				}
				wrap, err := a.accounts.WrapNative(ctx, lamports)
				if err != nil {
					return err
				}
				_, err = a.send(ctx, "wrap SOL", append([]solana.Instruction{create}, wrap...))
				return err
			}
		},
	},
	{
		name:  "unwrap-native",
		usage: "close the wallet wSOL account and reclaim SOL",
		setup: func(fs *flag.FlagSet) action {
			keepOpen := fs.Bool("keep-open", false, "recreate an empty wSOL account afterwards")
			return func(ctx context.Context, a *app) error {
				ixs, err := a.accounts.UnwrapNative(*keepOpen)
				if err != nil {
					return err
				}
				_, err = a.send(ctx, "unwrap SOL", ixs)
				return err
			}
		},
	},
	{
		name:     "seed-jupiter-arb-keys",
		usage:    "sample routes of a pair and count their account keys",
		required: []string{"token-mint1", "token-mint2"},
		setup: func(fs *flag.FlagSet) action {
			pair := pairFlags(fs)
			rounds := fs.Int("seedRounds", 0, "sampling rounds (default: seed_rounds)")
			sleep := fs.Duration("sleepTime", 0, "pause between rounds (default: seed_interval_ms)")
			take := fs.Int("takeRoutes", 0, "best routes sampled per direction (default: seed_take_routes)")
			return func(ctx context.Context, a *app) error {
				amount, err := pair.baseAmount(ctx, a)
				if err != nil {
					return err
				}
				cfg := arbitrage.SeedConfig{
					InputMint:   pair.mint1.key,
					OutputMint:  pair.mint2.key,
					Amount:      amount,
					SlippageBps: pair.slippage(a),
					Rounds:      orInt(*rounds, a.cfg.SeedRounds),
					TakeRoutes:  orInt(*take, a.cfg.SeedTakeRoutes),
					Interval:    orDuration(*sleep, a.cfg.SeedInterval),
					CacheName:   a.names.PairKeys(pair.mint1.key, pair.mint2.key),
				}
				seeder := arbitrage.NewSeeder(a.jupiter, a.flm, a.wallet.PublicKey, a.store, a.tables, a.clock,
					logger.WithPair(a.logger, pair.mint1.key, pair.mint2.key))
				res, err := seeder.Run(ctx, cfg)
				if res != nil {
					a.logger.Info("Seeding result",
						zap.Int("rounds", res.Rounds),
						zap.Int("routes", res.Routes),
						zap.Int("keys", res.Keys),
						zap.String("saved_to", cfg.CacheName))
				}
				return err
			}
		},
	},
	{
		name:     "create-lookup-table-from-cache",
		usage:    "create or extend the lookup table of a pair key cache",
		required: []string{"token-mint1", "token-mint2"},
		setup: func(fs *flag.FlagSet) action {
			mint1 := mintFlag(fs, "token-mint1", "borrowed token")
			mint2 := mintFlag(fs, "token-mint2", "intermediate token")
			return func(ctx context.Context, a *app) error {
				name := a.names.PairKeys(mint1.key, mint2.key)
				res, err := a.manager.Converge(ctx, name)
				if res != nil {
					a.logger.Info("Lookup table converged",
						zap.String("table", res.Table.String()),
						zap.Int("missing", res.Missing),
						zap.Int("skipped", res.Skipped))
				}
				return err
			}
		},
	},
	arbCommand("simple-jupiter-arb", "arbitrage a pair, creating a lookup table per opportunity", arbitrage.ModeUncached),
	arbCommand("cached-jupiter-arb", "arbitrage a pair using the lookup table of its key cache", arbitrage.ModeCached),
	{
		name:  "deactivate-lookup-tables",
		usage: "deactivate every registered lookup table",
		setup: func(fs *flag.FlagSet) action {
			file := fs.String("cache-file", "", "table registry document (default: <network>-lookupTables.json)")
			return func(ctx context.Context, a *app) error {
				res, err := a.managerFor(a.registryFor(*file), nil).DeactivateAll(ctx)
				logSweep(a.logger, "deactivate", res)
				return err
			}
		},
	},
	{
		name:  "close-lookup-tables",
		usage: "close deactivated lookup tables whose cooldown has passed",
		setup: func(fs *flag.FlagSet) action {
			file := fs.String("cache-file", "", "table registry document (default: <network>-lookupTables.json)")
			return func(ctx context.Context, a *app) error {
				res, err := a.managerFor(a.registryFor(*file), nil).CloseEligible(ctx)
				logSweep(a.logger, "close", res)
				return err
			}
		},
	},
	{
		name:  "extract-lookup-table-keys",
		usage: "count the addresses held by registered lookup tables",
		setup: func(fs *flag.FlagSet) action {
			file := fs.String("cache-file", "", "table registry document (default: <network>-lookupTables.json)")
			return func(ctx context.Context, a *app) error {
				_, _, err := a.managerFor(a.registryFor(*file), nil).ExtractKeys(ctx)
				return err
			}
		},
	},
	{
		name:  "list-attempts",
		usage: "print or export journaled arbitrage attempts, newest first",
		setup: func(fs *flag.FlagSet) action {
			mint1 := mintFlag(fs, "token-mint1", "filter by borrowed token")
			mint2 := mintFlag(fs, "token-mint2", "filter by intermediate token")
			limit := fs.Int("limit", 20, "attempts to read")
			filter := attemptFilterFlags(fs)
			format := fs.String("export", "", "write a csv or json file instead of logging")
			outDir := fs.String("out", "exports", "export directory")
			return func(ctx context.Context, a *app) error {
				if a.journal == nil {
					return errNoJournal
				}
				attempts, err := a.journal.ListAttempts(ctx, mint1.String(), mint2.String(), *limit)
				if err != nil {
					return err
				}
				options := filter.options(a.clock.Now())
				if *format != "" {
					options.Format, err = export.ParseFormat(*format)
					if err != nil {
						return fmt.Errorf("%w: %w", errUsage, err)
					}
					options.OutputDir = *outDir
					_, err = export.NewAttemptExporter(a.clock, a.logger).Export(attempts, options)
					return err
				}
				attempts = export.Filter(attempts, options)
				for _, at := range attempts {
					a.logger.Info("Attempt",
						zap.String("id", at.AttemptID),
						zap.Time("at", at.EvaluatedAt),
						zap.String("mode", at.Mode),
						zap.String("outcome", at.Outcome),
						zap.Stringer("profit", at.Profit()),
						zap.String("signature", at.Signature),
						zap.String("error", at.ErrorMessage))
				}
				return nil
			}
		},
	},
}

type exampleFunc func(ctx context.Context, a *app, ex *arbitrage.Examples, mint solana.PublicKey, amount uint64, referral *solana.PublicKey) error

func exampleCommand(name, usage string, run exampleFunc) command {
	return command{
		name:     name,
		usage:    usage,
		required: []string{"token-mint", "amount"},
		setup: func(fs *flag.FlagSet) action {
			mint := mintFlag(fs, "token-mint", "borrowed token")
			amount := amountFlag(fs, "amount", "UI amount to borrow")
			referral := pubkeyFlag(fs, "referral-wallet", "wallet receiving the referral fee")
			return func(ctx context.Context, a *app) error {
				base, err := a.flm.ToBaseUnits(ctx, mint.key, amount.d)
				if err != nil {
					return err
				}
				return run(ctx, a, a.examples(), mint.key, base, referral.key)
			}
		},
	}
}

func arbCommand(name, usage string, mode arbitrage.Mode) command {
	return command{
		name:     name,
		usage:    usage,
		required: []string{"token-mint1", "token-mint2"},
		setup: func(fs *flag.FlagSet) action {
			pair := pairFlags(fs)
			iterations := fs.Int("iterations", 0, "stop after n iterations (0: run until interrupted)")
			interval := fs.Duration("interval", 0, "pause between iterations (default: arb_interval_ms)")

			// the loop registers metrics, it is built once across retries
			var loop *arbitrage.Loop
			return func(ctx context.Context, a *app) error {
				if loop == nil {
					amount, err := pair.baseAmount(ctx, a)
					if err != nil {
						return err
					}
					loop = arbitrage.NewLoop(a.deps(), arbitrage.LoopConfig{
						Mode:          mode,
						InputMint:     pair.mint1.key,
						OutputMint:    pair.mint2.key,
						Amount:        amount,
						SlippageBps:   pair.slippage(a),
						Interval:      orDuration(*interval, a.cfg.ArbInterval),
						TableWarmup:   a.cfg.TableWarmup,
						CacheName:     a.names.PairKeys(pair.mint1.key, pair.mint2.key),
						MaxIterations: *iterations,
					}, a.clock, logger.WithPair(a.logger, pair.mint1.key, pair.mint2.key), a.registry)
				}
				return loop.Run(ctx)
			}
		},
	}
}

// attemptFilter holds the list-attempts filters shared by logging and export.
type attemptFilter struct {
	outcome    *string
	since      *sinceValue
	profitable *bool
}

func attemptFilterFlags(fs *flag.FlagSet) *attemptFilter {
	return &attemptFilter{
		outcome:    fs.String("outcome", "", "filter by outcome (no_quote, unprofitable, submitted, failed)"),
		since:      sinceFlag(fs, "since", "only attempts evaluated after a lookback (24h) or an RFC3339 time"),
		profitable: fs.Bool("profitable", false, "only attempts whose quotes cleared the repayment"),
	}
}

func (f *attemptFilter) options(now time.Time) export.Options {
	return export.Options{
		Outcome:        *f.outcome,
		Since:          f.since.At(now),
		OnlyProfitable: *f.profitable,
	}
}

// pair groups the flags shared by the pair commands.
type pair struct {
	mint1, mint2 *mintValue
	amount       *decimalValue
	slippageBps  *int
}

func pairFlags(fs *flag.FlagSet) *pair {
	return &pair{
		mint1:       mintFlag(fs, "token-mint1", "borrowed token"),
		mint2:       mintFlag(fs, "token-mint2", "intermediate token"),
		amount:      amountFlag(fs, "amount", "UI amount of token-mint1 (default: seed_amount)"),
		slippageBps: fs.Int("slippageBps", 0, "slippage in basis points (default: slippage_bps)"),
	}
}

func (p *pair) baseAmount(ctx context.Context, a *app) (uint64, error) {
	return a.flm.ToBaseUnits(ctx, p.mint1.key, p.amount.Or(a.cfg.SeedAmountValue))
}

func (p *pair) slippage(a *app) uint16 {
	return uint16(orInt(*p.slippageBps, a.cfg.SlippageBps))
}

func (a *app) examples() *arbitrage.Examples {
	return arbitrage.NewExamples(a.deps(), a.manager, a.tables, a.names, a.logger)
}

// tokenAccountOr returns acct, or the wallet ATA of mint when acct is nil.
func (a *app) tokenAccountOr(acct *solana.PublicKey, mint solana.PublicKey) (solana.PublicKey, error) {
	if acct != nil {
		return *acct, nil
	}
	return a.wallet.GetATA(mint)
}

func logSweep(logger *zap.Logger, op string, res *lookuptable.SweepResult) {
	if res == nil {
		return
	}
	logger.Info("Sweep done",
		zap.String("op", op),
		zap.Int("tracked", res.Tracked),
		zap.Int("eligible", res.Eligible),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed))
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}
