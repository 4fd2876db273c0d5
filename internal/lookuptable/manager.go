// internal/lookuptable/manager.go
package lookuptable

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain"
	alt "github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solana/programs/lookuptable"
	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solbc/transaction"
	"github.com/rovshanmuradov/flashloan-arb/internal/cache"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
	"github.com/rovshanmuradov/flashloan-arb/internal/retry"
)

// MaxAccountsToFetch bounds one getMultipleAccounts request.
const MaxAccountsToFetch = 100

// Ledger is the read side the manager needs.
type Ledger interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
}

// Sender submits one transaction. The payer is also the table authority.
type Sender interface {
	Send(ctx context.Context, ixs []solana.Instruction, tables ...model.AddressTable) (solana.Signature, error)
	Payer() solana.PublicKey
}

type Config struct {
	// Retry applies to every ledger write: create, each extend batch,
	// each deactivate or close batch.
	Retry retry.Policy
}

// Manager converges lookup tables with key caches and sweeps old tables.
type Manager struct {
	ledger   Ledger
	sender   Sender
	store    cache.Store
	registry *cache.Registry
	config   Config
	logger   *zap.Logger
	metrics  *metrics
}

func NewManager(ledger Ledger, sender Sender, store cache.Store, registry *cache.Registry, config Config, logger *zap.Logger, reg prometheus.Registerer) *Manager {
	logger = logger.Named("lookup-table")
	if config.Retry.MaxTries == 0 {
		config.Retry = retry.DefaultPolicy("", logger)
	}
	if config.Retry.Logger == nil {
		config.Retry.Logger = logger
	}
	return &Manager{
		ledger:   ledger,
		sender:   sender,
		store:    store,
		registry: registry,
		config:   config,
		logger:   logger,
		metrics:  newMetrics(reg),
	}
}

func (m *Manager) policy(name string) retry.Policy {
	p := m.config.Retry
	p.Name = name
	return p
}

// landedFunc reports whether a transaction whose confirmation timed out
// took effect on chain anyway.
type landedFunc func(ctx context.Context) (bool, error)

// send submits ixs under the retry policy. Permanent send errors stop the
// retries. After a confirmation timeout landed is asked first, so a write
// that went through is not sent again.
func (m *Manager) send(ctx context.Context, name string, ixs []solana.Instruction, landed landedFunc) (solana.Signature, error) {
	return retry.Do(ctx, m.policy(name), func() (solana.Signature, error) {
		sig, err := m.sender.Send(ctx, ixs)
		switch {
		case err == nil:
			return sig, nil
		case transaction.IsPermanent(err):
			return sig, retry.Permanent(err)
		case errors.Is(err, transaction.ErrConfirmationTimeout) && landed != nil:
			if ok, lerr := landed(ctx); lerr == nil && ok {
				m.logger.Info("Transaction landed after confirmation timeout",
					zap.String("operation", name),
					zap.String("signature", sig.String()))
				return sig, nil
			}
		}
		return sig, err
	})
}

// Load reads and decodes the table at addr.
func (m *Manager) Load(ctx context.Context, addr solana.PublicKey) (*alt.Table, error) {
	info, err := m.ledger.GetAccountInfo(ctx, addr)
	if errors.Is(err, blockchain.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("load lookup table %s: %w", addr, err)
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, addr)
	}
	return alt.Decode(addr, info.GetBinary())
}

// absentKeys returns the keys not yet held by the on-chain table.
func (m *Manager) absentKeys(ctx context.Context, addr solana.PublicKey, keys []solana.PublicKey) ([]solana.PublicKey, error) {
	table, err := m.Load(ctx, addr)
	if err != nil {
		return nil, err
	}
	held := table.Contains()
	var out []solana.PublicKey
	for _, k := range keys {
		if _, ok := held[k]; !ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// Create creates an empty table owned by the payer. The derived address is
// registered before the create is sent, so a table that lands after a
// confirmation timeout is still tracked; addresses whose create was rejected
// before submission are unregistered again.
func (m *Manager) Create(ctx context.Context) (solana.PublicKey, error) {
	payer := m.sender.Payer()
	addr, err := retry.Do(ctx, m.policy("create-lookup-table"), func() (solana.PublicKey, error) {
		// derivation requires a slot still present in SlotHashes
		slot, err := m.ledger.GetSlot(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return solana.PublicKey{}, err
		}
		ix, addr, err := (&alt.CreateInstruction{Authority: payer, Payer: payer, RecentSlot: slot}).Build()
		if err != nil {
			return solana.PublicKey{}, retry.Permanent(err)
		}
		if m.registry != nil {
			if err := m.registry.Add(addr); err != nil {
				return solana.PublicKey{}, retry.Permanent(fmt.Errorf("register lookup table %s: %w", addr, err))
			}
		}

		sig, err := m.sender.Send(ctx, []solana.Instruction{ix})
		switch {
		case err == nil:
		case errors.Is(err, transaction.ErrConfirmationTimeout):
			if _, lerr := m.Load(ctx, addr); lerr != nil {
				// may still land: stays registered
				return solana.PublicKey{}, err
			}
			m.logger.Info("Lookup table landed after confirmation timeout", zap.String("table", addr.String()))
		case transaction.IsPermanent(err):
			m.unregister(addr)
			return solana.PublicKey{}, retry.Permanent(err)
		default:
			return solana.PublicKey{}, err
		}

		m.logger.Info("Lookup table created",
			zap.String("table", addr.String()),
			zap.Uint64("recent_slot", slot),
			zap.String("signature", sig.String()))
		return addr, nil
	})
	m.metrics.maintenance.WithLabelValues("create", result(err)).Inc()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("could not create address lookup table: %w", err)
	}
	return addr, nil
}

func (m *Manager) unregister(addr solana.PublicKey) {
	if m.registry == nil {
		return
	}
	if err := m.registry.Remove(addr); err != nil {
		m.logger.Warn("Failed to unregister lookup table", zap.String("table", addr.String()), zap.Error(err))
	}
}

// EnsureTable returns the table of the named key cache, creating it and
// persisting its address first when the cache has none.
func (m *Manager) EnsureTable(ctx context.Context, name string) (solana.PublicKey, error) {
	unlock := m.store.Lock(name)
	defer unlock()

	keys, err := cache.LoadKeyCache(m.store, name)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if addr, ok := keys.LookupTable(); ok {
		return addr, nil
	}

	addr, err := m.Create(ctx)
	if err != nil {
		return solana.PublicKey{}, err
	}

	if err := keys.SetLookupTable(addr); err != nil {
		return solana.PublicKey{}, err
	}
	if err := m.store.Save(name, keys); err != nil {
		return solana.PublicKey{}, fmt.Errorf("persist lookup table %s into %s: %w", addr, name, err)
	}
	m.logger.Info("Lookup table saved", zap.String("table", addr.String()), zap.String("cache", name))
	return addr, nil
}

// Extend adds keys to table in batches of MaxExtendBatch. Batches run
// concurrently and are retried independently; a *PartialError lists the
// batches that exhausted their retries.
func (m *Manager) Extend(ctx context.Context, table solana.PublicKey, keys []solana.PublicKey) error {
	keys = dedupe(keys)
	if len(keys) == 0 {
		return nil
	}
	payer := m.sender.Payer()
	batches := chunk(keys, alt.MaxExtendBatch)

	var (
		mu     sync.Mutex
		failed []BatchError
		g      errgroup.Group
	)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			err := m.extendBatch(ctx, table, payer, i, batch)
			m.metrics.batches.WithLabelValues(result(err)).Inc()
			if err != nil {
				mu.Lock()
				failed = append(failed, BatchError{Index: i, Keys: batch, Err: err})
				mu.Unlock()
				return nil
			}
			m.metrics.keysAdded.Add(float64(len(batch)))
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("Lookup table extended",
		zap.String("table", table.String()),
		zap.Int("keys", len(keys)),
		zap.Int("batches", len(batches)),
		zap.Int("failed_batches", len(failed)))

	if len(failed) == 0 {
		return nil
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })
	return &PartialError{Table: table, Batches: len(batches), Failed: failed}
}

// extendBatch sends one extend under the retry policy. After a confirmation
// timeout the batch is diffed against the on-chain table before it is sent
// again: the program appends duplicates, it does not skip them.
func (m *Manager) extendBatch(ctx context.Context, table, payer solana.PublicKey, i int, batch []solana.PublicKey) error {
	pending, verify := batch, false
	return retry.Run(ctx, m.policy(fmt.Sprintf("extend-lookup-table[%d]", i)), func() error {
		if verify {
			left, err := m.absentKeys(ctx, table, pending)
			if err != nil {
				return err
			}
			pending, verify = left, false
			if len(pending) == 0 {
				return nil
			}
		}

		ix, err := (&alt.ExtendInstruction{
			Table:     table,
			Authority: payer,
			Payer:     payer,
			Addresses: pending,
		}).Build()
		if err != nil {
			return retry.Permanent(err)
		}
		_, err = m.sender.Send(ctx, []solana.Instruction{ix})
		switch {
		case err == nil:
			return nil
		case transaction.IsPermanent(err):
			return retry.Permanent(err)
		case errors.Is(err, transaction.ErrConfirmationTimeout):
			verify = true
			if left, lerr := m.absentKeys(ctx, table, pending); lerr == nil {
				pending, verify = left, false
				if len(pending) == 0 {
					m.logger.Info("Extend landed after confirmation timeout",
						zap.String("table", table.String()),
						zap.Int("batch", i))
					return nil
				}
			}
		}
		return err
	})
}

// ConvergeResult describes one convergence pass.
type ConvergeResult struct {
	Table   solana.PublicKey
	Missing int
	// Skipped keys did not fit into the table.
	Skipped int
}

// Converge makes the table of the named cache hold every cached key.
func (m *Manager) Converge(ctx context.Context, name string) (*ConvergeResult, error) {
	addr, err := m.EnsureTable(ctx, name)
	if err != nil {
		return nil, err
	}

	keys, err := cache.LoadKeyCache(m.store, name)
	if err != nil {
		return nil, err
	}
	table, err := m.Load(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !table.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrTableInactive, addr)
	}

	missing := keys.DiffAgainstTable(cache.NewKeySet(table.Addresses...))
	res := &ConvergeResult{Table: addr, Missing: len(missing)}
	if len(missing) == 0 {
		m.logger.Info("Lookup table up to date", zap.String("table", addr.String()), zap.Int("keys", keys.Len()))
		return res, nil
	}

	var capErr error
	if room := table.Remaining(); len(missing) > room {
		res.Skipped = len(missing) - room
		missing = missing[:room]
		capErr = fmt.Errorf("%w: %s, %d keys left out", ErrTableFull, addr, res.Skipped)
	}

	err = m.Extend(ctx, addr, missing)
	m.logger.Info("Added keys to lookup table",
		zap.String("table", addr.String()),
		zap.Int("missing", res.Missing),
		zap.Int("skipped", res.Skipped))
	return res, errors.Join(err, capErr)
}

func dedupe(keys []solana.PublicKey) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{}, len(keys))
	out := make([]solana.PublicKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
