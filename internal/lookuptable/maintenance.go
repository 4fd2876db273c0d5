// internal/lookuptable/maintenance.go
package lookuptable

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alt "github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solana/programs/lookuptable"
	"github.com/rovshanmuradov/flashloan-arb/internal/cache"
)

// SweepResult summarizes a deactivate or close sweep.
type SweepResult struct {
	Tracked   int // tables found on chain
	Eligible  int
	Processed int
	Failed    int
}

// Tables loads every registered table that still exists on chain, in
// registry order. Accounts are fetched in chunks of MaxAccountsToFetch.
func (m *Manager) Tables(ctx context.Context) ([]*alt.Table, error) {
	addrs, err := m.registry.Addresses()
	if err != nil {
		return nil, err
	}

	chunks := chunk(addrs, MaxAccountsToFetch)
	results := make([][]*rpc.Account, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			res, err := m.ledger.GetMultipleAccounts(gctx, c)
			if err != nil {
				return fmt.Errorf("fetch lookup tables: %w", err)
			}
			results[i] = res.Value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var tables []*alt.Table
	for i, c := range chunks {
		for j, addr := range c {
			if j >= len(results[i]) || results[i][j] == nil {
				m.logger.Debug("Registered table not on chain", zap.String("table", addr.String()))
				continue
			}
			t, err := alt.Decode(addr, results[i][j].Data.GetBinary())
			if err != nil {
				m.logger.Warn("Skipping undecodable table", zap.String("table", addr.String()), zap.Error(err))
				continue
			}
			tables = append(tables, t)
		}
	}
	return tables, nil
}

// DeactivateAll deactivates every active registered table, MaxTablesPerTx
// per transaction. Batches are retried independently; failures are joined.
func (m *Manager) DeactivateAll(ctx context.Context) (*SweepResult, error) {
	tables, err := m.Tables(ctx)
	if err != nil {
		return nil, err
	}
	authority := m.sender.Payer()

	var active []*alt.Table
	for _, t := range tables {
		if t.IsActive() {
			active = append(active, t)
		}
	}
	res := &SweepResult{Tracked: len(tables), Eligible: len(active)}
	m.logger.Info("Deactivating lookup tables",
		zap.Int("total", len(tables)),
		zap.Int("active", len(active)))

	var errs []error
	for i, batch := range chunk(active, alt.MaxTablesPerTx) {
		ixs := make([]solana.Instruction, 0, len(batch))
		for _, t := range batch {
			ix, err := (&alt.DeactivateInstruction{Table: t.Address, Authority: authority}).Build()
			if err != nil {
				return res, err
			}
			ixs = append(ixs, ix)
		}
		sig, err := m.send(ctx, fmt.Sprintf("deactivate-lookup-tables[%d]", i), ixs, m.allDeactivated(batch))
		m.metrics.maintenance.WithLabelValues("deactivate", result(err)).Add(float64(len(batch)))
		if err != nil {
			m.logger.Error("Failed to deactivate tables", zap.Int("count", len(batch)), zap.Error(err))
			res.Failed += len(batch)
			errs = append(errs, fmt.Errorf("deactivate batch %d: %w", i, err))
			continue
		}
		res.Processed += len(batch)
		m.logger.Info("Deactivated tables", zap.Int("count", len(batch)), zap.String("signature", sig.String()))
	}
	return res, errors.Join(errs...)
}

// CloseEligible closes every registered table whose deactivation slot is
// behind the current confirmed slot. Addresses of closed batches are removed
// from the registry; failed batches stay registered.
func (m *Manager) CloseEligible(ctx context.Context) (*SweepResult, error) {
	tables, err := m.Tables(ctx)
	if err != nil {
		return nil, err
	}
	currentSlot, err := m.ledger.GetSlot(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("get current slot: %w", err)
	}

	var eligible []*alt.Table
	for _, t := range tables {
		if t.CanClose(currentSlot) {
			eligible = append(eligible, t)
		}
	}
	res := &SweepResult{Tracked: len(tables), Eligible: len(eligible)}
	m.logger.Info("Closing lookup tables",
		zap.Uint64("current_slot", currentSlot),
		zap.Int("total", len(tables)),
		zap.Int("closable", len(eligible)))

	authority := m.sender.Payer()
	var errs []error
	for i, batch := range chunk(eligible, alt.MaxTablesPerTx) {
		ixs := make([]solana.Instruction, 0, len(batch))
		addrs := make([]solana.PublicKey, 0, len(batch))
		for _, t := range batch {
			ix, err := (&alt.CloseInstruction{Table: t.Address, Authority: authority, Recipient: authority}).Build()
			if err != nil {
				return res, err
			}
			ixs = append(ixs, ix)
			addrs = append(addrs, t.Address)
		}
		sig, err := m.send(ctx, fmt.Sprintf("close-lookup-tables[%d]", i), ixs, m.allClosed(addrs))
		m.metrics.maintenance.WithLabelValues("close", result(err)).Add(float64(len(batch)))
		if err != nil {
			m.logger.Error("Failed to close tables", zap.Int("count", len(batch)), zap.Error(err))
			res.Failed += len(batch)
			errs = append(errs, fmt.Errorf("close batch %d: %w", i, err))
			continue
		}
		res.Processed += len(batch)
		m.logger.Info("Closed tables", zap.Int("count", len(batch)), zap.String("signature", sig.String()))
		if err := m.registry.Remove(addrs...); err != nil {
			errs = append(errs, fmt.Errorf("unregister closed tables: %w", err))
		}
	}
	return res, errors.Join(errs...)
}

// allDeactivated checks whether every table of batch is already deactivated.
func (m *Manager) allDeactivated(batch []*alt.Table) landedFunc {
	return func(ctx context.Context) (bool, error) {
		for _, t := range batch {
			cur, err := m.Load(ctx, t.Address)
			if err != nil {
				return false, err
			}
			if cur.IsActive() {
				return false, nil
			}
		}
		return true, nil
	}
}

// allClosed checks whether every table of addrs is gone from the ledger.
func (m *Manager) allClosed(addrs []solana.PublicKey) landedFunc {
	return func(ctx context.Context) (bool, error) {
		for _, addr := range addrs {
			_, err := m.Load(ctx, addr)
			if errors.Is(err, ErrTableNotFound) {
				continue
			}
			return false, err
		}
		return true, nil
	}
}

// ExtractKeys counts how many registered tables hold each address and saves
// the counts next to the registry. It returns the counts and the document name.
func (m *Manager) ExtractKeys(ctx context.Context) (*cache.KeyCache, string, error) {
	tables, err := m.Tables(ctx)
	if err != nil {
		return nil, "", err
	}
	counts := cache.NewKeyCache()
	for _, t := range tables {
		counts.Record(t.Addresses...)
	}

	name := cache.ExtractedKeys(m.registry.Name())
	if err := m.store.Save(name, counts); err != nil {
		return nil, "", err
	}
	m.logger.Info("Extracted lookup table keys",
		zap.Int("tables", len(tables)),
		zap.Int("keys", counts.Len()),
		zap.String("saved_to", name))
	return counts, name, nil
}
