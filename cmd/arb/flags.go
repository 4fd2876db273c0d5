// ====================================
// File: cmd/arb/flags.go
// ====================================
package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"github.com/rovshanmuradov/flashloan-arb/internal/wallet"
)

var errUsage = errors.New("usage error")

// mintValue is a pflag.Value accepting a base58 mint or an alias (usdc, usdt, sol).
type mintValue struct {
	key solana.PublicKey
	set bool
}

func (m *mintValue) String() string {
	if !m.set {
		return ""
	}
	return m.key.String()
}

func (m *mintValue) Set(s string) error {
	key, err := wallet.ResolveMint(s)
	if err != nil {
		return err
	}
	m.key, m.set = key, true
	return nil
}

func (m *mintValue) Type() string { return "mint" }

// pubkeyValue is an optional base58 address.
type pubkeyValue struct {
	key *solana.PublicKey
}

func (p *pubkeyValue) String() string {
	if p.key == nil {
		return ""
	}
	return p.key.String()
}

func (p *pubkeyValue) Set(s string) error {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", s, err)
	}
	p.key = &key
	return nil
}

func (p *pubkeyValue) Type() string { return "pubkey" }

// decimalValue is a UI amount such as 0.1.
type decimalValue struct {
	d   decimal.Decimal
	set bool
}

func (d *decimalValue) String() string {
	if !d.set {
		return ""
	}
	return d.d.String()
}

func (d *decimalValue) Set(s string) error {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	if !v.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", v)
	}
	d.d, d.set = v, true
	return nil
}

func (d *decimalValue) Type() string { return "decimal" }

func (d *decimalValue) Or(def decimal.Decimal) decimal.Decimal {
	if d.set {
		return d.d
	}
	return def
}

// sinceValue accepts a lookback duration ("24h") or an RFC3339 timestamp.
type sinceValue struct {
	ago time.Duration
	at  time.Time
	raw string
}

func (v *sinceValue) String() string { return v.raw }

func (v *sinceValue) Set(s string) error {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return fmt.Errorf("lookback must be positive, got %s", s)
		}
		v.ago, v.at, v.raw = d, time.Time{}, s
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("want a duration or an RFC3339 time, got %q", s)
	}
	v.ago, v.at, v.raw = 0, t, s
	return nil
}

func (v *sinceValue) Type() string { return "since" }

// At resolves the flag against now. Unset yields the zero time.
func (v *sinceValue) At(now time.Time) time.Time {
	if v.ago > 0 {
		return now.Add(-v.ago)
	}
	return v.at
}

func mintFlag(fs *flag.FlagSet, name, usage string) *mintValue {
	v := &mintValue{}
	fs.Var(v, name, usage)
	return v
}

func pubkeyFlag(fs *flag.FlagSet, name, usage string) *pubkeyValue {
	v := &pubkeyValue{}
	fs.Var(v, name, usage)
	return v
}

func amountFlag(fs *flag.FlagSet, name, usage string) *decimalValue {
	v := &decimalValue{}
	fs.Var(v, name, usage)
	return v
}

func sinceFlag(fs *flag.FlagSet, name, usage string) *sinceValue {
	v := &sinceValue{}
	fs.Var(v, name, usage)
	return v
}

// required returns errUsage naming the first unset flag.
func required(fs *flag.FlagSet, names ...string) error {
	for _, name := range names {
		if !fs.Changed(name) {
			return fmt.Errorf("%w: --%s is required", errUsage, name)
		}
	}
	return nil
}
