// ====================================
// File: cmd/arb/main.go
// ====================================
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/flashloan-arb/internal/arbitrage"
	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solbc/transaction"
	"github.com/rovshanmuradov/flashloan-arb/internal/config"
	"github.com/rovshanmuradov/flashloan-arb/internal/lookuptable"
	"github.com/rovshanmuradov/flashloan-arb/internal/retry"
	"github.com/rovshanmuradov/flashloan-arb/internal/utils/logger"
	"github.com/rovshanmuradov/flashloan-arb/internal/wallet"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// invocation is a parsed command line.
type invocation struct {
	cmd        command
	act        action
	configPath string
}

func parseArgs(args []string, stderr io.Writer) (*invocation, error) {
	root := flag.NewFlagSet("flashloan-arb", flag.ContinueOnError)
	root.SetInterspersed(false)
	root.SetOutput(stderr)
	configPath := root.String("config", "", "config file (yaml, json or toml)")
	root.Usage = func() { printUsage(stderr, root) }
	if err := root.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if root.NArg() == 0 {
		root.Usage()
		return nil, fmt.Errorf("%w: missing command", errUsage)
	}

	name := root.Arg(0)
	cmd, ok := lookupCommand(name)
	if !ok {
		root.Usage()
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	act := cmd.setup(fs)
	if err := fs.Parse(root.Args()[1:]); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	if err := required(fs, cmd.required...); err != nil {
		return nil, err
	}
	return &invocation{cmd: cmd, act: act, configPath: *configPath}, nil
}

func printUsage(w io.Writer, root *flag.FlagSet) {
	fmt.Fprintln(w, "usage: flashloan-arb [--config file] <command> [flags]")
	fmt.Fprintln(w, "\ncommands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-38s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(w, "\nglobal flags:")
	fmt.Fprint(w, root.FlagUsages())
}

func run(args []string) error {
	inv, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(inv.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	base, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	defer base.Close()
	defer base.Sync()
	log := base.WithCommand(inv.cmd.name, cfg.Network())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	a.serveMetrics(ctx)

	end := base.TrackPerformance(inv.cmd.name)
	err = retry.Run(ctx, retry.Policy{
		MaxTries: uint(cfg.CommandRetries),
		Interval: cfg.CommandRetryDelay,
		Name:     inv.cmd.name,
		Logger:   log,
	}, func() error {
		err := inv.act(ctx, a)
		if err != nil && fatal(err) {
			return retry.Permanent(err)
		}
		return err
	})
	end()
	if errors.Is(err, context.Canceled) {
		log.Info("Interrupted")
		return nil
	}
	if err != nil {
		base.LogError("Command failed", err,
			zap.String("command", inv.cmd.name),
			zap.String("network", cfg.Network()))
		return err
	}
	log.Info("Done")
	return nil
}

// fatal reports errors another attempt of the whole command cannot fix.
func fatal(err error) bool {
	switch {
	case errors.Is(err, errUsage),
		errors.Is(err, errNoJournal),
		errors.Is(err, arbitrage.ErrLookupTableMissing),
		errors.Is(err, arbitrage.ErrInvalidInterval),
		errors.Is(err, lookuptable.ErrTableInactive),
		errors.Is(err, lookuptable.ErrTableFull),
		errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, context.Canceled),
		transaction.IsPermanent(err):
		return true
	}
	return false
}
