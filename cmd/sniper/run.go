// ====================================
// File: cmd/sniper/run.go
// ====================================
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/pool-sniper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/pool-sniper/internal/config"
	"github.com/rovshanmuradov/pool-sniper/internal/logger"
	"github.com/rovshanmuradov/pool-sniper/internal/quote"
	"github.com/rovshanmuradov/pool-sniper/internal/sniper"
	"github.com/rovshanmuradov/pool-sniper/internal/swap"
	"github.com/rovshanmuradov/pool-sniper/internal/watcher"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch for the pool and buy the target token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringSlice("rpc-list", nil, "HTTP RPC endpoints")
	f.String("websocket-url", "", "websocket endpoint (derived from the first RPC when empty)")
	f.String("env-file", "", "dotenv file with SNIPER_* variables (default .env if present)")
	f.String("key-file", "", "wallet key file (base58 or solana-keygen JSON)")
	f.String("target-token", "", "mint of the token to buy")
	f.String("pool-address", "", "known pool account, if any")
	f.String("program-id", config.DefaultProgramID, "program that owns the pool accounts")
	f.String("source-asset", string(swap.SourceNative), "native or usdc")
	f.Float64("amount", 0, "amount of the source asset to spend")
	f.Float64("min-amount", 0, "amount must be strictly greater than this")
	f.Int("slippage-bps", config.DefaultSlippageBps, "maximum slippage in basis points")
	f.Bool("enforce-slippage", false, "add a minimum-out guard to direct swaps")
	f.Uint64("min-liquidity", config.DefaultMinLiquidity, "reserve-A threshold in base units (lamports for SOL pools)")
	f.Uint64("fee-reserve", 0, "lamports kept on top of the amount for fees")
	f.Duration("poll-interval", config.DefaultPollInterval, "polling period")
	f.Duration("retry-backoff", config.DefaultRetryBackoff, "pause after a failed watcher check")
	f.Duration("retry-delay", config.DefaultRetryDelay, "delay between purchase attempts")
	f.Int("max-attempts", config.DefaultMaxAttempts, "purchase attempts per pool (0 = until balance runs out)")
	f.Int("scan-limit", config.DefaultScanLimit, "signatures per discovery scan when the pool address is unknown")
	f.Duration("watch-timeout", 0, "give up when no pool appears within this time (0 = never)")
	f.String("watch-mode", "subscribe", "subscribe or poll")
	f.String("trigger", string(sniper.TriggerGated), "gated or event")
	f.String("execution", config.ExecutionDirect, "direct or route")
	f.String("quote-api-url", quote.DefaultBaseURL, "quote service used by route execution")
	f.Int("quote-rate-limit", config.DefaultQuoteRateLimit, "quote requests per second (0 = client default)")
	f.String("priority", string(swap.PriorityNone), "none, low, medium, high or extreme")
	f.Uint64("priority-fee", 0, "compute unit price in micro-lamports, overrides the priority level")
	f.Uint32("compute-units", 0, "compute unit limit, overrides the priority level")
	f.Bool("debug-logging", false, "enable debug logs")
	f.String("log-file", "", "write JSON logs to this file")
	f.String("attempts-log", "", "append every purchase attempt to this CSV file")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log, closeLog, err := logger.New(logger.Options{Debug: cfg.DebugLogging, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
		_ = closeLog()
	}()

	session, err := cfg.Session()
	if err != nil {
		return err
	}

	client, err := solbc.NewClient(cfg.RPCList, log)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}

	strategy := cfg.Strategy()
	var notifier watcher.Notifier
	if strategy.Name() == watcher.Push().Name() {
		stream := solbc.NewStream(cfg.WebSocketEndpoint(), log)
		defer stream.Close()
		notifier = stream
	}

	w := watcher.New(watcher.Config{
		Target:       session.Target,
		Program:      session.Program,
		Pool:         session.Pool,
		Strategy:     strategy,
		PollInterval: cfg.PollInterval,
		RetryBackoff: cfg.RetryBackoff,
		ScanLimit:    cfg.ScanLimit,
		Timeout:      cfg.WatchTimeout,
	}, client, notifier, log)

	builder := newBuilder(cfg, client, log)

	execOpts := []swap.ExecutorOption{swap.WithFeeReserve(cfg.FeeReserve)}
	if cfg.AttemptsLog != "" {
		journal, err := swap.OpenJournal(cfg.AttemptsLog, log)
		if err != nil {
			return fmt.Errorf("failed to open attempts log: %w", err)
		}
		defer journal.Close()
		execOpts = append(execOpts, swap.WithJournal(journal))
	}
	executor := swap.NewExecutor(client, builder, log, execOpts...)

	controller, err := sniper.NewController(*session, w, executor, log, sniper.WithPreflight(client))
	if err != nil {
		return err
	}

	log.Info("Configuration loaded",
		zap.String("wallet", session.Wallet.String()),
		zap.Int("rpc_nodes", len(cfg.RPCList)),
		zap.String("watch_mode", strategy.Name()),
		zap.String("execution", cfg.Execution),
		zap.Float64("amount", cfg.Amount),
		zap.String("source", string(session.Intent.Source)),
		zap.Uint16("slippage_bps", session.Intent.SlippageBps),
		zap.Int("max_attempts", session.MaxAttempts))

	report, err := controller.Run(ctx)
	client.LogNodeStats()
	if err != nil {
		return err
	}
	printReport(report)
	if report.Status != sniper.StatusSucceeded {
		return errSessionFailed
	}
	return nil
}

func newBuilder(cfg *config.Config, client *solbc.Client, log *zap.Logger) swap.Builder {
	priority := cfg.PriorityConfig()

	if strings.EqualFold(cfg.Execution, config.ExecutionRoute) {
		// priority_fee задан в micro-lamports за CU, сервису маршрутов нужны лампорты
		feeLamports := priority.PriorityFee * uint64(priority.ComputeUnits) / 1_000_000
		quotes := quote.NewClient(cfg.QuoteAPIURL, log,
			quote.WithRateLimit(cfg.QuoteRateLimit),
			quote.WithPrioritizationFee(feeLamports))
		return swap.NewRouteBuilder(quotes, log)
	}

	var opts []swap.DirectOption
	if cfg.EnforceSlippage {
		opts = append(opts, swap.WithSlippageGuard(client))
	}
	return swap.NewDirectBuilder(priority, log, opts...)
}

func printReport(r *sniper.Report) {
	fmt.Fprintf(os.Stdout, "\nSession %s: %s\n", r.SessionID, r.Status)
	if !r.Pool.IsZero() {
		fmt.Fprintf(os.Stdout, "  pool:      %s\n", r.Pool)
	}
	fmt.Fprintf(os.Stdout, "  attempts:  %d\n", r.Attempts)
	if r.LastOutcome != nil {
		fmt.Fprintf(os.Stdout, "  last:      %s\n", r.LastOutcome)
	}
	fmt.Fprintf(os.Stdout, "  duration:  %s\n", r.Duration().Round(time.Millisecond))
}
