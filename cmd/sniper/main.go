// ====================================
// File: cmd/sniper/main.go
// ====================================
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// errSessionFailed - сессия завершилась без покупки; отчёт уже напечатан.
var errSessionFailed = errors.New("session finished without a purchase")

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sniper",
	Short: "Pool sniper - buys a token as soon as its liquidity pool goes live",
	Long: `Sniper watches a Solana AMM program for the liquidity pool of a target token
and submits a buy transaction the moment the pool is active.

Wallet secret is read from SNIPER_PRIVATE_KEY or from --key-file and is never logged.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml or json)")
	rootCmd.AddCommand(newRunCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errSessionFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
