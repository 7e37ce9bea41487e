package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/donation-core/internal/app"
	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/provider"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator tooling for the donation ledger and recurring billing",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(adminCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// openContainer loads config and wires the same container the server uses.
func openContainer() (*provider.Container, error) {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	db, err := app.OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	return provider.NewContainer(cfg, db)
}

func printJSON(cmd *cobra.Command, value interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
