package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/UmanUmair/ScreenGuide/internal/observability"
	"github.com/UmanUmair/ScreenGuide/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "screenguide",
	Short: "Step-by-step screen guidance",
	Long: `screenguide walks you through a task one step at a time. Instructions come in as
text, an image, a voice note or a screen capture, and the screen is checked
against the current step at a fixed interval.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "config file (json or yaml)")
	rootCmd.AddCommand(serveCmd, splitCmd, analyzeCmd)
}

func loadConfig() (*config.Config, *observability.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\nOperation cancelled by user")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
