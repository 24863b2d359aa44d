package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dunamismax/pixelforge/internal/backend"
	"github.com/dunamismax/pixelforge/internal/bootstrap"
	"github.com/dunamismax/pixelforge/internal/config"
	"github.com/spf13/cobra"
)

var logger = log.New(os.Stderr, "[cli] ", log.LstdFlags|log.Lmsgprefix)

var rootCmd = &cobra.Command{
	Use:           "pixelforge",
	Short:         "Transform, pre-generate and purge cached image variants",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().String("volume", "local", "source volume handle")
}

// withApp builds the pipeline from the environment, runs fn and releases
// everything the pipeline opened.
func withApp(ctx context.Context, fn func(context.Context, *bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := backend.Startup(); err != nil {
		return fmt.Errorf("image runtime startup: %w", err)
	}
	defer backend.Shutdown()

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Printf("close error: %v", err)
		}
	}()
	return fn(ctx, app)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
