package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hackboard/internal/app"
)

func serveCmd() *cobra.Command {
	var (
		cfgPath     string
		stopTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server until SIGINT or SIGTERM.

Without --config the built-in defaults are used: in-memory storage on
127.0.0.1:8080. With a config file, changes to hot sections are applied live.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(cfgPath)
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			if err := a.Start(context.Background()); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopUnknown
			select {
			case sig := <-sigs:
				reason = app.ReasonForSignal(sig)
			case <-a.Done():
				reason = app.StopFatalError
			}

			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = a.Stop(ctx, reason)
			return a.Err()
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file (.json, .yaml or .yml)")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
	return cmd
}

func checkConfigCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(cfgPath) == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := app.CheckConfig(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", cfgPath)
			fmt.Fprintf(out, "  server:   %s\n", cfg.Server.Addr)
			fmt.Fprintf(out, "  storage:  %s\n", cfg.Storage.Driver)
			fmt.Fprintf(out, "  toasts:   max_visible=%d\n", cfg.Toast.MaxVisible)
			fmt.Fprintf(out, "  janitor:  %d jobs\n", len(cfg.Janitor.Jobs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
