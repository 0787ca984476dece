package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/app"
	"relaybot/internal/config"
	"relaybot/pkg/systemd"
)

const stopTimeout = 15 * time.Second

func newRunCmd(g *globalFlags) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay until interrupted (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd.Context(), g.configPath, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending schema migrations on start")
	return cmd
}

func runRelay(ctx context.Context, cfgPath string, migrate bool) error {
	a, err := app.New(config.NewManager(cfgPath, nil), app.WithMigrate(migrate))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	_, _ = systemd.Ready()
	_, _ = systemd.Status("relaying")

	wdCtx, wdCancel := context.WithCancel(ctx)
	defer wdCancel()
	go func() { _ = systemd.Watchdog(wdCtx, a.Healthy) }()

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	wdCancel()
	_, _ = systemd.Stopping()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return err
		}
	}
	return stopErr
}
