package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ticktock/internal/app"
	logx "ticktock/pkg/logx"
)

const (
	stopTimeout   = 10 * time.Second
	statusTimeout = 2 * time.Second
)

func newRunCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT or SIGTERM",
		Long: `Run loads the config, starts every declared non-manual task and keeps
running until it receives SIGINT or SIGTERM. Edits to the config file are
applied without a restart. SIGUSR1 logs the state of every task.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), *cfgPath)
		},
	}
}

func runDaemon(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, statusSignals...)...)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := waitForStop(ctx, a, sigCh)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func waitForStop(ctx context.Context, a *app.App, sigCh <-chan os.Signal) app.StopReason {
	for {
		select {
		case <-ctx.Done():
			if a.Err() != nil {
				return app.StopFatalError
			}
			return app.StopAppStop
		case <-a.Done():
			if a.Err() != nil {
				return app.StopFatalError
			}
			return app.StopAppStop
		case sig := <-sigCh:
			switch sig {
			case os.Interrupt:
				return app.StopSIGINT
			case syscall.SIGTERM:
				return app.StopSIGTERM
			default:
				sctx, cancel := context.WithTimeout(ctx, statusTimeout)
				if err := a.LogStatus(sctx); err != nil {
					a.Logger().Warn("status dump failed", logx.Err(err))
				}
				cancel()
			}
		}
	}
}
