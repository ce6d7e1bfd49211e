package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/wabot/internal/logging"
	"github.com/neboloop/wabot/internal/server"
	"github.com/neboloop/wabot/internal/svc"
)

var errAlreadyRunning = errors.New("wabot is already running for this data directory")

// RunCmd starts the daemon. Same as running wabot without a subcommand.
func RunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon (session, scheduler and web interface)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func runDaemon(parent context.Context) error {
	lockFile, err := acquireLock(paths.Lock)
	if err != nil {
		return err
	}
	defer releaseLock(lockFile)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCtx, err := svc.NewServiceContext(ctx, cfg, paths, svc.WithVersion(Version))
	if err != nil {
		return err
	}
	defer svcCtx.Close()

	logging.Infof("[cli] Starting %s %s", cfg.App.Name, Version)
	if err := svcCtx.Start(ctx); err != nil {
		return err
	}

	// Run blocks until a signal arrives, then shuts the HTTP side down first.
	// The deferred Close stops the remaining components.
	if err := server.Run(ctx, svcCtx); err != nil {
		return fmt.Errorf("web interface: %w", err)
	}
	logging.Infof("[cli] Received shutdown signal")
	return nil
}
