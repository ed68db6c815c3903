// cmd/fabricd — boots the fabric (KIS+AE+PRF+RPE+ARH) and its admin control
// surface, then blocks until signalled.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentfabric/fabric/internal/config"
	"github.com/agentfabric/fabric/internal/control"
	"github.com/agentfabric/fabric/internal/database"
	"github.com/agentfabric/fabric/internal/fabric"
	"github.com/agentfabric/fabric/internal/persist"
	"github.com/agentfabric/fabric/pkg/logger"
	"github.com/agentfabric/fabric/pkg/util"
)

// Exit codes (spec §6): 0 clean, 64 config error, 70 internal fabric
// invariant violation, 77 permission denied at startup, 130 interrupted.
const (
	exitOK          = 0
	exitConfigError = 64
	// exitInvariantViolation mirrors util.ExitInvariantViolation, the code
	// util.SafeGo exits with when a goroutine panics with a FatalInvariant —
	// kept as a separate named constant here since this path also covers
	// fabric.Boot failing synchronously in main's own goroutine, not just a
	// recovered panic.
	exitInvariantViolation = util.ExitInvariantViolation
	exitPermissionDenied   = 77
	exitInterrupted        = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	var deps fabric.Deps
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Errorw("fabricd: postgres pool init failed", "error", err)
			return exitConfigError
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Errorw("fabricd: migration failed", "error", err)
			return exitConfigError
		}

		logger.AttachDBHandler(pool)
		defer logger.ShutdownDBHandler()

		deps.AuditStore = persist.NewAuditStore(pool)
		deps.PendingStore = persist.NewPendingStore(pool)
	}

	f, err := fabric.Boot(ctx, cfg, deps)
	if err != nil {
		logger.Errorw("fabricd: fabric boot failed", "error", err)
		return exitInvariantViolation
	}

	srv := control.NewServer(f, cfg)
	serveErrCh := make(chan error, 1)
	util.SafeGo(func() {
		serveErrCh <- srv.ListenAndServe(ctx, cfg.ControlListenAddr)
	})

	logger.Infow("fabricd: started", "control_addr", cfg.ControlListenAddr)

	select {
	case <-ctx.Done():
		logger.Infow("fabricd: interrupted")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = f.Shutdown(shutdownCtx)
		return exitInterrupted
	case err := <-serveErrCh:
		if err == nil {
			return exitOK
		}
		if errors.Is(err, os.ErrPermission) {
			logger.Errorw("fabricd: control listener permission denied", "error", err)
			return exitPermissionDenied
		}
		logger.Errorw("fabricd: control server failed", "error", err)
		return exitConfigError
	}
}
