// Command autostart applies the stored restart policies and starts the
// configured containers once, typically from a boot unit.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/tidemark/berth/internal/engine"
	"github.com/tidemark/berth/internal/service/reconcile"
	"github.com/tidemark/berth/internal/store"
	"github.com/tidemark/berth/pkg/config"
	"github.com/tidemark/berth/pkg/logger"
)

const (
	engineWaitAttempts = 10
	engineWaitDelay    = 2 * time.Second
)

func main() {
	config.LoadEnvFile(".env")
	cfg := config.Load()
	log := logger.New("autostart", logger.Level(cfg.Debug))

	autostart, err := store.NewAutostart(cfg.AutostartFile)
	if err != nil {
		log.Error("failed to open autostart store", "error", err)
		os.Exit(1)
	}
	groupStore, err := store.NewGroups(cfg.GroupsFile)
	if err != nil {
		log.Error("failed to open groups store", "error", err)
		os.Exit(1)
	}

	startupCfg := autostart.Read()
	if len(startupCfg.Groups) == 0 && len(startupCfg.Containers) == 0 {
		log.Info("nothing configured for autostart")
		return
	}

	ctx := context.Background()
	cli := engine.New(cfg.DockerBin, cfg.DockerTimeout, log)
	if !waitForEngine(ctx, cli, log) {
		log.Error("container engine never became ready")
		os.Exit(1)
	}

	groups := groupStore.Read()
	reconciler := reconcile.New(cli, log)
	warnings := reconciler.SyncRestartPolicies(ctx, startupCfg, groups)
	warnings = append(warnings, reconciler.EnsureAutostartRunning(ctx, startupCfg, groups)...)
	for _, warning := range warnings {
		log.Warn("autostart", "warning", warning)
	}
	log.Info("autostart finished",
		"groups", len(startupCfg.Groups),
		"containers", len(startupCfg.Containers),
		"warnings", len(warnings))
}

func waitForEngine(ctx context.Context, cli *engine.CLI, log *slog.Logger) bool {
	for attempt := 1; attempt <= engineWaitAttempts; attempt++ {
		if _, err := cli.Run(ctx, "ps"); err == nil {
			log.Info("container engine ready", "attempt", attempt)
			return true
		}
		if attempt < engineWaitAttempts {
			log.Info("waiting for container engine",
				"attempt", attempt, "max", engineWaitAttempts)
			time.Sleep(engineWaitDelay)
		}
	}
	return false
}
