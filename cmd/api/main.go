package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidemark/berth/internal/engine"
	httpx "github.com/tidemark/berth/internal/http"
	"github.com/tidemark/berth/internal/service/export"
	"github.com/tidemark/berth/internal/service/icon"
	"github.com/tidemark/berth/internal/service/reconcile"
	"github.com/tidemark/berth/internal/service/system"
	"github.com/tidemark/berth/internal/service/wallpaper"
	"github.com/tidemark/berth/internal/store"
	"github.com/tidemark/berth/pkg/config"
	"github.com/tidemark/berth/pkg/logger"
)

func main() {
	config.LoadEnvFile(".env")
	cfg := config.Load()
	log := logger.New("api", logger.Level(cfg.Debug))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	groups, err := store.NewGroups(cfg.GroupsFile)
	if err != nil {
		log.Error("failed to open groups store", "error", err)
		os.Exit(1)
	}
	groupAliases, err := store.NewAliases(cfg.GroupAliasesFile)
	if err != nil {
		log.Error("failed to open group alias store", "error", err)
		os.Exit(1)
	}
	containerAliases, err := store.NewAliases(cfg.ContainerAliasesFile)
	if err != nil {
		log.Error("failed to open container alias store", "error", err)
		os.Exit(1)
	}
	autostart, err := store.NewAutostart(cfg.AutostartFile)
	if err != nil {
		log.Error("failed to open autostart store", "error", err)
		os.Exit(1)
	}

	cli := engine.New(cfg.DockerBin, cfg.DockerTimeout, log)
	reconciler := reconcile.New(cli, log)
	exporter := export.New(cli, cfg.DockerfilesDir, log)
	icons := icon.New(cfg.IconsDir, log)

	// Apply the stored autostart configuration once at boot. An unreachable
	// engine here must not keep the API from serving.
	if err := cli.Ping(ctx); err != nil {
		log.Warn("container engine unreachable at startup", "error", err)
	} else {
		startupCfg := autostart.Read()
		startupGroups := groups.Read()
		warnings := reconciler.SyncRestartPolicies(ctx, startupCfg, startupGroups)
		warnings = append(warnings, reconciler.EnsureAutostartRunning(ctx, startupCfg, startupGroups)...)
		for _, warning := range warnings {
			log.Warn("startup reconciliation", "warning", warning)
		}
	}

	router := httpx.NewRouter(httpx.Deps{
		Logger:           log,
		Engine:           cli,
		Groups:           groups,
		GroupAliases:     groupAliases,
		ContainerAliases: containerAliases,
		Autostart:        autostart,
		Reconciler:       reconciler,
		Exporter:         exporter,
		Icons:            icons,
		Sampler:          system.NewSampler(),
		Top:              system.NewTop(cli),
		Wallpaper:        wallpaper.New(log),
		StaticDir:        cfg.StaticDir,
		IndexFile:        cfg.IndexFile,
		IconsDir:         cfg.IconsDir,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
