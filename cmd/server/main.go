package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nantokaworks/gift-relay/internal/devicememory"
	"github.com/nantokaworks/gift-relay/internal/dispatch"
	"github.com/nantokaworks/gift-relay/internal/env"
	"github.com/nantokaworks/gift-relay/internal/giftcatalog"
	"github.com/nantokaworks/gift-relay/internal/gifts"
	"github.com/nantokaworks/gift-relay/internal/localdb"
	"github.com/nantokaworks/gift-relay/internal/restoration"
	"github.com/nantokaworks/gift-relay/internal/scripting"
	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"github.com/nantokaworks/gift-relay/internal/shared/paths"
	"github.com/nantokaworks/gift-relay/internal/source"
	"github.com/nantokaworks/gift-relay/internal/threshold"
	"github.com/nantokaworks/gift-relay/internal/types"
	"github.com/nantokaworks/gift-relay/internal/webserver"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	logger.Info("Starting gift-relay server")

	if err := paths.EnsureDataDirs(); err != nil {
		logger.Fatal("Failed to ensure data directories", zap.Error(err))
	}

	if _, err := localdb.SetupDB(paths.GetDBPath()); err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}
	defer localdb.CloseDB()

	env.LoadEnv()
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	table, err := devicememory.LoadAddressTable(env.Value.AddressTablePath)
	if err != nil {
		logger.Fatal("Failed to load address table", zap.Error(err))
	}
	device := devicememory.NewClient(env.Value.DeviceBridgeURL, env.Value.DeviceBridgeTimeout)

	restorer := restoration.NewManager(device, table)

	// クラッシュ後の復元: タイマーはプロセスを跨いで生きないので、
	// 残っているリースは起動時に必ず解放する。
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := restorer.RestoreAll(ctx); err != nil {
			logger.Warn("Startup restore-all finished with errors", zap.Error(err))
		}
		cancel()
	}

	catalog := loadCatalog()
	resolver := gifts.NewResolver(catalog, loadOverrides())

	scripts := scripting.NewEngine(paths.GetScriptsDir())
	kill := dispatch.NewKillQueue(env.Value.KillCooldown, env.Value.KillDeferMin, env.Value.KillDeferMax)
	providers := []dispatch.Provider{
		dispatch.NewExtendedProvider(device, table),
		dispatch.NewBasicProvider(device, table),
	}
	dispatcher := dispatch.NewDispatcher(providers, restorer, scripts, kill)

	configs, err := localdb.LoadThresholdConfigs()
	if err != nil {
		logger.Warn("Failed to load threshold configs", zap.Error(err))
		configs = map[string]types.ThresholdConfig{}
	}
	acc := threshold.NewAccumulator(configs, func(cfg types.ThresholdConfig, ev *types.GiftEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := dispatcher.Dispatch(ctx, cfg.Action, ev); err != nil {
			logger.Warn("Threshold action dispatch failed",
				zap.String("key", cfg.Key), zap.Error(err))
		}
	})

	mappings, err := localdb.GetActionMappings()
	if err != nil {
		logger.Warn("Failed to load action mappings", zap.Error(err))
	}

	session := gifts.NewSession(gifts.SessionConfig{
		SourceTag:   env.Value.GiftSourceTag,
		Resolver:    resolver,
		Accumulator: acc,
		Mappings:    mappings,
		Dispatcher:  dispatcher,
		Sink:        webserver.NewWSSink(),
	})

	if err := webserver.StartWebServer(env.Value.ServerPort, webserver.Deps{
		Accumulator: acc,
		Restoration: restorer,
	}); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	pollCtx, stopPolling := context.WithCancel(context.Background())
	poller := source.NewPoller(env.Value.GiftSourceURL, env.Value.GiftPollInterval, session)
	go poller.Run(pollCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	stopPolling()
	webserver.StopWebServer()

	// 正常終了でもアイテムを無効化したまま残さない
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := restorer.RestoreAll(ctx); err != nil {
			logger.Warn("Shutdown restore-all finished with errors", zap.Error(err))
		}
		cancel()
	}
}

func loadCatalog() *giftcatalog.Catalog {
	if env.Value.GiftCatalogPath == "" {
		logger.Warn("No gift catalog configured, all coin values resolve to 0")
		return giftcatalog.New(nil)
	}
	catalog, err := giftcatalog.LoadFromFile(env.Value.GiftCatalogPath)
	if err != nil {
		logger.Error("Failed to load gift catalog", zap.Error(err))
		return giftcatalog.New(nil)
	}
	return catalog
}

func loadOverrides() []types.NameOverride {
	overrides, err := localdb.ListNameOverrides()
	if err != nil {
		logger.Warn("Failed to load name overrides", zap.Error(err))
		return nil
	}
	return overrides
}
