package main

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rawblock/wallet-pnl-engine/internal/aggregator"
	"github.com/rawblock/wallet-pnl-engine/internal/alerting"
	"github.com/rawblock/wallet-pnl-engine/internal/api"
	"github.com/rawblock/wallet-pnl-engine/internal/config"
	"github.com/rawblock/wallet-pnl-engine/internal/db"
	"github.com/rawblock/wallet-pnl-engine/internal/discovery"
	"github.com/rawblock/wallet-pnl-engine/internal/oracle"
	"github.com/rawblock/wallet-pnl-engine/internal/orchestrator"
	"github.com/rawblock/wallet-pnl-engine/internal/queue"
	"github.com/rawblock/wallet-pnl-engine/internal/telemetry"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatalf("FATAL: loading config: %v", err)
	}

	zapLog, err := telemetry.NewLogger(cfg.Development)
	if err != nil {
		log.Fatalf("FATAL: building logger: %v", err)
	}
	defer zapLog.Sync()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	ctx := context.Background()

	var store *db.PostgresStore
	if cfg.PostgresDSN != "" {
		store, err = db.Connect(ctx, cfg.PostgresDSN, cfg.ConnectionPoolSize, telemetry.Component(zapLog, "db"))
		if err != nil {
			zapLog.Warnw("postgres unavailable, continuing without persistence", "err", err)
		} else {
			defer store.Close()
			if err := store.InitSchema(ctx); err != nil {
				zapLog.Warnw("schema init failed", "err", err)
			}
		}
	} else {
		zapLog.Warn("postgres_dsn not set, running without persistence")
	}

	var broker *queue.Broker
	if cfg.RedisAddr != "" {
		broker = queue.New(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPassword)
		defer broker.Close()
	} else {
		zapLog.Warn("redis_addr not set, discovery queue disabled")
	}

	aggClient := aggregator.New(cfg.Aggregator, cfg.MaxPages, telemetry.Component(zapLog, "aggregator"))
	oracleClient := oracle.New(cfg.Oracle, cfg.WrappedNativeAddress, telemetry.Component(zapLog, "oracle"))
	alertMgr := alerting.New(cfg.WebhookURL, telemetry.Component(zapLog, "alerting"))

	registry := orchestrator.NewRegistry()

	var orchStore orchestrator.Store
	if store != nil {
		orchStore = store
	}

	orch := orchestrator.New(cfg, registry, aggClient, oracleClient, orchStore, alertMgr, telemetry.Component(zapLog, "orchestrator"))
	orch.SetMetrics(metrics)

	var scraper *discovery.Scraper
	if broker != nil && cfg.DiscoveryFeedURL != "" {
		scraper = discovery.New(cfg.DiscoveryFeedURL, broker, telemetry.Component(zapLog, "discovery"))

		queueCtx, queueCancel := context.WithCancel(ctx)
		defer queueCancel()
		go orch.RunQueueConsumer(queueCtx, broker, cfg.DefaultChain, cfg.QueuePollInterval())
	} else {
		zapLog.Warn("discovery disabled: requires both redis_addr and discovery_feed_url")
	}

	wsHub := api.NewHub(telemetry.Component(zapLog, "websocket"))
	go wsHub.Run()

	handler := api.NewHandler(orch, registry, scraper, alertMgr, wsHub, cfg.DiscoveryPollInterval(), telemetry.Component(zapLog, "api"))
	router := api.SetupRouter(handler, cfg.BearerToken, cfg.AllowedOrigins, telemetry.Component(zapLog, "api"))

	zapLog.Infow("wallet-pnl-engine starting", "listen_addr", cfg.ListenAddr)
	if err := router.Run(cfg.ListenAddr); err != nil {
		zapLog.Fatalw("server exited", "err", err)
	}
}
