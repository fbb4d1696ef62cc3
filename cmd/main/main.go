package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telemetry-observer/src/config"
	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
	"telemetry-observer/src/network"
	"telemetry-observer/src/resolver"
	"telemetry-observer/src/scheduler"
	"telemetry-observer/src/server"
	"telemetry-observer/src/storage"
	"telemetry-observer/src/subscription"
	"telemetry-observer/src/transport"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.Name)

	// 1. Storage (local transport only)
	var store interfaces.ITimeseriesStore
	if cfg.Transport.Type == "" || cfg.Transport.Type == "local" {
		switch cfg.Storage.DBType {
		case "postgres":
			store, err = storage.NewPostgresStore(cfg.MConfig, appLogger)
		default:
			// Default to SQLite
			store, err = storage.NewSQLiteStore(cfg.MConfig, appLogger)
		}
		if err != nil {
			appLogger.Critical("Failed to init store: %v", err)
		}
		if err := store.Initialize(); err != nil {
			appLogger.Critical("Failed to migrate store: %v", err)
		}
		defer store.Close()
	}

	// 2. Transport and clock source
	var dataTransport interfaces.IDataTransport
	var clock interfaces.IClockSkewProvider
	var local *transport.LocalTransport

	switch cfg.Transport.Type {
	case "ws":
		api := network.NewClient(appLogger, httpBaseURL(cfg.Transport.URL), cfg.Transport)
		clock = network.NewHttpClockSkewProvider(api)
		ws := transport.NewWsTransport(appLogger, cfg.Transport.URL, api)
		if err := ws.Connect(); err != nil {
			appLogger.Critical("Failed to connect transport: %v", err)
		}
		defer ws.Close()
		dataTransport = ws
	case "redis":
		redis := transport.NewRedisTransport(appLogger, cfg.Transport)
		if err := redis.Ping(context.Background()); err != nil {
			appLogger.Critical("Failed to connect transport: %v", err)
		}
		defer redis.Close()
		dataTransport = redis
	default:
		local = transport.NewLocalTransport(appLogger, store)
		dataTransport = local
	}

	// 3. Engine services
	registry := resolver.NewRegistry(appLogger, cfg.MConfig)

	tick := scheduler.DefaultTickInterval
	if cfg.Scheduler.TickMs > 0 {
		tick = time.Duration(cfg.Scheduler.TickMs) * time.Millisecond
	}
	ticker := scheduler.NewTickScheduler(tick)
	defer ticker.Stop()

	srv := server.NewServer(cfg.MConfig, appLogger)

	sctx := &subscription.Context{
		Logger:    appLogger,
		Resolver:  registry,
		Transport: dataTransport,
		Scheduler: ticker,
		Clock:     clock,
	}

	// 4. Build the configured subscriptions
	subs := make([]subscription.Subscription, 0, len(cfg.Widgets))
	for i := range cfg.Widgets {
		w := &cfg.Widgets[i]
		sub, err := buildSubscription(sctx, srv, w)
		if err != nil {
			appLogger.Error("Widget %s failed to resolve: %v", w.ID, err)
			continue
		}
		sub.Subscribe()
		srv.Register(w.ID, sub)
		subs = append(subs, sub)
		appLogger.Info("Widget %s subscribed (%s)", w.ID, w.Type)
	}

	// 5. Start Server
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
		}
	}()

	// 6. Demo feed: with the local transport nothing else produces samples,
	// so push synthetic telemetry for the configured entity keys.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if local != nil {
		go feedLoop(ctx, local, cfg.MConfig)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	cancel()
	for _, sub := range subs {
		sub.Destroy()
	}
}

// -----------------------------------------------------------------------------

func buildSubscription(sctx *subscription.Context, srv *server.Server, w *models.MWidgetConfig) (subscription.Subscription, error) {
	opts := &subscription.Options{
		Type:               w.Type,
		Timewindow:         w.Timewindow,
		SingleEntity:       w.SingleEntity,
		ComparisonEnabled:  w.ComparisonEnabled,
		ComparisonDuration: w.ComparisonDuration,
		ComparisonCustomMs: w.ComparisonCustomMs,
		PageSize:           w.PageSize,
		AlarmSource:        w.AlarmSource,
		RpcTarget:          w.RpcTarget,
		Callbacks: subscription.Callbacks{
			OnDataUpdated:       func(subscription.Subscription, bool) { srv.Publish() },
			OnLatestDataUpdated: func(subscription.Subscription, bool) { srv.Publish() },
			LegendDataUpdated:   func(subscription.Subscription, bool) { srv.Publish() },
			RpcStateChanged:     func(subscription.Subscription) { srv.Publish() },
			ForceReInit: func(s subscription.Subscription) {
				s.Unsubscribe()
				s.Subscribe()
			},
		},
	}
	if w.Legend != nil {
		opts.Legend = *w.Legend
	}
	for i := range w.Datasources {
		opts.Datasources = append(opts.Datasources, &w.Datasources[i])
	}
	return subscription.New(context.Background(), sctx, opts)
}

// -----------------------------------------------------------------------------

// feedLoop pushes one random sample per second for every entity key any
// widget datasource references.
func feedLoop(ctx context.Context, local *transport.LocalTransport, cfg *models.MConfig) {
	type feedKey struct {
		entityType string
		entityID   string
		key        string
	}

	entityType := make(map[string]string)
	for _, e := range cfg.Entities {
		entityType[e.ID] = e.Type
	}
	aliasEntities := make(map[string][]string)
	for _, a := range cfg.Aliases {
		aliasEntities[a.ID] = a.EntityIDs
	}

	keys := make([]feedKey, 0)
	seen := make(map[feedKey]struct{})
	add := func(entityID, key string) {
		fk := feedKey{entityType[entityID], entityID, key}
		if _, ok := seen[fk]; !ok {
			seen[fk] = struct{}{}
			keys = append(keys, fk)
		}
	}
	for _, w := range cfg.Widgets {
		for _, ds := range w.Datasources {
			if ds.Type == models.DatasourceTypeFunction {
				continue
			}
			ids := []string{ds.EntityID}
			if ds.AliasID != "" {
				ids = aliasEntities[ds.AliasID]
			}
			for _, id := range ids {
				if id == "" {
					continue
				}
				for _, k := range ds.DataKeys {
					add(id, k.Name)
				}
				for _, k := range ds.LatestDataKeys {
					add(id, k.Name)
				}
			}
		}
	}
	if len(keys) == 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, fk := range keys {
				local.PushTelemetry(fk.entityType, fk.entityID, fk.key, models.MDataPoint{
					Ts:    now.UnixMilli(),
					Value: float64(int(rand.Float64()*10000)) / 100,
				})
			}
		}
	}
}

// -----------------------------------------------------------------------------

// httpBaseURL maps a websocket endpoint onto its REST origin.
func httpBaseURL(wsURL string) string {
	base := wsURL
	for _, prefix := range []string{"ws://", "wss://"} {
		if len(base) > len(prefix) && base[:len(prefix)] == prefix {
			scheme := "http://"
			if prefix == "wss://" {
				scheme = "https://"
			}
			base = scheme + base[len(prefix):]
			break
		}
	}
	// The stream endpoint usually lives at /ws; the API at the root.
	if len(base) > 3 && base[len(base)-3:] == "/ws" {
		base = base[:len(base)-3]
	}
	return base
}
