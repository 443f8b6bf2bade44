package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"ordersync/internal/api"
	"ordersync/internal/archive"
	"ordersync/internal/authn"
	"ordersync/internal/config"
	"ordersync/internal/db"
	"ordersync/internal/drivers"
	"ordersync/internal/gateway"
	"ordersync/internal/logger"
	"ordersync/internal/notify"
	"ordersync/internal/order"
	"ordersync/internal/realtime"
	"ordersync/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New()

	session := authn.NewSession(cfg.APIBaseURL+"/auth/refresh", authn.Credentials{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
	}, cfg.RequestTimeout)

	gw := gateway.New(cfg.APIBaseURL, session, st, cfg.RequestTimeout)
	dir := drivers.NewDirectory(cfg.APIBaseURL, session, cfg.RequestTimeout)

	channel := realtime.New(cfg.WSBaseURL, cfg.RestaurantID, st,
		func(ctx context.Context) ([]*order.Order, error) {
			return gw.FetchOpenOrders(ctx, cfg.RestaurantID)
		})
	go channel.Run(ctx)

	bridge := notify.NewBridge(st, notify.SinkFunc(func(a notify.Alert) {
		log.Info("order alert",
			zap.String("order_id", a.OrderID),
			zap.String("from", string(a.PreviousStatus)),
			zap.String("to", string(a.NewStatus)),
		)
	}))
	go bridge.Run(ctx)

	// The archive is optional: without a database the agent still runs,
	// it just keeps no history beyond the live store.
	var archiver *archive.Archiver
	if cfg.DBHost != "" {
		database := db.InitDB(cfg)
		defer database.Close()

		repo := archive.NewRepository(database)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to prepare archive schema", zap.Error(err))
		}

		var err error
		archiver, err = archive.NewArchiver(st, repo)
		if err != nil {
			log.Fatal("failed to build archiver", zap.Error(err))
		}
		go archiver.Run(ctx)
	}

	server := api.NewServer(st, gw, channel, dir, archiver, cfg.RestaurantID)
	httpSrv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: server.Routes(),
	}

	go func() {
		<-ctx.Done()
		_ = httpSrv.Shutdown(context.Background())
	}()

	log.Info("agent running",
		zap.String("port", cfg.AppPort),
		zap.String("restaurant_id", cfg.RestaurantID),
	)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("http server failed", zap.Error(err))
	}
	log.Info("agent stopped")
}
