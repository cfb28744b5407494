package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/balaji-balu/converge/internal/api"
	"github.com/balaji-balu/converge/internal/config"
	"github.com/balaji-balu/converge/internal/drift"
	"github.com/balaji-balu/converge/internal/logger"
	"github.com/balaji-balu/converge/internal/metrics"
	"github.com/balaji-balu/converge/internal/natsbroker"
	"github.com/balaji-balu/converge/internal/provider"
	"github.com/balaji-balu/converge/internal/reconciler"
	"github.com/balaji-balu/converge/internal/statestore"
	"github.com/balaji-balu/converge/internal/telemetry"
)

func init() {
	if err := godotenv.Load("./.env"); err != nil {
		log.Println("No .env file found, reading from system environment")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "./configs/controller.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	zlog, err := logger.New(cfg.Env, cfg.Log.File)
	if err != nil {
		log.Fatalf("error building logger: %v", err)
	}
	defer zlog.Sync()

	if cfg.Telemetry.Exporter != "" {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.Exporter, cfg.Telemetry.Endpoint)
		if err != nil {
			zlog.Fatal("failed to init tracing", zap.Error(err))
		}
		defer shutdown(context.Background())
	}

	metrics.Init("controller")
	metrics.StartServer(fmt.Sprintf("%d", cfg.Metrics.Port), zlog)

	store, err := statestore.Open(cfg.Store.Path)
	if err != nil {
		zlog.Fatal("failed to open state store", zap.Error(err))
	}
	defer store.Close()

	var broker *natsbroker.Broker
	if cfg.NATS.URL != "" {
		broker, err = natsbroker.New(cfg.NATS.URL)
		if err != nil {
			zlog.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer broker.Close()
	}

	client := provider.NewLocal()

	opts := []reconciler.Option{
		reconciler.WithOpTimeout(time.Duration(cfg.Provider.OpTimeoutSeconds) * time.Second),
	}
	if broker != nil {
		opts = append(opts, reconciler.WithBroker(broker))
	}
	if cfg.Registry.Verify {
		opts = append(opts, reconciler.WithImageResolver(&provider.ImageResolver{
			PlainHTTP: cfg.Registry.PlainHTTP,
			Username:  os.Getenv("REGISTRY_USERNAME"),
			Password:  os.Getenv("REGISTRY_PASSWORD"),
		}))
	}
	mgr := reconciler.New(store, client, zlog, opts...)

	// Pick up any run left in progress by a prior crash.
	if err := mgr.ResumeActive(); err != nil {
		zlog.Error("failed to resume interrupted runs", zap.Error(err))
	}

	det := drift.New(store, client, broker, zlog,
		time.Duration(cfg.Drift.IntervalSeconds)*time.Second)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		det.Start(ctx)
	}()

	router := api.NewRouter(mgr, store, det, zlog)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		zlog.Info("HTTP server started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("HTTP shutdown error", zap.Error(err))
	}

	wg.Wait()
	zlog.Info("controller stopped")
}
