package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/exchange-gateway/internal/api"
	"github.com/rickgao/exchange-gateway/internal/auth"
	"github.com/rickgao/exchange-gateway/internal/config"
	"github.com/rickgao/exchange-gateway/internal/database"
	"github.com/rickgao/exchange-gateway/internal/gateway"
	"github.com/rickgao/exchange-gateway/internal/mirror"
	"github.com/rickgao/exchange-gateway/internal/model"
	"github.com/rickgao/exchange-gateway/internal/stream"
	"github.com/rickgao/exchange-gateway/internal/version"
	"github.com/rickgao/exchange-gateway/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.RestURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create API client
	clientOpts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithMaxIdleConns(cfg.API.MaxIdleConns),
		api.WithThrottleCodes(cfg.API.ThrottleCodes...),
	}
	if cfg.API.HasCredentials() {
		creds, err := auth.LoadCredentials(cfg.API.APIKey, cfg.API.APISecret, cfg.API.Passphrase)
		if err != nil {
			logger.Error("invalid API credentials", "error", err)
			os.Exit(1)
		}
		clientOpts = append(clientOpts, api.WithCredentials(creds))
	}
	apiClient := api.NewClient(cfg.API.RestURL, cfg.API.MaxConnsPerHost, clientOpts...)
	defer apiClient.CloseIdleConnections()

	gwOpts := []gateway.Option{gateway.WithLogger(logger)}

	// Optional payload mirror
	if cfg.Redis.Enabled {
		rdb, err := mirror.Connect(ctx, mirror.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()

		classes := cfg.Cache.Classes
		publisher := mirror.NewPublisher(rdb, func(class string) time.Duration {
			return classes[class]
		}, cfg.Redis.Timeout, logger.With("component", "mirror"))
		gwOpts = append(gwOpts, gateway.WithResultHook(publisher.Hook()))

		logger.Info("redis mirror enabled", "addr", cfg.Redis.Addr)
	}

	// Optional sample persistence
	var dbPool *pgxpool.Pool
	if cfg.Database.Timescale.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		dbPool = pool

		gwOpts = append(gwOpts, gateway.WithPool("timescale", database.NewPoolAdapter(pool)))
		logger.Info("database connected")
	}

	gw := gateway.New(gateway.ConfigFrom(cfg), apiClient, gwOpts...)

	var sampleWriter *writer.SampleWriter
	if dbPool != nil {
		sampleWriter = writer.NewSampleWriter(writer.Config{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			BufferSize:    cfg.Writers.BufferSize,
		}, dbPool, gw.Tracker(), logger.With("component", "writer"))
		if err := sampleWriter.Start(ctx); err != nil {
			logger.Error("failed to start sample writer", "error", err)
			os.Exit(1)
		}
	}

	hub := stream.NewHub(stream.DefaultConfig(), gw.Tracker(), logger.With("component", "stream"))
	for _, m := range gw.Monitors() {
		m.OnSample(func(s model.PoolSample) {
			hub.Broadcast(stream.TypeSample, s)
			if sampleWriter != nil {
				sampleWriter.WriteSample(s)
			}
		})
		m.OnThresholdExceeded(func(b model.Breach) {
			hub.Broadcast(stream.TypeBreach, b)
			if sampleWriter != nil {
				sampleWriter.WriteBreach(b)
			}
		})
	}

	// Start health server early so we can watch the warmup
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: createHandler(gw, hub),
	}
	go func() {
		logger.Info("starting http server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := gw.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	warmCtx, warmCancel := context.WithTimeout(ctx, cfg.Queue.BackgroundTimeout)
	if err := gw.Warm(warmCtx); err != nil {
		logger.Warn("cache warmup incomplete", "error", err)
	}
	warmCancel()

	logger.Info("gateway running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	hub.Close()

	cancelled, stillRunning := gw.Shutdown(cfg.Shutdown.Timeout)

	if sampleWriter != nil {
		sampleWriter.Stop(shutdownCtx)
	}

	logger.Info("gateway stopped",
		"cancelled", cancelled,
		"still_running", stillRunning,
	)
}

// createHandler creates the HTTP handler for health, stats and the stream.
func createHandler(gw *gateway.Gateway, hub *stream.Hub) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status  string       `json:"status"`
			Version version.Info `json:"version"`
			Tasks   int          `json:"tasks"`
			Clients int          `json:"stream_clients"`
		}{
			Status:  "healthy",
			Version: version.Get(),
			Tasks:   gw.Tracker().Len(),
			Clients: hub.Clients(),
		}
		if !gw.Healthy() {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gw.Stats())
	})

	mux.HandleFunc("/samples", func(w http.ResponseWriter, r *http.Request) {
		history, ok := gw.PoolHistory(r.URL.Query().Get("pool"))
		if !ok {
			http.Error(w, "unknown pool", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(history)
	})

	mux.Handle("/stream", hub)

	return mux
}
