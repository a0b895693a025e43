package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcp-hub/internal/audit"
	"mcp-hub/internal/auth"
	"mcp-hub/internal/calls"
	"mcp-hub/internal/clients"
	"mcp-hub/internal/config"
	"mcp-hub/internal/hub"
	"mcp-hub/internal/messaging"
	"mcp-hub/internal/metrics"
	"mcp-hub/internal/presence"
	"mcp-hub/internal/publisher"
	"mcp-hub/internal/registry"
	"mcp-hub/internal/store"
	"mcp-hub/internal/telephony"
	"mcp-hub/pkg/logger"
	"mcp-hub/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, utils.DriverPgx, cfg.PostgresDSN(), utils.PostgresPoolConfig{PingAttempts: 5})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis is optional; without it presence stays process-local.
	var (
		rdb     *redis.Client
		tracker presence.Tracker = presence.Nop{}
		counter metrics.PresenceCounter
	)
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr, Password: cfg.Redis.Password, PingAttempts: 5})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		rt, err := presence.NewRedisTracker(rdb, instanceID(cfg.App.Port), cfg.Redis.PresenceTTL)
		if err != nil {
			log.Error("presence init failed", "err", err)
			os.Exit(1)
		}
		tracker, counter = rt, rt
	}

	// MQTT is optional; call lifecycle events are mirrored when a broker is set.
	var (
		pub       publisher.Publisher
		forwarder *publisher.Forwarder
		listeners []func(userID string) calls.Listener
	)
	fwdCtx, fwdCancel := context.WithCancel(context.Background())
	defer fwdCancel()
	if cfg.MQTT.Broker != "" {
		mp, err := publisher.NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			log.Error("mqtt init failed", "err", err)
			os.Exit(1)
		}
		pub = mp
		forwarder = publisher.NewForwarder(pub, cfg.MQTT.TopicPrefix, 0, log)
		go forwarder.Run(fwdCtx)
		listeners = append(listeners, forwarder.Listener)
	}

	// NewXProvider returns a typed nil when unconfigured; keep those out of the interface slice.
	var providers []messaging.Provider
	if p := messaging.NewOfficialProvider("", cfg.WhatsApp.BusinessID, cfg.WhatsApp.AccessToken); p != nil {
		providers = append(providers, p)
	}
	if p := messaging.NewEvolutionProvider(cfg.WhatsApp.EvolutionURL, cfg.WhatsApp.EvolutionKey); p != nil {
		providers = append(providers, p)
	}

	directory := clients.NewDirectory(clients.NewPostgresRepo(db))
	if n, err := directory.Load(rootCtx); err != nil {
		log.Warn("client directory load failed", "err", err)
	} else {
		log.Info("client directory loaded", "active", n)
	}

	registered := messaging.NewProviders(providers...)
	reg := registry.New(log)
	recorder := metrics.NewRecorder()

	h, err := hub.New(hub.Deps{
		Registry:  reg,
		Store:     store.NewPostgres(db),
		Trunk:     telephony.SimulatedTrunk{RingDelay: cfg.Calls.RingDelay},
		Providers: registered,
		Calls: calls.Config{
			RecordingEnabled: cfg.Calls.RecordingEnabled,
			AutoAnswer:       cfg.Calls.AutoAnswer,
			ConnectDelay:     cfg.Calls.ConnectDelay,
			ResetDelay:       cfg.Calls.ResetDelay,
		},
		Metrics:       recorder,
		Log:           log,
		Clients:       directory,
		CallListeners: listeners,
	})
	if err != nil {
		log.Error("hub init failed", "err", err)
		os.Exit(1)
	}

	transport := hub.NewTransport(h, authManager, tracker, hub.TransportConfig{
		AllowedOrigins:  cfg.Hub.AllowedOrigins,
		EventRate:       cfg.Hub.EventRate,
		EventBurst:      cfg.Hub.EventBurst,
		PresenceRefresh: cfg.Redis.PresenceTTL / 2,
	})

	promReg := metrics.NewRegistry(metrics.NewCollector(reg, h, counter, startedAt), recorder)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		auth:      authManager,
		hub:       h,
		transport: transport,
		audit:     audit.NewService(audit.NewPostgresRepo(db)),
		clients:   directory,
		metrics:   metrics.Handler(promReg),
		cfg:       cfg,
	})

	// WriteTimeout stays 0: upgraded websocket connections outlive any request deadline.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("hub listening", "addr", srv.Addr, "env", cfg.App.Env, "providers", registered.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Shutdown does not track hijacked connections; close sessions explicitly.
	reg.CloseAll(registry.ReasonShutdown)
	h.Close()

	if forwarder != nil {
		fwdCancel()
		forwarder.Wait()
		if err := pub.Close(); err != nil {
			log.Warn("mqtt close failed", "err", err)
		}
	}
	log.Info("shutdown complete")
}

// instanceID names this process in presence entries.
func instanceID(port int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, port)
}
