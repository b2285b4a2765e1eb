package main

import (
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"sos-guardian/internal/audit"
	"sos-guardian/internal/auth"
	"sos-guardian/internal/config"
	"sos-guardian/internal/dispatch"
	"sos-guardian/internal/hub"
	"sos-guardian/internal/identity"
	"sos-guardian/internal/ingest"
	"sos-guardian/internal/server"
	"sos-guardian/internal/signal"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)

	var identityStore identity.Store
	var signalStore signal.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		identityStore = identity.NewRedisStore(rdb)
		signalStore = signal.NewRedisStore(rdb)
		log.Printf("using redis stores at %s", cfg.RedisAddr)
	} else {
		identityStore = identity.NewMemoryStore()
		signalStore = signal.NewMemoryStoreWithOptions(signal.MemoryOptions{StateFile: cfg.EventsStateFile})
		log.Printf("using in-memory stores (events snapshot: %q)", cfg.EventsStateFile)
	}

	registry := identity.NewRegistry(identityStore)
	wsHub := hub.New()

	var sink dispatch.Sink = dispatch.LogSink{}
	if cfg.SinkURL != "" {
		sink = dispatch.NewHTTPSink(cfg.SinkURL)
	}

	auditSink := audit.MultiSink{
		audit.NewLogSink(os.Stdout),
		&hub.StatusSink{Hub: wsHub, Resolver: registry},
	}

	engineCfg := dispatch.DefaultConfig()
	engineCfg.MaxAttempts = cfg.MaxAttempts
	engineCfg.Backoff = dispatch.BackoffConfig{Base: cfg.BackoffBase, Cap: cfg.BackoffCap}
	engineCfg.NotifyTimeout = cfg.NotifyTimeout
	engine := dispatch.New(signalStore, sink, auditSink, engineCfg)
	defer engine.Close()

	ing := &ingest.Service{
		Store:        signalStore,
		Dispatcher:   engine,
		ReplayWindow: cfg.ReplayWindow,
	}

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "sos-guardian",
	}

	router := server.NewRouter(server.Deps{
		Registry:    registry,
		SignalStore: signalStore,
		Engine:      engine,
		Ingest:      ing,
		Hub:         wsHub,
		TokenConfig: tokenCfg,
	})

	stop := make(chan os.Signal, 1)
	ossignal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(cfg, router)
	}()

	log.Printf("listening on %s", fmt.Sprintf(":%d", cfg.Port))
	select {
	case sig := <-stop:
		log.Printf("shutting down on %s", sig)
	case err := <-errCh:
		log.Fatal(err)
	}
}
