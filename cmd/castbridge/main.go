package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castbridge/castbridge/internal/bot"
	"github.com/castbridge/castbridge/internal/cursor"
	"github.com/castbridge/castbridge/internal/neynar"
	"github.com/castbridge/castbridge/internal/session"
	"github.com/castbridge/castbridge/internal/signer"
	"github.com/castbridge/castbridge/internal/store"
	"github.com/castbridge/castbridge/internal/telegram"
	"github.com/castbridge/castbridge/pkg/config"
	"github.com/castbridge/castbridge/pkg/observability"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	configFile = flag.String("config", getEnv("CONFIG_FILE", ""), "Configuration file")
)

func main() {
	flag.Parse()

	log.Printf("Starting castbridge v%s", Version)

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	kv, err := store.NewRedisKV(store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	})
	if err != nil {
		log.Fatalf("Redis error: %v", err)
	}
	defer kv.Close()

	api, err := neynar.NewClient(neynar.ClientConfig{
		BaseURL:  cfg.NeynarBaseURL,
		APIKey:   cfg.NeynarAPIKey,
		ClientID: cfg.NeynarClientID,
	})
	if err != nil {
		log.Fatalf("Neynar client error: %v", err)
	}

	tg, err := telegram.NewClient(telegram.ClientConfig{Token: cfg.TelegramToken})
	if err != nil {
		log.Fatalf("Telegram client error: %v", err)
	}

	creds := session.NewCredentialStore(kv)
	registry := cursor.NewRegistry(kv, cfg.CursorTTL)
	signers := signer.NewManager(api, creds, signer.Config{
		AppFID:          cfg.AppFID,
		AppSignature:    os.Getenv("APP_SIGNATURE"),
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
	})

	// Observability
	observability.InitMetrics()
	checker := observability.NewHealthChecker()
	checker.RegisterCheck(&observability.HealthCheck{
		Name:     "redis",
		Critical: true,
		CheckFunc: func(ctx context.Context) error {
			_, err := kv.Keys(ctx, "session:healthcheck")
			return err
		},
	})
	obsServer := observability.NewServer(cfg.HTTPPort, checker)

	errChan := make(chan error, 2)
	go func() {
		log.Printf("Starting HTTP server on :%d", cfg.HTTPPort)
		if err := obsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bot.New(bot.Deps{
		Source:   tg,
		Sender:   tg,
		KV:       kv,
		Creds:    creds,
		Signers:  signers,
		Registry: registry,
		API:      api,
	})

	if err := tg.DeleteWebhook(ctx, true); err != nil {
		log.Printf("delete webhook: %v", err)
	}

	jobs, err := b.StartJobs(ctx, cfg.FeedPushSchedule, cfg.SignerSweepSchedule)
	if err != nil {
		log.Fatalf("Job scheduling error: %v", err)
	}

	go func() {
		log.Println("Starting update loop...")
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Printf("Error: %v", err)
	case <-quit:
		log.Println("Shutting down castbridge...")
	}

	cancel()
	<-jobs.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("castbridge stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
