package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trialsage/api/internal/app"
	"trialsage/api/internal/assistant"
	"trialsage/api/internal/authpw"
	"trialsage/api/internal/blob"
	"trialsage/api/internal/coauthor"
	"trialsage/api/internal/config"
	"trialsage/api/internal/docvault"
	"trialsage/api/internal/email"
	"trialsage/api/internal/export"
	"trialsage/api/internal/ledger"
	"trialsage/api/internal/realtime"
	"trialsage/api/internal/search"
	"trialsage/api/internal/session"
	"trialsage/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.VaultDir, 0o755); err != nil {
		log.Fatalf("failed to create vault dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	vault := docvault.New(cfg.VaultDir)
	chain := ledger.New(dataStore)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	deps := app.Deps{
		Store:  dataStore,
		Vault:  vault,
		Ledger: chain,
		Search: searchService,
	}

	// Redis holds refresh sessions and co-authoring provider tokens; without
	// it refresh tokens fall back to Postgres and co-authoring is disabled.
	var redisStore *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, using PostgreSQL for refresh tokens: %v", err)
			redisStore = nil
		} else {
			defer redisStore.Close()
			deps.Sessions = redisStore
		}
	}

	// Object storage for uploaded source files.
	if cfg.MinioAccessKey != "" && cfg.MinioSecretKey != "" {
		blobStore, err := blob.New(ctx, blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: object storage unavailable, file uploads disabled: %v", err)
		} else {
			deps.Blob = blobStore
		}
	}

	// AI drafting: Copilot carries the primary weight, OpenAI the secondary.
	var primary, secondary assistant.DraftProvider
	if cfg.CopilotEndpoint != "" && cfg.CopilotAPIKey != "" {
		primary = assistant.NewCopilotProvider(cfg.CopilotEndpoint, cfg.CopilotAPIKey, cfg.ProviderTimeout)
	}
	if cfg.OpenAIAPIKey != "" {
		secondary = assistant.NewOpenAIProvider(cfg.OpenAIEndpoint, cfg.OpenAIAPIKey, cfg.ProviderTimeout)
	}
	if primary == nil && secondary != nil {
		primary, secondary = secondary, nil
	}
	if primary != nil {
		deps.Assistant = assistant.New(primary, secondary)
	}

	if redisStore != nil {
		deps.Coauthor = coauthor.New(redisStore, cfg.GoogleDocsEndpoint, cfg.WordAPIEndpoint, cfg.ProviderTimeout)
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	deps.Email = emailService
	deps.AuthPW = authpw.NewService(dataStore)

	service := app.New(cfg, deps)

	hub := realtime.NewHub(func(token string) (string, error) {
		sess, err := service.SessionFromToken(context.Background(), token)
		if err != nil {
			return "", err
		}
		return sess.UserID, nil
	})
	service.AttachHub(hub)
	service.AttachExport(export.NewService(app.NewExportStore(dataStore, vault)))

	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}
	searchService.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("TrialSage API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
