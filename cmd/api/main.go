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

	"companion/api/internal/app"
	"companion/api/internal/authpw"
	"companion/api/internal/config"
	"companion/api/internal/email"
	"companion/api/internal/files"
	"companion/api/internal/gitrepo"
	"companion/api/internal/llm"
	"companion/api/internal/profile"
	"companion/api/internal/scratch"
	"companion/api/internal/search"
	"companion/api/internal/session"
	"companion/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	gitService := gitrepo.New(cfg.ReposDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	// Redis backs scratch storage and refresh sessions. Without it the
	// scratch store falls back to memory and refresh tokens live in
	// PostgreSQL.
	var scratchStore scratch.Store = scratch.NewMemoryStore()
	var sessionStore *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisScratch, err := scratch.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, using in-memory scratch storage: %v", err)
		} else {
			scratchStore = redisScratch
			log.Printf("Using Redis for scratch storage")
		}
		redisSessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, refresh tokens stored in PostgreSQL: %v", err)
		} else {
			sessionStore = redisSessions
			defer redisSessions.Close()
			log.Printf("Using Redis for refresh token storage")
		}
	}

	profileService := profile.NewService(dataStore, scratchStore)
	authService := authpw.NewService(dataStore)

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailService.IsConfigured() {
		log.Printf("WARNING: SMTP not configured, verification and reset tokens returned in API responses")
	}

	llmClient := llm.NewClient(cfg.LLMURL, cfg.LLMAPIKey, cfg.LLMModel)
	llmQuota := llm.NewQuota(scratchStore)

	var fileStore *files.Store
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		fileStore, err = files.New(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			log.Printf("WARNING: object storage unavailable, attachments disabled: %v", err)
			fileStore = nil
		}
	}

	opts := app.Options{
		Store:    dataStore,
		Profiles: profileService,
		AuthPW:   authService,
		Email:    emailService,
		Search:   searchService,
		Git:      gitService,
		LLM:      llmClient,
		Quota:    llmQuota,
		Scratch:  scratchStore,
	}
	if sessionStore != nil {
		opts.Sessions = sessionStore
	}
	if fileStore != nil {
		opts.Files = fileStore
	}
	service := app.New(cfg, opts)
	if err := service.ReindexSearch(ctx); err != nil {
		log.Printf("WARNING: search reindex failed: %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Companion API listening on %s", cfg.Addr)
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
