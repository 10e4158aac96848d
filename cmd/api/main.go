package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lexdesk/internal/app"
	"lexdesk/internal/archive"
	"lexdesk/internal/collab"
	"lexdesk/internal/config"
	"lexdesk/internal/gitrepo"
	"lexdesk/internal/llm"
	"lexdesk/internal/logging"
	"lexdesk/internal/search"
	"lexdesk/internal/session"
	"lexdesk/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	deps := app.Deps{Logger: logger}

	var pgfts *search.PgFTS
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.OpenWithPool(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		deps.Store = store.NewPostgresStore(db)
		pgfts = search.NewPgFTS(db)
	} else {
		logger.Warn("DATABASE_URL not set, documents are kept in memory")
		deps.Store = store.NewMemoryStore()
	}

	var presence collab.PresenceStore
	var relay collab.Relay
	var rateCounter llm.RateCounter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		presence = redisStore
		rateCounter = redisStore
		relay = collab.NewRedisRelay(redisStore.Client(), logger.Named("relay"))
	} else {
		memoryStore := session.NewMemoryStore()
		deps.Sessions = memoryStore
		presence = memoryStore
		rateCounter = memoryStore
	}

	if strings.TrimSpace(cfg.ReposDir) != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			logger.Fatal("failed to create repos dir", zap.Error(err))
		}
		deps.Git = gitrepo.New(cfg.ReposDir)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiveStore, err := archive.NewMinio(ctx, archive.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal("version archive unavailable", zap.Error(err))
		}
		deps.Archive = archiveStore
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
		defer meiliClient.Close()
	}
	var fallback search.Searcher = search.NewStoreSearcher(deps.Store)
	if pgfts != nil {
		fallback = pgfts
	}
	deps.Search = search.NewService(meiliClient, fallback, logger.Named("search"))

	gateway, err := llm.New(llm.Config{
		Provider:           cfg.LLM.Provider,
		Model:              cfg.LLM.Model,
		APIKey:             cfg.LLM.APIKey,
		BaseURL:            cfg.LLM.BaseURL,
		Timeout:            cfg.LLM.Timeout,
		MaxRequestsPerHour: cfg.LLM.MaxRequestsPerHour,
		MaxTokens:          cfg.LLM.MaxTokens,
		Temperature:        cfg.LLM.Temperature,
		Jurisdiction:       cfg.LLM.Jurisdiction,
		Language:           cfg.LLM.Language,
	}, nil, llm.WithRateCounter(rateCounter), llm.WithLogger(logger.Named("llm")))
	if err != nil {
		logger.Fatal("llm gateway", zap.Error(err))
	}
	deps.LLM = gateway

	service, err := app.New(cfg, deps)
	if err != nil {
		logger.Fatal("service setup failed", zap.Error(err))
	}

	if meiliClient != nil {
		if pgfts != nil {
			deps.Search.ReindexFromPG(ctx, pgfts)
		} else if err := service.ReindexSearch(ctx); err != nil {
			logger.Warn("search reindex failed", zap.Error(err))
		}
	}

	hubOpts := []collab.Option{
		collab.WithPresence(presence, collab.DefaultPresenceTTL),
		collab.WithLogger(logger.Named("collab")),
	}
	if relay != nil {
		hubOpts = append(hubOpts, collab.WithRelay(relay))
	}
	hub := collab.NewHub(app.NewHubEditor(service), hubOpts...)
	if err := hub.Start(ctx); err != nil {
		logger.Fatal("collaboration relay failed", zap.Error(err))
	}

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("lexdesk API listening",
			zap.String("addr", cfg.Addr),
			zap.String("llm_provider", gateway.ProviderName()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
