// Command brain runs the AI request-orchestration service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/thinkxlife/brain/internal/auth"
	"github.com/thinkxlife/brain/internal/brain"
	"github.com/thinkxlife/brain/internal/cache"
	"github.com/thinkxlife/brain/internal/config"
	"github.com/thinkxlife/brain/internal/conversation"
	"github.com/thinkxlife/brain/internal/policy"
	"github.com/thinkxlife/brain/internal/profile"
	"github.com/thinkxlife/brain/internal/provider"
	"github.com/thinkxlife/brain/internal/rbac"
	"github.com/thinkxlife/brain/internal/retrieval"
	"github.com/thinkxlife/brain/internal/server"
	"github.com/thinkxlife/brain/internal/session"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Optional shared infrastructure. The service degrades to in-memory
	// backends when Redis or NATS is not reachable.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis unreachable, falling back to in-memory backends", zap.Error(err))
			redisClient = nil
		}
		cancel()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1))
		if err != nil {
			logger.Warn("NATS unreachable, audit events stay local", zap.Error(err))
			natsConn = nil
		} else {
			defer natsConn.Close()
		}
	}

	// Conversation storage with a cached read path.
	var store conversation.Store
	if cfg.ConversationDB != "" {
		if dir := filepath.Dir(cfg.ConversationDB); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logger.Fatal("Failed to create database directory", zap.Error(err))
			}
		}
		sqlStore, err := conversation.NewSQLStore(cfg.ConversationDB, logger)
		if err != nil {
			logger.Fatal("Failed to open conversation store", zap.Error(err))
		}
		defer sqlStore.Close()
		store = sqlStore

		if cfg.Context.RetentionDays > 0 {
			go pruneLoop(sqlStore, cfg.Context.RetentionDays, logger)
		}
	} else {
		logger.Warn("No conversation database configured, history is process-local")
		store = conversation.NewMemoryStore()
	}

	tiered, err := cache.NewTiered(10000, 5*time.Minute, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to create history cache", zap.Error(err))
	}
	defer tiered.Close()
	history := cache.NewHistoryStore(store, tiered, cfg.Context.MaxHistoryLength, logger)

	// Knowledge base for grounded chatbot replies.
	var retriever brain.Retriever
	if cfg.KnowledgeBaseDir != "" {
		idx, err := retrieval.NewIndex(retrieval.Config{InMemory: true}, logger)
		if err != nil {
			logger.Fatal("Failed to create document index", zap.Error(err))
		}
		defer idx.Close()
		if _, err := idx.LoadDir(cfg.KnowledgeBaseDir); err != nil {
			logger.Warn("Knowledge base load failed", zap.Error(err))
		} else {
			retriever = idx
		}
	}

	// Providers and routing.
	providers := []provider.Provider{
		provider.NewLocal(cfg.Providers.Local, logger),
		provider.NewOpenAI(cfg.Providers.OpenAI, logger),
		provider.NewAnthropic(cfg.Providers.Anthropic, logger),
	}
	timeouts := map[string]time.Duration{
		"local":     cfg.Providers.Local.Timeout(),
		"openai":    cfg.Providers.OpenAI.Timeout(),
		"anthropic": cfg.Providers.Anthropic.Timeout(),
	}
	router := provider.NewRouter(providers, timeouts, logger)
	router.StartHealthLoop(30 * time.Second)
	defer router.Close()

	// Policy pipeline.
	var limiter policy.Limiter
	if redisClient != nil {
		limiter = policy.NewRedisLimiter(redisClient, policy.LimitConfig{
			PerMinute: cfg.Security.RateLimitPerMinute,
			PerHour:   cfg.Security.RateLimitPerHour,
		}, logger)
	} else {
		limiter, err = policy.NewMemoryLimiter(policy.LimitConfig{
			PerMinute: cfg.Security.RateLimitPerMinute,
			PerHour:   cfg.Security.RateLimitPerHour,
		}, 10000)
		if err != nil {
			logger.Fatal("Failed to create rate limiter", zap.Error(err))
		}
	}

	audit := policy.NewAuditLogger(natsConn, logger, true)
	defer audit.Close()

	gate := policy.NewGate(policy.GateConfig{
		RequireAuth:          cfg.Security.RequireAuth,
		RateLimitEnabled:     cfg.Security.RateLimitEnabled,
		ContentFilterEnabled: cfg.Security.ContentFilterEnabled,
	}, limiter, policy.NewContentFilter(
		cfg.Security.ContentFilterEnabled,
		cfg.Security.BlockedWords,
		cfg.Security.TraumaSafeMode,
	), audit, logger)

	// Sessions.
	var sessionStore session.Store
	if redisClient != nil {
		sessionStore = session.NewRedisStore(redisClient)
	} else {
		sessionStore = session.NewMemoryStore()
	}
	sessions := session.NewManager(sessionStore, cfg.SessionTimeout(), cfg.Session.MaxSessions, logger)
	sessions.StartSweeper(time.Minute)
	defer sessions.Close()

	profiles := profile.NewMemoryStore()
	if path := os.Getenv("BRAIN_PROFILES"); path != "" {
		if err := seedProfiles(profiles, path); err != nil {
			logger.Warn("Profile seed load failed", zap.Error(err))
		}
	}

	resolver := brain.NewResolver(profiles, rbac.NewStaticService(cfg.Roles), sessions, logger)
	recorder := brain.NewRecorder(history, 10*time.Second, logger)

	core := brain.NewCore(brain.NewNormalizer(), resolver, gate, router, recorder, brain.CoreOptions{
		Retriever:  retriever,
		History:    history,
		MaxHistory: cfg.Context.MaxHistoryLength,
	}, logger)

	authMW := auth.NewMiddleware(cfg.JWTSecret, logger, "/brain", "/health")
	handler := server.New(core, history, authMW, logger).Handler()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("Brain service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server startup failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Let in-flight interaction writes land before the store closes.
	recorder.Flush()
}

// seedProfiles loads user profiles from a YAML file into the store.
func seedProfiles(store *profile.MemoryStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seeds []profile.Profile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return err
	}
	for i := range seeds {
		store.Put(&seeds[i])
	}
	return nil
}

// pruneLoop enforces the retention horizon once a day.
func pruneLoop(store *conversation.SQLStore, retentionDays int, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if _, err := store.PruneOlderThan(ctx, cutoff); err != nil {
			logger.Error("Retention prune failed", zap.Error(err))
		}
		cancel()
	}
}

func newLogger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("BRAIN_ENV") == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
