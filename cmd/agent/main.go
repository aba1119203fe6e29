package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xaenox/liveagent/internal/adapter"
	"github.com/xaenox/liveagent/internal/classifier"
	"github.com/xaenox/liveagent/internal/models"
	"github.com/xaenox/liveagent/internal/orchestrator"
	"github.com/xaenox/liveagent/internal/ratelimit"
	"github.com/xaenox/liveagent/internal/storage"
	"github.com/xaenox/liveagent/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStorage(dbConfig)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize classifier: GPT when an API key is configured, keyword
	// heuristics otherwise
	var clf classifier.Classifier
	if cfg.OpenAI.APIKey != "" {
		clf = classifier.NewGPTClassifier(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.Temperature,
			cfg.OpenAI.Timeout,
			logger,
		)
	} else {
		logger.Warn("No OpenAI API key configured, falling back to keyword classifier")
		clf = classifier.NewKeywordClassifier()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize rate limiter with background cleanup
	limiter := ratelimit.New(ratelimit.Config{
		MaxResponsesPerUser:      cfg.Agent.MaxResponsesPerUser,
		MaxResponsesPerSession:   cfg.Agent.MaxResponsesPerSession,
		MinDelayBetweenResponses: cfg.Agent.MinDelayBetweenResponses,
		TwitchWhispersPerDay:     cfg.Agent.TwitchWhispersPerDay,
		YouTubeQuotaPerDay:       cfg.Agent.YouTubeQuotaPerDay,
	}, logger)
	limiter.StartCleanup(ctx)

	// Register one adapter factory per platform
	registry := adapter.NewRegistry()
	registry.Register(models.PlatformYouTube, func() adapter.Adapter {
		return adapter.NewYouTubeAdapter(limiter, logger)
	})
	registry.Register(models.PlatformTwitch, func() adapter.Adapter {
		return adapter.NewTwitchAdapter(logger)
	})
	registry.Register(models.PlatformTikTok, func() adapter.Adapter {
		return adapter.NewTikTokAdapter(logger)
	})

	orch := orchestrator.New(registry, clf, limiter, store, logger)

	// Start every session configured for this boot
	for _, entry := range cfg.Sessions {
		sessionCfg := buildSessionConfig(cfg, entry)
		if err := orch.StartSession(ctx, sessionCfg); err != nil {
			logger.Error("Failed to start session",
				zap.Error(err),
				zap.String("session_id", entry.LiveSessionID))
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	for _, id := range orch.ActiveSessionIDs() {
		orch.StopSession(id)
	}
}

// buildSessionConfig merges the per-session entry with the global platform
// credentials.
func buildSessionConfig(cfg *config.Config, entry config.SessionEntry) models.SessionConfig {
	products := make([]models.Product, 0, len(entry.Products))
	for _, p := range entry.Products {
		products = append(products, models.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price: models.Price{
				AmountMicros: p.PriceMicros,
				CurrencyCode: p.CurrencyCode,
			},
			PurchaseLink: p.PurchaseLink,
		})
	}

	session := models.SessionConfig{
		LiveSessionID: entry.LiveSessionID,
		Platform:      models.Platform(entry.Platform),
		AgentEnabled:  entry.AgentEnabled,
		Products:      products,
	}

	switch session.Platform {
	case models.PlatformYouTube:
		session.YouTube = &models.YouTubeSessionConfig{
			APIKey:     cfg.YouTube.APIKey,
			LiveChatID: entry.LiveChatID,
			VideoID:    entry.VideoID,
		}
	case models.PlatformTwitch:
		session.Twitch = &models.TwitchSessionConfig{
			AccessToken: cfg.Twitch.AccessToken,
			ClientID:    cfg.Twitch.ClientID,
			BotUsername: cfg.Twitch.BotUsername,
			BotUserID:   cfg.Twitch.BotUserID,
			ChannelName: entry.ChannelName,
		}
	case models.PlatformTikTok:
		session.TikTok = &models.TikTokSessionConfig{
			AccessToken: cfg.TikTok.AccessToken,
			AppID:       cfg.TikTok.AppID,
			AppSecret:   cfg.TikTok.AppSecret,
			LiveRoomID:  entry.LiveRoomID,
		}
	}

	return session
}
