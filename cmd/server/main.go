package main

import (
	"os"

	"whatsapp-bridge/internal/ai"
	"whatsapp-bridge/internal/api"
	"whatsapp-bridge/internal/bot"
	"whatsapp-bridge/internal/config"
	"whatsapp-bridge/internal/database"
	"whatsapp-bridge/internal/jobs"
	"whatsapp-bridge/internal/logging"
	"whatsapp-bridge/internal/models"
	"whatsapp-bridge/internal/relay"
	"whatsapp-bridge/internal/session"
	"whatsapp-bridge/internal/store"
	"whatsapp-bridge/internal/ws"
)

func main() {
	cfg := config.LoadConfig()
	log := logging.New(os.Stderr, cfg.LogLevel)

	db, err := database.InitGorm(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}

	defaults := defaultBotConfig(cfg)
	st := store.New(db, defaults, log)

	botState := bot.NewState(st.LoadConfig())
	runtime := botState.Get()

	aiClient := ai.NewClient(runtime.AISettings, runtime.FallbackMessages, cfg.RestaurantName, log)

	// Config changes written through the store (API saves, external writers)
	// propagate to the in-memory state and the AI client.
	st.SubscribeConfig(func(updated models.BotConfig) {
		botState.Set(updated)
		aiClient.UpdateSettings(updated.AISettings)
		aiClient.UpdateFallbacks(updated.FallbackMessages)
	})

	sessions := session.NewManager(cfg.SessionDir, log)

	hub := ws.NewHub(log)
	rl := relay.New(sessions, aiClient, st, hub, botState, log)
	hub.SetHandler(rl)
	go hub.Run()

	retention := jobs.NewRetention(st, cfg.HistoryRetentionDays, log)
	if err := retention.Start(); err != nil {
		log.Fatal().Err(err).Msg("retention job init failed")
	}
	defer retention.Stop()

	handler := api.NewBotHandler(botState, st, aiClient, sessions, log)
	router := api.NewRouter(handler, hub.ServeWs, cfg.AllowedOrigins)

	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// defaultBotConfig derives the initial bot configuration from the
// environment. It is used until an operator saves a config of their own.
func defaultBotConfig(cfg *config.Config) models.BotConfig {
	fallbacks := cfg.FallbackMessages
	if len(fallbacks) == 0 {
		fallbacks = ai.DefaultFallbacks()
	}

	return models.BotConfig{
		AutoReplyEnabled: true,
		UseAI:            cfg.GeminiAPIKey != "",
		DelayRange: models.DelayRange{
			Min: cfg.ReplyDelayMinMs,
			Max: cfg.ReplyDelayMaxMs,
		},
		FallbackMessages: fallbacks,
		AISettings: models.AISettings{
			APIKey:      cfg.GeminiAPIKey,
			BaseURL:     cfg.GeminiBaseURL,
			Model:       cfg.GeminiModel,
			MaxTokens:   cfg.GeminiMaxTokens,
			Temperature: cfg.GeminiTemperature,
			Enabled:     cfg.GeminiAPIKey != "",
		},
	}
}
