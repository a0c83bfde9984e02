package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"whatsapp-bridge/internal/bot"
	"whatsapp-bridge/internal/logging"
	"whatsapp-bridge/internal/models"
	"whatsapp-bridge/internal/session"
	"whatsapp-bridge/internal/store"
)

// SessionStatus is the session-manager surface the handlers read from.
type SessionStatus interface {
	State() session.State
	Ready() bool
	Identity() session.Identity
	StartedAt() time.Time
}

// AIControl is the AI-client surface the handlers mutate.
type AIControl interface {
	IsConfigured() bool
	UpdateSettings(settings models.AISettings)
	UpdateFallbacks(messages []string)
	ClearHistory(chatID string)
}

// BotHandler serves the bot control endpoints.
type BotHandler struct {
	state    *bot.State
	store    *store.Store
	ai       AIControl
	sessions SessionStatus
	log      *logging.Logger

	// mu serializes config mutations so the in-memory update and its persist
	// always land in the same order; without it two quick toggles can leave
	// the older snapshot as the last write.
	mu sync.Mutex
}

func NewBotHandler(state *bot.State, st *store.Store, aiClient AIControl, sessions SessionStatus, log *logging.Logger) *BotHandler {
	return &BotHandler{
		state:    state,
		store:    st,
		ai:       aiClient,
		sessions: sessions,
		log:      log.Sub("api"),
	}
}

// Health handles GET /
func (h *BotHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "whatsapp-bridge",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status handles GET /status
func (h *BotHandler) Status(c *gin.Context) {
	cfg := h.state.Get()
	id := h.sessions.Identity()

	resp := gin.H{
		"state":             h.sessions.State().String(),
		"whatsappConnected": h.sessions.Ready(),
		"geminiConfigured":  h.ai.IsConfigured(),
		"autoReplyEnabled":  cfg.AutoReplyEnabled,
		"useAI":             cfg.UseAI,
		"delayRange":        cfg.DelayRange,
		"fallbackMessages":  cfg.FallbackMessages,
		"aiModel":           cfg.AISettings.Model,
		"apiKey":            maskKey(cfg.AISettings.APIKey),
	}
	if id.ID != "" {
		resp["whatsappId"] = id.ID
		resp["pushName"] = id.PushName
	}
	if started := h.sessions.StartedAt(); !started.IsZero() {
		resp["startedAt"] = started.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// ToggleAutoReply handles POST /bot/auto-reply/toggle
func (h *BotHandler) ToggleAutoReply(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "campo 'enabled' é obrigatório"})
		return
	}

	h.mu.Lock()
	cfg := h.state.Update(func(cfg *models.BotConfig) {
		cfg.AutoReplyEnabled = *req.Enabled
	})
	h.persist(cfg)
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"autoReplyEnabled": cfg.AutoReplyEnabled})
}

// SetFallbackMessages handles POST /bot/auto-reply/messages
func (h *BotHandler) SetFallbackMessages(c *gin.Context) {
	var req struct {
		Messages []string `json:"messages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "informe ao menos uma mensagem"})
		return
	}
	for _, m := range req.Messages {
		if m == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mensagens em branco não são permitidas"})
			return
		}
	}

	h.mu.Lock()
	cfg := h.state.Update(func(cfg *models.BotConfig) {
		cfg.FallbackMessages = req.Messages
	})
	h.ai.UpdateFallbacks(req.Messages)
	h.persist(cfg)
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"fallbackMessages": cfg.FallbackMessages})
}

// ToggleAI handles POST /bot/ai/toggle
func (h *BotHandler) ToggleAI(c *gin.Context) {
	var req struct {
		UseAI *bool `json:"useAI" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "campo 'useAI' é obrigatório"})
		return
	}
	if *req.UseAI && !h.ai.IsConfigured() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chave da API Gemini não configurada"})
		return
	}

	h.mu.Lock()
	cfg := h.state.Update(func(cfg *models.BotConfig) {
		cfg.UseAI = *req.UseAI
	})
	h.persist(cfg)
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"useAI": cfg.UseAI})
}

// ClearHistory handles POST /bot/ai/clear-history
func (h *BotHandler) ClearHistory(c *gin.Context) {
	var req struct {
		ChatID string `json:"chatId"`
	}
	// Body is optional: no body means clear everything.
	_ = c.ShouldBindJSON(&req)

	h.ai.ClearHistory(req.ChatID)
	if err := h.store.ClearHistory(req.ChatID); err != nil {
		h.log.Error().Err(err).Msg("history purge failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "falha ao limpar histórico"})
		return
	}

	if req.ChatID != "" {
		c.JSON(http.StatusOK, gin.H{"cleared": req.ChatID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": "all"})
}

// SaveConfig handles POST /bot/config/save
func (h *BotHandler) SaveConfig(c *gin.Context) {
	var cfg models.BotConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "configuração inválida: " + err.Error()})
		return
	}
	if !cfg.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "configuração inválida"})
		return
	}

	h.mu.Lock()
	h.state.Set(cfg)
	h.ai.UpdateSettings(cfg.AISettings)
	h.ai.UpdateFallbacks(cfg.FallbackMessages)
	err := h.store.SaveConfig(cfg)
	h.mu.Unlock()
	if err != nil {
		h.log.Error().Err(err).Msg("config persist failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "falha ao salvar configuração"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"saved": true})
}

// Stats handles GET /bot/ai/stats
func (h *BotHandler) Stats(c *gin.Context) {
	period := c.DefaultQuery("period", "today")

	stats, err := h.store.Stats(period)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// persist writes the config before the handler returns. A storage hiccup
// must not fail the toggle that already took effect in memory, so failures
// are only logged. Callers hold h.mu.
func (h *BotHandler) persist(cfg models.BotConfig) {
	if err := h.store.SaveConfig(cfg); err != nil {
		h.log.Error().Err(err).Msg("config persist failed")
	}
}

func maskKey(key string) string {
	if len(key) < 8 {
		return ""
	}
	return "****" + key[len(key)-4:]
}
