package ai

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"whatsapp-bridge/internal/logging"
	"whatsapp-bridge/internal/models"
)

// minKeyLength is the shortest API key we treat as plausibly real.
const minKeyLength = 20

// defaultFallbacks is used when the operator never configured a list.
var defaultFallbacks = []string{
	"Olá! Recebemos sua mensagem e já vamos te atender. 😊",
	"Oi! Obrigado pelo contato, em instantes alguém te responde.",
	"Olá! Nossa equipe viu sua mensagem e logo retorna.",
}

// RequestError reports a failed upstream generation call.
type RequestError struct {
	Reason string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ai request failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("ai request failed: %s", e.Reason)
}

func (e *RequestError) Unwrap() error { return e.Err }

// DefaultFallbacks returns a copy of the built-in fallback list.
func DefaultFallbacks() []string {
	out := make([]string, len(defaultFallbacks))
	copy(out, defaultFallbacks)
	return out
}

// Client generates reply text through an OpenAI-compatible chat-completion
// endpoint (the Gemini compatibility endpoint by default) and keeps the
// bounded per-conversation history window.
type Client struct {
	log     *logging.Logger
	history *HistoryCache

	restaurantName string

	mu        sync.RWMutex
	settings  models.AISettings
	fallbacks []string
	oai       *openai.Client
}

func NewClient(settings models.AISettings, fallbacks []string, restaurantName string, log *logging.Logger) *Client {
	c := &Client{
		log:            log.Sub("ai"),
		history:        NewHistoryCache(DefaultHistoryExchanges),
		restaurantName: restaurantName,
		fallbacks:      fallbacks,
	}
	c.UpdateSettings(settings)
	return c
}

// UpdateSettings swaps the API settings and rebuilds the underlying client.
func (c *Client) UpdateSettings(settings models.AISettings) {
	cfg := openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(settings.BaseURL, "/")
	}
	client := openai.NewClientWithConfig(cfg)

	c.mu.Lock()
	c.settings = settings
	c.oai = client
	c.mu.Unlock()
}

// UpdateFallbacks swaps the fallback-message list.
func (c *Client) UpdateFallbacks(messages []string) {
	c.mu.Lock()
	c.fallbacks = messages
	c.mu.Unlock()
}

// IsConfigured reports whether an API key of plausible length is present.
func (c *Client) IsConfigured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(strings.TrimSpace(c.settings.APIKey)) >= minKeyLength
}

// Generate produces a reply for userMessage in the context of chatID.
// The first turn of a conversation gets a typed instruction; later turns get
// the transcript window. Both sides of a successful exchange are recorded.
func (c *Client) Generate(ctx context.Context, userMessage, chatID string, contact Contact) (string, error) {
	c.mu.RLock()
	settings := c.settings
	oai := c.oai
	c.mu.RUnlock()

	turns := c.history.Get(chatID)

	var userPrompt string
	if len(turns) == 0 {
		intent := DetectIntent(userMessage)
		userPrompt = TypedPrompt(intent, userMessage, contact)
	} else {
		userPrompt = HistoryPrompt(turns, userMessage, contact)
	}

	req := openai.ChatCompletionRequest{
		Model:       settings.Model,
		MaxTokens:   settings.MaxTokens,
		Temperature: float32(settings.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemInstruction(c.restaurantName)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	resp, err := oai.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &RequestError{Reason: "upstream call failed", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &RequestError{Reason: "empty candidate list"}
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &RequestError{Reason: "empty response text"}
	}

	c.history.Add(chatID, RoleUser, userMessage)
	c.history.Add(chatID, RoleAssistant, text)
	return text, nil
}

// Fallback returns a uniformly random entry from the configured list.
func (c *Client) Fallback() string {
	c.mu.RLock()
	list := c.fallbacks
	c.mu.RUnlock()

	if len(list) == 0 {
		list = defaultFallbacks
	}
	return list[rand.Intn(len(list))]
}

// History returns a copy of a chat's current window.
func (c *Client) History(chatID string) []Turn {
	return c.history.Get(chatID)
}

// SeedHistory loads a previously persisted window into the cache.
func (c *Client) SeedHistory(chatID string, turns []Turn) {
	c.history.Seed(chatID, turns)
}

// ClearHistory drops one chat's window, or every window when chatID is empty.
func (c *Client) ClearHistory(chatID string) {
	if chatID == "" {
		c.history.ClearAll()
		return
	}
	c.history.Clear(chatID)
}
