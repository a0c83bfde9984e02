package models

import (
	"time"
)

// BotConfig is the runtime bot configuration. It is persisted as a single
// JSON document in the bot_config table and mutable through the control API.
type BotConfig struct {
	AutoReplyEnabled bool       `json:"autoReplyEnabled"`
	UseAI            bool       `json:"useAI"`
	DelayRange       DelayRange `json:"delayRange"`
	FallbackMessages []string   `json:"fallbackMessages"`
	AISettings       AISettings `json:"aiSettings"`
}

type DelayRange struct {
	Min int `json:"min"` // milliseconds
	Max int `json:"max"`
}

type AISettings struct {
	APIKey      string  `json:"apiKey"`
	BaseURL     string  `json:"baseUrl,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	Enabled     bool    `json:"enabled"`
}

// Valid reports whether the configuration satisfies its invariants.
func (c BotConfig) Valid() bool {
	if c.DelayRange.Min > c.DelayRange.Max || c.DelayRange.Min < 0 {
		return false
	}
	// The fallback list must be usable whenever auto-reply can reach it.
	if c.AutoReplyEnabled && len(c.FallbackMessages) == 0 {
		return false
	}
	for _, m := range c.FallbackMessages {
		if m == "" {
			return false
		}
	}
	return true
}

// BotConfigRecord stores the serialized BotConfig.
type BotConfigRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Data      string    `gorm:"type:text" json:"data"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BotConfigRecord) TableName() string {
	return "bot_config"
}

// ConversationTurn is one entry of a chat's bounded history.
type ConversationTurn struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChatID    string    `gorm:"index;not null" json:"chat_id"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"` // user | assistant
	Text      string    `gorm:"type:text" json:"text"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ConversationTurn) TableName() string {
	return "conversation_turns"
}

// BotStatusRecord is the single overwritten status row.
type BotStatusRecord struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	IsOnline          bool      `json:"is_online"`
	WhatsappConnected bool      `json:"whatsapp_connected"`
	GeminiEnabled     bool      `json:"gemini_enabled"`
	StartedAt         time.Time `json:"started_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BotStatusRecord) TableName() string {
	return "bot_status"
}

// UsageRecord is an append-only log of one auto-reply exchange.
type UsageRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ChatID          string    `gorm:"index" json:"chat_id"`
	OriginalMessage string    `gorm:"type:text" json:"original_message"` // truncated
	ResponseMessage string    `gorm:"type:text" json:"response_message"` // truncated
	IsAIResponse    bool      `json:"is_ai_response"`
	ResponseTimeMs  int64     `json:"response_time_ms"`
	ContactName     string    `gorm:"type:varchar(255)" json:"contact_name"`
	ContactNumber   string    `gorm:"type:varchar(50)" json:"contact_number"`
	MessageLength   int       `json:"message_length"`
	ResponseLength  int       `json:"response_length"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}

// MessageLog mirrors every relayed message; it backs the chat and message
// listings served to control connections.
type MessageLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID string    `gorm:"index" json:"message_id"`
	ChatID    string    `gorm:"index;not null" json:"chat_id"`
	Sender    string    `gorm:"type:varchar(100)" json:"sender"`
	Content   string    `gorm:"type:text" json:"content"`
	Type      string    `gorm:"type:varchar(50)" json:"type"`
	FromMe    bool      `json:"from_me"`
	Status    string    `gorm:"type:varchar(20)" json:"status"` // received | sent
	Timestamp int64     `gorm:"index" json:"timestamp"`         // unix seconds
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (MessageLog) TableName() string {
	return "message_logs"
}

// Contact represents a WhatsApp contact
type Contact struct {
	ChatID    string    `gorm:"primaryKey" json:"chat_id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Number    string    `gorm:"type:varchar(50)" json:"number"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}
