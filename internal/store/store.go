// Package store isolates all database reads and writes behind the
// operations the rest of the bridge needs. Read failures degrade to the
// built-in defaults; observability writes are best-effort and never
// propagate errors into the messaging path.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whatsapp-bridge/internal/logging"
	"whatsapp-bridge/internal/models"
)

const botConfigRowID = 1

type Store struct {
	db       *gorm.DB
	log      *logging.Logger
	defaults models.BotConfig

	mu   sync.Mutex
	subs []func(models.BotConfig)
}

func New(db *gorm.DB, defaults models.BotConfig, log *logging.Logger) *Store {
	return &Store{db: db, defaults: defaults, log: log.Sub("store")}
}

// LoadConfig returns the persisted bot configuration, or the defaults when
// nothing is stored or the read fails. Startup must never crash here.
func (s *Store) LoadConfig() models.BotConfig {
	var rec models.BotConfigRecord
	if err := s.db.First(&rec, botConfigRowID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn().Err(err).Msg("config read failed, using defaults")
		}
		return s.defaults
	}

	var cfg models.BotConfig
	if err := json.Unmarshal([]byte(rec.Data), &cfg); err != nil {
		s.log.Warn().Err(err).Msg("stored config is malformed, using defaults")
		return s.defaults
	}
	return cfg
}

// SaveConfig persists the configuration and notifies subscribers.
func (s *Store) SaveConfig(cfg models.BotConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	rec := models.BotConfigRecord{ID: botConfigRowID, Data: string(data)}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	s.notify(cfg)
	return nil
}

// SubscribeConfig registers a callback invoked after every successful
// SaveConfig, so live components pick up operator edits.
func (s *Store) SubscribeConfig(fn func(models.BotConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) notify(cfg models.BotConfig) {
	s.mu.Lock()
	subs := make([]func(models.BotConfig), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

// LoadHistory returns a chat's stored turns, oldest first. Empty on error.
func (s *Store) LoadHistory(chatID string) []models.ConversationTurn {
	var turns []models.ConversationTurn
	if err := s.db.Where("chat_id = ?", chatID).Order("id asc").Find(&turns).Error; err != nil {
		s.log.Warn().Err(err).Str("chat", chatID).Msg("history read failed")
		return nil
	}
	return turns
}

// SaveHistory replaces a chat's stored turns with the given window.
func (s *Store) SaveHistory(chatID string, turns []models.ConversationTurn) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.ConversationTurn{}).Error; err != nil {
			return err
		}
		for i := range turns {
			turns[i].ID = 0
			turns[i].ChatID = chatID
		}
		if len(turns) == 0 {
			return nil
		}
		return tx.Create(&turns).Error
	})
}

// ClearHistory removes one chat's stored turns, or all when chatID is empty.
func (s *Store) ClearHistory(chatID string) error {
	q := s.db.Session(&gorm.Session{AllowGlobalUpdate: true})
	if chatID != "" {
		q = s.db.Where("chat_id = ?", chatID)
	}
	return q.Delete(&models.ConversationTurn{}).Error
}

// PurgeHistoryOlderThan deletes turns older than the given number of days
// and returns how many rows went away.
func (s *Store) PurgeHistoryOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := s.db.Where("created_at < ?", cutoff).Delete(&models.ConversationTurn{})
	return res.RowsAffected, res.Error
}

// LogUsage appends a usage record. Best-effort: failures are logged only.
func (s *Store) LogUsage(rec models.UsageRecord) {
	rec.OriginalMessage = truncate(rec.OriginalMessage, 500)
	rec.ResponseMessage = truncate(rec.ResponseMessage, 500)
	if err := s.db.Create(&rec).Error; err != nil {
		s.log.Warn().Err(err).Msg("usage log write failed")
	}
}

// LogMessage appends a message log entry and upserts the contact it came
// from. Best-effort: failures are logged only.
func (s *Store) LogMessage(rec models.MessageLog, contactName string) {
	if err := s.db.Create(&rec).Error; err != nil {
		s.log.Warn().Err(err).Msg("message log write failed")
		return
	}
	if rec.FromMe {
		return
	}
	contact := models.Contact{ChatID: rec.ChatID, Name: contactName, Number: rec.Sender}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "number", "updated_at"}),
	}).Create(&contact).Error; err != nil {
		s.log.Warn().Err(err).Str("chat", rec.ChatID).Msg("contact upsert failed")
	}
}

// UpdateBotStatus overwrites the single status row. Best-effort.
func (s *Store) UpdateBotStatus(st models.BotStatusRecord) {
	st.ID = 1
	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_online", "whatsapp_connected", "gemini_enabled", "started_at", "updated_at",
		}),
	}).Create(&st).Error; err != nil {
		s.log.Warn().Err(err).Msg("bot status write failed")
	}
}

// ChatSummary is one entry of the chat listing: the last message of a chat
// plus the contact summary.
type ChatSummary struct {
	ChatID      string `json:"chatId"`
	Name        string `json:"name"`
	Number      string `json:"number"`
	LastMessage string `json:"lastMessage"`
	LastType    string `json:"lastType"`
	LastFromMe  bool   `json:"lastFromMe"`
	Timestamp   int64  `json:"timestamp"`
}

// Chats returns the most recently active chats, newest first.
func (s *Store) Chats(limit int) ([]ChatSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []ChatSummary
	err := s.db.Raw(`
		SELECT m.chat_id AS chat_id,
		       COALESCE(c.name, '') AS name,
		       COALESCE(c.number, '') AS number,
		       m.content AS last_message,
		       m.type AS last_type,
		       m.from_me AS last_from_me,
		       m.timestamp AS timestamp
		FROM message_logs m
		JOIN (SELECT chat_id, MAX(id) AS id FROM message_logs GROUP BY chat_id) last
		  ON m.id = last.id
		LEFT JOIN contacts c ON c.chat_id = m.chat_id
		ORDER BY m.timestamp DESC
		LIMIT ?`, limit).Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return out, nil
}

// Messages returns a chat's messages sorted ascending by timestamp.
func (s *Store) Messages(chatID string, limit int) ([]models.MessageLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []models.MessageLog
	err := s.db.Where("chat_id = ?", chatID).
		Order("timestamp asc").Order("id asc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// UsageStats aggregates usage records for the stats endpoint.
type UsageStats struct {
	Period            string  `json:"period"`
	TotalReplies      int64   `json:"totalReplies"`
	AIReplies         int64   `json:"aiReplies"`
	FallbackReplies   int64   `json:"fallbackReplies"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	UniqueChats       int64   `json:"uniqueChats"`
}

// Stats aggregates usage records since the start of the given period
// (today | week | month).
func (s *Store) Stats(period string) (UsageStats, error) {
	now := time.Now()
	var since time.Time
	switch period {
	case "today":
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case "week":
		since = now.AddDate(0, 0, -7)
	case "month":
		since = now.AddDate(0, -1, 0)
	default:
		return UsageStats{}, fmt.Errorf("unknown period %q", period)
	}

	stats := UsageStats{Period: period}
	base := s.db.Model(&models.UsageRecord{}).Where("created_at >= ?", since)

	if err := base.Session(&gorm.Session{}).Count(&stats.TotalReplies).Error; err != nil {
		return stats, err
	}
	if err := base.Session(&gorm.Session{}).Where("is_ai_response = ?", true).Count(&stats.AIReplies).Error; err != nil {
		return stats, err
	}
	stats.FallbackReplies = stats.TotalReplies - stats.AIReplies

	var avg *float64
	if err := base.Session(&gorm.Session{}).Select("AVG(response_time_ms)").Scan(&avg).Error; err != nil {
		return stats, err
	}
	if avg != nil {
		stats.AvgResponseTimeMs = *avg
	}

	if err := base.Session(&gorm.Session{}).Distinct("chat_id").Count(&stats.UniqueChats).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// truncate cuts s to at most maxLen bytes, backing up so a multi-byte rune
// is never split.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
