package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 2000, cfg.ReplyDelayMinMs)
	assert.Equal(t, 5000, cfg.ReplyDelayMaxMs)
	assert.Equal(t, 30, cfg.HistoryRetentionDays)
	assert.Contains(t, cfg.GeminiBaseURL, "generativelanguage.googleapis.com")
	assert.Empty(t, cfg.FallbackMessages)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("REPLY_DELAY_MIN_MS", "1000")
	t.Setenv("REPLY_DELAY_MAX_MS", "1500")
	t.Setenv("GEMINI_TEMPERATURE", "0.3")
	t.Setenv("RESTAURANT_NAME", "Cantina da Nona")

	cfg := LoadConfig()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 1000, cfg.ReplyDelayMinMs)
	assert.Equal(t, 1500, cfg.ReplyDelayMaxMs)
	assert.Equal(t, 0.3, cfg.GeminiTemperature)
	assert.Equal(t, "Cantina da Nona", cfg.RestaurantName)
}

func TestLoadConfigSwapsInvertedDelays(t *testing.T) {
	t.Setenv("REPLY_DELAY_MIN_MS", "6000")
	t.Setenv("REPLY_DELAY_MAX_MS", "1000")

	cfg := LoadConfig()
	assert.Equal(t, 1000, cfg.ReplyDelayMinMs)
	assert.Equal(t, 6000, cfg.ReplyDelayMaxMs)
}

func TestLoadConfigIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("REPLY_DELAY_MIN_MS", "not-a-number")
	cfg := LoadConfig()
	assert.Equal(t, 2000, cfg.ReplyDelayMinMs)
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"comma separated", "a,b,c", []string{"a", "b", "c"}},
		{"pipe wins over comma", "oi, tudo bem?|volto já", []string{"oi, tudo bem?", "volto já"}},
		{"trims and drops blanks", " a , ,b ", []string{"a", "b"}},
		{"single value", "*", []string{"*"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitList(tt.raw))
		})
	}
}
