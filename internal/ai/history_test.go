package ai

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryCacheWindowEviction(t *testing.T) {
	h := NewHistoryCache(10) // 20 entries

	for i := 0; i < 25; i++ {
		h.Add("chat", RoleUser, fmt.Sprintf("m%d", i))
	}

	got := h.Get("chat")
	require.Len(t, got, 20)
	// Oldest entries evicted first.
	assert.Equal(t, "m5", got[0].Text)
	assert.Equal(t, "m24", got[19].Text)
}

func TestHistoryCacheIsolatesChats(t *testing.T) {
	h := NewHistoryCache(10)
	h.Add("a", RoleUser, "hello a")
	h.Add("b", RoleUser, "hello b")

	assert.Len(t, h.Get("a"), 1)
	assert.Len(t, h.Get("b"), 1)

	h.Clear("a")
	assert.Empty(t, h.Get("a"))
	assert.Len(t, h.Get("b"), 1)
}

func TestHistoryCacheGetReturnsCopy(t *testing.T) {
	h := NewHistoryCache(10)
	h.Add("chat", RoleUser, "original")

	got := h.Get("chat")
	got[0].Text = "mutated"

	assert.Equal(t, "original", h.Get("chat")[0].Text)
}

func TestHistoryCacheSeedTrimsToCap(t *testing.T) {
	h := NewHistoryCache(2) // 4 entries

	turns := make([]Turn, 10)
	for i := range turns {
		turns[i] = Turn{Role: RoleUser, Text: fmt.Sprintf("m%d", i)}
	}
	h.Seed("chat", turns)

	got := h.Get("chat")
	require.Len(t, got, 4)
	assert.Equal(t, "m6", got[0].Text)
}

func TestHistoryCacheClearAll(t *testing.T) {
	h := NewHistoryCache(10)
	h.Add("a", RoleUser, "x")
	h.Add("b", RoleUser, "y")

	h.ClearAll()

	assert.Empty(t, h.Get("a"))
	assert.Empty(t, h.Get("b"))
}

func TestNewHistoryCacheDefaultsWindow(t *testing.T) {
	h := NewHistoryCache(0)
	for i := 0; i < 50; i++ {
		h.Add("chat", RoleUser, "m")
	}
	assert.Len(t, h.Get("chat"), DefaultHistoryExchanges*2)
}
