package ai

import "sync"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a conversation's bounded history.
type Turn struct {
	Role Role
	Text string
}

// DefaultHistoryExchanges is the default window: 10 exchanges, 20 entries.
const DefaultHistoryExchanges = 10

// HistoryCache keeps a capped per-conversation turn list. Oldest entries are
// evicted first when the window overflows.
type HistoryCache struct {
	mu      sync.Mutex
	maxSize int // entries, not exchanges
	turns   map[string][]Turn
}

func NewHistoryCache(exchanges int) *HistoryCache {
	if exchanges <= 0 {
		exchanges = DefaultHistoryExchanges
	}
	return &HistoryCache{
		maxSize: exchanges * 2,
		turns:   make(map[string][]Turn),
	}
}

// Add appends a turn, evicting the oldest entries beyond the window.
func (h *HistoryCache) Add(chatID string, role Role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.turns[chatID], Turn{Role: role, Text: text})
	if len(list) > h.maxSize {
		list = list[len(list)-h.maxSize:]
	}
	h.turns[chatID] = list
}

// Get returns a copy of the chat's current window, oldest first.
func (h *HistoryCache) Get(chatID string) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.turns[chatID]
	out := make([]Turn, len(list))
	copy(out, list)
	return out
}

// Seed replaces a chat's window, trimming to the cap if needed.
func (h *HistoryCache) Seed(chatID string, turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(turns) > h.maxSize {
		turns = turns[len(turns)-h.maxSize:]
	}
	list := make([]Turn, len(turns))
	copy(list, turns)
	h.turns[chatID] = list
}

// Clear drops one chat's window.
func (h *HistoryCache) Clear(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.turns, chatID)
}

// ClearAll drops every window.
func (h *HistoryCache) ClearAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = make(map[string][]Turn)
}
