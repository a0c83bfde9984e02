package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"whatsapp-bridge/internal/ai"
	"whatsapp-bridge/internal/bot"
	"whatsapp-bridge/internal/logging"
	"whatsapp-bridge/internal/models"
	"whatsapp-bridge/internal/session"
	"whatsapp-bridge/internal/store"
	"whatsapp-bridge/internal/ws"
)

type fakeSession struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	sentTexts  []sentText
	replies    []sentReply
	replyErr   error
	contact    session.Contact
}

type sentText struct{ chatID, text string }

type sentReply struct {
	chatID string
	quoted session.Quoted
	text   string
}

func (f *fakeSession) Connect(ctx context.Context, events session.Events) error {
	return f.connectErr
}
func (f *fakeSession) Disconnect()            { f.connected = false }
func (f *fakeSession) Reset()                 { f.connected = false }
func (f *fakeSession) Ready() bool            { return f.connected }
func (f *fakeSession) State() session.State   { return session.StateReady }
func (f *fakeSession) Identity() session.Identity {
	return session.Identity{ID: "5511000000000@c.us", PushName: "Cantina"}
}

func (f *fakeSession) SendText(ctx context.Context, chatID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTexts = append(f.sentTexts, sentText{chatID, text})
	return "OUT1", nil
}

func (f *fakeSession) SendReply(ctx context.Context, chatID string, quoted session.Quoted, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return "", f.replyErr
	}
	f.replies = append(f.replies, sentReply{chatID, quoted, text})
	return "REPLY1", nil
}

func (f *fakeSession) ResolveContact(ctx context.Context, chatID string) session.Contact {
	return f.contact
}

func (f *fakeSession) lastReply() (sentReply, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return sentReply{}, false
	}
	return f.replies[len(f.replies)-1], true
}

type fakeResponder struct {
	mu         sync.Mutex
	configured bool
	generated  string
	genErr     error
	history    map[string][]ai.Turn
}

func (f *fakeResponder) Generate(ctx context.Context, userMessage, chatID string, contact ai.Contact) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.history == nil {
		f.history = map[string][]ai.Turn{}
	}
	f.history[chatID] = append(f.history[chatID],
		ai.Turn{Role: ai.RoleUser, Text: userMessage},
		ai.Turn{Role: ai.RoleAssistant, Text: f.generated})
	return f.generated, nil
}

func (f *fakeResponder) Fallback() string    { return "fallback!" }
func (f *fakeResponder) IsConfigured() bool  { return f.configured }
func (f *fakeResponder) History(chatID string) []ai.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[chatID]
}
func (f *fakeResponder) SeedHistory(chatID string, turns []ai.Turn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.history == nil {
		f.history = map[string][]ai.Turn{}
	}
	f.history[chatID] = turns
}

type sentEvent struct {
	event string
	data  any
}

type fakeConn struct {
	mu     sync.Mutex
	id     string
	events []sentEvent
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) SendEvent(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{event, data})
	return nil
}

func (f *fakeConn) SendStatus(message, typ string) {
	_ = f.SendEvent(ws.EventStatusUpdate, ws.StatusUpdate{Message: message, Type: typ})
}

func (f *fakeConn) byEvent(event string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeBroadcaster) Broadcast(event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{event, data})
}

func (f *fakeBroadcaster) byEvent(event string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.BotConfigRecord{},
		&models.ConversationTurn{},
		&models.BotStatusRecord{},
		&models.UsageRecord{},
		&models.MessageLog{},
		&models.Contact{},
	))
	return store.New(db, models.BotConfig{}, logging.New(io.Discard, "silent"))
}

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delayRecorder) sleep(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delays = append(d.delays, dur)
}

func (d *delayRecorder) all() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.delays...)
}

type fixture struct {
	relay   *Relay
	session *fakeSession
	ai      *fakeResponder
	store   *store.Store
	hub     *fakeBroadcaster
	state   *bot.State
	delays  *delayRecorder
}

func newFixture(t *testing.T, cfg models.BotConfig) *fixture {
	t.Helper()
	fs := &fakeSession{contact: session.Contact{Name: "Maria", Number: "5511999999999"}}
	fa := &fakeResponder{}
	st := newTestStore(t)
	hub := &fakeBroadcaster{}
	state := bot.NewState(cfg)

	r := New(fs, fa, st, hub, state, logging.New(io.Discard, "silent"))

	rec := &delayRecorder{}
	r.sleep = rec.sleep

	return &fixture{relay: r, session: fs, ai: fa, store: st, hub: hub, state: state, delays: rec}
}

func enabledConfig() models.BotConfig {
	return models.BotConfig{
		AutoReplyEnabled: true,
		DelayRange:       models.DelayRange{Min: 2000, Max: 5000},
		FallbackMessages: []string{"fallback!"},
	}
}

func inbound(chatID, body string) session.IncomingMessage {
	return session.IncomingMessage{
		ID:        "IN1",
		ChatID:    chatID,
		Sender:    chatID,
		PushName:  "Maria",
		Body:      body,
		Type:      "chat",
		Timestamp: time.Now().Add(time.Second),
	}
}

func TestFallbackReplyPipeline(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.relay.OnReady(session.Identity{ID: "5511000000000@c.us"})

	f.relay.OnMessage(inbound("5511999999999@c.us", "oi"))

	require.Eventually(t, func() bool {
		_, ok := f.session.lastReply()
		return ok
	}, time.Second, 5*time.Millisecond)

	reply, _ := f.session.lastReply()
	assert.Equal(t, "5511999999999@c.us", reply.chatID)
	assert.Equal(t, "IN1", reply.quoted.MessageID)
	assert.Equal(t, "fallback!", reply.text)

	require.Eventually(t, func() bool {
		return len(f.hub.byEvent(ws.EventAutoReplySent)) == 1
	}, time.Second, 5*time.Millisecond)

	sent := f.hub.byEvent(ws.EventAutoReplySent)[0].data.(map[string]any)
	assert.Equal(t, false, sent["isAIResponse"])

	delays := f.delays.all()
	require.Len(t, delays, 1)
	assert.GreaterOrEqual(t, delays[0], 2000*time.Millisecond)
	assert.LessOrEqual(t, delays[0], 5000*time.Millisecond)
}

func TestAIReplyPipeline(t *testing.T) {
	f := newFixture(t, func() models.BotConfig {
		cfg := enabledConfig()
		cfg.UseAI = true
		return cfg
	}())
	f.ai.configured = true
	f.ai.generated = "Olá Maria! Como posso ajudar?"
	f.relay.OnReady(session.Identity{ID: "x"})

	f.relay.OnMessage(inbound("5511999999999@c.us", "oi, bom dia"))

	require.Eventually(t, func() bool {
		return len(f.hub.byEvent(ws.EventAutoReplySent)) == 1
	}, time.Second, 5*time.Millisecond)

	reply, ok := f.session.lastReply()
	require.True(t, ok)
	assert.Equal(t, "Olá Maria! Como posso ajudar?", reply.text)

	sent := f.hub.byEvent(ws.EventAutoReplySent)[0].data.(map[string]any)
	assert.Equal(t, true, sent["isAIResponse"])

	// The exchange window ends up persisted.
	require.Eventually(t, func() bool {
		return len(f.store.LoadHistory("5511999999999@c.us")) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestAIFailureFallsBack(t *testing.T) {
	f := newFixture(t, func() models.BotConfig {
		cfg := enabledConfig()
		cfg.UseAI = true
		return cfg
	}())
	f.ai.configured = true
	f.ai.genErr = errors.New("quota exceeded")
	f.relay.OnReady(session.Identity{ID: "x"})

	f.relay.OnMessage(inbound("5511999999999@c.us", "oi"))

	require.Eventually(t, func() bool {
		return len(f.hub.byEvent(ws.EventAutoReplySent)) == 1
	}, time.Second, 5*time.Millisecond)

	reply, _ := f.session.lastReply()
	assert.Equal(t, "fallback!", reply.text)
	sent := f.hub.byEvent(ws.EventAutoReplySent)[0].data.(map[string]any)
	assert.Equal(t, false, sent["isAIResponse"])
}

func TestReplySendFailureBroadcastsError(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.session.replyErr = errors.New("not connected")
	f.relay.OnReady(session.Identity{ID: "x"})

	f.relay.OnMessage(inbound("5511999999999@c.us", "oi"))

	require.Eventually(t, func() bool {
		return len(f.hub.byEvent(ws.EventAutoReplyError)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.hub.byEvent(ws.EventAutoReplySent))
}

func TestNoAutoReplyCases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fixture, *session.IncomingMessage)
	}{
		{"own message", func(f *fixture, m *session.IncomingMessage) { m.FromMe = true }},
		{"group chat", func(f *fixture, m *session.IncomingMessage) { m.IsGroup = true }},
		{"non text", func(f *fixture, m *session.IncomingMessage) { m.Type = "image"; m.Body = "" }},
		{"auto-reply disabled", func(f *fixture, m *session.IncomingMessage) {
			f.state.Update(func(cfg *models.BotConfig) { cfg.AutoReplyEnabled = false })
		}},
		{"before session ready", func(f *fixture, m *session.IncomingMessage) {
			m.Timestamp = time.Now().Add(-time.Hour)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, enabledConfig())
			f.relay.OnReady(session.Identity{ID: "x"})

			msg := inbound("5511999999999@c.us", "oi")
			tt.mutate(f, &msg)
			f.relay.OnMessage(msg)

			time.Sleep(50 * time.Millisecond)
			_, replied := f.session.lastReply()
			assert.False(t, replied)
			// The message itself is still relayed.
			assert.Len(t, f.hub.byEvent(ws.EventNewMessage), 1)
		})
	}
}

func TestNoAutoReplyBeforeConnect(t *testing.T) {
	f := newFixture(t, enabledConfig())
	// No OnReady: startedAt unset, nothing qualifies.
	f.relay.OnMessage(inbound("5511999999999@c.us", "oi"))

	time.Sleep(50 * time.Millisecond)
	_, replied := f.session.lastReply()
	assert.False(t, replied)
}

func TestOnMessageRelaysToOwnerAndAll(t *testing.T) {
	f := newFixture(t, enabledConfig())
	owner := &fakeConn{id: "conn-1"}
	f.relay.handle(owner, ws.CmdConnectWhatsApp, nil)
	f.relay.OnReady(session.Identity{ID: "x"})

	msg := inbound("5511999999999@c.us", "oi")
	msg.FromMe = true // keep the pipeline out of this test
	f.relay.OnMessage(msg)

	received := owner.byEvent(ws.EventMessageReceived)
	require.Len(t, received, 1)
	rec := received[0].data.(messageRecord)
	assert.Equal(t, "Maria", rec.ContactName)

	assert.Len(t, f.hub.byEvent(ws.EventNewMessage), 1)
}

func TestQREventsGoToOwnerOnly(t *testing.T) {
	f := newFixture(t, enabledConfig())
	owner := &fakeConn{id: "conn-1"}
	f.relay.handle(owner, ws.CmdConnectWhatsApp, nil)

	f.relay.OnQR("qr-data")

	qr := owner.byEvent(ws.EventQRCode)
	require.Len(t, qr, 1)
	assert.Equal(t, "qr-data", qr[0].data)
	assert.Empty(t, f.hub.byEvent(ws.EventQRCode))
}

func TestReadyBroadcast(t *testing.T) {
	f := newFixture(t, enabledConfig())
	owner := &fakeConn{id: "conn-1"}
	f.relay.handle(owner, ws.CmdConnectWhatsApp, nil)

	f.relay.OnReady(session.Identity{ID: "5511000000000@c.us"})

	assert.Len(t, owner.byEvent(ws.EventConnected), 1)
	assert.Len(t, f.hub.byEvent(ws.EventWhatsAppReady), 1)
}

func TestSendMessageNormalizesNumber(t *testing.T) {
	f := newFixture(t, enabledConfig())
	conn := &fakeConn{id: "conn-1"}

	payload, _ := json.Marshal(map[string]string{"number": "11 99999-9999", "message": "seu pedido saiu"})
	f.relay.handle(conn, ws.CmdSendMessage, payload)

	require.Len(t, f.session.sentTexts, 1)
	assert.Equal(t, "5511999999999@c.us", f.session.sentTexts[0].chatID)
	assert.Equal(t, "seu pedido saiu", f.session.sentTexts[0].text)

	require.Len(t, conn.byEvent(ws.EventMessageSent), 1)
}

func TestSendMessageRequiresBody(t *testing.T) {
	f := newFixture(t, enabledConfig())
	conn := &fakeConn{id: "conn-1"}

	payload, _ := json.Marshal(map[string]string{"number": "11999999999"})
	f.relay.handle(conn, ws.CmdSendMessage, payload)

	assert.Empty(t, f.session.sentTexts)
	assert.NotEmpty(t, conn.byEvent(ws.EventStatusUpdate))
}

func TestGetMessagesAscending(t *testing.T) {
	f := newFixture(t, enabledConfig())
	chat := "5511999999999@c.us"
	for _, ts := range []int64{30, 10, 20} {
		f.store.LogMessage(models.MessageLog{MessageID: "m", ChatID: chat, Sender: chat,
			Content: "oi", Type: "chat", Timestamp: ts}, "")
	}

	conn := &fakeConn{id: "conn-1"}
	payload, _ := json.Marshal(map[string]any{"chatId": chat, "limit": 50})
	f.relay.handle(conn, ws.CmdGetMessages, payload)

	events := conn.byEvent(ws.EventMessages)
	require.Len(t, events, 1)
	msgs := events[0].data.([]models.MessageLog)
	require.Len(t, msgs, 3)
	assert.EqualValues(t, 10, msgs[0].Timestamp)
	assert.EqualValues(t, 30, msgs[2].Timestamp)
}

func TestGetChats(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.store.LogMessage(models.MessageLog{MessageID: "m", ChatID: "a@c.us", Sender: "a@c.us",
		Content: "oi", Type: "chat", Timestamp: 10}, "Ana")

	conn := &fakeConn{id: "conn-1"}
	f.relay.handle(conn, ws.CmdGetChats, nil)

	events := conn.byEvent(ws.EventChats)
	require.Len(t, events, 1)
	chats := events[0].data.([]store.ChatSummary)
	require.Len(t, chats, 1)
	assert.Equal(t, "Ana", chats[0].Name)
}

func TestConnectFailureReportsStatus(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.session.connectErr = errors.New("qr timeout")

	conn := &fakeConn{id: "conn-1"}
	f.relay.handle(conn, ws.CmdConnectWhatsApp, nil)

	statuses := conn.byEvent(ws.EventStatusUpdate)
	require.NotEmpty(t, statuses)
	last := statuses[len(statuses)-1].data.(ws.StatusUpdate)
	assert.Equal(t, "error", last.Type)
	assert.Contains(t, last.Message, "qr timeout")
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, enabledConfig())
	conn := &fakeConn{id: "conn-1"}

	f.relay.handle(conn, "bogus-command", nil)

	statuses := conn.byEvent(ws.EventStatusUpdate)
	require.Len(t, statuses, 1)
	assert.Equal(t, "warning", statuses[0].data.(ws.StatusUpdate).Type)
}

func TestReplyDelayBounds(t *testing.T) {
	rangeCfg := models.DelayRange{Min: 2000, Max: 5000}
	for i := 0; i < 100; i++ {
		d := replyDelay(rangeCfg)
		require.GreaterOrEqual(t, d, 2000*time.Millisecond)
		require.LessOrEqual(t, d, 5000*time.Millisecond)
	}

	assert.Equal(t, 3*time.Second, replyDelay(models.DelayRange{Min: 3000, Max: 3000}))
}
