// Package relay translates messaging-client events into control-channel
// traffic and runs the auto-reply pipeline for qualifying inbound messages.
package relay

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"whatsapp-bridge/internal/ai"
	"whatsapp-bridge/internal/bot"
	"whatsapp-bridge/internal/logging"
	"whatsapp-bridge/internal/models"
	"whatsapp-bridge/internal/session"
	"whatsapp-bridge/internal/store"
	"whatsapp-bridge/internal/ws"
)

// Session is the session-manager surface the relay depends on.
type Session interface {
	Connect(ctx context.Context, events session.Events) error
	Disconnect()
	Reset()
	Ready() bool
	State() session.State
	Identity() session.Identity
	SendText(ctx context.Context, chatID, text string) (string, error)
	SendReply(ctx context.Context, chatID string, quoted session.Quoted, text string) (string, error)
	ResolveContact(ctx context.Context, chatID string) session.Contact
}

// Responder is the AI-client surface the relay depends on.
type Responder interface {
	Generate(ctx context.Context, userMessage, chatID string, contact ai.Contact) (string, error)
	Fallback() string
	IsConfigured() bool
	History(chatID string) []ai.Turn
	SeedHistory(chatID string, turns []ai.Turn)
}

// Conn is one control connection (unicast target).
type Conn interface {
	ID() string
	SendEvent(event string, data any) error
	SendStatus(message, typ string)
}

// Broadcaster fans an event out to every control connection.
type Broadcaster interface {
	Broadcast(event string, data any)
}

type Relay struct {
	sessions Session
	ai       Responder
	store    *store.Store
	hub      Broadcaster
	state    *bot.State
	log      *logging.Logger

	// sleep is swapped in tests to observe the reply delay.
	sleep func(time.Duration)

	mu           sync.Mutex
	owner        Conn // control connection that requested the session
	botStartedAt time.Time
}

func New(sessions Session, aiClient Responder, st *store.Store, hub Broadcaster, state *bot.State, log *logging.Logger) *Relay {
	return &Relay{
		sessions: sessions,
		ai:       aiClient,
		store:    st,
		hub:      hub,
		state:    state,
		log:      log.Sub("relay"),
		sleep:    time.Sleep,
	}
}

// messageRecord is the normalized message payload sent to control
// connections. The unicast variant carries resolved contact data; the
// broadcast variant carries decoded media fields instead.
type messageRecord struct {
	ID            string                `json:"id"`
	ChatID        string                `json:"chatId"`
	From          string                `json:"from"`
	To            string                `json:"to,omitempty"`
	Body          string                `json:"body"`
	Type          string                `json:"type"`
	Timestamp     int64                 `json:"timestamp"`
	FromMe        bool                  `json:"fromMe"`
	IsGroup       bool                  `json:"isGroup"`
	ContactName   string                `json:"contactName,omitempty"`
	ContactNumber string                `json:"contactNumber,omitempty"`
	Media         *session.MediaPayload `json:"media,omitempty"`
	Location      *session.Location     `json:"location,omitempty"`
	VCard         *session.VCard        `json:"vcard,omitempty"`
	Sticker       *session.Sticker      `json:"sticker,omitempty"`
}

func (r *Relay) setOwner(c Conn) {
	r.mu.Lock()
	r.owner = c
	r.mu.Unlock()
}

func (r *Relay) ownerConn() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

func (r *Relay) unicast(event string, data any) {
	if owner := r.ownerConn(); owner != nil {
		_ = owner.SendEvent(event, data)
	}
}

func (r *Relay) unicastStatus(message, typ string) {
	if owner := r.ownerConn(); owner != nil {
		owner.SendStatus(message, typ)
	}
}

// HandleCommand dispatches one control-channel command frame.
func (r *Relay) HandleCommand(c *ws.Client, event string, data json.RawMessage) {
	r.handle(c, event, data)
}

// handle is split from HandleCommand so tests can pass fake connections.
func (r *Relay) handle(c Conn, event string, data json.RawMessage) {
	switch event {
	case ws.CmdConnectWhatsApp:
		r.handleConnect(c)
	case ws.CmdDisconnectWhatsApp:
		r.handleDisconnect(c)
	case ws.CmdCloseTerminal:
		r.handleCloseTerminal(c)
	case ws.CmdGetChats:
		r.handleGetChats(c)
	case ws.CmdGetMessages:
		r.handleGetMessages(c, data)
	case ws.CmdSendMessage:
		r.handleSendMessage(c, data)
	default:
		c.SendStatus("comando desconhecido: "+event, "warning")
	}
}

func (r *Relay) handleConnect(c Conn) {
	r.setOwner(c)
	c.SendStatus("Iniciando conexão com o WhatsApp...", "info")

	if err := r.sessions.Connect(context.Background(), r); err != nil {
		r.log.Error().Err(err).Msg("connection attempt failed")
		c.SendStatus("Falha ao conectar: "+err.Error(), "error")
	}
}

func (r *Relay) handleDisconnect(c Conn) {
	r.sessions.Disconnect()
	c.SendStatus("Sessão encerrada", "info")
	r.hub.Broadcast(ws.EventWhatsAppDisconnected, "desconectado pelo operador")
	r.updateStatus(false)
}

func (r *Relay) handleCloseTerminal(c Conn) {
	r.sessions.Reset()
	c.SendStatus("Sessão descartada", "info")
	r.updateStatus(false)
}

func (r *Relay) handleGetChats(c Conn) {
	chats, err := r.store.Chats(10)
	if err != nil {
		c.SendStatus("Falha ao listar conversas: "+err.Error(), "error")
		return
	}
	_ = c.SendEvent(ws.EventChats, chats)
}

func (r *Relay) handleGetMessages(c Conn, data json.RawMessage) {
	var req struct {
		ChatID string `json:"chatId"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.ChatID == "" {
		c.SendStatus("chatId é obrigatório", "error")
		return
	}
	msgs, err := r.store.Messages(req.ChatID, req.Limit)
	if err != nil {
		c.SendStatus("Falha ao listar mensagens: "+err.Error(), "error")
		return
	}
	_ = c.SendEvent(ws.EventMessages, msgs)
}

func (r *Relay) handleSendMessage(c Conn, data json.RawMessage) {
	var req struct {
		Number  string `json:"number"`
		ChatID  string `json:"chatId"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Message == "" {
		c.SendStatus("mensagem é obrigatória", "error")
		return
	}

	chatID := req.ChatID
	if chatID == "" {
		if req.Number == "" {
			c.SendStatus("informe number ou chatId", "error")
			return
		}
		chatID = session.NormalizeNumber(req.Number)
	}

	msgID, err := r.sessions.SendText(context.Background(), chatID, req.Message)
	if err != nil {
		c.SendStatus("Falha ao enviar mensagem: "+err.Error(), "error")
		return
	}

	go r.store.LogMessage(models.MessageLog{
		MessageID: msgID,
		ChatID:    chatID,
		Sender:    r.sessions.Identity().ID,
		Content:   req.Message,
		Type:      "chat",
		FromMe:    true,
		Status:    "sent",
		Timestamp: time.Now().Unix(),
	}, "")

	_ = c.SendEvent(ws.EventMessageSent, map[string]any{"chatId": chatID, "id": msgID})
}

// --- session.Events ---

func (r *Relay) OnQR(code string) {
	r.unicast(ws.EventQRCode, code)
	r.unicastStatus("QR Code gerado. Escaneie com o WhatsApp do restaurante.", "info")
}

func (r *Relay) OnAuthenticated() {
	r.unicastStatus("Autenticado com sucesso!", "success")
}

func (r *Relay) OnReady(id session.Identity) {
	r.mu.Lock()
	r.botStartedAt = time.Now()
	r.mu.Unlock()

	r.updateStatus(true)
	r.unicast(ws.EventConnected, id)
	r.hub.Broadcast(ws.EventWhatsAppReady, id)
	r.log.Info().Str("id", id.ID).Msg("whatsapp session ready")
}

func (r *Relay) OnAuthFailure(reason string) {
	r.unicast(ws.EventAuthError, reason)
	r.hub.Broadcast(ws.EventWhatsAppDisconnected, reason)
	r.updateStatus(false)
}

func (r *Relay) OnDisconnected(reason string) {
	r.unicast(ws.EventDisconnected, reason)
	r.hub.Broadcast(ws.EventWhatsAppDisconnected, reason)
	r.updateStatus(false)
}

func (r *Relay) OnMessage(msg session.IncomingMessage) {
	full := messageRecord{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		From:      msg.Sender,
		To:        r.sessions.Identity().ID,
		Body:      msg.Body,
		Type:      msg.Type,
		Timestamp: msg.Timestamp.Unix(),
		FromMe:    msg.FromMe,
		IsGroup:   msg.IsGroup,
	}

	contact := r.sessions.ResolveContact(context.Background(), msg.ChatID)
	if contact.Name == "" {
		contact.Name = msg.PushName
	}
	full.ContactName = contact.Name
	full.ContactNumber = contact.Number
	r.unicast(ws.EventMessageReceived, full)

	light := messageRecord{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		From:      msg.Sender,
		Body:      msg.Body,
		Type:      msg.Type,
		Timestamp: msg.Timestamp.Unix(),
		FromMe:    msg.FromMe,
		IsGroup:   msg.IsGroup,
		Media:     msg.Media,
		Location:  msg.Location,
		VCard:     msg.VCard,
		Sticker:   msg.Sticker,
	}
	r.hub.Broadcast(ws.EventNewMessage, light)

	status := "received"
	if msg.FromMe {
		status = "sent"
	}
	go r.store.LogMessage(models.MessageLog{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		Sender:    msg.Sender,
		Content:   msg.Body,
		Type:      msg.Type,
		FromMe:    msg.FromMe,
		Status:    status,
		Timestamp: msg.Timestamp.Unix(),
	}, contact.Name)

	if r.shouldAutoReply(msg) {
		go r.replyPipeline(msg, contact)
	}
}

// shouldAutoReply decides whether a message enters the reply pipeline.
// Messages delivered before the session became ready are relayed but never
// answered, so a reconnect cannot replay a backlog through the pipeline.
func (r *Relay) shouldAutoReply(msg session.IncomingMessage) bool {
	if msg.FromMe || msg.IsGroup || msg.Type != "chat" || msg.Body == "" {
		return false
	}
	if !r.state.Get().AutoReplyEnabled {
		return false
	}
	r.mu.Lock()
	startedAt := r.botStartedAt
	r.mu.Unlock()
	return !startedAt.IsZero() && !msg.Timestamp.Before(startedAt.Truncate(time.Second))
}

func (r *Relay) replyPipeline(msg session.IncomingMessage, contact session.Contact) {
	cfg := r.state.Get()
	start := time.Now()
	ctx := context.Background()

	text, isAI := r.composeReply(ctx, msg, contact, cfg)

	r.sleep(replyDelay(cfg.DelayRange))

	quoted := session.Quoted{MessageID: msg.ID, Sender: msg.Sender, Body: msg.Body}
	replyID, err := r.sessions.SendReply(ctx, msg.ChatID, quoted, text)
	if err != nil {
		r.log.Error().Err(err).Str("chat", msg.ChatID).Msg("auto-reply send failed")
		r.hub.Broadcast(ws.EventAutoReplyError, map[string]any{
			"chatId": msg.ChatID,
			"error":  err.Error(),
		})
		return
	}

	elapsed := time.Since(start).Milliseconds()
	go r.recordReply(msg, contact, text, isAI, elapsed, replyID)

	r.hub.Broadcast(ws.EventAutoReplySent, map[string]any{
		"chatId":         msg.ChatID,
		"reply":          text,
		"isAIResponse":   isAI,
		"responseTimeMs": elapsed,
	})
}

// composeReply picks AI-generated text when possible, falling back to the
// configured list on any failure.
func (r *Relay) composeReply(ctx context.Context, msg session.IncomingMessage, contact session.Contact, cfg models.BotConfig) (string, bool) {
	if !cfg.UseAI || !r.ai.IsConfigured() {
		return r.ai.Fallback(), false
	}

	// Warm the history window from the store on the first turn.
	if len(r.ai.History(msg.ChatID)) == 0 {
		if stored := r.store.LoadHistory(msg.ChatID); len(stored) > 0 {
			r.ai.SeedHistory(msg.ChatID, toAITurns(stored))
		}
	}

	text, err := r.ai.Generate(ctx, msg.Body, msg.ChatID, ai.Contact{Name: contact.Name, Number: contact.Number})
	if err != nil {
		r.log.Warn().Err(err).Str("chat", msg.ChatID).Msg("ai generation failed, using fallback")
		return r.ai.Fallback(), false
	}
	return text, true
}

// recordReply persists observability data for one auto-reply. Best-effort.
func (r *Relay) recordReply(msg session.IncomingMessage, contact session.Contact, reply string, isAI bool, elapsedMs int64, replyID string) {
	r.store.LogUsage(models.UsageRecord{
		ChatID:          msg.ChatID,
		OriginalMessage: msg.Body,
		ResponseMessage: reply,
		IsAIResponse:    isAI,
		ResponseTimeMs:  elapsedMs,
		ContactName:     contact.Name,
		ContactNumber:   contact.Number,
		MessageLength:   len(msg.Body),
		ResponseLength:  len(reply),
	})
	r.store.LogMessage(models.MessageLog{
		MessageID: replyID,
		ChatID:    msg.ChatID,
		Sender:    r.sessions.Identity().ID,
		Content:   reply,
		Type:      "chat",
		FromMe:    true,
		Status:    "sent",
		Timestamp: time.Now().Unix(),
	}, "")
	if isAI {
		if err := r.store.SaveHistory(msg.ChatID, toModelTurns(msg.ChatID, r.ai.History(msg.ChatID))); err != nil {
			r.log.Warn().Err(err).Str("chat", msg.ChatID).Msg("history persist failed")
		}
	}
}

func (r *Relay) updateStatus(connected bool) {
	r.mu.Lock()
	startedAt := r.botStartedAt
	r.mu.Unlock()

	go r.store.UpdateBotStatus(models.BotStatusRecord{
		IsOnline:          connected,
		WhatsappConnected: connected,
		GeminiEnabled:     r.ai.IsConfigured() && r.state.Get().UseAI,
		StartedAt:         startedAt,
	})
}

// replyDelay picks a uniformly distributed duration inside the window.
func replyDelay(d models.DelayRange) time.Duration {
	if d.Max <= d.Min {
		return time.Duration(d.Min) * time.Millisecond
	}
	return time.Duration(d.Min+rand.Intn(d.Max-d.Min+1)) * time.Millisecond
}

func toAITurns(stored []models.ConversationTurn) []ai.Turn {
	turns := make([]ai.Turn, 0, len(stored))
	for _, t := range stored {
		turns = append(turns, ai.Turn{Role: ai.Role(t.Role), Text: t.Text})
	}
	return turns
}

func toModelTurns(chatID string, turns []ai.Turn) []models.ConversationTurn {
	out := make([]models.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, models.ConversationTurn{ChatID: chatID, Role: string(t.Role), Text: t.Text})
	}
	return out
}
