package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"whatsapp-bridge/internal/logging"
)

// teardownPause gives the OS a moment to release sockets and file handles
// between destroying one client and creating the next. Shortened in tests.
var teardownPause = 500 * time.Millisecond

// transport abstracts the underlying WhatsApp client so the manager's
// lifecycle logic is testable without a network.
type transport interface {
	Initialize(ctx context.Context) error
	Close()
	IsConnected() bool
	Identity() Identity
	SendText(ctx context.Context, chatID, text string) (string, error)
	SendReply(ctx context.Context, chatID string, quoted Quoted, text string) (string, error)
	ResolveContact(ctx context.Context, chatID string) Contact
}

type transportFactory func(storeDir string, log *logging.Logger, sink Events) (transport, error)

// Manager guarantees at most one live client instance and keeps the
// externally visible state accurate across connects and disconnects.
type Manager struct {
	baseDir string
	log     *logging.Logger
	factory transportFactory

	// lifecycle serializes Connect, Disconnect and Reset. Commands arrive on
	// their own goroutines, and an overlapping pair must never leave a second
	// live client instance behind.
	lifecycle sync.Mutex

	mu        sync.Mutex
	client    transport
	state     State
	gen       int // instance generation; events from torn-down instances are dropped
	identity  Identity
	startedAt time.Time
}

func NewManager(baseDir string, log *logging.Logger) *Manager {
	return &Manager{
		baseDir: baseDir,
		log:     log.Sub("session"),
		factory: newWhatsmeowTransport,
	}
}

// Connect tears down any existing instance, clears all session artifacts,
// and brings up a fresh client with the given event handlers registered
// before initialization. Initialization errors are returned to the caller;
// there is no automatic retry.
func (m *Manager) Connect(ctx context.Context, events Events) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.teardown(false)
	time.Sleep(teardownPause)

	// Clear-before-create: a new client must never resume a stale login.
	if err := CleanupArtifacts(m.baseDir); err != nil {
		m.log.Warn().Err(err).Msg("artifact cleanup incomplete")
	}

	storeDir, err := NewArtifactDir(m.baseDir)
	if err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.state = StateUninitialized
	m.identity = Identity{}
	m.mu.Unlock()

	sink := &stateSink{m: m, gen: gen, events: events}
	client, err := m.factory(storeDir, m.log, sink)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	if err := client.Initialize(ctx); err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.client = nil
			m.state = StateFailed
		}
		m.mu.Unlock()
		client.Close()
		return fmt.Errorf("failed to initialize client: %w", err)
	}
	return nil
}

// Disconnect closes the client, drops the in-memory reference and clears
// artifacts. Every step is best-effort so a failure in one never blocks
// the next.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.teardown(true)
	time.Sleep(teardownPause)
	if err := CleanupArtifacts(m.baseDir); err != nil {
		m.log.Warn().Err(err).Msg("artifact cleanup incomplete")
	}
}

// Reset drops the in-memory reference and artifacts without attempting a
// graceful shutdown call; used when the client may already be unusable.
func (m *Manager) Reset() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	m.gen++
	m.client = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if err := CleanupArtifacts(m.baseDir); err != nil {
		m.log.Warn().Err(err).Msg("artifact cleanup incomplete")
	}
}

func (m *Manager) teardown(markDisconnected bool) {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.gen++
	if markDisconnected || client != nil {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

// Ready reports whether the instance can currently send and receive.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReady && m.client != nil && m.client.IsConnected()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Identity() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

func (m *Manager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startedAt
}

func (m *Manager) ready() (transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady || m.client == nil {
		return nil, fmt.Errorf("whatsapp client is not ready")
	}
	return m.client, nil
}

// SendText sends a plain text message to a chat.
func (m *Manager) SendText(ctx context.Context, chatID, text string) (string, error) {
	client, err := m.ready()
	if err != nil {
		return "", err
	}
	return client.SendText(ctx, chatID, text)
}

// SendReply sends text threaded onto the quoted message.
func (m *Manager) SendReply(ctx context.Context, chatID string, quoted Quoted, text string) (string, error) {
	client, err := m.ready()
	if err != nil {
		return "", err
	}
	return client.SendReply(ctx, chatID, quoted, text)
}

// ResolveContact looks up the display name for a chat.
func (m *Manager) ResolveContact(ctx context.Context, chatID string) Contact {
	client, err := m.ready()
	if err != nil {
		return Contact{}
	}
	return client.ResolveContact(ctx, chatID)
}

// stateSink wraps the caller's handlers, keeping the manager's state machine
// in step and dropping events from superseded instances.
type stateSink struct {
	m      *Manager
	gen    int
	events Events
}

// advance updates the state if this sink's instance is still current.
func (s *stateSink) advance(fn func(m *Manager)) bool {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.gen != s.gen {
		return false
	}
	fn(s.m)
	return true
}

func (s *stateSink) OnQR(code string) {
	if s.advance(func(m *Manager) { m.state = StateQRPending }) {
		s.events.OnQR(code)
	}
}

func (s *stateSink) OnAuthenticated() {
	if s.advance(func(m *Manager) { m.state = StateAuthenticated }) {
		s.events.OnAuthenticated()
	}
}

func (s *stateSink) OnReady(id Identity) {
	ok := s.advance(func(m *Manager) {
		m.state = StateReady
		m.identity = id
		m.startedAt = time.Now()
	})
	if ok {
		s.events.OnReady(id)
	}
}

func (s *stateSink) OnAuthFailure(reason string) {
	if s.advance(func(m *Manager) { m.state = StateFailed }) {
		s.events.OnAuthFailure(reason)
	}
}

func (s *stateSink) OnDisconnected(reason string) {
	if s.advance(func(m *Manager) { m.state = StateDisconnected }) {
		s.events.OnDisconnected(reason)
	}
}

func (s *stateSink) OnMessage(msg IncomingMessage) {
	s.m.mu.Lock()
	current := s.m.gen == s.gen
	s.m.mu.Unlock()
	if current {
		s.events.OnMessage(msg)
	}
}
