package broker

import (
	"context"
	"sync"
	"time"
)

// TokenLookup resolves an account's broker API token, kept out of Manager so
// callers can back it by a secrets store or plain config.
type TokenLookup func(accountID string) (string, error)

// Manager is the WS Session Manager of spec.md §4.1: one persistent,
// authorized Session per account, created lazily and kept alive by a
// reconnect goroutine, grounded on the teacher's gateway.Manager
// per-connectionID cache (internal/gateway/manager.go).
type Manager struct {
	url     string
	lookup  TokenLookup
	cfg     ReconnectConfig
	timeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc
}

// NewManager builds a Manager dialing url, resolving per-account tokens via
// lookup, using cfg for reconnect backoff.
func NewManager(url string, lookup TokenLookup, cfg ReconnectConfig) *Manager {
	return &Manager{
		url:      url,
		lookup:   lookup,
		cfg:      cfg,
		timeout:  10 * time.Second,
		sessions: make(map[string]*Session),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// GetOrCreate returns the cached session for accountID, dialing and
// authorizing a fresh one on first use.
func (m *Manager) GetOrCreate(ctx context.Context, accountID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[accountID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	return m.createSession(ctx, accountID)
}

func (m *Manager) createSession(ctx context.Context, accountID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[accountID]; ok {
		return s, nil
	}

	token, err := m.lookup(accountID)
	if err != nil {
		return nil, err
	}

	s := newSession(accountID, m.url, token, m.cfg)
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	go s.runReconnectLoop(sessCtx)

	m.sessions[accountID] = s
	m.cancels[accountID] = cancel
	return s, nil
}

// Send is a convenience wrapper around GetOrCreate + Session.send.
func (m *Manager) Send(ctx context.Context, accountID string, reqID int64, payload any, timeout time.Duration) (*Response, error) {
	s, err := m.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, reqID, payload, timeout)
}

// NextReqID returns a fresh correlation id for accountID's session.
func (m *Manager) NextReqID(ctx context.Context, accountID string) (int64, error) {
	s, err := m.GetOrCreate(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return s.nextReqID(), nil
}

// RegisterStreamingListener attaches update callbacks for contractID on
// accountID's session.
func (m *Manager) RegisterStreamingListener(ctx context.Context, accountID string, contractID int64, fn StreamListener) error {
	s, err := m.GetOrCreate(ctx, accountID)
	if err != nil {
		return err
	}
	s.registerStreamingListener(contractID, fn)
	return nil
}

// UnregisterStreamingListener detaches update callbacks for contractID.
func (m *Manager) UnregisterStreamingListener(accountID string, contractID int64) {
	m.mu.Lock()
	s, ok := m.sessions[accountID]
	m.mu.Unlock()
	if ok {
		s.unregisterStreamingListener(contractID)
	}
}

// CloseAll tears down every session, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
	}
	for id, s := range m.sessions {
		s.close()
		delete(m.sessions, id)
	}
}
