package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/44dummies/execution-core/internal/apierr"
)

// StreamListener receives proposal_open_contract pushes for a subscribed
// contract id, per spec.md §4.1/§4.8.
type StreamListener func(update *OpenContractUpdate)

// ReconnectConfig mirrors the teacher's exponential-backoff reconnect policy.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultReconnectConfig returns the session manager's default backoff curve.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

type pendingReq struct {
	resp chan *Response
}

// Session wraps a single authorized WebSocket connection for one account,
// per spec.md §4.1. Every send correlates on req_id; proposal_open_contract
// pushes fan out to registered streaming listeners keyed by contract id.
type Session struct {
	AccountID string

	url    string
	token  string
	dialer *websocket.Dialer
	cfg    ReconnectConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]*pendingReq
	streams map[int64]StreamListener

	reqSeq int64

	closed   atomic.Bool
	closeCh  chan struct{}
	closeOnc sync.Once
}

func newSession(accountID, url, token string, cfg ReconnectConfig) *Session {
	return &Session{
		AccountID: accountID,
		url:       url,
		token:     token,
		dialer:    websocket.DefaultDialer,
		cfg:       cfg,
		pending:   make(map[int64]*pendingReq),
		streams:   make(map[int64]StreamListener),
		closeCh:   make(chan struct{}),
	}
}

// connect dials and authorizes, then starts the read loop.
func (s *Session) connect(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return apierr.Wrap(apierr.CodeWSNetwork, "dial broker websocket", true, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop()

	authReqID := s.nextReqID()
	resp, err := s.sendAwait(ctx, authReqID, AuthorizeRequest{Authorize: s.token, ReqID: authReqID}, 10*time.Second)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return apierr.New(apierr.CodeWSNetwork, fmt.Sprintf("authorize rejected: %s", resp.Error.Message), false)
	}
	return nil
}

func (s *Session) nextReqID() int64 {
	return atomic.AddInt64(&s.reqSeq, 1)
}

// send writes a request and blocks for its correlated response or timeout,
// per spec.md §4.1's send-with-timeout contract.
func (s *Session) send(ctx context.Context, reqID int64, payload any, timeout time.Duration) (*Response, error) {
	return s.sendAwait(ctx, reqID, payload, timeout)
}

func (s *Session) sendAwait(ctx context.Context, reqID int64, payload any, timeout time.Duration) (*Response, error) {
	if s.closed.Load() {
		return nil, apierr.New(apierr.CodeWSNetwork, "session closed", true)
	}

	ch := make(chan *Response, 1)
	s.mu.Lock()
	s.pending[reqID] = &pendingReq{resp: ch}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.failPending(reqID)
		return nil, apierr.New(apierr.CodeWSNetwork, "no active connection", true)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.failPending(reqID)
		return nil, apierr.Wrap(apierr.CodeWSNetwork, "encode request", false, err)
	}

	s.mu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, data)
	s.mu.Unlock()
	if writeErr != nil {
		s.failPending(reqID)
		return nil, apierr.Wrap(apierr.CodeWSNetwork, "write request", true, writeErr)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, apierr.New(apierr.CodeWSNetwork, "connection lost", true)
		}
		return resp, nil
	case <-timer.C:
		s.failPending(reqID)
		return nil, apierr.New(apierr.CodeWSTimeout, "broker response timeout", true)
	case <-ctx.Done():
		s.failPending(reqID)
		return nil, apierr.Wrap(apierr.CodeWSTimeout, "context cancelled", false, ctx.Err())
	case <-s.closeCh:
		return nil, apierr.New(apierr.CodeWSNetwork, "session closed", true)
	}
}

func (s *Session) failPending(reqID int64) {
	s.mu.Lock()
	delete(s.pending, reqID)
	s.mu.Unlock()
}

// registerStreamingListener attaches a callback for pushes on contractID.
func (s *Session) registerStreamingListener(contractID int64, fn StreamListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[contractID] = fn
}

// unregisterStreamingListener detaches the callback for contractID.
func (s *Session) unregisterStreamingListener(contractID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, contractID)
}

func (s *Session) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			log.Printf("broker[%s]: read error: %v", s.AccountID, err)
			s.failAllPending()
			return
		}

		var resp Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Printf("broker[%s]: decode error: %v", s.AccountID, err)
			continue
		}

		if resp.MsgType == "proposal_open_contract" && resp.ProposalOpenContract != nil {
			s.dispatchStream(resp.ProposalOpenContract)
			continue
		}

		if resp.ReqID != 0 {
			s.mu.Lock()
			p, ok := s.pending[resp.ReqID]
			if ok {
				delete(s.pending, resp.ReqID)
			}
			s.mu.Unlock()
			if ok {
				p.resp <- &resp
			}
		}
	}
}

func (s *Session) dispatchStream(update *OpenContractUpdate) {
	s.mu.Lock()
	fn, ok := s.streams[update.ContractID]
	s.mu.Unlock()
	if ok {
		fn(update)
	}
}

// failAllPending unblocks every waiter on connection loss so callers can
// retry rather than hang until their own timeout fires.
func (s *Session) failAllPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int64]*pendingReq)
	s.mu.Unlock()

	for _, p := range pending {
		close(p.resp)
	}
}

// runReconnectLoop keeps the session connected with capped exponential
// backoff, grounded on the teacher's StreamClient.calculateBackoff/reconnect
// pattern in pkg/market/binance/websocket.go.
func (s *Session) runReconnectLoop(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			delay := backoffDelay(s.cfg, attempt)
			attempt++
			log.Printf("broker[%s]: connect failed: %v, retrying in %v", s.AccountID, err, delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			case <-s.closeCh:
				return
			}
		}

		attempt = 0
		s.waitUntilDisconnected(ctx)

		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		default:
		}
	}
}

func (s *Session) waitUntilDisconnected(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		case <-time.After(time.Second):
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				return
			}
		}
	}
}

func backoffDelay(cfg ReconnectConfig, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= cfg.Multiplier
	}
	if time.Duration(delay) > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}

// close tears down the connection and fails any in-flight requests.
func (s *Session) close() {
	s.closeOnc.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = s.conn.Close()
		}
		s.mu.Unlock()
		s.failAllPending()
	})
}
