// Package edge is the thin gin HTTP/SSE shim of spec.md §4.14/§6: one
// event stream per account for P&L snapshots, another for bot-run
// lifecycle events. It holds no trading logic of its own.
package edge

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/internal/events"
	"github.com/44dummies/execution-core/internal/execution"
	"github.com/44dummies/execution-core/internal/pnl"
	"github.com/44dummies/execution-core/internal/recovery"
	"github.com/44dummies/execution-core/internal/regime"
)

// Server wires the SSE endpoints and the signal-intake endpoint around the
// P&L tracker, the Fast-Path Trade and the recovery engine, following
// internal/api/handler.go's Server-plus-routes shape.
type Server struct {
	Router   *gin.Engine
	PnL      *pnl.Tracker
	Bus      *events.Bus
	FastPath *execution.FastPath
	Recovery *recovery.Engine
	Regime   *regime.Detector
}

// NewServer builds the gin router and registers routes. FastPath may be
// nil in tests that only exercise the streaming endpoints.
func NewServer(pnlTracker *pnl.Tracker, bus *events.Bus) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{Router: r, PnL: pnlTracker, Bus: bus}
	s.routes()
	return s
}

// WithExecution attaches the trading components needed by the signal-intake
// endpoint. Kept separate from NewServer so streaming-only tests don't need
// to construct a full Fast-Path Trade graph. detector may be nil; placeSignal
// then skips the regime-confidence override entirely.
func (s *Server) WithExecution(fp *execution.FastPath, recoveryEngine *recovery.Engine, detector *regime.Detector) *Server {
	s.FastPath = fp
	s.Recovery = recoveryEngine
	s.Regime = detector
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	accounts := s.Router.Group("/accounts/:accountId")
	{
		accounts.GET("/pnl/stream", s.streamPnL)
		accounts.GET("/bot-runs/stream", s.streamBotRuns)
		accounts.POST("/signals", s.placeSignal)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// signalRequest is the wire shape strategies POST to place a trade.
type signalRequest struct {
	Signal domain.TradeSignal `json:"signal"`
}

// placeSignal is the bridge between a strategy's signal and the Fast-Path
// Trade: it scales the signal's stake by the stake multiplier of any active
// recovery override (the override's other fields are not applied here), runs
// the gate-then-execute flow, and publishes a bot-run lifecycle event either way.
func (s *Server) placeSignal(c *gin.Context) {
	if s.FastPath == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution not configured"})
		return
	}

	accountID := c.Param("accountId")
	botRunID := c.Query("botRunId")

	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Signal.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.Recovery != nil {
		recoveryCtx := recovery.Context{}
		if s.Regime != nil {
			if state, ok := s.Regime.Get(accountID, req.Signal.Symbol); ok {
				recoveryCtx.RegimeConfidence = state.Confidence
			}
		}
		if overrides, active := s.Recovery.GetRecoveryOverrides(accountID, recoveryCtx); active {
			req.Signal.Stake = req.Signal.Stake.Mul(overrides.StakeMultiplier)
		}
	}

	s.publishBotRun(accountID, req.Signal.BotID, botRunID, "placing")

	result, err := s.FastPath.Place(c.Request.Context(), accountID, botRunID, req.Signal)
	if err != nil {
		s.publishBotRun(accountID, req.Signal.BotID, botRunID, "failed")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	s.publishBotRun(accountID, req.Signal.BotID, botRunID, "placed")
	c.JSON(http.StatusAccepted, result)
}

func (s *Server) publishBotRun(accountID, botID, runID, status string) {
	s.Bus.Publish(events.BotRunTopic(accountID), events.BotRunEvent{
		AccountID: accountID,
		BotID:     botID,
		RunID:     runID,
		Status:    status,
		Timestamp: time.Now(),
	})
}

// streamPnL emits a "pnl" SSE event on every Snapshot change for the
// account, per spec.md §6. It drives its own loop over the request
// context rather than gin's Context.Stream helper, since that helper
// requires the underlying ResponseWriter to implement http.CloseNotifier,
// which not every transport (or test harness) provides.
func (s *Server) streamPnL(c *gin.Context) {
	accountID := c.Param("accountId")
	ch, cancel := s.PnL.Subscribe(accountID)
	defer cancel()

	// Seed the stream with the current snapshot so a freshly-connected
	// client does not wait for the next mutation to see anything.
	c.SSEvent("pnl", s.PnL.Snapshot(accountID))
	c.Writer.Flush()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("pnl", snap)
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		case <-time.After(30 * time.Second):
			// Keepalive to hold the connection through idle proxies.
			c.SSEvent("ping", gin.H{"ts": time.Now().Unix()})
			c.Writer.Flush()
		}
	}
}

// streamBotRuns emits bot-run lifecycle events for the account.
func (s *Server) streamBotRuns(c *gin.Context) {
	accountID := c.Param("accountId")
	ch, unsub := s.Bus.Subscribe(events.BotRunTopic(accountID), 16)
	defer unsub()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("bot_run", payload)
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		case <-time.After(30 * time.Second):
			c.SSEvent("ping", gin.H{"ts": time.Now().Unix()})
			c.Writer.Flush()
		}
	}
}

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
