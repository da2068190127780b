package edge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/44dummies/execution-core/internal/domain"
	"github.com/44dummies/execution-core/internal/events"
	"github.com/44dummies/execution-core/internal/pnl"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(pnl.New(), events.NewBus())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStreamPnLSeedsThenEmitsOnMutation(t *testing.T) {
	tracker := pnl.New()
	s := NewServer(tracker, events.NewBus())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/accounts/acct1/pnl/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Router.ServeHTTP(rec, req)
		close(done)
	}()

	// Give the handler a moment to subscribe and emit the seed event,
	// then mutate and cancel so the stream terminates deterministically.
	time.Sleep(20 * time.Millisecond)
	tracker.RegisterOpen("acct1", domain.OpenContract{ContractID: 1, Symbol: "R_100", Stake: decimal.NewFromInt(10), BuyPrice: decimal.NewFromInt(10)})
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not return after context cancellation")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: pnl") {
		t.Fatalf("body = %q, want at least one \"event: pnl\" frame", body)
	}
}

func TestPlaceSignalReturnsServiceUnavailableWithoutExecution(t *testing.T) {
	s := NewServer(pnl.New(), events.NewBus())

	body := strings.NewReader(`{"signal":{"direction":"CALL","symbol":"R_100","stake":"10","duration":5,"durationUnit":"t","entryMode":"MARKET"}}`)
	req := httptest.NewRequest(http.MethodPost, "/accounts/acct1/signals", body)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestStreamBotRunsEmitsPublishedEvents(t *testing.T) {
	bus := events.NewBus()
	s := NewServer(pnl.New(), bus)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/accounts/acct1/bot-runs/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Router.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Publish(events.BotRunTopic("acct1"), events.BotRunEvent{AccountID: "acct1", BotID: "bot1", Status: "running"})
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not return after context cancellation")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: bot_run") {
		t.Fatalf("body = %q, want at least one \"event: bot_run\" frame", body)
	}
}
