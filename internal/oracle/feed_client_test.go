package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"

	"fractional-ledger/internal/fixedpoint"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feedServer confirms the subscription and pushes the given prices.
func feedServer(t *testing.T, prices []wsPrice) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Method != "priceSubscribe" {
			t.Errorf("expected priceSubscribe, got %s", req.Method)
		}

		if err := c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: 7}); err != nil {
			return
		}
		for _, p := range prices {
			notif := wsNotification{
				JSONRPC: "2.0",
				Method:  "priceNotification",
				Params:  &wsNotificationParams{Subscription: 7, Result: p},
			}
			if err := c.WriteJSON(notif); err != nil {
				return
			}
		}

		// Keep connection open
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFeedClient_ResolvesPushedPrice(t *testing.T) {
	now := time.Now().UnixMilli()
	server := feedServer(t, []wsPrice{
		{Base: "eur", Quote: "usd", Rate: "1.25", Timestamp: now},
		{Base: "EUR", Quote: "USD", Rate: "9.99", Timestamp: now - 1000}, // older, ignored
	})
	defer server.Close()

	cfg := DefaultFeedConfig()
	cfg.Pairs = []string{"eur/usd"}
	client, err := NewFeedClient(context.Background(), wsURL(server), &cfg, nil)
	if err != nil {
		t.Fatalf("NewFeedClient: %v", err)
	}
	defer client.Close()

	waitFor(t, client.Subscribed)
	waitFor(t, func() bool {
		_, ok := client.ResolvePrice(context.Background(), "EUR", "USD")
		return ok
	})
	// give the older quote time to arrive
	time.Sleep(50 * time.Millisecond)

	rate, ok := client.ResolvePrice(context.Background(), "EUR", "USD")
	if !ok {
		t.Fatal("expected valid rate")
	}
	want, _ := fixedpoint.Parse("1.25")
	if !rate.Eq(want) {
		t.Errorf("rate mismatch: got %s, want %s", rate.Dec(), want.Dec())
	}
}

func TestFeedClient_StaleAndMissing(t *testing.T) {
	server := feedServer(t, nil)
	defer server.Close()

	cfg := DefaultFeedConfig()
	cfg.MaxStaleness = time.Minute
	client, err := NewFeedClient(context.Background(), wsURL(server), &cfg, nil)
	if err != nil {
		t.Fatalf("NewFeedClient: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if _, ok := client.ResolvePrice(ctx, "GBP", "USD"); ok {
		t.Error("missing pair should be invalid")
	}

	client.Store("GBP", "USD", Quote{Rate: *uint256.NewInt(1), Timestamp: time.Now().Add(-2 * time.Minute).UnixMilli()})
	if _, ok := client.ResolvePrice(ctx, "GBP", "USD"); ok {
		t.Error("stale quote should be invalid")
	}

	client.Store("GBP", "USD", Quote{Timestamp: time.Now().UnixMilli()})
	if _, ok := client.ResolvePrice(ctx, "GBP", "USD"); ok {
		t.Error("zero rate should be invalid")
	}

	rate, ok := client.ResolvePrice(ctx, "usd", "USD")
	if !ok || !rate.Eq(fixedpoint.One) {
		t.Error("identity pair should resolve to one")
	}
}

func TestFeedClient_DialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := NewFeedClient(ctx, "ws://127.0.0.1:1", nil, nil); err == nil {
		t.Error("expected dial error")
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic()
	ctx := context.Background()

	if _, ok := s.ResolvePrice(ctx, "EUR", "USD"); ok {
		t.Error("unset pair should be invalid")
	}
	s.Set("eur", "usd", uint256.NewInt(42))
	rate, ok := s.ResolvePrice(ctx, "EUR", "USD")
	if !ok || rate.Uint64() != 42 {
		t.Errorf("unexpected rate %v ok=%v", rate, ok)
	}
	s.Set("EUR", "USD", new(uint256.Int))
	if _, ok := s.ResolvePrice(ctx, "EUR", "USD"); ok {
		t.Error("zero rate should be invalid")
	}
}
