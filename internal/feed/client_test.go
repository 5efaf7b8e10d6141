package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestClient_Connect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	client, err := NewClient(context.Background(), wsURL, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestClient_SubscribeDeliversEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var frame controlFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Errorf("unmarshal control frame: %v", err)
			return
		}
		if frame.Method != "subscribeTokenTrade" {
			t.Errorf("expected subscribeTokenTrade, got %s", frame.Method)
		}
		if len(frame.Keys) != 1 || frame.Keys[0] != "mintA" {
			t.Errorf("expected keys [mintA], got %v", frame.Keys)
		}

		c.WriteJSON(eventFrame{
			Mint:            "mintA",
			Signature:       "sig1",
			TraderPublicKey: "trader1",
			TxType:          "buy",
			TokenAmount:     10,
			SolAmount:       1,
			MarketCapSol:    500,
		})

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := NewClient(context.Background(), wsURL, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	ch, err := client.Subscribe("mintA")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case event := <-ch:
		if event.Signature != "sig1" {
			t.Errorf("expected sig1, got %s", event.Signature)
		}
		if event.MarketCapSol != 500 {
			t.Errorf("expected market cap 500, got %v", event.MarketCapSol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestClient_SubscribeIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := NewClient(context.Background(), wsURL, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	ch1, err := client.Subscribe("mintA")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ch2, err := client.Subscribe("mintA")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ch1 != ch2 {
		t.Error("expected the same channel on repeated Subscribe for the same mint")
	}
}

func TestClient_UnsubscribeIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := NewClient(context.Background(), wsURL, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if _, err := client.Subscribe("mintA"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.Unsubscribe("mintA"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := client.Unsubscribe("mintA"); err != nil {
		t.Fatalf("second Unsubscribe should be a no-op: %v", err)
	}
}

func TestClient_Close(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := NewClient(context.Background(), wsURL, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed")
	}
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestClient_SubscribeAfterClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := NewClient(context.Background(), wsURL, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.Close()

	if _, err := client.Subscribe("mintA"); err == nil {
		t.Error("expected error subscribing after close")
	}
}
