package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yp-alpha/progression/internal/progression"
)

func feedServer(t *testing.T, b *Broadcaster, authorize AuthorizeFunc) string {
	t.Helper()
	srv := httptest.NewServer(NewHandler(b, nil, authorize, nil))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestHandler_SnapshotThenEvents(t *testing.T) {
	b := NewBroadcaster(10*time.Millisecond, 0, func(_ context.Context, userID string) (*SnapshotPayload, error) {
		return &SnapshotPayload{Summary: &progression.Summary{UserID: userID, Level: 1}}, nil
	})
	defer b.Stop()
	url := feedServer(t, b, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?user=ath-1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if msg := readMessage(t, conn); msg.Type != MsgSnapshot {
		t.Fatalf("first frame = %q, want %q", msg.Type, MsgSnapshot)
	}

	b.Publish(progression.Event{Type: progression.EventReward, UserID: "ath-2"})
	b.Publish(progression.Event{Type: progression.EventReward, UserID: "ath-1"})

	msg := readMessage(t, conn)
	if msg.Type != MsgEvents {
		t.Fatalf("second frame = %q, want %q", msg.Type, MsgEvents)
	}
	evs, _ := msg.Payload.(map[string]any)["events"].([]any)
	if len(evs) != 1 {
		t.Errorf("got %d events, want only the subscribed athlete's", len(evs))
	}
}

func TestHandler_Unauthorized(t *testing.T) {
	b := NewBroadcaster(time.Hour, 0, nil)
	defer b.Stop()
	url := feedServer(t, b, func(_ *http.Request, userID string) bool {
		return userID == "ath-1"
	})

	_, resp, err := websocket.DefaultDialer.Dial(url+"?user=ath-2", nil)
	if err == nil {
		t.Fatal("dial should fail for unauthorized athlete")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want 401", resp)
	}
	if got := b.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d, want 0", got)
	}
}

func TestHandler_RemovesClientOnDisconnect(t *testing.T) {
	b := NewBroadcaster(time.Hour, 0, nil)
	defer b.Stop()
	url := feedServer(t, b, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Close()

	for time.Now().Before(deadline) {
		if b.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed after disconnect; ClientCount = %d", b.ClientCount())
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"NoOrigin", nil, "", "example.com", true},
		{"SameHost", nil, "http://example.com", "example.com", true},
		{"Localhost", nil, "http://localhost:5173", "example.com", true},
		{"Loopback", nil, "http://127.0.0.1:3000", "example.com", true},
		{"Foreign", nil, "http://evil.test", "example.com", false},
		{"AllowedExact", []string{"https://app.example.com"}, "https://app.example.com", "api.example.com", true},
		{"AllowedHost", []string{"https://app.example.com"}, "http://app.example.com", "api.example.com", true},
		{"NotAllowed", []string{"https://app.example.com"}, "http://localhost", "api.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(NewBroadcaster(time.Hour, 0, nil), tt.allowed, nil, nil)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := h.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
