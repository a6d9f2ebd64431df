package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/corectx"
)

func TestWebhookNotifier_Send(t *testing.T) {
	var receivedBody []byte
	var receivedSig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get("X-Cortexd-Signature")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "test-secret", []Event{EventNodeDraining})

	payload := Payload{Event: EventNodeDraining, Timestamp: time.Now(), NodeID: "n1"}
	if err := n.Send(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(receivedBody) == 0 {
		t.Fatal("no body received")
	}
	if receivedSig == "" {
		t.Fatal("no HMAC signature received")
	}

	var got Payload
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if got.NodeID != "n1" {
		t.Errorf("expected node_id 'n1', got '%s'", got.NodeID)
	}
}

func TestWebhookNotifier_Handles(t *testing.T) {
	n := NewWebhookNotifier("http://example.com", "", []Event{EventNodeDraining, EventLeaderChanged})
	if !n.Handles(EventNodeDraining) || !n.Handles(EventLeaderChanged) {
		t.Error("expected to handle both configured events")
	}
	if n.Handles(EventGamingActive) {
		t.Error("should not handle an unconfigured event")
	}
}

func TestWebhookNotifier_HandlesAll(t *testing.T) {
	n := NewWebhookNotifier("http://example.com", "", nil)
	if !n.Handles(EventGamingActive) {
		t.Error("empty events list should handle all events")
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	var receivedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, []Event{EventLeaderChanged})
	err := n.Send(context.Background(), Payload{Event: EventLeaderChanged, NodeID: "n2", Term: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msg slackMessage
	if err := json.Unmarshal(receivedBody, &msg); err != nil {
		t.Fatalf("failed to unmarshal slack message: %v", err)
	}
	if msg.Text == "" {
		t.Error("slack message text is empty")
	}
}

func TestGateway_NotifyOnlyWhileConnected(t *testing.T) {
	called := make(chan bool, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called <- true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := New(corectx.New(), []config.NotificationConfig{
		{Type: "webhook", WebhookURL: srv.URL, Events: []string{string(EventNodeJoined)}},
	})

	g.Notify(context.Background(), Payload{Event: EventNodeJoined})
	select {
	case <-called:
		t.Fatal("expected no notification before Connect")
	case <-time.After(100 * time.Millisecond):
	}

	g.Connect()
	g.Notify(context.Background(), Payload{Event: EventNodeJoined})
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a notification once connected")
	}

	g.Disconnect()
	g.Notify(context.Background(), Payload{Event: EventNodeJoined})
	select {
	case <-called:
		t.Fatal("expected no notification after Disconnect")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGateway_ConnectIsIdempotent(t *testing.T) {
	g := New(corectx.New(), nil)
	g.Connect()
	g.Connect()
	if !g.IsConnected() {
		t.Fatal("expected connected after repeated Connect calls")
	}
}

func TestFormatSlackMessage(t *testing.T) {
	events := []Event{EventNodeJoined, EventNodeDraining, EventNodeGone, EventLeaderChanged, EventHealthDegraded, EventGamingActive}
	for _, e := range events {
		msg := formatSlackMessage(Payload{Event: e, NodeID: "n1"})
		if msg.Text == "" {
			t.Errorf("empty message for event %s", e)
		}
	}
}
