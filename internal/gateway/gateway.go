// Package gateway implements the messaging gateway, one of the
// leader-gated singletons: a fan-out notifier for cluster events
// (node join/drain, leadership change, health degradation, gaming
// activity) that only runs connected while this node holds
// leadership. Its Connect/Disconnect pair is what the activation
// controller binds to leadership.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/system"
)

// Event is a cluster-domain notification event type.
type Event string

const (
	EventNodeJoined       Event = "node_joined"
	EventNodeDraining     Event = "node_draining"
	EventNodeGone         Event = "node_gone"
	EventLeaderChanged    Event = "leader_changed"
	EventHealthDegraded   Event = "health_degraded"
	EventGamingActive     Event = "gaming_active"
)

// Payload carries the notification data.
type Payload struct {
	Event     Event          `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	NodeID    string         `json:"node_id,omitempty"`
	Term      uint64         `json:"term,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Notifier is a single outbound channel adapter.
type Notifier interface {
	Send(ctx context.Context, payload Payload) error
	Handles(event Event) bool
}

// Gateway fans out cluster events to every registered Notifier while
// connected. It implements the leader-gated singleton contract via
// Connect/Disconnect, wired as an activation.Activatable.
type Gateway struct {
	cctx *corectx.Context

	mu        sync.RWMutex
	notifiers []Notifier
	connected bool
}

// New builds a Gateway from the configured notification channels.
func New(cctx *corectx.Context, configs []config.NotificationConfig) *Gateway {
	if cctx == nil {
		cctx = corectx.New()
	}
	g := &Gateway{cctx: cctx}
	for _, cfg := range configs {
		switch cfg.Type {
		case "webhook":
			g.notifiers = append(g.notifiers, NewWebhookNotifier(cfg.WebhookURL, cfg.Secret, toEvents(cfg.Events)))
		case "slack":
			g.notifiers = append(g.notifiers, NewSlackNotifier(cfg.WebhookURL, toEvents(cfg.Events)))
		default:
			cctx.Logger.Printf("gateway: unknown notification channel type %q, skipping", cfg.Type)
		}
	}
	return g
}

func toEvents(names []string) []Event {
	out := make([]Event, len(names))
	for i, n := range names {
		out[i] = Event(n)
	}
	return out
}

// Connect marks the gateway live. Idempotent: connecting twice without
// an intervening Disconnect is a no-op.
func (g *Gateway) Connect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connected {
		return
	}
	g.connected = true
	g.cctx.Logger.Printf("gateway: connected, %d notifier(s) active", len(g.notifiers))
}

// Disconnect marks the gateway offline; Notify becomes a no-op until
// the next Connect.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	g.cctx.Logger.Printf("gateway: disconnected")
}

func (g *Gateway) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

// Notify fans a payload out to every subscribed notifier, fire and
// forget, but only while connected (i.e. only on the current leader)
// and not squelched by the `cortex squelch` CLI command.
func (g *Gateway) Notify(ctx context.Context, payload Payload) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.connected || system.IsSquelched() {
		return
	}
	for _, n := range g.notifiers {
		if n.Handles(payload.Event) {
			go func(n Notifier) {
				if err := n.Send(ctx, payload); err != nil {
					g.cctx.Logger.Printf("gateway: notifier send failed: %v", err)
				}
			}(n)
		}
	}
}

// severity classifies an Event for retry policy and Slack coloring.
// Transient infrastructure blips shouldn't retry-storm a webhook for a
// routine join, but a degraded-health or gaming alert is worth a few
// attempts against a flaky receiver.
type severity int

const (
	severityInfo severity = iota
	severityWarn
	severityCritical
)

func (e Event) severity() severity {
	switch e {
	case EventNodeGone, EventHealthDegraded:
		return severityCritical
	case EventNodeDraining, EventGamingActive:
		return severityWarn
	default:
		return severityInfo
	}
}

func (e Event) maxAttempts() int {
	switch e.severity() {
	case severityCritical:
		return 4
	case severityWarn:
		return 2
	default:
		return 1
	}
}

// --- Webhook Notifier ---

// WebhookNotifier sends HMAC-signed HTTP POST payloads, retrying
// transient failures with exponential backoff (500ms, doubling); the
// event's severity sets how many attempts are made.
type WebhookNotifier struct {
	url    string
	secret string
	events map[Event]bool
	client *http.Client
}

func NewWebhookNotifier(url, secret string, events []Event) *WebhookNotifier {
	m := make(map[Event]bool)
	for _, e := range events {
		m[e] = true
	}
	return &WebhookNotifier{url: url, secret: secret, events: m, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookNotifier) Handles(event Event) bool {
	return len(w.events) == 0 || w.events[event]
}

func (w *WebhookNotifier) Send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal failed: %w", err)
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= payload.Event.maxAttempts(); attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		statusCode, err := w.post(ctx, body, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if statusCode >= 400 && statusCode < 500 {
			break // client error, retrying won't help
		}
	}
	return fmt.Errorf("webhook: giving up after %d attempt(s): %w", payload.Event.maxAttempts(), lastErr)
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte, payload Payload) (statusCode int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("request creation failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cortexd-gateway/1.0")
	req.Header.Set("X-Cortexd-Event", string(payload.Event))
	if payload.NodeID != "" {
		req.Header.Set("X-Cortexd-Node", payload.NodeID)
	}

	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(body)
		req.Header.Set("X-Cortexd-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// --- Slack Notifier ---

// SlackNotifier sends messages to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	events     map[Event]bool
	client     *http.Client
}

func NewSlackNotifier(webhookURL string, events []Event) *SlackNotifier {
	m := make(map[Event]bool)
	for _, e := range events {
		m[e] = true
	}
	return &SlackNotifier{webhookURL: webhookURL, events: m, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SlackNotifier) Handles(event Event) bool {
	return len(s.events) == 0 || s.events[event]
}

func (s *SlackNotifier) Send(ctx context.Context, payload Payload) error {
	msg := formatSlackMessage(payload)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal failed: %w", err)
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= payload.Event.maxAttempts(); attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("slack: request creation failed: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("send failed: %w", err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("server returned %d", resp.StatusCode)
			if resp.StatusCode < 500 {
				break
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("slack: giving up after %d attempt(s): %w", payload.Event.maxAttempts(), lastErr)
}

// slackMessage uses a single colored attachment rather than plain text
// so severity reads at a glance in a busy ops channel.
type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func severityColor(sev severity) string {
	switch sev {
	case severityCritical:
		return "#E01E5A"
	case severityWarn:
		return "#ECB22E"
	default:
		return "#2EB67D"
	}
}

func eventTitle(e Event) (icon, title string) {
	switch e {
	case EventNodeJoined:
		return ":large_green_circle:", "Node Joined"
	case EventNodeDraining:
		return ":warning:", "Node Draining"
	case EventNodeGone:
		return ":red_circle:", "Node Gone"
	case EventLeaderChanged:
		return ":crown:", "Leadership Changed"
	case EventHealthDegraded:
		return ":face_with_thermometer:", "Health Degraded"
	case EventGamingActive:
		return ":video_game:", "Gaming Activity Detected"
	default:
		return ":bell:", string(e)
	}
}

func formatSlackMessage(p Payload) slackMessage {
	icon, title := eventTitle(p.Event)

	fields := make([]slackField, 0, 2+len(p.Details))
	if p.NodeID != "" {
		fields = append(fields, slackField{Title: "Node", Value: p.NodeID, Short: true})
	}
	if p.Term > 0 {
		fields = append(fields, slackField{Title: "Term", Value: fmt.Sprintf("%d", p.Term), Short: true})
	}
	for k, v := range p.Details {
		fields = append(fields, slackField{Title: k, Value: fmt.Sprintf("%v", v), Short: true})
	}

	text := p.Message
	if text == "" {
		text = fmt.Sprintf("cluster event at %s", p.Timestamp.Format(time.RFC3339))
	}

	return slackMessage{
		Text: fmt.Sprintf("%s *cortexd — %s*", icon, title),
		Attachments: []slackAttachment{{
			Color:  severityColor(p.Event.severity()),
			Text:   text,
			Fields: fields,
		}},
	}
}
