package octoprint

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/schmacka/printernizer-sub001/driver"
)

// pushClient wraps OctoPrint's SockJS push channel behind a plain
// gorilla/websocket connection (OctoPrint's raw /sockjs/websocket
// endpoint speaks the SockJS framing directly over a normal upgrade, no
// intermediary polling fallback needed for a same-process client).
// Reconnect pacing is grounded on mstrhakr-printmaster's
// WSClient.connectionManager, generalized to the shared driver.Backoff
// formula instead of a bespoke doubling loop.
type pushClient struct {
	host   string
	apiKey string

	mu          sync.RWMutex
	lastCurrent *sockjsCurrentMessage
	lastSeenAt  time.Time

	stop chan struct{}
}

func newPushClient(host, apiKey string) *pushClient {
	return &pushClient{host: host, apiKey: apiKey, stop: make(chan struct{})}
}

type sockjsCurrentMessage struct {
	Current *printerStateResponse `json:"current"`
}

// run dials the push channel and reconnects with backoff until ctx is
// canceled or close is called. Failures here are non-fatal to the
// driver as a whole, per §4.1: REST polling keeps working regardless.
func (p *pushClient) run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		default:
		}

		if err := p.connectAndRead(ctx); err != nil {
			slog.Warn("octoprint sockjs: connection failed", "host", p.host, "error", err)
			attempt++
		} else {
			attempt = 0
		}

		delay := driver.Backoff(2*time.Second, 60*time.Second, 2.0, attempt)
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-time.After(delay):
		}
	}
}

func (p *pushClient) connectAndRead(ctx context.Context) error {
	u, err := url.Parse(p.host)
	if err != nil {
		return fmt.Errorf("octoprint sockjs: invalid host: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/sockjs/websocket"

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// OctoPrint requires an auth frame as the first message once
	// connected, naming the API key (mirrors the REST X-Api-Key header).
	authFrame, _ := json.Marshal(map[string]any{"auth": p.apiKey})
	if err := conn.WriteMessage(websocket.TextMessage, authFrame); err != nil {
		return fmt.Errorf("octoprint sockjs: sending auth frame: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stop:
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		p.handleFrame(raw)
	}
}

// handleFrame decodes one SockJS data frame. OctoPrint wraps its JSON
// payload in a one-element array prefixed with "a" per the SockJS wire
// format; a bare JSON object is also accepted for intermediaries that
// strip the envelope.
func (p *pushClient) handleFrame(raw []byte) {
	payload := strings.TrimSpace(string(raw))
	if strings.HasPrefix(payload, "a") {
		var frames []string
		if err := json.Unmarshal([]byte(payload[1:]), &frames); err != nil || len(frames) == 0 {
			return
		}
		payload = frames[0]
	}

	var msg sockjsCurrentMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return
	}
	if msg.Current == nil {
		return
	}

	p.mu.Lock()
	p.lastCurrent = &msg
	p.lastSeenAt = time.Now()
	p.mu.Unlock()
}

// fresh returns the most recently pushed status if it arrived within
// maxAge, implementing §4.1's "latest known status, refreshed on
// demand" cache semantics.
func (p *pushClient) fresh(maxAge time.Duration) (printerStateResponse, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastCurrent == nil || time.Since(p.lastSeenAt) > maxAge {
		return printerStateResponse{}, false
	}
	return *p.lastCurrent.Current, true
}

func (p *pushClient) close() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}
