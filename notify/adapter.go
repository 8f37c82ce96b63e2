package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/repository"
)

// Adapter formats and delivers one event to one channel, returning
// success and a short message for the "send test message" operation and
// for NotificationHistory's error column. Payload shapes (Discord
// embeds, Slack attachments, ntfy headers) follow the
// sendDiscord/sendSlack/sendNtfy conventions of a generic multi-channel
// alert notifier, adapted from severity-keyed alert payloads to this
// module's bus.Event shape.
type Adapter func(ctx context.Context, channel repository.NotificationChannel, event bus.Event) (bool, string)

const maxRetries = 3

// retryDelay is a var (not const) so tests can shrink it; production
// wiring leaves it at its default.
var retryDelay = 2 * time.Second

var httpClient = &http.Client{Timeout: 10 * time.Second}

// AdapterFor resolves the adapter for a channel type.
func AdapterFor(t repository.NotificationChannelType) (Adapter, bool) {
	switch t {
	case repository.NotificationChannelDiscord:
		return DiscordAdapter, true
	case repository.NotificationChannelSlack:
		return SlackAdapter, true
	case repository.NotificationChannelNtfy:
		return NtfyAdapter, true
	default:
		return nil, false
	}
}

// DiscordAdapter posts a Discord embed to channel.WebhookURL.
func DiscordAdapter(ctx context.Context, channel repository.NotificationChannel, event bus.Event) (bool, string) {
	payload := map[string]any{
		"username": "Printernizer",
		"embeds": []map[string]any{
			{
				"title":       eventTitle(event),
				"description": eventMessage(event),
				"color":       eventColor(event),
				"timestamp":   event.At.Format(time.RFC3339),
			},
		},
	}
	return postJSON(ctx, channel.WebhookURL, nil, payload)
}

// SlackAdapter posts a Slack attachment to channel.WebhookURL.
func SlackAdapter(ctx context.Context, channel repository.NotificationChannel, event bus.Event) (bool, string) {
	payload := map[string]any{
		"username": "Printernizer",
		"attachments": []map[string]any{
			{
				"color":  slackColor(event),
				"title":  eventTitle(event),
				"text":   eventMessage(event),
				"ts":     event.At.Unix(),
			},
		},
	}
	return postJSON(ctx, channel.WebhookURL, nil, payload)
}

// NtfyAdapter posts a plain-text body to channel.WebhookURL with the
// ntfy topic appended, per ntfy's publish-by-URL-path convention.
// Topic is required for ntfy (§3).
func NtfyAdapter(ctx context.Context, channel repository.NotificationChannel, event bus.Event) (bool, string) {
	publishURL := channel.WebhookURL
	if channel.Topic != "" {
		publishURL = strings.TrimSuffix(channel.WebhookURL, "/") + "/" + channel.Topic
	}
	headers := map[string]string{
		"Title":    eventTitle(event),
		"Priority": ntfyPriority(event),
	}
	return postText(ctx, publishURL, headers, eventMessage(event))
}

func eventTitle(event bus.Event) string {
	switch event.Type {
	case bus.EventJobStarted:
		return "Print job started"
	case bus.EventJobCompleted:
		return "Print job completed"
	case bus.EventJobStatusChanged:
		return "Print job status changed"
	case bus.EventPrinterConnected:
		return "Printer connected"
	case bus.EventPrinterDisconnected:
		return "Printer disconnected"
	case bus.EventMaterialLowStock:
		return "Material running low"
	case bus.EventFileDownloadComplete:
		return "File downloaded"
	default:
		return event.Type
	}
}

func eventMessage(event bus.Event) string {
	return fmt.Sprintf("%v", event.Payload)
}

// eventColor returns a Discord decimal embed color, red for failure-like
// events, blue otherwise.
func eventColor(event bus.Event) int {
	if isFailureEvent(event) {
		return 15158332 // red
	}
	return 1752220 // blue
}

func slackColor(event bus.Event) string {
	if isFailureEvent(event) {
		return "#dc3545"
	}
	return "#17a2b8"
}

func ntfyPriority(event bus.Event) string {
	if isFailureEvent(event) {
		return "urgent"
	}
	return "default"
}

func isFailureEvent(event bus.Event) bool {
	if event.Type == bus.EventPrinterDisconnected {
		return true
	}
	if event.Type == bus.EventJobStatusChanged {
		status, _ := event.Payload["new_status"].(string)
		return status == string(repository.JobStatusFailed)
	}
	return false
}

func postJSON(ctx context.Context, rawURL string, headers map[string]string, payload any) (bool, string) {
	if err := isAllowedWebhookURL(rawURL); err != nil {
		return false, err.Error()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Sprintf("marshaling payload: %s", err)
	}

	return doWithRetry(ctx, rawURL, "application/json", headers, body)
}

func postText(ctx context.Context, rawURL string, headers map[string]string, body string) (bool, string) {
	if err := isAllowedWebhookURL(rawURL); err != nil {
		return false, err.Error()
	}
	return doWithRetry(ctx, rawURL, "text/plain", headers, []byte(body))
}

func doWithRetry(ctx context.Context, rawURL, contentType string, headers map[string]string, body []byte) (bool, string) {
	var lastMsg string
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err().Error()
			case <-time.After(retryDelay):
			}
		}

		ok, msg := doRequest(ctx, rawURL, contentType, headers, body)
		if ok {
			return true, msg
		}
		lastMsg = msg
	}
	return false, fmt.Sprintf("failed after %d attempts: %s", maxRetries, lastMsg)
}

func doRequest(ctx context.Context, rawURL, contentType string, headers map[string]string, body []byte) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("request failed: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return false, fmt.Sprintf("webhook returned status %d: %s", resp.StatusCode, string(b))
	}
	return true, "ok"
}

// allowTestWebhooks permits localhost/private-network URLs, set by tests
// that stand up an httptest.Server.
var allowTestWebhooks bool

// SetAllowTestWebhooks is called from test setup only.
func SetAllowTestWebhooks(allow bool) {
	allowTestWebhooks = allow
}

// isAllowedWebhookURL guards against SSRF: webhook URLs are operator
// supplied, and without this check a malicious or mistaken config could
// make the dispatcher request internal services on the operator's
// behalf.
func isAllowedWebhookURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("webhook URL scheme must be http or https, got %q", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("webhook URL must have a hostname")
	}
	if allowTestWebhooks {
		return nil
	}

	if hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1" {
		return fmt.Errorf("localhost URLs are not allowed for webhooks")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// DNS failure: let the HTTP request itself fail rather than block
		// a possibly-valid external hostname on a resolver hiccup.
		return nil
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("webhook URLs cannot target private/internal networks")
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fc00::/7",
		"fe80::/10",
		"169.254.0.0/16",
	}
	for _, cidr := range privateRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
