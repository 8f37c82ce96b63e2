// Package bambu implements the §4.1 Driver interface for Bambu Lab
// printers. Telemetry always comes from the raw MQTT report; the vendor
// SDK, when it connects, only backfills nozzle and bed temperatures the
// MQTT payload left unset. File listing tries direct FTP, then the HTTP
// cache listing; downloads use direct FTP only. Neither chain has a
// vendor-SDK or MQTT-inferred strategy.
package bambu

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/schmacka/printernizer-sub001/driver"
	"github.com/schmacka/printernizer-sub001/model"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

const reconnectCooldown = 10 * time.Second

// Client is the Bambu Lab Driver implementation. It owns one mqttTransport,
// one vendorSDK (best-effort; nil if construction failed), one
// ftpTransport, one cacheDirLister, and the connection state machine
// shared between them.
type Client struct {
	printerID string
	host      string

	mqtt  *mqttTransport
	vsdk  *vendorSDK
	ftp   *ftpTransport
	cache *cacheDirLister
	conn  *connState
}

// New builds a Bambu driver for one printer. The vendor SDK is
// constructed best-effort: if it fails, the driver still works via raw
// MQTT and FTP, per §4.1's "prefer the vendor SDK when present" wording.
func New(printerID string, ep model.Endpoint) *Client {
	vsdk, err := newVendorSDK(ep.Host, ep.AccessCode, ep.Serial)
	if err != nil {
		vsdk = nil
	}
	return &Client{
		printerID: printerID,
		host:      ep.Host,
		mqtt:      newMQTTTransport(ep.Host, ep.AccessCode, ep.Serial),
		vsdk:      vsdk,
		ftp:       newFTPTransport(ep.Host, ep.AccessCode),
		cache:     newCacheDirLister(ep.Host),
		conn:      newConnState(reconnectCooldown),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if c.conn.isConnected() {
		return nil
	}
	c.conn.beginConnect()

	if c.vsdk != nil {
		if err := c.vsdk.connect(); err != nil {
			c.vsdk = nil // vendor SDK unusable for this session, fall back to raw MQTT only
		}
	}

	c.mqtt.onDrop = func(err error) {
		if c.conn.shouldAttemptReconnect() {
			go c.reconnectLoop(ctx)
		}
	}

	if err := c.mqtt.connect(); err != nil {
		return errs.PrinterConnectionError(err, c.printerID)
	}
	c.conn.connected()
	return nil
}

// reconnectLoop retries mqtt.connect with the shared backoff formula
// until it succeeds or the state machine stops wanting a reconnect
// (disconnect was called, or the context was canceled).
func (c *Client) reconnectLoop(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if !c.conn.shouldReconnect {
			return
		}
		delay := driver.Backoff(1*time.Second, 60*time.Second, 2.0, attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := c.mqtt.connect(); err == nil {
			c.conn.connected()
			return
		}
		attempt++
	}
}

func (c *Client) Disconnect() {
	c.conn.beginDisconnect()
	c.mqtt.disconnect()
	if c.vsdk != nil {
		c.vsdk.disconnect()
	}
	c.conn.disconnected()
}

func (c *Client) GetStatus(ctx context.Context) (model.StatusUpdate, error) {
	raw, recvAt := c.mqtt.lastPayload()
	if raw == nil {
		return model.StatusUpdate{}, fmt.Errorf("bambu driver %s: no telemetry received yet", c.printerID)
	}
	su, err := parseStatus(c.printerID, raw, recvAt)
	if err != nil {
		return model.StatusUpdate{}, err
	}

	// Fill in any values the MQTT payload left unset using the vendor
	// SDK's own cached getters, per bambu_lab.py's alternative_status
	// fallback (grounded, see status.go/vendorsdk.go).
	if c.vsdk != nil {
		if su.Temperatures.Nozzle == nil {
			if v, ok := c.vsdk.fallbackNozzleTemp(); ok {
				su.Temperatures.Nozzle = &v
			}
		}
		if su.Temperatures.Bed == nil {
			if v, ok := c.vsdk.fallbackBedTemp(); ok {
				su.Temperatures.Bed = &v
			}
		}
	}
	return su, nil
}

func (c *Client) GetJob(ctx context.Context) (*model.JobInfo, error) {
	su, err := c.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	if su.CurrentJobName == "" {
		return nil, nil
	}
	return &model.JobInfo{
		Name:     su.CurrentJobName,
		Filename: su.CurrentJobName,
		Progress: su.ProgressPercent,
	}, nil
}

// fileStrategies builds the §4.1 ordered fallback chain: direct FTP,
// then the printer's HTTP cache listing, in that order. (The vendor SDK
// and MQTT do not expose a general file listing call, so they are not
// part of this chain; they contribute only to status/telemetry.)
func (c *Client) fileStrategies() []driver.Strategy[[]model.PrinterFile] {
	return []driver.Strategy[[]model.PrinterFile]{
		{Name: "ftp", Try: func(context.Context) ([]model.PrinterFile, error) { return c.ftp.listFiles() }},
		{Name: "http-cache", Try: func(context.Context) ([]model.PrinterFile, error) { return c.cache.listFiles() }},
	}
}

func (c *Client) ListFiles(ctx context.Context) ([]model.PrinterFile, error) {
	return driver.RunChain(ctx, c.fileStrategies())
}

func (c *Client) DownloadFile(ctx context.Context, remoteName, localPath string) error {
	_, err := driver.RunChain(ctx, []driver.Strategy[struct{}]{
		{Name: "ftp", Try: func(context.Context) (struct{}, error) {
			return struct{}{}, c.ftp.downloadFile(remoteName, localPath)
		}},
	})
	return err
}

// Pause/Resume/Stop publish the printer's own MQTT command shape, a
// "print"/"command" envelope.
func (c *Client) Pause(ctx context.Context) error {
	return c.publishPrintCommand("pause")
}

func (c *Client) Resume(ctx context.Context) error {
	return c.publishPrintCommand("resume")
}

func (c *Client) Stop(ctx context.Context) error {
	return c.publishPrintCommand("stop")
}

func (c *Client) publishPrintCommand(cmd string) error {
	payload, err := json.Marshal(map[string]any{
		"print": map[string]any{
			"command":     cmd,
			"sequence_id": fmt.Sprintf("%d", time.Now().UnixMilli()),
		},
	})
	if err != nil {
		return err
	}
	return c.mqtt.publishCommand(string(payload))
}

func (c *Client) HasCamera() bool {
	return hasCamera(c.host)
}

func (c *Client) Snapshot(ctx context.Context) ([]byte, error) {
	return snapshot(ctx, c.host, c.mqtt.accessCode)
}
