// Package config loads the supervisor's runtime configuration from the
// environment via a single struct-tagged Config type and caarlos0/env.
package config

import (
	"encoding/json"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/schmacka/printernizer-sub001/model"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

// Config holds every recognized option from §6's configuration table.
// Durations are parsed from Go duration strings (e.g. "30s") by env's
// built-in time.Duration support.
type Config struct {
	DBPath string `env:"DB_PATH" envDefault:"printernizer.sqlite3"`

	// Printers is a JSON-encoded array of printer definitions, one entry
	// per fleet member, generalized to every printer type this driver
	// set supports.
	Printers string `env:"PRINTERS"`

	PrinterPollingInterval time.Duration `env:"PRINTER_POLLING_INTERVAL" envDefault:"30s"`
	MonitorBackoffFactor   float64       `env:"MONITOR_BACKOFF_FACTOR" envDefault:"2"`
	MonitorMaxInterval     time.Duration `env:"MONITOR_MAX_INTERVAL" envDefault:"600s"`
	ConnectionTimeout      time.Duration `env:"CONNECTION_TIMEOUT" envDefault:"30s"`

	MaxConcurrentDownloads int `env:"MAX_CONCURRENT_DOWNLOADS" envDefault:"5"`

	PrinterStatusCheckInterval   time.Duration `env:"PRINTER_STATUS_CHECK_INTERVAL" envDefault:"30s"`
	JobStatusCheckInterval       time.Duration `env:"JOB_STATUS_CHECK_INTERVAL" envDefault:"10s"`
	FileDiscoveryCheckInterval   time.Duration `env:"FILE_DISCOVERY_CHECK_INTERVAL" envDefault:"300s"`
	FileDiscoveryFailureBackoff  time.Duration `env:"FILE_DISCOVERY_FAILURE_BACKOFF" envDefault:"600s"`
	WatchFolders                string        `env:"WATCH_FOLDERS"`

	MQTTRetryCount         int           `env:"MQTT_RETRY_COUNT" envDefault:"5"`
	MQTTRetryDelay         time.Duration `env:"MQTT_RETRY_DELAY" envDefault:"1s"`
	MQTTRetryMaxDelay      time.Duration `env:"MQTT_RETRY_MAX_DELAY" envDefault:"60s"`
	MQTTAutoReconnectDelay time.Duration `env:"MQTT_AUTO_RECONNECT_DELAY" envDefault:"5s"`
	MQTTReconnectCooldown  time.Duration `env:"MQTT_RECONNECT_COOLDOWN" envDefault:"10s"`

	JobCreationAutoCreate bool `env:"JOB_CREATION_AUTO_CREATE" envDefault:"true"`

	LibraryPath               string `env:"LIBRARY_PATH" envDefault:"./library"`
	LibraryChecksumAlgorithm  string `env:"LIBRARY_CHECKSUM_ALGORITHM" envDefault:"sha256"`
	LibraryAutoDeduplicate    bool   `env:"LIBRARY_AUTO_DEDUPLICATE" envDefault:"true"`
	LibraryPreserveOriginals  bool   `env:"LIBRARY_PRESERVE_ORIGINALS" envDefault:"true"`

	NotificationHistoryRetentionDays int `env:"NOTIFICATION_HISTORY_RETENTION_DAYS" envDefault:"30"`

	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`
	SlackWebhookURL   string `env:"SLACK_WEBHOOK_URL"`
	NtfyTopicURL      string `env:"NTFY_TOPIC_URL"`
}

// printerDef is the JSON shape expected in the Printers env var: one
// entry per fleet member.
type printerDef struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	APIKey     string `json:"api_key"`
	AccessCode string `json:"access_code"`
	Serial     string `json:"serial"`
}

// Load parses Config from the process environment, every key prefixed
// PRINTERNIZER_.
func Load() (Config, error) {
	conf, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "PRINTERNIZER_"})
	if err != nil {
		return Config{}, errs.ConfigError("parsing environment: %s", err)
	}
	if conf.PrinterPollingInterval < 5*time.Second {
		return Config{}, errs.ConfigError("PRINTERNIZER_PRINTER_POLLING_INTERVAL must be at least 5s, got %s", conf.PrinterPollingInterval)
	}
	return conf, nil
}

// ParsePrinters decodes the JSON printer-definitions env var into the
// model.Printer values the supervisor wires into each driver.
func (c Config) ParsePrinters() ([]model.Printer, error) {
	if c.Printers == "" {
		return nil, nil
	}
	var defs []printerDef
	if err := json.Unmarshal([]byte(c.Printers), &defs); err != nil {
		return nil, errs.ConfigError("parsing PRINTERNIZER_PRINTERS: %s", err)
	}
	printers := make([]model.Printer, 0, len(defs))
	for _, d := range defs {
		pt, err := parsePrinterType(d.Type)
		if err != nil {
			return nil, err
		}
		printers = append(printers, model.Printer{
			ID:       d.ID,
			Type:     pt,
			IsActive: true,
			Endpoint: model.Endpoint{
				Host:       d.Host,
				Port:       d.Port,
				APIKey:     d.APIKey,
				AccessCode: d.AccessCode,
				Serial:     d.Serial,
			},
		})
	}
	return printers, nil
}

// WatchFolderPaths splits the comma-separated WatchFolders env var.
func (c Config) WatchFolderPaths() []string {
	if c.WatchFolders == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(c.WatchFolders); i++ {
		if i == len(c.WatchFolders) || c.WatchFolders[i] == ',' {
			if seg := c.WatchFolders[start:i]; seg != "" {
				out = append(out, seg)
			}
			start = i + 1
		}
	}
	return out
}

func parsePrinterType(raw string) (model.PrinterType, error) {
	switch model.PrinterType(raw) {
	case model.PrinterTypeBambuLab, model.PrinterTypePrusa, model.PrinterTypeOctoPrint:
		return model.PrinterType(raw), nil
	default:
		return "", errs.ConfigError("unrecognized printer type %q", raw)
	}
}

