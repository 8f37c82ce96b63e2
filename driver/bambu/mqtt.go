package bambu

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttTransport is the raw-MQTT fallback strategy for the Bambu driver.
type mqttTransport struct {
	host       string
	accessCode string
	serial     string

	mu        sync.RWMutex
	client    mqtt.Client
	lastRaw   []byte
	lastRecv  time.Time
	onMessage func(raw []byte)
	onDrop    func(err error)
}

func newMQTTTransport(host, accessCode, serial string) *mqttTransport {
	return &mqttTransport{host: host, accessCode: accessCode, serial: serial}
}

func (m *mqttTransport) connect() error {
	m.mu.Lock()
	if m.client != nil && m.client.IsConnected() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("ssl://%s:8883", m.host))
	opts.SetClientID("printernizer-bambu-client")
	opts.SetUsername("bblp")
	opts.SetPassword(m.accessCode)
	opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	opts.SetAutoReconnect(false) // this driver owns reconnect via its own state machine
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onConnectionLost)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out connecting to bambu mqtt broker %s", m.host)
	}
	if err := token.Error(); err != nil {
		return err
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return nil
}

func (m *mqttTransport) onConnect(c mqtt.Client) {
	topic := fmt.Sprintf("device/%s/report", m.serial)
	token := c.Subscribe(topic, 0, m.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		slog.Error("bambu mqtt: failed to subscribe", "printer", m.serial, "error", err)
		return
	}
	m.requestUpdate()
}

func (m *mqttTransport) onConnectionLost(_ mqtt.Client, err error) {
	slog.Warn("bambu mqtt: connection lost", "printer", m.serial, "error", err)
	if m.onDrop != nil {
		m.onDrop(err)
	}
}

func (m *mqttTransport) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	m.mu.Lock()
	m.lastRaw = msg.Payload()
	m.lastRecv = time.Now()
	raw := m.lastRaw
	m.mu.Unlock()

	if m.onMessage != nil {
		m.onMessage(raw)
	}
}

// requestUpdate publishes a pushall request, following the usual
// periodicUpdate/requestUpdate pattern for nudging an MQTT-polled
// device into pushing a fresh full-state report.
func (m *mqttTransport) requestUpdate() {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c == nil || !c.IsConnected() {
		return
	}
	payload := fmt.Sprintf(`{"pushing":{"command":"pushall","sequence_id":"%d"}}`, time.Now().UnixMilli())
	topic := fmt.Sprintf("device/%s/request", m.serial)
	token := c.Publish(topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		slog.Error("bambu mqtt: failed to request update", "printer", m.serial, "error", err)
	}
}

func (m *mqttTransport) publishCommand(payload string) error {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c == nil || !c.IsConnected() {
		return fmt.Errorf("bambu mqtt: not connected")
	}
	topic := fmt.Sprintf("device/%s/request", m.serial)
	token := c.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

func (m *mqttTransport) lastPayload() ([]byte, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRaw, m.lastRecv
}

func (m *mqttTransport) disconnect() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c != nil && c.IsConnected() {
		c.Disconnect(250)
	}
}
