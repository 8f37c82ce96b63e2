package bambu

import (
	"fmt"

	bambulabs "github.com/torbenconto/bambulabs_api"
)

// vendorSDK wraps torbenconto/bambulabs_api, the high-level vendor SDK.
// The driver's telemetry comes from raw MQTT (mqtt.go) in every case;
// this wrapper only supplies temperature getters that Client.GetStatus
// uses to fill fields the MQTT payload left unset. Client drops it for
// the session if its connect fails.
type vendorSDK struct {
	client *bambulabs.Client
}

func newVendorSDK(host, accessCode, serial string) (*vendorSDK, error) {
	client := bambulabs.NewClient(&bambulabs.ClientConfig{
		Host:       host,
		AccessCode: accessCode,
		Serial:     serial,
	})
	if client == nil {
		return nil, fmt.Errorf("bambulabs_api: failed to build client")
	}
	return &vendorSDK{client: client}, nil
}

func (v *vendorSDK) connect() error {
	return v.client.Connect()
}

func (v *vendorSDK) disconnect() {
	v.client.Disconnect()
}

// fallbackNozzleTemp and fallbackBedTemp query the SDK's own cached
// getters. Client.GetStatus calls them only after an MQTT payload has
// been parsed, to fill a nozzle or bed temperature that payload lacked;
// with no MQTT payload at all GetStatus returns an error instead
// (grounded on bambu_lab.py's alternative_status fallback).
func (v *vendorSDK) fallbackNozzleTemp() (float64, bool) {
	t, err := v.client.GetNozzleTemperature()
	if err != nil {
		return 0, false
	}
	return t, true
}

func (v *vendorSDK) fallbackBedTemp() (float64, bool) {
	t, err := v.client.GetBedTemperature()
	if err != nil {
		return 0, false
	}
	return t, true
}

func (v *vendorSDK) fallbackPercent() (int, bool) {
	p, err := v.client.GetPercentage()
	if err != nil {
		return 0, false
	}
	return p, true
}
