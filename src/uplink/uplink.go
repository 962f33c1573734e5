// Package uplink parses device uplink messages as published by The Things
// Network MQTT integration.
package uplink

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

var (
	ErrMissingDevice  = errors.New("missing device id")
	ErrMissingPayload = errors.New("missing payload")
)

// RawUplink is one undecoded device message.
type RawUplink struct {
	DeviceID   string    `json:"device_id"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
	Port       int       `json:"port"`
	Counter    uint32    `json:"counter"`
	Topic      string    `json:"topic,omitempty"`
}

// EnvelopeError reports an uplink body that could not be parsed.
type EnvelopeError struct {
	Topic string
	Err   error
}

func (e *EnvelopeError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("invalid uplink: %v", e.Err)
	}
	return fmt.Sprintf("invalid uplink on %q: %v", e.Topic, e.Err)
}

func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// v2 handler format: {"app_id":..,"dev_id":..,"port":1,"counter":3,"payload_raw":"<b64>","metadata":{"time":".."}}
type envelopeV2 struct {
	AppID      string `json:"app_id"`
	DevID      string `json:"dev_id"`
	Port       int    `json:"port"`
	Counter    uint32 `json:"counter"`
	PayloadRaw string `json:"payload_raw"`
	Metadata   struct {
		Time string `json:"time"`
	} `json:"metadata"`
}

// v3 stack format: {"end_device_ids":{"device_id":..},"received_at":"..","uplink_message":{"f_port":1,"f_cnt":3,"frm_payload":"<b64>"}}
type envelopeV3 struct {
	EndDeviceIDs struct {
		DeviceID string `json:"device_id"`
	} `json:"end_device_ids"`
	ReceivedAt    string `json:"received_at"`
	UplinkMessage *struct {
		FPort      int    `json:"f_port"`
		FCnt       uint32 `json:"f_cnt"`
		FRMPayload string `json:"frm_payload"`
	} `json:"uplink_message"`
}

// ParseEnvelope decodes a JSON uplink in either TTN v2 or v3 format. now is
// used when the message carries no usable timestamp.
func ParseEnvelope(topic string, data []byte, now time.Time) (*RawUplink, error) {
	u, err := parseEnvelope(data, now)
	if err != nil {
		return nil, &EnvelopeError{Topic: topic, Err: err}
	}
	u.Topic = topic
	return u, nil
}

func parseEnvelope(data []byte, now time.Time) (*RawUplink, error) {
	var v3 envelopeV3
	if err := sonic.Unmarshal(data, &v3); err != nil {
		return nil, fmt.Errorf("error decoding json: %w", err)
	}
	if v3.UplinkMessage != nil {
		return build(v3.EndDeviceIDs.DeviceID, v3.UplinkMessage.FRMPayload, v3.ReceivedAt, v3.UplinkMessage.FPort, v3.UplinkMessage.FCnt, now)
	}

	var v2 envelopeV2
	if err := sonic.Unmarshal(data, &v2); err != nil {
		return nil, fmt.Errorf("error decoding json: %w", err)
	}
	return build(v2.DevID, v2.PayloadRaw, v2.Metadata.Time, v2.Port, v2.Counter, now)
}

func build(deviceID, b64, ts string, port int, counter uint32, now time.Time) (*RawUplink, error) {
	u, err := New(deviceID, parseTime(ts, now), b64)
	if err != nil {
		return nil, err
	}
	u.Port = port
	u.Counter = counter
	return u, nil
}

// New builds a RawUplink from a device id, a reception time and a base64
// encoded payload.
func New(deviceID string, receivedAt time.Time, payloadBase64 string) (*RawUplink, error) {
	if deviceID == "" {
		return nil, ErrMissingDevice
	}
	if strings.TrimSpace(payloadBase64) == "" {
		return nil, ErrMissingPayload
	}
	buf, err := DecodeBase64(payloadBase64)
	if err != nil {
		return nil, err
	}
	return &RawUplink{
		DeviceID:   deviceID,
		Payload:    buf,
		ReceivedAt: receivedAt,
	}, nil
}

// DecodeBase64 accepts padded and unpadded standard base64.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	buf, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return buf, nil
	}
	if buf, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
		return buf, nil
	}
	return nil, fmt.Errorf("invalid base64 payload: %w", err)
}

func parseTime(ts string, now time.Time) time.Time {
	if ts == "" {
		return now
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return now
	}
	return t
}
