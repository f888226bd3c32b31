// Package protocol defines the WebSocket message types exchanged between
// the sensor and the cloud.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Sensor → Cloud messages
	TypeAoA   MessageType = "aoa"   // Bearing measurement
	TypeStats MessageType = "stats" // Tracker statistics
	TypeHello MessageType = "hello" // Sent once per connection

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// AoAData contains one bearing measurement
type AoAData struct {
	Angle     float64 `json:"angle"`
	RawAngle  float64 `json:"raw_angle"`
	DeltaTUs  int64   `json:"delta_t_us"`
	V1        float64 `json:"v1"`
	V2        float64 `json:"v2"`
	Filled    bool    `json:"filled"`
	Saturated bool    `json:"saturated,omitempty"`
	Cycle     uint64  `json:"cycle"`
}

// NewAoAMessage creates an aoa message from a measurement
func NewAoAMessage(m aoa.Measurement) (*Message, error) {
	msg, err := NewMessage(TypeAoA, AoAData{
		Angle:     m.Angle,
		RawAngle:  m.RawAngle,
		DeltaTUs:  m.DeltaTUs,
		V1:        m.V1,
		V2:        m.V2,
		Filled:    m.Filled,
		Saturated: m.Saturated,
		Cycle:     m.Cycle,
	})
	if err != nil {
		return nil, err
	}
	if !m.Timestamp.IsZero() {
		msg.Timestamp = m.Timestamp.UnixMilli()
	}
	return msg, nil
}

// GetAoAData extracts measurement data from a message
func (m *Message) GetAoAData() (*AoAData, error) {
	var data AoAData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// HelloData identifies the sensor to the cloud
type HelloData struct {
	DeviceID  string  `json:"device_id"`
	SessionID string  `json:"session_id,omitempty"`
	Version   string  `json:"version,omitempty"`
	SpacingM  float64 `json:"spacing_m,omitempty"`
	SpeedMPS  float64 `json:"speed_mps,omitempty"`
}

// NewHelloMessage creates a hello message
func NewHelloMessage(hello HelloData) (*Message, error) {
	return NewMessage(TypeHello, hello)
}

// GetHelloData extracts hello data from a message
func (m *Message) GetHelloData() (*HelloData, error) {
	var data HelloData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// NewStatsMessage creates a stats message
func NewStatsMessage(stats aoa.TrackerStats) (*Message, error) {
	return NewMessage(TypeStats, stats)
}

// GetStats extracts tracker statistics from a message
func (m *Message) GetStats() (*aoa.TrackerStats, error) {
	var data aoa.TrackerStats
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
