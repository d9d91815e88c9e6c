// Package mqtt publishes station events and accepts text commands over MQTT.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/charge-controller/internal/logic"
)

// Topic is the MQTT topic for state transitions.
const Topic = "evse/station/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "evse/station/system"

// TopicCommand receives text commands.
const TopicCommand = "evse/station/command"

// TopicReply carries the response to each command.
const TopicReply = "evse/station/reply"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a state transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(tr logic.Transition) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// CommandHandler executes one command line and returns the reply text.
type CommandHandler func(line string) string

// SystemEvent represents a system lifecycle event (startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // "STARTUP", "SHUTDOWN", "HEARTBEAT", "RECONNECTED"
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted JSON; if set, FormatSystemPayload returns it as is
	Retained   bool
}

// Payload is the message body for a transition.
type Payload struct {
	Station StationPayload `json:"station"`
}

// StationPayload contains the transition details.
type StationPayload struct {
	Timestamp string `json:"timestamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason"`
	Contactor bool   `json:"contactor"`
}

// FormatPayload creates the JSON payload for a transition.
func FormatPayload(tr logic.Transition) ([]byte, error) {
	payload := Payload{
		Station: StationPayload{
			Timestamp: tr.Timestamp.UTC().Format(time.RFC3339Nano),
			From:      string(tr.From),
			To:        string(tr.To),
			Reason:    string(tr.Reason),
			Contactor: tr.Contactor,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the message body for events that carry no status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Nop discards every message. It stands in when no broker is configured.
type Nop struct{}

func (Nop) Publish(logic.Transition) error  { return nil }
func (Nop) PublishSystem(SystemEvent) error { return nil }
func (Nop) Close() error                    { return nil }
func (Nop) IsConnected() bool               { return false }
