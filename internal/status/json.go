package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	State         string     `json:"state"`
	Since         string     `json:"since,omitempty"`
	Contactor     bool       `json:"contactor"`
	Inputs        InputsJSON `json:"inputs"`
	LED           LEDJSON    `json:"led"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"state_counts"`
	Config        ConfigJSON `json:"config"`
}

// InputsJSON reports the raw input lines.
type InputsJSON struct {
	PilotOK bool `json:"pilot_ok"`
	Fault   bool `json:"fault"`
	Button  bool `json:"button"`
}

// LEDJSON reports the indicator.
type LEDJSON struct {
	Mode      string `json:"mode"`
	Requested string `json:"requested"`
	Override  bool   `json:"override"`
	Level     bool   `json:"level"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON counts entries into each state since boot.
type CountsJSON struct {
	Idle     int `json:"idle"`
	Ready    int `json:"ready"`
	Charging int `json:"charging"`
	Fault    int `json:"fault"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Device      string `json:"device"`
}

func buildInner(snap Snapshot) StatusInner {
	v := snap.Station
	state := string(v.State)
	if !snap.Updated || state == "" {
		state = "UNKNOWN"
	}
	var since string
	if !v.Since.IsZero() {
		since = v.Since.UTC().Format(time.RFC3339)
	}

	return StatusInner{
		State:     state,
		Since:     since,
		Contactor: v.IO.Contactor,
		Inputs: InputsJSON{
			PilotOK: v.IO.PilotOK,
			Fault:   v.IO.Fault,
			Button:  v.IO.Button,
		},
		LED: LEDJSON{
			Mode:      string(v.LEDMode),
			Requested: string(v.LEDRequested),
			Override:  v.Override,
			Level:     v.IO.LED,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Idle:     v.Counts.Idle,
			Ready:    v.Counts.Ready,
			Charging: v.Counts.Charging,
			Fault:    v.Counts.Fault,
		},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Device:      snap.Config.Device,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
