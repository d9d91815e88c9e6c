package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/charge-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		switch {
		case days > 0:
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		case h > 0:
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		case m > 0:
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"onoff": func(b bool) string {
		if b {
			return "ON"
		}
		return "OFF"
	},
	"stateClass": func(s string) string {
		switch s {
		case "CHARGING":
			return "charging"
		case "FAULT":
			return "fault"
		case "READY":
			return "ready"
		case "IDLE":
			return "idle"
		}
		return "unknown"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Charge Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.charging { color: green; font-weight: bold; }
.ready { color: #06c; }
.idle { color: #888; }
.fault { color: red; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Charge Controller<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Station</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass .State}}">{{.State}}</td></tr>
<tr><th>Since</th><td id="since">{{if not .Station.Since.IsZero}}{{.Station.Since.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
<tr><th>Contactor</th><td id="contactor">{{onoff .Station.IO.Contactor}}</td></tr>
<tr><th>LED</th><td id="led">{{.Station.LEDMode}}{{if .Station.Override}} (forced, requested {{.Station.LEDRequested}}){{end}}</td></tr>
</table>

<h2>Inputs</h2>
<table>
<tr><th>Pilot OK</th><td id="pilot">{{onoff .Station.IO.PilotOK}}</td></tr>
<tr><th>Fault</th><td id="fault">{{onoff .Station.IO.Fault}}</td></tr>
<tr><th>Button</th><td id="button">{{onoff .Station.IO.Button}}</td></tr>
</table>

<h2>State Entries</h2>
<table>
<tr><th>Idle</th><td>{{.Station.Counts.Idle}}</td></tr>
<tr><th>Ready</th><td>{{.Station.Counts.Ready}}</td></tr>
<tr><th>Charging</th><td>{{.Station.Counts.Charging}}</td></tr>
<tr><th>Fault</th><td>{{.Station.Counts.Fault}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Device</th><td>{{.Config.Device}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/api/events">Events</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function onoff(b) { return b ? "ON" : "OFF"; }
  function set(id, text) { document.getElementById(id).textContent = text; }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).data.status;
        var st = document.getElementById("state");
        st.textContent = s.state;
        st.className = s.state.toLowerCase();
        set("since", s.since || "");
        set("contactor", onoff(s.contactor));
        set("led", s.led.mode + (s.led.override ? " (forced, requested " + s.led.requested + ")" : ""));
        set("pilot", onoff(s.inputs.pilot_ok));
        set("fault", onoff(s.inputs.fault));
        set("button", onoff(s.inputs.button));
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	state := string(snap.Station.State)
	if !snap.Updated || state == "" {
		state = "UNKNOWN"
	}
	data := struct {
		status.Snapshot
		State  string
		Uptime time.Duration
	}{
		Snapshot: snap,
		State:    state,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
