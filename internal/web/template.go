package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/button-sensor/internal/button"
	"github.com/sweeney/button-sensor/internal/status"
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
	// CSS class for a phase: IDLE -> idle, SHORT_PRESSED -> short-pressed.
	"phaseClass": func(p button.Phase) string {
		return strings.ReplaceAll(strings.ToLower(string(p)), "_", "-")
	},
	"ms": func(ms int64) string {
		if ms == 0 {
			return "disabled"
		}
		return (time.Duration(ms) * time.Millisecond).String()
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Button Sensor</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.idle { color: #888; }
.short-pressed { color: green; font-weight: bold; }
.long-pressed { color: #c60; font-weight: bold; }
.disabled { color: #bbb; text-decoration: line-through; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>Button Sensor{{if .Live}}<span id="live-dot" class="live-dot" title="connecting"></span>{{end}}</h1>

<h2>Buttons</h2>
<table>
<tr><th>#</th><th>Name</th><th>State</th><th>Last event</th><th>Presses</th><th>Long</th></tr>
{{range .Channels}}<tr id="button-{{.ID}}">
<td>{{.ID}}</td><td>{{.Name}}</td>
<td class="state {{phaseClass .Phase}}">{{.Phase}}</td>
<td class="last">{{if .LastEventAt.IsZero}}-{{else}}{{.LastEvent}} {{.LastEventAt.UTC.Format "15:04:05"}}{{end}}</td>
<td class="presses">{{.Counts.Pressed}}</td><td class="long">{{.Counts.LongPressed}}</td>
</tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topics</th><td>{{.Config.TopicPrefix}}/events, {{.Config.TopicPrefix}}/system</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{ms .Config.PollMs}}</td></tr>
<tr><th>Heartbeat</th><td>{{ms .Config.HeartbeatMs}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var classes = { IDLE: "idle", SHORT_PRESSED: "short-pressed", LONG_PRESSED: "long-pressed", DISABLED: "disabled" };

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { dot.className = "live-dot ok"; dot.title = "live"; };
    ws.onclose = function() {
      dot.className = "live-dot err"; dot.title = "offline";
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(e) {
      try {
        var b = JSON.parse(e.data).button;
        var row = document.getElementById("button-" + b.channel);
        if (!row) { return; }
        var st = row.querySelector(".state");
        st.textContent = b.state;
        st.className = "state " + (classes[b.state] || "");
        row.querySelector(".last").textContent = b.event + " " + b.timestamp.substr(11, 8);
        if (b.event === "PRESSED") { var p = row.querySelector(".presses"); p.textContent = +p.textContent + 1; }
        if (b.event === "LONG_PRESSED") { var l = row.querySelector(".long"); l.textContent = +l.textContent + 1; }
      } catch (err) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Live   bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Live:     live,
	}
	return indexTmpl.Execute(w, data)
}
