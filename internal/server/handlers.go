// Package server exposes the plain HTTP handlers: health check and the
// built-in browser test page.
package server

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
)

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay server is running!")
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Relay WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; }
        .self { color: blue; }
        .peer { color: green; }
        .info { color: gray; font-style: italic; }
    </style>
</head>
<body>
    <h1>Relay WebSocket Test</h1>
    <div id="status">Disconnected</div>
    <input type="text" id="text" placeholder="Type a message..." disabled>
    <button id="send" disabled>Send</button>
    <button id="toggle">Connect</button>
    <div id="log"></div>
    <script>
        const wsPath = "__WS_PATH__";
        const log = document.getElementById('log');
        const text = document.getElementById('text');
        const send = document.getElementById('send');
        const toggle = document.getElementById('toggle');
        const status = document.getElementById('status');
        let ws = null;

        function append(line, cls) {
            const el = document.createElement('div');
            el.className = cls;
            el.textContent = line;
            log.appendChild(el);
            log.scrollTop = log.scrollHeight;
        }

        function setConnected(connected) {
            status.textContent = connected ? 'Connected' : 'Disconnected';
            text.disabled = !connected;
            send.disabled = !connected;
            toggle.textContent = connected ? 'Disconnect' : 'Connect';
        }

        toggle.onclick = function () {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.close(); return; }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + wsPath);
            ws.onopen = function () { append('Connected to relay', 'info'); setConnected(true); };
            ws.onmessage = function (e) { append(e.data, 'peer'); };
            ws.onclose = function () { append('Connection closed', 'info'); setConnected(false); ws = null; };
        };

        function sendText() {
            const value = text.value.trim();
            if (value && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(value);
                append('You: ' + value, 'self');
                text.value = '';
            }
        }

        send.onclick = sendText;
        text.addEventListener('keypress', function (e) { if (e.key === 'Enter') { sendText(); } });
    </script>
</body>
</html>`

// TestPageHandler serves an HTML page that connects to the relay endpoint at
// wsPath and shows the broadcasts it receives.
func TestPageHandler(wsPath string) http.HandlerFunc {
	page := strings.Replace(testPage, "__WS_PATH__", template.JSEscapeString(wsPath), 1)

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := fmt.Fprint(w, page); err != nil {
			slog.Warn("Error writing HTML response", "error", err)
		}
	}
}
