// Package dashboard rebroadcasts live pool/task snapshots to connected
// websocket clients: an upgrader, a clients map guarded by a mutex, and a
// single goroutine draining a broadcast channel.
package dashboard

import (
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Payload is the wire shape of every websocket message: a {kind, body}
// envelope used for both "stat" and "log" messages.
type Payload struct {
	Kind string `json:"kind"`
	Body any    `json:"body"`
}

// Hub owns the websocket upgrader, the connected-client set, and the
// broadcast channel every Publish call feeds.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mu        sync.Mutex
}

// NewHub builds an empty Hub. Call Run in its own goroutine before serving
// any connections.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte),
	}
}

// ServeWS upgrades r to a websocket connection and registers it as a
// broadcast recipient.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Print("dashboard: upgrade: ", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

// Run drains the broadcast channel and fans each message out to every
// connected client, dropping and closing any client whose write fails.
func (h *Hub) Run() {
	for msg := range h.broadcast {
		h.mu.Lock()
		for c := range h.clients {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				delete(h.clients, c)
			}
		}
		h.mu.Unlock()
	}
}

// Publish marshals {kind, body} and queues it for broadcast. Marshal
// failures are logged, not returned: a snapshot that can't be marshaled
// is a programmer error in the caller, not something a live dashboard
// websocket caller can act on.
func (h *Hub) Publish(kind string, body any) {
	b, err := json.Marshal(Payload{Kind: kind, Body: body})
	if err != nil {
		log.Print("dashboard: marshal: ", err)
		return
	}
	h.broadcast <- b
}

// indexTemplate is compiled in rather than read from a template file on
// disk, so the binary has no runtime dependency on a web/ directory.
var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>phonewatch</title></head>
<body>
<pre id="log"></pre>
<script>
const ws = new WebSocket("{{.}}");
ws.onmessage = (ev) => {
  const pre = document.getElementById("log");
  pre.textContent += ev.data + "\n";
};
</script>
</body>
</html>`))

// ServeIndex renders the compiled-in dashboard page, pointing its inline
// script at this request's own host.
func ServeIndex(w http.ResponseWriter, r *http.Request) {
	if err := indexTemplate.Execute(w, "ws://"+r.Host+"/ws"); err != nil {
		log.Print("dashboard: render index: ", err)
	}
}
