// Package server exposes the controller over a websocket: commands in,
// telemetry events out. One goroutine pair per client, with all writes
// funneled through a buffered channel so a slow client never blocks the
// controller's executor.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"grblhub/internal/controller"
	"grblhub/internal/monitor"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20
	sendBacklog    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the host is trusted to front this with its own origin policy
	CheckOrigin: func(*http.Request) bool { return true },
}

// request is one inbound client frame.
type request struct {
	Command string            `json:"command"`
	Args    []json.RawMessage `json:"args,omitempty"`
}

// event is one outbound frame.
type event struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

type Server struct {
	ctrl    *controller.Controller
	monitor *monitor.Monitor
	log     *slog.Logger

	nextClient atomic.Int64
}

func New(ctrl *controller.Controller, mon *monitor.Monitor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctrl:    ctrl,
		monitor: mon,
		log:     logger.With("component", "server"),
	}
}

// Handler returns the HTTP mux: the websocket endpoint plus the watch
// directory listing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/api/files", s.serveFiles)
	return mux
}

func (s *Server) serveFiles(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.Error(w, "no watch directory configured", http.StatusNotFound)
		return
	}
	files, err := s.monitor.Files()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(files)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	id := fmt.Sprintf("ws-%d", s.nextClient.Add(1))
	c := &client{
		id:     id,
		server: s,
		conn:   conn,
		send:   make(chan event, sendBacklog),
		log:    s.log.With("client", id, "remote", r.RemoteAddr),
	}

	s.ctrl.AddConnection(id, c)
	c.log.Info("client connected")

	go c.writePump()
	go c.readPump()
}

type client struct {
	id     string
	server *Server
	conn   *websocket.Conn
	send   chan event
	log    *slog.Logger

	closed atomic.Bool
}

// Send implements controller.Sink. Called on the controller's executor,
// so it must never block: a client that cannot keep up is dropped.
func (c *client) Send(eventName string, payload interface{}) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- event{Event: eventName, Payload: payload}:
	default:
		c.log.Warn("send backlog full, dropping client")
		c.drop()
	}
}

func (c *client) drop() {
	if c.closed.Swap(true) {
		return
	}
	c.server.ctrl.RemoveConnection(c.id)
	close(c.send)
}

func (c *client) readPump() {
	defer func() {
		c.drop()
		c.conn.Close()
		c.log.Info("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error("websocket read failed", "error", err)
			}
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.Send("error", fmt.Sprintf("malformed request: %v", err))
			continue
		}
		c.dispatch(req)
	}
}

func (c *client) dispatch(req request) {
	args := decodeArgs(req.Args)

	switch req.Command {
	case "":
		c.Send("error", "missing command")
	case "write":
		if s, ok := firstString(args); ok {
			c.server.ctrl.Write(c.id, s)
		}
	case "writeln":
		if s, ok := firstString(args); ok {
			c.server.ctrl.Writeln(c.id, s)
		}
	default:
		args = append(args, controller.Callback(func(err error, result interface{}) {
			if err != nil {
				c.Send("command:error", map[string]interface{}{
					"command": req.Command, "error": err.Error(),
				})
				return
			}
			if result != nil {
				c.Send("command:result", map[string]interface{}{
					"command": req.Command, "result": result,
				})
			}
		}))
		if err := c.server.ctrl.Command(c.id, req.Command, args...); err != nil {
			c.Send("error", err.Error())
		}
	}
}

func firstString(args []interface{}) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}

// decodeArgs maps raw JSON arguments onto the loose types the command
// handlers expect: strings, numbers, and object contexts.
func decodeArgs(raw []json.RawMessage) []interface{} {
	args := make([]interface{}, 0, len(raw))
	for _, r := range raw {
		var v interface{}
		if err := json.Unmarshal(r, &v); err != nil {
			v = string(r)
		}
		args = append(args, v)
	}
	return args
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
