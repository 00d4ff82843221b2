package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"grblhub/internal/controller"
)

func dial(t *testing.T) (*websocket.Conn, func()) {
	t.Helper()

	ctrl := controller.New(controller.Options{Port: "/dev/null"}, controller.Deps{})
	srv := httptest.NewServer(New(ctrl, nil, nil).Handler())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatal(err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame struct {
		Event   string      `json:"event"`
		Payload interface{} `json:"payload"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	return frame.Event, frame.Payload
}

func TestClientReceivesStateSnapshot(t *testing.T) {
	conn, done := dial(t)
	defer done()

	event, _ := readEvent(t, conn)
	if event != "controller:state" {
		t.Fatalf("first event = %q, want controller:state", event)
	}
}

func TestUnknownCommandReportsError(t *testing.T) {
	conn, done := dial(t)
	defer done()
	readEvent(t, conn) // state snapshot

	if err := conn.WriteJSON(map[string]interface{}{"command": "bogus"}); err != nil {
		t.Fatal(err)
	}
	event, payload := readEvent(t, conn)
	if event != "error" {
		t.Fatalf("event = %q (%v), want error", event, payload)
	}
}

func TestMalformedFrameReportsError(t *testing.T) {
	conn, done := dial(t)
	defer done()
	readEvent(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	event, _ := readEvent(t, conn)
	if event != "error" {
		t.Fatalf("event = %q, want error", event)
	}
}

func TestDecodeArgs(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`"job.gcode"`),
		json.RawMessage(`42`),
		json.RawMessage(`{"xmax": 50}`),
	}
	args := decodeArgs(raw)

	if s, ok := args[0].(string); !ok || s != "job.gcode" {
		t.Fatalf("args[0] = %#v", args[0])
	}
	if f, ok := args[1].(float64); !ok || f != 42 {
		t.Fatalf("args[1] = %#v", args[1])
	}
	m, ok := args[2].(map[string]interface{})
	if !ok || m["xmax"] != float64(50) {
		t.Fatalf("args[2] = %#v", args[2])
	}
}
