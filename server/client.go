package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agent-relay/ansi"
	"agent-relay/log"
	"agent-relay/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// sendBuffer bounds how many undelivered events a slow client may hold.
	sendBuffer = 256
)

// command is a JSON request from a client.
type command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
}

// event is a JSON push to a client.
type event struct {
	Type   string              `json:"type"`
	Spans  []ansi.Span         `json:"spans,omitempty"`
	Items  []session.QueueItem `json:"items,omitempty"`
	Turns  []session.ChatTurn  `json:"turns,omitempty"`
	Status string              `json:"status,omitempty"`
	Error  string              `json:"error,omitempty"`
}

var errClientBacklogged = errors.New("client backlogged, frame dropped")

// Client is one WebSocket subscriber. It doubles as a screen consumer: flushes
// arrive on the broadcast path and are handed to the write pump through a
// buffered channel, so a stalled socket drops frames instead of stalling the
// session.
type Client struct {
	name string
	conn *websocket.Conn
	orch *session.Orchestrator
	send chan event
}

func newClient(conn *websocket.Conn, orch *session.Orchestrator) *Client {
	return &Client{
		name: "ws-" + uuid.New().String(),
		conn: conn,
		orch: orch,
		send: make(chan event, sendBuffer),
	}
}

// Name implements screen.Consumer.
func (c *Client) Name() string { return c.name }

// Send implements screen.Consumer: the screen is rendered to styled spans and
// queued without blocking. Screens are snapshots, so a dropped frame is
// superseded by the next one.
func (c *Client) Send(screen string) error {
	ev := event{Type: "screen", Spans: ansi.Render(screen)}
	select {
	case c.send <- ev:
		return nil
	default:
		return errClientBacklogged
	}
}

// enqueueEvent queues a non-screen event, dropping when backlogged.
func (c *Client) enqueueEvent(ev event) {
	select {
	case c.send <- ev:
	default:
		log.WarningLog.Printf("consumer %s dropped %s event", c.name, ev.Type)
	}
}

// readPump parses commands until the connection dies. Runs on its own
// goroutine; returning triggers teardown in the server.
func (c *Client) readPump() {
	defer c.conn.Close()

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
				log.WarningLog.Printf("consumer %s read error: %v", c.name, err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.enqueueEvent(event{Type: "error", Error: "invalid command"})
			continue
		}
		c.handleCommand(cmd)
	}
}

func (c *Client) handleCommand(cmd command) {
	var err error
	switch cmd.Type {
	case "enqueue":
		if cmd.Text == "" {
			err = errors.New("enqueue requires text")
		} else {
			c.orch.Enqueue(cmd.Text)
		}

	case "edit":
		err = c.orch.EditRequest(cmd.ID, cmd.Text)

	case "remove":
		err = c.orch.RemoveRequest(cmd.ID)

	case "duplicate":
		_, err = c.orch.DuplicateRequest(cmd.ID)

	case "interrupt":
		err = c.orch.Interrupt()

	case "reset":
		c.orch.Reset()

	case "transcript":
		c.enqueueEvent(event{Type: "transcript", Turns: c.orch.Turns()})

	case "ping":
		// Presence is sufficient.

	default:
		err = errors.New("unknown command type: " + cmd.Type)
	}

	if err != nil {
		c.enqueueEvent(event{Type: "error", Error: err.Error()})
	}
}

// writePump serializes all socket writes and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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
