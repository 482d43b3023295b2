package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"agent-relay/session"
)

// setupTestServer runs the server against a real `cat` session: a PTY echo
// loop is enough to exercise delivery and screen broadcast without a real
// coding agent.
func setupTestServer(t *testing.T) (*httptest.Server, *session.Orchestrator) {
	t.Helper()

	orch := session.NewOrchestrator("cat", session.Options{
		ThrottleInterval: 10 * time.Millisecond,
		IdleClear:        time.Hour,
		StartupTimeout:   5 * time.Second,
		ReadyGrace:       30 * time.Millisecond,
	})
	srv := httptest.NewServer(New(orch).Handler())
	t.Cleanup(func() {
		srv.Close()
		orch.Close()
	})
	return srv, orch
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// readEvent decodes the next event within the deadline.
func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status    string `json:"status"`
		Consumers int    `json:"consumers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "not-started", body.Status)
	require.Zero(t, body.Consumers)
}

func TestQueueEndpoint(t *testing.T) {
	srv, orch := setupTestServer(t)

	orch.Enqueue("list the files")

	resp, err := http.Get(srv.URL + "/queue")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Items []session.QueueItem `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Items, 1)
	require.Equal(t, "list the files", body.Items[0].Text)
}

func TestTranscriptEndpoint(t *testing.T) {
	srv, orch := setupTestServer(t)

	orch.Enqueue("a question")

	resp, err := http.Get(srv.URL + "/transcript")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Turns []session.ChatTurn `json:"turns"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Turns)
	require.Equal(t, session.RoleUser, body.Turns[0].Role)
}

func TestSummaryEndpointEmptySession(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Summary string `json:"summary"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	// Nothing on screen yet, so no CLI call is made.
	require.Equal(t, "No output yet", body.Summary)
}

func TestWebSocketInitialState(t *testing.T) {
	srv, _ := setupTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	// A joining client is caught up immediately rather than waiting for the
	// next flush.
	first := readEvent(t, conn)
	require.Equal(t, "queue", first.Type)
	second := readEvent(t, conn)
	require.Equal(t, "status", second.Type)
	require.Equal(t, "not-started", second.Status)
}

func TestWebSocketEnqueueRoundTrip(t *testing.T) {
	srv, _ := setupTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(command{Type: "enqueue", Text: "hello_ws_roundtrip"}))

	// The PTY echoes typed input, so the screen must eventually carry the
	// request text.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		ev := readEvent(t, conn)
		if ev.Type != "screen" {
			continue
		}
		var b strings.Builder
		for _, span := range ev.Spans {
			b.WriteString(span.Text)
		}
		if strings.Contains(b.String(), "hello_ws_roundtrip") {
			return
		}
	}
	t.Fatal("screen with request text never arrived")
}

func TestWebSocketUnknownCommand(t *testing.T) {
	srv, _ := setupTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(command{Type: "bogus"}))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev := readEvent(t, conn)
		if ev.Type == "error" {
			require.Contains(t, ev.Error, "unknown command")
			return
		}
	}
	t.Fatal("error event never arrived")
}

func TestWebSocketRejectsUnlistedOrigin(t *testing.T) {
	srv, _ := setupTestServer(t)

	header := http.Header{}
	header.Set("Origin", "http://evil.example")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://relay.example,http://localhost:*")

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "no origin header", origin: "", want: true},
		{name: "exact match", origin: "https://relay.example", want: true},
		{name: "wildcard port", origin: "http://localhost:5173", want: true},
		{name: "wildcard port non-numeric", origin: "http://localhost:abc", want: false},
		{name: "unlisted", origin: "http://evil.example", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, checkOrigin(req))
		})
	}
}
