package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/wabot/internal/apperr"
	"github.com/neboloop/wabot/internal/lifecycle"
	"github.com/neboloop/wabot/internal/scheduler"
	"github.com/neboloop/wabot/internal/session"
)

type fakeSession struct {
	mu         sync.Mutex
	ready      bool
	registered bool
	qr         string
	sent       [][2]string
	pairErr    error
}

func (f *fakeSession) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSession) Send(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return apperr.ErrNotReady
	}
	f.sent = append(f.sent, [2]string{to, text})
	return nil
}

func (f *fakeSession) RequestPairing(_ context.Context, mode session.PairingMode, phone string) (session.PairingArtifact, error) {
	if f.pairErr != nil {
		return session.PairingArtifact{}, f.pairErr
	}
	if mode == session.PairingCode {
		return session.PairingArtifact{Mode: mode, Code: "ABCD-EFGH", ForNumber: phone}, nil
	}
	return session.PairingArtifact{Mode: mode, Code: f.qr, Notice: "QR code will be displayed if a new session is required."}, nil
}

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.State{Registered: f.registered}
}

func (f *fakeSession) StatusText() string { return "Connection opened." }

func (f *fakeSession) LastQR() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.qr
}

func newHub(t *testing.T, sess *fakeSession) (*Hub, *scheduler.Store) {
	t.Helper()
	store := scheduler.NewStore("/data/scheduled_messages.json", scheduler.WithFs(afero.NewMemMapFs()))
	require.NoError(t, store.Load())
	return NewHub(sess, store), store
}

// next decodes the next queued message for c.
func next(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data, ok := <-c.Outbound():
		require.True(t, ok, "client closed")
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return nil
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.Outbound():
		default:
			return
		}
	}
}

func request(t *testing.T, v map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestRegisterGreetsUnpairedObserver(t *testing.T) {
	hub, _ := newHub(t, &fakeSession{qr: "2@qr"})
	c := NewClient(nil, hub, "a")
	hub.Register(c)

	assert.Equal(t, "Connected to Bot Web Interface", next(t, c)["message"])
	assert.Equal(t, "Connection opened.", next(t, c)["message"])
	list := next(t, c)
	assert.Equal(t, TypeScheduledMessagesList, list["type"])
	assert.Equal(t, []any{}, list["data"])
	assert.Equal(t, TypePairingRequired, next(t, c)["type"])
	qr := next(t, c)
	assert.Equal(t, TypeQRCode, qr["type"])
	assert.Equal(t, "2@qr", qr["data"])
}

func TestRegisterGreetsPairedObserver(t *testing.T) {
	hub, _ := newHub(t, &fakeSession{registered: true})
	c := NewClient(nil, hub, "a")
	hub.Register(c)

	next(t, c)
	next(t, c)
	next(t, c)
	last := next(t, c)
	assert.Equal(t, TypeStatus, last["type"])
	assert.Equal(t, "WhatsApp connection appears to be active.", last["message"])
}

func TestScheduleAndCancelBroadcastToAllObservers(t *testing.T) {
	hub, store := newHub(t, &fakeSession{registered: true})
	a := NewClient(nil, hub, "a")
	b := NewClient(nil, hub, "b")
	hub.Register(a)
	hub.Register(b)
	drain(a)
	drain(b)

	sendAt := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	hub.HandleInbound(context.Background(), a, request(t, map[string]any{
		"type": "scheduleMessage", "to": "111", "text": "hi", "sendAt": sendAt,
	}))

	res := next(t, a)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "Message scheduled successfully", res["message"])
	id := res["data"].(map[string]any)["id"].(string)

	for _, c := range []*Client{a, b} {
		list := next(t, c)
		assert.Equal(t, TypeScheduledMessagesList, list["type"])
		assert.Len(t, list["data"], 1)
	}

	hub.HandleInbound(context.Background(), a, request(t, map[string]any{
		"type": "cancelScheduledMessage", "messageId": id,
	}))
	res = next(t, a)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "Message cancelled successfully.", res["message"])
	assert.Empty(t, next(t, a)["data"])
	assert.Empty(t, next(t, b)["data"])
	assert.Empty(t, store.List())

	hub.HandleInbound(context.Background(), a, request(t, map[string]any{
		"type": "cancelScheduledMessage", "messageId": id,
	}))
	res = next(t, a)
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "Message ID not found.", res["message"])
	select {
	case <-b.Outbound():
		t.Fatal("failed cancel must not broadcast")
	default:
	}
}

func TestScheduleValidationReplies(t *testing.T) {
	hub, _ := newHub(t, &fakeSession{})
	c := NewClient(nil, hub, "a")

	cases := map[string]map[string]any{
		"Scheduled time must be in the future.": {"type": "scheduleMessage", "to": "1", "text": "x", "sendAt": "2001-01-01T00:00:00Z"},
		"Invalid date format":                   {"type": "scheduleMessage", "to": "1", "text": "x", "sendAt": "next week"},
		"Invalid arguments":                     {"type": "scheduleMessage", "to": "1", "sendAt": "2001-01-01T00:00:00Z"},
	}
	for want, req := range cases {
		hub.HandleInbound(context.Background(), c, request(t, req))
		res := next(t, c)
		assert.Equal(t, false, res["success"], want)
		assert.Equal(t, want, res["message"])
	}
}

func TestSendMessageRequiresReadySession(t *testing.T) {
	sess := &fakeSession{}
	hub, _ := newHub(t, sess)
	c := NewClient(nil, hub, "a")

	req := request(t, map[string]any{"type": "sendMessage", "to": "111", "text": "hi"})
	hub.HandleInbound(context.Background(), c, req)
	res := next(t, c)
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "Bot not connected to WhatsApp or not paired.", res["message"])

	sess.ready = true
	hub.HandleInbound(context.Background(), c, req)
	res = next(t, c)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "Message sent successfully", res["message"])
	assert.Equal(t, [][2]string{{"111", "hi"}}, sess.sent)
}

func TestInitiatePairing(t *testing.T) {
	sess := &fakeSession{qr: "2@qr"}
	hub, _ := newHub(t, sess)
	c := NewClient(nil, hub, "a")
	ctx := context.Background()

	hub.HandleInbound(ctx, c, request(t, map[string]any{"type": "initiatePairing", "method": "qr"}))
	res := next(t, c)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "QR code will be displayed if a new session is required.", res["message"])

	hub.HandleInbound(ctx, c, request(t, map[string]any{"type": "initiatePairing", "method": "code", "phoneNumber": "+15551234567"}))
	res = next(t, c)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "ABCD-EFGH", res["data"].(map[string]any)["code"])

	sess.pairErr = apperr.New(apperr.CodeInvalidInput, "Invalid phone number format. Must include country code e.g. +123...")
	hub.HandleInbound(ctx, c, request(t, map[string]any{"type": "initiatePairing", "method": "code", "phoneNumber": "555"}))
	res = next(t, c)
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "Invalid phone number format. Must include country code e.g. +123...", res["message"])

	hub.HandleInbound(ctx, c, request(t, map[string]any{"type": "initiatePairing", "method": "carrier-pigeon"}))
	assert.Equal(t, false, next(t, c)["success"])
}

func TestMalformedAndUnknownRequests(t *testing.T) {
	hub, _ := newHub(t, &fakeSession{})
	c := NewClient(nil, hub, "a")

	hub.HandleInbound(context.Background(), c, []byte("{not json"))
	msg := next(t, c)
	assert.Equal(t, TypeError, msg["type"])
	assert.Equal(t, "Invalid message format or server error.", msg["message"])

	hub.HandleInbound(context.Background(), c, []byte(`{"type":"selfDestruct"}`))
	assert.Equal(t, TypeError, next(t, c)["type"])

	hub.HandleInbound(context.Background(), c, []byte(`{"type":"ping"}`))
	assert.Equal(t, TypePong, next(t, c)["type"])
}

func TestLifecycleEventsAreForwarded(t *testing.T) {
	hub, _ := newHub(t, &fakeSession{registered: true})
	bus := lifecycle.NewManager()
	hub.Subscribe(bus)

	c := NewClient(nil, hub, "a")
	hub.Register(c)
	drain(c)

	bus.Status("Connection closed. Reason: timed out")
	bus.Emit(lifecycle.EventQRCode, "2@abc")
	bus.Emit(lifecycle.EventPairingCode, lifecycle.PairingCode{Code: "WXYZ-1234", ForNumber: "+15551234567"})
	bus.Emit(lifecycle.EventPairingRequired, "Logged out. Please initiate pairing.")
	bus.Emit(lifecycle.EventError, "Failed to get pairing code.")
	bus.Emit(lifecycle.EventMessageReceived, session.Message{From: "111@s.whatsapp.net", Text: "hello"})
	bus.Emit(lifecycle.EventScheduleChanged, []scheduler.Message(nil))

	assert.Equal(t, map[string]any{"type": "status", "message": "Connection closed. Reason: timed out"}, next(t, c))
	assert.Equal(t, map[string]any{"type": "qrCode", "data": "2@abc"}, next(t, c))
	assert.Equal(t, map[string]any{"type": "pairingCode", "data": "WXYZ-1234", "forNumber": "+15551234567"}, next(t, c))
	assert.Equal(t, map[string]any{"type": "pairingRequired", "message": "Logged out. Please initiate pairing."}, next(t, c))
	assert.Equal(t, map[string]any{"type": "error", "message": "Failed to get pairing code."}, next(t, c))
	msg := next(t, c)
	assert.Equal(t, "newMessage", msg["type"])
	assert.Equal(t, "hello", msg["data"].(map[string]any)["text"])
	assert.Equal(t, map[string]any{"type": "scheduledMessagesList", "data": []any{}}, next(t, c))
}

func TestFullClientIsDropped(t *testing.T) {
	hub, _ := newHub(t, &fakeSession{registered: true})
	slow := NewClient(nil, hub, "slow")
	fast := NewClient(nil, hub, "fast")
	hub.Register(slow)
	hub.Register(fast)
	require.Equal(t, 2, hub.Count())

	for i := 0; i < sendBuffer; i++ {
		hub.BroadcastStatus("tick")
		drain(fast)
	}
	assert.Equal(t, 1, hub.Count())
	assert.True(t, slow.IsClosed())
	assert.False(t, fast.IsClosed())
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	hub, _ := newHub(t, &fakeSession{})
	a := NewClient(nil, hub, "a")
	hub.Register(a)
	hub.Close()

	assert.True(t, a.IsClosed())
	assert.Equal(t, 0, hub.Count())

	late := NewClient(nil, hub, "late")
	hub.Register(late)
	assert.True(t, late.IsClosed())
}

func TestWebSocketObserversSeeEachOthersChanges(t *testing.T) {
	hub, _ := newHub(t, &fakeSession{registered: true})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ServeWS(hub, conn, r.URL.Query().Get("id"))
	}))
	defer srv.Close()
	defer hub.Close()

	dial := func(id string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?id=" + id
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	read := func(conn *websocket.Conn) map[string]any {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var m map[string]any
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}
	skipGreeting := func(conn *websocket.Conn) {
		for i := 0; i < 4; i++ {
			read(conn)
		}
	}

	a := dial("a")
	skipGreeting(a)
	b := dial("b")
	skipGreeting(b)
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 10*time.Millisecond)

	sendAt := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, a.WriteJSON(map[string]any{"type": "scheduleMessage", "to": "111", "text": "hi", "sendAt": sendAt}))
	res := read(a)
	require.Equal(t, true, res["success"])
	id := res["data"].(map[string]any)["id"].(string)
	assert.Len(t, read(a)["data"], 1)
	assert.Len(t, read(b)["data"], 1)

	require.NoError(t, a.WriteJSON(map[string]any{"type": "cancelScheduledMessage", "messageId": id}))
	assert.Equal(t, true, read(a)["success"])
	assert.Empty(t, read(a)["data"])
	listB := read(b)
	assert.Equal(t, "scheduledMessagesList", listB["type"])
	assert.Empty(t, listB["data"])

	a.Close()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}
