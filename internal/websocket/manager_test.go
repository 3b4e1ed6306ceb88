package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"notes-sync-indexer/internal/domain"

	"github.com/gorilla/websocket"
)

func startManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m := NewManager(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

var clientSeq atomic.Int64

func dial(t *testing.T, m *Manager, userID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.Attach(NewClient(r.URL.Query().Get("id"), userID, conn, m))
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?id=" + userID + "-" + strconv.FormatInt(clientSeq.Add(1), 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, m *Manager, userID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.GetUserConnections(userID) != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections for %s, got %d", want, userID, m.GetUserConnections(userID))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &msg
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("expected no message, got %s", data)
	}
}

func TestManager_PublishReachesOwner(t *testing.T) {
	m := startManager(t, Options{})
	conn := dial(t, m, "owner-1")
	waitForConnections(t, m, "owner-1", 1)

	m.Publish(context.Background(), domain.Event{
		Type:    domain.EventNoteIndexed,
		OwnerID: "owner-1",
		Payload: domain.NoteIndexedPayload{RunID: "run-1", OwnerID: "owner-1", RecordID: "note-1", Title: "Groceries", Chunks: 2},
	})

	msg := readMessage(t, conn)
	if msg.Type != TypeNoteIndexed {
		t.Fatalf("expected %s, got %s", TypeNoteIndexed, msg.Type)
	}
	var payload domain.NoteIndexedPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.RecordID != "note-1" || payload.Chunks != 2 || payload.OwnerID != "owner-1" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestManager_NoteEventsStayWithOwner(t *testing.T) {
	m := startManager(t, Options{OperatorID: "operator"})
	alice := dial(t, m, "alice")
	bob := dial(t, m, "bob")
	waitForConnections(t, m, "alice", 1)
	waitForConnections(t, m, "bob", 1)

	ctx := context.Background()
	m.Publish(ctx, domain.Event{
		Type:    domain.EventNoteIndexed,
		OwnerID: "alice",
		Payload: domain.NoteIndexedPayload{RunID: "run-1", OwnerID: "alice", RecordID: "note-1", Title: "Diary"},
	})
	m.Publish(ctx, domain.Event{
		Type:    domain.EventNoteFailed,
		OwnerID: "alice",
		Payload: domain.NoteFailedPayload{RunID: "run-1", OwnerID: "alice"},
	})

	if got := readMessage(t, alice); got.Type != TypeNoteIndexed {
		t.Errorf("expected note_indexed, got %s", got.Type)
	}
	if got := readMessage(t, alice); got.Type != TypeNoteFailed {
		t.Errorf("expected note_failed, got %s", got.Type)
	}
	expectSilence(t, bob)
}

func TestManager_UnownedEventsGoToOperator(t *testing.T) {
	m := startManager(t, Options{OperatorID: "operator"})
	operator := dial(t, m, "operator")
	alice := dial(t, m, "alice")
	waitForConnections(t, m, "operator", 1)
	waitForConnections(t, m, "alice", 1)

	m.Publish(context.Background(), domain.Event{
		Type:    domain.EventSecondFactorRequired,
		Payload: domain.SecondFactorPayload{Username: "user@example.com"},
	})

	if got := readMessage(t, operator); got.Type != TypeSecondFactorRequired {
		t.Errorf("expected second_factor_required, got %s", got.Type)
	}
	expectSilence(t, alice)
}

func TestManager_UnownedEventsDroppedWithoutOperator(t *testing.T) {
	m := startManager(t, Options{})
	conn := dial(t, m, "owner-1")
	waitForConnections(t, m, "owner-1", 1)

	m.Publish(context.Background(), domain.Event{
		Type:    domain.EventSyncStarted,
		Payload: domain.SyncStartedPayload{RunID: "run-1"},
	})

	expectSilence(t, conn)
}

func TestManager_AnswersPing(t *testing.T) {
	m := startManager(t, Options{})
	conn := dial(t, m, "owner-1")
	waitForConnections(t, m, "owner-1", 1)

	ping, _ := NewMessage(TypePing, nil)
	if err := conn.WriteJSON(ping); err != nil {
		t.Fatalf("write: %v", err)
	}

	if msg := readMessage(t, conn); msg.Type != TypePong {
		t.Errorf("expected pong, got %s", msg.Type)
	}
}

func TestManager_BroadcastToUserIsScoped(t *testing.T) {
	m := startManager(t, Options{})
	alice := dial(t, m, "alice")
	bob := dial(t, m, "bob")
	waitForConnections(t, m, "alice", 1)
	waitForConnections(t, m, "bob", 1)

	msg, _ := NewMessage(TypeSyncStarted, domain.SyncStartedPayload{RunID: "run-1"})
	if err := m.BroadcastToUser("alice", msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if got := readMessage(t, alice); got.Type != TypeSyncStarted {
		t.Errorf("expected sync_started, got %s", got.Type)
	}

	expectSilence(t, bob)
}

func TestManager_UnregisterOnClose(t *testing.T) {
	m := startManager(t, Options{})
	conn := dial(t, m, "owner-1")
	waitForConnections(t, m, "owner-1", 1)

	conn.Close()
	waitForConnections(t, m, "owner-1", 0)
}

func TestManager_MaxConnectionsPerUser(t *testing.T) {
	m := startManager(t, Options{MaxConnPerUser: 1})
	dial(t, m, "owner-1")
	waitForConnections(t, m, "owner-1", 1)

	second := dial(t, m, "owner-1")
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("expected the extra connection to be closed")
	}
	if got := m.GetUserConnections("owner-1"); got != 1 {
		t.Errorf("expected 1 connection, got %d", got)
	}
}
