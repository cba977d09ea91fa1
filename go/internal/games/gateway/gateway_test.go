package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mcdev12/coopsweeper/go/internal/games/events"
	"github.com/mcdev12/coopsweeper/go/internal/models"
)

func newTestGateway(t *testing.T, cfg ConnectionConfig) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	cm := NewConnectionManager(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)

	mux := http.NewServeMux()
	NewWebSocketHandler(cm).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return cm, srv
}

func dial(t *testing.T, srv *httptest.Server, gameID, playerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/games?game_id=" + gameID + "&player_id=" + playerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, cm *ConnectionManager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for cm.GetConnectionStats().TotalConnections != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %+v", want, cm.GetConnectionStats())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func snapshotEvent(gameID string, version int64) *events.GameEvent {
	b := models.NewBoard(2, 2)
	b.At(0, 0).IsMine = true
	snap := models.Snapshot{
		Board:        b,
		Status:       models.GameStatusPlaying,
		PlayerScores: models.PlayerScores{"player_a": 1},
		Version:      version,
	}
	ev := events.NewSnapshotEvent(gameID, snap, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return &ev
}

func TestBroadcastReachesOnlyGameSubscribers(t *testing.T) {
	cm, srv := newTestGateway(t, DefaultConnectionConfig())
	gameA, gameB := uuid.New().String(), uuid.New().String()

	a1 := dial(t, srv, gameA, "player_a")
	a2 := dial(t, srv, gameA, "player_b")
	b1 := dial(t, srv, gameB, "player_c")
	waitForConnections(t, cm, 3)

	want := snapshotEvent(gameA, 7)
	cm.BroadcastToGame(gameA, want)

	for _, conn := range []*websocket.Conn{a1, a2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got events.GameEvent
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.ID != want.ID || got.Version != 7 || got.GameID != gameA {
			t.Fatalf("unexpected event %+v", got)
		}
		if diff := cmp.Diff(want.Data.Board.String(), got.Data.Board.String()); diff != "" {
			t.Fatalf("board mismatch (-want +got):\n%s", diff)
		}
		if got.Data.PlayerScores["player_a"] != 1 {
			t.Fatalf("unexpected scores %v", got.Data.PlayerScores)
		}
	}

	b1.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := b1.ReadMessage(); err == nil {
		t.Fatal("subscriber of another game received the event")
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	cm, srv := newTestGateway(t, DefaultConnectionConfig())
	gameID := uuid.New().String()

	conn := dial(t, srv, gameID, "player_a")
	waitForConnections(t, cm, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitForConnections(t, cm, 0)

	if stats := cm.GetConnectionStats(); stats.ActiveGames != 0 {
		t.Fatalf("expected empty pools, got %+v", stats)
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.SendBufferSize = 1
	cm := NewConnectionManager(cfg)
	gameID := uuid.New().String()

	// Register a connection without pumps so nothing drains Send.
	var (
		mu      sync.Mutex
		stalled *Connection
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := cm.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &Connection{ID: "stalled", GameID: gameID, Conn: ws, Send: make(chan []byte, 1), Manager: cm}
		cm.registerConnection(c)
		mu.Lock()
		stalled = c
		mu.Unlock()
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	waitForConnections(t, cm, 1)

	cm.handleBroadcast(BroadcastMessage{GameID: gameID, Event: snapshotEvent(gameID, 1)})
	if got := cm.GetConnectionStats().TotalConnections; got != 1 {
		t.Fatalf("first broadcast should fit the buffer, connections=%d", got)
	}
	cm.handleBroadcast(BroadcastMessage{GameID: gameID, Event: snapshotEvent(gameID, 2)})
	if got := cm.GetConnectionStats().TotalConnections; got != 0 {
		t.Fatalf("expected slow connection dropped, connections=%d", got)
	}

	mu.Lock()
	c := stalled
	mu.Unlock()
	<-c.Send // buffered version 1
	if _, ok := <-c.Send; ok {
		t.Fatal("expected send channel closed")
	}
}

func TestRejectsBadGameID(t *testing.T) {
	_, srv := newTestGateway(t, DefaultConnectionConfig())

	for _, query := range []string{"", "?game_id=not-a-uuid"} {
		resp, err := http.Get(srv.URL + "/ws/games" + query)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestConnectionStatsEndpoint(t *testing.T) {
	cm, srv := newTestGateway(t, DefaultConnectionConfig())
	gameID := uuid.New().String()
	dial(t, srv, gameID, "player_a")
	waitForConnections(t, cm, 1)

	resp, err := http.Get(srv.URL + "/ws/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var stats ConnectionStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := ConnectionStats{TotalConnections: 1, ActiveGames: 1, GameConnections: map[string]int{gameID: 1}}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte
}

func (m fakeMsg) Subject() string { return m.subject }
func (m fakeMsg) Data() []byte    { return m.data }

type recordingBroadcaster struct {
	gameIDs []string
	events  []*events.GameEvent
}

func (r *recordingBroadcaster) BroadcastToGame(gameID string, event *events.GameEvent) {
	r.gameIDs = append(r.gameIDs, gameID)
	r.events = append(r.events, event)
}

func TestProcessMessage(t *testing.T) {
	rec := &recordingBroadcaster{}
	ec := &EventConsumer{broadcaster: rec}

	data, err := json.Marshal(snapshotEvent("g1", 3))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ec.processMessage(fakeMsg{subject: events.Subject("g1"), data: data}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if diff := cmp.Diff([]string{"g1"}, rec.gameIDs); diff != "" {
		t.Fatalf("broadcast targets (-want +got):\n%s", diff)
	}
	if rec.events[0].Version != 3 || rec.events[0].Data.Board.Rows() != 2 {
		t.Fatalf("unexpected event %+v", rec.events[0])
	}

	for name, payload := range map[string]string{
		"garbage":    "{",
		"no game id": `{"id":"x","type":"snapshot","version":1}`,
	} {
		if err := ec.processMessage(fakeMsg{subject: "games.snapshots.x", data: []byte(payload)}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if len(rec.events) != 1 {
		t.Fatalf("bad messages must not broadcast, got %d", len(rec.events))
	}
}
