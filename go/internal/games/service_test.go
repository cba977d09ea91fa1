package games

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mcdev12/coopsweeper/go/internal/engine"
	"github.com/mcdev12/coopsweeper/go/internal/models"
)

func newTestMux() (*http.ServeMux, *fakeRepo) {
	repo := newFakeRepo()
	mux := http.NewServeMux()
	NewService(newTestApp(repo)).RegisterRoutes(mux)
	return mux, repo
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func createGame(t *testing.T, mux http.Handler) models.Game {
	t.Helper()
	w := do(mux, "POST", "/api/games", `{"difficulty":"easy"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create game: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var game models.Game
	if err := json.NewDecoder(w.Body).Decode(&game); err != nil {
		t.Fatalf("decode game: %v", err)
	}
	return game
}

func TestListDifficulties(t *testing.T) {
	mux, _ := newTestMux()

	w := do(mux, "GET", "/api/difficulties", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []models.Difficulty
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(models.DefaultDifficulties, got); diff != "" {
		t.Fatalf("presets mismatch (-want +got):\n%s", diff)
	}
}

func TestFullGameFlow(t *testing.T) {
	mux, _ := newTestMux()
	game := createGame(t, mux)

	if game.ID == "" {
		t.Fatal("game ID is empty")
	}
	if game.Snapshot.Board == nil || game.Snapshot.Board.Rows() != 8 {
		t.Fatal("expected an 8x8 board in the create response")
	}

	// Join.
	w := do(mux, "POST", "/api/games/"+game.ID+"/join", "")
	if w.Code != http.StatusOK {
		t.Fatalf("join: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var joined JoinGameResponse
	json.NewDecoder(w.Body).Decode(&joined)
	if joined.GameID != game.ID || joined.GameStatus != models.GameStatusPlaying {
		t.Fatalf("unexpected join response %+v", joined)
	}

	// Load.
	w = do(mux, "GET", "/api/games/"+game.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var snap models.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("expected version 1, got %d", snap.Version)
	}

	// Reveal locally and push with a version check.
	next, _ := engine.RevealSnapshot(snap, 0, 0, "player_abc1234")
	body, _ := json.Marshal(SaveSnapshotRequest{Snapshot: next, CheckVersion: true})
	w = do(mux, "PUT", "/api/games/"+game.ID+"/snapshot", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var saved SaveSnapshotResponse
	json.NewDecoder(w.Body).Decode(&saved)
	if saved.Version != 2 {
		t.Fatalf("expected version 2, got %d", saved.Version)
	}

	// Same base again is stale.
	w = do(mux, "PUT", "/api/games/"+game.ID+"/snapshot", string(body))
	if w.Code != http.StatusConflict {
		t.Fatalf("stale save: expected 409, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), models.ErrVersionConflict.Error()) {
		t.Fatalf("expected version conflict message, got %s", w.Body.String())
	}
}

func TestGameErrors(t *testing.T) {
	mux, repo := newTestMux()
	game := createGame(t, mux)

	over := game.Snapshot.Clone()
	over.Status = models.GameStatusGameOver
	if _, err := repo.SaveSnapshot(context.Background(), game.ID, over, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	wrongShape, _ := json.Marshal(SaveSnapshotRequest{Snapshot: models.Snapshot{
		Board:  models.NewBoard(2, 2),
		Status: models.GameStatusPlaying,
	}})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown game", "GET", "/api/games/nope", "", http.StatusNotFound},
		{"join unknown", "POST", "/api/games/nope/join", "", http.StatusNotFound},
		{"join game over", "POST", "/api/games/" + game.ID + "/join", "", http.StatusConflict},
		{"bad create body", "POST", "/api/games", "{", http.StatusBadRequest},
		{"unknown difficulty", "POST", "/api/games", `{"difficulty":"extreme"}`, http.StatusBadRequest},
		{"no preset match", "POST", "/api/games", `{"rows":4,"cols":4,"mines":2}`, http.StatusBadRequest},
		{"bad snapshot body", "PUT", "/api/games/" + game.ID + "/snapshot", "[]", http.StatusBadRequest},
		{"wrong shape", "PUT", "/api/games/" + game.ID + "/snapshot", string(wrongShape), http.StatusBadRequest},
		{"save unknown", "PUT", "/api/games/nope/snapshot", string(wrongShape), http.StatusNotFound},
		{"ragged board", "PUT", "/api/games/" + game.ID + "/snapshot", `{"snapshot":{"board":[[{}],[]]}}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(mux, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var body map[string]string
			if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&body); err != nil || body["error"] == "" {
				t.Fatalf("expected json error body, got %s", w.Body.String())
			}
		})
	}
}
