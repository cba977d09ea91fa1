package games

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsweeper/go/internal/models"
)

const maxSnapshotBody = 1 << 20

// GamesApp defines what the service layer needs from the app layer
type GamesApp interface {
	Presets() []models.Difficulty
	CreateGame(ctx context.Context, req CreateGameRequest) (*models.Game, error)
	GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error)
	JoinGame(ctx context.Context, id string) (*JoinGameResponse, error)
	SaveSnapshot(ctx context.Context, id string, req SaveSnapshotRequest) (int64, error)
}

// Service exposes the game store over JSON HTTP.
type Service struct {
	app GamesApp
}

// NewService creates a new games Service
func NewService(app GamesApp) *Service {
	return &Service{app: app}
}

// RegisterRoutes mounts the game API on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/difficulties", s.handleListDifficulties)
	mux.HandleFunc("POST /api/games", s.handleCreateGame)
	mux.HandleFunc("GET /api/games/{id}", s.handleGetGame)
	mux.HandleFunc("POST /api/games/{id}/join", s.handleJoinGame)
	mux.HandleFunc("PUT /api/games/{id}/snapshot", s.handleSaveSnapshot)
}

// GET /api/difficulties
func (s *Service) handleListDifficulties(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Presets())
}

// POST /api/games
func (s *Service) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	game, err := s.app.CreateGame(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

// GET /api/games/{id}
func (s *Service) handleGetGame(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.GetSnapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// POST /api/games/{id}/join
func (s *Service) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	resp, err := s.app.JoinGame(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PUT /api/games/{id}/snapshot
func (s *Service) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SaveSnapshotRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnapshotBody)).Decode(&req); err != nil {
		jsonError(w, "invalid snapshot body", http.StatusBadRequest)
		return
	}

	version, err := s.app.SaveSnapshot(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SaveSnapshotResponse{Version: version})
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrGameNotFound):
		jsonError(w, models.ErrGameNotFound.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrGameOver):
		jsonError(w, models.ErrGameOver.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrVersionConflict):
		jsonError(w, models.ErrVersionConflict.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrUnknownDifficulty),
		errors.Is(err, models.ErrInvalidConfiguration),
		errors.Is(err, ErrInvalidSnapshot):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("request failed")
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
