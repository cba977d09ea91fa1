package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsweeper/go/internal/games"
	"github.com/mcdev12/coopsweeper/go/internal/games/events"
	"github.com/mcdev12/coopsweeper/go/internal/models"
	"github.com/mcdev12/coopsweeper/go/internal/session"
)

// Client is a session.Channel backed by the games API and the websocket gateway.
type Client struct {
	api            *BaseClient
	gatewayURL     string
	playerID       models.PlayerID
	dialer         *websocket.Dialer
	clock          clockwork.Clock
	reconnectDelay time.Duration
}

var _ session.Channel = (*Client)(nil)

type Option func(*Client)

// WithGatewayURL sets the websocket gateway base URL. It defaults to the API
// URL with the scheme switched to ws/wss.
func WithGatewayURL(u string) Option {
	return func(c *Client) { c.gatewayURL = strings.TrimRight(u, "/") }
}

// WithPlayerID tags websocket subscriptions with the local player.
func WithPlayerID(id models.PlayerID) Option {
	return func(c *Client) { c.playerID = id }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

func NewClient(apiURL string, opts ...Option) *Client {
	c := &Client{
		api:            NewBaseClient(apiURL),
		dialer:         websocket.DefaultDialer,
		clock:          clockwork.NewRealClock(),
		reconnectDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gatewayURL == "" {
		c.gatewayURL = toWebSocketURL(c.api.baseURL)
	}
	return c
}

func toWebSocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}

func gamePath(gameID string, suffix string) string {
	return "/api/games/" + url.PathEscape(gameID) + suffix
}

// Difficulties lists the server's presets.
func (c *Client) Difficulties(ctx context.Context) ([]models.Difficulty, error) {
	var out []models.Difficulty
	if err := c.api.Get(ctx, "/api/difficulties", &out); err != nil {
		return nil, fmt.Errorf("failed to list difficulties: %w", err)
	}
	return out, nil
}

// Create starts a game whose dimensions must match a server preset.
func (c *Client) Create(ctx context.Context, rows, cols, mines int) (string, error) {
	game, err := c.createGame(ctx, games.CreateGameRequest{Rows: rows, Cols: cols, Mines: mines})
	if err != nil {
		return "", err
	}
	return game.ID, nil
}

// CreateDifficulty starts a game from a named preset.
func (c *Client) CreateDifficulty(ctx context.Context, name string) (*models.Game, error) {
	return c.createGame(ctx, games.CreateGameRequest{Difficulty: name})
}

func (c *Client) createGame(ctx context.Context, req games.CreateGameRequest) (*models.Game, error) {
	var game models.Game
	if err := c.api.Post(ctx, "/api/games", req, &game); err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	return &game, nil
}

// Join checks that a game exists and has not ended on a mine.
func (c *Client) Join(ctx context.Context, gameID string) (*games.JoinGameResponse, error) {
	var resp games.JoinGameResponse
	if err := c.api.Post(ctx, gamePath(gameID, "/join"), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to join game: %w", err)
	}
	return &resp, nil
}

func (c *Client) Load(ctx context.Context, gameID string) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := c.api.Get(ctx, gamePath(gameID, ""), &snap); err != nil {
		return nil, fmt.Errorf("failed to load game: %w", err)
	}
	return &snap, nil
}

func (c *Client) Save(ctx context.Context, gameID string, snap models.Snapshot, opts session.SaveOptions) (int64, error) {
	var resp games.SaveSnapshotResponse
	req := games.SaveSnapshotRequest{Snapshot: snap, CheckVersion: opts.CheckVersion}
	if err := c.api.Put(ctx, gamePath(gameID, "/snapshot"), req, &resp); err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}
	return resp.Version, nil
}

// Subscribe streams snapshots of gameID from the gateway. The connection is
// re-established after drops; each reconnect reloads the game so updates
// missed while disconnected still arrive. Snapshots older than the last one
// delivered are skipped.
func (c *Client) Subscribe(ctx context.Context, gameID string, fn func(models.Snapshot)) (session.Subscription, error) {
	conn, err := c.dial(ctx, gameID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		client: c,
		gameID: gameID,
		fn:     fn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.setConn(conn)
	go sub.run(subCtx)
	return sub, nil
}

func (c *Client) dial(ctx context.Context, gameID string) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("game_id", gameID)
	if c.playerID != "" {
		q.Set("player_id", string(c.playerID))
	}
	conn, _, err := c.dialer.DialContext(ctx, c.gatewayURL+"/ws/games?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}
	return conn, nil
}

type subscription struct {
	client *Client
	gameID string
	fn     func(models.Snapshot)
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	conn        *websocket.Conn
	lastVersion int64
}

func (s *subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *subscription) Cancel() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *subscription) deliver(snap models.Snapshot) {
	s.mu.Lock()
	if snap.Version != 0 && snap.Version < s.lastVersion {
		s.mu.Unlock()
		return
	}
	s.lastVersion = snap.Version
	s.mu.Unlock()
	s.fn(snap)
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.readLoop(conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("game_id", s.gameID).Msg("gateway connection lost, reconnecting")

		if !s.reconnect(ctx) {
			return
		}
	}
}

func (s *subscription) readLoop(conn *websocket.Conn) error {
	for {
		var event events.GameEvent
		if err := conn.ReadJSON(&event); err != nil {
			return err
		}
		if event.GameID != s.gameID || event.Data.Board == nil {
			continue
		}
		s.deliver(event.Data)
	}
}

// reconnect dials until it succeeds or ctx is done, then catches up with a load.
func (s *subscription) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.client.clock.After(s.client.reconnectDelay):
		}

		conn, err := s.client.dial(ctx, s.gameID)
		if err != nil {
			log.Debug().Err(err).Str("game_id", s.gameID).Msg("reconnect failed")
			continue
		}
		s.setConn(conn)
		if ctx.Err() != nil {
			conn.Close()
			return false
		}

		snap, err := s.client.Load(ctx, s.gameID)
		switch {
		case err == nil:
			s.deliver(*snap)
		case errors.Is(err, context.Canceled):
			return false
		default:
			log.Warn().Err(err).Str("game_id", s.gameID).Msg("failed to reload after reconnect")
		}
		log.Info().Str("game_id", s.gameID).Msg("gateway connection restored")
		return true
	}
}
