package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsweeper/go/internal/engine"
	"github.com/mcdev12/coopsweeper/go/internal/models"
)

// State is the controller's lifecycle state.
type State string

const (
	StateLoading  State = "loading"
	StatePlaying  State = "playing"
	StateGameOver State = "game_over"
	StateWin      State = "win"
)

func stateFor(status models.GameStatus) State {
	switch status {
	case models.GameStatusGameOver:
		return StateGameOver
	case models.GameStatusWin:
		return StateWin
	default:
		return StatePlaying
	}
}

// ConflictPolicy decides what a push does when another player wrote first.
type ConflictPolicy int

const (
	// LastWriteWins overwrites the stored snapshot unconditionally.
	LastWriteWins ConflictPolicy = iota
	// Rebase saves against the base version and replays the reveal on conflict.
	Rebase
)

const (
	defaultLoadTimeout = 10 * time.Second
	defaultMaxRetries  = 3
)

var ErrLoadTimeout = errors.New("timed out loading game")

// View is what a UI renders.
type View struct {
	GameID   string
	PlayerID models.PlayerID
	State    State
	Snapshot *models.Snapshot
	Err      error
}

// Clock is the subset of clockwork.Clock the controller uses.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Controller owns one game's local state for one player.
type Controller struct {
	gameID      string
	playerID    models.PlayerID
	channel     Channel
	clock       Clock
	loadTimeout time.Duration
	policy      ConflictPolicy
	maxRetries  int

	mu         sync.Mutex
	state      State
	snap       *models.Snapshot
	err        error
	remoteSeen bool
	sub        Subscription
	listeners  []func(View)
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

func WithClock(clock Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

func WithLoadTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.loadTimeout = d }
}

func WithConflictPolicy(p ConflictPolicy) ControllerOption {
	return func(c *Controller) { c.policy = p }
}

// WithMaxRetries bounds save attempts after a version conflict under Rebase.
func WithMaxRetries(n int) ControllerOption {
	return func(c *Controller) { c.maxRetries = n }
}

func NewController(gameID string, playerID models.PlayerID, ch Channel, opts ...ControllerOption) *Controller {
	c := &Controller{
		gameID:      gameID,
		playerID:    playerID,
		channel:     ch,
		clock:       clockwork.NewRealClock(),
		loadTimeout: defaultLoadTimeout,
		policy:      LastWriteWins,
		maxRetries:  defaultMaxRetries,
		state:       StateLoading,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to remote snapshots and then loads the current one. ctx
// bounds only the subscribe and load calls; the subscription lasts until
// Close. On error or timeout the subscription is cancelled and the controller
// stays in StateLoading, where reveals are no-ops.
func (c *Controller) Start(ctx context.Context) error {
	sub, err := c.channel.Subscribe(ctx, c.gameID, c.applyRemote)
	if err != nil {
		c.fail(fmt.Errorf("failed to subscribe to game %s: %w", c.gameID, err))
		return c.Err()
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	snap, err := c.load(ctx)
	if err != nil {
		c.Close()
		c.fail(err)
		return err
	}

	c.mu.Lock()
	if c.remoteSeen {
		// A remote write landed during the load and is newer than what we read.
		c.mu.Unlock()
		log.Debug().Str("game_id", c.gameID).Msg("discarding loaded snapshot, remote update already applied")
		return nil
	}
	c.snap = snap
	c.state = stateFor(snap.Status)
	c.err = nil
	c.mu.Unlock()

	log.Info().
		Str("game_id", c.gameID).
		Str("player_id", string(c.playerID)).
		Int64("version", snap.Version).
		Msg("game loaded")
	c.notify()
	return nil
}

func (c *Controller) load(ctx context.Context) (*models.Snapshot, error) {
	loadCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timer := c.clock.NewTimer(c.loadTimeout)
	defer timer.Stop()
	go func() {
		select {
		case <-timer.Chan():
			cancel(ErrLoadTimeout)
		case <-loadCtx.Done():
		}
	}()

	snap, err := c.channel.Load(loadCtx, c.gameID)
	if err != nil {
		if cause := context.Cause(loadCtx); errors.Is(cause, ErrLoadTimeout) {
			return nil, fmt.Errorf("failed to load game %s: %w", c.gameID, ErrLoadTimeout)
		}
		return nil, fmt.Errorf("failed to load game %s: %w", c.gameID, err)
	}
	if snap == nil || snap.Board == nil {
		return nil, fmt.Errorf("failed to load game %s: %w", c.gameID, models.ErrGameNotFound)
	}
	return snap, nil
}

// applyRemote replaces local state with a snapshot from the channel.
func (c *Controller) applyRemote(snap models.Snapshot) {
	if snap.Board == nil {
		return
	}
	c.mu.Lock()
	cp := snap.Clone()
	c.snap = &cp
	c.state = stateFor(snap.Status)
	c.remoteSeen = true
	c.mu.Unlock()

	log.Debug().
		Str("game_id", c.gameID).
		Int64("version", snap.Version).
		Str("status", string(snap.Status)).
		Msg("applied remote snapshot")
	c.notify()
}

// Reveal runs a local reveal and pushes the result. It reports whether the
// reveal is reflected in local state when it returns. Before a snapshot is
// loaded it returns false with no error, like any other rejected reveal. A
// failed push keeps the optimistic local state and returns the error.
func (c *Controller) Reveal(ctx context.Context, row, col int) (bool, error) {
	c.mu.Lock()
	if c.state == StateLoading || c.snap == nil {
		c.mu.Unlock()
		return false, nil
	}
	next, ok := engine.RevealSnapshot(*c.snap, row, col, c.playerID)
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	pushed := &next
	c.snap = pushed
	c.state = stateFor(next.Status)
	c.mu.Unlock()
	c.notify()

	if c.policy == Rebase {
		return c.pushRebase(ctx, pushed, row, col)
	}
	return true, c.push(ctx, pushed, SaveOptions{})
}

func (c *Controller) push(ctx context.Context, pushed *models.Snapshot, opts SaveOptions) error {
	version, err := c.channel.Save(ctx, c.gameID, pushed.Clone(), opts)
	if err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			return err
		}
		err = fmt.Errorf("failed to save snapshot for game %s: %w", c.gameID, err)
		log.Error().Err(err).Str("game_id", c.gameID).Msg("snapshot push failed")
		c.fail(err)
		return err
	}

	c.mu.Lock()
	if c.snap == pushed {
		c.snap.Version = version
	}
	c.err = nil
	c.mu.Unlock()
	return nil
}

func (c *Controller) pushRebase(ctx context.Context, pushed *models.Snapshot, row, col int) (bool, error) {
	for attempt := 0; ; attempt++ {
		err := c.push(ctx, pushed, SaveOptions{CheckVersion: true})
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return true, err
		}
		if attempt >= c.maxRetries {
			err = fmt.Errorf("failed to save snapshot for game %s after %d attempts: %w", c.gameID, attempt+1, err)
			c.fail(err)
			return true, err
		}

		latest, err := c.channel.Load(ctx, c.gameID)
		if err != nil {
			err = fmt.Errorf("failed to reload game %s: %w", c.gameID, err)
			c.fail(err)
			return true, err
		}

		replayed, ok := engine.RevealSnapshot(*latest, row, col, c.playerID)
		c.mu.Lock()
		if !ok {
			// The other player got there first; take their state.
			c.snap = latest
			c.state = stateFor(latest.Status)
			c.mu.Unlock()
			log.Info().
				Str("game_id", c.gameID).
				Int("row", row).
				Int("col", col).
				Msg("reveal superseded by remote write")
			c.notify()
			return false, nil
		}
		pushed = &replayed
		c.snap = pushed
		c.state = stateFor(replayed.Status)
		c.mu.Unlock()
		c.notify()

		log.Debug().
			Str("game_id", c.gameID).
			Int64("base_version", replayed.Version).
			Int("attempt", attempt+1).
			Msg("replaying reveal after version conflict")
	}
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.notify()
}

// OnChange registers fn to run after every state change.
func (c *Controller) OnChange(fn func(View)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller) notify() {
	view := c.View()
	c.mu.Lock()
	listeners := append([]func(View){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(view)
	}
}

// View returns a copy of the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		GameID:   c.gameID,
		PlayerID: c.playerID,
		State:    c.state,
		Err:      c.err,
	}
	if c.snap != nil {
		cp := c.snap.Clone()
		v.Snapshot = &cp
	}
	return v
}

// Snapshot returns a copy of the local snapshot, or nil while loading.
func (c *Controller) Snapshot() *models.Snapshot {
	return c.View().Snapshot
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the last load or push error, cleared by the next successful one.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) PlayerID() models.PlayerID { return c.playerID }

func (c *Controller) GameID() string { return c.gameID }

// Close cancels the subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}
