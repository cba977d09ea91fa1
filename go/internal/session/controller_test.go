package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/coopsweeper/go/internal/models"
)

const (
	alice models.PlayerID = "player_alice01"
	bob   models.PlayerID = "player_bob0002"
)

// centerMine is a 3x3 board where every safe cell has count 1, so reveals never flood.
func centerMine() models.Snapshot {
	return playingSnapshot(testBoard(3, 3, models.Pos{Row: 1, Col: 1}))
}

// quietChannel drops subscriptions so tests control exactly what each controller sees.
type quietChannel struct {
	*MemoryChannel
}

type noopSubscription struct{}

func (noopSubscription) Cancel() {}

func (q quietChannel) Subscribe(ctx context.Context, gameID string, fn func(models.Snapshot)) (Subscription, error) {
	return noopSubscription{}, nil
}

// failingSaveChannel fails every Save with err.
type failingSaveChannel struct {
	*MemoryChannel
	err error
}

func (f failingSaveChannel) Save(ctx context.Context, gameID string, snap models.Snapshot, opts SaveOptions) (int64, error) {
	return 0, f.err
}

// blockingLoadChannel runs onLoad before Load returns, then serves stale if set.
type blockingLoadChannel struct {
	*MemoryChannel
	onLoad func(ctx context.Context) error
	stale  *models.Snapshot
}

func (b blockingLoadChannel) Load(ctx context.Context, gameID string) (*models.Snapshot, error) {
	if err := b.onLoad(ctx); err != nil {
		return nil, err
	}
	if b.stale != nil {
		return b.stale, nil
	}
	return b.MemoryChannel.Load(ctx, gameID)
}

func startController(t *testing.T, ch Channel, player models.PlayerID, opts ...ControllerOption) *Controller {
	t.Helper()
	c := NewController("g1", player, ch, opts...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", player, err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestControllerStartLoadsSnapshot(t *testing.T) {
	tests := []struct {
		name   string
		status models.GameStatus
		want   State
	}{
		{name: "playing", status: models.GameStatusPlaying, want: StatePlaying},
		{name: "game over", status: models.GameStatusGameOver, want: StateGameOver},
		{name: "win", status: models.GameStatusWin, want: StateWin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := centerMine()
			snap.Status = tt.status
			ch := NewMemoryChannel()
			ch.Put("g1", snap)

			var mu sync.Mutex
			var views []View
			c := NewController("g1", alice, ch)
			c.OnChange(func(v View) {
				mu.Lock()
				views = append(views, v)
				mu.Unlock()
			})

			if c.State() != StateLoading {
				t.Fatalf("expected loading before start, got %s", c.State())
			}
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("start: %v", err)
			}
			defer c.Close()

			if c.State() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, c.State())
			}
			got := c.Snapshot()
			if got == nil || got.Version != 1 || got.Status != tt.status {
				t.Fatalf("unexpected snapshot: %+v", got)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(views) == 0 || views[len(views)-1].State != tt.want {
				t.Fatalf("expected OnChange with %s state", tt.want)
			}
		})
	}
}

func TestControllerOutlivesStartContext(t *testing.T) {
	ch := NewMemoryChannel()
	ch.Put("g1", centerMine())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	a := NewController("g1", alice, ch)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()
	cancel()

	b := startController(t, ch, bob)
	if ok, err := b.Reveal(context.Background(), 0, 0); !ok || err != nil {
		t.Fatalf("reveal: ok=%v err=%v", ok, err)
	}

	waitFor(t, func() bool {
		s := a.Snapshot()
		return s != nil && s.Board.At(0, 0).IsRevealed
	})
	if got := a.Snapshot().PlayerScores[bob]; got != 1 {
		t.Fatalf("expected alice to see bob score 1, got %d", got)
	}
}

func TestControllerStartUnknownGameFailsClosed(t *testing.T) {
	c := NewController("missing", alice, NewMemoryChannel())
	defer c.Close()

	err := c.Start(context.Background())
	if !errors.Is(err, models.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
	if c.State() != StateLoading {
		t.Fatalf("expected loading, got %s", c.State())
	}
	if !errors.Is(c.Err(), models.ErrGameNotFound) {
		t.Fatalf("expected Err to carry ErrGameNotFound, got %v", c.Err())
	}
	if ok, err := c.Reveal(context.Background(), 0, 0); ok || err != nil {
		t.Fatalf("expected a silent no-op before load, got ok=%v err=%v", ok, err)
	}
}

func TestControllerFailedLoadCancelsSubscription(t *testing.T) {
	ch := NewMemoryChannel()
	c := NewController("missing", alice, ch)
	defer c.Close()

	if err := c.Start(context.Background()); !errors.Is(err, models.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
	waitFor(t, func() bool { return ch.SubscriberCount("missing") == 0 })
}

func TestControllerLoadTimeout(t *testing.T) {
	mem := NewMemoryChannel()
	mem.Put("g1", centerMine())
	ch := blockingLoadChannel{
		MemoryChannel: mem,
		onLoad: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	clock := clockwork.NewFakeClock()
	c := NewController("g1", alice, ch, WithClock(clock), WithLoadTimeout(5*time.Second))
	defer c.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("timer never armed: %v", err)
	}
	clock.Advance(5 * time.Second)

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrLoadTimeout) {
			t.Fatalf("expected ErrLoadTimeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return after timeout")
	}
	if c.State() != StateLoading {
		t.Fatalf("expected loading, got %s", c.State())
	}
}

func TestControllerRemoteDuringLoadWins(t *testing.T) {
	mem := NewMemoryChannel()
	mem.Put("g1", centerMine())

	var c *Controller
	stale := centerMine()
	ch := blockingLoadChannel{MemoryChannel: mem, stale: &stale}
	ch.onLoad = func(ctx context.Context) error {
		// Another player writes while our load is in flight.
		remote := centerMine()
		remote.Status = models.GameStatusGameOver
		if _, err := mem.Save(ctx, "g1", remote, SaveOptions{}); err != nil {
			return err
		}
		waitFor(t, func() bool { return c.State() != StateLoading })
		return nil
	}
	c = NewController("g1", alice, ch)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != StateGameOver {
		t.Fatalf("expected remote game_over to stick, got %s", c.State())
	}
	if v := c.Snapshot().Version; v != 2 {
		t.Fatalf("expected remote version 2, got %d", v)
	}
}

func TestControllersConverge(t *testing.T) {
	ch := NewMemoryChannel()
	ch.Put("g1", centerMine())

	a := startController(t, ch, alice)
	b := startController(t, ch, bob)

	ok, err := a.Reveal(context.Background(), 0, 0)
	if !ok || err != nil {
		t.Fatalf("reveal: ok=%v err=%v", ok, err)
	}

	waitFor(t, func() bool {
		s := b.Snapshot()
		return s != nil && s.Board.At(0, 0).IsRevealed
	})
	if got := b.Snapshot().PlayerScores[alice]; got != 1 {
		t.Fatalf("expected bob to see alice score 1, got %d", got)
	}

	// Bob hits the mine; both end up game over.
	if ok, err := b.Reveal(context.Background(), 1, 1); !ok || err != nil {
		t.Fatalf("reveal mine: ok=%v err=%v", ok, err)
	}
	waitFor(t, func() bool { return a.State() == StateGameOver })

	if ok, _ := a.Reveal(context.Background(), 2, 2); ok {
		t.Fatal("reveal accepted after game over")
	}
}

func TestControllerPushFailureKeepsLocalState(t *testing.T) {
	mem := NewMemoryChannel()
	mem.Put("g1", centerMine())
	boom := errors.New("connection reset")
	c := startController(t, failingSaveChannel{MemoryChannel: mem, err: boom}, alice)

	ok, err := c.Reveal(context.Background(), 0, 2)
	if !ok {
		t.Fatal("expected optimistic commit")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected push error, got %v", err)
	}
	if !errors.Is(c.Err(), boom) {
		t.Fatalf("expected Err to surface push error, got %v", c.Err())
	}
	if !c.Snapshot().Board.At(0, 2).IsRevealed {
		t.Fatal("local state rolled back after push failure")
	}

	stored, _ := mem.Load(context.Background(), "g1")
	if stored.Board.At(0, 2).IsRevealed {
		t.Fatal("failed push reached the store")
	}
}

func TestControllerRejectedRevealDoesNotPush(t *testing.T) {
	mem := NewMemoryChannel()
	mem.Put("g1", centerMine())
	c := startController(t, mem, alice)

	if ok, err := c.Reveal(context.Background(), 0, 0); !ok || err != nil {
		t.Fatalf("reveal: ok=%v err=%v", ok, err)
	}
	ok, err := c.Reveal(context.Background(), 0, 0)
	if ok || err != nil {
		t.Fatalf("expected silent rejection, got ok=%v err=%v", ok, err)
	}
	stored, _ := mem.Load(context.Background(), "g1")
	if stored.Version != 2 {
		t.Fatalf("expected one write, store at version %d", stored.Version)
	}
}

func TestLastWriteWinsDropsConcurrentReveal(t *testing.T) {
	mem := NewMemoryChannel()
	mem.Put("g1", centerMine())
	ch := quietChannel{mem}

	a := startController(t, ch, alice)
	b := startController(t, ch, bob)

	if _, err := a.Reveal(context.Background(), 0, 0); err != nil {
		t.Fatalf("alice reveal: %v", err)
	}
	if _, err := b.Reveal(context.Background(), 0, 2); err != nil {
		t.Fatalf("bob reveal: %v", err)
	}

	stored, _ := mem.Load(context.Background(), "g1")
	if stored.Board.At(0, 0).IsRevealed {
		t.Fatal("expected alice's reveal to be overwritten")
	}
	if _, ok := stored.PlayerScores[alice]; ok {
		t.Fatal("expected alice's score entry to be lost")
	}
}

func TestRebaseReplaysConcurrentReveal(t *testing.T) {
	mem := NewMemoryChannel()
	mem.Put("g1", centerMine())
	ch := quietChannel{mem}

	a := startController(t, ch, alice, WithConflictPolicy(Rebase))
	b := startController(t, ch, bob, WithConflictPolicy(Rebase))

	if ok, err := a.Reveal(context.Background(), 0, 0); !ok || err != nil {
		t.Fatalf("alice reveal: ok=%v err=%v", ok, err)
	}
	if ok, err := b.Reveal(context.Background(), 0, 2); !ok || err != nil {
		t.Fatalf("bob reveal: ok=%v err=%v", ok, err)
	}

	stored, _ := mem.Load(context.Background(), "g1")
	if !stored.Board.At(0, 0).IsRevealed || !stored.Board.At(0, 2).IsRevealed {
		t.Fatalf("expected both reveals stored:\n%s", stored.Board)
	}
	if stored.PlayerScores[alice] != 1 || stored.PlayerScores[bob] != 1 {
		t.Fatalf("expected both players at 1, got %v", stored.PlayerScores)
	}
	if stored.Version != 3 {
		t.Fatalf("expected version 3, got %d", stored.Version)
	}
	if got := b.Snapshot().Version; got != 3 {
		t.Fatalf("expected bob's local version 3, got %d", got)
	}
}

func TestRebaseAdoptsLatestWhenSuperseded(t *testing.T) {
	mem := NewMemoryChannel()
	mem.Put("g1", centerMine())
	ch := quietChannel{mem}

	a := startController(t, ch, alice, WithConflictPolicy(Rebase))
	b := startController(t, ch, bob, WithConflictPolicy(Rebase))

	if _, err := a.Reveal(context.Background(), 2, 2); err != nil {
		t.Fatalf("alice reveal: %v", err)
	}
	ok, err := b.Reveal(context.Background(), 2, 2)
	if ok || err != nil {
		t.Fatalf("expected superseded reveal, got ok=%v err=%v", ok, err)
	}

	snap := b.Snapshot()
	if by := snap.Board.At(2, 2).RevealedBy; by == nil || *by != alice {
		t.Fatalf("expected cell owned by alice, got %v", by)
	}
	if _, ok := snap.PlayerScores[bob]; ok {
		t.Fatal("expected bob to have no score entry")
	}
}

// conflictChannel reports a version conflict on every checked save.
type conflictChannel struct {
	*MemoryChannel
	mu    sync.Mutex
	saves int
}

func (c *conflictChannel) Subscribe(ctx context.Context, gameID string, fn func(models.Snapshot)) (Subscription, error) {
	return noopSubscription{}, nil
}

func (c *conflictChannel) Save(ctx context.Context, gameID string, snap models.Snapshot, opts SaveOptions) (int64, error) {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return 0, models.ErrVersionConflict
}

func TestRebaseGivesUpAfterMaxRetries(t *testing.T) {
	mem := NewMemoryChannel()
	mem.Put("g1", centerMine())
	ch := &conflictChannel{MemoryChannel: mem}

	c := startController(t, ch, alice, WithConflictPolicy(Rebase), WithMaxRetries(2))

	ok, err := c.Reveal(context.Background(), 0, 0)
	if !ok {
		t.Fatal("expected local commit")
	}
	if !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if ch.saves != 3 {
		t.Fatalf("expected 3 save attempts, got %d", ch.saves)
	}
	if !errors.Is(c.Err(), models.ErrVersionConflict) {
		t.Fatalf("expected Err to surface conflict, got %v", c.Err())
	}
}
