package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/coopsweeper/go/internal/engine"
	"github.com/mcdev12/coopsweeper/go/internal/models"
)

const subscriberBuffer = 16

// subscriber receives snapshots for one game on its own goroutine.
type subscriber struct {
	gameID string
	ch     chan models.Snapshot
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) Cancel() {
	s.once.Do(func() { close(s.done) })
}

// MemoryChannel is an in-process Channel. It keeps one snapshot per game and
// fans writes out to subscribers. A subscriber that falls behind loses its
// oldest pending snapshots, never the newest.
type MemoryChannel struct {
	mu          sync.RWMutex
	games       map[string]models.Snapshot
	subscribers map[*subscriber]struct{}
	clock       clockwork.Clock
	genOpts     []engine.Option
}

// MemoryOption configures a MemoryChannel.
type MemoryOption func(*MemoryChannel)

// WithMemoryClock sets the clock used for UpdatedAt.
func WithMemoryClock(clock clockwork.Clock) MemoryOption {
	return func(m *MemoryChannel) { m.clock = clock }
}

// WithGeneratorOptions passes options to engine.Generate on Create.
func WithGeneratorOptions(opts ...engine.Option) MemoryOption {
	return func(m *MemoryChannel) { m.genOpts = opts }
}

// NewMemoryChannel creates an empty channel.
func NewMemoryChannel(opts ...MemoryOption) *MemoryChannel {
	m := &MemoryChannel{
		games:       make(map[string]models.Snapshot),
		subscribers: make(map[*subscriber]struct{}),
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create generates a new board and stores it at version 1.
func (m *MemoryChannel) Create(ctx context.Context, rows, cols, mines int) (string, error) {
	d := models.Difficulty{Rows: rows, Cols: cols, Mines: mines}
	if err := d.Validate(); err != nil {
		return "", err
	}
	id := uuid.New().String()
	snap := models.Snapshot{
		Board:        engine.Generate(rows, cols, mines, m.genOpts...),
		Status:       models.GameStatusPlaying,
		PlayerScores: models.PlayerScores{},
		Version:      1,
		UpdatedAt:    m.clock.Now(),
	}
	m.mu.Lock()
	m.games[id] = snap
	m.mu.Unlock()
	return id, nil
}

// Put stores a snapshot under an explicit id, replacing any existing game.
// It does not notify subscribers.
func (m *MemoryChannel) Put(gameID string, snap models.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Version == 0 {
		snap.Version = 1
	}
	m.games[gameID] = snap.Clone()
}

func (m *MemoryChannel) Load(ctx context.Context, gameID string) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.games[gameID]
	if !ok {
		return nil, models.ErrGameNotFound
	}
	cp := snap.Clone()
	return &cp, nil
}

func (m *MemoryChannel) Save(ctx context.Context, gameID string, snap models.Snapshot, opts SaveOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.games[gameID]
	if !ok {
		return 0, models.ErrGameNotFound
	}
	if opts.CheckVersion && current.Version != snap.Version {
		return 0, models.ErrVersionConflict
	}

	stored := snap.Clone()
	stored.Version = current.Version + 1
	stored.UpdatedAt = m.clock.Now()
	m.games[gameID] = stored

	for s := range m.subscribers {
		if s.gameID == gameID {
			offer(s, stored.Clone())
		}
	}
	return stored.Version, nil
}

// offer delivers without blocking, evicting the oldest pending snapshot when full.
func offer(s *subscriber, snap models.Snapshot) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}

// Subscribe registers fn for every committed write to gameID. fn runs on a
// dedicated goroutine until the subscription is cancelled.
func (m *MemoryChannel) Subscribe(ctx context.Context, gameID string, fn func(models.Snapshot)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &subscriber{
		gameID: gameID,
		ch:     make(chan models.Snapshot, subscriberBuffer),
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.subscribers[s] = struct{}{}
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.subscribers, s)
			m.mu.Unlock()
		}()
		for {
			select {
			case <-s.done:
				return
			case snap := <-s.ch:
				fn(snap)
			}
		}
	}()
	return s, nil
}

// SubscriberCount returns the number of live subscribers for a game.
func (m *MemoryChannel) SubscriberCount(gameID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for s := range m.subscribers {
		if s.gameID == gameID {
			n++
		}
	}
	return n
}
