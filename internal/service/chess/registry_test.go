package chess

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	nchess "github.com/corentings/chess/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corechess "github.com/park285/Cheese-Chess-bot/internal/chess"
)

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, time.Hour), mr
}

func TestNewRegistryValidatesConfig(t *testing.T) {
	_, err := NewRegistry(nil, RegistryConfig{})
	require.Error(t, err)

	ff := &fakeFactory{}
	_, err = NewRegistry(ff.open, RegistryConfig{DefaultSkill: 21})
	require.ErrorIs(t, err, corechess.ErrInvalidSkill)
}

func TestWithUnknownConversation(t *testing.T) {
	r := newTestRegistry(t, &fakeFactory{})
	err := r.With(context.Background(), "nobody", func(context.Context, *Session) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNewGameReplacesPreviousSession(t *testing.T) {
	ff := &fakeFactory{}
	r := newTestRegistry(t, ff)
	ctx := context.Background()

	first := startGame(t, r, "c1")
	_, err := first.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)
	oldEngine := ff.last()

	second := startGame(t, r, "c1")
	assert.NotEqual(t, first.GameID(), second.GameID())
	assert.True(t, oldEngine.isClosed())
	assert.Equal(t, StateAwaitingColor, second.State())
	assert.Equal(t, 1, r.Len())

	err = r.With(ctx, "c1", func(_ context.Context, s *Session) error {
		assert.Same(t, second, s)
		return nil
	})
	require.NoError(t, err)
}

func TestNewGameReusesCapacityOfReplacedSession(t *testing.T) {
	ff := &fakeFactory{limit: 1}
	r := newTestRegistry(t, ff)

	startGame(t, r, "c1")
	startGame(t, r, "c1")
	assert.Len(t, ff.engines, 2)

	err := r.NewGame(context.Background(), "c2", nil)
	require.ErrorIs(t, err, corechess.ErrEngineCapacity)
	assert.Equal(t, 1, r.Len())
}

func TestConversationsAreIndependent(t *testing.T) {
	r := newTestRegistry(t, &fakeFactory{})
	ctx := context.Background()

	a := startGame(t, r, "a")
	b := startGame(t, r, "b")
	_, err := a.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)
	_, err = a.Move(ctx, "e2e4")
	require.NoError(t, err)

	assert.Equal(t, StateAwaitingColor, b.State())
	assert.Equal(t, 0, b.Position().Ply())
}

func TestConcurrentMovesAreSerialized(t *testing.T) {
	r := newTestRegistry(t, &fakeFactory{})
	ctx := context.Background()
	err := r.NewGame(ctx, "c1", func(ctx context.Context, s *Session) error {
		_, err := s.ChooseColor(ctx, ColorWhite)
		return err
	})
	require.NoError(t, err)

	const workers, rounds = 8, 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				err := r.With(ctx, "c1", func(ctx context.Context, s *Session) error {
					legal, err := s.LegalMoves()
					if err != nil {
						return err
					}
					_, err = s.Move(ctx, legal[0])
					return err
				})
				if errors.Is(err, ErrGameFinished) {
					return
				}
				assert.NoError(t, err)
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	err = r.With(ctx, "c1", func(_ context.Context, s *Session) error {
		moves := s.Position().Moves()
		_, err := corechess.Replay(moves)
		require.NoError(t, err)
		if s.State() != StateFinished {
			assert.Equal(t, 2*applied, len(moves))
		}
		return nil
	})
	require.NoError(t, err)
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	ff := &fakeFactory{}
	r, err := NewRegistry(ff.open, RegistryConfig{DefaultSkill: 20, IdleTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	startGame(t, r, "idle")
	engine := ff.last()

	assert.Equal(t, 0, r.Sweep(time.Now()))
	assert.Equal(t, 1, r.Sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, r.Len())
	assert.True(t, engine.isClosed())
}

func TestSnapshotRestoresAfterRestart(t *testing.T) {
	store, _ := newMiniredisStore(t)
	ff := &fakeFactory{}
	ctx := context.Background()

	r1 := newTestRegistry(t, ff, WithSnapshotStore(store))
	err := r1.NewGame(ctx, "room", func(ctx context.Context, s *Session) error {
		if _, err := s.ChooseColor(ctx, ColorWhite); err != nil {
			return err
		}
		if err := s.SetSkill(ctx, 7); err != nil {
			return err
		}
		_, err := s.Move(ctx, "e2e4")
		return err
	})
	require.NoError(t, err)
	var before []string
	require.NoError(t, r1.With(ctx, "room", func(_ context.Context, s *Session) error {
		before = s.Position().Moves()
		return nil
	}))
	require.NoError(t, r1.Close())

	r2 := newTestRegistry(t, ff, WithSnapshotStore(store))
	err = r2.With(ctx, "room", func(ctx context.Context, s *Session) error {
		assert.Equal(t, before, s.Position().Moves())
		assert.Equal(t, StateInProgress, s.State())
		assert.Equal(t, nchess.White, s.HumanColor())
		assert.Equal(t, 7, s.Skill())
		_, err := s.Move(ctx, "g1f3")
		return err
	})
	require.NoError(t, err)
}

func TestFinishedGameDropsSnapshot(t *testing.T) {
	store, _ := newMiniredisStore(t)
	ctx := context.Background()
	r := newTestRegistry(t, &fakeFactory{}, WithSnapshotStore(store))

	err := r.NewGame(ctx, "room", func(ctx context.Context, s *Session) error {
		if _, err := s.ChooseColor(ctx, ColorBlack); err != nil {
			return err
		}
		_, err := s.Resign()
		return err
	})
	require.NoError(t, err)

	snap, err := store.Load(ctx, "room")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCorruptSnapshotIsDiscarded(t *testing.T) {
	store, _ := newMiniredisStore(t)
	ctx := context.Background()
	r := newTestRegistry(t, &fakeFactory{}, WithSnapshotStore(store))

	first := startGame(t, r, "room")
	snap := first.Snapshot()
	snap.Moves = []string{"e2e4", "e2e4"}
	require.NoError(t, store.Save(ctx, snap))
	require.NoError(t, r.Close())

	r2 := newTestRegistry(t, &fakeFactory{}, WithSnapshotStore(store))
	err := r2.With(ctx, "room", func(context.Context, *Session) error { return nil })
	require.ErrorIs(t, err, ErrSessionNotFound)

	left, err := store.Load(ctx, "room")
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestClosedRegistryRejectsWork(t *testing.T) {
	ff := &fakeFactory{}
	r, err := NewRegistry(ff.open, RegistryConfig{DefaultSkill: 20})
	require.NoError(t, err)
	startGame(t, r, "c1")
	engine := ff.last()

	require.NoError(t, r.Close())
	assert.True(t, engine.isClosed())
	require.Error(t, r.NewGame(context.Background(), "c1", nil))
	require.Error(t, r.With(context.Background(), "c1", func(context.Context, *Session) error { return nil }))
}

func TestNewGameRacingCloseReleasesEngine(t *testing.T) {
	ff := &fakeFactory{}
	r, err := NewRegistry(ff.open, RegistryConfig{DefaultSkill: 20})
	require.NoError(t, err)
	ff.opened = func() { _ = r.Close() }

	err = r.NewGame(context.Background(), "c1", nil)
	require.ErrorIs(t, err, errRegistryClosed)
	assert.True(t, ff.last().isClosed(), "engine opened during Close must be released")
	assert.Equal(t, 0, r.Len())
}
