package chess

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/stretchr/testify/require"

	corechess "github.com/park285/Cheese-Chess-bot/internal/chess"
)

// fakeEngine plays scripted moves when legal and otherwise the first legal
// move in sorted order.
type fakeEngine struct {
	mu       sync.Mutex
	script   []string
	history  []string
	skill    int
	failNext int
	closed   bool
}

func (f *fakeEngine) Sync(_ context.Context, moves []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := corechess.Replay(moves); err != nil {
		return fmt.Errorf("%w: %v", corechess.ErrEngineSync, err)
	}
	f.history = slices.Clone(moves)
	return nil
}

func (f *fakeEngine) BestMove(_ context.Context, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return "", fmt.Errorf("%w: simulated crash", corechess.ErrEngineUnavailable)
	}
	p, err := corechess.Replay(f.history)
	if err != nil {
		return "", err
	}
	for len(f.script) > 0 {
		mv := f.script[0]
		f.script = f.script[1:]
		if p.IsLegal(mv) {
			return mv, nil
		}
	}
	legal := p.LegalMoves()
	if len(legal) == 0 {
		return "", errors.New("no legal moves")
	}
	return legal[0], nil
}

func (f *fakeEngine) Evaluation(context.Context) (corechess.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return corechess.Evaluation{}, corechess.ErrEngineUnavailable
	}
	return corechess.Evaluation{Win: 420, Draw: 380, Loss: 200}, nil
}

func (f *fakeEngine) SetSkill(_ context.Context, level int) error {
	if err := corechess.ValidateSkill(level); err != nil {
		return err
	}
	f.mu.Lock()
	f.skill = level
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Skill() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skill
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory records every engine it opens and can cap live engines.
type fakeFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
	limit   int
	script  []string
	// opened runs after each successful open, outside the factory lock.
	opened func()
}

func (ff *fakeFactory) open(_ context.Context, skill int) (EngineHandle, error) {
	e, err := ff.openLocked(skill)
	if err == nil && ff.opened != nil {
		ff.opened()
	}
	return e, err
}

func (ff *fakeFactory) openLocked(skill int) (EngineHandle, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.limit > 0 {
		live := 0
		for _, e := range ff.engines {
			if !e.isClosed() {
				live++
			}
		}
		if live >= ff.limit {
			return nil, fmt.Errorf("%w: %d live", corechess.ErrEngineCapacity, live)
		}
	}
	e := &fakeEngine{skill: skill, script: slices.Clone(ff.script)}
	ff.engines = append(ff.engines, e)
	return e, nil
}

func (ff *fakeFactory) last() *fakeEngine {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.engines[len(ff.engines)-1]
}

func newTestRegistry(t *testing.T, ff *fakeFactory, opts ...RegistryOption) *Registry {
	t.Helper()
	opts = append([]RegistryOption{WithColorPicker(func() nchess.Color { return nchess.White })}, opts...)
	r, err := NewRegistry(ff.open, RegistryConfig{MoveTime: 10 * time.Millisecond, DefaultSkill: 20}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// startGame opens a session and returns it for direct state-machine tests.
func startGame(t *testing.T, r *Registry, conversationID string) *Session {
	t.Helper()
	var sess *Session
	err := r.NewGame(context.Background(), conversationID, func(_ context.Context, s *Session) error {
		sess = s
		return nil
	})
	require.NoError(t, err)
	return sess
}

type stubRenderer struct {
	mu    sync.Mutex
	calls []RenderOptions
}

func (s *stubRenderer) RenderPNG(_ context.Context, _ *nchess.Board, opts RenderOptions) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, opts)
	s.mu.Unlock()
	return []byte("png"), nil
}
