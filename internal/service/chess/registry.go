package chess

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	corechess "github.com/park285/Cheese-Chess-bot/internal/chess"
)

// EngineFactory opens an engine handle configured at skill.
type EngineFactory func(ctx context.Context, skill int) (EngineHandle, error)

// lockEntry is a per-conversation mutex, dropped when no caller holds a
// reference.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

type RegistryConfig struct {
	MoveTime     time.Duration
	DefaultSkill int
	// IdleTTL evicts sessions untouched for this long. Zero disables.
	IdleTTL time.Duration
}

// Registry owns every live Session, keyed by conversation id. Work on one
// conversation is serialized; different conversations proceed in parallel.
type Registry struct {
	newEngine EngineFactory
	cfg       RegistryConfig
	store     SnapshotStore
	pickColor func() nchess.Color
	now       func() time.Time
	logger    *zap.Logger

	mu       sync.Mutex
	locks    map[string]*lockEntry
	sessions map[string]*Session
	closed   bool
}

type RegistryOption func(*Registry)

// WithSnapshotStore persists sessions after every request and restores them
// on first access.
func WithSnapshotStore(store SnapshotStore) RegistryOption {
	return func(r *Registry) { r.store = store }
}

func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithColorPicker replaces the uniform random color draw.
func WithColorPicker(pick func() nchess.Color) RegistryOption {
	return func(r *Registry) { r.pickColor = pick }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(factory EngineFactory, cfg RegistryConfig, opts ...RegistryOption) (*Registry, error) {
	if factory == nil {
		return nil, fmt.Errorf("engine factory required")
	}
	if err := corechess.ValidateSkill(cfg.DefaultSkill); err != nil {
		return nil, err
	}
	if cfg.MoveTime <= 0 {
		cfg.MoveTime = 200 * time.Millisecond
	}
	r := &Registry{
		newEngine: factory,
		cfg:       cfg,
		pickColor: randomColor,
		now:       time.Now,
		logger:    zap.NewNop(),
		locks:     make(map[string]*lockEntry),
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) sessionConfig() sessionConfig {
	return sessionConfig{
		moveTime:  r.cfg.MoveTime,
		pickColor: r.pickColor,
		logger:    r.logger,
		now:       r.now,
	}
}

func (r *Registry) acquire(conversationID string) *lockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.locks[conversationID]
	if !ok {
		entry = &lockEntry{}
		r.locks[conversationID] = entry
	}
	entry.refs++
	return entry
}

func (r *Registry) release(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.locks[conversationID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(r.locks, conversationID)
	}
}

// withLock runs fn holding the conversation's lock.
func (r *Registry) withLock(conversationID string, fn func() error) error {
	entry := r.acquire(conversationID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		r.release(conversationID)
	}()
	return fn()
}

func (r *Registry) lookup(conversationID string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, errRegistryClosed
	}
	s, ok := r.sessions[conversationID]
	return s, ok, nil
}

// put fails once Close has run, so a session built meanwhile is not left
// holding an engine.
func (r *Registry) put(conversationID string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRegistryClosed
	}
	r.sessions[conversationID] = s
	return nil
}

func (r *Registry) remove(conversationID string) {
	r.mu.Lock()
	delete(r.sessions, conversationID)
	r.mu.Unlock()
}

var errRegistryClosed = errors.New("session registry closed")

// NewGame starts a fresh session for the conversation, releasing any
// previous one, and runs fn on it under the conversation lock.
func (r *Registry) NewGame(ctx context.Context, conversationID string, fn func(context.Context, *Session) error) error {
	return r.withLock(conversationID, func() error {
		old, _, err := r.lookup(conversationID)
		if err != nil {
			return err
		}
		engine, err := r.newEngine(ctx, r.cfg.DefaultSkill)
		if errors.Is(err, corechess.ErrEngineCapacity) && old != nil {
			// free the old game's process and try once more
			r.discard(conversationID, old)
			old = nil
			engine, err = r.newEngine(ctx, r.cfg.DefaultSkill)
		}
		if err != nil {
			return err
		}
		if old != nil {
			r.discard(conversationID, old)
		}

		s := newSession(conversationID, engine, r.sessionConfig())
		if err := r.put(conversationID, s); err != nil {
			_ = s.close()
			return err
		}
		r.logger.Info("chess_session_started",
			zap.String("conversation", conversationID),
			zap.String("game_id", s.GameID()))

		var fnErr error
		if fn != nil {
			fnErr = fn(ctx, s)
		}
		r.persist(ctx, s)
		return fnErr
	})
}

// With runs fn on the conversation's session under its lock. A session not
// in memory is restored from the snapshot store when one is configured.
func (r *Registry) With(ctx context.Context, conversationID string, fn func(context.Context, *Session) error) error {
	return r.withLock(conversationID, func() error {
		s, ok, err := r.lookup(conversationID)
		if err != nil {
			return err
		}
		if !ok {
			s, err = r.restore(ctx, conversationID)
			if err != nil {
				return err
			}
			if err := r.put(conversationID, s); err != nil {
				_ = s.close()
				return err
			}
		}
		fnErr := fn(ctx, s)
		r.persist(ctx, s)
		return fnErr
	})
}

func (r *Registry) restore(ctx context.Context, conversationID string) (*Session, error) {
	if r.store == nil {
		return nil, ErrSessionNotFound
	}
	snap, err := r.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}
	skill := snap.Skill
	if corechess.ValidateSkill(skill) != nil {
		skill = r.cfg.DefaultSkill
	}
	engine, err := r.newEngine(ctx, skill)
	if err != nil {
		return nil, err
	}
	s, err := restoreSession(snap, engine, r.sessionConfig())
	if err != nil {
		_ = engine.Close()
		r.logger.Warn("chess_snapshot_discarded", zap.String("conversation", conversationID), zap.Error(err))
		_ = r.store.Delete(ctx, conversationID)
		return nil, ErrSessionNotFound
	}
	r.logger.Info("chess_session_restored",
		zap.String("conversation", conversationID),
		zap.Int("plies", len(snap.Moves)))
	return s, nil
}

// persist mirrors the session to the snapshot store. Failures are logged;
// the in-memory session stays authoritative.
func (r *Registry) persist(ctx context.Context, s *Session) {
	if r.store == nil {
		return
	}
	var err error
	if s.State() == StateFinished {
		err = r.store.Delete(ctx, s.ConversationID())
	} else {
		err = r.store.Save(ctx, s.Snapshot())
	}
	if err != nil {
		r.logger.Warn("chess_snapshot_persist_failed",
			zap.String("conversation", s.ConversationID()),
			zap.Error(err))
	}
}

func (r *Registry) discard(conversationID string, s *Session) {
	r.remove(conversationID)
	if err := s.close(); err != nil {
		r.logger.Warn("chess_session_close_failed", zap.String("conversation", conversationID), zap.Error(err))
	}
}

// Len reports the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep releases sessions idle since before now-IdleTTL and returns how many
// were evicted. Snapshots are kept, so evicted games can be resumed.
func (r *Registry) Sweep(now time.Time) int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	candidates := make([]string, 0)
	for id, s := range r.sessions {
		if s.UpdatedAt().Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	r.mu.Unlock()

	evicted := 0
	for _, id := range candidates {
		_ = r.withLock(id, func() error {
			s, ok, err := r.lookup(id)
			if err != nil || !ok || !s.UpdatedAt().Before(cutoff) {
				return nil
			}
			r.discard(id, s)
			evicted++
			return nil
		})
	}
	if evicted > 0 {
		r.logger.Info("chess_sessions_evicted", zap.Int("count", evicted))
	}
	return evicted
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if r.cfg.IdleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			r.Sweep(t)
		}
	}
}

// Close releases every session's engine. Later calls fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		_ = r.withLock(id, func() error {
			if err := s.close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", id, err))
			}
			return nil
		})
	}
	return errors.Join(errs...)
}
