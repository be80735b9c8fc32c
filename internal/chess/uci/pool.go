package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolExhausted is returned when every permitted engine process is in use.
var ErrPoolExhausted = errors.New("engine process limit reached")

var errPoolClosed = errors.New("engine pool closed")

type PoolConfig struct {
	Launch       LaunchConfig
	Options      Options
	MaxProcesses int
}

// Pool caps the number of live engine processes and recycles healthy ones
// between games. Acquire never waits for a busy process.
type Pool struct {
	launch LaunchConfig
	opt    Options
	max    int
	logger *zap.Logger

	mu     sync.Mutex
	total  int
	idle   []*Session
	leased map[*Session]struct{}
	closed bool
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Launch.Path == "" {
		return nil, fmt.Errorf("binary path required")
	}
	path, err := resolveBinary(cfg.Launch.Path)
	if err != nil {
		return nil, err
	}
	cfg.Launch.Path = path
	if err := validateOptions(cfg.Options); err != nil {
		return nil, err
	}
	maxProcs := cfg.MaxProcesses
	if maxProcs <= 0 {
		maxProcs = 1
	}
	logger := cfg.Launch.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		launch: cfg.Launch,
		opt:    cfg.Options,
		max:    maxProcs,
		logger: logger,
		leased: make(map[*Session]struct{}),
	}, nil
}

func resolveBinary(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("engine binary check: %w", err)
	}
	return resolved, nil
}

// Acquire returns a ready session positioned at a fresh game.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		session, create, err := p.reserve()
		if err != nil {
			return nil, err
		}
		if create {
			session, err = NewSession(ctx, p.launch, p.opt)
			if err != nil {
				p.decrement()
				return nil, err
			}
			p.track(session)
			return session, nil
		}

		if err := session.NewGame(ctx); err != nil {
			p.logger.Debug("uci_pool_discard_idle", zap.Error(err))
			p.discard(session)
			continue
		}
		p.track(session)
		return session, nil
	}
}

// reserve pops an idle session or claims a slot for a new process.
func (p *Pool) reserve() (*Session, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, errPoolClosed
	}
	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		session := p.idle[last]
		p.idle = p.idle[:last]
		if session.Alive() {
			return session, false, nil
		}
		p.total--
		go session.Close()
	}
	if p.total >= p.max {
		return nil, false, ErrPoolExhausted
	}
	p.total++
	return nil, true, nil
}

// Release hands a session back. A non-nil err marks it broken and the
// process is terminated.
func (p *Pool) Release(session *Session, err error) {
	if session == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.leased[session]; !ok {
		p.mu.Unlock()
		_ = session.Close()
		return
	}
	delete(p.leased, session)
	if err != nil || p.closed || !session.Alive() {
		p.total--
		p.mu.Unlock()
		_ = session.Close()
		return
	}
	p.idle = append(p.idle, session)
	p.mu.Unlock()
}

// Stats reports live and idle process counts.
func (p *Pool) Stats() (total, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total, len(p.idle)
}

func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*Session, 0, len(p.idle)+len(p.leased))
	sessions = append(sessions, p.idle...)
	for s := range p.leased {
		sessions = append(sessions, s)
	}
	p.idle = nil
	p.leased = make(map[*Session]struct{})
	p.total = 0
	p.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) track(session *Session) {
	p.mu.Lock()
	p.leased[session] = struct{}{}
	p.mu.Unlock()
}

func (p *Pool) discard(session *Session) {
	p.decrement()
	_ = session.Close()
}

func (p *Pool) decrement() {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}
