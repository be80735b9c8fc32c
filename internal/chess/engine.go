package chess

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Chess-bot/internal/chess/uci"
)

const (
	MinSkill = 0
	MaxSkill = 20
)

var (
	ErrEngineUnavailable = errors.New("chess engine unavailable")
	ErrEngineSync        = errors.New("chess engine out of sync")
	ErrEngineCapacity    = errors.New("chess engine capacity reached")
	ErrInvalidSkill      = errors.New("invalid engine skill level")
)

// SessionProvider hands out engine processes. *uci.Pool satisfies it.
type SessionProvider interface {
	Acquire(ctx context.Context) (*uci.Session, error)
	Release(session *uci.Session, err error)
}

// Evaluation is the engine's win/draw/loss expectation in per-mille for the
// side to move, with the score and opening plies of its main line when the
// engine reported one.
type Evaluation struct {
	Win  int
	Draw int
	Loss int
	// ScoreCP is in centipawns. MateIn is non-zero when a forced mate was
	// found, negative when the side to move gets mated.
	ScoreCP int
	MateIn  int
	// Line holds the main line in SAN.
	Line []string
}

// maxLinePlies caps how much of the engine's main line is kept.
const maxLinePlies = 8

// Percent converts the per-mille triple to percentages.
func (e Evaluation) Percent() (win, draw, loss float64) {
	return float64(e.Win) / 10, float64(e.Draw) / 10, float64(e.Loss) / 10
}

// ValidateSkill reports ErrInvalidSkill for levels outside 0-20.
func ValidateSkill(level int) error {
	if level < MinSkill || level > MaxSkill {
		return fmt.Errorf("%w: %d (allowed %d-%d)", ErrInvalidSkill, level, MinSkill, MaxSkill)
	}
	return nil
}

// Handle is one game's exclusive view of an engine process. It remembers the
// synchronized history and the skill level so a crashed process can be
// replaced transparently on the next request.
type Handle struct {
	provider SessionProvider
	evalTime time.Duration
	logger   *zap.Logger

	session *uci.Session
	skill   int
	history []string
	replica *Position
}

type HandleConfig struct {
	Skill    int
	EvalTime time.Duration
	Logger   *zap.Logger
}

// NewHandle acquires a process and configures it for a fresh game.
func NewHandle(ctx context.Context, provider SessionProvider, cfg HandleConfig) (*Handle, error) {
	if provider == nil {
		return nil, fmt.Errorf("engine provider required")
	}
	if err := ValidateSkill(cfg.Skill); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	evalTime := cfg.EvalTime
	if evalTime <= 0 {
		evalTime = 200 * time.Millisecond
	}
	h := &Handle{
		provider: provider,
		evalTime: evalTime,
		logger:   logger,
		skill:    cfg.Skill,
		replica:  NewPosition(),
	}
	if err := h.attach(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// attach acquires a process when none is held and pushes skill and history.
func (h *Handle) attach(ctx context.Context) error {
	if h.session != nil {
		return nil
	}
	session, err := h.provider.Acquire(ctx)
	if err != nil {
		if errors.Is(err, uci.ErrPoolExhausted) {
			return fmt.Errorf("%w: %v", ErrEngineCapacity, err)
		}
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if err := session.SetOption(ctx, "Skill Level", strconv.Itoa(h.skill)); err != nil {
		h.provider.Release(session, err)
		return fmt.Errorf("%w: apply skill: %v", ErrEngineUnavailable, err)
	}
	if err := session.SetPosition(ctx, "", h.history); err != nil {
		h.provider.Release(session, err)
		return fmt.Errorf("%w: %v", ErrEngineSync, err)
	}
	h.session = session
	return nil
}

// fail drops the current process so the next request starts a new one.
func (h *Handle) fail(err error) {
	if h.session == nil {
		return
	}
	h.logger.Warn("engine_process_dropped", zap.Error(err))
	h.provider.Release(h.session, err)
	h.session = nil
}

// Sync makes the engine's position equal to the start position plus moves.
// Repeating a sync with the same history is a no-op.
func (h *Handle) Sync(ctx context.Context, moves []string) error {
	if h.session != nil && slices.Equal(h.history, moves) {
		return nil
	}
	replica, err := Replay(moves)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineSync, err)
	}
	h.history = slices.Clone(moves)
	h.replica = replica
	if h.session == nil {
		return h.attach(ctx)
	}
	if err := h.session.SetPosition(ctx, "", h.history); err != nil {
		h.fail(err)
		return fmt.Errorf("%w: %v", ErrEngineSync, err)
	}
	return nil
}

// BestMove searches the synchronized position for budget and returns a move
// verified to be legal there.
func (h *Handle) BestMove(ctx context.Context, budget time.Duration) (string, error) {
	if h.replica.Outcome().Terminal() {
		return "", fmt.Errorf("%w: position is terminal", ErrEngineUnavailable)
	}
	resp, err := h.search(ctx, budget)
	if err != nil {
		return "", err
	}
	move := NormalizeMove(resp.BestMove)
	if !h.replica.IsLegal(move) {
		err := fmt.Errorf("engine proposed illegal move %q", resp.BestMove)
		h.fail(err)
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return move, nil
}

// Evaluation reports the win/draw/loss expectation for the side to move.
func (h *Handle) Evaluation(ctx context.Context) (Evaluation, error) {
	resp, err := h.search(ctx, h.evalTime)
	if err != nil {
		return Evaluation{}, err
	}
	if resp.WDL == nil {
		return Evaluation{}, fmt.Errorf("%w: engine reported no win/draw/loss statistics", ErrEngineUnavailable)
	}
	eval := Evaluation{Win: resp.WDL.Win, Draw: resp.WDL.Draw, Loss: resp.WDL.Loss}
	if len(resp.Candidates) > 0 {
		best := resp.Candidates[0]
		eval.ScoreCP = best.EvalCP
		eval.MateIn = best.MateIn
		eval.Line = h.sanLine(best.Principal)
	}
	return eval, nil
}

// sanLine converts the legal prefix of a UCI line from the synced position
// into SAN.
func (h *Handle) sanLine(moves []string) []string {
	if len(moves) > maxLinePlies {
		moves = moves[:maxLinePlies]
	}
	line := h.replica.Clone()
	start := line.Ply()
	for _, mv := range moves {
		if line.Apply(mv) != nil {
			break
		}
	}
	san := line.MovesSAN()
	if len(san) <= start {
		return nil
	}
	return san[start:]
}

func (h *Handle) search(ctx context.Context, budget time.Duration) (uci.SearchResponse, error) {
	if err := h.attach(ctx); err != nil {
		return uci.SearchResponse{}, err
	}
	resp, err := h.session.Search(ctx, uci.SearchRequest{
		Moves:  h.history,
		Limits: uci.Limits{MoveTime: budget},
	})
	if err != nil {
		h.fail(err)
		return uci.SearchResponse{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return resp, nil
}

// SetSkill changes the strength. The level is kept even if the current
// process fails, and is applied to any replacement.
func (h *Handle) SetSkill(ctx context.Context, level int) error {
	if err := ValidateSkill(level); err != nil {
		return err
	}
	h.skill = level
	if h.session == nil {
		return nil
	}
	if err := h.session.SetOption(ctx, "Skill Level", strconv.Itoa(level)); err != nil {
		h.fail(err)
	}
	return nil
}

func (h *Handle) Skill() int { return h.skill }

// Close returns the process to the provider.
func (h *Handle) Close() error {
	if h.session != nil {
		h.provider.Release(h.session, nil)
		h.session = nil
	}
	return nil
}
