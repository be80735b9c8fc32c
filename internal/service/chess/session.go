package chess

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	corechess "github.com/park285/Cheese-Chess-bot/internal/chess"
	"github.com/park285/Cheese-Chess-bot/internal/domain"
)

// EngineHandle is the engine view a Session needs. *corechess.Handle
// implements it.
type EngineHandle interface {
	Sync(ctx context.Context, moves []string) error
	BestMove(ctx context.Context, budget time.Duration) (string, error)
	Evaluation(ctx context.Context) (corechess.Evaluation, error)
	SetSkill(ctx context.Context, level int) error
	Skill() int
	Close() error
}

type State int

const (
	StateAwaitingColor State = iota
	StateInProgress
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in_progress"
	case StateFinished:
		return "finished"
	default:
		return "awaiting_color"
	}
}

func parseState(s string) State {
	switch s {
	case "in_progress":
		return StateInProgress
	case "finished":
		return StateFinished
	default:
		return StateAwaitingColor
	}
}

type ColorChoice int

const (
	ColorRandom ColorChoice = iota
	ColorWhite
	ColorBlack
)

// Turn reports what a color choice or move did to the board.
type Turn struct {
	HumanMove  string
	EngineMove string
	EngineSAN  string
	// CaughtUp is set when an owed engine reply was delivered instead of
	// applying the human input.
	CaughtUp bool
	Outcome  corechess.Outcome
}

func (t *Turn) Finished() bool { return t != nil && t.Outcome.Terminal() }

// Analysis is the result of evaluating the current position.
type Analysis struct {
	Evaluation   corechess.Evaluation
	OpeningCode  string
	OpeningTitle string
	SideToMove   nchess.Color
}

// Session is one conversation's game against the engine. Callers serialize
// access through the Registry.
type Session struct {
	conversationID string
	gameID         string
	position       *corechess.Position
	human          nchess.Color
	state          State
	engine         EngineHandle
	moveTime       time.Duration
	enginePending  bool
	pickColor      func() nchess.Color
	startedAt      time.Time
	updatedAt      time.Time
	now            func() time.Time
	logger         *zap.Logger
}

type sessionConfig struct {
	moveTime  time.Duration
	pickColor func() nchess.Color
	logger    *zap.Logger
	now       func() time.Time
}

func newSession(conversationID string, engine EngineHandle, cfg sessionConfig) *Session {
	now := cfg.now()
	return &Session{
		conversationID: conversationID,
		gameID:         uuid.NewString(),
		position:       corechess.NewPosition(),
		human:          nchess.NoColor,
		state:          StateAwaitingColor,
		engine:         engine,
		moveTime:       cfg.moveTime,
		pickColor:      cfg.pickColor,
		startedAt:      now,
		updatedAt:      now,
		now:            cfg.now,
		logger:         cfg.logger.With(zap.String("conversation", conversationID)),
	}
}

func restoreSession(snap *domain.SessionSnapshot, engine EngineHandle, cfg sessionConfig) (*Session, error) {
	position, err := corechess.Replay(snap.Moves)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", snap.ConversationID, err)
	}
	s := &Session{
		conversationID: snap.ConversationID,
		gameID:         snap.GameID,
		position:       position,
		human:          colorFromName(snap.HumanColor),
		state:          parseState(snap.State),
		engine:         engine,
		moveTime:       cfg.moveTime,
		enginePending:  snap.EnginePending,
		pickColor:      cfg.pickColor,
		startedAt:      snap.StartedAt,
		updatedAt:      snap.UpdatedAt,
		now:            cfg.now,
		logger:         cfg.logger.With(zap.String("conversation", snap.ConversationID)),
	}
	if s.gameID == "" {
		s.gameID = uuid.NewString()
	}
	if position.Outcome().Terminal() {
		s.state = StateFinished
	}
	return s, nil
}

// randomColor draws White or Black with equal probability.
func randomColor() nchess.Color {
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 0 {
		return nchess.Black
	}
	return nchess.White
}

// ChooseColor assigns the human side and starts the game. When the human
// takes Black the engine opens.
func (s *Session) ChooseColor(ctx context.Context, choice ColorChoice) (*Turn, error) {
	if s.state != StateAwaitingColor {
		return nil, ErrColorLocked
	}
	switch choice {
	case ColorWhite:
		s.human = nchess.White
	case ColorBlack:
		s.human = nchess.Black
	default:
		s.human = s.pickColor()
	}
	s.state = StateInProgress
	s.touch()
	s.logger.Info("chess_color_chosen", zap.String("human", colorName(s.human)))

	if s.human == nchess.White {
		return &Turn{Outcome: s.position.Outcome()}, nil
	}
	s.enginePending = true
	turn, err := s.engineReply(ctx)
	if err != nil {
		// no move was played: the color can be chosen again
		s.state = StateAwaitingColor
		s.human = nchess.NoColor
		s.enginePending = false
		s.touch()
		s.logger.Warn("chess_engine_opening_failed", zap.Error(err))
		return nil, err
	}
	return turn, nil
}

// Move applies the human move and answers it. If an earlier engine reply
// is still owed, that reply is produced instead and the input is ignored.
func (s *Session) Move(ctx context.Context, move string) (*Turn, error) {
	switch s.state {
	case StateAwaitingColor:
		return nil, ErrColorNotChosen
	case StateFinished:
		return nil, ErrGameFinished
	}
	if s.enginePending {
		turn, err := s.engineReply(ctx)
		if turn != nil {
			turn.CaughtUp = true
		}
		return turn, err
	}

	text := corechess.NormalizeMove(move)
	if err := s.position.Apply(text); err != nil {
		return nil, err
	}
	s.touch()
	turn := &Turn{HumanMove: text, Outcome: s.position.Outcome()}
	if turn.Finished() {
		s.finish()
		return turn, nil
	}

	s.enginePending = true
	reply, err := s.engineReply(ctx)
	if reply != nil {
		turn.EngineMove = reply.EngineMove
		turn.EngineSAN = reply.EngineSAN
		turn.Outcome = reply.Outcome
	}
	return turn, err
}

// engineReply asks the engine for its move and applies it. The pending flag
// stays set on failure so the reply can be retried.
func (s *Session) engineReply(ctx context.Context) (*Turn, error) {
	turn := &Turn{Outcome: s.position.Outcome()}
	if err := s.engine.Sync(ctx, s.position.Moves()); err != nil {
		return turn, err
	}
	move, err := s.engine.BestMove(ctx, s.moveTime)
	if err != nil {
		return turn, err
	}
	if err := s.position.Apply(move); err != nil {
		return turn, fmt.Errorf("%w: apply engine move %s: %v", corechess.ErrEngineUnavailable, move, err)
	}
	s.enginePending = false
	s.touch()

	san := s.position.MovesSAN()
	turn.EngineMove = move
	turn.EngineSAN = san[len(san)-1]
	turn.Outcome = s.position.Outcome()
	if turn.Finished() {
		s.finish()
		return turn, nil
	}
	if err := s.engine.Sync(ctx, s.position.Moves()); err != nil {
		// the handle resynchronizes on its next request
		s.logger.Warn("chess_engine_resync_failed", zap.Error(err))
	}
	return turn, nil
}

func (s *Session) finish() {
	s.state = StateFinished
	s.enginePending = false
	out := s.position.Outcome()
	s.logger.Info("chess_game_finished",
		zap.String("game_id", s.gameID),
		zap.String("result", out.Result()),
		zap.String("method", MethodName(out.Method)),
		zap.Int("plies", s.position.Ply()))
}

// ready rejects queries on a finished game and while an engine reply is
// owed, since the side to move is then the engine's.
func (s *Session) ready() error {
	if s.state == StateFinished {
		return ErrGameFinished
	}
	if s.enginePending {
		return fmt.Errorf("%w: engine reply still owed", corechess.ErrEngineUnavailable)
	}
	return nil
}

// Analyse evaluates the current position for the side to move.
func (s *Session) Analyse(ctx context.Context) (*Analysis, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.engine.Sync(ctx, s.position.Moves()); err != nil {
		return nil, err
	}
	eval, err := s.engine.Evaluation(ctx)
	if err != nil {
		return nil, err
	}
	a := &Analysis{Evaluation: eval, SideToMove: s.position.Turn()}
	a.OpeningCode, a.OpeningTitle, _ = s.position.Opening()
	return a, nil
}

// BestMove suggests a move for the side to move without playing it.
func (s *Session) BestMove(ctx context.Context) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if err := s.engine.Sync(ctx, s.position.Moves()); err != nil {
		return "", err
	}
	return s.engine.BestMove(ctx, s.moveTime)
}

func (s *Session) LegalMoves() ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.position.LegalMoves(), nil
}

// SetSkill is accepted in every state.
func (s *Session) SetSkill(ctx context.Context, level int) error {
	if err := corechess.ValidateSkill(level); err != nil {
		return err
	}
	if err := s.engine.SetSkill(ctx, level); err != nil {
		return err
	}
	s.touch()
	return nil
}

// Resign concedes the game for the human side.
func (s *Session) Resign() (*Turn, error) {
	switch s.state {
	case StateAwaitingColor:
		return nil, ErrColorNotChosen
	case StateFinished:
		return nil, ErrGameFinished
	}
	s.position.Resign(s.human)
	s.touch()
	s.finish()
	return &Turn{Outcome: s.position.Outcome()}, nil
}

func (s *Session) touch() { s.updatedAt = s.now() }

func (s *Session) close() error {
	if s.engine == nil {
		return nil
	}
	return s.engine.Close()
}

func (s *Session) ConversationID() string { return s.conversationID }
func (s *Session) GameID() string { return s.gameID }
func (s *Session) State() State { return s.state }
func (s *Session) HumanColor() nchess.Color { return s.human }
func (s *Session) EnginePending() bool { return s.enginePending }
func (s *Session) Skill() int { return s.engine.Skill() }
func (s *Session) Position() *corechess.Position { return s.position.Clone() }
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Orientation is the side shown at the bottom of rendered boards.
func (s *Session) Orientation() nchess.Color {
	if s.human == nchess.Black {
		return nchess.Black
	}
	return nchess.White
}

func (s *Session) Snapshot() *domain.SessionSnapshot {
	return &domain.SessionSnapshot{
		ConversationID: s.conversationID,
		GameID:         s.gameID,
		State:          s.state.String(),
		HumanColor:     colorName(s.human),
		Moves:          s.position.Moves(),
		Skill:          s.engine.Skill(),
		EnginePending:  s.enginePending,
		StartedAt:      s.startedAt,
		UpdatedAt:      s.updatedAt,
	}
}

// Archive builds the history record of a finished game.
func (s *Session) Archive() *domain.ChessGame {
	out := s.position.Outcome()
	ended := s.updatedAt
	return &domain.ChessGame{
		GameID:           s.gameID,
		ConversationHash: hashString(s.conversationID),
		HumanColor:       colorName(s.human),
		Skill:            s.engine.Skill(),
		Result:           out.Result(),
		ResultMethod:     MethodName(out.Method),
		MovesUCI:         s.position.Moves(),
		MovesSAN:         s.position.MovesSAN(),
		PGN:              s.position.PGN(),
		StartedAt:        s.startedAt,
		EndedAt:          ended,
		Duration:         ended.Sub(s.startedAt),
	}
}

func colorName(c nchess.Color) string {
	switch c {
	case nchess.White:
		return "white"
	case nchess.Black:
		return "black"
	default:
		return ""
	}
}

func colorFromName(name string) nchess.Color {
	switch name {
	case "white":
		return nchess.White
	case "black":
		return nchess.Black
	default:
		return nchess.NoColor
	}
}

// MethodName is the snake_case label of a game-ending method.
func MethodName(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Resignation:
		return "resignation"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.InsufficientMaterial:
		return "insufficient_material"
	case nchess.ThreefoldRepetition:
		return "threefold_repetition"
	case nchess.FivefoldRepetition:
		return "fivefold_repetition"
	case nchess.FiftyMoveRule:
		return "fifty_move_rule"
	case nchess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	default:
		return "none"
	}
}
