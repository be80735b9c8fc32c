package chess

import (
	"context"
	"errors"
	"fmt"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	corechess "github.com/park285/Cheese-Chess-bot/internal/chess"
	"github.com/park285/Cheese-Chess-bot/internal/domain"
)

const (
	defaultHistoryLimit = 5
	maxHistoryLimit     = 50
	renderTimeout       = 5 * time.Second
)

// Metrics receives per-request observations. A nil Metrics is ignored.
type Metrics interface {
	ObserveRequest(kind, notice string, elapsed time.Duration)
	GameFinished(result string)
}

type Config struct {
	HistoryLimit int
}

// Service turns Requests into Replies. Every failure becomes a notice; no
// error escapes Handle.
type Service struct {
	registry *Registry
	renderer BoardRenderer
	repo     Repository
	metrics  Metrics
	cfg      Config
	logger   *zap.Logger
}

func NewService(registry *Registry, renderer BoardRenderer, repo Repository, metrics Metrics, cfg Config, logger *zap.Logger) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("session registry required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("board renderer required")
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.HistoryLimit > maxHistoryLimit {
		cfg.HistoryLimit = maxHistoryLimit
	}
	return &Service{
		registry: registry,
		renderer: renderer,
		repo:     repo,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// boardView is a copy of what to draw, taken under the session lock and
// rendered after it is released.
type boardView struct {
	position    *corechess.Position
	orientation nchess.Color
}

func viewOf(s *Session) *boardView {
	return &boardView{position: s.Position(), orientation: s.Orientation()}
}

// Handle executes req and returns the replies in send order.
func (s *Service) Handle(ctx context.Context, req Request) []Reply {
	start := time.Now()
	replies := s.dispatch(ctx, req)

	notice := "none"
	if len(replies) > 0 {
		notice = string(replies[0].Notice)
		for _, r := range replies {
			if r.Notice.IsError() {
				notice = string(r.Notice)
				break
			}
		}
	}
	elapsed := time.Since(start)
	if s.metrics != nil && req.Kind != KindUnknown {
		s.metrics.ObserveRequest(req.Kind.String(), notice, elapsed)
	}
	s.logger.Debug("chess_request_handled",
		zap.String("conversation", req.ConversationID),
		zap.String("kind", req.Kind.String()),
		zap.String("notice", notice),
		zap.Duration("duration", elapsed))
	return replies
}

func (s *Service) dispatch(ctx context.Context, req Request) []Reply {
	switch req.Kind {
	case KindHelp:
		return []Reply{{Notice: NoticeHelp}}
	case KindNewGame:
		return s.newGame(ctx, req)
	case KindChooseColor:
		return s.chooseColor(ctx, req)
	case KindMove:
		return s.move(ctx, req)
	case KindAnalyse:
		return s.analyse(ctx, req)
	case KindBestMove:
		return s.bestMove(ctx, req)
	case KindLegalMoves:
		return s.legalMoves(ctx, req)
	case KindSetSkill:
		return s.setSkill(ctx, req)
	case KindStatus:
		return s.status(ctx, req)
	case KindResign:
		return s.resign(ctx, req)
	case KindHistory:
		return s.history(ctx, req)
	default:
		return nil
	}
}

func (s *Service) newGame(ctx context.Context, req Request) []Reply {
	err := s.registry.NewGame(ctx, req.ConversationID, nil)
	if err != nil {
		return s.failure(req, err)
	}
	return []Reply{{Notice: NoticeChooseColor}}
}

func (s *Service) chooseColor(ctx context.Context, req Request) []Reply {
	var (
		turn *Turn
		view *boardView
	)
	err := s.registry.With(ctx, req.ConversationID, func(ctx context.Context, sess *Session) error {
		var err error
		turn, err = sess.ChooseColor(ctx, req.Color)
		if turn != nil {
			view = viewOf(sess)
			s.archiveIfFinished(ctx, sess, turn)
		}
		return err
	})
	if turn == nil && noticeForError(err) == NoticeEngineUnavailable {
		// the session went back to awaiting a color
		replies := s.failure(req, err)
		replies[0].Notice = NoticeEngineNoOpening
		return replies
	}
	return s.turnReplies(ctx, req, turn, view, err)
}

func (s *Service) move(ctx context.Context, req Request) []Reply {
	var (
		turn *Turn
		view *boardView
	)
	err := s.registry.With(ctx, req.ConversationID, func(ctx context.Context, sess *Session) error {
		var err error
		turn, err = sess.Move(ctx, req.Move)
		if turn != nil {
			view = viewOf(sess)
			s.archiveIfFinished(ctx, sess, turn)
		}
		return err
	})
	return s.turnReplies(ctx, req, turn, view, err)
}

// turnReplies reports a color choice or move: the engine's answer, the
// board, then the result when the game ended.
func (s *Service) turnReplies(ctx context.Context, req Request, turn *Turn, view *boardView, err error) []Reply {
	if turn == nil {
		return s.failure(req, err)
	}
	var replies []Reply
	if turn.EngineMove != "" {
		notice := NoticeEngineMove
		if turn.CaughtUp {
			notice = NoticeEngineCaughtUp
		}
		replies = append(replies, Reply{Notice: notice, Move: turn.EngineMove})
	}
	if board, ok := s.board(ctx, view); ok {
		replies = append(replies, board)
	}
	if err != nil {
		return append(replies, s.failure(req, err)...)
	}
	if turn.Finished() {
		replies = append(replies, Reply{Notice: NoticeGameOver, Outcome: turn.Outcome})
	}
	return replies
}

func (s *Service) analyse(ctx context.Context, req Request) []Reply {
	var analysis *Analysis
	err := s.registry.With(ctx, req.ConversationID, func(ctx context.Context, sess *Session) error {
		var err error
		analysis, err = sess.Analyse(ctx)
		return err
	})
	if err != nil {
		return s.failure(req, err)
	}
	reply := Reply{Notice: NoticeAnalysis, Evaluation: analysis.Evaluation}
	if analysis.OpeningCode != "" {
		reply.Opening = analysis.OpeningCode + " " + analysis.OpeningTitle
	}
	return []Reply{reply}
}

func (s *Service) bestMove(ctx context.Context, req Request) []Reply {
	var move string
	err := s.registry.With(ctx, req.ConversationID, func(ctx context.Context, sess *Session) error {
		var err error
		move, err = sess.BestMove(ctx)
		return err
	})
	if err != nil {
		return s.failure(req, err)
	}
	return []Reply{{Notice: NoticeBestMove, Move: move}}
}

func (s *Service) legalMoves(ctx context.Context, req Request) []Reply {
	var moves []string
	err := s.registry.With(ctx, req.ConversationID, func(_ context.Context, sess *Session) error {
		var err error
		moves, err = sess.LegalMoves()
		return err
	})
	if err != nil {
		return s.failure(req, err)
	}
	return []Reply{{Notice: NoticeLegalMoves, Moves: moves}}
}

func (s *Service) setSkill(ctx context.Context, req Request) []Reply {
	if req.Malformed {
		return []Reply{{Notice: NoticeWrongInput}}
	}
	if err := corechess.ValidateSkill(req.Skill); err != nil {
		return s.failure(req, err)
	}
	err := s.registry.With(ctx, req.ConversationID, func(ctx context.Context, sess *Session) error {
		return sess.SetSkill(ctx, req.Skill)
	})
	if err != nil {
		return s.failure(req, err)
	}
	return []Reply{{Notice: NoticeSkillSet, Skill: req.Skill}}
}

func (s *Service) status(ctx context.Context, req Request) []Reply {
	var (
		view   *boardView
		status StatusView
	)
	err := s.registry.With(ctx, req.ConversationID, func(_ context.Context, sess *Session) error {
		view = viewOf(sess)
		status = StatusView{
			State:      sess.State(),
			HumanColor: sess.HumanColor(),
			Turn:       view.position.Turn(),
			MoveNumber: view.position.Ply()/2 + 1,
			Skill:      sess.Skill(),
			Pending:    sess.EnginePending(),
		}
		return nil
	})
	if err != nil {
		return s.failure(req, err)
	}
	if status.State == StateAwaitingColor {
		return []Reply{{Notice: NoticeStatusAwaiting}}
	}
	replies := []Reply{{Notice: NoticeStatus, Status: &status}}
	if board, ok := s.board(ctx, view); ok {
		replies = append(replies, board)
	}
	if status.State == StateFinished {
		replies = append(replies, Reply{Notice: NoticeGameOver, Outcome: view.position.Outcome()})
	}
	return replies
}

func (s *Service) resign(ctx context.Context, req Request) []Reply {
	var (
		turn *Turn
		view *boardView
	)
	err := s.registry.With(ctx, req.ConversationID, func(ctx context.Context, sess *Session) error {
		var err error
		turn, err = sess.Resign()
		if err != nil {
			return err
		}
		view = viewOf(sess)
		s.archiveIfFinished(ctx, sess, turn)
		return nil
	})
	if err != nil {
		return s.failure(req, err)
	}
	replies := []Reply{{Notice: NoticeResigned, Outcome: turn.Outcome}}
	if board, ok := s.board(ctx, view); ok {
		replies = append(replies, board)
	}
	return replies
}

func (s *Service) history(ctx context.Context, req Request) []Reply {
	key := hashString(req.ConversationID)
	card, err := s.repo.GetScoreCard(ctx, key)
	if err != nil {
		return s.failure(req, err)
	}
	games, err := s.repo.GetRecentGames(ctx, key, s.cfg.HistoryLimit)
	if err != nil {
		return s.failure(req, err)
	}
	if card == nil && len(games) == 0 {
		return []Reply{{Notice: NoticeHistoryEmpty}}
	}
	return []Reply{{Notice: NoticeHistory, Card: card, Games: games}}
}

// archiveIfFinished stores a game that just ended. Called under the session
// lock so a game is archived once.
func (s *Service) archiveIfFinished(ctx context.Context, sess *Session, turn *Turn) {
	if !turn.Finished() {
		return
	}
	game := sess.Archive()
	if s.metrics != nil {
		s.metrics.GameFinished(game.Result)
	}
	if _, err := s.repo.InsertGame(ctx, game); err != nil {
		if errors.Is(err, ErrDuplicateGame) {
			return
		}
		s.logger.Warn("chess_archive_failed", zap.String("game_id", game.GameID), zap.Error(err))
		return
	}
	if err := s.updateScoreCard(ctx, game, sess.HumanColor()); err != nil {
		s.logger.Warn("chess_scorecard_failed", zap.String("game_id", game.GameID), zap.Error(err))
	}
}

func (s *Service) updateScoreCard(ctx context.Context, game *domain.ChessGame, human nchess.Color) error {
	card, err := s.repo.GetScoreCard(ctx, game.ConversationHash)
	if err != nil {
		return err
	}
	if card == nil {
		card = &domain.ScoreCard{ConversationHash: game.ConversationHash}
	}
	card.GamesPlayed++
	card.LastPlayedAt = game.EndedAt
	switch game.Result {
	case "1/2-1/2":
		card.Draws++
	case "1-0":
		if human == nchess.White {
			card.Wins++
		} else {
			card.Losses++
		}
	case "0-1":
		if human == nchess.Black {
			card.Wins++
		} else {
			card.Losses++
		}
	}
	return s.repo.UpsertScoreCard(ctx, card)
}

// board renders view. Rendering failures drop the image rather than the
// whole reply.
func (s *Service) board(ctx context.Context, view *boardView) (Reply, bool) {
	if view == nil {
		return Reply{}, false
	}
	opts := RenderOptions{Orientation: view.orientation}
	if from, to, ok := view.position.LastMove(); ok {
		opts.Highlight = &MoveHighlight{From: from, To: to}
	}
	renderCtx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()
	png, err := s.renderer.RenderPNG(renderCtx, view.position.Board(), opts)
	if err != nil {
		s.logger.Warn("chess_render_failed", zap.Error(err))
		return Reply{}, false
	}
	return Reply{Notice: NoticeBoard, Image: png}, true
}

func (s *Service) failure(req Request, err error) []Reply {
	notice := noticeForError(err)
	if notice == NoticeInternal {
		s.logger.Error("chess_request_failed",
			zap.String("conversation", req.ConversationID),
			zap.String("kind", req.Kind.String()),
			zap.Error(err))
	} else {
		s.logger.Debug("chess_request_rejected",
			zap.String("conversation", req.ConversationID),
			zap.String("kind", req.Kind.String()),
			zap.Error(err))
	}
	return []Reply{{Notice: notice}}
}

func noticeForError(err error) Notice {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return NoticeNoSession
	case errors.Is(err, ErrColorLocked):
		return NoticeColorLocked
	case errors.Is(err, ErrColorNotChosen):
		return NoticeColorNotChosen
	case errors.Is(err, ErrGameFinished):
		return NoticeGameFinished
	case errors.Is(err, corechess.ErrIllegalMove):
		return NoticeIllegalMove
	case errors.Is(err, corechess.ErrInvalidSkill):
		return NoticeWrongInput
	case errors.Is(err, corechess.ErrEngineCapacity):
		return NoticeEngineBusy
	case errors.Is(err, corechess.ErrEngineUnavailable), errors.Is(err, corechess.ErrEngineSync):
		return NoticeEngineUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return NoticeEngineUnavailable
	default:
		return NoticeInternal
	}
}
