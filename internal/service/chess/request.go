package chess

import (
	nchess "github.com/corentings/chess/v2"

	corechess "github.com/park285/Cheese-Chess-bot/internal/chess"
	"github.com/park285/Cheese-Chess-bot/internal/domain"
)

type RequestKind int

const (
	KindUnknown RequestKind = iota
	KindHelp
	KindNewGame
	KindChooseColor
	KindMove
	KindAnalyse
	KindBestMove
	KindLegalMoves
	KindSetSkill
	KindStatus
	KindResign
	KindHistory
)

func (k RequestKind) String() string {
	switch k {
	case KindHelp:
		return "help"
	case KindNewGame:
		return "new_game"
	case KindChooseColor:
		return "choose_color"
	case KindMove:
		return "move"
	case KindAnalyse:
		return "analyse"
	case KindBestMove:
		return "best_move"
	case KindLegalMoves:
		return "legal_moves"
	case KindSetSkill:
		return "set_skill"
	case KindStatus:
		return "status"
	case KindResign:
		return "resign"
	case KindHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Request is one parsed inbound message.
type Request struct {
	Kind           RequestKind
	ConversationID string
	Color          ColorChoice
	Move           string
	Skill          int
	// Malformed marks a recognised command whose argument did not parse.
	Malformed bool
}

// Notice identifies the message a Reply carries. Values double as message
// catalog keys.
type Notice string

const (
	NoticeHelp              Notice = "help"
	NoticeChooseColor       Notice = "game.choose_color"
	NoticeEngineMove        Notice = "game.engine_move"
	NoticeEngineCaughtUp    Notice = "game.engine_caught_up"
	NoticeBoard             Notice = "game.board"
	NoticeGameOver          Notice = "game.over"
	NoticeResigned          Notice = "game.resigned"
	NoticeAnalysis          Notice = "game.analysis"
	NoticeBestMove          Notice = "game.best_move"
	NoticeLegalMoves        Notice = "game.legal_moves"
	NoticeSkillSet          Notice = "game.skill_set"
	NoticeStatus            Notice = "game.status"
	NoticeStatusAwaiting    Notice = "game.status_awaiting"
	NoticeHistory           Notice = "game.history"
	NoticeHistoryEmpty      Notice = "game.history_empty"
	NoticeColorLocked       Notice = "error.color_locked"
	NoticeColorNotChosen    Notice = "error.color_not_chosen"
	NoticeGameFinished      Notice = "error.game_over"
	NoticeIllegalMove       Notice = "error.illegal_move"
	NoticeWrongInput        Notice = "error.wrong_input"
	NoticeNoSession         Notice = "error.no_session"
	NoticeEngineUnavailable Notice = "error.engine_unavailable"
	NoticeEngineNoOpening   Notice = "error.engine_no_opening"
	NoticeEngineBusy        Notice = "error.engine_busy"
	NoticeInternal          Notice = "error.internal"
)

// IsError reports whether the notice describes a rejected request.
func (n Notice) IsError() bool {
	return len(n) > 6 && n[:6] == "error."
}

// StatusView summarizes a session for the status reply.
type StatusView struct {
	State      State
	HumanColor nchess.Color
	Turn       nchess.Color
	MoveNumber int
	Skill      int
	Pending    bool
}

// Reply is one outbound message. Only the fields relevant to Notice are set.
type Reply struct {
	Notice     Notice
	Move       string
	Outcome    corechess.Outcome
	Evaluation corechess.Evaluation
	Opening    string
	Moves      []string
	Skill      int
	Status     *StatusView
	Games      []*domain.ChessGame
	Card       *domain.ScoreCard
	Image      []byte
}
