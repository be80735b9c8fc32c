package chess

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

// ErrIllegalMove is returned for moves that are malformed or not legal in the
// current position.
var ErrIllegalMove = errors.New("illegal chess move")

var ecoBook = opening.NewBookECO()

type Status int

const (
	Ongoing Status = iota
	Drawn
	Decisive
)

func (s Status) String() string {
	switch s {
	case Drawn:
		return "draw"
	case Decisive:
		return "decisive"
	default:
		return "ongoing"
	}
}

// Outcome describes how a game stands. Winner is NoColor unless Decisive.
type Outcome struct {
	Status Status
	Winner nchess.Color
	Method nchess.Method
}

func (o Outcome) Terminal() bool { return o.Status != Ongoing }

// Result renders the outcome as a PGN result token.
func (o Outcome) Result() string {
	switch {
	case o.Status == Drawn:
		return "1/2-1/2"
	case o.Status == Decisive && o.Winner == nchess.White:
		return "1-0"
	case o.Status == Decisive && o.Winner == nchess.Black:
		return "0-1"
	default:
		return "*"
	}
}

// Position is a game from the standard start with its move history in UCI
// long algebraic notation. It is not safe for concurrent use.
type Position struct {
	game  *nchess.Game
	moves []string
	san   []string
}

func NewPosition() *Position {
	return &Position{game: nchess.NewGame()}
}

// Replay rebuilds a position from the start by applying moves in order.
func Replay(moves []string) (*Position, error) {
	p := NewPosition()
	for i, mv := range moves {
		if err := p.Apply(mv); err != nil {
			return nil, fmt.Errorf("replay ply %d: %w", i+1, err)
		}
	}
	return p, nil
}

// FromFEN starts from an arbitrary position. Such positions cannot be
// mirrored to the engine and are used for analysis of terminal states.
func FromFEN(fen string) (*Position, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return &Position{game: nchess.NewGame(opt)}, nil
}

// LegalMoves lists the legal moves in UCI notation, sorted. A terminal
// position has none.
func (p *Position) LegalMoves() []string {
	if p.Outcome().Terminal() {
		return nil
	}
	pos := p.game.Position()
	valid := p.game.ValidMoves()
	out := make([]string, 0, len(valid))
	enc := nchess.UCINotation{}
	for i := range valid {
		out = append(out, enc.Encode(pos, &valid[i]))
	}
	sort.Strings(out)
	return out
}

func (p *Position) IsLegal(move string) bool {
	if p.Outcome().Terminal() {
		return false
	}
	_, ok := p.find(NormalizeMove(move))
	return ok
}

// Apply plays move. On error the position is unchanged.
func (p *Position) Apply(move string) error {
	text := NormalizeMove(move)
	if text == "" {
		return fmt.Errorf("%w: empty move", ErrIllegalMove)
	}
	if p.Outcome().Terminal() {
		return fmt.Errorf("%w: %s: game is over", ErrIllegalMove, text)
	}
	mv, ok := p.find(text)
	if !ok {
		return fmt.Errorf("%w: %s", ErrIllegalMove, text)
	}
	san := nchess.AlgebraicNotation{}.Encode(p.game.Position(), mv)
	if err := p.game.Move(mv, nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIllegalMove, text, err)
	}
	p.moves = append(p.moves, text)
	p.san = append(p.san, san)
	return nil
}

func (p *Position) find(text string) (*nchess.Move, bool) {
	pos := p.game.Position()
	valid := p.game.ValidMoves()
	enc := nchess.UCINotation{}
	for i := range valid {
		if enc.Encode(pos, &valid[i]) == text {
			return &valid[i], true
		}
	}
	return nil, false
}

// Resign ends the game in favour of color's opponent.
func (p *Position) Resign(color nchess.Color) {
	if p.Outcome().Terminal() {
		return
	}
	p.game.Resign(color)
}

func (p *Position) Outcome() Outcome {
	switch p.game.Outcome() {
	case nchess.WhiteWon:
		return Outcome{Status: Decisive, Winner: nchess.White, Method: p.game.Method()}
	case nchess.BlackWon:
		return Outcome{Status: Decisive, Winner: nchess.Black, Method: p.game.Method()}
	case nchess.Draw:
		return Outcome{Status: Drawn, Winner: nchess.NoColor, Method: p.game.Method()}
	default:
		return Outcome{Status: Ongoing, Winner: nchess.NoColor, Method: nchess.NoMethod}
	}
}

// Moves returns a copy of the history in UCI notation.
func (p *Position) Moves() []string {
	return append([]string(nil), p.moves...)
}

// MovesSAN returns a copy of the history in standard algebraic notation.
func (p *Position) MovesSAN() []string {
	return append([]string(nil), p.san...)
}

func (p *Position) Ply() int { return len(p.moves) }

func (p *Position) Turn() nchess.Color { return p.game.Position().Turn() }

func (p *Position) FEN() string { return p.game.FEN() }

// PGN renders the game with its movetext and result.
func (p *Position) PGN() string { return p.game.String() }

func (p *Position) Board() *nchess.Board { return p.game.Position().Board() }

// LastMove returns the squares of the most recent move.
func (p *Position) LastMove() (from, to nchess.Square, ok bool) {
	moves := p.game.Moves()
	if len(moves) == 0 {
		return nchess.NoSquare, nchess.NoSquare, false
	}
	last := moves[len(moves)-1]
	return last.S1(), last.S2(), true
}

// Clone returns an independent copy.
func (p *Position) Clone() *Position {
	return &Position{
		game:  p.game.Clone(),
		moves: p.Moves(),
		san:   p.MovesSAN(),
	}
}

// Opening names the deepest ECO opening matching the history, if any.
func (p *Position) Opening() (code, title string, ok bool) {
	if len(p.moves) == 0 {
		return "", "", false
	}
	o := ecoBook.Find(p.game.Moves())
	if o == nil {
		return "", "", false
	}
	return o.Code(), o.Title(), true
}

// NormalizeMove lower-cases and trims a UCI move.
func NormalizeMove(move string) string {
	return strings.ToLower(strings.TrimSpace(move))
}
