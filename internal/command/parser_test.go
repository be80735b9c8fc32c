package command

import (
	"testing"

	"github.com/stretchr/testify/assert"

	svc "github.com/park285/Cheese-Chess-bot/internal/service/chess"
)

func TestParse(t *testing.T) {
	p := NewParser("")
	tests := []struct {
		name string
		text string
		want svc.Request
	}{
		{name: "help", text: "/help", want: svc.Request{Kind: svc.KindHelp}},
		{name: "start is help", text: "/start", want: svc.Request{Kind: svc.KindHelp}},
		{name: "new game", text: "  /new_game ", want: svc.Request{Kind: svc.KindNewGame}},
		{name: "bot suffix", text: "/status@chess_bot", want: svc.Request{Kind: svc.KindStatus}},
		{name: "analyse", text: "/analyse", want: svc.Request{Kind: svc.KindAnalyse}},
		{name: "best move", text: "/best_move", want: svc.Request{Kind: svc.KindBestMove}},
		{name: "legal moves", text: "/legal_moves", want: svc.Request{Kind: svc.KindLegalMoves}},
		{name: "resign", text: "/resign", want: svc.Request{Kind: svc.KindResign}},
		{name: "history", text: "/HISTORY", want: svc.Request{Kind: svc.KindHistory}},
		{name: "skill", text: "/set_skill 7", want: svc.Request{Kind: svc.KindSetSkill, Skill: 7}},
		{name: "skill out of range parses", text: "/set_skill 42", want: svc.Request{Kind: svc.KindSetSkill, Skill: 42}},
		{name: "skill not a number", text: "/set_skill hard", want: svc.Request{Kind: svc.KindSetSkill, Malformed: true}},
		{name: "skill missing", text: "/set_skill", want: svc.Request{Kind: svc.KindSetSkill, Malformed: true}},
		{name: "random", text: "Random", want: svc.Request{Kind: svc.KindChooseColor, Color: svc.ColorRandom}},
		{name: "white", text: "white", want: svc.Request{Kind: svc.KindChooseColor, Color: svc.ColorWhite}},
		{name: "black", text: "BLACK", want: svc.Request{Kind: svc.KindChooseColor, Color: svc.ColorBlack}},
		{name: "move", text: "e2e4", want: svc.Request{Kind: svc.KindMove, Move: "e2e4"}},
		{name: "promotion", text: "E7E8Q", want: svc.Request{Kind: svc.KindMove, Move: "e7e8q"}},
		{name: "not a move", text: "e2e9", want: svc.Request{}},
		{name: "san is not accepted", text: "Nf3", want: svc.Request{}},
		{name: "chatter", text: "good game", want: svc.Request{}},
		{name: "unknown command", text: "/fly", want: svc.Request{}},
		{name: "bare prefix", text: "/", want: svc.Request{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want.ConversationID = "room"
			assert.Equal(t, tt.want, p.Parse("room", tt.text))
		})
	}
}

func TestParseCustomPrefix(t *testing.T) {
	p := NewParser("!")
	assert.Equal(t, "!", p.Prefix())
	assert.Equal(t, svc.KindNewGame, p.Parse("c", "!new_game").Kind)
	assert.Equal(t, svc.KindUnknown, p.Parse("c", "/new_game").Kind)
}
