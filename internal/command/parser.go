// Package command turns chat text into service requests.
package command

import (
	"regexp"
	"strconv"
	"strings"

	svc "github.com/park285/Cheese-Chess-bot/internal/service/chess"
)

const DefaultPrefix = "/"

var moveRe = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// Parser recognises prefixed commands, bare color choices and UCI moves.
type Parser struct {
	prefix string
}

func NewParser(prefix string) *Parser {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Parser{prefix: prefix}
}

func (p *Parser) Prefix() string { return p.prefix }

// Parse maps text to a Request. Text that is neither a command, a color nor
// a move yields a Request of KindUnknown, which the service ignores.
func (p *Parser) Parse(conversationID, text string) svc.Request {
	req := svc.Request{ConversationID: conversationID}
	raw := strings.TrimSpace(text)
	if raw == "" {
		return req
	}

	if strings.HasPrefix(raw, p.prefix) {
		parts := strings.Fields(strings.TrimPrefix(raw, p.prefix))
		if len(parts) == 0 {
			return req
		}
		cmd := strings.ToLower(parts[0])
		// group chats append the bot name: /status@chess_bot
		if at := strings.IndexByte(cmd, '@'); at > 0 {
			cmd = cmd[:at]
		}
		p.parseCommand(&req, cmd, parts[1:])
		return req
	}

	switch strings.ToLower(raw) {
	case "random":
		req.Kind, req.Color = svc.KindChooseColor, svc.ColorRandom
		return req
	case "white":
		req.Kind, req.Color = svc.KindChooseColor, svc.ColorWhite
		return req
	case "black":
		req.Kind, req.Color = svc.KindChooseColor, svc.ColorBlack
		return req
	}

	if move := strings.ToLower(raw); moveRe.MatchString(move) {
		req.Kind, req.Move = svc.KindMove, move
	}
	return req
}

func (p *Parser) parseCommand(req *svc.Request, cmd string, args []string) {
	switch cmd {
	case "start", "help":
		req.Kind = svc.KindHelp
	case "new_game":
		req.Kind = svc.KindNewGame
	case "analyse", "analyze":
		req.Kind = svc.KindAnalyse
	case "best_move":
		req.Kind = svc.KindBestMove
	case "legal_moves":
		req.Kind = svc.KindLegalMoves
	case "status":
		req.Kind = svc.KindStatus
	case "resign":
		req.Kind = svc.KindResign
	case "history":
		req.Kind = svc.KindHistory
	case "set_skill":
		req.Kind = svc.KindSetSkill
		if len(args) != 1 {
			req.Malformed = true
			return
		}
		level, err := strconv.Atoi(args[0])
		if err != nil {
			req.Malformed = true
			return
		}
		req.Skill = level
	}
}
