package chesspresenter

import (
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"

	corechess "github.com/park285/Cheese-Chess-bot/internal/chess"
	"github.com/park285/Cheese-Chess-bot/internal/domain"
	svc "github.com/park285/Cheese-Chess-bot/internal/service/chess"
)

// viewData flattens a reply into the fields its catalog template reads.
// Every template also sees Prefix.
func viewData(prefix string, reply svc.Reply) map[string]any {
	data := map[string]any{"Prefix": prefix}
	switch reply.Notice {
	case svc.NoticeEngineMove, svc.NoticeEngineCaughtUp, svc.NoticeBestMove:
		data["Move"] = reply.Move
	case svc.NoticeAnalysis:
		data["Win"] = reply.Evaluation.Win
		data["Draw"] = reply.Evaluation.Draw
		data["Loss"] = reply.Evaluation.Loss
		data["Score"] = scoreText(reply.Evaluation)
		data["Line"] = strings.Join(reply.Evaluation.Line, " ")
		data["Opening"] = reply.Opening
	case svc.NoticeLegalMoves:
		data["Moves"] = append([]string(nil), reply.Moves...)
	case svc.NoticeSkillSet:
		data["Skill"] = reply.Skill
	case svc.NoticeStatus:
		st := reply.Status
		if st == nil {
			st = &svc.StatusView{}
		}
		data["Color"] = colorWord(st.HumanColor)
		data["MoveNumber"] = st.MoveNumber
		data["Turn"] = colorWord(st.Turn)
		data["Skill"] = st.Skill
		data["Pending"] = st.Pending
	case svc.NoticeHistory:
		card := reply.Card
		if card == nil {
			card = &domain.ScoreCard{}
		}
		data["Wins"] = card.Wins
		data["Losses"] = card.Losses
		data["Draws"] = card.Draws
		lines := make([]string, 0, len(reply.Games))
		for _, g := range reply.Games {
			if g != nil {
				lines = append(lines, gameLine(g))
			}
		}
		data["Games"] = lines
	}
	return data
}

func colorWord(c nchess.Color) string {
	switch c {
	case nchess.White:
		return "White"
	case nchess.Black:
		return "Black"
	default:
		return "-"
	}
}

// scoreText renders the engine score for the side to move, empty when the
// engine reported no main line.
func scoreText(e corechess.Evaluation) string {
	switch {
	case len(e.Line) == 0:
		return ""
	case e.MateIn > 0:
		return fmt.Sprintf("mate in %d", e.MateIn)
	case e.MateIn < 0:
		return fmt.Sprintf("mated in %d", -e.MateIn)
	default:
		return fmt.Sprintf("%+.2f", float64(e.ScoreCP)/100)
	}
}

// resultKey names the catalog entry for the winner of a finished game.
func resultKey(out corechess.Outcome) string {
	switch {
	case out.Status == corechess.Drawn:
		return "game.result.draw"
	case out.Winner == nchess.White:
		return "game.result.white"
	default:
		return "game.result.black"
	}
}

func gameLine(g *domain.ChessGame) string {
	plies := len(g.MovesSAN)
	if plies == 0 {
		plies = len(g.MovesUCI)
	}
	line := fmt.Sprintf("%s  %s %s, you played %s at skill %d, %d plies",
		formatShortTime(g.EndedAt), g.Result, g.ResultMethod, g.HumanColor, g.Skill, plies)
	if d := formatGameDuration(g.Duration); d != "" {
		line += ", " + d
	}
	return line
}

func formatShortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatGameDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
