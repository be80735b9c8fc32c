// Package ucitest runs a minimal UCI engine inside the test binary so engine
// code can be exercised without a real Stockfish install.
//
// Call MaybeServe from TestMain; Launch then re-executes the test binary as
// the engine process.
package ucitest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/Cheese-Chess-bot/internal/chess/uci"
)

const (
	envServe = "CHESS_UCITEST_ENGINE"
	envMode  = "CHESS_UCITEST_MODE"
	envLog   = "CHESS_UCITEST_LOG"
	envState = "CHESS_UCITEST_STATE"

	logFile    = "commands.log"
	markerFile = "crashed"
)

// Modes alter the fake engine's behaviour.
const (
	// ModeNormal answers every command.
	ModeNormal = "normal"
	// ModeSilentSearch never answers "go".
	ModeSilentSearch = "silent"
	// ModeIllegal answers "go" with a move that is never legal.
	ModeIllegal = "illegal"
	// ModeCrashOnGo exits when asked to search.
	ModeCrashOnGo = "crash"
	// ModeCrashOnce exits on the first search across all processes started
	// by LaunchWith for the same directory, then behaves like ModeNormal.
	ModeCrashOnce = "crash_once"
)

// MaybeServe turns the current process into the fake engine when the test
// binary was launched by Launch. It does not return in that case.
func MaybeServe() {
	if os.Getenv(envServe) != "1" {
		return
	}
	cfg := serveConfig{marker: os.Getenv(envState)}
	var logf *os.File
	if path := os.Getenv(envLog); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			logf = f
			cfg.log = f
		}
	}
	serve(os.Stdin, os.Stdout, os.Getenv(envMode), cfg)
	if logf != nil {
		_ = logf.Close()
	}
	os.Exit(0)
}

// Launch returns a LaunchConfig that starts the fake engine in mode.
func Launch(mode string) uci.LaunchConfig {
	return uci.LaunchConfig{
		Path: os.Args[0],
		Args: []string{"-test.run=^$"},
		Env:  append(os.Environ(), envServe+"=1", envMode+"="+mode),
	}
}

// LaunchWith is Launch with every received command appended to a log in
// dir, which also holds the ModeCrashOnce marker.
func LaunchWith(mode, dir string) uci.LaunchConfig {
	lc := Launch(mode)
	lc.Env = append(lc.Env,
		envLog+"="+filepath.Join(dir, logFile),
		envState+"="+filepath.Join(dir, markerFile))
	return lc
}

// ReadLog returns the commands logged in dir by engines started with
// LaunchWith, oldest first.
func ReadLog(dir string) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, logFile))
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n"), nil
}

type serveConfig struct {
	log    io.Writer
	marker string
}

// Serve speaks UCI on in/out until "quit" or EOF. Searches return the
// lexically first legal move so results are deterministic.
func Serve(in io.Reader, out io.Writer, mode string) {
	serve(in, out, mode, serveConfig{})
}

func serve(in io.Reader, out io.Writer, mode string, cfg serveConfig) {
	w := bufio.NewWriter(out)
	say := func(format string, args ...any) {
		fmt.Fprintf(w, format+"\n", args...)
		w.Flush()
	}

	game := nchess.NewGame()
	skill := "20"
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if cfg.log != nil {
			fmt.Fprintln(cfg.log, scanner.Text())
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "uci":
			say("id name ucitest")
			say("option name Skill Level type spin default 20 min 0 max 20")
			say("uciok")
		case "isready":
			say("readyok")
		case "ucinewgame":
			game = nchess.NewGame()
		case "setoption":
			if name, value := optionOf(fields); name == "Skill Level" {
				skill = value
			}
		case "position":
			game = positionOf(fields)
		case "go":
			switch mode {
			case ModeSilentSearch:
				continue
			case ModeCrashOnGo:
				return
			case ModeCrashOnce:
				if firstCrash(cfg.marker) {
					return
				}
			case ModeIllegal:
				say("bestmove a1a1")
				continue
			}
			moves := legalMoves(game)
			if len(moves) == 0 {
				say("info depth 0 score mate 0")
				say("bestmove (none)")
				continue
			}
			say("info string skill %s", skill)
			say("info depth 1 multipv 1 score cp 17 wdl 420 380 200 pv %s", strings.Join(principal(game, moves[0]), " "))
			say("bestmove %s", moves[0])
		case "quit":
			return
		}
	}
}

// firstCrash reports whether no process has crashed yet and records that one
// is about to.
func firstCrash(marker string) bool {
	if marker == "" {
		return true
	}
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// principal is first followed by the opponent's first sorted reply, if any.
func principal(game *nchess.Game, first string) []string {
	line := []string{first}
	next := game.Clone()
	mv, err := nchess.UCINotation{}.Decode(next.Position(), first)
	if err != nil || next.Move(mv, nil) != nil {
		return line
	}
	if replies := legalMoves(next); len(replies) > 0 {
		line = append(line, replies[0])
	}
	return line
}

func optionOf(fields []string) (string, string) {
	var name, value []string
	target := &name
	for _, f := range fields[1:] {
		switch f {
		case "name":
			target = &name
		case "value":
			target = &value
		default:
			*target = append(*target, f)
		}
	}
	return strings.Join(name, " "), strings.Join(value, " ")
}

func positionOf(fields []string) *nchess.Game {
	game := nchess.NewGame()
	idx := -1
	for i, f := range fields {
		if f == "moves" {
			idx = i + 1
			break
		}
	}
	if idx < 0 {
		return game
	}
	for _, text := range fields[idx:] {
		pos := game.Position()
		mv, err := nchess.UCINotation{}.Decode(pos, text)
		if err != nil {
			break
		}
		if err := game.Move(mv, nil); err != nil {
			break
		}
	}
	return game
}

func legalMoves(game *nchess.Game) []string {
	pos := game.Position()
	valid := game.ValidMoves()
	out := make([]string, 0, len(valid))
	for i := range valid {
		out = append(out, nchess.UCINotation{}.Encode(pos, &valid[i]))
	}
	sort.Strings(out)
	return out
}
