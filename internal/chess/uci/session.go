package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadyTimeout  = 4 * time.Second
	newGameRetryAttempts = 3
	newGameRetryDelay    = 150 * time.Millisecond
	lineBuffer           = 64
)

// ErrProcessExited is returned once the engine's stdout reaches EOF.
var ErrProcessExited = errors.New("engine process exited")

// LaunchConfig describes how to start the engine binary.
type LaunchConfig struct {
	Path   string
	Args   []string
	Env    []string
	Stderr io.Writer
	Logger *zap.Logger
}

type Options struct {
	Threads    int
	HashMB     int
	SkillLevel int
	ShowWDL    bool
}

type Limits struct {
	MoveTime time.Duration
}

// Candidate is one principal variation reported during a search. Scores are
// from the side to move. MateIn is non-zero for mate scores, in which case
// EvalCP is clamped to plus or minus 30000.
type Candidate struct {
	Move      string
	EvalCP    int
	MateIn    int
	Principal []string
}

// WDL is the win/draw/loss expectation reported by the engine in per-mille,
// from the side to move.
type WDL struct {
	Win  int
	Draw int
	Loss int
}

// Session owns one engine process. A single goroutine drains stdout into
// lines; readers never touch the pipe directly.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	search sync.Mutex

	closeOnce sync.Once
	exited    atomic.Bool
}

func NewSession(ctx context.Context, launch LaunchConfig, opt Options) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	logger := launch.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// The process outlives the acquiring request; ctx only bounds the handshake.
	cmd := exec.Command(launch.Path, launch.Args...)
	if len(launch.Env) > 0 {
		cmd.Env = launch.Env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = launch.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string, lineBuffer),
		done:   make(chan struct{}),
		logger: logger.With(zap.Int("pid", cmd.Process.Pid)),
	}
	go s.readLoop(bufio.NewReader(stdoutPipe))

	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Alive reports whether the process is still producing output.
func (s *Session) Alive() bool {
	return !s.exited.Load()
}

type SearchRequest struct {
	FEN    string
	Moves  []string
	Limits Limits
}

type SearchResponse struct {
	Candidates []Candidate
	BestMove   string
	WDL        *WDL
}

func (s *Session) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	s.search.Lock()
	defer s.search.Unlock()

	goTokens, err := buildGoTokens(req.Limits)
	if err != nil {
		return SearchResponse{}, err
	}
	if err := s.send(buildPositionCommand(req.FEN, req.Moves)); err != nil {
		return SearchResponse{}, fmt.Errorf("send position: %w", err)
	}
	goCmd := strings.Join(goTokens, " ")
	if err := s.send(goCmd + "\n"); err != nil {
		return SearchResponse{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, computeSearchTimeout(req.Limits))
	defer cancel()

	candidates := make(map[int]Candidate)
	var wdl *WDL
	for {
		line, err := s.readLine(searchCtx)
		if err != nil {
			s.logger.Warn("uci_search_read_failed",
				zap.String("go", goCmd),
				zap.Int("plies", len(req.Moves)),
				zap.Error(err))
			return SearchResponse{}, fmt.Errorf("read line: %w", err)
		}

		switch {
		case strings.HasPrefix(line, "info "):
			info, ok := parseInfo(line)
			if !ok {
				continue
			}
			if info.wdl != nil && info.multipv == 1 {
				wdl = info.wdl
			}
			if info.candidate != nil {
				candidates[info.multipv] = *info.candidate
			}
		case strings.HasPrefix(line, "bestmove"):
			parts := strings.Fields(line)
			var best string
			if len(parts) >= 2 {
				best = parts[1]
			}
			return SearchResponse{Candidates: collapseCandidates(candidates), BestMove: best, WDL: wdl}, nil
		}
	}
}

// SetPosition loads a position without searching and waits for the engine to
// acknowledge it.
func (s *Session) SetPosition(ctx context.Context, fen string, moves []string) error {
	s.search.Lock()
	defer s.search.Unlock()

	if err := s.send(buildPositionCommand(fen, moves)); err != nil {
		return fmt.Errorf("send position: %w", err)
	}
	return s.EnsureReady(ctx)
}

// SetOption sends a setoption command and waits for readyok.
func (s *Session) SetOption(ctx context.Context, name, value string) error {
	s.search.Lock()
	defer s.search.Unlock()

	if err := s.send(fmt.Sprintf("setoption name %s value %s\n", name, value)); err != nil {
		return fmt.Errorf("send setoption %s: %w", name, err)
	}
	return s.EnsureReady(ctx)
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func validateOptions(opt Options) error {
	if opt.SkillLevel < 0 || opt.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", opt.SkillLevel)
	}
	if opt.HashMB < 0 {
		return fmt.Errorf("hash size must be >= 0: %d", opt.HashMB)
	}
	if opt.Threads < 0 {
		return fmt.Errorf("threads must be >= 0: %d", opt.Threads)
	}
	return nil
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.MoveTime > 0 {
		ms := l.MoveTime.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		args = append(args, "movetime", strconv.FormatInt(ms, 10))
	}
	if len(args) == 1 {
		return nil, fmt.Errorf("no search limits specified")
	}
	return args, nil
}

func computeSearchTimeout(l Limits) time.Duration {
	if l.MoveTime > 0 {
		return 3*l.MoveTime + 2*time.Second
	}
	return 6 * time.Second
}

type infoLine struct {
	multipv   int
	candidate *Candidate
	wdl       *WDL
}

func parseInfo(line string) (infoLine, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return infoLine{}, false
	}
	out := infoLine{multipv: 1}
	var (
		evalCP int
		mateIn int
		pvIdx  = -1
	)

	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					out.multipv = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				v, err := strconv.Atoi(parts[i+2])
				if err == nil {
					switch parts[i+1] {
					case "cp":
						evalCP = v
					case "mate":
						const mateValue = 30000
						mateIn = v
						if v >= 0 {
							evalCP = mateValue
						} else {
							evalCP = -mateValue
						}
					}
				}
				i += 2
			}
		case "wdl":
			if i+3 < len(parts) {
				w, errW := strconv.Atoi(parts[i+1])
				d, errD := strconv.Atoi(parts[i+2])
				l, errL := strconv.Atoi(parts[i+3])
				if errW == nil && errD == nil && errL == nil {
					out.wdl = &WDL{Win: w, Draw: d, Loss: l}
				}
				i += 3
			}
		case "pv":
			pvIdx = i + 1
			i = len(parts)
		}
	}

	if pvIdx != -1 && pvIdx < len(parts) {
		principal := parts[pvIdx:]
		out.candidate = &Candidate{
			Move:      principal[0],
			EvalCP:    evalCP,
			MateIn:    mateIn,
			Principal: append([]string(nil), principal...),
		}
	}
	if out.candidate == nil && out.wdl == nil {
		return infoLine{}, false
	}
	return out, true
}

func collapseCandidates(m map[int]Candidate) []Candidate {
	if len(m) == 0 {
		return nil
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	result := make([]Candidate, 0, len(keys))
	for _, k := range keys {
		result = append(result, m[k])
	}
	return result
}

func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// NewGame resets engine state between games served by the same process.
func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}

	for attempt := 1; attempt <= newGameRetryAttempts; attempt++ {
		err := s.EnsureReady(ctx)
		if err == nil {
			return nil
		}
		if attempt == newGameRetryAttempts || errors.Is(err, ErrProcessExited) {
			return err
		}
		s.logger.Debug("uci_newgame_retry", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(newGameRetryDelay):
		}
	}
	return nil
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		_, _ = io.WriteString(s.stdin, "quit\n")
		s.stdin.Close()
		s.mu.Unlock()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err = s.cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// killed on purpose
			err = nil
		}
	})
	return err
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	if err := s.applyOptions(opt); err != nil {
		return err
	}
	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) applyOptions(opt Options) error {
	cmds := []string{
		fmt.Sprintf("setoption name Skill Level value %d\n", opt.SkillLevel),
	}
	if opt.Threads > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Threads value %d\n", opt.Threads))
	}
	if opt.HashMB > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB))
	}
	if opt.ShowWDL {
		cmds = append(cmds, "setoption name UCI_ShowWDL value true\n")
	}
	for _, cmd := range cmds {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

func (s *Session) send(msg string) error {
	if s.exited.Load() {
		return ErrProcessExited
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			return "", ErrProcessExited
		}
		return line, nil
	}
}

func (s *Session) readLoop(r *bufio.Reader) {
	defer close(s.lines)
	defer s.exited.Store(true)
	for {
		raw, err := r.ReadString('\n')
		if line := strings.TrimSpace(raw); line != "" {
			select {
			case s.lines <- line:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("uci_stdout_closed", zap.Error(err))
			}
			return
		}
	}
}
