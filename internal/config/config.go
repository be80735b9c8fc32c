// Package config reads the bot's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	// Chat transport, required by serve only.
	IrisBaseURL  string
	IrisWSURL    string
	EgressMode   string
	AllowedRooms []string
	SeeMoreLines int

	XUserID    string
	XUserEmail string
	XSessionID string

	BotPrefix   string
	MessagesDir string
	BoardSize   int

	StockfishPath      string
	EngineMoveTime     time.Duration
	EngineSkill        int
	EngineMaxProcesses int
	EngineThreads      int
	EngineHashMB       int

	SessionTTL     time.Duration
	SessionIdleTTL time.Duration
	HistoryLimit   int
	QueueDepth     int

	RedisURL    string
	DatabaseURL string

	MetricsAddr string
}

// Load reads the process environment.
func Load() (*AppConfig, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads settings through getenv. Only the engine path is required
// here; ValidateTransport checks the chat settings.
func LoadFrom(getenv func(string) string) (*AppConfig, error) {
	env := func(k string) string { return strings.TrimSpace(getenv(k)) }

	cfg := &AppConfig{
		EgressMode:         "http",
		BotPrefix:          "/",
		BoardSize:          640,
		EngineMoveTime:     200 * time.Millisecond,
		EngineSkill:        20,
		EngineMaxProcesses: 16,
		EngineThreads:      1,
		EngineHashMB:       16,
		SessionTTL:         24 * time.Hour,
		SessionIdleTTL:     2 * time.Hour,
		HistoryLimit:       5,
		QueueDepth:         32,
	}

	cfg.IrisBaseURL = env("IRIS_BASE_URL")
	cfg.IrisWSURL = env("IRIS_WS_URL")
	if v := strings.ToLower(env("EGRESS_MODE")); v != "" {
		cfg.EgressMode = v
	}
	cfg.AllowedRooms = splitList(env("ALLOWED_ROOMS"))

	cfg.XUserID = env("X_USER_ID")
	cfg.XUserEmail = env("X_USER_EMAIL")
	cfg.XSessionID = env("X_SESSION_ID")

	if v := env("BOT_PREFIX"); v != "" {
		cfg.BotPrefix = v
	}
	cfg.MessagesDir = env("MESSAGES_DIR")
	cfg.StockfishPath = env("STOCKFISH_PATH")
	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	cfg.MetricsAddr = env("METRICS_ADDR")

	var errs []error
	intVar := func(key string, dst *int, min int) {
		v := env(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < min {
			errs = append(errs, fmt.Errorf("%s: want an integer >= %d, got %q", key, min, v))
			return
		}
		*dst = n
	}
	// durations accept Go syntax ("90s") or a bare number in unit
	durationVar := func(key string, dst *time.Duration, unit time.Duration) {
		v := env(key)
		if v == "" {
			return
		}
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = time.Duration(n) * unit
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}

	intVar("BOARD_SIZE", &cfg.BoardSize, 160)
	intVar("ENGINE_SKILL", &cfg.EngineSkill, 0)
	intVar("ENGINE_MAX_PROCESSES", &cfg.EngineMaxProcesses, 1)
	intVar("ENGINE_THREADS", &cfg.EngineThreads, 1)
	intVar("ENGINE_HASH_MB", &cfg.EngineHashMB, 1)
	intVar("CHESS_HISTORY_LIMIT", &cfg.HistoryLimit, 1)
	intVar("CHESS_QUEUE_DEPTH", &cfg.QueueDepth, 1)
	intVar("KAKAO_SEE_MORE_LINES", &cfg.SeeMoreLines, 0)
	durationVar("ENGINE_MOVE_TIME", &cfg.EngineMoveTime, time.Millisecond)
	durationVar("CHESS_SESSION_TTL", &cfg.SessionTTL, time.Second)
	durationVar("CHESS_IDLE_TTL", &cfg.SessionIdleTTL, time.Second)

	if cfg.EngineSkill > 20 {
		errs = append(errs, fmt.Errorf("ENGINE_SKILL: must be within [0,20], got %d", cfg.EngineSkill))
	}
	if cfg.EngineMoveTime <= 0 {
		errs = append(errs, errors.New("ENGINE_MOVE_TIME must be positive"))
	}
	if cfg.StockfishPath == "" {
		errs = append(errs, errors.New("STOCKFISH_PATH is required"))
	}
	switch cfg.EgressMode {
	case "http", "ws", "auto":
	default:
		errs = append(errs, fmt.Errorf("EGRESS_MODE: want http, ws or auto, got %q", cfg.EgressMode))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateTransport checks the settings the Iris channel needs.
func (c *AppConfig) ValidateTransport() error {
	var errs []error
	if c.IrisBaseURL == "" {
		errs = append(errs, errors.New("IRIS_BASE_URL is required"))
	}
	if c.IrisWSURL == "" {
		errs = append(errs, errors.New("IRIS_WS_URL is required"))
	}
	return errors.Join(errs...)
}

// RoomAllowed reports whether replies may go to room. An empty allow list
// admits every room.
func (c *AppConfig) RoomAllowed(room string) bool {
	if len(c.AllowedRooms) == 0 {
		return true
	}
	room = strings.TrimSpace(room)
	for _, r := range c.AllowedRooms {
		if r == room {
			return true
		}
	}
	return false
}

// Headers returns the X-User-* handshake headers that are set.
func (c *AppConfig) Headers() map[string]string {
	h := map[string]string{}
	if c.XUserID != "" {
		h["X-User-Id"] = c.XUserID
	}
	if c.XUserEmail != "" {
		h["X-User-Email"] = c.XUserEmail
	}
	if c.XSessionID != "" {
		h["X-Session-Id"] = c.XSessionID
	}
	return h
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
