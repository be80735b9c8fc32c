package domain

import "time"

// ChessGame is a finished game kept for history.
type ChessGame struct {
	ID               int64
	GameID           string
	ConversationHash string
	HumanColor       string
	Skill            int
	Result           string
	ResultMethod     string
	MovesUCI         []string
	MovesSAN         []string
	PGN              string
	StartedAt        time.Time
	EndedAt          time.Time
	Duration         time.Duration
}

// ScoreCard tallies a conversation's results against the engine.
type ScoreCard struct {
	ConversationHash string
	GamesPlayed      int
	Wins             int
	Losses           int
	Draws            int
	LastPlayedAt     time.Time
	UpdatedAt        time.Time
}

// SessionSnapshot is the persisted form of a live game.
type SessionSnapshot struct {
	ConversationID string    `json:"conversation_id"`
	GameID         string    `json:"game_id"`
	State          string    `json:"state"`
	HumanColor     string    `json:"human_color,omitempty"`
	Moves          []string  `json:"moves"`
	Skill          int       `json:"skill"`
	EnginePending  bool      `json:"engine_pending,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
