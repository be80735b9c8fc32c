package chess

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/park285/Cheese-Chess-bot/internal/domain"
)

var ErrDuplicateGame = errors.New("chess game already exists")

//go:embed schema.sql
var schemaSQL string

// Repository archives finished games and per-conversation tallies.
type Repository interface {
	InsertGame(ctx context.Context, game *domain.ChessGame) (int64, error)
	GetRecentGames(ctx context.Context, conversationHash string, limit int) ([]*domain.ChessGame, error)
	GetScoreCard(ctx context.Context, conversationHash string) (*domain.ScoreCard, error)
	UpsertScoreCard(ctx context.Context, card *domain.ScoreCard) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// EnsureSchema creates the archive tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply chess schema: %w", err)
	}
	return nil
}

func (r *repository) InsertGame(ctx context.Context, game *domain.ChessGame) (int64, error) {
	if game == nil {
		return 0, fmt.Errorf("nil chess game payload")
	}

	movesUCI, err := json.Marshal(game.MovesUCI)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(game.MovesSAN)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO chess_games (
			game_id,
			conversation_hash,
			human_color,
			skill,
			result,
			result_method,
			moves_uci,
			moves_san,
			pgn,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11, $12)
		ON CONFLICT (game_id) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		game.GameID,
		game.ConversationHash,
		game.HumanColor,
		game.Skill,
		game.Result,
		game.ResultMethod,
		movesUCI,
		movesSAN,
		game.PGN,
		game.StartedAt,
		game.EndedAt,
		game.Duration.Milliseconds(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		return 0, fmt.Errorf("insert chess game: %w", err)
	}
	return id.Int64, nil
}

func (r *repository) GetRecentGames(ctx context.Context, conversationHash string, limit int) ([]*domain.ChessGame, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT
			id,
			game_id,
			conversation_hash,
			human_color,
			skill,
			result,
			result_method,
			moves_uci,
			moves_san,
			pgn,
			started_at,
			ended_at,
			duration_ms
		FROM chess_games
		WHERE conversation_hash = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, conversationHash, limit)
	if err != nil {
		return nil, fmt.Errorf("select chess games: %w", err)
	}
	defer rows.Close()

	games := make([]*domain.ChessGame, 0, limit)
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chess games: %w", err)
	}
	return games, nil
}

func scanGame(rows *sql.Rows) (*domain.ChessGame, error) {
	var (
		game         domain.ChessGame
		movesUCIJSON []byte
		movesSANJSON []byte
		durationMS   sql.NullInt64
	)
	if err := rows.Scan(
		&game.ID,
		&game.GameID,
		&game.ConversationHash,
		&game.HumanColor,
		&game.Skill,
		&game.Result,
		&game.ResultMethod,
		&movesUCIJSON,
		&movesSANJSON,
		&game.PGN,
		&game.StartedAt,
		&game.EndedAt,
		&durationMS,
	); err != nil {
		return nil, fmt.Errorf("scan chess game: %w", err)
	}
	if durationMS.Valid {
		game.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	if err := json.Unmarshal(movesUCIJSON, &game.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(movesSANJSON, &game.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	return &game, nil
}

func (r *repository) GetScoreCard(ctx context.Context, conversationHash string) (*domain.ScoreCard, error) {
	const query = `
		SELECT
			conversation_hash,
			games_played,
			wins,
			losses,
			draws,
			last_played_at,
			updated_at
		FROM chess_scorecards
		WHERE conversation_hash = $1
		LIMIT 1`

	var card domain.ScoreCard
	err := r.db.QueryRowContext(ctx, query, conversationHash).Scan(
		&card.ConversationHash,
		&card.GamesPlayed,
		&card.Wins,
		&card.Losses,
		&card.Draws,
		&card.LastPlayedAt,
		&card.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select chess scorecard: %w", err)
	}
	return &card, nil
}

func (r *repository) UpsertScoreCard(ctx context.Context, card *domain.ScoreCard) error {
	if card == nil {
		return fmt.Errorf("nil chess scorecard payload")
	}
	const query = `
		INSERT INTO chess_scorecards (
			conversation_hash,
			games_played,
			wins,
			losses,
			draws,
			last_played_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (conversation_hash)
		DO UPDATE SET
			games_played = EXCLUDED.games_played,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			last_played_at = EXCLUDED.last_played_at,
			updated_at = NOW()`

	_, err := r.db.ExecContext(
		ctx,
		query,
		card.ConversationHash,
		card.GamesPlayed,
		card.Wins,
		card.Losses,
		card.Draws,
		card.LastPlayedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert chess scorecard: %w", err)
	}
	return nil
}
