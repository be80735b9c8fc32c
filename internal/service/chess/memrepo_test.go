package chess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Chess-bot/internal/domain"
)

func TestMemoryRepositoryGames(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"g1", "g2", "g3"} {
		_, err := repo.InsertGame(ctx, &domain.ChessGame{
			GameID:           id,
			ConversationHash: "h",
			EndedAt:          base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := repo.InsertGame(ctx, &domain.ChessGame{GameID: "g2", ConversationHash: "h"})
	require.ErrorIs(t, err, ErrDuplicateGame)

	games, err := repo.GetRecentGames(ctx, "h", 2)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "g3", games[0].GameID)
	assert.Equal(t, "g2", games[1].GameID)

	other, err := repo.GetRecentGames(ctx, "other", 5)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryRepositoryScoreCard(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	card, err := repo.GetScoreCard(ctx, "h")
	require.NoError(t, err)
	assert.Nil(t, card)

	require.NoError(t, repo.UpsertScoreCard(ctx, &domain.ScoreCard{ConversationHash: "h", GamesPlayed: 1, Wins: 1}))
	card, err = repo.GetScoreCard(ctx, "h")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, 1, card.Wins)
	assert.False(t, card.UpdatedAt.IsZero())

	card.Wins = 99
	again, err := repo.GetScoreCard(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Wins, "returned cards are copies")
}
