package uci_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Chess-bot/internal/chess/uci"
)

// Runs against a real engine only when CHESS_TEST_STOCKFISH names a binary.
func newStockfishSession(t *testing.T) *uci.Session {
	t.Helper()
	path := os.Getenv("CHESS_TEST_STOCKFISH")
	if path == "" {
		t.Skip("CHESS_TEST_STOCKFISH not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := uci.NewSession(ctx, uci.LaunchConfig{Path: path}, uci.Options{SkillLevel: 20, ShowWDL: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStockfishWDLFollowsSideToMove(t *testing.T) {
	s := newStockfishSession(t)

	tests := []struct {
		name  string
		fen   string
		check func(t *testing.T, wdl uci.WDL)
	}{
		{
			name:  "queen up, own move",
			fen:   "7k/8/8/8/8/8/8/KQ6 w - - 0 1",
			check: func(t *testing.T, wdl uci.WDL) { assert.Greater(t, wdl.Win, 900) },
		},
		{
			name:  "queen down, own move",
			fen:   "7k/8/8/8/8/8/8/KQ6 b - - 0 1",
			check: func(t *testing.T, wdl uci.WDL) { assert.Greater(t, wdl.Loss, 900) },
		},
		{
			name:  "lone knight",
			fen:   "7k/8/8/8/8/8/8/KN6 w - - 0 1",
			check: func(t *testing.T, wdl uci.WDL) { assert.Greater(t, wdl.Draw, 900) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.Search(context.Background(), uci.SearchRequest{
				FEN:    tt.fen,
				Limits: uci.Limits{MoveTime: 300 * time.Millisecond},
			})
			require.NoError(t, err)
			require.NotNil(t, resp.WDL)
			assert.Equal(t, 1000, resp.WDL.Win+resp.WDL.Draw+resp.WDL.Loss)
			tt.check(t, *resp.WDL)
			assert.NotEmpty(t, resp.BestMove)
			assert.NotEmpty(t, resp.Candidates)
		})
	}
}
