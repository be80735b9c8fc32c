package chess

import (
	"context"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corechess "github.com/park285/Cheese-Chess-bot/internal/chess"
)

func TestMoveBeforeColorIsRejected(t *testing.T) {
	sess := startGame(t, newTestRegistry(t, &fakeFactory{}), "c1")

	_, err := sess.Move(context.Background(), "e2e4")
	require.ErrorIs(t, err, ErrColorNotChosen)
	assert.Equal(t, StateAwaitingColor, sess.State())
	assert.Equal(t, 0, sess.Position().Ply())
}

func TestHumanBlackEngineOpens(t *testing.T) {
	sess := startGame(t, newTestRegistry(t, &fakeFactory{}), "c1")

	turn, err := sess.ChooseColor(context.Background(), ColorBlack)
	require.NoError(t, err)
	assert.NotEmpty(t, turn.EngineMove)
	assert.Equal(t, StateInProgress, sess.State())
	assert.Equal(t, nchess.Black, sess.HumanColor())
	assert.Equal(t, nchess.Black, sess.Position().Turn(), "human to move after the engine opened")
	assert.Equal(t, []string{turn.EngineMove}, sess.Position().Moves())
	assert.Equal(t, nchess.Black, sess.Orientation())
}

func TestHumanWhiteMoveGetsLegalReply(t *testing.T) {
	sess := startGame(t, newTestRegistry(t, &fakeFactory{}), "c1")
	ctx := context.Background()

	turn, err := sess.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)
	assert.Empty(t, turn.EngineMove)

	turn, err = sess.Move(ctx, "e2e4")
	require.NoError(t, err)
	assert.Equal(t, "e2e4", turn.HumanMove)

	after, err := corechess.Replay([]string{"e2e4"})
	require.NoError(t, err)
	assert.True(t, after.IsLegal(turn.EngineMove))
	assert.Equal(t, 2, sess.Position().Ply())
	assert.Equal(t, nchess.White, sess.Position().Turn())
}

func TestRandomColorUsesPicker(t *testing.T) {
	r := newTestRegistry(t, &fakeFactory{}, WithColorPicker(func() nchess.Color { return nchess.Black }))
	sess := startGame(t, r, "c1")

	turn, err := sess.ChooseColor(context.Background(), ColorRandom)
	require.NoError(t, err)
	assert.Equal(t, nchess.Black, sess.HumanColor())
	assert.NotEmpty(t, turn.EngineMove)
}

func TestRandomColorIsRoughlyUniform(t *testing.T) {
	counts := map[nchess.Color]int{}
	for i := 0; i < 2000; i++ {
		counts[randomColor()]++
	}
	assert.Greater(t, counts[nchess.White], 800)
	assert.Greater(t, counts[nchess.Black], 800)
}

func TestColorCannotChangeDuringGame(t *testing.T) {
	sess := startGame(t, newTestRegistry(t, &fakeFactory{}), "c1")
	ctx := context.Background()

	_, err := sess.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)
	_, err = sess.Move(ctx, "d2d4")
	require.NoError(t, err)
	before := sess.Position().Moves()

	_, err = sess.ChooseColor(ctx, ColorBlack)
	require.ErrorIs(t, err, ErrColorLocked)
	assert.Equal(t, nchess.White, sess.HumanColor())
	assert.Equal(t, before, sess.Position().Moves())
}

func TestIllegalMoveLeavesSessionUnchanged(t *testing.T) {
	sess := startGame(t, newTestRegistry(t, &fakeFactory{}), "c1")
	ctx := context.Background()
	_, err := sess.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)

	_, err = sess.Move(ctx, "e2e5")
	require.ErrorIs(t, err, corechess.ErrIllegalMove)
	assert.Equal(t, 0, sess.Position().Ply())
	assert.Equal(t, StateInProgress, sess.State())
}

func TestCheckmateFinishesGame(t *testing.T) {
	ff := &fakeFactory{script: []string{"e7e5", "b8c6", "g8f6"}}
	sess := startGame(t, newTestRegistry(t, ff), "c1")
	ctx := context.Background()
	_, err := sess.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)

	for _, mv := range []string{"e2e4", "f1c4", "d1h5"} {
		turn, err := sess.Move(ctx, mv)
		require.NoError(t, err)
		require.False(t, turn.Finished())
	}
	turn, err := sess.Move(ctx, "h5f7")
	require.NoError(t, err)
	require.True(t, turn.Finished())
	assert.Empty(t, turn.EngineMove)
	assert.Equal(t, corechess.Decisive, turn.Outcome.Status)
	assert.Equal(t, nchess.White, turn.Outcome.Winner)
	assert.Equal(t, nchess.Checkmate, turn.Outcome.Method)
	assert.Equal(t, StateFinished, sess.State())

	_, err = sess.Move(ctx, "a2a3")
	require.ErrorIs(t, err, ErrGameFinished)
	_, err = sess.Analyse(ctx)
	require.ErrorIs(t, err, ErrGameFinished)
	_, err = sess.BestMove(ctx)
	require.ErrorIs(t, err, ErrGameFinished)
	_, err = sess.LegalMoves()
	require.ErrorIs(t, err, ErrGameFinished)
	require.NoError(t, sess.SetSkill(ctx, 3), "skill changes are allowed after the game")
}

func TestSkillValidationAndPersistence(t *testing.T) {
	sess := startGame(t, newTestRegistry(t, &fakeFactory{}), "c1")
	ctx := context.Background()

	require.ErrorIs(t, sess.SetSkill(ctx, 25), corechess.ErrInvalidSkill)
	assert.Equal(t, 20, sess.Skill())

	require.NoError(t, sess.SetSkill(ctx, 5))
	_, err := sess.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)
	_, err = sess.Move(ctx, "e2e4")
	require.NoError(t, err)
	assert.Equal(t, 5, sess.Skill())
}

func TestEngineFailureKeepsHumanMoveAndRetries(t *testing.T) {
	ff := &fakeFactory{}
	r := newTestRegistry(t, ff)
	sess := startGame(t, r, "c1")
	ctx := context.Background()
	_, err := sess.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)

	ff.last().failNext = 1
	turn, err := sess.Move(ctx, "e2e4")
	require.ErrorIs(t, err, corechess.ErrEngineUnavailable)
	require.NotNil(t, turn)
	assert.Equal(t, "e2e4", turn.HumanMove)
	assert.Empty(t, turn.EngineMove)
	assert.True(t, sess.EnginePending())
	assert.Equal(t, []string{"e2e4"}, sess.Position().Moves())

	turn, err = sess.Move(ctx, "d2d4")
	require.NoError(t, err)
	assert.True(t, turn.CaughtUp)
	assert.NotEmpty(t, turn.EngineMove)
	assert.False(t, sess.EnginePending())
	moves := sess.Position().Moves()
	assert.Equal(t, []string{"e2e4", turn.EngineMove}, moves, "the retried input is not applied")
}

func TestQueriesWaitForOwedEngineReply(t *testing.T) {
	ff := &fakeFactory{}
	sess := startGame(t, newTestRegistry(t, ff), "c1")
	ctx := context.Background()
	_, err := sess.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)

	ff.last().failNext = 1
	_, err = sess.Move(ctx, "e2e4")
	require.ErrorIs(t, err, corechess.ErrEngineUnavailable)
	require.True(t, sess.EnginePending())

	_, err = sess.Analyse(ctx)
	require.ErrorIs(t, err, corechess.ErrEngineUnavailable)
	_, err = sess.BestMove(ctx)
	require.ErrorIs(t, err, corechess.ErrEngineUnavailable)
	_, err = sess.LegalMoves()
	require.ErrorIs(t, err, corechess.ErrEngineUnavailable)
	assert.Equal(t, []string{"e2e4"}, sess.Position().Moves())
	assert.True(t, sess.EnginePending())

	turn, err := sess.Move(ctx, "d2d4")
	require.NoError(t, err)
	require.True(t, turn.CaughtUp)
	moves, err := sess.LegalMoves()
	require.NoError(t, err)
	assert.Contains(t, moves, "d2d4", "white to move again after the reply")
}

func TestFailedEngineOpeningReleasesColor(t *testing.T) {
	ff := &fakeFactory{}
	sess := startGame(t, newTestRegistry(t, ff), "c1")
	ctx := context.Background()

	ff.last().failNext = 1
	turn, err := sess.ChooseColor(ctx, ColorBlack)
	require.ErrorIs(t, err, corechess.ErrEngineUnavailable)
	assert.Nil(t, turn)
	assert.Equal(t, StateAwaitingColor, sess.State())
	assert.Equal(t, nchess.NoColor, sess.HumanColor())
	assert.False(t, sess.EnginePending())
	assert.Equal(t, 0, sess.Position().Ply())

	turn, err = sess.ChooseColor(ctx, ColorBlack)
	require.NoError(t, err)
	assert.NotEmpty(t, turn.EngineMove)
	assert.Equal(t, nchess.Black, sess.HumanColor())
	assert.Equal(t, []string{turn.EngineMove}, sess.Position().Moves())
}

func TestColorStaysLockedAfterGameEnds(t *testing.T) {
	sess := startGame(t, newTestRegistry(t, &fakeFactory{}), "c1")
	ctx := context.Background()
	_, err := sess.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)
	_, err = sess.Resign()
	require.NoError(t, err)

	_, err = sess.ChooseColor(ctx, ColorBlack)
	require.ErrorIs(t, err, ErrColorLocked)
	assert.Equal(t, nchess.White, sess.HumanColor())
	assert.Equal(t, StateFinished, sess.State())
}

func TestResign(t *testing.T) {
	sess := startGame(t, newTestRegistry(t, &fakeFactory{}), "c1")
	ctx := context.Background()

	_, err := sess.Resign()
	require.ErrorIs(t, err, ErrColorNotChosen)

	_, err = sess.ChooseColor(ctx, ColorBlack)
	require.NoError(t, err)
	turn, err := sess.Resign()
	require.NoError(t, err)
	assert.Equal(t, nchess.White, turn.Outcome.Winner)
	assert.Equal(t, StateFinished, sess.State())

	_, err = sess.Resign()
	require.ErrorIs(t, err, ErrGameFinished)
}

func TestSnapshotAndArchive(t *testing.T) {
	sess := startGame(t, newTestRegistry(t, &fakeFactory{}), "room-1")
	ctx := context.Background()
	_, err := sess.ChooseColor(ctx, ColorWhite)
	require.NoError(t, err)
	_, err = sess.Move(ctx, "e2e4")
	require.NoError(t, err)

	snap := sess.Snapshot()
	assert.Equal(t, "room-1", snap.ConversationID)
	assert.Equal(t, "in_progress", snap.State)
	assert.Equal(t, "white", snap.HumanColor)
	assert.Len(t, snap.Moves, 2)
	assert.Equal(t, 20, snap.Skill)

	_, err = sess.Resign()
	require.NoError(t, err)
	game := sess.Archive()
	assert.Equal(t, sess.GameID(), game.GameID)
	assert.Equal(t, "0-1", game.Result)
	assert.Equal(t, "resignation", game.ResultMethod)
	assert.Equal(t, hashString("room-1"), game.ConversationHash)
	assert.Len(t, game.MovesSAN, 2)
	assert.Contains(t, game.PGN, "e4")
}
