package chess

import (
	"context"
	"sync"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corechess "github.com/park285/Cheese-Chess-bot/internal/chess"
)

type recordingMetrics struct {
	mu       sync.Mutex
	requests []string
	results  []string
}

func (m *recordingMetrics) ObserveRequest(kind, notice string, _ time.Duration) {
	m.mu.Lock()
	m.requests = append(m.requests, kind+":"+notice)
	m.mu.Unlock()
}

func (m *recordingMetrics) GameFinished(result string) {
	m.mu.Lock()
	m.results = append(m.results, result)
	m.mu.Unlock()
}

type serviceFixture struct {
	svc      *Service
	factory  *fakeFactory
	renderer *stubRenderer
	repo     Repository
	metrics  *recordingMetrics
}

func newServiceFixture(t *testing.T, script ...string) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		factory:  &fakeFactory{script: script},
		renderer: &stubRenderer{},
		repo:     NewMemoryRepository(),
		metrics:  &recordingMetrics{},
	}
	r := newTestRegistry(t, f.factory)
	svc, err := NewService(r, f.renderer, f.repo, f.metrics, Config{}, nil)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *serviceFixture) do(req Request) []Reply {
	if req.ConversationID == "" {
		req.ConversationID = "room"
	}
	return f.svc.Handle(context.Background(), req)
}

func notices(replies []Reply) []Notice {
	out := make([]Notice, 0, len(replies))
	for _, r := range replies {
		out = append(out, r.Notice)
	}
	return out
}

func TestServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(nil, &stubRenderer{}, nil, nil, Config{}, nil)
	require.Error(t, err)

	r := newTestRegistry(t, &fakeFactory{})
	_, err = NewService(r, nil, nil, nil, Config{}, nil)
	require.Error(t, err)
}

func TestServiceHelpAndUnknown(t *testing.T) {
	f := newServiceFixture(t)
	assert.Equal(t, []Notice{NoticeHelp}, notices(f.do(Request{Kind: KindHelp})))
	assert.Empty(t, f.do(Request{Kind: KindUnknown}))
}

func TestServiceWithoutSession(t *testing.T) {
	f := newServiceFixture(t)
	for _, kind := range []RequestKind{KindChooseColor, KindMove, KindAnalyse, KindBestMove, KindLegalMoves, KindStatus, KindResign} {
		replies := f.do(Request{Kind: kind, Move: "e2e4"})
		assert.Equal(t, []Notice{NoticeNoSession}, notices(replies), kind.String())
	}
	assert.Equal(t, []Notice{NoticeHistoryEmpty}, notices(f.do(Request{Kind: KindHistory})))
}

func TestServiceGameFlow(t *testing.T) {
	f := newServiceFixture(t)

	assert.Equal(t, []Notice{NoticeChooseColor}, notices(f.do(Request{Kind: KindNewGame})))
	assert.Equal(t, []Notice{NoticeColorNotChosen}, notices(f.do(Request{Kind: KindMove, Move: "e2e4"})))
	assert.Equal(t, []Notice{NoticeStatusAwaiting}, notices(f.do(Request{Kind: KindStatus})))

	replies := f.do(Request{Kind: KindChooseColor, Color: ColorWhite})
	assert.Equal(t, []Notice{NoticeBoard}, notices(replies))
	assert.Equal(t, []byte("png"), replies[0].Image)

	replies = f.do(Request{Kind: KindMove, Move: "E2E4"})
	require.Equal(t, []Notice{NoticeEngineMove, NoticeBoard}, notices(replies))
	engineMove := replies[0].Move
	after, err := corechess.Replay([]string{"e2e4"})
	require.NoError(t, err)
	assert.True(t, after.IsLegal(engineMove))

	f.renderer.mu.Lock()
	last := f.renderer.calls[len(f.renderer.calls)-1]
	f.renderer.mu.Unlock()
	assert.Equal(t, nchess.White, last.Orientation)
	require.NotNil(t, last.Highlight)

	assert.Equal(t, []Notice{NoticeIllegalMove}, notices(f.do(Request{Kind: KindMove, Move: "e1e3"})))
	assert.Equal(t, []Notice{NoticeColorLocked}, notices(f.do(Request{Kind: KindChooseColor, Color: ColorBlack})))

	replies = f.do(Request{Kind: KindAnalyse})
	require.Equal(t, []Notice{NoticeAnalysis}, notices(replies))
	assert.Equal(t, corechess.Evaluation{Win: 420, Draw: 380, Loss: 200}, replies[0].Evaluation)

	replies = f.do(Request{Kind: KindBestMove})
	require.Equal(t, []Notice{NoticeBestMove}, notices(replies))
	assert.NotEmpty(t, replies[0].Move)

	replies = f.do(Request{Kind: KindLegalMoves})
	require.Equal(t, []Notice{NoticeLegalMoves}, notices(replies))
	assert.Contains(t, replies[0].Moves, "d2d4")

	replies = f.do(Request{Kind: KindStatus})
	require.Equal(t, []Notice{NoticeStatus, NoticeBoard}, notices(replies))
	assert.Equal(t, 2, replies[0].Status.MoveNumber)
	assert.Equal(t, nchess.White, replies[0].Status.Turn)
}

func TestServiceSkillRequests(t *testing.T) {
	f := newServiceFixture(t)
	f.do(Request{Kind: KindNewGame})

	assert.Equal(t, []Notice{NoticeWrongInput}, notices(f.do(Request{Kind: KindSetSkill, Malformed: true})))
	assert.Equal(t, []Notice{NoticeWrongInput}, notices(f.do(Request{Kind: KindSetSkill, Skill: -1})))

	replies := f.do(Request{Kind: KindSetSkill, Skill: 4})
	require.Equal(t, []Notice{NoticeSkillSet}, notices(replies))
	assert.Equal(t, 4, replies[0].Skill)
	assert.Equal(t, 4, f.factory.last().Skill())
}

func TestServiceEngineFailureThenCatchUp(t *testing.T) {
	f := newServiceFixture(t)
	f.do(Request{Kind: KindNewGame})
	f.do(Request{Kind: KindChooseColor, Color: ColorWhite})

	f.factory.last().failNext = 1
	replies := f.do(Request{Kind: KindMove, Move: "e2e4"})
	assert.Equal(t, []Notice{NoticeBoard, NoticeEngineUnavailable}, notices(replies))

	assert.Equal(t, []Notice{NoticeEngineUnavailable}, notices(f.do(Request{Kind: KindBestMove})))
	assert.Equal(t, []Notice{NoticeEngineUnavailable}, notices(f.do(Request{Kind: KindLegalMoves})))

	replies = f.do(Request{Kind: KindMove, Move: "d2d4"})
	assert.Equal(t, []Notice{NoticeEngineCaughtUp, NoticeBoard}, notices(replies))
}

func TestServiceFailedEngineOpeningAsksForColorAgain(t *testing.T) {
	f := newServiceFixture(t)
	f.do(Request{Kind: KindNewGame})

	f.factory.last().failNext = 1
	replies := f.do(Request{Kind: KindChooseColor, Color: ColorBlack})
	assert.Equal(t, []Notice{NoticeEngineNoOpening}, notices(replies))

	replies = f.do(Request{Kind: KindChooseColor, Color: ColorBlack})
	assert.Equal(t, []Notice{NoticeEngineMove, NoticeBoard}, notices(replies))
}

func TestServiceCheckmateIsArchived(t *testing.T) {
	f := newServiceFixture(t, "e7e5", "b8c6", "g8f6")
	f.do(Request{Kind: KindNewGame})
	f.do(Request{Kind: KindChooseColor, Color: ColorWhite})
	for _, mv := range []string{"e2e4", "f1c4", "d1h5"} {
		require.Equal(t, []Notice{NoticeEngineMove, NoticeBoard}, notices(f.do(Request{Kind: KindMove, Move: mv})))
	}

	replies := f.do(Request{Kind: KindMove, Move: "h5f7"})
	require.Equal(t, []Notice{NoticeBoard, NoticeGameOver}, notices(replies))
	assert.Equal(t, "1-0", replies[1].Outcome.Result())

	assert.Equal(t, []Notice{NoticeGameFinished}, notices(f.do(Request{Kind: KindMove, Move: "a2a3"})))
	assert.Equal(t, []Notice{NoticeStatus, NoticeBoard, NoticeGameOver}, notices(f.do(Request{Kind: KindStatus})))

	replies = f.do(Request{Kind: KindHistory})
	require.Equal(t, []Notice{NoticeHistory}, notices(replies))
	require.NotNil(t, replies[0].Card)
	assert.Equal(t, 1, replies[0].Card.GamesPlayed)
	assert.Equal(t, 1, replies[0].Card.Wins)
	require.Len(t, replies[0].Games, 1)
	assert.Equal(t, "checkmate", replies[0].Games[0].ResultMethod)
	assert.Equal(t, []string{"1-0"}, f.metrics.results)
}

func TestServiceResignCountsAsLoss(t *testing.T) {
	f := newServiceFixture(t)
	f.do(Request{Kind: KindNewGame})
	f.do(Request{Kind: KindChooseColor, Color: ColorBlack})

	replies := f.do(Request{Kind: KindResign})
	require.Equal(t, []Notice{NoticeResigned, NoticeBoard}, notices(replies))
	assert.Equal(t, nchess.White, replies[0].Outcome.Winner)

	f.renderer.mu.Lock()
	last := f.renderer.calls[len(f.renderer.calls)-1]
	f.renderer.mu.Unlock()
	assert.Equal(t, nchess.Black, last.Orientation)

	card, err := f.repo.GetScoreCard(context.Background(), hashString("room"))
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, 1, card.Losses)
}

func TestServiceRecordsMetrics(t *testing.T) {
	f := newServiceFixture(t)
	f.do(Request{Kind: KindHelp})
	f.do(Request{Kind: KindMove, Move: "e2e4"})

	assert.Equal(t, []string{"help:help", "move:error.no_session"}, f.metrics.requests)
}

func TestNoticeForError(t *testing.T) {
	assert.Equal(t, NoticeEngineBusy, noticeForError(corechess.ErrEngineCapacity))
	assert.Equal(t, NoticeEngineUnavailable, noticeForError(context.DeadlineExceeded))
	assert.Equal(t, NoticeInternal, noticeForError(assert.AnError))
	assert.True(t, NoticeInternal.IsError())
	assert.False(t, NoticeBoard.IsError())
}
