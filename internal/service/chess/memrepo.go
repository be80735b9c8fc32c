package chess

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/Cheese-Chess-bot/internal/domain"
)

// memrepo keeps the archive in memory when no database is configured.
type memrepo struct {
	mu sync.RWMutex

	nextID int64

	gamesByConversation map[string][]*domain.ChessGame
	gameIDs             map[string]struct{}
	cards               map[string]*domain.ScoreCard
}

func NewMemoryRepository() Repository {
	return &memrepo{
		gamesByConversation: make(map[string][]*domain.ChessGame),
		gameIDs:             make(map[string]struct{}),
		cards:               make(map[string]*domain.ScoreCard),
	}
}

func (m *memrepo) InsertGame(_ context.Context, game *domain.ChessGame) (int64, error) {
	if game == nil {
		return 0, ErrDuplicateGame
	}
	key := strings.TrimSpace(game.GameID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.gameIDs[key]; exists {
		return 0, ErrDuplicateGame
	}
	m.nextID++
	stored := *game
	stored.ID = m.nextID
	stored.MovesUCI = append([]string(nil), game.MovesUCI...)
	stored.MovesSAN = append([]string(nil), game.MovesSAN...)

	m.gameIDs[key] = struct{}{}
	m.gamesByConversation[game.ConversationHash] = append(m.gamesByConversation[game.ConversationHash], &stored)
	return stored.ID, nil
}

func (m *memrepo) GetRecentGames(_ context.Context, conversationHash string, limit int) ([]*domain.ChessGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.gamesByConversation[conversationHash]
	items := make([]*domain.ChessGame, 0, len(list))
	for _, g := range list {
		c := *g
		items = append(items, &c)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) GetScoreCard(_ context.Context, conversationHash string) (*domain.ScoreCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cards[conversationHash]; ok {
		card := *c
		return &card, nil
	}
	return nil, nil
}

func (m *memrepo) UpsertScoreCard(_ context.Context, card *domain.ScoreCard) error {
	if card == nil {
		return nil
	}
	stored := *card
	stored.UpdatedAt = time.Now()
	m.mu.Lock()
	m.cards[card.ConversationHash] = &stored
	m.mu.Unlock()
	return nil
}
