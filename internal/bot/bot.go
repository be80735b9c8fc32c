// Package bot connects chat input to the chess service.
package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Chess-bot/internal/command"
	"github.com/park285/Cheese-Chess-bot/internal/dispatch"
	svc "github.com/park285/Cheese-Chess-bot/internal/service/chess"
)

type Handler interface {
	Handle(ctx context.Context, req svc.Request) []svc.Reply
}

type Deliverer interface {
	Deliver(ctx context.Context, room string, replies []svc.Reply) error
}

// Bot parses each message, runs it on its conversation's queue and delivers
// the replies to the room it came from.
type Bot struct {
	parser  *command.Parser
	handler Handler
	out     Deliverer
	queue   *dispatch.Dispatcher
	logger  *zap.Logger
}

func New(parser *command.Parser, handler Handler, out Deliverer, queue *dispatch.Dispatcher, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{parser: parser, handler: handler, out: out, queue: queue, logger: logger}
}

// Accept queues text from conversationID. Text that is not addressed to the
// bot is dropped without error. Messages of one conversation are handled in
// arrival order.
func (b *Bot) Accept(room, conversationID, text string) error {
	req := b.parser.Parse(conversationID, text)
	if req.Kind == svc.KindUnknown {
		return nil
	}
	err := b.queue.Submit(conversationID, func(ctx context.Context) {
		replies := b.handler.Handle(ctx, req)
		if len(replies) == 0 {
			return
		}
		if err := b.out.Deliver(ctx, room, replies); err != nil {
			b.logger.Warn("chess_reply_failed",
				zap.String("room", room),
				zap.String("kind", req.Kind.String()),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("queue %s request: %w", req.Kind, err)
	}
	return nil
}

// Close stops taking messages and waits for queued ones until ctx is done.
func (b *Bot) Close(ctx context.Context) error {
	return b.queue.Close(ctx)
}
