package chesspresenter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	svc "github.com/park285/Cheese-Chess-bot/internal/service/chess"
)

// Egress is the outbound half of a chat channel. Images are base64 PNG.
type Egress interface {
	SendText(ctx context.Context, room, message string) error
	SendImage(ctx context.Context, room, imageBase64 string) error
}

// Presenter delivers replies in order: each reply's text, then its image.
type Presenter struct {
	egress    Egress
	formatter *Formatter
	logger    *zap.Logger
}

func NewPresenter(egress Egress, formatter *Formatter, logger *zap.Logger) *Presenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presenter{egress: egress, formatter: formatter, logger: logger}
}

// Deliver sends replies to room. A reply that fails to render is logged
// and skipped; a failed send stops delivery so later replies are not seen
// out of order.
func (p *Presenter) Deliver(ctx context.Context, room string, replies []svc.Reply) error {
	if p == nil || p.egress == nil {
		return errors.New("presenter has no egress")
	}
	for _, reply := range replies {
		text, err := p.formatter.Text(reply)
		if err != nil {
			p.logger.Error("chess_reply_render_failed",
				zap.String("room", room),
				zap.String("notice", string(reply.Notice)),
				zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			if err := p.egress.SendText(ctx, room, text); err != nil {
				return fmt.Errorf("send %s: %w", reply.Notice, err)
			}
		}
		if len(reply.Image) > 0 {
			encoded := base64.StdEncoding.EncodeToString(reply.Image)
			if err := p.egress.SendImage(ctx, room, encoded); err != nil {
				return fmt.Errorf("send board: %w", err)
			}
		}
	}
	return nil
}
