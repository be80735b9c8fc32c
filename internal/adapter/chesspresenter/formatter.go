// Package chesspresenter renders service replies as chat text and images.
package chesspresenter

import (
	"fmt"
	"strings"

	"github.com/park285/Cheese-Chess-bot/internal/msgcat"
	svc "github.com/park285/Cheese-Chess-bot/internal/service/chess"
	"github.com/park285/Cheese-Chess-bot/internal/util"
)

// PrefixProvider exposes the command prefix shown in help texts.
type PrefixProvider interface {
	Prefix() string
}

// Formatter renders replies through the message catalog.
type Formatter struct {
	catalog        *msgcat.Catalog
	prefixProvider PrefixProvider
	// foldLines folds replies longer than this behind KakaoTalk's "see
	// more"; zero leaves them as they are.
	foldLines int
}

type FormatterOption func(*Formatter)

func WithSeeMoreFolding(maxLines int) FormatterOption {
	return func(f *Formatter) { f.foldLines = maxLines }
}

func NewFormatter(catalog *msgcat.Catalog, provider PrefixProvider, opts ...FormatterOption) *Formatter {
	f := &Formatter{catalog: catalog, prefixProvider: provider}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Formatter) Prefix() string {
	if f == nil || f.prefixProvider == nil {
		return ""
	}
	return strings.TrimSpace(f.prefixProvider.Prefix())
}

// Text renders the chat text of reply. Image-only replies render to "".
func (f *Formatter) Text(reply svc.Reply) (string, error) {
	switch reply.Notice {
	case "", svc.NoticeBoard:
		return "", nil
	}
	data := viewData(f.Prefix(), reply)
	switch reply.Notice {
	case svc.NoticeGameOver, svc.NoticeResigned:
		result, err := f.result(reply)
		if err != nil {
			return "", err
		}
		data["Result"] = result
	}
	text, err := f.catalog.Render(string(reply.Notice), data)
	if err != nil {
		return "", err
	}
	return util.FoldLongMessage(text, f.foldLines), nil
}

// result composes "White won by checkmate" from the catalog.
func (f *Formatter) result(reply svc.Reply) (string, error) {
	winner, err := f.catalog.Render(resultKey(reply.Outcome), nil)
	if err != nil {
		return "", err
	}
	methodKey := "game.method." + methodKeyName(reply)
	if !f.catalog.Has(methodKey) {
		return winner, nil
	}
	method, err := f.catalog.Render(methodKey, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s", winner, method), nil
}

func methodKeyName(reply svc.Reply) string {
	return svc.MethodName(reply.Outcome.Method)
}
