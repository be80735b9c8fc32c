package util

import "strings"

const (
	KakaoSeeMorePadding = 500
	KakaoZeroWidthSpace = "\u200b"
)

// ApplyKakaoSeeMorePadding puts instruction on the first line followed by
// enough zero-width spaces that KakaoTalk folds text behind "see more".
func ApplyKakaoSeeMorePadding(text, instruction string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	message := strings.TrimSpace(instruction)

	var builder strings.Builder
	builder.Grow(len(text) + KakaoSeeMorePadding*len(KakaoZeroWidthSpace) + len(message) + 1)
	builder.WriteString(message)
	builder.WriteString(strings.Repeat(KakaoZeroWidthSpace, KakaoSeeMorePadding))
	if !strings.HasPrefix(text, "\n") {
		builder.WriteByte('\n')
	}
	builder.WriteString(text)
	return builder.String()
}

// SplitHeadline returns the first line of text and the remainder.
func SplitHeadline(text string) (headline, body string) {
	text = strings.TrimSpace(text)
	headline, body, _ = strings.Cut(text, "\n")
	return strings.TrimRight(headline, "\r"), body
}

// FoldLongMessage folds text behind "see more" when it has more than
// maxLines lines, keeping its first line visible. maxLines <= 0 disables
// folding.
func FoldLongMessage(text string, maxLines int) string {
	if maxLines <= 0 || strings.Count(text, "\n")+1 <= maxLines {
		return text
	}
	headline, body := SplitHeadline(text)
	if strings.TrimSpace(body) == "" {
		return text
	}
	return ApplyKakaoSeeMorePadding(body, headline)
}
