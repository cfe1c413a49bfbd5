package search

import (
	"strings"

	"github.com/hyperjump/ruiji/pkg/utils"
)

// Excerpt returns the text of a note from line startLine (counted from 0),
// trimmed and truncated to maxLen runes.
func Excerpt(text string, startLine, maxLen int) string {
	for i := 0; i < startLine; i++ {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			return ""
		}
		text = text[nl+1:]
	}
	return utils.Truncate(strings.TrimSpace(text), maxLen)
}
