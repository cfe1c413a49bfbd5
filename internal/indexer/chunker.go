// Package indexer chunks notes and keeps the embedding store in sync with the note source.
package indexer

import (
	"iter"
	"regexp"
	"strings"

	"github.com/hyperjump/ruiji/internal/models"
)

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?\n]+`)
)

const fenceMarker = "```"

// segment is a run of lines sharing one label: either prose under a heading or one fenced code block.
type segment struct {
	firstLine int
	lines     []string
	level     int
	title     string
	code      bool
}

// Chunk splits text into blocks of at most maxBlockSize whitespace-delimited
// words. Headings and code fences start new segments; headings inside fences
// are ignored. A single line (code) or sentence (prose) longer than the limit
// becomes its own block. StartLine is the zero-based line offset of the
// block's first character. A maxBlockSize of zero or less disables splitting.
//
// The returned sequence is lazy and can be iterated any number of times.
func Chunk(text, title string, maxBlockSize int) iter.Seq[models.RawBlock] {
	return func(yield func(models.RawBlock) bool) {
		for seg := range segments(text, title) {
			var ok bool
			if seg.code {
				ok = splitCode(seg, maxBlockSize, yield)
			} else {
				ok = splitProse(seg, maxBlockSize, yield)
			}
			if !ok {
				return
			}
		}
	}
}

// ChunkAll collects Chunk into a slice.
func ChunkAll(text, title string, maxBlockSize int) []models.RawBlock {
	var out []models.RawBlock
	for b := range Chunk(text, title, maxBlockSize) {
		out = append(out, b)
	}
	return out
}

func segments(text, title string) iter.Seq[segment] {
	return func(yield func(segment) bool) {
		lines := strings.Split(text, "\n")
		level, heading := 0, title
		cur := segment{level: level, title: heading}
		flush := func(next int) bool {
			if len(cur.lines) > 0 && !yield(cur) {
				return false
			}
			cur = segment{firstLine: next, level: level, title: heading}
			return true
		}

		for i := 0; i < len(lines); i++ {
			line := lines[i]
			trimmed := strings.TrimSpace(line)

			if strings.HasPrefix(trimmed, fenceMarker) {
				if !flush(i) {
					return
				}
				info := strings.TrimSpace(strings.TrimLeft(trimmed, "`"))
				label := "code block"
				if info != "" {
					label = info + " code block"
				}
				code := segment{firstLine: i, lines: []string{line}, level: level, title: label, code: true}
				for i+1 < len(lines) {
					i++
					code.lines = append(code.lines, lines[i])
					if strings.HasPrefix(strings.TrimSpace(lines[i]), fenceMarker) {
						break
					}
				}
				if !yield(code) {
					return
				}
				cur = segment{firstLine: i + 1, level: level, title: heading}
				continue
			}

			if m := headingRe.FindStringSubmatch(line); m != nil {
				level, heading = len(m[1]), m[2]
				if !flush(i + 1) {
					return
				}
				continue
			}
			if len(cur.lines) == 0 {
				cur.firstLine = i
			}
			cur.lines = append(cur.lines, line)
		}
		flush(len(lines))
	}
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func splitCode(seg segment, max int, yield func(models.RawBlock) bool) bool {
	var buf []string
	start, words := seg.firstLine, 0
	emit := func() bool {
		text := strings.Join(buf, "\n")
		buf, words = nil, 0
		if strings.TrimSpace(text) == "" {
			return true
		}
		return yield(models.RawBlock{
			StartLine:    start,
			HeadingLevel: seg.level,
			HeadingTitle: seg.title,
			Text:         text,
			IsCode:       true,
		})
	}
	for i, line := range seg.lines {
		n := wordCount(line)
		if max > 0 && len(buf) > 0 && words+n > max {
			if !emit() {
				return false
			}
		}
		if len(buf) == 0 {
			start = seg.firstLine + i
		}
		buf = append(buf, line)
		words += n
	}
	if len(buf) > 0 {
		return emit()
	}
	return true
}

// sentenceSpans partitions text into spans each ending after one sentence
// terminator run. Leading separators join the first span and a trailing
// fragment without a terminator forms the last span.
func sentenceSpans(text string) [][2]int {
	matches := sentenceRe.FindAllStringIndex(text, -1)
	var spans [][2]int
	prev := 0
	for _, m := range matches {
		spans = append(spans, [2]int{prev, m[1]})
		prev = m[1]
	}
	if prev < len(text) {
		if len(spans) > 0 && strings.TrimSpace(text[prev:]) == "" {
			spans[len(spans)-1][1] = len(text)
		} else {
			spans = append(spans, [2]int{prev, len(text)})
		}
	}
	return spans
}

func splitProse(seg segment, max int, yield func(models.RawBlock) bool) bool {
	text := strings.Join(seg.lines, "\n")
	from, to, words := -1, 0, 0
	emit := func() bool {
		start, end := from, to
		from, words = -1, 0
		body := strings.TrimSpace(text[start:end])
		if body == "" {
			return true
		}
		return yield(models.RawBlock{
			StartLine:    seg.firstLine + strings.Count(text[:leadingOffset(text, start)], "\n"),
			HeadingLevel: seg.level,
			HeadingTitle: seg.title,
			Text:         body,
		})
	}
	for _, sp := range sentenceSpans(text) {
		n := wordCount(text[sp[0]:sp[1]])
		if max > 0 && from >= 0 && words+n > max {
			if !emit() {
				return false
			}
		}
		if from < 0 {
			from = sp[0]
		}
		to = sp[1]
		words += n
	}
	if from >= 0 {
		return emit()
	}
	return true
}

// leadingOffset returns the index of the first non-whitespace byte at or after off.
func leadingOffset(text string, off int) int {
	for off < len(text) {
		switch text[off] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			off++
		default:
			return off
		}
	}
	return off
}

// Decorate builds the provider input for a block by prefixing the note title
// and the heading the block sits under. Stored text never carries it.
func Decorate(b models.RawBlock, title string) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString("# ")
		sb.WriteString(title)
		sb.WriteString("\n")
	}
	if b.HeadingTitle != "" && b.HeadingTitle != title {
		level := b.HeadingLevel
		if level < 2 {
			level = 2
		}
		sb.WriteString(strings.Repeat("#", level))
		sb.WriteString(" ")
		sb.WriteString(b.HeadingTitle)
		sb.WriteString("\n")
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(b.Text)
	return sb.String()
}
