package indexer

import (
	"strings"
	"testing"

	"github.com/hyperjump/ruiji/internal/models"
)

func TestChunk_TitleAndSentences(t *testing.T) {
	blocks := ChunkAll("# Title\nHello world. Bye.", "Note", 100)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d: %+v", len(blocks), blocks)
	}
	b := blocks[0]
	if b.StartLine != 1 || b.HeadingTitle != "Title" || b.HeadingLevel != 1 {
		t.Errorf("got %+v", b)
	}
	if b.Text != "Hello world. Bye." {
		t.Errorf("text = %q", b.Text)
	}
}

func TestChunk_DefaultsToNoteTitle(t *testing.T) {
	blocks := ChunkAll("just some text", "My note", 10)
	if len(blocks) != 1 || blocks[0].HeadingLevel != 0 || blocks[0].HeadingTitle != "My note" {
		t.Errorf("got %+v", blocks)
	}
}

func TestChunk_SplitsProseOnSentences(t *testing.T) {
	text := "One two three. Four five six. Seven eight."
	blocks := ChunkAll(text, "", 4)
	want := []string{"One two three.", "Four five six.", "Seven eight."}
	if len(blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %d: %+v", len(want), len(blocks), blocks)
	}
	for i, w := range want {
		if blocks[i].Text != w {
			t.Errorf("block %d = %q, want %q", i, blocks[i].Text, w)
		}
	}
}

func TestChunk_OversizedSentenceKept(t *testing.T) {
	long := strings.Repeat("word ", 20) + "end."
	blocks := ChunkAll("short one.\n"+long, "", 5)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if wordCount(blocks[1].Text) != 21 {
		t.Errorf("oversized sentence truncated: %q", blocks[1].Text)
	}
	if blocks[1].StartLine != 1 {
		t.Errorf("StartLine = %d, want 1", blocks[1].StartLine)
	}
}

func TestChunk_CodeFence(t *testing.T) {
	text := strings.Join([]string{
		"# Setup",
		"Install it.",
		"```go",
		"# not a heading",
		"fmt.Println(1)",
		"```",
		"After code.",
	}, "\n")
	blocks := ChunkAll(text, "", 100)
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d: %+v", len(blocks), blocks)
	}
	code := blocks[1]
	if !code.IsCode || code.HeadingTitle != "go code block" || code.StartLine != 2 {
		t.Errorf("code block = %+v", code)
	}
	if !strings.Contains(code.Text, "# not a heading") {
		t.Error("heading inside fence must stay in the code block")
	}
	if blocks[2].HeadingTitle != "Setup" || blocks[2].StartLine != 6 {
		t.Errorf("prose after fence = %+v", blocks[2])
	}
}

func TestChunk_CodeSplitsOnLines(t *testing.T) {
	text := "```\na b c\nd e f\ng h i\n```"
	blocks := ChunkAll(text, "", 5)
	for _, b := range blocks {
		if !b.IsCode || b.HeadingTitle != "code block" {
			t.Errorf("unexpected block %+v", b)
		}
		for _, line := range strings.Split(b.Text, "\n") {
			if line != "" && line != "```" && wordCount(line) != 3 {
				t.Errorf("line split mid-way: %q", line)
			}
		}
	}
	if len(blocks) < 3 {
		t.Errorf("expected code to be split, got %d blocks", len(blocks))
	}
	if blocks[0].StartLine != 0 {
		t.Errorf("code block should include its fence line, start = %d", blocks[0].StartLine)
	}
}

func TestChunk_UnterminatedFence(t *testing.T) {
	blocks := ChunkAll("intro\n```\ncode here\n# still code", "", 100)
	if len(blocks) != 2 || !blocks[1].IsCode {
		t.Fatalf("got %+v", blocks)
	}
	if !strings.HasSuffix(blocks[1].Text, "# still code") {
		t.Errorf("unterminated fence should run to the end: %q", blocks[1].Text)
	}
}

func TestChunk_NoContentDropped(t *testing.T) {
	text := "# A\nFirst line. Second!\n\nThird? yes\n## B\n```sh\nls -la\n```\ntrailing words without stop"
	var joined strings.Builder
	for b := range Chunk(text, "t", 3) {
		joined.WriteString(b.Text)
		joined.WriteString(" ")
	}
	var want strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if headingRe.MatchString(line) {
			continue
		}
		want.WriteString(line)
		want.WriteString(" ")
	}
	if got, exp := strings.Join(strings.Fields(joined.String()), ""), strings.Join(strings.Fields(want.String()), ""); got != exp {
		t.Errorf("content lost:\n got %q\nwant %q", got, exp)
	}
}

func TestChunk_EmptyAndWhitespace(t *testing.T) {
	if blocks := ChunkAll("   \n\t  \n# Only heading", "", 10); len(blocks) != 0 {
		t.Errorf("expected no blocks, got %+v", blocks)
	}
}

func TestChunk_Restartable(t *testing.T) {
	seq := Chunk("a. b. c.", "", 1)
	first, second := 0, 0
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	if first != 3 || first != second {
		t.Errorf("iterations differ: %d vs %d", first, second)
	}
	n := 0
	for range seq {
		n++
		break
	}
	if n != 1 {
		t.Error("early break should stop iteration")
	}
}

func TestDecorate(t *testing.T) {
	b := ChunkAll("# Intro\nHello.", "Doc", 10)[0]
	got := Decorate(b, "Doc")
	if got != "# Doc\n## Intro\n\nHello." {
		t.Errorf("Decorate() = %q", got)
	}
	if !strings.HasSuffix(got, b.Text) {
		t.Error("decoration must keep the raw text")
	}
	if Decorate(models.RawBlock{Text: "x"}, "") != "x" {
		t.Error("no decoration expected without title or heading")
	}
}
