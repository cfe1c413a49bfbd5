package main

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/hyperjump/ruiji/internal/indexer"
)

func progressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// rebuildProgress renders builder progress on stderr. The total grows as
// pages of the vault are listed, so the bar max follows it.
type rebuildProgress struct {
	bar *progressbar.ProgressBar
	max int
}

func newRebuildProgress(enabled bool) *rebuildProgress {
	if !enabled {
		return nil
	}
	return &rebuildProgress{}
}

// Func returns the callback handed to the builder; nil when disabled.
func (p *rebuildProgress) Func() indexer.ProgressFunc {
	if p == nil {
		return nil
	}
	return p.update
}

func (p *rebuildProgress) update(processed, total int) {
	if total <= 0 {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("rebuilding"),
			progressbar.OptionSetWidth(32),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		p.max = total
	}
	if total != p.max {
		p.bar.ChangeMax(total)
		p.max = total
	}
	_ = p.bar.Set(processed)
}

func (p *rebuildProgress) Finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}
