// Package cli provides output formatting for the ruiji command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteNearestResults writes query results to w in the given format.
func WriteNearestResults(w io.Writer, response *models.NearestResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for i, m := range response.Matches {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, m.Score, m.DocumentID, m.Title)
		}
		return nil
	default:
		writeNearestText(w, response)
		return nil
	}
}

func writeNearestText(w io.Writer, response *models.NearestResponse) {
	fmt.Fprintf(w, "\nFound %d notes in %dms (showing %d)\n\n", response.Total, response.QueryTime, len(response.Matches))
	for i, m := range response.Matches {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Chunks: %d\n", i+1, m.Score, len(m.Chunks))
		fmt.Fprintf(w, "ID: %s\n", m.DocumentID)
		if m.Title != "" {
			fmt.Fprintf(w, "Title: %s\n", m.Title)
		}
		for _, c := range m.Chunks {
			label := c.HeadingTitle
			if label == "" {
				label = "(top)"
			}
			fmt.Fprintf(w, "  line %d  %.4f  %s\n", c.StartLine, c.Similarity, label)
			if c.Excerpt != "" {
				fmt.Fprintf(w, "    %s\n", utils.Truncate(strings.ReplaceAll(c.Excerpt, "\n", " "), 120))
			}
		}
		fmt.Fprintln(w)
	}
}

// StatusReport is the shape of GET /api/v1/status.
type StatusReport struct {
	Rebuild         indexer.Status          `json:"rebuild"`
	Store           storage.Stats           `json:"store"`
	StorePath       string                  `json:"store_path"`
	VectorIndexSize int                     `json:"vector_index_size"`
	Identity        *models.ModelIdentity   `json:"identity,omitempty"`
	Gateway         *embedding.GatewayStats `json:"gateway,omitempty"`
	DiskUsageBytes  *int64                  `json:"disk_usage_bytes,omitempty"`
}

// WriteStatus writes a status report to w.
func WriteStatus(w io.Writer, st *StatusReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Store:        %s\n", st.StorePath)
	if st.Identity != nil {
		fmt.Fprintf(w, "Model:        %s\n", st.Identity)
	} else {
		fmt.Fprintf(w, "Model:        (no completed build)\n")
	}
	fmt.Fprintf(w, "Documents:    %d\n", st.Store.Documents)
	fmt.Fprintf(w, "Chunks:       %d (%d in memory)\n", st.Store.Chunks, st.VectorIndexSize)
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:   %s\n", FormatBytes(*st.DiskUsageBytes))
	}
	r := st.Rebuild
	switch r.State {
	case indexer.StateRunning:
		fmt.Fprintf(w, "Rebuild:      running %s (%d/%d)\n", r.Scope, r.Processed, r.Total)
	default:
		fmt.Fprintf(w, "Rebuild:      idle\n")
	}
	if r.LastSummary != nil {
		fmt.Fprintf(w, "Last rebuild: %s, ", r.LastState)
		WriteSummary(w, r.LastSummary)
	}
	if r.LastError != "" {
		fmt.Fprintf(w, "Last error:   %s\n", r.LastError)
	}
	if r.PendingIDs > 0 {
		fmt.Fprintf(w, "Pending:      %d changed notes\n", r.PendingIDs)
	}
	if r.PendingSwitch != nil {
		fmt.Fprintf(w, "Pending switch to %s; run 'ruiji rebuild --force' to adopt it\n", r.PendingSwitch)
	}
	if g := st.Gateway; g != nil {
		fmt.Fprintf(w, "Provider:     %d calls, %d retried, %d failed, %d cache hits\n", g.Dispatched, g.Retried, g.Failed, g.CacheHits)
	}
	return nil
}

// WriteSummary writes a one-line rebuild summary followed by any recorded errors.
func WriteSummary(w io.Writer, s *indexer.Summary) {
	fmt.Fprintf(w, "%s: %d embedded, %d unchanged, %d reused, %d skipped, %d failed, %d deleted in %s\n",
		s.Scope, s.Succeeded, s.Unchanged, s.Reused, s.Skipped, s.Failed, s.Deleted, s.Duration.Round(time.Millisecond))
	if s.FailedDocument != "" {
		fmt.Fprintf(w, "  stopped at document %s\n", s.FailedDocument)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
