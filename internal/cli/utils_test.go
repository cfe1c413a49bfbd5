package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
)

func sampleResponse() *models.NearestResponse {
	return &models.NearestResponse{
		Query:     "test query",
		QueryTime: 42,
		Total:     3,
		Matches: []*models.DocumentMatch{
			{
				DocumentID: "doc-1",
				Title:      "Test Doc",
				Score:      0.91,
				Chunks: []*models.ScoredChunk{
					{StartLine: 4, HeadingTitle: "Setup", Similarity: 0.91, Excerpt: "first line\nsecond line"},
					{StartLine: 0, Similarity: 0.52},
				},
			},
		},
	}
}

func TestWriteNearestResults_JSON(t *testing.T) {
	response := sampleResponse()
	var buf bytes.Buffer
	if err := WriteNearestResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteNearestResults(json): %v", err)
	}
	var decoded models.NearestResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.Total != 3 {
		t.Errorf("decoded query=%q total=%d", decoded.Query, decoded.Total)
	}
	if len(decoded.Matches) != 1 || decoded.Matches[0].DocumentID != "doc-1" {
		t.Errorf("decoded matches: %+v", decoded.Matches)
	}
}

func TestWriteNearestResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteNearestResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 3 notes in 42ms (showing 1)", "Title: Test Doc", "line 4  0.9100  Setup", "(top)", "first line second line"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteNearestResults_compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteNearestResults(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "1\t0.9100\tdoc-1\tTest Doc\n"; got != want {
		t.Errorf("compact = %q, want %q", got, want)
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"compact", OutputCompact, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteStatus_text(t *testing.T) {
	disk := int64(3 * 1024 * 1024)
	st := &StatusReport{
		Store:           storage.Stats{Documents: 12, Chunks: 40},
		StorePath:       "/data/mock.sqlite",
		VectorIndexSize: 40,
		Identity:        &models.ModelIdentity{Name: "mock", Version: "1", MaxBlockSize: 200, SchemaVersion: 1},
		Gateway:         &embedding.GatewayStats{Dispatched: 7},
		DiskUsageBytes:  &disk,
		Rebuild: indexer.Status{
			State:     indexer.StateRunning,
			Scope:     "full",
			Processed: 3,
			Total:     12,
			LastState: indexer.StateCompleted,
			LastSummary: &indexer.Summary{
				Scope: "full", Succeeded: 10, Failed: 1, Duration: 1500 * time.Millisecond,
				Errors: []string{"doc-9: embedding failed: boom"},
			},
			PendingIDs: 2,
		},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Model:        mock@1/b200/s1",
		"Documents:    12",
		"Disk usage:   3.0 MiB",
		"running full (3/12)",
		"full: 10 embedded, 0 unchanged, 0 reused, 0 skipped, 1 failed, 0 deleted in 1.5s",
		"doc-9: embedding failed: boom",
		"Pending:      2 changed notes",
		"7 calls",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteStatus_JSONRoundTripsServerShape(t *testing.T) {
	raw := `{"rebuild":{"state":"idle","processed":0,"total":0,"pending_ids":0},"store":{"documents":2,"chunks":5,"identities":1},"store_path":"/x.sqlite","vector_index_size":5,"disk_usage_bytes":4096}`
	var st StatusReport
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		t.Fatal(err)
	}
	if st.Store.Chunks != 5 || st.DiskUsageBytes == nil || *st.DiskUsageBytes != 4096 {
		t.Errorf("decoded %+v", st)
	}
	if st.Identity != nil || st.Gateway != nil {
		t.Error("absent fields should stay nil")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024 * 1024, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
