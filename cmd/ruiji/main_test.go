package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/hyperjump/ruiji/internal/cli"
	"github.com/hyperjump/ruiji/internal/hashing"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/notes"
	"github.com/hyperjump/ruiji/internal/storage"
)

func TestBuildQueryText(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"single quoted arg", []string{"release checklist"}, "release checklist"},
		{"unquoted words", []string{"release", "checklist"}, "release checklist"},
		{"surrounding space", []string{" release ", "checklist "}, "release   checklist"},
		{"empty", []string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQueryText(tt.args); got != tt.want {
				t.Errorf("buildQueryText(%q) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestResolveDocID(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	abs := filepath.Join(root, "sub", "a.md")
	if err := os.WriteFile(abs, []byte("# A\n"), 0644); err != nil {
		t.Fatal(err)
	}
	vault, err := notes.NewVault(root)
	if err != nil {
		t.Fatal(err)
	}
	want := hashing.PathID("sub/a.md")

	for _, arg := range []string{want, abs, "sub/a.md"} {
		got, err := resolveDocID(vault, arg)
		if err != nil {
			t.Fatalf("resolveDocID(%q): %v", arg, err)
		}
		if got != want {
			t.Errorf("resolveDocID(%q) = %s, want %s", arg, got, want)
		}
	}
	if _, err := resolveDocID(vault, filepath.Join(t.TempDir(), "elsewhere.md")); err == nil {
		t.Error("expected error for a path outside the vault")
	}
}

func TestLockHint(t *testing.T) {
	err := lockHint(&storage.StoreError{Op: "open", Err: storage.ErrLocked})
	if !errors.Is(err, storage.ErrLocked) || !strings.Contains(err.Error(), "--server") {
		t.Errorf("lockHint = %v", err)
	}
	plain := errors.New("boom")
	if lockHint(plain) != plain {
		t.Error("unrelated errors should pass through")
	}
}

func TestAPIClient_ErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "rebuild already in progress"})
	}))
	defer ts.Close()

	_, err := newAPIClient(ts.URL+"/").rebuild(context.Background(), nil, false)
	if err == nil || !strings.Contains(err.Error(), "409: rebuild already in progress") {
		t.Errorf("err = %v", err)
	}
}

func TestAPIClient_Related(t *testing.T) {
	var gotPath, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(models.NearestResponse{Query: "note:1", Matches: []*models.DocumentMatch{}})
	}))
	defer ts.Close()

	resp, err := newAPIClient(ts.URL).related(context.Background(), "note:1", models.NearestQuery{MaxResults: 3, Aggregation: models.AggregateMean})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/v1/documents/note:1/related" {
		t.Errorf("path = %s", gotPath)
	}
	if gotQuery != "aggregation=mean&limit=3" {
		t.Errorf("query = %s", gotQuery)
	}
	if resp.Query != "note:1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestQueryFlags_MinSimilarity(t *testing.T) {
	f := &queryFlags{}
	cmd := &cobra.Command{Use: "nearest"}
	f.register(cmd)

	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatal(err)
	}
	if q := f.query("x"); q.MinSimilarity != nil {
		t.Errorf("unset flag should leave the threshold to config, got %v", *q.MinSimilarity)
	}

	if err := cmd.ParseFlags([]string{"--min-similarity", "0"}); err != nil {
		t.Fatal(err)
	}
	q := f.query("x")
	if q.MinSimilarity == nil || *q.MinSimilarity != 0 {
		t.Errorf("explicit zero lost: %v", q.MinSimilarity)
	}
}

func TestAPIClient_RelatedZeroThreshold(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(models.NearestResponse{Matches: []*models.DocumentMatch{}})
	}))
	defer ts.Close()

	_, err := newAPIClient(ts.URL).related(context.Background(), "a", models.NearestQuery{MinSimilarity: models.Threshold(0)})
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "min_similarity=0" {
		t.Errorf("query = %s", gotQuery)
	}
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommands_DirectMode(t *testing.T) {
	dir := t.TempDir()
	vaultDir := filepath.Join(dir, "vault")
	if err := os.MkdirAll(vaultDir, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"alpha.md": "# Alpha\nVector search over notes.\n",
		"beta.md":  "# Beta\nGardening and tomatoes.\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(vaultDir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	configPath := filepath.Join(dir, "config.yaml")
	content := `
storage:
  data_dir: ./data
vault:
  root: ./vault
embedding:
  provider: mock
  dimensions: 16
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "rebuild", "--config", configPath)
	if err != nil {
		t.Fatalf("rebuild: %v\n%s", err, out)
	}
	if !strings.Contains(out, "full: 2 embedded") {
		t.Errorf("rebuild output = %q", out)
	}

	out, err = runCLI(t, "nearest", "--config", configPath, "--server", "", "--min-similarity", "-1", "-o", "compact", "vector", "search")
	if err != nil {
		t.Fatalf("nearest: %v\n%s", err, out)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 2 {
		t.Errorf("nearest returned %d lines:\n%s", len(lines), out)
	}

	out, err = runCLI(t, "related", "--config", configPath, "--server", "", "--min-similarity", "-1", "-o", "compact", "alpha.md")
	if err != nil {
		t.Fatalf("related: %v\n%s", err, out)
	}
	if !strings.Contains(out, hashing.PathID("beta.md")) || strings.Contains(out, hashing.PathID("alpha.md")) {
		t.Errorf("related output = %q", out)
	}

	out, err = runCLI(t, "status", "--config", configPath, "--server", "", "-o", "json")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	var st cli.StatusReport
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, out)
	}
	if st.Store.Documents != 2 || st.VectorIndexSize == 0 {
		t.Errorf("status = %+v", st)
	}
	if st.Identity == nil || st.Identity.Name != "mock" {
		t.Errorf("identity = %+v", st.Identity)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "ruiji version dev\n" {
		t.Errorf("version output = %q", out)
	}
}
