package notes

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/ruiji/internal/extract"
	"github.com/hyperjump/ruiji/internal/hashing"
	"github.com/hyperjump/ruiji/internal/models"
)

// DefaultExtensions are the note formats read when none are configured.
var DefaultExtensions = []string{".md", ".markdown", ".txt"}

// Vault is a Source backed by a directory tree of note files. Document IDs are
// derived from the slash-separated path relative to the root.
type Vault struct {
	root       string
	extensions map[string]struct{}
	extractor  *extract.Extractor
	logger     *zap.Logger

	mu    sync.RWMutex
	paths map[string]string // id -> relative path
}

// VaultOption configures a Vault.
type VaultOption func(*Vault)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) VaultOption {
	return func(v *Vault) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithExtensions sets the file extensions treated as notes.
func WithExtensions(exts []string) VaultOption {
	return func(v *Vault) {
		if len(exts) == 0 {
			return
		}
		v.extensions = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e != "" && !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			v.extensions[e] = struct{}{}
		}
	}
}

// NewVault creates a vault rooted at root.
func NewVault(root string, opts ...VaultOption) (*Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", abs)
	}
	v := &Vault{
		root:      abs,
		extractor: extract.NewExtractor(),
		logger:    zap.NewNop(),
		paths:     make(map[string]string),
	}
	WithExtensions(DefaultExtensions)(v)
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Root returns the absolute vault directory.
func (v *Vault) Root() string {
	return v.root
}

// Accepts reports whether path (absolute or relative to the root) is a note file of the vault.
func (v *Vault) Accepts(path string) bool {
	rel, ok := v.relative(path)
	if !ok || isHidden(rel) {
		return false
	}
	_, ok = v.extensions[strings.ToLower(filepath.Ext(rel))]
	return ok
}

// IDForPath returns the document ID of path.
func (v *Vault) IDForPath(path string) (string, bool) {
	rel, ok := v.relative(path)
	if !ok {
		return "", false
	}
	return hashing.PathID(rel), true
}

func (v *Vault) relative(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), true
	}
	rel, err := filepath.Rel(v.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func isHidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

// scan walks the vault and returns the sorted relative paths of all notes.
func (v *Vault) scan(ctx context.Context) ([]string, error) {
	var rels []string
	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == v.root {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !v.Accepts(path) {
			return nil
		}
		rel, _ := v.relative(path)
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan vault: %w", err)
	}
	sort.Strings(rels)

	paths := make(map[string]string, len(rels))
	for _, rel := range rels {
		paths[hashing.PathID(rel)] = rel
	}
	v.mu.Lock()
	v.paths = paths
	v.mu.Unlock()
	return rels, nil
}

// ListDocuments returns one page of notes ordered by path.
func (v *Vault) ListDocuments(ctx context.Context, page, pageSize int) (*models.DocumentPage, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if page < 0 {
		page = 0
	}
	rels, err := v.scan(ctx)
	if err != nil {
		return nil, err
	}
	start := page * pageSize
	if start >= len(rels) {
		return &models.DocumentPage{Items: []*models.Document{}}, nil
	}
	end := start + pageSize
	if end > len(rels) {
		end = len(rels)
	}
	out := &models.DocumentPage{Items: make([]*models.Document, 0, end-start), HasMore: end < len(rels)}
	for _, rel := range rels[start:end] {
		doc, err := v.read(rel)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			v.logger.Warn("failed to read note", zap.String("path", rel), zap.Error(err))
			continue
		}
		out.Items = append(out.Items, doc)
	}
	return out, nil
}

// GetDocument returns the note with id, or ErrNotFound.
func (v *Vault) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	v.mu.RLock()
	rel, ok := v.paths[id]
	v.mu.RUnlock()
	if !ok {
		if _, err := v.scan(ctx); err != nil {
			return nil, err
		}
		v.mu.RLock()
		rel, ok = v.paths[id]
		v.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}
	doc, err := v.read(rel)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, err
}

func (v *Vault) read(rel string) (*models.Document, error) {
	abs := filepath.Join(v.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(rel))
	doc := &models.Document{
		ID:        hashing.PathID(rel),
		Title:     strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)),
		Path:      rel,
		UpdatedAt: info.ModTime(),
	}
	if dir := filepath.ToSlash(filepath.Dir(rel)); dir != "." {
		doc.Folder = dir
	}

	if !extract.IsMarkup(ext) {
		text, err := v.extractor.Extract(abs)
		if err != nil {
			return nil, err
		}
		doc.Text = text
		return doc, nil
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	text, err := v.extractor.ExtractBytes(raw, ext)
	if err != nil {
		return nil, err
	}
	fm, body := splitFrontMatter(text)
	doc.Text = body
	if fm != nil {
		if fm.Title != "" {
			doc.Title = fm.Title
		}
		doc.Tags = fm.tags()
	}
	return doc, nil
}

type frontMatter struct {
	Title string `yaml:"title"`
	Tags  any    `yaml:"tags"`
}

func (f *frontMatter) tags() []string {
	var out []string
	add := func(s string) {
		s = strings.TrimPrefix(strings.TrimSpace(s), "#")
		if s != "" {
			out = append(out, s)
		}
	}
	switch t := f.Tags.(type) {
	case string:
		for _, s := range strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' }) {
			add(s)
		}
	case []any:
		for _, item := range t {
			add(fmt.Sprint(item))
		}
	}
	return out
}

// splitFrontMatter separates a leading YAML front matter block from the note body.
// Malformed front matter is left in the body.
func splitFrontMatter(text string) (*frontMatter, string) {
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return nil, text
	}
	rest := text[strings.Index(text, "\n")+1:]
	end := -1
	offset := 0
	for _, line := range strings.SplitAfter(rest, "\n") {
		if strings.TrimRight(line, "\r\n") == "---" {
			end = offset
			break
		}
		offset += len(line)
	}
	if end < 0 {
		return nil, text
	}
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, text
	}
	body := ""
	if i := strings.Index(rest[end:], "\n"); i >= 0 {
		body = rest[end+i+1:]
	}
	return &fm, body
}
