package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/vector"
)

const (
	slotActive    = "active"
	slotCommitted = "committed"
)

// SQLiteStore implements Store using SQLite. One store file holds the chunks of
// one model name; an exclusive file lock keeps other processes out.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	lock   *flock.Flock
	logger *zap.Logger
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// StorePath returns the database path for modelName under dataDir.
func StorePath(dataDir, modelName string) string {
	return filepath.Join(dataDir, sanitizeName(modelName)+".sqlite")
}

func sanitizeName(name string) string {
	if name == "" {
		return "default"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Open opens or creates the store for modelName under dataDir and initializes the schema.
// It fails with ErrLocked when another process has the store open.
func Open(dataDir, modelName string, opts ...Option) (*SQLiteStore, error) {
	return OpenPath(StorePath(dataDir, modelName), opts...)
}

// OpenPath opens or creates a store at dbPath. Parent directories are created if they do not exist.
func OpenPath(dbPath string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{path: dbPath, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, storeErr("open", fmt.Errorf("failed to create database directory: %w", err))
		}
	}

	s.lock = flock.New(dbPath + ".lock")
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, storeErr("open", fmt.Errorf("failed to acquire lock: %w", err))
	}
	if !locked {
		return nil, storeErr("open", ErrLocked)
	}

	dsn := "file:" + dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = s.lock.Unlock()
		return nil, storeErr("open", fmt.Errorf("failed to open database: %w", err))
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		_ = s.lock.Unlock()
		return nil, storeErr("open", fmt.Errorf("failed to enable WAL: %w", err))
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		_ = s.lock.Unlock()
		return nil, storeErr("open", fmt.Errorf("failed to initialize schema: %w", err))
	}
	s.db = db
	s.logger.Debug("store opened", zap.String("path", dbPath))
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identity (
		slot TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		max_block_size INTEGER NOT NULL,
		schema_version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT NOT NULL,
		model_key TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		PRIMARY KEY (doc_id, model_key)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(model_key, content_hash);

	CREATE TABLE IF NOT EXISTS chunks (
		doc_id TEXT NOT NULL,
		model_key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		start_line INTEGER NOT NULL,
		heading_level INTEGER NOT NULL,
		heading_title TEXT NOT NULL,
		length INTEGER NOT NULL,
		vector BLOB NOT NULL,
		PRIMARY KEY (doc_id, model_key, seq),
		FOREIGN KEY (doc_id, model_key) REFERENCES documents(doc_id, model_key) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) readIdentity(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, slot string) (*models.ModelIdentity, error) {
	var id models.ModelIdentity
	err := q.QueryRowContext(ctx,
		`SELECT name, version, max_block_size, schema_version FROM identity WHERE slot = ?`, slot,
	).Scan(&id.Name, &id.Version, &id.MaxBlockSize, &id.SchemaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ActiveIdentity returns the identity new writes are tagged with, or nil if none was set.
func (s *SQLiteStore) ActiveIdentity(ctx context.Context) (*models.ModelIdentity, error) {
	id, err := s.readIdentity(ctx, s.db, slotActive)
	return id, storeErr("active identity", err)
}

// CommittedIdentity returns the identity of the last completed full rebuild, or nil.
func (s *SQLiteStore) CommittedIdentity(ctx context.Context) (*models.ModelIdentity, error) {
	id, err := s.readIdentity(ctx, s.db, slotCommitted)
	return id, storeErr("committed identity", err)
}

// CompareIdentity classifies id against the active identity.
func (s *SQLiteStore) CompareIdentity(ctx context.Context, id models.ModelIdentity) (models.IdentityChange, error) {
	stored, err := s.ActiveIdentity(ctx)
	if err != nil {
		return models.IdentityNewModel, err
	}
	return models.CompareIdentity(stored, id), nil
}

func writeIdentity(ctx context.Context, tx *sql.Tx, slot string, id models.ModelIdentity) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO identity (slot, name, version, max_block_size, schema_version)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET name = excluded.name, version = excluded.version,
		 max_block_size = excluded.max_block_size, schema_version = excluded.schema_version`,
		slot, id.Name, id.Version, id.MaxBlockSize, id.SchemaVersion,
	)
	return err
}

// UseIdentity makes id the identity new writes are tagged with. Chunks of the
// committed identity stay readable until CommitIdentity.
func (s *SQLiteStore) UseIdentity(ctx context.Context, id models.ModelIdentity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("use identity", err)
	}
	defer tx.Rollback()
	if err := writeIdentity(ctx, tx, slotActive, id); err != nil {
		return storeErr("use identity", err)
	}
	s.logger.Info("model identity in use", zap.String("identity", id.String()))
	return storeErr("use identity", tx.Commit())
}

// CommitIdentity marks the active identity as the one queries read and removes
// every record written under another identity.
func (s *SQLiteStore) CommitIdentity(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("commit identity", err)
	}
	defer tx.Rollback()
	active, err := s.readIdentity(ctx, tx, slotActive)
	if err != nil {
		return storeErr("commit identity", err)
	}
	if active == nil {
		return storeErr("commit identity", ErrNoIdentity)
	}
	if err := writeIdentity(ctx, tx, slotCommitted, *active); err != nil {
		return storeErr("commit identity", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE model_key != ?`, string(active.Key()))
	if err != nil {
		return storeErr("commit identity", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit identity", err)
	}
	purged, _ := res.RowsAffected()
	s.logger.Info("model identity committed",
		zap.String("identity", active.String()),
		zap.Int64("purged_records", purged))
	return nil
}

func (s *SQLiteStore) activeKey(ctx context.Context) (models.ModelKey, error) {
	id, err := s.readIdentity(ctx, s.db, slotActive)
	if err != nil {
		return "", err
	}
	if id == nil {
		return "", ErrNoIdentity
	}
	return id.Key(), nil
}

// IsUpToDate reports whether docID is stored under the active identity with hash.
func (s *SQLiteStore) IsUpToDate(ctx context.Context, docID, hash string) (bool, error) {
	key, err := s.activeKey(ctx)
	if errors.Is(err, ErrNoIdentity) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("is up to date", err)
	}
	var stored string
	err = s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM documents WHERE doc_id = ? AND model_key = ?`, docID, string(key),
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("is up to date", err)
	}
	return stored == hash, nil
}

// ReplaceDocument atomically swaps the chunks of docID under the active identity
// and records hash as the content that produced them.
func (s *SQLiteStore) ReplaceDocument(ctx context.Context, docID, hash string, chunks []*models.Chunk) error {
	key, err := s.activeKey(ctx)
	if err != nil {
		return storeErr("replace document", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("replace document", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (doc_id, model_key, content_hash) VALUES (?, ?, ?)
		 ON CONFLICT(doc_id, model_key) DO UPDATE SET content_hash = excluded.content_hash`,
		docID, string(key), hash,
	); err != nil {
		return storeErr("replace document", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE doc_id = ? AND model_key = ?`, docID, string(key),
	); err != nil {
		return storeErr("replace document", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (doc_id, model_key, seq, start_line, heading_level, heading_title, length, vector)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return storeErr("replace document", err)
	}
	defer stmt.Close()

	for i, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, docID, string(key), i, ch.StartLine, ch.HeadingLevel,
			ch.HeadingTitle, ch.Length, vector.Encode(ch.Vector)); err != nil {
			return storeErr("replace document", err)
		}
		ch.DocumentID = docID
		ch.Seq = i
		ch.ContentHash = hash
		ch.Model = key
	}
	return storeErr("replace document", tx.Commit())
}

// DeleteDocument removes docID under every identity. Unknown IDs are a no-op.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID)
	return storeErr("delete document", err)
}

// DocumentIDs returns the distinct IDs of stored documents.
func (s *SQLiteStore) DocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT doc_id FROM documents ORDER BY doc_id`)
	if err != nil {
		return nil, storeErr("document ids", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("document ids", err)
		}
		ids = append(ids, id)
	}
	return ids, storeErr("document ids", rows.Err())
}

// PruneMissing deletes every document whose ID is not in existing and returns how many were removed.
func (s *SQLiteStore) PruneMissing(ctx context.Context, existing map[string]struct{}) (int, error) {
	ids, err := s.DocumentIDs(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("prune", err)
	}
	defer tx.Rollback()
	removed := 0
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, id); err != nil {
			return 0, storeErr("prune", err)
		}
		removed++
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr("prune", err)
	}
	if removed > 0 {
		s.logger.Info("pruned missing documents", zap.Int("count", removed))
	}
	return removed, nil
}

const chunkColumns = `c.doc_id, c.model_key, c.seq, c.start_line, c.heading_level, c.heading_title, c.length, c.vector, d.content_hash`

func scanChunks(rows *sql.Rows) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var key string
		var blob []byte
		if err := rows.Scan(&ch.DocumentID, &key, &ch.Seq, &ch.StartLine, &ch.HeadingLevel,
			&ch.HeadingTitle, &ch.Length, &blob, &ch.ContentHash); err != nil {
			return nil, err
		}
		vec, err := vector.Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s/%d: %w", ch.DocumentID, ch.Seq, err)
		}
		ch.Vector = vec
		ch.Model = models.ModelKey(key)
		chunks = append(chunks, &ch)
	}
	return chunks, rows.Err()
}

// AllChunks returns every stored chunk ordered by document insertion then sequence.
func (s *SQLiteStore) AllChunks(ctx context.Context) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+`
		 FROM chunks c JOIN documents d ON d.doc_id = c.doc_id AND d.model_key = c.model_key
		 ORDER BY d.rowid, c.seq`,
	)
	if err != nil {
		return nil, storeErr("all chunks", err)
	}
	defer rows.Close()
	chunks, err := scanChunks(rows)
	return chunks, storeErr("all chunks", err)
}

// ChunksByHash returns the chunks of some document stored under the active
// identity with the given content hash, or nil when there is none.
func (s *SQLiteStore) ChunksByHash(ctx context.Context, hash string) ([]*models.Chunk, error) {
	key, err := s.activeKey(ctx)
	if errors.Is(err, ErrNoIdentity) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("chunks by hash", err)
	}
	var docID string
	err = s.db.QueryRowContext(ctx,
		`SELECT doc_id FROM documents WHERE model_key = ? AND content_hash = ? ORDER BY rowid LIMIT 1`,
		string(key), hash,
	).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("chunks by hash", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+`
		 FROM chunks c JOIN documents d ON d.doc_id = c.doc_id AND d.model_key = c.model_key
		 WHERE c.doc_id = ? AND c.model_key = ? ORDER BY c.seq`,
		docID, string(key),
	)
	if err != nil {
		return nil, storeErr("chunks by hash", err)
	}
	defer rows.Close()
	chunks, err := scanChunks(rows)
	return chunks, storeErr("chunks by hash", err)
}

// Stats returns row counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(DISTINCT doc_id) FROM documents),
		        (SELECT COUNT(*) FROM chunks),
		        (SELECT COUNT(DISTINCT model_key) FROM documents)`,
	).Scan(&st.Documents, &st.Chunks, &st.Identities)
	return st, storeErr("stats", err)
}

// Close closes the database connection and releases the file lock.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if uerr := s.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return storeErr("close", err)
}
