// Package archive keeps every published post in a similarity-searchable
// store. Documents live in SQLite together with their embedding vectors;
// search ranks a collection by cosine distance to the query embedding.
package archive

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"auto_telegram_post_publisher/logging"
)

// FileName is the database file created inside the persist directory.
const FileName = "archive.db"

// DefaultK is used by Similar when k <= 0.
const DefaultK = 5

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Match is one similarity result. Score is the cosine distance, so lower is
// closer. Numbers in Metadata come back as float64 after the JSON round trip.
type Match struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// Store is an append-only document archive for one collection.
type Store struct {
	db         *sql.DB
	ownsDB     bool
	collection string
	embedder   Embedder
	now        func() time.Time
	logger     *logging.Logger
}

// Open creates dir if needed and opens dir/archive.db with the pure-Go
// modernc.org/sqlite driver this package registers.
func Open(dir, collection string, embedder Embedder, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	// 单连接即可，避免 SQLite 写锁竞争。
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, err
	}
	s, err := NewStore(db, collection, embedder, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	logger.With("archive").Infof("Initialized archive: collection=%s, persist_dir=%s", collection, dir)
	return s, nil
}

// NewStore initializes the schema in db and returns a Store bound to collection.
func NewStore(db *sql.DB, collection string, embedder Embedder, logger *logging.Logger) (*Store, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("archive collection name is required")
	}
	if embedder == nil {
		return nil, errors.New("archive embedder is required")
	}
	s := &Store{
		db:         db,
		collection: collection,
		embedder:   embedder,
		now:        time.Now,
		logger:     logger.With("archive"),
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS documents_collection ON documents (collection, created_at);`)
	return err
}

// Close releases the database if Open created it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Add embeds text and stores it with metadata. The row is durable once Add
// returns nil.
func (s *Store) Add(ctx context.Context, text string, metadata map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("archive: document text is empty")
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("archive: embed document: %w", err)
	}
	if len(vec) == 0 {
		return errors.New("archive: embedder returned an empty vector")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("archive: encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, collection, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		s.collection,
		text,
		string(meta),
		encodeVector(vec),
		s.now().UnixNano(),
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Infof("Added document to archive: metadata=%s", meta)
	return nil
}

// Similar returns up to k documents nearest to query, closest first.
func (s *Store) Similar(ctx context.Context, query string, k int) ([]Match, error) {
	if k <= 0 {
		k = DefaultK
	}
	q, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("archive: embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, metadata, embedding
		FROM documents
		WHERE collection = ?
		ORDER BY created_at`,
		s.collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			meta string
			blob []byte
		)
		if err := rows.Scan(&m.ID, &m.Text, &meta, &blob); err != nil {
			return nil, err
		}
		vec := decodeVector(blob)
		if len(vec) != len(q) {
			s.logger.Warnf("skipping document %s: embedding has %d dims, query has %d", m.ID, len(vec), len(q))
			continue
		}
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("archive: decode metadata of %s: %w", m.ID, err)
		}
		m.Score = cosineDistance(q, vec)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score < matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	s.logger.Infof("Retrieved %d similar documents for query", len(matches))
	return matches, nil
}

// Count returns the number of documents in the collection.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, s.collection).Scan(&n)
	return n, err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosineDistance is 1 - cos(a, b); a zero vector is at distance 1 from anything.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
