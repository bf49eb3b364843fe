package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding tweets, conversations, embeddings,
// and interaction markers. It is the relational half of the memory store;
// vector search lives in internal/retrieval.
type Store struct {
	db  *sql.DB
	dim int
}

// Open opens (or creates) a SQLite database in dataDir, runs pending
// migrations, and pins the embedding dimension. Pass ":memory:" as dataDir
// for an in-memory database (used by tests). Opening an existing store with
// a different dimension fails with ErrDimensionMismatch.
func Open(dataDir string, dim int) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "violetmem.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, dim: dim}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.ensureDimension(dim); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimension returns the embedding width this store was opened with.
func (s *Store) Dimension() int {
	return s.dim
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ensureDimension records the embedding dimension on first open and rejects
// a reopen with a different one. Mixing widths would silently corrupt
// similarity search, so this fails loudly instead.
func (s *Store) ensureDimension(dim int) error {
	if dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	var stored string
	err := s.db.QueryRow("SELECT value FROM store_meta WHERE key = 'embedding_dim'").Scan(&stored)
	if err == sql.ErrNoRows {
		if _, err := s.db.Exec("INSERT INTO store_meta (key, value) VALUES ('embedding_dim', ?)", strconv.Itoa(dim)); err != nil {
			return fmt.Errorf("recording embedding dimension: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading embedding dimension: %w", err)
	}
	got, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("parsing stored embedding dimension %q: %w", stored, err)
	}
	if got != dim {
		return fmt.Errorf("store holds %d-dimensional embeddings, configured for %d: %w", got, dim, ErrDimensionMismatch)
	}
	return nil
}

// --- Tweets ---

const tweetColumns = "tweet_id, user_id, username, created_at, conversation_id, in_reply_to_status_id, text, processed, embedding_id"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTweet(row rowScanner) (Tweet, error) {
	var t Tweet
	var createdAt string
	var inReplyTo sql.NullString
	var embeddingID sql.NullInt64
	var processed int
	if err := row.Scan(&t.ID, &t.UserID, &t.Username, &createdAt, &t.ConversationID, &inReplyTo, &t.Text, &processed, &embeddingID); err != nil {
		return Tweet{}, err
	}
	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Tweet{}, fmt.Errorf("parsing created_at: %w", err)
	}
	t.CreatedAt = ts
	t.InReplyTo = inReplyTo.String
	t.Processed = processed != 0
	t.EmbeddingID = embeddingID.Int64
	return t, nil
}

// RecordTweet inserts a tweet and creates or refreshes its conversation in a
// single transaction. Replaying an already-stored tweet id returns
// ErrDuplicate and leaves both tables untouched. New tweets always start
// unprocessed; AttachEmbedding flips the flag.
func (s *Store) RecordTweet(t Tweet) error {
	if t.ID == "" {
		return errors.New("tweet id is required")
	}
	if t.ConversationID == "" {
		t.ConversationID = t.ID
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	created := createdAt.UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning record transaction: %w", err)
	}
	defer tx.Rollback()

	// The store runs on a single write connection, so this pre-check is
	// authoritative within the transaction.
	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM tweets WHERE tweet_id = ?", t.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking for existing tweet: %w", err)
	}
	if exists > 0 {
		return ErrDuplicate
	}

	root, err := resolveRoot(tx, t)
	if err != nil {
		return fmt.Errorf("resolving conversation root: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO tweets (tweet_id, user_id, username, created_at, conversation_id, in_reply_to_status_id, text, processed, embedding_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL)`,
		t.ID, t.UserID, t.Username, created, t.ConversationID, nullable(t.InReplyTo), t.Text,
	); err != nil {
		return fmt.Errorf("inserting tweet: %w", err)
	}

	// RFC3339 UTC strings order lexicographically, so MAX keeps the latest
	// activity time even when tweets arrive out of order.
	if _, err := tx.Exec(`
		INSERT INTO conversations (conversation_id, root_tweet_id, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			last_updated = MAX(last_updated, excluded.last_updated)`,
		t.ConversationID, root, created,
	); err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	return tx.Commit()
}

// resolveRoot picks the root tweet id for a conversation seen for the first
// time: the parent's conversation root when the parent is already stored,
// else the replied-to id, else the tweet itself. Existing conversation roots
// are never rewritten (the upsert in RecordTweet ignores this value on
// conflict).
func resolveRoot(tx *sql.Tx, t Tweet) (string, error) {
	if t.InReplyTo == "" {
		return t.ID, nil
	}
	var parentRoot string
	err := tx.QueryRow(`
		SELECT c.root_tweet_id FROM tweets p
		JOIN conversations c ON c.conversation_id = p.conversation_id
		WHERE p.tweet_id = ?`, t.InReplyTo,
	).Scan(&parentRoot)
	if err == sql.ErrNoRows {
		return t.InReplyTo, nil
	}
	if err != nil {
		return "", err
	}
	return parentRoot, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) GetTweet(id string) (Tweet, error) {
	t, err := scanTweet(s.db.QueryRow("SELECT "+tweetColumns+" FROM tweets WHERE tweet_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Tweet{}, ErrNotFound
	}
	if err != nil {
		return Tweet{}, err
	}
	return t, nil
}

// GetTweets fetches the given tweet ids in one query. Missing ids are
// skipped; callers that care about completeness compare lengths.
func (s *Store) GetTweets(ids []string) ([]Tweet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat(",?", len(ids)-1)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query("SELECT "+tweetColumns+" FROM tweets WHERE tweet_id IN (?"+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tweets []Tweet
	for rows.Next() {
		t, err := scanTweet(rows)
		if err != nil {
			return nil, err
		}
		tweets = append(tweets, t)
	}
	return tweets, rows.Err()
}

// GetConversation returns the conversation record and its tweets in
// chronological order.
func (s *Store) GetConversation(id string) (Conversation, []Tweet, error) {
	var c Conversation
	var lastUpdated string
	err := s.db.QueryRow(
		"SELECT conversation_id, root_tweet_id, last_updated FROM conversations WHERE conversation_id = ?", id,
	).Scan(&c.ID, &c.RootTweetID, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, nil, ErrNotFound
	}
	if err != nil {
		return Conversation{}, nil, err
	}
	t, err := time.Parse(time.RFC3339, lastUpdated)
	if err != nil {
		return Conversation{}, nil, fmt.Errorf("parsing last_updated: %w", err)
	}
	c.LastUpdated = t

	rows, err := s.db.Query(
		"SELECT "+tweetColumns+" FROM tweets WHERE conversation_id = ? ORDER BY created_at ASC, tweet_id ASC", id,
	)
	if err != nil {
		return Conversation{}, nil, err
	}
	defer rows.Close()

	var tweets []Tweet
	for rows.Next() {
		tw, err := scanTweet(rows)
		if err != nil {
			return Conversation{}, nil, err
		}
		tweets = append(tweets, tw)
	}
	return c, tweets, rows.Err()
}

// GetUnprocessed returns tweets awaiting an embedding, oldest first.
func (s *Store) GetUnprocessed(limit int) ([]Tweet, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT "+tweetColumns+" FROM tweets WHERE processed = 0 ORDER BY created_at ASC, tweet_id ASC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tweets []Tweet
	for rows.Next() {
		t, err := scanTweet(rows)
		if err != nil {
			return nil, err
		}
		tweets = append(tweets, t)
	}
	return tweets, rows.Err()
}

// --- Embeddings ---

// AttachEmbedding stores a vector for the tweet, marks it processed, and
// points the tweet at the new embedding row, all in one transaction.
// Re-attaching repoints the tweet at a fresh row; the superseded row stays
// behind, orphaned, with the tweet's embedding_id as the single source of
// which row is current. The vector's width must match the store's dimension.
func (s *Store) AttachEmbedding(tweetID string, vector []float32) (int64, error) {
	if len(vector) != s.dim {
		return 0, fmt.Errorf("vector has %d dimensions, store expects %d: %w", len(vector), s.dim, ErrDimensionMismatch)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning attach transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow("SELECT 1 FROM tweets WHERE tweet_id = ?", tweetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("looking up tweet: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.Exec(
		"INSERT INTO tweet_embeddings (tweet_id, embedding, created_at) VALUES (?, ?, ?)",
		tweetID, encodeVector(vector), now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting embedding: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading embedding id: %w", err)
	}

	if _, err := tx.Exec("UPDATE tweets SET processed = 1, embedding_id = ? WHERE tweet_id = ?", id, tweetID); err != nil {
		return 0, fmt.Errorf("marking tweet processed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing attach: %w", err)
	}
	return id, nil
}

// GetEmbedding returns the current embedding attached to a tweet.
func (s *Store) GetEmbedding(tweetID string) (Embedding, error) {
	var e Embedding
	var blob []byte
	var createdAt string
	err := s.db.QueryRow(`
		SELECT e.id, e.tweet_id, e.embedding, e.created_at
		FROM tweets t
		JOIN tweet_embeddings e ON e.id = t.embedding_id
		WHERE t.tweet_id = ?`, tweetID,
	).Scan(&e.ID, &e.TweetID, &blob, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Embedding{}, ErrNotFound
	}
	if err != nil {
		return Embedding{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Embedding{}, fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	if e.Vector, err = decodeVector(blob); err != nil {
		return Embedding{}, fmt.Errorf("decoding embedding for %s: %w", tweetID, err)
	}
	return e, nil
}

// ScanEmbeddings streams every attached embedding to fn, in no particular
// order, reusing one decode buffer across rows. fn must copy the vector if
// it retains it past the call.
func (s *Store) ScanEmbeddings(f EmbeddingFilter, fn func(tweetID string, createdAt time.Time, vector []float32) error) error {
	query := `SELECT t.tweet_id, t.created_at, e.embedding
		FROM tweets t
		JOIN tweet_embeddings e ON e.id = t.embedding_id`
	var conds []string
	var args []any
	if f.ConversationID != "" {
		conds = append(conds, "t.conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	if f.UserID != "" {
		conds = append(conds, "t.user_id = ?")
		args = append(args, f.UserID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	var buf []float32
	for rows.Next() {
		var tweetID, createdAt string
		var blob []byte
		if err := rows.Scan(&tweetID, &createdAt, &blob); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return fmt.Errorf("parsing created_at for %s: %w", tweetID, err)
		}
		buf, err = decodeVectorInto(buf, blob)
		if err != nil {
			return fmt.Errorf("decoding embedding for %s: %w", tweetID, err)
		}
		if err := fn(tweetID, ts, buf); err != nil {
			return err
		}
	}
	return rows.Err()
}

// --- Interactions ---

// AddInteraction marks a tweet as acted on. Re-marking refreshes the
// timestamp.
func (s *Store) AddInteraction(tweetID string) error {
	_, err := s.db.Exec(`
		INSERT INTO interactions (tweet_id, interacted_at) VALUES (?, ?)
		ON CONFLICT(tweet_id) DO UPDATE SET interacted_at = excluded.interacted_at`,
		tweetID, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) RemoveInteraction(tweetID string) error {
	res, err := s.db.Exec("DELETE FROM interactions WHERE tweet_id = ?", tweetID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) HasInteraction(tweetID string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM interactions WHERE tweet_id = ?", tweetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ClearInteractions() error {
	_, err := s.db.Exec("DELETE FROM interactions")
	return err
}

// AllInteractions returns every marked tweet id, most recent first.
func (s *Store) AllInteractions() ([]string, error) {
	rows, err := s.db.Query("SELECT tweet_id FROM interactions ORDER BY interacted_at DESC, tweet_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Stats ---

// EmbeddingCount returns the number of tweets with a current embedding.
// Orphaned rows left by re-attachment are not counted.
func (s *Store) EmbeddingCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM tweets WHERE embedding_id IS NOT NULL").Scan(&count)
	return count, err
}

func (s *Store) Stats() (Stats, error) {
	st := Stats{Dimension: s.dim}
	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM tweets", &st.Tweets},
		{"SELECT COUNT(*) FROM conversations", &st.Conversations},
		{"SELECT COUNT(*) FROM tweets WHERE embedding_id IS NOT NULL", &st.Embeddings},
		{"SELECT COUNT(*) FROM tweets WHERE processed = 0", &st.Unprocessed},
		{"SELECT COUNT(*) FROM interactions", &st.Interactions},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dst); err != nil {
			return Stats{}, err
		}
	}
	return st, nil
}
