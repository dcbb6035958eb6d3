package conversation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens (or creates) a SQLite database at path with WAL
// journaling, for use with NewSQLiteStore.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// SQLiteStore is a Store that keeps conversations in SQLite so they
// survive restarts. Turns are append-only rows keyed by sequence number.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a store on db, running migrations on first use.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate conversations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS turns (
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			payload         TEXT NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		);
		CREATE TABLE IF NOT EXISTS conversation_ids (
			n INTEGER PRIMARY KEY AUTOINCREMENT
		);
	`)
	return err
}

// Get returns the turns for id in order.
func (s *SQLiteStore) Get(id string) ([]Turn, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup conversation %s: %w", id, err)
	}

	rows, err := s.db.Query(
		`SELECT payload FROM turns WHERE conversation_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		var t Turn
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Put writes turns for id. Rows already stored are left untouched, so
// writing a longer history only inserts the new tail.
func (s *SQLiteStore) Put(id string, turns []Turn) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`
		INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		id, now, now); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	var stored int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM turns WHERE conversation_id = ?`, id).Scan(&stored); err != nil {
		return fmt.Errorf("count turns: %w", err)
	}
	if len(turns) < stored {
		// A shorter history means the caller rewrote it; start over.
		if _, err := tx.Exec(`DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
			return fmt.Errorf("reset turns: %w", err)
		}
		s.logger.Warn("conversation history shortened, rewriting",
			"conversation_id", id, "stored", stored, "new", len(turns))
		stored = 0
	}

	for i := stored; i < len(turns); i++ {
		payload, err := json.Marshal(turns[i])
		if err != nil {
			return fmt.Errorf("encode turn %d: %w", i, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO turns (conversation_id, seq, payload) VALUES (?, ?, ?)`,
			id, i, string(payload)); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Delete removes id and its turns.
func (s *SQLiteStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := tx.Exec(`DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return tx.Commit()
}

// ListIDs returns every stored conversation ID.
func (s *SQLiteStore) ListIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM conversations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortIDs(ids)
	return ids, nil
}

// NewID draws the next number from a persistent sequence, so IDs stay
// unique across restarts.
func (s *SQLiteStore) NewID() (string, error) {
	for {
		res, err := s.db.Exec(`INSERT INTO conversation_ids DEFAULT VALUES`)
		if err != nil {
			return "", fmt.Errorf("allocate conversation id: %w", err)
		}
		n, err := res.LastInsertId()
		if err != nil {
			return "", fmt.Errorf("allocate conversation id: %w", err)
		}
		id := IDPrefix + strconv.FormatInt(n, 10)

		var exists int
		err = s.db.QueryRow(`SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("check conversation id: %w", err)
		}
	}
}
