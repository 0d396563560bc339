package authority

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/mkwei/actionsync/internal/errors"
	"github.com/mkwei/actionsync/internal/ident"
	"github.com/mkwei/actionsync/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS log (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	origin      TEXT NOT NULL,
	ts          INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	received_at INTEGER NOT NULL,
	UNIQUE(origin, id)
);
CREATE INDEX IF NOT EXISTS idx_log_origin ON log(origin);
`

// SQLiteStore persists the log in a SQLite file. The UNIQUE(origin, id)
// constraint makes duplicate appends structurally impossible.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the log database at path.
// The database runs in WAL mode with a single writer.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "create data directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "open log database", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrDatabase, "enable WAL mode", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrDatabase, "create log schema", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store. INSERT OR IGNORE rides on the (origin, id) unique
// constraint, so resubmitted records simply don't count.
func (s *SQLiteStore) Append(records []models.Record, receivedAt int64) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "begin append", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO log (id, origin, ts, payload, received_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "prepare append", err)
	}
	defer stmt.Close()

	appended := 0
	for _, r := range records {
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return 0, errors.Wrap(errors.ErrDatabase, "encode payload", err)
		}
		res, err := stmt.Exec(r.ID.String(), r.Origin, r.Timestamp, string(payload), receivedAt)
		if err != nil {
			return 0, errors.Wrap(errors.ErrDatabase, "append record", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			appended++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "commit append", err)
	}
	return appended, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e       Entry
		idText  string
		payload string
	)
	if err := rows.Scan(&e.Seq, &idText, &e.Record.Origin, &e.Record.Timestamp, &payload, &e.ReceivedAt); err != nil {
		return Entry{}, errors.Wrap(errors.ErrDatabase, "scan log entry", err)
	}

	id, err := ident.Parse(idText)
	if err != nil {
		return Entry{}, errors.Wrap(errors.ErrDatabase, fmt.Sprintf("corrupt record id %q", idText), err)
	}
	e.Record.ID = id

	if err := json.Unmarshal([]byte(payload), &e.Record.Payload); err != nil {
		return Entry{}, errors.Wrap(errors.ErrDatabase, "decode payload", err)
	}
	return e, nil
}

func (s *SQLiteStore) queryEntries(query string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "query log", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "iterate log", err)
	}
	return out, nil
}

// Since implements Store.
func (s *SQLiteStore) Since(afterSeq uint64, excludeOrigin string) ([]Entry, error) {
	return s.queryEntries(
		"SELECT seq, id, origin, ts, payload, received_at FROM log WHERE seq > ? AND origin != ? ORDER BY seq",
		afterSeq, excludeOrigin)
}

// Last implements Store.
func (s *SQLiteStore) Last() (*Entry, error) {
	entries, err := s.queryEntries(
		"SELECT seq, id, origin, ts, payload, received_at FROM log ORDER BY seq DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// SeqForID implements Store.
func (s *SQLiteStore) SeqForID(id ident.ID) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(seq) FROM log WHERE id = ?", id.String()).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "look up watermark position", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// CountByOrigin implements Store.
func (s *SQLiteStore) CountByOrigin() (map[string]int, error) {
	rows, err := s.db.Query("SELECT origin, COUNT(*) FROM log GROUP BY origin")
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "count by origin", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var origin string
		var n int
		if err := rows.Scan(&origin, &n); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "scan origin count", err)
		}
		counts[origin] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "iterate origin counts", err)
	}
	return counts, nil
}

// ByOrigin implements Store.
func (s *SQLiteStore) ByOrigin(origin string) ([]models.Record, error) {
	entries, err := s.queryEntries(
		"SELECT seq, id, origin, ts, payload, received_at FROM log WHERE origin = ? ORDER BY seq", origin)
	if err != nil {
		return nil, err
	}
	return entryRecords(entries), nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(n int) ([]models.Record, error) {
	entries, err := s.queryEntries(
		"SELECT seq, id, origin, ts, payload, received_at FROM log ORDER BY seq DESC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	// Newest-first from the query; flip to oldest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entryRecords(entries), nil
}

// Reset implements Store.
func (s *SQLiteStore) Reset() error {
	if _, err := s.db.Exec("DELETE FROM log"); err != nil {
		return errors.Wrap(errors.ErrDatabase, "reset log", err)
	}
	// Restart sequence assignment from 1.
	if _, err := s.db.Exec("DELETE FROM sqlite_sequence WHERE name = 'log'"); err != nil {
		return errors.Wrap(errors.ErrDatabase, "reset log sequence", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func entryRecords(entries []Entry) []models.Record {
	out := make([]models.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Record)
	}
	return out
}
