package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chatgrid-ai/chatgrid/internal/provider"
)

// Transcript is a conversation history captured at the moment a compaction
// replaced it with a summary.
type Transcript struct {
	ID          int64              `json:"id"`
	SessionID   string             `json:"session_id"`
	ModelRef    string             `json:"model_ref"`
	Summary     string             `json:"summary"`
	Messages    []provider.Message `json:"messages"`
	CompactedAt time.Time          `json:"compacted_at"`
}

// Archive persists pre-compaction transcripts so compaction is not
// irreversibly lossy.
type Archive interface {
	SaveTranscript(ctx context.Context, t Transcript) error
}

const createArchiveTableSQL = `
CREATE TABLE IF NOT EXISTS transcripts (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT NOT NULL,
    model_ref    TEXT NOT NULL,
    summary      TEXT NOT NULL,
    messages     TEXT NOT NULL DEFAULT '[]',
    compacted_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, compacted_at);
`

// SQLiteArchive implements Archive backed by a SQLite database.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens (or creates) the archive database at dbPath and
// ensures the schema exists.
func NewSQLiteArchive(dbPath string) (*SQLiteArchive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL: archive writes happen while sessions keep serving reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(createArchiveTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transcripts table: %w", err)
	}

	return &SQLiteArchive{db: db}, nil
}

func (a *SQLiteArchive) SaveTranscript(ctx context.Context, t Transcript) error {
	msgJSON, err := json.Marshal(t.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO transcripts (session_id, model_ref, summary, messages, compacted_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.SessionID, t.ModelRef, t.Summary, string(msgJSON), t.CompactedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// Transcripts returns a session's archived transcripts, newest first.
func (a *SQLiteArchive) Transcripts(ctx context.Context, sessionID string, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, session_id, model_ref, summary, messages, compacted_at
		FROM transcripts
		WHERE session_id = ?
		ORDER BY compacted_at DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var result []Transcript
	for rows.Next() {
		var (
			t       Transcript
			msgJSON string
			at      string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.ModelRef, &t.Summary, &msgJSON, &at); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		if err := json.Unmarshal([]byte(msgJSON), &t.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			t.CompactedAt = ts
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
