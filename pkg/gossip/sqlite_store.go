package gossip

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const factTable = "mesh_facts"

// SQLiteFactLog persists applied facts in a SQLite database so persistence
// and reporting layers can read them after the node restarts.
type SQLiteFactLog struct {
	db *sql.DB
}

// NewSQLiteFactLog wraps an open database and ensures schema.
func NewSQLiteFactLog(db *sql.DB) (*SQLiteFactLog, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureFactSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteFactLog{db: db}, nil
}

// OpenSQLiteFactLog opens (or creates) the database at path and ensures schema.
func OpenSQLiteFactLog(path string) (*SQLiteFactLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open fact log: %w", err)
	}
	return NewSQLiteFactLog(db)
}

func ensureFactSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			origin TEXT NOT NULL,
			fact_type TEXT NOT NULL,
			timestamp REAL NOT NULL,
			fact_json BLOB NOT NULL
		);`, factTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_origin ON %s(origin);`, factTable, factTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s(timestamp);`, factTable, factTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (l *SQLiteFactLog) Append(ctx context.Context, fact Fact) error {
	payload, err := json.Marshal(fact)
	if err != nil {
		return err
	}
	// Redelivered facts are already filtered by the seen-set; the conflict
	// clause makes a racing duplicate insert a no-op rather than an error.
	_, err = l.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, origin, fact_type, timestamp, fact_json) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`, factTable),
		fact.ID, fact.Origin, fact.Type, fact.Timestamp, payload)
	return err
}

func (l *SQLiteFactLog) Recent(ctx context.Context, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		fmt.Sprintf("SELECT fact_json FROM %s ORDER BY timestamp DESC, id ASC LIMIT ?", factTable), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var fact Fact
		if err := json.Unmarshal(payload, &fact); err != nil {
			return nil, err
		}
		out = append(out, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database.
func (l *SQLiteFactLog) Close() error {
	return l.db.Close()
}
