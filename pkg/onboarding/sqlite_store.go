package onboarding

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jllopis/semmesh/pkg/errors"

	_ "modernc.org/sqlite"
)

const participantTable = "mesh_participants"

// SQLiteStore persists participant records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed participant store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureParticipantSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens (or creates) the database at path and ensures schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open participant store: %w", err)
	}
	return NewSQLiteStore(db)
}

func ensureParticipantSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			tier INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			record_json BLOB NOT NULL
		);`, participantTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_tier ON %s(tier);`, participantTable, participantTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, record ParticipantRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, tier, updated_at, record_json) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET tier = excluded.tier,
				updated_at = excluded.updated_at, record_json = excluded.record_json`, participantTable),
		record.ID, int(record.Tier), record.UpdatedAt.UnixMilli(), payload)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (ParticipantRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT record_json FROM %s WHERE id = ?", participantTable), id).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return ParticipantRecord{}, errors.New(errors.CodeNotFound, "participant not found", nil).
				WithAttribute("participant", id)
		}
		return ParticipantRecord{}, err
	}
	var record ParticipantRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return ParticipantRecord{}, err
	}
	return record, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]ParticipantRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT record_json FROM %s ORDER BY id ASC", participantTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ParticipantRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var record ParticipantRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
