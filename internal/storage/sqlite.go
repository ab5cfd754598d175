package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/varhub/varhub/internal/protocol"
)

// SQLiteStorage persists snapshots in a SQLite file.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := &SQLiteStorage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS variables (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			data TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

// ReplaceAll implements Backend.
func (s *SQLiteStorage) ReplaceAll(vars []protocol.WireVariable) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM variables`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO variables (id, name, data) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range vars {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode variable %s: %w", v.Name, err)
		}
		if _, err := stmt.Exec(v.ID, v.Name, string(data)); err != nil {
			return fmt.Errorf("store variable %s: %w", v.Name, err)
		}
	}
	return tx.Commit()
}

// LoadAll implements Backend.
func (s *SQLiteStorage) LoadAll() ([]protocol.WireVariable, error) {
	rows, err := s.db.Query(`SELECT data FROM variables ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.WireVariable
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v protocol.WireVariable
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decode stored variable: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close implements Backend.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
