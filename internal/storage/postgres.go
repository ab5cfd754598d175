package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/varhub/varhub/internal/protocol"
)

// PostgresStorage persists snapshots in PostgreSQL, for deployments where
// several services share one database.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage connects with the given DSN.
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStorage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS variables (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			data JSONB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("init postgres schema: %w", err)
	}
	return nil
}

// ReplaceAll implements Backend.
func (s *PostgresStorage) ReplaceAll(vars []protocol.WireVariable) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM variables`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO variables (id, name, data) VALUES ($1, $2, $3)`)
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
func (s *PostgresStorage) LoadAll() ([]protocol.WireVariable, error) {
	rows, err := s.db.Query(`SELECT data FROM variables ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.WireVariable
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v protocol.WireVariable
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode stored variable: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close implements Backend.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
