package history

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS predictions (
  id TEXT PRIMARY KEY,
  location TEXT NOT NULL,
  matched INTEGER NOT NULL DEFAULT 0,
  sqft REAL NOT NULL,
  bath INTEGER NOT NULL,
  bhk INTEGER NOT NULL,
  price REAL NOT NULL,
  source TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS predictions_created_at ON predictions(created_at);

CREATE TABLE IF NOT EXISTS api_keys (
  key_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  prefix TEXT NOT NULL,
  hashed_secret TEXT NOT NULL,
  created_at DATETIME NOT NULL,
  last_used_at DATETIME
);
`)
	return err
}

type Prediction struct {
	ID        string
	Location  string
	Matched   bool
	Sqft      float64
	Bath      int
	BHK       int
	Price     float64
	Source    string // http, grpc
	CreatedAt time.Time
}

type APIKeyRecord struct {
	ID           string
	Name         string
	Prefix       string
	HashedSecret string
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

func (s *Store) RecordPrediction(ctx context.Context, p Prediction) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO predictions(id, location, matched, sqft, bath, bhk, price, source, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, p.ID, p.Location, boolToInt(p.Matched), p.Sqft, p.Bath, p.BHK, p.Price, p.Source, p.CreatedAt)
	return err
}

// ListPredictions returns the most recent predictions, newest first.
func (s *Store) ListPredictions(ctx context.Context, limit int) ([]Prediction, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, location, matched, sqft, bath, bhk, price, source, created_at
FROM predictions ORDER BY created_at DESC, id ASC LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var p Prediction
		var matched int
		if err := rows.Scan(&p.ID, &p.Location, &matched, &p.Sqft, &p.Bath, &p.BHK, &p.Price, &p.Source, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Matched = matched != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountPredictions(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM predictions;").Scan(&n)
	return n, err
}

func (s *Store) CreateAPIKey(ctx context.Context, record APIKeyRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO api_keys(key_id, name, prefix, hashed_secret, created_at)
VALUES(?, ?, ?, ?, ?);
`, record.ID, record.Name, record.Prefix, record.HashedSecret, record.CreatedAt)
	return err
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT key_id, name, prefix, hashed_secret, created_at, last_used_at
FROM api_keys ORDER BY created_at DESC;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKeyRecord
	for rows.Next() {
		var r APIKeyRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Prefix, &r.HashedSecret, &r.CreatedAt, &r.LastUsedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (APIKeyRecord, bool, error) {
	if s.db == nil {
		return APIKeyRecord{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, `
SELECT key_id, name, prefix, hashed_secret, created_at, last_used_at
FROM api_keys WHERE key_id=?;
`, id)
	var r APIKeyRecord
	err := row.Scan(&r.ID, &r.Name, &r.Prefix, &r.HashedSecret, &r.CreatedAt, &r.LastUsedAt)
	if err == sql.ErrNoRows {
		return APIKeyRecord{}, false, nil
	}
	if err != nil {
		return APIKeyRecord{}, false, err
	}
	return r, true, nil
}

// DeleteAPIKey removes a key and reports whether it existed.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE key_id=?;", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at=? WHERE key_id=?;", time.Now(), id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
