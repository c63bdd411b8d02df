package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/satindergrewal/snaptracks/internal/track"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// slot is the primary key of the only row; the table is single-slot.
const slot = "latest"

type Store struct {
	db *sql.DB
}

// NewStore opens the database and creates the track_records table.
func NewStore(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	stmt := `CREATE TABLE IF NOT EXISTS track_records (
		slot TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(stmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("create track_records table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO track_records (slot, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		slot, data, time.Now().UTC())
	if err != nil {
		logrus.WithError(err).Error("Failed to save track record")
		return fmt.Errorf("save track record: %w", err)
	}
	logrus.WithField("bytes", len(data)).Debug("Track record saved to sqlite")
	return nil
}

func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM track_records WHERE slot = ?", slot).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, track.ErrNoRecord
		}
		logrus.WithError(err).Error("Failed to load track record")
		return nil, fmt.Errorf("load track record: %w", err)
	}
	return data, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
