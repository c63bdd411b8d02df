package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/satindergrewal/snaptracks/internal/track"
	"github.com/sirupsen/logrus"
)

// Store keeps the track record as a single JSON file.
type Store struct {
	path string
}

// NewStore creates a file-backed store, creating the parent directory.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create track directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Save overwrites the record. The file is replaced atomically so a reader
// never sees a half-written document.
func (s *Store) Save(ctx context.Context, data []byte) error {
	log := logrus.WithField("file_path", s.path)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".songs-*.json")
	if err != nil {
		log.WithError(err).Error("Failed to create temp track file")
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write track record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close track record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		log.WithError(err).Error("Failed to replace track file")
		return fmt.Errorf("replace track record: %w", err)
	}

	log.WithField("bytes", len(data)).Info("Track record saved")
	return nil
}

func (s *Store) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, track.ErrNoRecord
		}
		logrus.WithField("file_path", s.path).WithError(err).Error("Failed to read track file")
		return nil, fmt.Errorf("read track record: %w", err)
	}
	return data, nil
}

func (s *Store) Close() error { return nil }
