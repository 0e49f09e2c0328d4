package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/snapetech/tvcollector/internal/atomicfile"
)

// ErrCorrupt is returned by Store.Load when persisted data could not be decoded.
// The store has already discarded the bad data when it returns this.
var ErrCorrupt = errors.New("validation cache corrupt")

// Store persists the whole cache between runs. Save replaces the previous
// contents atomically.
type Store interface {
	Load(ctx context.Context) (map[string]Record, error)
	Save(ctx context.Context, records map[string]Record) error
	Close() error
}

// OpenStore returns the backend named by kind: "file" (default), "sqlite" or
// "redis". location is a path for file and sqlite, a redis:// URL for redis.
func OpenStore(kind, location string) (Store, error) {
	switch kind {
	case "", "file", "json":
		return &FileStore{Path: location}, nil
	case "sqlite":
		return NewSQLiteStore(location)
	case "redis":
		return NewRedisStore(location, DefaultRedisKey)
	default:
		return nil, fmt.Errorf("cache: unknown store %q", kind)
	}
}

// FileStore keeps the cache as one JSON object: url -> record.
type FileStore struct {
	Path string // "" disables persistence
}

func (s *FileStore) Load(_ context.Context) (map[string]Record, error) {
	if s.Path == "" {
		return map[string]Record{}, nil
	}
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read %s: %w", s.Path, err)
	}
	records := make(map[string]Record)
	if err := json.Unmarshal(data, &records); err != nil {
		os.Remove(s.Path)
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.Path, err)
	}
	for url, rec := range records {
		rec.URL = url
		records[url] = rec
	}
	return records, nil
}

func (s *FileStore) Save(_ context.Context, records map[string]Record) error {
	if s.Path == "" {
		return nil
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}
	if err := atomicfile.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
