// Package dedupe persists orchestrator dedupe keys in a WAL so at-most-once
// execution survives process restarts.
package dedupe

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	DefaultDir   = "./wal/dedupe"
	segmentLimit = 1000
	maxSegments  = 100

	recordKey = "dedupe_key"
)

// WALStore is an append-only journal of executed dedupe keys.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens (or creates) the dedupe journal in dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "dedupe_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init dedupe WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append journals one executed dedupe key.
func (s *WALStore) Append(key string) error {
	if s == nil || s.wal == nil {
		return errors.New("dedupe store is not initialized")
	}
	if key == "" {
		return errors.New("dedupe key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, recordKey, []byte(key))
}

// Keys replays the journal and returns every persisted dedupe key.
func (s *WALStore) Keys() ([]string, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("dedupe store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for msg := range s.wal.Iterator() {
		if msg.Key != recordKey {
			continue
		}
		keys = append(keys, string(msg.Value))
	}
	return keys, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("dedupe store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
