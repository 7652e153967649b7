// Package store persists scan records in a namespaced key-value execution store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/raphaelgruber/dataquality/internal/models"
)

// ErrNotFound indicates no scan record is stored under the key.
var ErrNotFound = errors.New("scan record not found")

// Repository reads and writes whole scan records. There are no partial
// updates; the last writer wins.
type Repository interface {
	GetScanRecord(ctx context.Context, key string) (*models.ScanRecord, error)
	PutScanRecord(ctx context.Context, key string, rec *models.ScanRecord) error
}

// Encode serializes a scan record to its stored blob form.
func Encode(rec *models.ScanRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode scan record: %w", err)
	}
	return data, nil
}

// Decode parses a stored blob and fills defaults for missing entries.
func Decode(data []byte) (*models.ScanRecord, error) {
	var rec models.ScanRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode scan record: %w", err)
	}
	rec.Normalize()
	return &rec, nil
}

// Memory is a process-local Repository. Records are stored encoded so
// callers never share state with the store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) GetScanRecord(_ context.Context, key string) (*models.ScanRecord, error) {
	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return Decode(data)
}

func (m *Memory) PutScanRecord(_ context.Context, key string, rec *models.ScanRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.blobs[key] = data
	m.mu.Unlock()
	return nil
}

// Keys returns the stored keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	return keys
}
