package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/keyquorum/keyquorum-go/interfaces"
)

// StaticBackend serves records from an in-memory table. It backs local
// tooling and tests where no registry chain is available.
type StaticBackend struct {
	mu      sync.RWMutex
	records map[interfaces.ServerID]*interfaces.KeyServerRecord
}

// NewStaticBackend creates a backend preloaded with the given records.
func NewStaticBackend(records ...*interfaces.KeyServerRecord) *StaticBackend {
	b := &StaticBackend{records: make(map[interfaces.ServerID]*interfaces.KeyServerRecord, len(records))}
	for _, record := range records {
		b.records[record.ID] = record
	}
	return b
}

// Add registers or replaces a record.
func (b *StaticBackend) Add(record *interfaces.KeyServerRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[record.ID] = record
}

// KeyServerInfo returns the record for id, or an error if unknown.
func (b *StaticBackend) KeyServerInfo(_ context.Context, id interfaces.ServerID) (*interfaces.KeyServerRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	record, ok := b.records[id]
	if !ok {
		return nil, fmt.Errorf("unknown key server %s", id)
	}
	return record, nil
}
