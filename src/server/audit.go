package server

import (
	"context"
	"sync"

	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// AuditStore keeps one record per invocation.
type AuditStore interface {
	Record(ctx context.Context, rec protocol.InvocationAuditRecord) error
	// Find returns the records for requestID, or every record when it is "".
	Find(ctx context.Context, requestID string) ([]protocol.InvocationAuditRecord, error)
}

// MemoryAuditStore is an in-process AuditStore. A positive limit keeps only
// the newest records.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []protocol.InvocationAuditRecord
	limit   int
}

func NewMemoryAuditStore(limit int) *MemoryAuditStore {
	return &MemoryAuditStore{limit: limit}
}

func (s *MemoryAuditStore) Record(_ context.Context, rec protocol.InvocationAuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if s.limit > 0 && len(s.records) > s.limit {
		s.records = append(s.records[:0:0], s.records[len(s.records)-s.limit:]...)
	}
	return nil
}

func (s *MemoryAuditStore) Find(_ context.Context, requestID string) ([]protocol.InvocationAuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.InvocationAuditRecord, 0)
	for _, rec := range s.records {
		if requestID == "" || rec.RequestID == requestID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryAuditStore) Clear() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}
