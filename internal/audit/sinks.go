package audit

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/storage"
)

// DatabaseSink flushes audit batches into the persistent store.
type DatabaseSink struct {
	repo *storage.AuditRepository
}

func NewDatabaseSink(repo *storage.AuditRepository) *DatabaseSink {
	return &DatabaseSink{repo: repo}
}

func (s *DatabaseSink) WriteBatch(entries []storage.AuditEntry) error {
	batch := make([]storage.AuditEntry, len(entries))
	copy(batch, entries)
	return s.repo.CreateBatch(batch)
}

// MemorySink keeps audit entries in memory. Used when no database is
// configured and in tests.
type MemorySink struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
	cap     int
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemorySink{cap: capacity}
}

func (s *MemorySink) WriteBatch(entries []storage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	if overflow := len(s.entries) - s.cap; overflow > 0 {
		s.entries = s.entries[overflow:]
	}
	return nil
}

// Entries returns a copy of the retained entries.
func (s *MemorySink) Entries() []storage.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// LogSink writes audit entries to the structured log. Useful alongside a
// primary sink in development.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) WriteBatch(entries []storage.AuditEntry) error {
	for _, e := range entries {
		s.logger.Info("audit",
			zap.String("endpoint", e.Endpoint),
			zap.String("method", e.Method),
			zap.String("client_id", e.ClientID),
			zap.String("action", e.Action),
			zap.Bool("allowed", e.Allowed),
			zap.String("mode", e.Mode))
	}
	return nil
}
