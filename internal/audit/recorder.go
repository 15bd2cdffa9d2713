package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/config"
	"github.com/pactguard/pactguard/internal/storage"
)

// Sink receives flushed audit entry batches.
type Sink interface {
	WriteBatch(entries []storage.AuditEntry) error
}

// Event is one enforcement decision to be recorded on the audit trail.
type Event struct {
	Endpoint string
	Method   string
	ClientID string
	UserID   string
	Action   string
	Allowed  bool
	Mode     string
	Detail   string
}

// Recorder batches audit events and flushes them to a sink.
type Recorder struct {
	config      config.AuditConfig
	logger      *zap.Logger
	sink        Sink
	mu          sync.Mutex
	running     bool
	stopChan    chan struct{}
	eventChan   chan Event
	batchBuffer []storage.AuditEntry
	lastFlush   time.Time
}

// NewRecorder creates a new audit recorder.
func NewRecorder(cfg config.AuditConfig, sink Sink, logger *zap.Logger) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Recorder{
		config:      cfg,
		logger:      logger,
		sink:        sink,
		stopChan:    make(chan struct{}),
		eventChan:   make(chan Event, cfg.BatchSize*4),
		batchBuffer: make([]storage.AuditEntry, 0, cfg.BatchSize),
		lastFlush:   time.Now(),
	}
}

// Start starts the audit recorder processing loop.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("audit recorder is already running")
	}

	go r.processingLoop(ctx)

	r.running = true
	r.logger.Info("Audit recorder started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("flush_interval", r.config.FlushInterval))
	return nil
}

// Stop flushes any buffered entries and stops the recorder.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopChan)
	r.flushBatch()
	r.running = false
	r.logger.Info("Audit recorder stopped")
}

// Record submits an event to the recorder. A full buffer drops the event
// rather than blocking the request path.
func (r *Recorder) Record(event Event) error {
	select {
	case r.eventChan <- event:
		return nil
	default:
		r.logger.Warn("Audit event buffer full, dropping event",
			zap.String("endpoint", event.Endpoint),
			zap.String("action", event.Action))
		return fmt.Errorf("audit event buffer full")
	}
}

func (r *Recorder) processingLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case event := <-r.eventChan:
			r.addToBatch(event)
		case <-ticker.C:
			r.flushBatchIfNeeded()
		}
	}
}

func (r *Recorder) addToBatch(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batchBuffer = append(r.batchBuffer, toEntry(event))

	if len(r.batchBuffer) >= r.config.BatchSize {
		r.flushBatch()
	}
}

func (r *Recorder) flushBatchIfNeeded() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.batchBuffer) > 0 && time.Since(r.lastFlush) >= r.config.FlushInterval {
		r.flushBatch()
	}
}

// flushBatch requires r.mu held.
func (r *Recorder) flushBatch() {
	if len(r.batchBuffer) == 0 {
		return
	}

	if err := r.sink.WriteBatch(r.batchBuffer); err != nil {
		r.logger.Error("Failed to flush audit batch",
			zap.Int("count", len(r.batchBuffer)),
			zap.Error(err))
	} else {
		r.logger.Debug("Flushed audit batch", zap.Int("count", len(r.batchBuffer)))
	}

	r.batchBuffer = r.batchBuffer[:0]
	r.lastFlush = time.Now()
}

func toEntry(event Event) storage.AuditEntry {
	entry := storage.AuditEntry{
		Endpoint:  event.Endpoint,
		Method:    event.Method,
		ClientID:  event.ClientID,
		UserID:    event.UserID,
		Action:    event.Action,
		Allowed:   event.Allowed,
		Mode:      event.Mode,
		Detail:    event.Detail,
		CreatedAt: time.Now(),
	}
	entry.Checksum = checksum(entry)
	return entry
}

// checksum fingerprints the entry content so tampering is detectable later.
func checksum(entry storage.AuditEntry) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%t|%s|%s|%d",
		entry.Endpoint, entry.Method, entry.ClientID, entry.UserID,
		entry.Action, entry.Allowed, entry.Mode, entry.Detail,
		entry.CreatedAt.UnixNano())))
	return hex.EncodeToString(sum[:])
}
