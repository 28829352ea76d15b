// Package indexer persists committed chain events into a SQLite audit log.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vchain/core/events"
	"vchain/observability"
	"vchain/observability/logging"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Indexer is an events.Emitter that writes every event it receives to the
// chain_events table. The chain host only forwards committed events, so the
// table never holds events of a rejected operation.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu   sync.Mutex
	next uint64
}

// Open opens the SQLite database at path and migrates the schema.
func Open(path string, log *slog.Logger) (*Indexer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("indexer: path required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", path, err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	idx := &Indexer{db: db, logger: log, nowFn: func() time.Time { return time.Now().UTC() }}

	var last struct{ Max *uint64 }
	if err := db.Model(&Record{}).Select("MAX(sequence) AS max").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", err)
	}
	if last.Max != nil {
		idx.next = *last.Max + 1
	}
	return idx, nil
}

// SetNowFunc overrides the record clock. Nil restores the UTC clock.
func (i *Indexer) SetNowFunc(now func() time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	i.nowFn = now
}

// Emit implements events.Emitter. Storage failures are logged and counted;
// they never reach the chain.
func (i *Indexer) Emit(evt events.Event) {
	if i == nil || evt == nil {
		return
	}
	payload := events.Payload(evt)
	attrs := map[string]string{}
	if payload != nil && payload.Attributes != nil {
		attrs = payload.Attributes
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		i.fail(evt.EventType(), err)
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	rec := Record{
		ID:         uuid.New(),
		Sequence:   i.next,
		Type:       evt.EventType(),
		Module:     moduleOf(evt.EventType()),
		Attributes: string(encoded),
		CreatedAt:  i.nowFn(),
	}
	if err := i.db.Create(&rec).Error; err != nil {
		i.fail(rec.Type, err)
		return
	}
	i.next++
	observability.Indexer().RecordStored(rec.Type)
}

func (i *Indexer) fail(eventType string, err error) {
	observability.Indexer().RecordFailure()
	i.logger.Error("indexer: store event",
		slog.String("type", eventType),
		slog.String("error", err.Error()))
}

// Filter narrows a Query.
type Filter struct {
	Type   string
	Module string
	// After returns only records with a larger sequence.
	After *uint64
	Limit int
}

// Query returns records matching f in sequence order.
func (i *Indexer) Query(ctx context.Context, f Filter) ([]Record, error) {
	if i == nil {
		return nil, errors.New("indexer: not configured")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	q := i.db.WithContext(ctx).Model(&Record{})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Module != "" {
		q = q.Where("module = ?", f.Module)
	}
	if f.After != nil {
		q = q.Where("sequence > ?", *f.After)
	}
	var out []Record
	if err := q.Order("sequence ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (i *Indexer) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func moduleOf(eventType string) string {
	if idx := strings.IndexByte(eventType, '.'); idx > 0 {
		return eventType[:idx]
	}
	return eventType
}
