package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rico/core/events"
)

// Record is one persisted event.
type Record struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	CallID      string    `gorm:"size:36;index"`
	Seq         int
	Block       uint64 `gorm:"index"`
	Type        string `gorm:"size:64;index"`
	Participant string `gorm:"size:42;index"`
	Attributes  string `gorm:"type:text"`
	CreatedAt   time.Time
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Type        string
	Participant string
	CallID      string
	FromBlock   uint64
	ToBlock     uint64
	Limit       int
}

// Store writes sale events to SQLite.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to dsn and migrates the schema. Use
// "file:<name>?mode=memory&cache=shared" for a throwaway log.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("eventlog: dsn required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	return &Store{db: db, logger: slog.Default().With("component", "eventlog")}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append stores the events of one committed call in a single transaction.
func (s *Store) Append(ctx context.Context, callID string, block uint64, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]Record, 0, len(evts))
	for i, evt := range evts {
		rec, err := newRecord(evt)
		if err != nil {
			return err
		}
		rec.CallID = callID
		rec.Seq = i
		rec.Block = block
		rec.CreatedAt = now
		records = append(records, rec)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
}

// Emit implements events.Emitter for events raised outside a processor
// call. They are stored without call identifier and block.
func (s *Store) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if err := s.Append(context.Background(), "", 0, []events.Event{evt}); err != nil {
		s.logger.Error("event append failed", "type", evt.EventType(), "error", err)
	}
}

func newRecord(evt events.Event) (Record, error) {
	rec := Record{ID: uuid.New(), Type: evt.EventType()}
	attrs := map[string]string{}
	if payload, ok := evt.(events.Payload); ok {
		if typed := payload.Event(); typed != nil && typed.Attributes != nil {
			attrs = typed.Attributes
		}
	}
	for _, key := range []string{"participant", "wallet", "from"} {
		if v := attrs[key]; v != "" {
			rec.Participant = strings.ToLower(v)
			break
		}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: encode %s: %w", rec.Type, err)
	}
	rec.Attributes = string(encoded)
	return rec, nil
}

// Decode returns the attribute map of the record.
func (r Record) Decode() (map[string]string, error) {
	attrs := map[string]string{}
	if r.Attributes == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// List returns matching records ordered by block, call and position.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	q := s.db.WithContext(ctx).Model(&Record{})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Participant != "" {
		q = q.Where("participant = ?", strings.ToLower(f.Participant))
	}
	if f.CallID != "" {
		q = q.Where("call_id = ?", f.CallID)
	}
	if f.FromBlock > 0 {
		q = q.Where("block >= ?", f.FromBlock)
	}
	if f.ToBlock > 0 {
		q = q.Where("block <= ?", f.ToBlock)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []Record
	if err := q.Order("block asc").Order("created_at asc").Order("call_id asc").Order("seq asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
