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
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mortgagechain/core/events"
)

const defaultHistoryLimit = 100

var ErrUnknownDriver = errors.New("indexer: unknown driver")

// EventRecord is one committed event as stored in the history database.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	MortgageID string    `gorm:"size:32;index"`
	LoanID     string    `gorm:"size:32;index"`
	Engine     string    `gorm:"size:96"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// Entry is the decoded view of an EventRecord.
type Entry struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Filter narrows a history query. Zero fields match everything.
type Filter struct {
	Type       string
	MortgageID string
	LoanID     string
	// After returns only entries with a larger sequence number.
	After uint64
	Limit int
}

// Indexer persists committed events and serves them back by mortgage, loan
// or type. It implements events.Emitter so the node can fan events into it.
type Indexer struct {
	db     *gorm.DB
	mu     sync.Mutex
	next   uint64
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string) (*Indexer, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("indexer: sqlite DSN required")
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an open gorm handle.
func New(db *gorm.DB) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	var last EventRecord
	res := db.Order("sequence desc").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", res.Error)
	}
	next := uint64(1)
	if res.RowsAffected > 0 {
		next = last.Sequence + 1
	}
	return &Indexer{db: db, next: next, logger: slog.Default(), nowFn: time.Now}, nil
}

// SetLogger routes write failures to logger.
func (ix *Indexer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		ix.logger = logger
	}
}

// Emit stores evt. Emit cannot report errors, so failures are logged.
func (ix *Indexer) Emit(evt events.Event) {
	if err := ix.Record(context.Background(), evt); err != nil {
		ix.logger.Error("index event failed",
			slog.String("event", evt.EventType()),
			slog.String("error", err.Error()))
	}
}

// Record stores evt and assigns it the next sequence number.
func (ix *Indexer) Record(ctx context.Context, evt events.Event) error {
	rendered := events.Render(evt)
	if rendered == nil {
		return nil
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return fmt.Errorf("indexer: encode attributes: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	rec := EventRecord{
		ID:         uuid.New(),
		Sequence:   ix.next,
		Type:       rendered.Type,
		MortgageID: rendered.Attr("mortgageId"),
		LoanID:     rendered.Attr("loanId"),
		Engine:     rendered.Attr("engine"),
		Attributes: string(attrs),
		CreatedAt:  ix.nowFn().UTC(),
	}
	if err := ix.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("indexer: insert: %w", err)
	}
	ix.next++
	return nil
}

// History returns matching entries in sequence order.
func (ix *Indexer) History(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 10*defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	q := ix.db.WithContext(ctx).Model(&EventRecord{}).Where("sequence > ?", filter.After)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.MortgageID != "" {
		q = q.Where("mortgage_id = ?", filter.MortgageID)
	}
	if filter.LoanID != "" {
		q = q.Where("loan_id = ?", filter.LoanID)
	}
	var rows []EventRecord
	if err := q.Order("sequence asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("indexer: query: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("indexer: decode %s: %w", row.ID, err)
			}
		}
		out = append(out, Entry{
			ID:         row.ID.String(),
			Sequence:   row.Sequence,
			Type:       row.Type,
			Attributes: attrs,
			RecordedAt: row.CreatedAt,
		})
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
