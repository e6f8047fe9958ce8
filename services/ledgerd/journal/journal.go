package journal

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
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pynthchain/core/events"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var ErrUnsupportedDriver = errors.New("journal: unsupported driver")

// Entry is one committed ledger event.
type Entry struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	Sequence   uint64    `gorm:"uniqueIndex;not null" json:"sequence"`
	Type       string    `gorm:"size:64;index;not null" json:"type"`
	Account    string    `gorm:"size:96;index" json:"account,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	RecordedAt time.Time `gorm:"index" json:"recordedAt"`
}

func (Entry) TableName() string { return "ledger_events" }

// Decoded returns the event attributes.
func (e Entry) Decoded() map[string]string {
	out := map[string]string{}
	if e.Attributes == "" {
		return out
	}
	_ = json.Unmarshal([]byte(e.Attributes), &out)
	return out
}

// Filter narrows a journal query. Zero values match everything.
type Filter struct {
	Type          string
	Account       string
	AfterSequence uint64
	Limit         int
}

// Journal appends committed ledger events to an SQL table and serves them
// back. It satisfies events.Emitter so the node can publish into it directly.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// Open connects to the configured backend.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	return gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

// New migrates the schema and resumes numbering after the last stored entry.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last uint64
	if err := db.Model(&Entry{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	return &Journal{db: db, logger: log, now: time.Now, seq: last}, nil
}

// SetClock overrides the timestamp source.
func (j *Journal) SetClock(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// Emit records ev. Storage failures are logged; the ledger has already
// committed by the time events are published.
func (j *Journal) Emit(ev events.Event) {
	if j == nil || ev == nil {
		return
	}
	if _, err := j.Append(context.Background(), ev); err != nil {
		j.logger.Error("journal append failed", slog.String("type", ev.EventType()), slog.Any("error", err))
	}
}

// Append stores ev and returns the stored entry.
func (j *Journal) Append(ctx context.Context, ev events.Event) (Entry, error) {
	converted := events.ToTypes(ev)
	attrs, err := json.Marshal(converted.Attributes)
	if err != nil {
		return Entry{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entry := Entry{
		Sequence:   j.seq + 1,
		Type:       converted.Type,
		Account:    converted.Attributes["account"],
		Attributes: string(attrs),
		RecordedAt: j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return Entry{}, err
	}
	j.seq = entry.Sequence
	return entry, nil
}

// List returns entries in sequence order.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := j.db.WithContext(ctx).Model(&Entry{}).Where("sequence > ?", filter.AfterSequence)
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if account := strings.TrimSpace(filter.Account); account != "" {
		query = query.Where("account = ?", account)
	}
	var out []Entry
	if err := query.Order("sequence ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Last returns the highest stored sequence.
func (j *Journal) Last() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}
