package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/metrics"
	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// Ledger is the append-only record of state changes.
type Ledger struct {
	repo   repo.AuditRepository
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewLedger constructs a Ledger.
func NewLedger(entries repo.AuditRepository, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: entries, logger: logger, now: time.Now, newID: utils.NewID}
}

// SetClock overrides the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Record builds an entry for actor and appends it.
func (l *Ledger) Record(ctx context.Context, action models.AuditAction, actor models.Actor, details string, opts ...EntryOption) *models.AuditEntry {
	entry := &models.AuditEntry{
		Action:    action,
		Details:   details,
		UserID:    actor.ID,
		UserName:  actor.DisplayName(),
		UserRole:  actor.Role,
		IPAddress: actor.IPAddress,
	}
	for _, opt := range opts {
		opt(entry)
	}
	l.Append(ctx, entry)
	return entry
}

// EntryOption decorates an entry before it is appended.
type EntryOption func(*models.AuditEntry)

// WithModel attaches the model an action concerns.
func WithModel(id, name string) EntryOption {
	return func(e *models.AuditEntry) {
		e.ModelID = id
		e.ModelName = name
	}
}

// WithChange records a before/after pair for field.
func WithChange(field string, before, after any) EntryOption {
	return func(e *models.AuditEntry) {
		if e.Changes == nil {
			e.Changes = make(map[string]models.FieldChange)
		}
		e.Changes[field] = models.FieldChange{Before: before, After: after}
	}
}

// Append stores entry, filling id and timestamp when unset. It never fails the caller:
// storage errors are logged and counted.
func (l *Ledger) Append(ctx context.Context, entry *models.AuditEntry) {
	if entry.ID == "" {
		entry.ID = l.newID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if err := l.repo.AppendAudit(ctx, entry); err != nil {
		metrics.AuditAppendFailed()
		l.logger.Warn("audit append failed",
			slog.String("action", string(entry.Action)),
			slog.String("entry_id", entry.ID),
			slog.Any("error", err),
		)
	}
}

// Query returns one page of entries matching filter, newest first.
func (l *Ledger) Query(ctx context.Context, filter models.AuditFilter, page models.PageRequest) (models.Page[*models.AuditEntry], error) {
	entries, err := l.repo.QueryAudit(ctx, filter)
	if err != nil {
		return models.Page[*models.AuditEntry]{}, err
	}
	return models.Paginate(entries, page), nil
}

// Entries returns every entry matching filter, newest first.
func (l *Ledger) Entries(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	return l.repo.QueryAudit(ctx, filter)
}
