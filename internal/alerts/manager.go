package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// Manager owns alerts: creation with dedup, the linear lifecycle, and read access to
// evidence and history.
type Manager struct {
	repo   repo.AlertRepository
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	dedup    *utils.KeyedMutex
	perAlert *utils.KeyedMutex
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager constructs a Manager over the given repository.
func NewManager(alerts repo.AlertRepository, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		repo:     alerts,
		logger:   logger,
		now:      time.Now,
		newID:    utils.NewID,
		dedup:    utils.NewKeyedMutex(),
		perAlert: utils.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens an alert for breach unless a non-resolved alert already exists for the same
// (model, rule). In that case the existing alert is returned untouched and created is false.
func (m *Manager) Create(ctx context.Context, breach models.BreachDescriptor) (*models.Alert, bool, error) {
	if breach.ModelID == "" || breach.Rule == "" {
		return nil, false, utils.Invalid("alerts.Create", "breach requires model id and rule")
	}
	key := models.DedupKey(breach.ModelID, breach.Rule)
	unlock := m.dedup.Lock(key)
	defer unlock()

	existing, ok, err := m.repo.FindOpenAlert(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("alerts.Create: %w", err)
	}
	if ok {
		m.logger.Debug("alert deduplicated", slog.String("alert_id", existing.ID), slog.String("dedup_key", key))
		return existing, false, nil
	}

	alert := models.NewAlert(m.newID(), breach, m.now().UTC())
	if err := m.repo.InsertAlert(ctx, alert); err != nil {
		if !errors.Is(err, utils.ErrConflict) {
			return nil, false, fmt.Errorf("alerts.Create: %w", err)
		}
		// Another process won the race through the storage-level guard.
		winner, ok, findErr := m.repo.FindOpenAlert(ctx, key)
		if findErr != nil {
			return nil, false, fmt.Errorf("alerts.Create: %w", findErr)
		}
		if !ok {
			return nil, false, fmt.Errorf("alerts.Create: %w", err)
		}
		return winner, false, nil
	}

	m.logger.Info("alert created",
		slog.String("alert_id", alert.ID),
		slog.String("model_id", alert.ModelID),
		slog.String("rule", alert.Rule),
		slog.String("severity", string(alert.Severity)),
	)
	return alert, true, nil
}

// Transition moves an alert to target, which must be the single successor of its current
// state. Resolving requires a non-blank comment. On failure nothing is written.
func (m *Manager) Transition(ctx context.Context, id string, target models.AlertStatus, actor models.Actor, comment string) (*models.Alert, error) {
	const op = "alerts.Transition"
	if !target.Valid() {
		return nil, utils.Invalid(op, "unknown alert status %q", target)
	}
	if target == models.AlertResolved && strings.TrimSpace(comment) == "" {
		return nil, utils.NewAppError(op, "a resolution comment is required", utils.ErrMissingComment)
	}

	unlock := m.perAlert.Lock(id)
	defer unlock()

	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if !alert.Status.CanTransitionTo(target) {
		return nil, utils.NewAppError(op, fmt.Sprintf("cannot move alert from %s to %s", alert.Status, target), utils.ErrInvalidTransition)
	}

	now := m.now().UTC()
	previous := alert.Status
	alert.StateHistory = append(alert.StateHistory, models.StateTransition{
		PreviousState: &previous,
		NewState:      target,
		UserID:        actor.ID,
		UserName:      actor.DisplayName(),
		Timestamp:     now,
		Comment:       comment,
	})
	alert.Status = target
	alert.UpdatedAt = now
	switch target {
	case models.AlertAcknowledged:
		alert.AssignedTo = actor.ID
	case models.AlertResolved:
		alert.ResolvedAt = &now
		alert.ResolvedBy = actor.ID
	}

	if err := m.repo.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Info("alert transitioned",
		slog.String("alert_id", id),
		slog.String("from", string(previous)),
		slog.String("to", string(target)),
		slog.String("user_id", actor.ID),
	)
	return alert, nil
}

// Get returns one alert.
func (m *Manager) Get(ctx context.Context, id string) (*models.Alert, error) {
	return m.repo.GetAlert(ctx, id)
}

// Evidence returns the immutable evidence captured at creation.
func (m *Manager) Evidence(ctx context.Context, id string) (models.EvidenceSnapshot, error) {
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return models.EvidenceSnapshot{}, err
	}
	return alert.Evidence(), nil
}

// History returns the ordered state transitions of an alert.
func (m *Manager) History(ctx context.Context, id string) ([]models.StateTransition, error) {
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	return alert.StateHistory, nil
}

// List returns alerts matching filter, newest first.
func (m *Manager) List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	return m.repo.ListAlerts(ctx, filter)
}

// Summaries resolves alert ids to summaries, skipping ids that no longer resolve.
func (m *Manager) Summaries(ctx context.Context, ids []string) []models.AlertSummary {
	out := make([]models.AlertSummary, 0, len(ids))
	for _, id := range ids {
		alert, err := m.repo.GetAlert(ctx, id)
		if err != nil {
			if !errors.Is(err, utils.ErrNotFound) {
				m.logger.Warn("alert summary lookup failed", slog.String("alert_id", id), slog.Any("error", err))
			}
			continue
		}
		out = append(out, alert.Summary())
	}
	return out
}

// Exists reports whether an alert id resolves.
func (m *Manager) Exists(ctx context.Context, id string) (bool, error) {
	_, err := m.repo.GetAlert(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, utils.ErrNotFound) {
		return false, nil
	}
	return false, err
}
