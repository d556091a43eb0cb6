package incidents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// AlertLookup resolves weak alert references.
type AlertLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
	Summaries(ctx context.Context, ids []string) []models.AlertSummary
}

// Correlator owns incidents and their RCA lifecycle. Alerts are referenced by id only.
type Correlator struct {
	repo   repo.IncidentRepository
	alerts AlertLookup
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
	locks  *utils.KeyedMutex
}

// Option customises a Correlator.
type Option func(*Correlator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// WithIDGenerator overrides incident id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Correlator) { c.newID = fn }
}

// NewCorrelator constructs a Correlator.
func NewCorrelator(incidents repo.IncidentRepository, alerts AlertLookup, logger *slog.Logger, opts ...Option) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Correlator{
		repo:   incidents,
		alerts: alerts,
		logger: logger,
		now:    time.Now,
		newID:  utils.NewID,
		locks:  utils.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create opens an incident linking the given alerts.
func (c *Correlator) Create(ctx context.Context, req models.CreateIncidentRequest, actor models.Actor) (*models.Incident, error) {
	const op = "incidents.Create"
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, utils.Invalid(op, "title is required")
	}
	severity := req.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}
	if !severity.Valid() {
		return nil, utils.Invalid(op, "unknown severity %q", severity)
	}

	linked := make([]string, 0, len(req.LinkedAlerts))
	seen := make(map[string]struct{}, len(req.LinkedAlerts))
	for _, id := range req.LinkedAlerts {
		if _, dup := seen[id]; dup {
			continue
		}
		if err := c.requireAlert(ctx, op, id); err != nil {
			return nil, err
		}
		seen[id] = struct{}{}
		linked = append(linked, id)
	}

	now := c.now().UTC()
	incident := &models.Incident{
		ID:           c.newID(),
		Title:        title,
		Severity:     severity,
		Status:       models.IncidentOpen,
		LinkedAlerts: linked,
		StartTime:    now,
		Timeline: []models.TimelineEntry{{
			Timestamp: now,
			Event:     "Incident Created",
			User:      actor.DisplayName(),
			Details:   fmt.Sprintf("Incident opened with %d linked alert(s)", len(linked)),
		}},
		CreatedBy: actor.ID,
		UpdatedAt: now,
	}
	if err := c.repo.InsertIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Info("incident created", slog.String("incident_id", incident.ID), slog.String("severity", string(severity)))
	return incident, nil
}

// Link adds an alert to an open incident. Linking an already linked alert is a no-op and
// added reports false.
func (c *Correlator) Link(ctx context.Context, incidentID, alertID string, actor models.Actor) (incident *models.Incident, added bool, err error) {
	const op = "incidents.Link"
	if err := c.requireAlert(ctx, op, alertID); err != nil {
		return nil, false, err
	}

	unlock := c.locks.Lock(incidentID)
	defer unlock()

	incident, err = c.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, false, err
	}
	if incident.HasAlert(alertID) {
		return incident, false, nil
	}
	if incident.Status == models.IncidentClosed {
		return nil, false, utils.NewAppError(op, "cannot link alerts to a closed incident", utils.ErrInvalidTransition)
	}

	now := c.now().UTC()
	incident.LinkedAlerts = append(incident.LinkedAlerts, alertID)
	incident.Timeline = append(incident.Timeline, models.TimelineEntry{
		Timestamp: now,
		Event:     "Alert Linked",
		User:      actor.DisplayName(),
		Details:   "Linked alert " + alertID,
	})
	incident.UpdatedAt = now
	if err := c.repo.UpdateIncident(ctx, incident); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return incident, true, nil
}

// UpdateRCA applies a partial update to an open incident, appending the caller's
// timeline entry when one is supplied.
func (c *Correlator) UpdateRCA(ctx context.Context, incidentID string, update models.RCAUpdate, actor models.Actor) (*models.Incident, error) {
	const op = "incidents.UpdateRCA"
	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return nil, utils.Invalid(op, "title cannot be blank")
	}
	if update.Severity != nil && !update.Severity.Valid() {
		return nil, utils.Invalid(op, "unknown severity %q", *update.Severity)
	}
	if update.TimelineEntry != nil && strings.TrimSpace(update.TimelineEntry.Event) == "" {
		return nil, utils.Invalid(op, "timeline entry requires an event")
	}

	unlock := c.locks.Lock(incidentID)
	defer unlock()

	incident, err := c.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status == models.IncidentClosed {
		return nil, utils.NewAppError(op, "closed incidents cannot be updated", utils.ErrInvalidTransition)
	}

	now := c.now().UTC()
	if update.Title != nil {
		incident.Title = strings.TrimSpace(*update.Title)
	}
	if update.Severity != nil {
		incident.Severity = *update.Severity
	}
	if update.RootCause != nil {
		incident.RootCause = *update.RootCause
	}
	if update.MitigationSteps != nil {
		incident.MitigationSteps = *update.MitigationSteps
	}
	if update.TimelineEntry != nil {
		entry := *update.TimelineEntry
		entry.Timestamp = now
		if entry.User == "" {
			entry.User = actor.DisplayName()
		}
		incident.Timeline = append(incident.Timeline, entry)
	}
	incident.UpdatedAt = now

	if err := c.repo.UpdateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return incident, nil
}

// Close ends an incident. It fails with ErrMissingRootCause until a root cause is recorded.
func (c *Correlator) Close(ctx context.Context, incidentID string, actor models.Actor) (*models.Incident, error) {
	const op = "incidents.Close"
	unlock := c.locks.Lock(incidentID)
	defer unlock()

	incident, err := c.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status == models.IncidentClosed {
		return nil, utils.NewAppError(op, "incident is already closed", utils.ErrInvalidTransition)
	}
	if strings.TrimSpace(incident.RootCause) == "" {
		return nil, utils.NewAppError(op, "root cause analysis is required before closing", utils.ErrMissingRootCause)
	}

	now := c.now().UTC()
	incident.Status = models.IncidentClosed
	incident.EndTime = &now
	incident.ApprovedBy = actor.DisplayName()
	incident.Timeline = append(incident.Timeline, models.TimelineEntry{
		Timestamp: now,
		Event:     "Incident Closed",
		User:      actor.DisplayName(),
		Details:   "Closed after root cause review",
	})
	incident.UpdatedAt = now
	if err := c.repo.UpdateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Info("incident closed", slog.String("incident_id", incident.ID), slog.String("approved_by", incident.ApprovedBy))
	return incident, nil
}

// Get returns one incident.
func (c *Correlator) Get(ctx context.Context, id string) (*models.Incident, error) {
	return c.repo.GetIncident(ctx, id)
}

// Detail joins the incident with summaries of its linked alerts.
func (c *Correlator) Detail(ctx context.Context, id string) (models.IncidentDetail, error) {
	incident, err := c.repo.GetIncident(ctx, id)
	if err != nil {
		return models.IncidentDetail{}, err
	}
	return models.IncidentDetail{Incident: incident, LinkedAlertDetails: c.alerts.Summaries(ctx, incident.LinkedAlerts)}, nil
}

// List returns incidents matching filter, newest first.
func (c *Correlator) List(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	return c.repo.ListIncidents(ctx, filter)
}

func (c *Correlator) requireAlert(ctx context.Context, op, id string) error {
	if strings.TrimSpace(id) == "" {
		return utils.Invalid(op, "alert id is required")
	}
	ok, err := c.alerts.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return utils.NotFound(op, "alert %s not found", id)
	}
	return nil
}
