package slo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

const (
	defaultWindow  = "30d"
	burnDownSteps  = 6
	maxBurnSamples = 500
)

// AlertLookup resolves weak alert references.
type AlertLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
	Summaries(ctx context.Context, ids []string) []models.AlertSummary
}

// IncidentLookup resolves weak incident references.
type IncidentLookup interface {
	Get(ctx context.Context, id string) (*models.Incident, error)
}

// Tracker owns SLOs. Status and budget fields are derived from primitives on every read.
type Tracker struct {
	repo      repo.SLORepository
	alerts    AlertLookup
	incidents IncidentLookup
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	locks     *utils.KeyedMutex
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithIDGenerator overrides SLO id generation.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) { t.newID = fn }
}

// NewTracker constructs a Tracker.
func NewTracker(slos repo.SLORepository, alerts AlertLookup, incidents IncidentLookup, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		repo:      slos,
		alerts:    alerts,
		incidents: incidents,
		logger:    logger,
		now:       time.Now,
		newID:     utils.NewID,
		locks:     utils.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create registers an SLO starting healthy: current value at target and no burn.
func (t *Tracker) Create(ctx context.Context, req models.CreateSLORequest) (*models.SLO, error) {
	const op = "slo.Create"
	if strings.TrimSpace(req.ServiceID) == "" {
		return nil, utils.Invalid(op, "service_id is required")
	}
	if strings.TrimSpace(req.Metric) == "" {
		return nil, utils.Invalid(op, "metric is required")
	}
	if req.Target == nil {
		return nil, utils.Invalid(op, "target is required")
	}
	target := *req.Target
	if err := validateTarget(op, target, req.MetricUnit); err != nil {
		return nil, err
	}
	direction := req.Direction
	if direction == "" {
		direction = models.DirectionAtLeast
	}
	if !direction.Valid() {
		return nil, utils.Invalid(op, "unknown direction %q", direction)
	}
	window := req.EvaluationWindow
	if window == "" {
		window = defaultWindow
	}
	if _, err := utils.ParseWindow(window); err != nil {
		return nil, utils.Invalid(op, "evaluation_window: %v", err)
	}
	name := req.ServiceName
	if name == "" {
		name = req.ServiceID
	}

	now := t.now().UTC()
	slo := &models.SLO{
		ID:               t.newID(),
		ServiceID:        req.ServiceID,
		ServiceName:      name,
		Metric:           req.Metric,
		MetricUnit:       req.MetricUnit,
		Direction:        direction,
		Target:           target,
		CurrentValue:     target,
		EvaluationWindow: window,
		CurrentBurnRate:  0,
		BurnHistory:      []models.BurnSample{},
		LinkedAlerts:     []string{},
		LinkedIncidents:  []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := t.repo.InsertSLO(ctx, slo); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t.logger.Info("slo created", slog.String("slo_id", slo.ID), slog.String("service_id", slo.ServiceID), slog.String("metric", slo.Metric))
	return slo, nil
}

// Recompute records a new current value and burn rate. Status follows from them.
func (t *Tracker) Recompute(ctx context.Context, id string, currentValue, burnRate float64) (*models.SLO, error) {
	const op = "slo.Recompute"
	if math.IsNaN(currentValue) || math.IsInf(currentValue, 0) {
		return nil, utils.Invalid(op, "current_value must be a finite number")
	}
	if math.IsNaN(burnRate) || burnRate < 0 || burnRate > 1 {
		return nil, utils.Invalid(op, "burn_rate must be within [0, 1]")
	}

	return t.mutate(ctx, op, id, func(slo *models.SLO, now time.Time) {
		slo.CurrentValue = currentValue
		slo.CurrentBurnRate = burnRate
		slo.BurnHistory = append(slo.BurnHistory, models.BurnSample{
			Timestamp:    now,
			CurrentValue: currentValue,
			BurnRate:     burnRate,
			Target:       slo.Target,
		})
		if n := len(slo.BurnHistory); n > maxBurnSamples {
			slo.BurnHistory = append([]models.BurnSample(nil), slo.BurnHistory[n-maxBurnSamples:]...)
		}
	})
}

// Update changes target, window, or display name. Burn history is left as recorded.
func (t *Tracker) Update(ctx context.Context, id string, update models.SLOUpdate) (*models.SLO, error) {
	const op = "slo.Update"
	if update.EvaluationWindow != nil {
		if _, err := utils.ParseWindow(*update.EvaluationWindow); err != nil {
			return nil, utils.Invalid(op, "evaluation_window: %v", err)
		}
	}
	if update.ServiceName != nil && strings.TrimSpace(*update.ServiceName) == "" {
		return nil, utils.Invalid(op, "service_name cannot be blank")
	}

	var invalid error
	slo, err := t.mutateIf(ctx, op, id, func(slo *models.SLO, _ time.Time) bool {
		if update.Target != nil {
			if invalid = validateTarget(op, *update.Target, slo.MetricUnit); invalid != nil {
				return false
			}
			slo.Target = *update.Target
		}
		if update.EvaluationWindow != nil {
			slo.EvaluationWindow = *update.EvaluationWindow
		}
		if update.ServiceName != nil {
			slo.ServiceName = *update.ServiceName
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if invalid != nil {
		return nil, invalid
	}
	return slo, nil
}

// LinkAlert records a weak reference to an alert. Existing links are left as is.
func (t *Tracker) LinkAlert(ctx context.Context, id, alertID string) (*models.SLO, bool, error) {
	const op = "slo.LinkAlert"
	ok, err := t.alerts.Exists(ctx, alertID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, false, utils.NotFound(op, "alert %s not found", alertID)
	}
	return t.link(ctx, op, id, alertID, func(s *models.SLO) *[]string { return &s.LinkedAlerts })
}

// LinkIncident records a weak reference to an incident.
func (t *Tracker) LinkIncident(ctx context.Context, id, incidentID string) (*models.SLO, bool, error) {
	const op = "slo.LinkIncident"
	if _, err := t.incidents.Get(ctx, incidentID); err != nil {
		return nil, false, err
	}
	return t.link(ctx, op, id, incidentID, func(s *models.SLO) *[]string { return &s.LinkedIncidents })
}

func (t *Tracker) link(ctx context.Context, op, id, ref string, field func(*models.SLO) *[]string) (*models.SLO, bool, error) {
	added := false
	slo, err := t.mutateIf(ctx, op, id, func(slo *models.SLO, _ time.Time) bool {
		refs := field(slo)
		for _, existing := range *refs {
			if existing == ref {
				return false
			}
		}
		*refs = append(*refs, ref)
		added = true
		return true
	})
	return slo, added, err
}

// Get returns one SLO.
func (t *Tracker) Get(ctx context.Context, id string) (*models.SLO, error) {
	return t.repo.GetSLO(ctx, id)
}

// Detail joins the SLO with summaries of its linked alerts.
func (t *Tracker) Detail(ctx context.Context, id string) (models.SLODetail, error) {
	slo, err := t.repo.GetSLO(ctx, id)
	if err != nil {
		return models.SLODetail{}, err
	}
	return models.SLODetail{SLO: slo, LinkedAlertDetails: t.alerts.Summaries(ctx, slo.LinkedAlerts)}, nil
}

// List returns SLOs matching filter.
func (t *Tracker) List(ctx context.Context, filter models.SLOFilter) ([]*models.SLO, error) {
	return t.repo.ListSLOs(ctx, filter)
}

// Breaches lists SLOs that are breached or at risk, breached first.
func (t *Tracker) Breaches(ctx context.Context) ([]*models.SLO, error) {
	all, err := t.repo.ListSLOs(ctx, models.SLOFilter{})
	if err != nil {
		return nil, err
	}
	breached := make([]*models.SLO, 0)
	atRisk := make([]*models.SLO, 0)
	for _, s := range all {
		switch s.Status() {
		case models.SLOBreached:
			breached = append(breached, s)
		case models.SLOAtRisk:
			atRisk = append(atRisk, s)
		}
	}
	return append(breached, atRisk...), nil
}

// BurnDown projects the error budget over the SLO's window from its current burn rate.
func (t *Tracker) BurnDown(ctx context.Context, id string) ([]models.BurnDownPoint, error) {
	slo, err := t.repo.GetSLO(ctx, id)
	if err != nil {
		return nil, err
	}
	return Project(slo)
}

// Project linearly depletes the start-of-window budget at the current burn rate, sampled at
// evenly spaced points from the start of the window to now.
func Project(slo *models.SLO) ([]models.BurnDownPoint, error) {
	window, err := utils.ParseWindow(slo.EvaluationWindow)
	if err != nil {
		return nil, utils.Invalid("slo.Project", "evaluation_window: %v", err)
	}
	budget := slo.ErrorBudget()
	points := make([]models.BurnDownPoint, 0, burnDownSteps+1)
	for i := 0; i <= burnDownSteps; i++ {
		elapsed := float64(i) / burnDownSteps
		remainingPct := math.Max(0, 100*(1-slo.CurrentBurnRate*elapsed))
		ago := window - window*time.Duration(i)/burnDownSteps
		points = append(points, models.BurnDownPoint{
			Label:            utils.FormatAgo(ago),
			Ago:              ago,
			Remaining:        models.Round4(budget * remainingPct / 100),
			RemainingPercent: models.Round4(remainingPct),
		})
	}
	return points, nil
}

func (t *Tracker) mutate(ctx context.Context, op, id string, apply func(*models.SLO, time.Time)) (*models.SLO, error) {
	return t.mutateIf(ctx, op, id, func(s *models.SLO, now time.Time) bool {
		apply(s, now)
		return true
	})
}

// mutateIf serialises read-modify-write per SLO and skips the write when apply reports no change.
func (t *Tracker) mutateIf(ctx context.Context, op, id string, apply func(*models.SLO, time.Time) bool) (*models.SLO, error) {
	unlock := t.locks.Lock(id)
	defer unlock()

	slo, err := t.repo.GetSLO(ctx, id)
	if err != nil {
		return nil, err
	}
	now := t.now().UTC()
	if !apply(slo, now) {
		return slo, nil
	}
	slo.UpdatedAt = now
	if err := t.repo.UpdateSLO(ctx, slo); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return slo, nil
}

func validateTarget(op string, target float64, unit string) error {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return utils.Invalid(op, "target must be a finite number")
	}
	if target < 0 {
		return utils.Invalid(op, "target must not be negative")
	}
	if models.IsPercentUnit(unit) && target > 100 {
		return utils.Invalid(op, "percent target must be within [0, 100]")
	}
	return nil
}
