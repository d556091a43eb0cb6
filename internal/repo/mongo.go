package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

const (
	collMetrics   = "metrics"
	collAlerts    = "alerts"
	collIncidents = "incidents"
	collSLOs      = "slos"
	collAudit     = "audit_logs"
)

// MongoConfig holds connection parameters for the document store.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// NewMongoStore connects, ensures indexes, and returns a Store backed by MongoDB.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "modelwatch"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(cfg.Database)
	if err := ensureIndexes(connectCtx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &Store{
		Metrics:   &MongoMetrics{coll: db.Collection(collMetrics)},
		Alerts:    &MongoAlerts{coll: db.Collection(collAlerts)},
		Incidents: &MongoIncidents{coll: db.Collection(collIncidents)},
		SLOs:      &MongoSLOs{coll: db.Collection(collSLOs)},
		Audit:     &MongoAudit{coll: db.Collection(collAudit)},
		closer:    client.Disconnect,
	}, nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		collMetrics: {{
			Keys: bson.D{{Key: "model_id", Value: 1}, {Key: "metric_type", Value: 1}, {Key: "timestamp", Value: 1}},
		}},
		collAlerts: {
			{
				Keys: bson.D{{Key: "dedup_key", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"dedup_key": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		collAudit: {{
			Keys: bson.D{{Key: "timestamp", Value: -1}},
		}},
	}
	for coll, specs := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("mongo indexes %s: %w", coll, err)
		}
	}
	return nil
}

func mongoErr(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return utils.NewAppError(op, "not found", utils.ErrNotFound)
	}
	if mongo.IsDuplicateKeyError(err) {
		return utils.NewAppError(op, "duplicate key", utils.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func decodeAll[T any](ctx context.Context, cur *mongo.Cursor) ([]*T, error) {
	defer cur.Close(ctx)
	out := make([]*T, 0)
	for cur.Next(ctx) {
		var item T
		if err := cur.Decode(&item); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, cur.Err()
}

// MongoMetrics stores metric points as one document each.
type MongoMetrics struct {
	coll *mongo.Collection
}

// AppendMetric implements MetricRepository.
func (m *MongoMetrics) AppendMetric(ctx context.Context, point models.MetricPoint) error {
	if _, err := m.coll.InsertOne(ctx, point); err != nil {
		return mongoErr("mongo.AppendMetric", err)
	}
	return nil
}

func seriesFilter(q models.MetricQuery) bson.M {
	filter := bson.M{"model_id": q.ModelID, "metric_type": q.MetricType}
	rng := bson.M{}
	if !q.Start.IsZero() {
		rng["$gte"] = q.Start
	}
	if !q.End.IsZero() {
		rng["$lt"] = q.End
	}
	if len(rng) > 0 {
		filter["timestamp"] = rng
	}
	return filter
}

// ScanMetrics implements MetricRepository.
func (m *MongoMetrics) ScanMetrics(ctx context.Context, q models.MetricQuery) ([]models.MetricPoint, error) {
	cur, err := m.coll.Find(ctx, seriesFilter(q), options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, mongoErr("mongo.ScanMetrics", err)
	}
	items, err := decodeAll[models.MetricPoint](ctx, cur)
	if err != nil {
		return nil, mongoErr("mongo.ScanMetrics", err)
	}
	out := make([]models.MetricPoint, len(items))
	for i, p := range items {
		out[i] = *p
	}
	return out, nil
}

// LatestMetric implements MetricRepository.
func (m *MongoMetrics) LatestMetric(ctx context.Context, modelID, metricType string) (models.MetricPoint, bool, error) {
	var point models.MetricPoint
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	err := m.coll.FindOne(ctx, bson.M{"model_id": modelID, "metric_type": metricType}, opts).Decode(&point)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.MetricPoint{}, false, nil
	}
	if err != nil {
		return models.MetricPoint{}, false, mongoErr("mongo.LatestMetric", err)
	}
	return point, true, nil
}

// alertDocument is the persisted shape of an alert. DedupKey is only set while the alert is
// not resolved so the partial unique index admits any number of resolved alerts per key.
type alertDocument struct {
	ID           string                   `bson:"_id"`
	ModelID      string                   `bson:"model_id"`
	ModelName    string                   `bson:"model_name"`
	Title        string                   `bson:"title"`
	Message      string                   `bson:"message"`
	Severity     models.Severity          `bson:"severity"`
	Rule         string                   `bson:"rule"`
	Status       models.AlertStatus       `bson:"status"`
	Evidence     models.EvidenceSnapshot  `bson:"evidence"`
	StateHistory []models.StateTransition `bson:"state_history"`
	AssignedTo   string                   `bson:"assigned_to,omitempty"`
	CreatedAt    time.Time                `bson:"created_at"`
	UpdatedAt    time.Time                `bson:"updated_at"`
	ResolvedAt   *time.Time               `bson:"resolved_at"`
	ResolvedBy   string                   `bson:"resolved_by,omitempty"`
	DedupKey     string                   `bson:"dedup_key,omitempty"`
}

func toAlertDocument(a *models.Alert) alertDocument {
	doc := alertDocument{
		ID:           a.ID,
		ModelID:      a.ModelID,
		ModelName:    a.ModelName,
		Title:        a.Title,
		Message:      a.Message,
		Severity:     a.Severity,
		Rule:         a.Rule,
		Status:       a.Status,
		Evidence:     a.Evidence(),
		StateHistory: a.StateHistory,
		AssignedTo:   a.AssignedTo,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		ResolvedAt:   a.ResolvedAt,
		ResolvedBy:   a.ResolvedBy,
	}
	if a.Status != models.AlertResolved {
		doc.DedupKey = a.DedupKey()
	}
	return doc
}

func (d alertDocument) toAlert() *models.Alert {
	return models.RestoreAlert(models.Alert{
		ID:           d.ID,
		ModelID:      d.ModelID,
		ModelName:    d.ModelName,
		Title:        d.Title,
		Message:      d.Message,
		Severity:     d.Severity,
		Rule:         d.Rule,
		Status:       d.Status,
		StateHistory: d.StateHistory,
		AssignedTo:   d.AssignedTo,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		ResolvedAt:   d.ResolvedAt,
		ResolvedBy:   d.ResolvedBy,
	}, d.Evidence)
}

// MongoAlerts stores alerts; the dedup invariant holds across processes through the
// partial unique index on dedup_key.
type MongoAlerts struct {
	coll *mongo.Collection
}

// InsertAlert implements AlertRepository.
func (m *MongoAlerts) InsertAlert(ctx context.Context, alert *models.Alert) error {
	if _, err := m.coll.InsertOne(ctx, toAlertDocument(alert)); err != nil {
		return mongoErr("mongo.InsertAlert", err)
	}
	return nil
}

// UpdateAlert implements AlertRepository. Evidence is written back unchanged.
func (m *MongoAlerts) UpdateAlert(ctx context.Context, alert *models.Alert) error {
	res, err := m.coll.ReplaceOne(ctx, bson.M{"_id": alert.ID}, toAlertDocument(alert))
	if err != nil {
		return mongoErr("mongo.UpdateAlert", err)
	}
	if res.MatchedCount == 0 {
		return utils.NotFound("mongo.UpdateAlert", "alert %s not found", alert.ID)
	}
	return nil
}

// GetAlert implements AlertRepository.
func (m *MongoAlerts) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	var doc alertDocument
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, utils.NotFound("mongo.GetAlert", "alert %s not found", id)
		}
		return nil, mongoErr("mongo.GetAlert", err)
	}
	return doc.toAlert(), nil
}

// FindOpenAlert implements AlertRepository.
func (m *MongoAlerts) FindOpenAlert(ctx context.Context, dedupKey string) (*models.Alert, bool, error) {
	var doc alertDocument
	err := m.coll.FindOne(ctx, bson.M{"dedup_key": dedupKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mongoErr("mongo.FindOpenAlert", err)
	}
	return doc.toAlert(), true, nil
}

// ListAlerts implements AlertRepository.
func (m *MongoAlerts) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	query := bson.M{}
	if filter.ModelID != "" {
		query["model_id"] = filter.ModelID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Severity != "" {
		query["severity"] = filter.Severity
	}
	if !filter.Since.IsZero() {
		query["created_at"] = bson.M{"$gte": filter.Since}
	}
	cur, err := m.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, mongoErr("mongo.ListAlerts", err)
	}
	docs, err := decodeAll[alertDocument](ctx, cur)
	if err != nil {
		return nil, mongoErr("mongo.ListAlerts", err)
	}
	out := make([]*models.Alert, len(docs))
	for i, doc := range docs {
		out[i] = doc.toAlert()
	}
	return out, nil
}

// MongoIncidents stores incidents.
type MongoIncidents struct {
	coll *mongo.Collection
}

// InsertIncident implements IncidentRepository.
func (m *MongoIncidents) InsertIncident(ctx context.Context, incident *models.Incident) error {
	if _, err := m.coll.InsertOne(ctx, incident); err != nil {
		return mongoErr("mongo.InsertIncident", err)
	}
	return nil
}

// UpdateIncident implements IncidentRepository.
func (m *MongoIncidents) UpdateIncident(ctx context.Context, incident *models.Incident) error {
	res, err := m.coll.ReplaceOne(ctx, bson.M{"_id": incident.ID}, incident)
	if err != nil {
		return mongoErr("mongo.UpdateIncident", err)
	}
	if res.MatchedCount == 0 {
		return utils.NotFound("mongo.UpdateIncident", "incident %s not found", incident.ID)
	}
	return nil
}

// GetIncident implements IncidentRepository.
func (m *MongoIncidents) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	var incident models.Incident
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&incident); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, utils.NotFound("mongo.GetIncident", "incident %s not found", id)
		}
		return nil, mongoErr("mongo.GetIncident", err)
	}
	return &incident, nil
}

// ListIncidents implements IncidentRepository.
func (m *MongoIncidents) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Severity != "" {
		query["severity"] = filter.Severity
	}
	cur, err := m.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "start_time", Value: -1}}))
	if err != nil {
		return nil, mongoErr("mongo.ListIncidents", err)
	}
	out, err := decodeAll[models.Incident](ctx, cur)
	if err != nil {
		return nil, mongoErr("mongo.ListIncidents", err)
	}
	return out, nil
}

// MongoSLOs stores SLO primitives.
type MongoSLOs struct {
	coll *mongo.Collection
}

// InsertSLO implements SLORepository.
func (m *MongoSLOs) InsertSLO(ctx context.Context, slo *models.SLO) error {
	if _, err := m.coll.InsertOne(ctx, slo); err != nil {
		return mongoErr("mongo.InsertSLO", err)
	}
	return nil
}

// UpdateSLO implements SLORepository.
func (m *MongoSLOs) UpdateSLO(ctx context.Context, slo *models.SLO) error {
	res, err := m.coll.ReplaceOne(ctx, bson.M{"_id": slo.ID}, slo)
	if err != nil {
		return mongoErr("mongo.UpdateSLO", err)
	}
	if res.MatchedCount == 0 {
		return utils.NotFound("mongo.UpdateSLO", "slo %s not found", slo.ID)
	}
	return nil
}

// GetSLO implements SLORepository.
func (m *MongoSLOs) GetSLO(ctx context.Context, id string) (*models.SLO, error) {
	var slo models.SLO
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&slo); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, utils.NotFound("mongo.GetSLO", "slo %s not found", id)
		}
		return nil, mongoErr("mongo.GetSLO", err)
	}
	return &slo, nil
}

// ListSLOs implements SLORepository. Status is derived, so it is filtered after decode.
func (m *MongoSLOs) ListSLOs(ctx context.Context, filter models.SLOFilter) ([]*models.SLO, error) {
	query := bson.M{}
	if filter.ServiceID != "" {
		query["service_id"] = filter.ServiceID
	}
	cur, err := m.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, mongoErr("mongo.ListSLOs", err)
	}
	all, err := decodeAll[models.SLO](ctx, cur)
	if err != nil {
		return nil, mongoErr("mongo.ListSLOs", err)
	}
	out := all[:0]
	for _, slo := range all {
		if filter.Matches(slo) {
			out = append(out, slo)
		}
	}
	return out, nil
}

// MongoAudit is the append-only audit_logs collection.
type MongoAudit struct {
	coll *mongo.Collection
}

// AppendAudit implements AuditRepository.
func (m *MongoAudit) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	if _, err := m.coll.InsertOne(ctx, entry); err != nil {
		return mongoErr("mongo.AppendAudit", err)
	}
	return nil
}

// QueryAudit implements AuditRepository.
func (m *MongoAudit) QueryAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	query := bson.M{}
	if filter.Action != "" {
		query["action"] = filter.Action
	}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	rng := bson.M{}
	if !filter.Start.IsZero() {
		rng["$gte"] = filter.Start
	}
	if !filter.End.IsZero() {
		rng["$lt"] = filter.End
	}
	if len(rng) > 0 {
		query["timestamp"] = rng
	}
	cur, err := m.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, mongoErr("mongo.QueryAudit", err)
	}
	out, err := decodeAll[models.AuditEntry](ctx, cur)
	if err != nil {
		return nil, mongoErr("mongo.QueryAudit", err)
	}
	return out, nil
}
