package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

type failingRepo struct{}

func (failingRepo) AppendAudit(context.Context, *models.AuditEntry) error {
	return errors.New("disk full")
}

func (failingRepo) QueryAudit(context.Context, models.AuditFilter) ([]*models.AuditEntry, error) {
	return nil, nil
}

var analyst = models.Actor{ID: "u-1", Name: "janet@bank.com", Role: "analyst", IPAddress: "192.168.10.4"}

func TestRecordFillsIdentity(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(repo.NewMemoryAudit(), utils.DiscardLogger())
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	entry := l.Record(ctx, models.ActionAlertResolved, analyst, "Resolved alert a1",
		WithModel("fraud", "Fraud Detection v3.2"),
		WithChange("status", "investigating", "resolved"),
	)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, now, entry.Timestamp)
	assert.Equal(t, "analyst", entry.UserRole)
	assert.Equal(t, "fraud", entry.ModelID)
	assert.Equal(t, models.FieldChange{Before: "investigating", After: "resolved"}, entry.Changes["status"])

	page, err := l.Query(ctx, models.AuditFilter{}, models.PageRequest{Page: 1, Limit: 25})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, entry.ID, page.Data[0].ID)
}

func TestAppendNeverFails(t *testing.T) {
	l := NewLedger(failingRepo{}, utils.DiscardLogger())
	assert.NotPanics(t, func() {
		l.Record(context.Background(), models.ActionIncidentClosed, analyst, "closed")
	})
}

func TestQueryPaginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(repo.NewMemoryAudit(), utils.DiscardLogger())
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		l.Append(ctx, &models.AuditEntry{Action: models.ActionMetricIngested, UserID: "system", Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	l.Append(ctx, &models.AuditEntry{Action: models.ActionExportInitiated, UserID: "u-1", Timestamp: base.Add(time.Hour)})

	page, err := l.Query(ctx, models.AuditFilter{Action: models.ActionMetricIngested}, models.PageRequest{Page: 2, Limit: 25})
	require.NoError(t, err)
	assert.Equal(t, 30, page.Total)
	assert.Equal(t, 2, page.Pages)
	require.Len(t, page.Data, 5)
	assert.Equal(t, base.Add(4*time.Minute), page.Data[0].Timestamp)

	byUser, err := l.Query(ctx, models.AuditFilter{UserID: "u-1"}, models.PageRequest{Page: 1, Limit: 25})
	require.NoError(t, err)
	assert.Equal(t, 1, byUser.Total)
}

func TestMaskForRoleLeavesStoredEntriesIntact(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(repo.NewMemoryAudit(), utils.DiscardLogger())
	l.Record(ctx, models.ActionAlertAcknowledged, analyst, "Escalated to jordan.smith@bank.com and ops@bank.co.uk")

	page, err := l.Query(ctx, models.AuditFilter{}, models.PageRequest{Page: 1, Limit: 25})
	require.NoError(t, err)

	masked := MaskForRole(page.Data, "viewer")
	require.Len(t, masked, 1)
	assert.Equal(t, "ja***@bank.com", masked[0].UserName)
	assert.Equal(t, "192.***.***.4", masked[0].IPAddress)
	assert.Equal(t, "Escalated to jo***@bank.com and op***@bank.co.uk", masked[0].Details)

	again, err := l.Query(ctx, models.AuditFilter{}, models.PageRequest{Page: 1, Limit: 25})
	require.NoError(t, err)
	admin := MaskForRole(again.Data, models.RoleAdmin)
	assert.Equal(t, "janet@bank.com", admin[0].UserName)
	assert.Equal(t, "192.168.10.4", admin[0].IPAddress)
	assert.Contains(t, admin[0].Details, "jordan.smith@bank.com")
}

func TestMaskForRoleScrubsChangeValues(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(repo.NewMemoryAudit(), utils.DiscardLogger())
	l.Record(ctx, models.ActionIncidentUpdated, analyst, "Reassigned incident",
		WithChange("assignee", "jordan.smith@bank.com", "ops@bank.co.uk"),
		WithChange("watchers", []string{"amy@bank.com"}, []any{"bo@bank.com", 3}),
		WithChange("severity", "high", 2),
	)

	page, err := l.Query(ctx, models.AuditFilter{}, models.PageRequest{Page: 1, Limit: 25})
	require.NoError(t, err)
	masked := MaskForRole(page.Data, "viewer")
	require.Len(t, masked, 1)
	assert.Equal(t, models.FieldChange{Before: "jo***@bank.com", After: "op***@bank.co.uk"}, masked[0].Changes["assignee"])
	assert.Equal(t, models.FieldChange{Before: []string{"am***@bank.com"}, After: []any{"bo***@bank.com", 3}}, masked[0].Changes["watchers"])
	assert.Equal(t, models.FieldChange{Before: "high", After: 2}, masked[0].Changes["severity"])

	again, err := l.Query(ctx, models.AuditFilter{}, models.PageRequest{Page: 1, Limit: 25})
	require.NoError(t, err)
	assert.Equal(t, "jordan.smith@bank.com", again.Data[0].Changes["assignee"].Before)
	assert.Equal(t, []string{"amy@bank.com"}, again.Data[0].Changes["watchers"].Before)
}

func TestMaskHelpers(t *testing.T) {
	assert.Equal(t, "Ja***", MaskName("Jane Analyst"))
	assert.Equal(t, "J***", MaskName("J"))
	assert.Equal(t, "", MaskName(""))
	assert.Equal(t, "10.***.***.9", MaskIP("10.0.0.9"))
	assert.Equal(t, "2001:***", MaskIP("2001:db8::1"))
	assert.Equal(t, "::***", MaskIP("::1"))
	assert.Equal(t, "***", MaskIP("not-an-ip"))
	assert.Equal(t, "no emails here", ScrubEmails("no emails here"))
}
