package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/services"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// Header names carrying the caller identity on HTTP requests.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

// Gateway serves the REST surface of MonitoringService.
type Gateway struct {
	svc    *services.MonitoringService
	logger *slog.Logger
}

// NewGateway constructs the HTTP gateway.
func NewGateway(svc *services.MonitoringService, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{svc: svc, logger: logger}
}

// Router builds the gin engine with every route registered.
func (g *Gateway) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), g.requestLogger())

	router.GET("/api/health", g.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	api.GET("/models", g.listModels)
	api.GET("/models/:id", g.getModel)

	api.POST("/metrics", g.ingestMetric)
	api.GET("/metrics/:modelId/:type/summary", g.metricSummary)
	api.GET("/metrics/:modelId/:type/anomalies", g.metricAnomalies)

	alerts := api.Group("/alerts")
	alerts.GET("", g.listAlerts)
	alerts.GET("/:id", g.getAlert)
	alerts.GET("/:id/evidence", g.alertEvidence)
	alerts.GET("/:id/history", g.alertHistory)
	alerts.PATCH("/:id/status", g.transitionAlert)

	incidents := api.Group("/incidents")
	incidents.GET("", g.listIncidents)
	incidents.POST("", g.createIncident)
	incidents.GET("/:id", g.getIncident)
	incidents.PATCH("/:id", g.updateIncident)
	incidents.POST("/:id/alerts", g.linkAlert)
	incidents.POST("/:id/close", g.closeIncident)
	incidents.GET("/:id/export", g.exportIncident)

	slos := api.Group("/slos")
	slos.GET("", g.listSLOs)
	slos.POST("", g.createSLO)
	slos.GET("/breaches", g.sloBreaches)
	slos.GET("/:id", g.getSLO)
	slos.PATCH("/:id", g.updateSLO)
	slos.POST("/:id/recompute", g.recomputeSLO)
	slos.POST("/:id/links", g.linkSLO)
	slos.GET("/:id/burndown", g.sloBurnDown)

	governance := api.Group("/governance")
	governance.GET("/logs", g.queryAudit)
	governance.GET("/actions", g.auditActions)
	governance.POST("/export", g.complianceReport)

	reports := api.Group("/reports")
	reports.GET("/overview", g.overview)
	reports.GET("/alerts", g.alertStats)
	reports.GET("/incidents", g.incidentStats)
	reports.GET("/audit", g.auditBreakdown)
	reports.GET("/hotspots", g.hotspots)

	return router
}

func (g *Gateway) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		g.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func actorFromRequest(c *gin.Context) models.Actor {
	return models.Actor{
		ID:        c.GetHeader(HeaderUserID),
		Name:      c.GetHeader(HeaderUserName),
		Role:      c.GetHeader(HeaderUserRole),
		IPAddress: c.ClientIP(),
	}
}

func (g *Gateway) fail(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.JSON(status, errorBody(err))
}

func (g *Gateway) badRequest(c *gin.Context, op string, err error) {
	g.fail(c, utils.Invalid(op, "malformed request body: %v", err))
}

func pageFromQuery(c *gin.Context) models.PageRequest {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return models.PageRequest{Page: page, Limit: limit}
}

func timeQuery(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := utils.ParseRFC3339(v)
	if err != nil {
		return time.Time{}, utils.Invalid("api.timeQuery", "%s must be an RFC3339 timestamp", key)
	}
	return t, nil
}

func rangeQuery(c *gin.Context) (time.Time, time.Time, error) {
	start, err := timeQuery(c, "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := timeQuery(c, "end")
	return start, end, err
}

func (g *Gateway) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
}

func (g *Gateway) listModels(c *gin.Context) {
	filter := models.ModelFilter{
		Type:        models.ModelType(c.Query("type")),
		Environment: c.Query("environment"),
		Status:      c.Query("status"),
	}
	c.JSON(http.StatusOK, gin.H{"data": g.svc.ListModels(filter)})
}

func (g *Gateway) getModel(c *gin.Context) {
	detail, err := g.svc.GetModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (g *Gateway) ingestMetric(c *gin.Context) {
	var req models.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.badRequest(c, "api.ingestMetric", err)
		return
	}
	result, err := g.svc.IngestMetric(c.Request.Context(), req, actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (g *Gateway) metricSummary(c *gin.Context) {
	start, end, err := rangeQuery(c)
	if err != nil {
		g.fail(c, err)
		return
	}
	width, err := summaryRequest{Bucket: c.Query("bucket")}.width()
	if err != nil {
		g.fail(c, err)
		return
	}
	summary, err := g.svc.MetricSummary(c.Request.Context(), c.Param("modelId"), c.Param("type"), start, end, width)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (g *Gateway) metricAnomalies(c *gin.Context) {
	start, end, err := rangeQuery(c)
	if err != nil {
		g.fail(c, err)
		return
	}
	threshold := 0.0
	if v := c.Query("threshold"); v != "" {
		threshold, err = strconv.ParseFloat(v, 64)
		if err != nil {
			g.fail(c, utils.Invalid("api.metricAnomalies", "threshold must be a number"))
			return
		}
	}
	found, err := g.svc.MetricAnomalies(c.Request.Context(), c.Param("modelId"), c.Param("type"), start, end, threshold)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": found})
}

func (g *Gateway) listAlerts(c *gin.Context) {
	filter := models.AlertFilter{
		ModelID:  c.Query("model_id"),
		Status:   models.AlertStatus(c.Query("status")),
		Severity: models.Severity(c.Query("severity")),
	}
	page, err := g.svc.ListAlerts(c.Request.Context(), filter, pageFromQuery(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (g *Gateway) getAlert(c *gin.Context) {
	alert, err := g.svc.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (g *Gateway) alertEvidence(c *gin.Context) {
	evidence, err := g.svc.AlertEvidence(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, evidence)
}

func (g *Gateway) alertHistory(c *gin.Context) {
	history, err := g.svc.AlertHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (g *Gateway) transitionAlert(c *gin.Context) {
	var body transitionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		g.badRequest(c, "api.transitionAlert", err)
		return
	}
	alert, err := g.svc.TransitionAlert(c.Request.Context(), models.TransitionRequest{
		AlertID: c.Param("id"),
		Target:  body.Status,
		Comment: body.Comment,
	}, actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (g *Gateway) listIncidents(c *gin.Context) {
	filter := models.IncidentFilter{
		Status:   models.IncidentStatus(c.Query("status")),
		Severity: models.Severity(c.Query("severity")),
	}
	page, err := g.svc.ListIncidents(c.Request.Context(), filter, pageFromQuery(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (g *Gateway) createIncident(c *gin.Context) {
	var req models.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.badRequest(c, "api.createIncident", err)
		return
	}
	incident, err := g.svc.CreateIncident(c.Request.Context(), req, actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, incident)
}

func (g *Gateway) getIncident(c *gin.Context) {
	detail, err := g.svc.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (g *Gateway) updateIncident(c *gin.Context) {
	var update models.RCAUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		g.badRequest(c, "api.updateIncident", err)
		return
	}
	incident, err := g.svc.UpdateIncidentRCA(c.Request.Context(), c.Param("id"), update, actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (g *Gateway) linkAlert(c *gin.Context) {
	var body linkRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		g.badRequest(c, "api.linkAlert", err)
		return
	}
	incident, err := g.svc.LinkAlert(c.Request.Context(), c.Param("id"), body.AlertID, actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (g *Gateway) closeIncident(c *gin.Context) {
	incident, err := g.svc.CloseIncident(c.Request.Context(), c.Param("id"), actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (g *Gateway) exportIncident(c *gin.Context) {
	detail, err := g.svc.ExportIncident(c.Request.Context(), c.Param("id"), actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (g *Gateway) listSLOs(c *gin.Context) {
	filter := models.SLOFilter{ServiceID: c.Query("service_id"), Status: models.SLOStatus(c.Query("status"))}
	page, err := g.svc.ListSLOs(c.Request.Context(), filter, pageFromQuery(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (g *Gateway) createSLO(c *gin.Context) {
	var req models.CreateSLORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.badRequest(c, "api.createSLO", err)
		return
	}
	created, err := g.svc.CreateSLO(c.Request.Context(), req, actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (g *Gateway) sloBreaches(c *gin.Context) {
	breaches, err := g.svc.SLOBreaches(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": breaches})
}

func (g *Gateway) getSLO(c *gin.Context) {
	detail, err := g.svc.GetSLO(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (g *Gateway) updateSLO(c *gin.Context) {
	var update models.SLOUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		g.badRequest(c, "api.updateSLO", err)
		return
	}
	updated, err := g.svc.UpdateSLO(c.Request.Context(), c.Param("id"), update, actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (g *Gateway) recomputeSLO(c *gin.Context) {
	var body recomputeSLORequest
	if err := c.ShouldBindJSON(&body); err != nil {
		g.badRequest(c, "api.recomputeSLO", err)
		return
	}
	value, burn, err := body.values()
	if err != nil {
		g.fail(c, err)
		return
	}
	updated, err := g.svc.RecomputeSLO(c.Request.Context(), c.Param("id"), value, burn, actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (g *Gateway) linkSLO(c *gin.Context) {
	var body linkSLORequest
	if err := c.ShouldBindJSON(&body); err != nil {
		g.badRequest(c, "api.linkSLO", err)
		return
	}
	body.ID = c.Param("id")
	updated, err := linkSLO(c.Request.Context(), g.svc, body, actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (g *Gateway) sloBurnDown(c *gin.Context) {
	points, err := g.svc.SLOBurnDown(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

func (g *Gateway) queryAudit(c *gin.Context) {
	start, end, err := rangeQuery(c)
	if err != nil {
		g.fail(c, err)
		return
	}
	filter := models.AuditFilter{
		Action: models.AuditAction(c.Query("action")),
		UserID: c.Query("user_id"),
		Start:  start,
		End:    end,
	}
	page, err := g.svc.QueryAudit(c.Request.Context(), filter, pageFromQuery(c), actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (g *Gateway) auditActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actions": g.svc.AuditActions()})
}

func (g *Gateway) complianceReport(c *gin.Context) {
	var body rangeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			g.badRequest(c, "api.complianceReport", err)
			return
		}
	}
	report, err := g.svc.ComplianceReport(c.Request.Context(), body.Start, body.End, actorFromRequest(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (g *Gateway) overview(c *gin.Context) {
	ov, err := g.svc.Overview(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (g *Gateway) alertStats(c *gin.Context) {
	since, err := timeQuery(c, "since")
	if err != nil {
		g.fail(c, err)
		return
	}
	stats, err := g.svc.AlertStats(c.Request.Context(), since)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (g *Gateway) incidentStats(c *gin.Context) {
	stats, err := g.svc.IncidentStats(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (g *Gateway) auditBreakdown(c *gin.Context) {
	start, end, err := rangeQuery(c)
	if err != nil {
		g.fail(c, err)
		return
	}
	breakdown, err := g.svc.AuditBreakdown(c.Request.Context(), start, end)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

func (g *Gateway) hotspots(c *gin.Context) {
	since, err := timeQuery(c, "since")
	if err != nil {
		g.fail(c, err)
		return
	}
	minOccurrences, _ := strconv.Atoi(c.DefaultQuery("min", "2"))
	spots, err := g.svc.Hotspots(c.Request.Context(), since, minOccurrences)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": spots})
}
