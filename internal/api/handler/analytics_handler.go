package handler

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"job-agent-go/internal/analytics"
)

// AnalyticsHandler 负责漏斗统计与市场漂移相关的只读/慢写请求。
type AnalyticsHandler struct {
	analytics *analytics.Analytics
	logger    *log.Logger
}

// NewAnalyticsHandler 创建一个新的 AnalyticsHandler 实例。
func NewAnalyticsHandler(a *analytics.Analytics) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: a,
		logger:    log.New(os.Stdout, "[AnalyticsHandler] ", log.LstdFlags|log.Lshortfile),
	}
}

// HandleGetFunnel 按月份×原型×简历版本的漏斗聚合。
// GET /api/v1/analytics/funnel
func (h *AnalyticsHandler) HandleGetFunnel(ctx context.Context, c *app.RequestContext) {
	rows, err := h.analytics.GetFunnelMetrics(ctx)
	if err != nil {
		h.logger.Printf("漏斗聚合失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "漏斗聚合失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"data":  rows,
		"count": len(rows),
	})
}

// HandleSnapshotCentroid 计算并落一个原型的质心快照。
// POST /api/v1/analytics/centroids/:archetype/snapshot?window_days=
func (h *AnalyticsHandler) HandleSnapshotCentroid(ctx context.Context, c *app.RequestContext) {
	archetype := c.Param("archetype")
	if archetype == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "archetype 不能为空"})
		return
	}
	windowDays, err := strconv.Atoi(c.Query("window_days"))
	if err != nil || windowDays <= 0 {
		windowDays = 7
	}

	windowEnd := time.Now()
	windowStart := windowEnd.AddDate(0, 0, -windowDays)

	centroid, jobCount, err := h.analytics.ComputeArchetypeCentroid(ctx, archetype, windowStart, windowEnd)
	if err != nil {
		if err == analytics.ErrEmptyWindow {
			c.JSON(consts.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Printf("计算质心失败 (archetype=%s): %v", archetype, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := h.analytics.StoreMarketCentroid(ctx, archetype, windowStart, windowEnd, centroid, jobCount); err != nil {
		h.logger.Printf("落质心快照失败 (archetype=%s): %v", archetype, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"message":   "ok",
		"archetype": archetype,
		"job_count": jobCount,
	})
}

// HandleListAlerts 取所有未确认的漂移告警。
// GET /api/v1/analytics/alerts
func (h *AnalyticsHandler) HandleListAlerts(ctx context.Context, c *app.RequestContext) {
	alerts, err := h.analytics.ListOpenDriftAlerts(ctx)
	if err != nil {
		h.logger.Printf("查询漂移告警失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询漂移告警失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"data":  alerts,
		"count": len(alerts),
	})
}

// HandleAcknowledgeAlert 确认一条漂移告警。
// POST /api/v1/analytics/alerts/:alert_id/ack
func (h *AnalyticsHandler) HandleAcknowledgeAlert(ctx context.Context, c *app.RequestContext) {
	alertID, err := strconv.ParseUint(c.Param("alert_id"), 10, 64)
	if err != nil || alertID == 0 {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "alert_id 非法"})
		return
	}

	if err := h.analytics.AcknowledgeDriftAlert(ctx, alertID); err != nil {
		h.logger.Printf("确认告警失败 (alert_id=%d): %v", alertID, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"message": "ok"})
}
