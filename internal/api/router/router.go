package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"job-agent-go/internal/api/handler"
)

// RegisterRoutes 注册 API 路由
func RegisterRoutes(
	h *server.Hertz,
	jobHandler *handler.JobHandler,
	appHandler *handler.ApplicationHandler,
	signalHandler *handler.SignalHandler,
	analyticsHandler *handler.AnalyticsHandler,
) {
	api := h.Group("/api/v1")

	// 岗位摄入与投递队列
	api.POST("/jobs/batch", jobHandler.HandleBatchInsertJobs)
	api.GET("/jobs/queue", jobHandler.HandleGetQueuedJobs)
	api.GET("/jobs/review", jobHandler.HandleGetCloseCallJobs)
	api.PUT("/jobs/:job_id/score", jobHandler.HandleUpdateJobScore)
	api.POST("/jobs/:job_id/rescore", jobHandler.HandleRescoreJob)

	// 投递记录与批次
	api.POST("/applications/submission", appHandler.HandleRecordSubmission)
	api.GET("/applications/ghosted", appHandler.HandleGetGhostedApplications)
	api.POST("/batches", appHandler.HandleCreateBatch)
	api.POST("/batches/:batch_id/finalize", appHandler.HandleFinalizeBatch)
	api.PUT("/resume-variants", appHandler.HandleUpsertResumeVariant)

	// 入站结果信号与人工复核
	api.POST("/signals/email", signalHandler.HandleEmailSignal)
	api.POST("/signals/phone", signalHandler.HandlePhoneSignal)
	api.GET("/review/pending", signalHandler.HandleListPendingReview)
	api.POST("/review/resolve", signalHandler.HandleResolveReview)

	// 漏斗与市场漂移
	api.GET("/analytics/funnel", analyticsHandler.HandleGetFunnel)
	api.POST("/analytics/centroids/:archetype/snapshot", analyticsHandler.HandleSnapshotCentroid)
	api.GET("/analytics/alerts", analyticsHandler.HandleListAlerts)
	api.POST("/analytics/alerts/:alert_id/ack", analyticsHandler.HandleAcknowledgeAlert)

	// 健康检查
	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})
}
