package handler

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"job-agent-go/internal/ingestion"
	"job-agent-go/internal/scorer"
	"job-agent-go/internal/types"
)

const defaultQueueLimit = 20

// JobHandler 负责岗位摄入与投递队列相关的请求。
type JobHandler struct {
	ingestion *ingestion.Ingestion
	scorer    *scorer.LLMJobScorer
	logger    *log.Logger
}

// NewJobHandler 创建一个新的 JobHandler 实例。
func NewJobHandler(ing *ingestion.Ingestion, sc *scorer.LLMJobScorer) *JobHandler {
	return &JobHandler{
		ingestion: ing,
		scorer:    sc,
		logger:    log.New(os.Stdout, "[JobHandler] ", log.LstdFlags|log.Lshortfile),
	}
}

// HandleBatchInsertJobs 批量摄入抓取的岗位。
// POST /api/v1/jobs/batch
// 单条失败不会中断整批，响应总是携带 {new_jobs, duplicates, errors} 计数。
func (h *JobHandler) HandleBatchInsertJobs(ctx context.Context, c *app.RequestContext) {
	var req struct {
		Jobs []*types.ScrapedJob `json:"jobs"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败: " + err.Error()})
		return
	}
	if len(req.Jobs) == 0 {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "jobs 不能为空"})
		return
	}

	result := h.ingestion.BatchInsertJobs(ctx, req.Jobs)
	h.logger.Printf("批量摄入完成: new=%d duplicate=%d error=%d", result.NewJobs, result.Duplicates, result.Errors)
	c.JSON(consts.StatusOK, result)
}

// HandleGetQueuedJobs 取待投递队列。
// GET /api/v1/jobs/queue?archetype=&limit=
func (h *JobHandler) HandleGetQueuedJobs(ctx context.Context, c *app.RequestContext) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultQueueLimit
	}
	archetype := c.Query("archetype")

	jobs, err := h.ingestion.GetQueuedJobs(ctx, archetype, limit)
	if err != nil {
		h.logger.Printf("查询投递队列失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询投递队列失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"data":  jobs,
		"count": len(jobs),
	})
}

// HandleGetCloseCallJobs 取待人工复核的边界岗位。
// GET /api/v1/jobs/review?limit=
func (h *JobHandler) HandleGetCloseCallJobs(ctx context.Context, c *app.RequestContext) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultQueueLimit
	}

	jobs, err := h.ingestion.GetCloseCallJobs(ctx, limit)
	if err != nil {
		h.logger.Printf("查询待复核岗位失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询待复核岗位失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"data":  jobs,
		"count": len(jobs),
	})
}

// HandleUpdateJobScore 回填岗位的分析结果。
// PUT /api/v1/jobs/:job_id/score
func (h *JobHandler) HandleUpdateJobScore(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "job_id 不能为空"})
		return
	}

	var analysis types.JobAnalysis
	if err := c.BindJSON(&analysis); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败: " + err.Error()})
		return
	}

	if err := h.ingestion.UpdateJobScore(ctx, jobID, &analysis); err != nil {
		h.logger.Printf("更新岗位评分失败 (job_id=%s): %v", jobID, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"message": "ok", "job_id": jobID})
}

// HandleRescoreJob 用LLM评分器重新评估一个岗位并回填分析结果。
// POST /api/v1/jobs/:job_id/rescore
// 缓存期内重复请求直接命中Redis，不触发LLM调用。
func (h *JobHandler) HandleRescoreJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "job_id 不能为空"})
		return
	}
	if h.scorer == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "评分器未配置"})
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败: " + err.Error()})
		return
	}

	analysis, err := h.scorer.Score(ctx, &types.ScrapedJob{
		JobID:       jobID,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		h.logger.Printf("岗位评分失败 (job_id=%s): %v", jobID, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := h.ingestion.UpdateJobScore(ctx, jobID, analysis); err != nil {
		h.logger.Printf("回填评分失败 (job_id=%s): %v", jobID, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"message":  "ok",
		"job_id":   jobID,
		"analysis": analysis,
	})
}
