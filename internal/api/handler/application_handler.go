package handler

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"job-agent-go/internal/outcome"
	"job-agent-go/internal/recorder"
	"job-agent-go/internal/types"
)

// ApplicationHandler 负责投递结果上报与批次管理的请求。
type ApplicationHandler struct {
	recorder   *recorder.Recorder
	reconciler *outcome.Reconciler
	logger     *log.Logger
}

// NewApplicationHandler 创建一个新的 ApplicationHandler 实例。
func NewApplicationHandler(rec *recorder.Recorder, recon *outcome.Reconciler) *ApplicationHandler {
	return &ApplicationHandler{
		recorder:   rec,
		reconciler: recon,
		logger:     log.New(os.Stdout, "[ApplicationHandler] ", log.LstdFlags|log.Lshortfile),
	}
}

// HandleRecordSubmission 表单自动化协作方上报一次投递的终态。
// POST /api/v1/applications/submission
// APPLIED/ALREADY_APPLIED 走申请快照+岗位状态翻转的单一事务；
// APP_ERROR 仅标记岗位可重试；UNCERTAIN 只落申请快照，不翻转岗位状态。
func (h *ApplicationHandler) HandleRecordSubmission(ctx context.Context, c *app.RequestContext) {
	var sub types.SubmissionResult
	if err := c.BindJSON(&sub); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败: " + err.Error()})
		return
	}
	if sub.JobID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "job_id 不能为空"})
		return
	}

	var err error
	switch sub.Status {
	case types.SubmissionApplied, types.SubmissionAlreadyApplied:
		err = h.recorder.MarkJobApplied(ctx, &sub)
	case types.SubmissionAppError:
		err = h.recorder.RecordSubmissionFailure(ctx, sub.JobID, sub.ErrorDetail)
	case types.SubmissionUncertain:
		err = h.recorder.RecordApplicationSubmission(ctx, &sub)
	default:
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "未知的投递状态: " + string(sub.Status)})
		return
	}

	if err != nil {
		h.logger.Printf("记录投递结果失败 (job_id=%s, status=%s): %v", sub.JobID, sub.Status, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"message": "ok", "job_id": sub.JobID})
}

// HandleCreateBatch 开启一个投递批次。
// POST /api/v1/batches
func (h *ApplicationHandler) HandleCreateBatch(ctx context.Context, c *app.RequestContext) {
	var req struct {
		ResumeVariant    string         `json:"resume_variant"`
		ResumeCommitHash string         `json:"resume_commit_hash"`
		ProfileState     map[string]any `json:"profile_state"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败: " + err.Error()})
		return
	}

	batchID, err := h.recorder.CreateApplicationBatch(ctx, req.ResumeVariant, req.ResumeCommitHash, req.ProfileState)
	if err != nil {
		h.logger.Printf("创建投递批次失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"batch_id": batchID})
}

// HandleFinalizeBatch 关闭批次，幂等。
// POST /api/v1/batches/:batch_id/finalize
func (h *ApplicationHandler) HandleFinalizeBatch(ctx context.Context, c *app.RequestContext) {
	batchID := c.Param("batch_id")
	if batchID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "batch_id 不能为空"})
		return
	}

	var req struct {
		FinalCount int `json:"final_count"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败: " + err.Error()})
		return
	}

	if err := h.recorder.FinalizeApplicationBatch(ctx, batchID, req.FinalCount); err != nil {
		if err == recorder.ErrBatchNotFound {
			c.JSON(consts.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Printf("关闭投递批次失败 (batch_id=%s): %v", batchID, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"message": "ok", "batch_id": batchID})
}

// HandleGetGhostedApplications 取"已读不回"的申请。
// GET /api/v1/applications/ghosted?window_days=
// Ghost按请求时刻的"现在"重算，不缓存。
func (h *ApplicationHandler) HandleGetGhostedApplications(ctx context.Context, c *app.RequestContext) {
	apps, err := h.reconciler.GetGhostedApplications(ctx, time.Now())
	if err != nil {
		h.logger.Printf("查询Ghost申请失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询Ghost申请失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"data":  apps,
		"count": len(apps),
	})
}

// HandleUpsertResumeVariant 登记/更新简历原型版本。
// PUT /api/v1/resume-variants
func (h *ApplicationHandler) HandleUpsertResumeVariant(ctx context.Context, c *app.RequestContext) {
	var req struct {
		Archetype      string    `json:"archetype"`
		CommitHash     string    `json:"commit_hash"`
		Text           string    `json:"text"`
		Embedding      []float64 `json:"embedding"`
		AlignmentScore float64   `json:"alignment_score"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败: " + err.Error()})
		return
	}
	if req.Archetype == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "archetype 不能为空"})
		return
	}

	err := h.recorder.UpsertResumeVariant(ctx, req.Archetype, req.CommitHash, req.Text, req.Embedding, req.AlignmentScore)
	if err != nil {
		h.logger.Printf("登记简历版本失败 (archetype=%s): %v", req.Archetype, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"message": "ok", "archetype": req.Archetype})
}
