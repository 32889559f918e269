package handler

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"

	"job-agent-go/internal/outcome"
	"job-agent-go/internal/types"
)

// SignalHandler 负责入站结果信号（邮件/电话）与人工复核的请求。
// HTTP路径与MQ消费路径落到同一个结果回流层，语义完全一致。
type SignalHandler struct {
	reconciler *outcome.Reconciler
	logger     *log.Logger
}

// NewSignalHandler 创建一个新的 SignalHandler 实例。
func NewSignalHandler(recon *outcome.Reconciler) *SignalHandler {
	return &SignalHandler{
		reconciler: recon,
		logger:     log.New(os.Stdout, "[SignalHandler] ", log.LstdFlags|log.Lshortfile),
	}
}

// HandleEmailSignal 摄入一条已解析的邮件信号。
// POST /api/v1/signals/email
// 重复的 gmail_message_id 是无操作并返回200，调用方重放安全。
func (h *SignalHandler) HandleEmailSignal(ctx context.Context, c *app.RequestContext) {
	var signal types.ParsedEmailSignal
	if err := c.BindJSON(&signal); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败: " + err.Error()})
		return
	}
	if signal.GmailMessageID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "gmail_message_id 不能为空"})
		return
	}

	if _, err := h.reconciler.RecordParsedEmail(ctx, &signal); err != nil {
		h.logger.Printf("邮件解析日志落库失败 (message_id=%s): %v", signal.GmailMessageID, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.reconciler.RecordOutcomeEvent(ctx, &signal); err != nil {
		h.logger.Printf("结果事件摄入失败 (message_id=%s): %v", signal.GmailMessageID, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"message": "ok", "message_id": signal.GmailMessageID})
}

// HandlePhoneSignal 录入一次电话沟通。
// POST /api/v1/signals/phone
func (h *SignalHandler) HandlePhoneSignal(ctx context.Context, c *app.RequestContext) {
	var signal types.PhoneCallSignal
	if err := c.BindJSON(&signal); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败: " + err.Error()})
		return
	}
	if signal.Outcome == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "outcome 不能为空"})
		return
	}

	if err := h.reconciler.RecordPhoneCall(ctx, &signal); err != nil {
		if errors.Is(err, outcome.ErrUnknownPhoneOutcome) {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Printf("电话信号落库失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"message": "ok"})
}

// HandleListPendingReview 取待人工复核的邮件。
// GET /api/v1/review/pending?limit=
func (h *SignalHandler) HandleListPendingReview(ctx context.Context, c *app.RequestContext) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultQueueLimit
	}

	emails, err := h.reconciler.GetPendingReviewEmails(ctx, limit)
	if err != nil {
		h.logger.Printf("查询待复核邮件失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询待复核邮件失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"data":  emails,
		"count": len(emails),
	})
}

// HandleResolveReview 人工确认低置信邮件与申请的匹配。
// POST /api/v1/review/resolve
func (h *SignalHandler) HandleResolveReview(ctx context.Context, c *app.RequestContext) {
	var req struct {
		GmailMessageID string `json:"gmail_message_id"`
		ApplicationID  uint64 `json:"application_id"`
		Classification string `json:"classification"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体解析失败: " + err.Error()})
		return
	}
	if req.GmailMessageID == "" || req.ApplicationID == 0 {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "gmail_message_id 与 application_id 不能为空"})
		return
	}

	err := h.reconciler.ResolveManualReviewEmailMatch(ctx, req.GmailMessageID, req.ApplicationID, types.EmailClassification(req.Classification))
	if err != nil {
		switch {
		case errors.Is(err, outcome.ErrUnknownClassification):
			c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(consts.StatusNotFound, map[string]string{"error": "待复核邮件或申请不存在"})
		default:
			h.logger.Printf("人工复核确认失败 (message_id=%s): %v", req.GmailMessageID, err)
			c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"message": "ok", "message_id": req.GmailMessageID})
}
