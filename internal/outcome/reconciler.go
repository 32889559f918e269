package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"job-agent-go/internal/constants"
	"job-agent-go/internal/logger"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"
)

var (
	ErrMissingMessageID      = errors.New("message_id 不能为空")
	ErrUnknownClassification = errors.New("未知的邮件分类")
	ErrUnknownPhoneOutcome   = errors.New("未知的电话结果分类")
)

// EventTypeStageChanged 阶段变更事件类型，经Outbox发布到结果事件交换机
const EventTypeStageChanged = "application.stage_changed"

const (
	channelEmail = "email"
	channelPhone = "phone"
)

// Options Reconciler 的行为参数
type Options struct {
	GhostWindowDays        int    // Ghost判定窗口，默认30天
	StageChangedExchange   string // 阶段变更事件的目标交换机，留空则不写Outbox
	StageChangedRoutingKey string
}

// Reconciler 结果回流组件：摄入入站信号（邮件/电话），
// 按时间序优先的迁移规则更新申请的结果阶段。
// 所有阶段变更都经由 updateStage 这一个原语，邮件自动路径、
// 人工复核路径、电话路径三个调用方共享同一套映射与裁决语义。
type Reconciler struct {
	db    *gorm.DB
	redis *storage.Redis // 可为nil：去重集合只是DB唯一索引之上的快路径
	opts  Options
}

func New(db *gorm.DB, redis *storage.Redis, opts Options) *Reconciler {
	if opts.GhostWindowDays <= 0 {
		opts.GhostWindowDays = constants.DefaultGhostWindowDays
	}
	return &Reconciler{db: db, redis: redis, opts: opts}
}

// emailProvenance 写到申请行上的信号出处
type emailProvenance struct {
	MessageID  string
	From       string
	Subject    string
	ReceivedAt *time.Time
}

// updateStage 申请结果阶段的唯一更新原语。
// stage 为 other 时是无操作兜底，任何字段都不改。
// 返回迁移是否被接受。
func (r *Reconciler) updateStage(ctx context.Context, tx *gorm.DB, applicationID uint64, stage types.Stage, confidence *float64, channel string, prov *emailProvenance) (bool, error) {
	if stage == types.StageOther {
		return false, nil
	}

	var app models.Application
	if err := tx.WithContext(ctx).First(&app, applicationID).Error; err != nil {
		return false, fmt.Errorf("查询申请记录失败: %w", err)
	}

	var receivedAt *time.Time
	if prov != nil {
		receivedAt = prov.ReceivedAt
	}
	if !shouldUpdateOutcome(types.Stage(app.OutcomeStage), app.OutcomeEmailReceivedAt, stage, receivedAt) {
		logger.Ctx(ctx).Debug().
			Uint64("application_id", applicationID).
			Str("current_stage", app.OutcomeStage).
			Str("candidate_stage", string(stage)).
			Msg("陈旧或低优先级信号，拒绝迁移")
		return false, nil
	}

	updates := map[string]interface{}{
		"outcome_stage": string(stage),
	}
	if confidence != nil {
		updates["outcome_confidence"] = *confidence
	}
	outcomeAt := time.Now()
	if prov != nil {
		// 电话路径没有邮件出处，空字段不能抹掉先前邮件写下的出处
		if prov.MessageID != "" {
			updates["outcome_email_message_id"] = prov.MessageID
		}
		if prov.From != "" {
			updates["outcome_email_from"] = prov.From
		}
		if prov.Subject != "" {
			updates["outcome_email_subject"] = prov.Subject
		}
		if prov.ReceivedAt != nil {
			updates["outcome_email_received_at"] = prov.ReceivedAt
			outcomeAt = *prov.ReceivedAt
		}
	}
	// outcome_date 只保留日期部分
	outcomeDate := datatypes.Date(time.Date(outcomeAt.Year(), outcomeAt.Month(), outcomeAt.Day(), 0, 0, 0, 0, outcomeAt.Location()))
	updates["outcome_date"] = outcomeDate

	if err := tx.WithContext(ctx).Model(&models.Application{}).
		Where("id = ?", applicationID).
		Updates(updates).Error; err != nil {
		return false, fmt.Errorf("更新申请结果阶段失败: %w", err)
	}

	if err := r.enqueueStageChanged(ctx, tx, &app, stage, channel, outcomeAt); err != nil {
		return false, err
	}

	logger.Ctx(ctx).Info().
		Uint64("application_id", applicationID).
		Str("job_id", app.JobID).
		Str("from_stage", app.OutcomeStage).
		Str("to_stage", string(stage)).
		Str("channel", channel).
		Msg("申请结果阶段已更新")
	return true, nil
}

// enqueueStageChanged 与申请行更新同事务写Outbox，由中继异步发布
func (r *Reconciler) enqueueStageChanged(ctx context.Context, tx *gorm.DB, app *models.Application, stage types.Stage, channel string, occurredAt time.Time) error {
	if r.opts.StageChangedExchange == "" {
		return nil
	}

	payload, err := json.Marshal(storage.StageChangedMessage{
		ApplicationID: app.ID,
		JobID:         app.JobID,
		FromStage:     app.OutcomeStage,
		ToStage:       string(stage),
		Channel:       channel,
		OccurredAt:    occurredAt,
	})
	if err != nil {
		return fmt.Errorf("序列化阶段变更事件失败: %w", err)
	}

	msg := models.OutboxMessage{
		AggregateID:      app.JobID,
		EventType:        EventTypeStageChanged,
		Payload:          string(payload),
		TargetExchange:   r.opts.StageChangedExchange,
		TargetRoutingKey: r.opts.StageChangedRoutingKey,
	}
	if err := tx.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("写入Outbox失败: %w", err)
	}
	return nil
}

// RecordOutcomeEvent 摄入一条已解析的邮件信号。
// message_id 已存在时是纯粹的无操作（连错误日志都不记）。
// 未匹配到申请的信号仍然进入只追加日志，留待人工对账。
func (r *Reconciler) RecordOutcomeEvent(ctx context.Context, signal *types.ParsedEmailSignal) error {
	if signal == nil || signal.GmailMessageID == "" {
		return ErrMissingMessageID
	}

	// Redis去重集合是快路径；拿不到结果就落到DB唯一索引兜底
	if r.redis != nil {
		if seen, err := r.redis.CheckMessageSeen(ctx, signal.GmailMessageID); err == nil && seen {
			return nil
		}
	}

	stage, known := ClassificationToStage(types.EmailClassification(signal.Classification))
	if !known {
		logger.Ctx(ctx).Warn().
			Str("message_id", signal.GmailMessageID).
			Str("classification", signal.Classification).
			Msg("未知分类，仅落事件日志")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event := models.OutcomeEvent{
			MessageID:            signal.GmailMessageID,
			Channel:              channelEmail,
			Classification:       signal.Classification,
			Stage:                string(stage),
			Confidence:           signal.Confidence,
			MatchedApplicationID: signal.MatchedApplicationID,
			FromAddress:          signal.FromAddress,
			Subject:              signal.Subject,
			RawSnippet:           signal.Snippet,
			ReceivedAt:           signal.ReceivedAt,
		}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).Create(&event)
		if result.Error != nil {
			return fmt.Errorf("写入结果事件失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// 重复消息，整体无操作
			return nil
		}

		if signal.MatchedApplicationID == nil || !known {
			return nil
		}
		confidence := signal.Confidence
		_, err := r.updateStage(ctx, tx, *signal.MatchedApplicationID, stage, &confidence, channelEmail, &emailProvenance{
			MessageID:  signal.GmailMessageID,
			From:       signal.FromAddress,
			Subject:    signal.Subject,
			ReceivedAt: signal.ReceivedAt,
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 上游给出的申请ID在库里不存在：事件已落日志，降级为未匹配信号，
			// 不能让整条消息失败回滚、在消费端无限重投
			logger.Ctx(ctx).Warn().
				Str("message_id", signal.GmailMessageID).
				Uint64("application_id", *signal.MatchedApplicationID).
				Msg("匹配的申请不存在，事件仅落日志")
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	if r.redis != nil {
		if markErr := r.redis.MarkMessageSeen(ctx, signal.GmailMessageID); markErr != nil {
			logger.Ctx(ctx).Warn().Err(markErr).Msg("写入Redis去重集合失败")
		}
	}
	return nil
}

// RecordParsedEmail 落一条分类过的邮件日志。gmail_message_id 唯一，重放幂等。
// 返回是否新插入。
func (r *Reconciler) RecordParsedEmail(ctx context.Context, signal *types.ParsedEmailSignal) (bool, error) {
	if signal == nil || signal.GmailMessageID == "" {
		return false, ErrMissingMessageID
	}

	record := models.EmailParsed{
		GmailMessageID:         signal.GmailMessageID,
		FromAddress:            signal.FromAddress,
		Subject:                signal.Subject,
		Snippet:                signal.Snippet,
		Classification:         signal.Classification,
		Confidence:             signal.Confidence,
		CandidateApplicationID: signal.MatchedApplicationID,
		NeedsManualReview:      signal.NeedsManualReview,
		ReceivedAt:             signal.ReceivedAt,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gmail_message_id"}},
		DoNothing: true,
	}).Create(&record)
	if result.Error != nil {
		return false, fmt.Errorf("写入邮件解析日志失败: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ResolveManualReviewEmailMatch 人工复核确认：低置信邮件与申请的匹配由人裁定。
// 确认后清除复核标记、按静态映射迁移阶段、并把发件人登记进 KnownSender，
// 让后续同发件人邮件跳过复核。与自动摄入共用同一套映射与更新原语。
func (r *Reconciler) ResolveManualReviewEmailMatch(ctx context.Context, gmailMessageID string, applicationID uint64, classification types.EmailClassification) error {
	if gmailMessageID == "" {
		return ErrMissingMessageID
	}
	stage, known := ClassificationToStage(classification)
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownClassification, classification)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var email models.EmailParsed
		if err := tx.Where("gmail_message_id = ?", gmailMessageID).First(&email).Error; err != nil {
			return fmt.Errorf("查询待复核邮件失败: %w", err)
		}

		now := time.Now()
		if err := tx.Model(&models.EmailParsed{}).
			Where("gmail_message_id = ?", gmailMessageID).
			Updates(map[string]interface{}{
				"needs_manual_review":      false,
				"reviewed_at":              &now,
				"candidate_application_id": applicationID,
				"classification":           string(classification),
			}).Error; err != nil {
			return fmt.Errorf("清除复核标记失败: %w", err)
		}

		confidence := 1.0 // 人工裁定视为满置信
		if _, err := r.updateStage(ctx, tx, applicationID, stage, &confidence, channelEmail, &emailProvenance{
			MessageID:  gmailMessageID,
			From:       email.FromAddress,
			Subject:    email.Subject,
			ReceivedAt: email.ReceivedAt,
		}); err != nil {
			return err
		}

		if email.FromAddress == "" {
			return nil
		}

		// 确认匹配时申请对应的公司已知，顺带写进发件人登记表
		var companyID *uint64
		var app models.Application
		if err := tx.First(&app, applicationID).Error; err == nil {
			var job models.Job
			if err := tx.Where("job_id = ?", app.JobID).First(&job).Error; err == nil && job.CompanyID != 0 {
				companyID = &job.CompanyID
			}
		}

		sender := models.KnownSender{
			EmailAddress:   email.FromAddress,
			CompanyID:      companyID,
			SenderType:     "recruiter",
			ConfirmedCount: 1,
			LastSeenAt:     &now,
		}
		assignments := map[string]interface{}{
			"confirmed_count": gorm.Expr("confirmed_count + 1"),
			"last_seen_at":    &now,
		}
		if companyID != nil {
			assignments["company_id"] = *companyID
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email_address"}},
			DoUpdates: clause.Assignments(assignments),
		}).Create(&sender).Error; err != nil {
			return fmt.Errorf("登记发件人失败: %w", err)
		}
		return nil
	})
}

// RecordPhoneCall 录入电话沟通。电话是阶段更新原语的第三个调用方：
// 映射出的阶段与邮件路径走完全相同的裁决与写入逻辑。
func (r *Reconciler) RecordPhoneCall(ctx context.Context, signal *types.PhoneCallSignal) error {
	if signal == nil {
		return errors.New("电话信号不能为空")
	}
	stage, known := PhoneOutcomeToStage(signal.Outcome)
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownPhoneOutcome, signal.Outcome)
	}

	// 电话没有天然的消息ID，用UUIDv7合成一个进入统一事件日志
	eventID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("生成事件ID失败: %w", err)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		occurredAt := signal.OccurredAt
		call := models.PhoneCall{
			ApplicationID: signal.ApplicationID,
			CompanyName:   signal.CompanyName,
			Outcome:       string(signal.Outcome),
			Stage:         string(stage),
			Notes:         signal.Notes,
			OccurredAt:    occurredAt,
		}
		if err := tx.Create(&call).Error; err != nil {
			return fmt.Errorf("写入电话日志失败: %w", err)
		}

		event := models.OutcomeEvent{
			MessageID:            "phone:" + eventID.String(),
			Channel:              channelPhone,
			Classification:       string(signal.Outcome),
			Stage:                string(stage),
			MatchedApplicationID: signal.ApplicationID,
			RawSnippet:           signal.Notes,
			ReceivedAt:           &occurredAt,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("写入结果事件失败: %w", err)
		}

		if signal.ApplicationID == nil {
			return nil
		}
		_, err := r.updateStage(ctx, tx, *signal.ApplicationID, stage, nil, channelPhone, &emailProvenance{
			ReceivedAt: &occurredAt,
		})
		return err
	})
}

// GetGhostedApplications Ghost是读取时派生的谓词而不是落库的迁移：
// 阶段仍停留在 applied 且投递时间早于窗口截止点的申请。
// 每次查询都以当前的 asOf 重算，不做缓存。
func (r *Reconciler) GetGhostedApplications(ctx context.Context, asOf time.Time) ([]models.Application, error) {
	cutoff := asOf.AddDate(0, 0, -r.opts.GhostWindowDays)
	var apps []models.Application
	err := r.db.WithContext(ctx).
		Where("outcome_stage = ?", string(types.StageApplied)).
		Where("date_applied < ?", cutoff).
		Order("date_applied ASC").
		Find(&apps).Error
	if err != nil {
		return nil, fmt.Errorf("查询Ghost申请失败: %w", err)
	}
	return apps, nil
}

// GetPendingReviewEmails 取待人工复核的邮件
func (r *Reconciler) GetPendingReviewEmails(ctx context.Context, limit int) ([]models.EmailParsed, error) {
	var emails []models.EmailParsed
	err := r.db.WithContext(ctx).
		Where("needs_manual_review = ?", true).
		Order("received_at ASC").
		Limit(limit).
		Find(&emails).Error
	if err != nil {
		return nil, fmt.Errorf("查询待复核邮件失败: %w", err)
	}
	return emails, nil
}

// GetSyncState 读外部同步游标，不存在时返回空串
func (r *Reconciler) GetSyncState(ctx context.Context, key string) (string, error) {
	var state models.SyncState
	err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("读取同步游标失败: %w", err)
	}
	return state.Value, nil
}

// SetSyncState 写外部同步游标，upsert
func (r *Reconciler) SetSyncState(ctx context.Context, key, value string) error {
	state := models.SyncState{Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("写入同步游标失败: %w", err)
	}
	return nil
}
