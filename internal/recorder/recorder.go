package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"
)

var (
	ErrMissingJobID   = errors.New("job_id 不能为空")
	ErrBatchNotFound  = errors.New("投递批次不存在")
	ErrInvalidVariant = errors.New("简历原型不能为空")
)

// Recorder 投递记录组件。负责申请快照的upsert、岗位状态翻转、批次管理、
// 简历版本登记。申请的结果子字段(outcome_*)归结果回流层独占管辖，
// 本组件的upsert刻意不触碰这些列。
type Recorder struct {
	db      *gorm.DB
	objects storage.ObjectStorage // 可为nil：未配置对象存储时跳过快照上传
}

func New(db *gorm.DB, objects storage.ObjectStorage) *Recorder {
	return &Recorder{db: db, objects: objects}
}

// applicationUpsertColumns 冲突时整体覆盖的列集合。结果子记录不在其中：
// 重复投递不能把已回流的结果重置回 applied。
var applicationUpsertColumns = []string{
	"company_name", "title", "description", "tech_stack", "date_applied",
	"resume_variant_sent", "resume_commit_hash", "application_batch_id",
	"profile_state",
}

// RecordApplicationSubmission 按 job_id upsert 申请快照。
// 同一岗位重复投递覆盖上一次的快照字段，因此浏览器崩溃后重试是安全的。
func (r *Recorder) RecordApplicationSubmission(ctx context.Context, sub *types.SubmissionResult) error {
	if sub == nil || sub.JobID == "" {
		return ErrMissingJobID
	}

	var job models.Job
	err := r.db.WithContext(ctx).
		Preload("Company").
		Where("job_id = ?", sub.JobID).
		First(&job).Error
	if err != nil {
		return fmt.Errorf("查询岗位失败: %w", err)
	}

	profileState, err := models.MapToJSON(sub.ProfileState)
	if err != nil {
		return fmt.Errorf("序列化档案状态失败: %w", err)
	}

	app := models.Application{
		JobID:             sub.JobID,
		Title:             job.Title,
		Description:       job.Description,
		TechStack:         job.TechStackTags,
		DateApplied:       time.Now(),
		ResumeVariantSent: sub.ResumeVariant,
		ResumeCommitHash:  sub.ResumeCommitHash,
		ProfileState:      profileState,
	}
	if job.Company != nil {
		app.CompanyName = job.Company.Name
	}
	if sub.BatchID != "" {
		batchID := sub.BatchID
		app.ApplicationBatchID = &batchID
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns(applicationUpsertColumns),
	}).Create(&app).Error
	if err != nil {
		return fmt.Errorf("写入申请快照失败: %w", err)
	}
	return nil
}

// MarkJobApplied 投递成功路径：申请快照upsert + 岗位状态翻转到 APPLIED。
// 两表写入必须是同一个逻辑事务，任一失败整体回滚，
// 不允许出现申请已记录而岗位仍是 DISCOVERED 的撕裂状态。
func (r *Recorder) MarkJobApplied(ctx context.Context, sub *types.SubmissionResult) error {
	if sub == nil || sub.JobID == "" {
		return ErrMissingJobID
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inner := New(tx, r.objects)
		if err := inner.RecordApplicationSubmission(ctx, sub); err != nil {
			return err
		}

		result := tx.Model(&models.Job{}).
			Where("job_id = ?", sub.JobID).
			Update("status", string(types.JobStatusApplied))
		if result.Error != nil {
			return fmt.Errorf("更新岗位状态失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("岗位不存在: %s", sub.JobID)
		}
		return nil
	})
}

// RecordSubmissionFailure 投递失败路径：岗位置为 APP_ERROR 并记录失败详情，
// 允许后续重试回 APPLIED。
func (r *Recorder) RecordSubmissionFailure(ctx context.Context, jobID string, errorDetail string) error {
	if jobID == "" {
		return ErrMissingJobID
	}
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     string(types.JobStatusAppError),
			"last_error": errorDetail,
		})
	if result.Error != nil {
		return fmt.Errorf("记录投递失败状态失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("岗位不存在: %s", jobID)
	}
	return nil
}

// CreateApplicationBatch 开启一个投递批次，返回批次ID (UUIDv7，时间有序)
func (r *Recorder) CreateApplicationBatch(ctx context.Context, resumeVariant, resumeCommitHash string, profileState map[string]any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成批次ID失败: %w", err)
	}

	stateJSON, err := models.MapToJSON(profileState)
	if err != nil {
		return "", fmt.Errorf("序列化档案状态失败: %w", err)
	}

	batch := models.ApplicationBatch{
		BatchID:          id.String(),
		ResumeVariant:    resumeVariant,
		ResumeCommitHash: resumeCommitHash,
		ProfileState:     stateJSON,
		StartedAt:        time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&batch).Error; err != nil {
		return "", fmt.Errorf("创建投递批次失败: %w", err)
	}
	return batch.BatchID, nil
}

// FinalizeApplicationBatch 关闭批次，写入终止时间与最终计数。
// 幂等：重复调用覆盖之前的终止信息。
func (r *Recorder) FinalizeApplicationBatch(ctx context.Context, batchID string, finalCount int) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.ApplicationBatch{}).
		Where("batch_id = ?", batchID).
		Updates(map[string]interface{}{
			"finished_at": &now,
			"final_count": finalCount,
		})
	if result.Error != nil {
		return fmt.Errorf("关闭投递批次失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// UpsertResumeVariant 登记/更新简历原型的当前版本。简历正文快照上传到对象
// 存储（按提交哈希寻址），库内仅保留对象路径。
func (r *Recorder) UpsertResumeVariant(ctx context.Context, archetype, commitHash, text string, embedding []float64, alignmentScore float64) error {
	if archetype == "" {
		return ErrInvalidVariant
	}

	var textPath string
	if r.objects != nil && text != "" {
		path, err := r.objects.UploadResumeSnapshot(ctx, commitHash, text)
		if err != nil {
			return fmt.Errorf("上传简历快照失败: %w", err)
		}
		textPath = path
	}

	blob, err := models.FloatsToBlob(embedding)
	if err != nil {
		return fmt.Errorf("序列化简历向量失败: %w", err)
	}

	now := time.Now()
	variant := models.ResumeVariant{
		Archetype:      archetype,
		CommitHash:     commitHash,
		TextPathOSS:    textPath,
		Embedding:      blob,
		AlignmentScore: &alignmentScore,
		CommittedAt:    &now,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "archetype"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"commit_hash", "text_path_oss", "embedding", "alignment_score", "committed_at",
		}),
	}).Create(&variant).Error
	if err != nil {
		return fmt.Errorf("登记简历版本失败: %w", err)
	}
	return nil
}

// GetApplicationByJobID 按外部岗位ID取申请快照
func (r *Recorder) GetApplicationByJobID(ctx context.Context, jobID string) (*models.Application, error) {
	var app models.Application
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&app).Error
	if err != nil {
		return nil, err
	}
	return &app, nil
}
