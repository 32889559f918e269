package ingestion

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"job-agent-go/internal/logger"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"
)

// ErrMissingJobID 缺少外部岗位ID，写入前直接拒绝
var ErrMissingJobID = errors.New("job_id 不能为空")

// Ingestion 岗位摄入组件。负责岗位去重入库、公司惰性创建、投递队列查询。
// 公司缓存由构造方注入而非包级单例；缓存只是延迟优化，
// 唯一性的真正保证是 companies.name_normalized 上的唯一索引。
type Ingestion struct {
	db           *gorm.DB
	companyCache *CompanyCache
}

func New(db *gorm.DB, companyCache *CompanyCache) *Ingestion {
	if companyCache == nil {
		companyCache = NewCompanyCache()
	}
	return &Ingestion{db: db, companyCache: companyCache}
}

// ResolveCompany 按公司名解析公司ID，不存在则创建。
// 路径：缓存 → 库内查询 → ON CONFLICT upsert。并发工作者可能同时创建
// 同名公司，这里用 upsert 而不是 check-then-insert 保证竞争安全。
func (s *Ingestion) ResolveCompany(ctx context.Context, name string) (uint64, error) {
	normalized := NormalizeCompanyName(name)
	if normalized == "" {
		return 0, fmt.Errorf("公司名不能为空")
	}

	if id, ok := s.companyCache.Get(normalized); ok {
		return id, nil
	}

	company := models.Company{
		Name:           name,
		NameNormalized: normalized,
	}
	// 冲突时仅回写 name（无实际变更），保证语句总能执行成功
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name_normalized"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&company).Error
	if err != nil {
		return 0, fmt.Errorf("创建公司记录失败: %w", err)
	}

	// MySQL 下冲突分支不回填自增ID，统一再查一次拿权威ID
	var existing models.Company
	if err := s.db.WithContext(ctx).
		Where("name_normalized = ?", normalized).
		First(&existing).Error; err != nil {
		return 0, fmt.Errorf("查询公司记录失败: %w", err)
	}

	s.companyCache.Put(normalized, existing.CompanyID)
	return existing.CompanyID, nil
}

// InsertJob 幂等插入单个岗位。job_id 已存在时不做任何写入并返回 false。
func (s *Ingestion) InsertJob(ctx context.Context, job *types.ScrapedJob) (bool, error) {
	if job == nil || job.JobID == "" {
		return false, ErrMissingJobID
	}

	companyID, err := s.ResolveCompany(ctx, job.Company)
	if err != nil {
		return false, err
	}

	record := models.Job{
		JobID:       job.JobID,
		CompanyID:   companyID,
		Title:       job.Title,
		Description: job.Description,
		URL:         job.URL,
		SourceBoard: job.SourceBoard,
		QuickApply:  job.QuickApply,
		Status:      string(types.JobStatusDiscovered),
	}

	if a := job.Analysis; a != nil {
		score := a.Score
		record.Score = &score
		record.Recommendation = a.Recommendation
		record.JobClassification = a.JobClassification
		record.ResumeArchetype = a.ArchetypePrimary
		record.SeniorityLevel = a.SeniorityLevel
		record.MarketIntelligenceOnly = a.MarketIntelligenceOnly
		record.SelectionNeedsReview = a.SelectionNeedsReview

		if record.TechStackTags, err = models.StringsToJSON(a.TechKeywords); err != nil {
			return false, fmt.Errorf("序列化技术栈标签失败: %w", err)
		}
		if record.Embedding, err = models.FloatsToBlob(a.Embedding); err != nil {
			return false, fmt.Errorf("序列化岗位向量失败: %w", err)
		}
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoNothing: true,
	}).Create(&record)
	if result.Error != nil {
		return false, fmt.Errorf("插入岗位失败: %w", result.Error)
	}

	// RowsAffected==0 表示 job_id 已存在，属于正常去重而非错误
	return result.RowsAffected > 0, nil
}

// BatchInsertJobs 批量摄入，对单条失败容错：任何一条坏记录都不会中断整批，
// 调用方总能看到 {新增, 重复, 失败} 的部分进度。
func (s *Ingestion) BatchInsertJobs(ctx context.Context, jobs []*types.ScrapedJob) types.BatchInsertResult {
	var result types.BatchInsertResult
	for _, job := range jobs {
		inserted, err := s.InsertJob(ctx, job)
		switch {
		case err != nil:
			jobID := ""
			if job != nil {
				jobID = job.JobID
			}
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("岗位入库失败，继续处理后续记录")
			result.Errors++
		case inserted:
			result.NewJobs++
		default:
			result.Duplicates++
		}
	}
	return result
}

// queuedScope 自动投递队列的公共过滤条件
func queuedScope(db *gorm.DB) *gorm.DB {
	return db.
		Where("status IN ?", []string{string(types.JobStatusDiscovered), string(types.JobStatusAppError)}).
		Where("quick_apply = ?", true).
		Where("market_intelligence_only = ?", false)
}

// GetQueuedJobs 取待投递队列，可按简历原型过滤。评分高者优先，其次按发现时间倒序。
func (s *Ingestion) GetQueuedJobs(ctx context.Context, archetype string, limit int) ([]models.Job, error) {
	query := queuedScope(s.db.WithContext(ctx).Model(&models.Job{}))
	if archetype != "" {
		query = query.Where("resume_archetype = ?", archetype)
	}

	var jobs []models.Job
	err := query.
		Order("score DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("查询投递队列失败: %w", err)
	}
	return jobs, nil
}

// GetPendingJobs 不限原型的待投递队列
func (s *Ingestion) GetPendingJobs(ctx context.Context, limit int) ([]models.Job, error) {
	return s.GetQueuedJobs(ctx, "", limit)
}

// GetCloseCallJobs 取边界样本（selection_needs_review=1），供人工复核
func (s *Ingestion) GetCloseCallJobs(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("selection_needs_review = ?", true).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("查询待复核岗位失败: %w", err)
	}
	return jobs, nil
}

// UpdateJobStatus 更新岗位状态，失败时可附带错误详情
func (s *Ingestion) UpdateJobStatus(ctx context.Context, jobID string, status types.JobStatus, lastError string) error {
	updates := map[string]interface{}{"status": string(status)}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	result := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("job_id = ?", jobID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("更新岗位状态失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("岗位不存在: %s", jobID)
	}
	return nil
}

// UpdateJobScore 回填内容生成协作方的分析结果。核心只做落库不做语义校验。
func (s *Ingestion) UpdateJobScore(ctx context.Context, jobID string, analysis *types.JobAnalysis) error {
	if analysis == nil {
		return fmt.Errorf("分析结果不能为空")
	}

	tags, err := models.StringsToJSON(analysis.TechKeywords)
	if err != nil {
		return fmt.Errorf("序列化技术栈标签失败: %w", err)
	}
	embedding, err := models.FloatsToBlob(analysis.Embedding)
	if err != nil {
		return fmt.Errorf("序列化岗位向量失败: %w", err)
	}

	updates := map[string]interface{}{
		"score":                    analysis.Score,
		"recommendation":           analysis.Recommendation,
		"job_classification":       analysis.JobClassification,
		"resume_archetype":         analysis.ArchetypePrimary,
		"seniority_level":          analysis.SeniorityLevel,
		"market_intelligence_only": analysis.MarketIntelligenceOnly,
		"selection_needs_review":   analysis.SelectionNeedsReview,
	}
	if tags != nil {
		updates["tech_stack_tags"] = tags
	}
	if embedding != nil {
		updates["embedding"] = embedding
	}

	result := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("job_id = ?", jobID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("更新岗位评分失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("岗位不存在: %s", jobID)
	}
	return nil
}
