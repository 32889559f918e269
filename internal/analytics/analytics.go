package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"job-agent-go/internal/constants"
	"job-agent-go/internal/logger"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"
)

var ErrEmptyWindow = errors.New("窗口内没有可用的岗位向量")

// AlertTypeCentroidShift 质心漂移超阈值告警
const AlertTypeCentroidShift = "centroid_shift"

// Options 漂移检测参数
type Options struct {
	ShiftThreshold   float64       // 质心偏移告警阈值（余弦距离）
	AlertDedupWindow time.Duration // 同类未确认告警的去重窗口
}

// Analytics 只读聚合 + 市场漂移追踪。漏斗与Ghost都是查询时计算，
// 质心快照是唯一的写路径。
type Analytics struct {
	db   *gorm.DB
	opts Options
}

func New(db *gorm.DB, opts Options) *Analytics {
	if opts.AlertDedupWindow <= 0 {
		opts.AlertDedupWindow = constants.DefaultDriftAlertDedupWindow
	}
	return &Analytics{db: db, opts: opts}
}

// GetFunnelMetrics 按投递月份×简历原型×简历版本聚合的漏斗。
// 聚合在进程内完成，不依赖特定数据库的日期格式化函数。
func (a *Analytics) GetFunnelMetrics(ctx context.Context) ([]types.FunnelRow, error) {
	var apps []models.Application
	err := a.db.WithContext(ctx).
		Select("date_applied", "resume_variant_sent", "resume_commit_hash", "outcome_stage").
		Find(&apps).Error
	if err != nil {
		return nil, fmt.Errorf("查询申请记录失败: %w", err)
	}

	type key struct {
		month   string
		variant string
		commit  string
	}
	buckets := make(map[key]*types.FunnelRow)
	for _, app := range apps {
		k := key{
			month:   app.DateApplied.Format("2006-01"),
			variant: app.ResumeVariantSent,
			commit:  app.ResumeCommitHash,
		}
		row, ok := buckets[k]
		if !ok {
			row = &types.FunnelRow{Month: k.month, Archetype: k.variant, ResumeVariant: k.commit}
			buckets[k] = row
		}
		row.Applied++
		// 计数的是"到达过该阶段"：当前处于offer的申请必然经过
		// acknowledged/viewed/interview_request，各上游桶同步累加
		switch types.Stage(app.OutcomeStage) {
		case types.StageAcknowledged:
			row.Acknowledged++
		case types.StageViewed:
			row.Viewed++
			row.Acknowledged++
		case types.StageInterviewRequest:
			row.Interviews++
			row.Viewed++
			row.Acknowledged++
		case types.StageOffer:
			row.Offers++
			row.Interviews++
			row.Viewed++
			row.Acknowledged++
		case types.StageRejected:
			row.Rejections++
			row.Acknowledged++
		}
	}

	rows := make([]types.FunnelRow, 0, len(buckets))
	for _, row := range buckets {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Month != rows[j].Month {
			return rows[i].Month < rows[j].Month
		}
		if rows[i].Archetype != rows[j].Archetype {
			return rows[i].Archetype < rows[j].Archetype
		}
		return rows[i].ResumeVariant < rows[j].ResumeVariant
	})
	return rows, nil
}

// ComputeArchetypeCentroid 计算某原型在时间窗内岗位描述向量的均值质心
func (a *Analytics) ComputeArchetypeCentroid(ctx context.Context, archetype string, windowStart, windowEnd time.Time) ([]float64, int, error) {
	var jobs []models.Job
	err := a.db.WithContext(ctx).
		Select("embedding").
		Where("resume_archetype = ?", archetype).
		Where("created_at >= ? AND created_at < ?", windowStart, windowEnd).
		Where("embedding IS NOT NULL").
		Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询岗位向量失败: %w", err)
	}

	var centroid []float64
	count := 0
	for _, job := range jobs {
		vec, err := models.BlobToFloats(job.Embedding)
		if err != nil || len(vec) == 0 {
			continue
		}
		if centroid == nil {
			centroid = make([]float64, len(vec))
		}
		if len(vec) != len(centroid) {
			// 维度不一致的向量来自不同embedding模型，跳过
			continue
		}
		for i, v := range vec {
			centroid[i] += v
		}
		count++
	}
	if count == 0 {
		return nil, 0, ErrEmptyWindow
	}
	for i := range centroid {
		centroid[i] /= float64(count)
	}
	return centroid, count, nil
}

// StoreMarketCentroid 落一个质心快照，(archetype, window_start) 唯一，冲突覆盖。
// 同时计算相对上一窗口的偏移，超阈值时尝试产生漂移告警。
func (a *Analytics) StoreMarketCentroid(ctx context.Context, archetype string, windowStart, windowEnd time.Time, centroid []float64, jobCount int) error {
	if len(centroid) == 0 {
		return errors.New("质心向量不能为空")
	}

	// 取上一窗口的质心用于偏移计算
	var prev models.MarketCentroid
	var shift *float64
	err := a.db.WithContext(ctx).
		Where("archetype = ?", archetype).
		Where("window_start < ?", datatypes.Date(windowStart)).
		Order("window_start DESC").
		First(&prev).Error
	if err == nil {
		prevVec, decodeErr := models.BlobToFloats(prev.Centroid)
		if decodeErr == nil && len(prevVec) == len(centroid) {
			d := CosineDistance(prevVec, centroid)
			shift = &d
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("查询历史质心失败: %w", err)
	}

	blob, err := models.FloatsToBlob(centroid)
	if err != nil {
		return fmt.Errorf("序列化质心失败: %w", err)
	}

	snapshot := models.MarketCentroid{
		Archetype:     archetype,
		WindowStart:   datatypes.Date(windowStart),
		WindowEnd:     datatypes.Date(windowEnd),
		Centroid:      blob,
		JobCount:      jobCount,
		ShiftFromPrev: shift,
	}
	err = a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "archetype"}, {Name: "window_start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"window_end", "centroid", "job_count", "shift_from_prev",
		}),
	}).Create(&snapshot).Error
	if err != nil {
		return fmt.Errorf("写入质心快照失败: %w", err)
	}

	if shift != nil {
		if err := a.MaybeRaiseDriftAlert(ctx, archetype, AlertTypeCentroidShift, *shift); err != nil {
			// 告警失败不影响快照本身
			logger.Ctx(ctx).Warn().Err(err).Str("archetype", archetype).Msg("产生漂移告警失败")
		}
	}
	return nil
}

// MaybeRaiseDriftAlert 偏移超阈值时产生告警。
// 去重窗口内已有同 (archetype, alert_type) 的未确认告警则跳过，
// 用时间窗查询实现而非硬性唯一约束，避免反复的小幅偏移刷出告警风暴。
// 返回error仅表示存储层失败；被阈值或去重拦下都是正常路径。
func (a *Analytics) MaybeRaiseDriftAlert(ctx context.Context, archetype, alertType string, metric float64) error {
	if metric < a.opts.ShiftThreshold {
		return nil
	}

	since := time.Now().Add(-a.opts.AlertDedupWindow)
	var existing int64
	err := a.db.WithContext(ctx).Model(&models.DriftAlert{}).
		Where("archetype = ?", archetype).
		Where("alert_type = ?", alertType).
		Where("acknowledged = ?", false).
		Where("created_at > ?", since).
		Count(&existing).Error
	if err != nil {
		return fmt.Errorf("查询既有告警失败: %w", err)
	}
	if existing > 0 {
		return nil
	}

	alert := models.DriftAlert{
		Archetype: archetype,
		AlertType: alertType,
		Metric:    metric,
		Threshold: a.opts.ShiftThreshold,
		Message: fmt.Sprintf("原型 %s 的市场质心偏移 %.4f 超过阈值 %.4f，市场技能需求可能正偏离当前简历定位",
			archetype, metric, a.opts.ShiftThreshold),
	}
	if err := a.db.WithContext(ctx).Create(&alert).Error; err != nil {
		return fmt.Errorf("写入漂移告警失败: %w", err)
	}
	logger.Ctx(ctx).Warn().
		Str("archetype", archetype).
		Float64("metric", metric).
		Float64("threshold", a.opts.ShiftThreshold).
		Msg("市场漂移告警")
	return nil
}

// ListOpenDriftAlerts 取所有未确认的漂移告警
func (a *Analytics) ListOpenDriftAlerts(ctx context.Context) ([]models.DriftAlert, error) {
	var alerts []models.DriftAlert
	err := a.db.WithContext(ctx).
		Where("acknowledged = ?", false).
		Order("created_at DESC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("查询漂移告警失败: %w", err)
	}
	return alerts, nil
}

// AcknowledgeDriftAlert 确认告警，幂等
func (a *Analytics) AcknowledgeDriftAlert(ctx context.Context, alertID uint64) error {
	now := time.Now()
	result := a.db.WithContext(ctx).Model(&models.DriftAlert{}).
		Where("id = ?", alertID).
		Updates(map[string]interface{}{
			"acknowledged":    true,
			"acknowledged_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("确认告警失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("告警不存在: %d", alertID)
	}
	return nil
}

// CosineDistance 1 - 余弦相似度。任一向量为零向量时返回1（完全不相关）。
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
