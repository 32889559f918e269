package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))
	return db
}

func seedJobWithEmbedding(t *testing.T, db *gorm.DB, jobID, archetype string, embedding []float64, createdAt time.Time) {
	t.Helper()
	blob, err := models.FloatsToBlob(embedding)
	require.NoError(t, err)
	job := models.Job{
		JobID:           jobID,
		CompanyID:       1,
		Title:           "Backend Engineer",
		ResumeArchetype: archetype,
		Embedding:       blob,
		CreatedAt:       createdAt,
	}
	require.NoError(t, db.Create(&job).Error)
}

func seedFunnelApplication(t *testing.T, db *gorm.DB, jobID, variant, commit, stage string, dateApplied time.Time) {
	t.Helper()
	app := models.Application{
		JobID:             jobID,
		DateApplied:       dateApplied,
		ResumeVariantSent: variant,
		ResumeCommitHash:  commit,
		OutcomeStage:      stage,
	}
	require.NoError(t, db.Create(&app).Error)
}

func TestGetFunnelMetrics(t *testing.T) {
	db := newTestDB(t)
	a := New(db, Options{})
	ctx := context.Background()

	aug := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	jul := time.Date(2026, 7, 5, 12, 0, 0, 0, time.UTC)

	seedFunnelApplication(t, db, "j-1", "backend", "abc", "applied", aug)
	seedFunnelApplication(t, db, "j-2", "backend", "abc", "interview_request", aug)
	seedFunnelApplication(t, db, "j-3", "backend", "abc", "rejected", aug)
	seedFunnelApplication(t, db, "j-4", "data", "def", "offer", aug)
	seedFunnelApplication(t, db, "j-5", "backend", "abc", "viewed", jul)

	rows, err := a.GetFunnelMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// 按 月份→原型→版本 排序；各桶计数的是"到达过该阶段"的申请数
	assert.Equal(t, "2026-07", rows[0].Month)
	assert.Equal(t, int64(1), rows[0].Applied)
	assert.Equal(t, int64(1), rows[0].Viewed)
	assert.Equal(t, int64(1), rows[0].Acknowledged)

	assert.Equal(t, "2026-08", rows[1].Month)
	assert.Equal(t, "backend", rows[1].Archetype)
	assert.Equal(t, int64(3), rows[1].Applied)
	assert.Equal(t, int64(2), rows[1].Acknowledged) // interview_request + rejected 都经过ack
	assert.Equal(t, int64(1), rows[1].Viewed)
	assert.Equal(t, int64(1), rows[1].Interviews)
	assert.Equal(t, int64(1), rows[1].Rejections)
	assert.Equal(t, int64(0), rows[1].Offers)

	// 处于offer的申请同时计入所有上游阶段
	assert.Equal(t, "data", rows[2].Archetype)
	assert.Equal(t, int64(1), rows[2].Offers)
	assert.Equal(t, int64(1), rows[2].Interviews)
	assert.Equal(t, int64(1), rows[2].Viewed)
	assert.Equal(t, int64(1), rows[2].Acknowledged)
}

func TestComputeArchetypeCentroid(t *testing.T) {
	db := newTestDB(t)
	a := New(db, Options{})
	ctx := context.Background()

	windowStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 8, 8, 0, 0, 0, 0, time.UTC)
	inside := windowStart.Add(48 * time.Hour)

	seedJobWithEmbedding(t, db, "j-1", "backend", []float64{1, 0, 0}, inside)
	seedJobWithEmbedding(t, db, "j-2", "backend", []float64{0, 1, 0}, inside)
	// 窗口外与其他原型的岗位不参与
	seedJobWithEmbedding(t, db, "j-3", "backend", []float64{9, 9, 9}, windowEnd.Add(time.Hour))
	seedJobWithEmbedding(t, db, "j-4", "data", []float64{5, 5, 5}, inside)
	// 维度不一致的向量被跳过
	seedJobWithEmbedding(t, db, "j-5", "backend", []float64{1, 1}, inside)

	centroid, count, err := a.ComputeArchetypeCentroid(ctx, "backend", windowStart, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, centroid, 3)
	assert.InDelta(t, 0.5, centroid[0], 1e-9)
	assert.InDelta(t, 0.5, centroid[1], 1e-9)
	assert.InDelta(t, 0.0, centroid[2], 1e-9)
}

func TestComputeArchetypeCentroidEmptyWindow(t *testing.T) {
	db := newTestDB(t)
	a := New(db, Options{})

	_, _, err := a.ComputeArchetypeCentroid(context.Background(),
		"backend",
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 8, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestStoreMarketCentroidUpsertAndShift(t *testing.T) {
	db := newTestDB(t)
	a := New(db, Options{ShiftThreshold: 0.99}) // 阈值拉高，本例只验证快照本身
	ctx := context.Background()

	w1 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	w2 := time.Date(2026, 8, 8, 0, 0, 0, 0, time.UTC)

	require.NoError(t, a.StoreMarketCentroid(ctx, "backend", w1, w2, []float64{1, 0}, 10))

	// 同 (archetype, window_start) 重写覆盖而非新增
	require.NoError(t, a.StoreMarketCentroid(ctx, "backend", w1, w2, []float64{0.9, 0.1}, 12))
	var count int64
	require.NoError(t, db.Model(&models.MarketCentroid{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var first models.MarketCentroid
	require.NoError(t, db.Where("archetype = ?", "backend").First(&first).Error)
	assert.Equal(t, 12, first.JobCount)
	assert.Nil(t, first.ShiftFromPrev) // 没有上一窗口

	// 第二个窗口：正交向量，偏移应为1
	w3 := w2.AddDate(0, 0, 7)
	require.NoError(t, a.StoreMarketCentroid(ctx, "backend", w2, w3, []float64{0, 1}, 8))

	var second models.MarketCentroid
	require.NoError(t, db.Where("archetype = ? AND job_count = ?", "backend", 8).First(&second).Error)
	require.NotNil(t, second.ShiftFromPrev)
	assert.InDelta(t, CosineDistance([]float64{0.9, 0.1}, []float64{0, 1}), *second.ShiftFromPrev, 1e-9)
}

func TestDriftAlertRaisedOverThreshold(t *testing.T) {
	db := newTestDB(t)
	a := New(db, Options{ShiftThreshold: 0.3})
	ctx := context.Background()

	w1 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	w2 := w1.AddDate(0, 0, 7)
	w3 := w2.AddDate(0, 0, 7)

	require.NoError(t, a.StoreMarketCentroid(ctx, "backend", w1, w2, []float64{1, 0}, 10))
	require.NoError(t, a.StoreMarketCentroid(ctx, "backend", w2, w3, []float64{0, 1}, 10))

	alerts, err := a.ListOpenDriftAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTypeCentroidShift, alerts[0].AlertType)
	assert.Equal(t, "backend", alerts[0].Archetype)
	assert.InDelta(t, 1.0, alerts[0].Metric, 1e-9)
}

func TestDriftAlertDedupWindow(t *testing.T) {
	db := newTestDB(t)
	a := New(db, Options{ShiftThreshold: 0.3, AlertDedupWindow: 24 * time.Hour})
	ctx := context.Background()

	require.NoError(t, a.MaybeRaiseDriftAlert(ctx, "backend", AlertTypeCentroidShift, 0.8))
	// 去重窗口内的第二次超阈值不再新增
	require.NoError(t, a.MaybeRaiseDriftAlert(ctx, "backend", AlertTypeCentroidShift, 0.9))

	var count int64
	require.NoError(t, db.Model(&models.DriftAlert{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 低于阈值的偏移不产生告警
	require.NoError(t, a.MaybeRaiseDriftAlert(ctx, "data", AlertTypeCentroidShift, 0.1))
	require.NoError(t, db.Model(&models.DriftAlert{}).Where("archetype = ?", "data").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestDriftAlertAcknowledgeReopens(t *testing.T) {
	db := newTestDB(t)
	a := New(db, Options{ShiftThreshold: 0.3, AlertDedupWindow: 24 * time.Hour})
	ctx := context.Background()

	require.NoError(t, a.MaybeRaiseDriftAlert(ctx, "backend", AlertTypeCentroidShift, 0.8))

	alerts, err := a.ListOpenDriftAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	require.NoError(t, a.AcknowledgeDriftAlert(ctx, alerts[0].ID))

	alerts, err = a.ListOpenDriftAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// 确认后的告警不再占用去重窗口，新的超阈值偏移可以再次告警
	require.NoError(t, a.MaybeRaiseDriftAlert(ctx, "backend", AlertTypeCentroidShift, 0.85))
	alerts, err = a.ListOpenDriftAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestAcknowledgeMissingAlert(t *testing.T) {
	db := newTestDB(t)
	a := New(db, Options{})
	assert.Error(t, a.AcknowledgeDriftAlert(context.Background(), 9999))
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 1, CosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, 2, CosineDistance([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	// 零向量与长度不一致都按完全不相关处理
	assert.InDelta(t, 1, CosineDistance([]float64{0, 0}, []float64{1, 1}), 1e-9)
	assert.InDelta(t, 1, CosineDistance([]float64{1}, []float64{1, 1}), 1e-9)
}
