package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"
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

func scrapedJob(jobID, company string, score int) *types.ScrapedJob {
	return &types.ScrapedJob{
		JobID:       jobID,
		Title:       "Backend Engineer",
		Company:     company,
		Description: "Go, MySQL, RabbitMQ",
		QuickApply:  true,
		SourceBoard: "linkedin",
		Analysis: &types.JobAnalysis{
			Score:            score,
			Recommendation:   "apply",
			TechKeywords:     []string{"go", "mysql"},
			ArchetypePrimary: "backend",
		},
	}
}

func TestInsertJobIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, NewCompanyCache())
	ctx := context.Background()

	inserted, err := svc.InsertJob(ctx, scrapedJob("job-1", "Acme", 80))
	require.NoError(t, err)
	assert.True(t, inserted)

	// 第二次插入同一job_id：无操作，返回false
	inserted, err = svc.InsertJob(ctx, scrapedJob("job-1", "Acme", 95))
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	require.NoError(t, db.Model(&models.Job{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 首次写入的评分不被第二次覆盖
	var job models.Job
	require.NoError(t, db.Where("job_id = ?", "job-1").First(&job).Error)
	require.NotNil(t, job.Score)
	assert.Equal(t, 80, *job.Score)
}

func TestInsertJobMissingJobID(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, NewCompanyCache())

	_, err := svc.InsertJob(context.Background(), &types.ScrapedJob{Company: "Acme"})
	assert.ErrorIs(t, err, ErrMissingJobID)

	var count int64
	require.NoError(t, db.Model(&models.Job{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestBatchInsertJobsPartialFailure(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, NewCompanyCache())

	jobs := []*types.ScrapedJob{
		scrapedJob("job-1", "Acme", 70),
		scrapedJob("job-2", "Acme", 71),
		{Company: "Acme", Title: "broken"}, // 缺少job_id
		scrapedJob("job-4", "Globex", 72),
		scrapedJob("job-5", "Globex", 73),
	}

	result := svc.BatchInsertJobs(context.Background(), jobs)
	assert.Equal(t, 4, result.NewJobs)
	assert.Equal(t, 0, result.Duplicates)
	assert.Equal(t, 1, result.Errors)

	// 重放整批：全部变为重复，坏记录依然只计为错误
	result = svc.BatchInsertJobs(context.Background(), jobs)
	assert.Equal(t, 0, result.NewJobs)
	assert.Equal(t, 4, result.Duplicates)
	assert.Equal(t, 1, result.Errors)
}

func TestResolveCompanyRaceSafety(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// 两个组件实例各带冷缓存，模拟并发工作者先后创建同一家公司
	svc1 := New(db, NewCompanyCache())
	svc2 := New(db, NewCompanyCache())

	id1, err := svc1.ResolveCompany(ctx, "Initech LLC")
	require.NoError(t, err)
	id2, err := svc2.ResolveCompany(ctx, "initech   llc") // 大小写/空白差异折叠到同一规范名
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var count int64
	require.NoError(t, db.Model(&models.Company{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetQueuedJobsFiltersAndOrder(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, NewCompanyCache())
	ctx := context.Background()

	lowScore := scrapedJob("job-low", "Acme", 50)
	highScore := scrapedJob("job-high", "Acme", 90)
	notQuick := scrapedJob("job-slow", "Acme", 99)
	notQuick.QuickApply = false
	intelOnly := scrapedJob("job-intel", "Acme", 99)
	intelOnly.Analysis.MarketIntelligenceOnly = true

	for _, j := range []*types.ScrapedJob{lowScore, highScore, notQuick, intelOnly} {
		_, err := svc.InsertJob(ctx, j)
		require.NoError(t, err)
	}

	// 已投递的岗位不再出现在队列里
	applied := scrapedJob("job-done", "Acme", 95)
	_, err := svc.InsertJob(ctx, applied)
	require.NoError(t, err)
	require.NoError(t, svc.UpdateJobStatus(ctx, "job-done", types.JobStatusApplied, ""))

	jobs, err := svc.GetQueuedJobs(ctx, "backend", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-high", jobs[0].JobID) // 高分优先
	assert.Equal(t, "job-low", jobs[1].JobID)

	// APP_ERROR 的岗位允许重回队列
	require.NoError(t, svc.UpdateJobStatus(ctx, "job-done", types.JobStatusAppError, "form timeout"))
	jobs, err = svc.GetPendingJobs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestGetCloseCallJobs(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, NewCompanyCache())
	ctx := context.Background()

	borderline := scrapedJob("job-border", "Acme", 55)
	borderline.Analysis.SelectionNeedsReview = true
	clearCut := scrapedJob("job-clear", "Acme", 88)

	for _, j := range []*types.ScrapedJob{borderline, clearCut} {
		_, err := svc.InsertJob(ctx, j)
		require.NoError(t, err)
	}

	jobs, err := svc.GetCloseCallJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-border", jobs[0].JobID)
}

func TestUpdateJobScore(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, NewCompanyCache())
	ctx := context.Background()

	_, err := svc.InsertJob(ctx, scrapedJob("job-1", "Acme", 60))
	require.NoError(t, err)

	err = svc.UpdateJobScore(ctx, "job-1", &types.JobAnalysis{
		Score:                65,
		Recommendation:       "review",
		ArchetypePrimary:     "platform",
		SelectionNeedsReview: true,
		Embedding:            []float64{0.1, 0.2, 0.3},
	})
	require.NoError(t, err)

	var job models.Job
	require.NoError(t, db.Where("job_id = ?", "job-1").First(&job).Error)
	require.NotNil(t, job.Score)
	assert.Equal(t, 65, *job.Score)
	assert.Equal(t, "platform", job.ResumeArchetype)
	assert.True(t, job.SelectionNeedsReview)

	vec, err := models.BlobToFloats(job.Embedding)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)

	// 不存在的岗位
	err = svc.UpdateJobScore(ctx, "job-nope", &types.JobAnalysis{Score: 1})
	assert.Error(t, err)
}

func TestNormalizeCompanyName(t *testing.T) {
	assert.Equal(t, "acme corp", NormalizeCompanyName("  Acme   Corp "))
	assert.Equal(t, "", NormalizeCompanyName("   "))
}
