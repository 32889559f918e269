package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"job-agent-go/internal/ingestion"
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

func seedJob(t *testing.T, db *gorm.DB, jobID string) {
	t.Helper()
	svc := ingestion.New(db, ingestion.NewCompanyCache())
	_, err := svc.InsertJob(context.Background(), &types.ScrapedJob{
		JobID:       jobID,
		Title:       "Backend Engineer",
		Company:     "Acme",
		Description: "Go services",
		QuickApply:  true,
	})
	require.NoError(t, err)
}

func TestRecordApplicationSubmissionUpsert(t *testing.T) {
	db := newTestDB(t)
	rec := New(db, nil)
	ctx := context.Background()
	seedJob(t, db, "job-1")

	err := rec.RecordApplicationSubmission(ctx, &types.SubmissionResult{
		JobID:            "job-1",
		Status:           types.SubmissionApplied,
		ResumeVariant:    "backend",
		ResumeCommitHash: "aaa111",
	})
	require.NoError(t, err)

	// 第二次提交覆盖快照字段，行数不变
	err = rec.RecordApplicationSubmission(ctx, &types.SubmissionResult{
		JobID:            "job-1",
		Status:           types.SubmissionApplied,
		ResumeVariant:    "platform",
		ResumeCommitHash: "bbb222",
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Application{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var app models.Application
	require.NoError(t, db.Where("job_id = ?", "job-1").First(&app).Error)
	assert.Equal(t, "platform", app.ResumeVariantSent)
	assert.Equal(t, "bbb222", app.ResumeCommitHash)
	assert.Equal(t, "Acme", app.CompanyName)
}

func TestRecordApplicationSubmissionKeepsOutcome(t *testing.T) {
	db := newTestDB(t)
	rec := New(db, nil)
	ctx := context.Background()
	seedJob(t, db, "job-1")

	require.NoError(t, rec.RecordApplicationSubmission(ctx, &types.SubmissionResult{
		JobID: "job-1", Status: types.SubmissionApplied, ResumeVariant: "backend",
	}))

	// 结果回流层已把阶段推进到 interview_request
	require.NoError(t, db.Model(&models.Application{}).
		Where("job_id = ?", "job-1").
		Update("outcome_stage", "interview_request").Error)

	// 重复投递不得把结果子记录重置回 applied
	require.NoError(t, rec.RecordApplicationSubmission(ctx, &types.SubmissionResult{
		JobID: "job-1", Status: types.SubmissionApplied, ResumeVariant: "backend",
	}))

	var app models.Application
	require.NoError(t, db.Where("job_id = ?", "job-1").First(&app).Error)
	assert.Equal(t, "interview_request", app.OutcomeStage)
}

func TestMarkJobAppliedTwoTableWrite(t *testing.T) {
	db := newTestDB(t)
	rec := New(db, nil)
	ctx := context.Background()
	seedJob(t, db, "job-1")

	err := rec.MarkJobApplied(ctx, &types.SubmissionResult{
		JobID:         "job-1",
		Status:        types.SubmissionApplied,
		ResumeVariant: "backend",
	})
	require.NoError(t, err)

	var job models.Job
	require.NoError(t, db.Where("job_id = ?", "job-1").First(&job).Error)
	assert.Equal(t, string(types.JobStatusApplied), job.Status)

	var appCount int64
	require.NoError(t, db.Model(&models.Application{}).Count(&appCount).Error)
	assert.Equal(t, int64(1), appCount)
}

func TestMarkJobAppliedRollsBackOnMissingJob(t *testing.T) {
	db := newTestDB(t)
	rec := New(db, nil)

	err := rec.MarkJobApplied(context.Background(), &types.SubmissionResult{
		JobID:  "job-nope",
		Status: types.SubmissionApplied,
	})
	require.Error(t, err)

	// 两表写入同事务：岗位不存在时申请快照也不得残留
	var appCount int64
	require.NoError(t, db.Model(&models.Application{}).Count(&appCount).Error)
	assert.Equal(t, int64(0), appCount)
}

func TestRecordSubmissionFailure(t *testing.T) {
	db := newTestDB(t)
	rec := New(db, nil)
	ctx := context.Background()
	seedJob(t, db, "job-1")

	require.NoError(t, rec.RecordSubmissionFailure(ctx, "job-1", "captcha wall"))

	var job models.Job
	require.NoError(t, db.Where("job_id = ?", "job-1").First(&job).Error)
	assert.Equal(t, string(types.JobStatusAppError), job.Status)
	assert.Equal(t, "captcha wall", job.LastError)
}

func TestApplicationBatchLifecycle(t *testing.T) {
	db := newTestDB(t)
	rec := New(db, nil)
	ctx := context.Background()

	batchID, err := rec.CreateApplicationBatch(ctx, "backend", "aaa111", map[string]any{"headline": "Go engineer"})
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	require.NoError(t, rec.FinalizeApplicationBatch(ctx, batchID, 12))

	var batch models.ApplicationBatch
	require.NoError(t, db.Where("batch_id = ?", batchID).First(&batch).Error)
	require.NotNil(t, batch.FinishedAt)
	require.NotNil(t, batch.FinalCount)
	assert.Equal(t, 12, *batch.FinalCount)
	firstFinish := *batch.FinishedAt

	// finalize 幂等：重复调用覆盖终止信息
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, rec.FinalizeApplicationBatch(ctx, batchID, 15))
	require.NoError(t, db.Where("batch_id = ?", batchID).First(&batch).Error)
	assert.Equal(t, 15, *batch.FinalCount)
	assert.True(t, !batch.FinishedAt.Before(firstFinish))

	// 不存在的批次
	err = rec.FinalizeApplicationBatch(ctx, "00000000-0000-0000-0000-000000000000", 1)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestApplicationTimeFieldsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	rec := New(db, nil)
	ctx := context.Background()
	seedJob(t, db, "job-1")

	require.NoError(t, rec.RecordApplicationSubmission(ctx, &types.SubmissionResult{
		JobID:         "job-1",
		Status:        types.SubmissionApplied,
		ResumeVariant: "backend",
	}))

	received := time.Date(2026, 8, 15, 9, 30, 0, 0, time.UTC)
	require.NoError(t, db.Model(&models.Application{}).
		Where("job_id = ?", "job-1").
		Update("outcome_email_received_at", received).Error)

	// 时间列必须能从存储层原样读回为 time.Time，而不是 Scan 报错
	var app models.Application
	require.NoError(t, db.Where("job_id = ?", "job-1").First(&app).Error)
	assert.False(t, app.DateApplied.IsZero())
	assert.False(t, app.CreatedAt.IsZero())
	require.NotNil(t, app.OutcomeEmailReceivedAt)
	assert.True(t, app.OutcomeEmailReceivedAt.Equal(received))
}

func TestUpsertResumeVariant(t *testing.T) {
	db := newTestDB(t)
	rec := New(db, nil)
	ctx := context.Background()

	require.NoError(t, rec.UpsertResumeVariant(ctx, "backend", "aaa111", "", []float64{0.1, 0.2}, 0.8))
	require.NoError(t, rec.UpsertResumeVariant(ctx, "backend", "bbb222", "", []float64{0.3, 0.4}, 0.9))

	var count int64
	require.NoError(t, db.Model(&models.ResumeVariant{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var variant models.ResumeVariant
	require.NoError(t, db.Where("archetype = ?", "backend").First(&variant).Error)
	assert.Equal(t, "bbb222", variant.CommitHash)
	require.NotNil(t, variant.AlignmentScore)
	assert.InDelta(t, 0.9, *variant.AlignmentScore, 1e-9)
}
