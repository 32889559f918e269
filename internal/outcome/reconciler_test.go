package outcome

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

func newTestReconciler(t *testing.T) (*Reconciler, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return New(db, nil, Options{GhostWindowDays: 30}), db
}

func seedApplication(t *testing.T, db *gorm.DB, jobID string, dateApplied time.Time) uint64 {
	t.Helper()
	app := models.Application{
		JobID:        jobID,
		CompanyName:  "Acme",
		Title:        "Backend Engineer",
		DateApplied:  dateApplied,
		OutcomeStage: string(types.StageApplied),
	}
	require.NoError(t, db.Create(&app).Error)
	return app.ID
}

func emailSignal(messageID string, appID uint64, classification string, receivedAt time.Time) *types.ParsedEmailSignal {
	return &types.ParsedEmailSignal{
		GmailMessageID:       messageID,
		FromAddress:          "recruiting@acme.example",
		Subject:              "Your application",
		Classification:       classification,
		Confidence:           0.9,
		MatchedApplicationID: &appID,
		ReceivedAt:           &receivedAt,
	}
}

func currentStage(t *testing.T, db *gorm.DB, appID uint64) string {
	t.Helper()
	var app models.Application
	require.NoError(t, db.First(&app, appID).Error)
	return app.OutcomeStage
}

func TestOutcomeMonotonicByTime(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	appID := seedApplication(t, db, "job-1", time.Now())

	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)

	// 先拒绝后面试：时间更新的面试邀请覆盖拒绝
	require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-1", appID, "rejected", t1)))
	assert.Equal(t, "rejected", currentStage(t, db, appID))

	require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-2", appID, "interview_request", t2)))
	assert.Equal(t, "interview_request", currentStage(t, db, appID))
}

func TestOutcomeOutOfOrderArrival(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	appID := seedApplication(t, db, "job-1", time.Now())

	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)

	// 乱序到达：后到的陈旧拒绝不得覆盖更新的面试邀请
	require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-2", appID, "interview_request", t2)))
	require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-1", appID, "rejected", t1)))
	assert.Equal(t, "interview_request", currentStage(t, db, appID))
}

func TestOutcomeChronologyBeatsPriority(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	appID := seedApplication(t, db, "job-1", time.Now())

	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)

	// 先offer后撤回：时间更新的拒绝覆盖offer，即使优先级更低
	require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-1", appID, "offer", t1)))
	require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-2", appID, "rejected", t2)))
	assert.Equal(t, "rejected", currentStage(t, db, appID))
}

func TestOutcomeTieBreakByPriority(t *testing.T) {
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	t.Run("低优先级先到", func(t *testing.T) {
		r, db := newTestReconciler(t)
		ctx := context.Background()
		appID := seedApplication(t, db, "job-1", time.Now())

		require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-1", appID, "applied", ts)))
		require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-2", appID, "offer", ts)))
		assert.Equal(t, "offer", currentStage(t, db, appID))
	})

	t.Run("高优先级先到", func(t *testing.T) {
		r, db := newTestReconciler(t)
		ctx := context.Background()
		appID := seedApplication(t, db, "job-1", time.Now())

		require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-1", appID, "offer", ts)))
		require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-2", appID, "applied", ts)))
		assert.Equal(t, "offer", currentStage(t, db, appID))
	})
}

func TestOutcomeEventDedup(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	appID := seedApplication(t, db, "job-1", time.Now())

	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-1", appID, "viewed", t1)))

	// 同一message_id重放：事件数与申请状态都不变
	dup := emailSignal("m-1", appID, "offer", t1.Add(time.Hour))
	require.NoError(t, r.RecordOutcomeEvent(ctx, dup))

	var eventCount int64
	require.NoError(t, db.Model(&models.OutcomeEvent{}).Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
	assert.Equal(t, "viewed", currentStage(t, db, appID))
}

func TestOutcomeEventUnmatchedStillLogged(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	ts := time.Now()
	signal := &types.ParsedEmailSignal{
		GmailMessageID: "m-orphan",
		Classification: "rejected",
		ReceivedAt:     &ts,
	}
	require.NoError(t, r.RecordOutcomeEvent(ctx, signal))

	var count int64
	require.NoError(t, db.Model(&models.OutcomeEvent{}).Where("message_id = ?", "m-orphan").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOutcomeEventUnresolvableMatchKeepsEvent(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	// 上游携带的申请ID在库里不存在：信号降级为未匹配，
	// 事件照常落日志且不报错，消费端得以正常ack
	bogus := uint64(9999)
	ts := time.Now()
	signal := &types.ParsedEmailSignal{
		GmailMessageID:       "m-bogus",
		Classification:       "rejected",
		MatchedApplicationID: &bogus,
		ReceivedAt:           &ts,
	}
	require.NoError(t, r.RecordOutcomeEvent(ctx, signal))

	var eventCount int64
	require.NoError(t, db.Model(&models.OutcomeEvent{}).Where("message_id = ?", "m-bogus").Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)

	var appCount int64
	require.NoError(t, db.Model(&models.Application{}).Count(&appCount).Error)
	assert.Equal(t, int64(0), appCount)
}

func TestOutcomeEventMissingMessageID(t *testing.T) {
	r, _ := newTestReconciler(t)
	err := r.RecordOutcomeEvent(context.Background(), &types.ParsedEmailSignal{Classification: "rejected"})
	assert.ErrorIs(t, err, ErrMissingMessageID)
}

func TestOtherClassificationIsNoOp(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	appID := seedApplication(t, db, "job-1", time.Now())

	ts := time.Now()
	require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-1", appID, "other", ts)))
	assert.Equal(t, "applied", currentStage(t, db, appID))
}

// 自动摄入与人工复核是到达同一状态变更的两条路径，
// 对同样的输入必须收敛到完全一致的申请状态。
func TestTwoPathsConverge(t *testing.T) {
	ts := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)

	// 路径一：自动事件摄入
	r1, db1 := newTestReconciler(t)
	ctx := context.Background()
	appID1 := seedApplication(t, db1, "job-1", time.Now())
	require.NoError(t, r1.RecordOutcomeEvent(ctx, emailSignal("m-1", appID1, "interview_request", ts)))

	// 路径二：落复核日志后人工确认
	r2, db2 := newTestReconciler(t)
	appID2 := seedApplication(t, db2, "job-1", time.Now())
	signal := emailSignal("m-1", appID2, "interview_request", ts)
	signal.NeedsManualReview = true
	signal.MatchedApplicationID = nil
	_, err := r2.RecordParsedEmail(ctx, signal)
	require.NoError(t, err)
	require.NoError(t, r2.ResolveManualReviewEmailMatch(ctx, "m-1", appID2, "interview_request"))

	var app1, app2 models.Application
	require.NoError(t, db1.First(&app1, appID1).Error)
	require.NoError(t, db2.First(&app2, appID2).Error)

	assert.Equal(t, app1.OutcomeStage, app2.OutcomeStage)
	assert.Equal(t, app1.OutcomeEmailMessageID, app2.OutcomeEmailMessageID)
	assert.Equal(t, "interview_request", app2.OutcomeStage)
}

func TestResolveManualReviewSideEffects(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	company := models.Company{Name: "Globex", NameNormalized: "globex"}
	require.NoError(t, db.Create(&company).Error)
	job := models.Job{JobID: "job-1", CompanyID: company.CompanyID, Title: "Backend Engineer"}
	require.NoError(t, db.Create(&job).Error)
	appID := seedApplication(t, db, "job-1", time.Now())

	ts := time.Now().Add(-time.Hour)
	signal := &types.ParsedEmailSignal{
		GmailMessageID:    "m-review",
		FromAddress:       "talent@globex.example",
		Subject:           "Next steps",
		Classification:    "acknowledged",
		Confidence:        0.4,
		NeedsManualReview: true,
		ReceivedAt:        &ts,
	}
	_, err := r.RecordParsedEmail(ctx, signal)
	require.NoError(t, err)

	require.NoError(t, r.ResolveManualReviewEmailMatch(ctx, "m-review", appID, "acknowledged"))

	var email models.EmailParsed
	require.NoError(t, db.Where("gmail_message_id = ?", "m-review").First(&email).Error)
	assert.False(t, email.NeedsManualReview)
	require.NotNil(t, email.ReviewedAt)
	require.NotNil(t, email.CandidateApplicationID)
	assert.Equal(t, appID, *email.CandidateApplicationID)

	// 发件人进入登记表并关联到申请对应的公司，重复确认累加次数
	var sender models.KnownSender
	require.NoError(t, db.Where("email_address = ?", "talent@globex.example").First(&sender).Error)
	assert.Equal(t, 1, sender.ConfirmedCount)
	require.NotNil(t, sender.CompanyID)
	assert.Equal(t, company.CompanyID, *sender.CompanyID)

	require.NoError(t, r.ResolveManualReviewEmailMatch(ctx, "m-review", appID, "acknowledged"))
	require.NoError(t, db.Where("email_address = ?", "talent@globex.example").First(&sender).Error)
	assert.Equal(t, 2, sender.ConfirmedCount)

	assert.Equal(t, "acknowledged", currentStage(t, db, appID))
}

func TestRecordParsedEmailIdempotent(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	ts := time.Now()
	signal := &types.ParsedEmailSignal{GmailMessageID: "m-1", Classification: "viewed", ReceivedAt: &ts}

	inserted, err := r.RecordParsedEmail(ctx, signal)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = r.RecordParsedEmail(ctx, signal)
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	require.NoError(t, db.Model(&models.EmailParsed{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPhoneCallFunnelsThroughSamePrimitive(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	appID := seedApplication(t, db, "job-1", time.Now())

	// 先有一封带出处的邮件信号
	t1 := time.Now().Add(-24 * time.Hour)
	require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-1", appID, "viewed", t1)))

	err := r.RecordPhoneCall(ctx, &types.PhoneCallSignal{
		ApplicationID: &appID,
		CompanyName:   "Acme",
		Outcome:       types.PhoneOutcomeScreeningCall,
		Notes:         "30min screen scheduled",
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, "interview_request", currentStage(t, db, appID))

	// 电话没有邮件出处，不得抹掉先前邮件写下的出处字段
	var app models.Application
	require.NoError(t, db.First(&app, appID).Error)
	assert.Equal(t, "m-1", app.OutcomeEmailMessageID)
	assert.Equal(t, "recruiting@acme.example", app.OutcomeEmailFrom)

	// 电话也进入统一的事件日志
	var eventCount int64
	require.NoError(t, db.Model(&models.OutcomeEvent{}).Where("channel = ?", "phone").Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)

	var callCount int64
	require.NoError(t, db.Model(&models.PhoneCall{}).Count(&callCount).Error)
	assert.Equal(t, int64(1), callCount)
}

func TestPhoneCallUnknownOutcome(t *testing.T) {
	r, _ := newTestReconciler(t)
	err := r.RecordPhoneCall(context.Background(), &types.PhoneCallSignal{
		Outcome:    types.PhoneOutcome("carrier_pigeon"),
		OccurredAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrUnknownPhoneOutcome)
}

func TestGhostPredicate(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	now := time.Now()

	ghosted := seedApplication(t, db, "job-old", now.AddDate(0, 0, -31))
	seedApplication(t, db, "job-recent", now.AddDate(0, 0, -29))

	// 已有回音的申请即使超窗也不算ghost
	answeredID := seedApplication(t, db, "job-answered", now.AddDate(0, 0, -40))
	require.NoError(t, db.Model(&models.Application{}).
		Where("id = ?", answeredID).
		Update("outcome_stage", "rejected").Error)

	apps, err := r.GetGhostedApplications(ctx, now)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, ghosted, apps[0].ID)
}

func TestStageChangedOutboxEnqueue(t *testing.T) {
	db := newTestDB(t)
	r := New(db, nil, Options{
		GhostWindowDays:        30,
		StageChangedExchange:   "outcome.events.exchange",
		StageChangedRoutingKey: "outcome.stage_changed",
	})
	ctx := context.Background()
	appID := seedApplication(t, db, "job-1", time.Now())

	ts := time.Now()
	require.NoError(t, r.RecordOutcomeEvent(ctx, emailSignal("m-1", appID, "offer", ts)))

	var msg models.OutboxMessage
	require.NoError(t, db.Where("aggregate_id = ?", "job-1").First(&msg).Error)
	assert.Equal(t, EventTypeStageChanged, msg.EventType)
	assert.Equal(t, "PENDING", msg.Status)
	assert.Contains(t, msg.Payload, `"to_stage":"offer"`)

	// 被拒绝的迁移不产生事件
	stale := emailSignal("m-2", appID, "applied", ts.Add(-time.Hour))
	require.NoError(t, r.RecordOutcomeEvent(ctx, stale))
	var outboxCount int64
	require.NoError(t, db.Model(&models.OutboxMessage{}).Count(&outboxCount).Error)
	assert.Equal(t, int64(1), outboxCount)
}

func TestSyncState(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	v, err := r.GetSyncState(ctx, "gmail_last_history_id")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, r.SetSyncState(ctx, "gmail_last_history_id", "12345"))
	require.NoError(t, r.SetSyncState(ctx, "gmail_last_history_id", "12399"))

	v, err = r.GetSyncState(ctx, "gmail_last_history_id")
	require.NoError(t, err)
	assert.Equal(t, "12399", v)
}
