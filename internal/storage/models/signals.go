package models

import "time"

// OutcomeEvent 入站信号的只追加日志。message_id 唯一保证至多一次摄入；
// 无论是否成功匹配到申请，事件都先落日志。插入后永不修改。
type OutcomeEvent struct {
	ID                   uint64  `gorm:"primaryKey;autoIncrement"`
	MessageID            string  `gorm:"type:varchar(255);not null;uniqueIndex:idx_outcome_events_message_id"` // 自然幂等键
	Channel              string  `gorm:"type:varchar(20);not null"`                                            // email / phone
	Classification       string  `gorm:"type:varchar(50)"`
	Stage                string  `gorm:"type:varchar(32)"` // 分类映射出的目标阶段
	Confidence           float64 `gorm:"type:float"`
	MatchedApplicationID *uint64 `gorm:"index:idx_outcome_events_matched_app"`
	FromAddress          string  `gorm:"type:varchar(255)"`
	Subject              string  `gorm:"type:varchar(512)"`
	RawSnippet           string  `gorm:"type:text"`
	ReceivedAt           *time.Time
	CreatedAt            time.Time
}

func (OutcomeEvent) TableName() string {
	return "outcome_events"
}

// EmailParsed 结果流水线分类过的每封邮件的只追加日志。
// gmail_message_id 唯一，重放同一次邮箱同步是幂等的。
// 低置信匹配打上人工复核标记，等待 resolve。
type EmailParsed struct {
	ID                     uint64  `gorm:"primaryKey;autoIncrement"`
	GmailMessageID         string  `gorm:"type:varchar(255);not null;uniqueIndex:idx_emails_parsed_gmail_message_id"`
	FromAddress            string  `gorm:"type:varchar(255);index:idx_emails_parsed_from_address"`
	Subject                string  `gorm:"type:varchar(512)"`
	Snippet                string  `gorm:"type:text"`
	Classification         string  `gorm:"type:varchar(50)"`
	Confidence             float64 `gorm:"type:float"`
	CandidateApplicationID *uint64 `gorm:""`
	NeedsManualReview      bool    `gorm:"default:false;index:idx_emails_parsed_needs_review"`
	ReviewedAt             *time.Time
	ReceivedAt             *time.Time
	CreatedAt              time.Time
}

func (EmailParsed) TableName() string {
	return "emails_parsed"
}

// KnownSender 发件人登记表，从人工确认的匹配中逐步积累，
// 用于让后续同发件人的邮件跳过人工复核。
type KnownSender struct {
	ID             uint64  `gorm:"primaryKey;autoIncrement"`
	EmailAddress   string  `gorm:"type:varchar(255);not null;uniqueIndex:idx_known_senders_email"`
	CompanyID      *uint64 `gorm:"index:idx_known_senders_company_id"`
	SenderType     string  `gorm:"type:varchar(50)"` // ats / recruiter / noreply ...
	ConfirmedCount int     `gorm:"default:0"`        // 被人工确认的次数
	LastSeenAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (KnownSender) TableName() string {
	return "known_senders"
}

// PhoneCall 电话沟通日志。映射出的阶段同样经由统一的结果更新原语写入申请行。
type PhoneCall struct {
	ID            uint64  `gorm:"primaryKey;autoIncrement"`
	ApplicationID *uint64 `gorm:"index:idx_phone_calls_application_id"`
	CompanyName   string  `gorm:"type:varchar(255)"`
	Outcome       string  `gorm:"type:varchar(30);not null"` // screening_call / interview / rejection / other
	Stage         string  `gorm:"type:varchar(32)"`          // 映射出的目标阶段
	Notes         string  `gorm:"type:text"`
	OccurredAt    time.Time
	CreatedAt     time.Time
}

func (PhoneCall) TableName() string {
	return "phone_calls"
}

// SyncState 外部同步游标（例如邮箱同步的 last_history_id），key-value upsert。
type SyncState struct {
	Key       string    `gorm:"type:varchar(100);primaryKey"`
	Value     string    `gorm:"type:varchar(255);not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (SyncState) TableName() string {
	return "sync_state"
}
