package types

import "time"

// Stage 申请结果阶段（闭集）。
// rejected 与 offer 为终态；ghost 是查询时派生的状态，不作为硬性迁移写入。
type Stage string

const (
	StageApplied          Stage = "applied"
	StageAcknowledged     Stage = "acknowledged"
	StageViewed           Stage = "viewed"
	StageRejected         Stage = "rejected"
	StageInterviewRequest Stage = "interview_request"
	StageOffer            Stage = "offer"
	StageGhost            Stage = "ghost"
	StageOther            Stage = "other" // 无操作的兜底分类
)

// ValidStage 判断给定字符串是否属于阶段闭集。
func ValidStage(s string) bool {
	switch Stage(s) {
	case StageApplied, StageAcknowledged, StageViewed, StageRejected,
		StageInterviewRequest, StageOffer, StageGhost, StageOther:
		return true
	}
	return false
}

// EmailClassification 邮件结果流水线给出的分类，与阶段闭集同词汇。
type EmailClassification string

// PhoneOutcome 电话沟通结果分类。
type PhoneOutcome string

const (
	PhoneOutcomeScreeningCall PhoneOutcome = "screening_call"
	PhoneOutcomeInterview     PhoneOutcome = "interview"
	PhoneOutcomeRejection     PhoneOutcome = "rejection"
	PhoneOutcomeOther         PhoneOutcome = "other"
)

// ParsedEmailSignal Mailbox Sync 协作方产出的已解析邮件信号。
// GmailMessageID 是幂等键：同一邮箱同步重复摄入同一封邮件必须是无操作。
type ParsedEmailSignal struct {
	GmailMessageID       string     `json:"gmail_message_id"` // 必填
	FromAddress          string     `json:"from_address,omitempty"`
	Subject              string     `json:"subject,omitempty"`
	Snippet              string     `json:"snippet,omitempty"`
	Classification       string     `json:"classification"`
	Confidence           float64    `json:"confidence"`
	MatchedApplicationID *uint64    `json:"matched_application_id,omitempty"`
	NeedsManualReview    bool       `json:"needs_manual_review,omitempty"`
	ReceivedAt           *time.Time `json:"received_at,omitempty"`
}

// PhoneCallSignal 人工录入的电话沟通记录。
type PhoneCallSignal struct {
	ApplicationID *uint64      `json:"application_id,omitempty"`
	CompanyName   string       `json:"company_name,omitempty"`
	Outcome       PhoneOutcome `json:"outcome"`
	Notes         string       `json:"notes,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// FunnelRow 漏斗统计的一行聚合结果。
type FunnelRow struct {
	Month         string `json:"month"`          // YYYY-MM
	Archetype     string `json:"archetype"`
	ResumeVariant string `json:"resume_variant"` // resume_commit_hash 归因
	Applied       int64  `json:"applied"`
	Acknowledged  int64  `json:"acknowledged"`
	Viewed        int64  `json:"viewed"`
	Interviews    int64  `json:"interviews"`
	Offers        int64  `json:"offers"`
	Rejections    int64  `json:"rejections"`
}
