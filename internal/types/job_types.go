package types

// JobStatus 岗位状态（闭集）。状态迁移单调，唯一例外是 APP_ERROR 可以重试回 APPLIED。
type JobStatus string

const (
	JobStatusDiscovered JobStatus = "DISCOVERED" // 已发现，待投递
	JobStatusApplied    JobStatus = "APPLIED"    // 已投递
	JobStatusAppError   JobStatus = "APP_ERROR"  // 投递失败，可重试
)

// SubmissionStatus 表单自动化协作方上报的单次投递终态。
// 核心只负责落库，不关心该状态如何产生。
type SubmissionStatus string

const (
	SubmissionApplied        SubmissionStatus = "APPLIED"
	SubmissionAppError       SubmissionStatus = "APP_ERROR"
	SubmissionAlreadyApplied SubmissionStatus = "ALREADY_APPLIED"
	SubmissionUncertain      SubmissionStatus = "UNCERTAIN"
)

// JobAnalysis 内容生成协作方对单个岗位的结构化分析结果。
// 核心将这些值视为不透明数据持久化，除类型转换外不做校验。
type JobAnalysis struct {
	Score                  int      `json:"score"`                             // 0-100 匹配度评分
	Recommendation         string   `json:"recommendation,omitempty"`          // 推荐结论
	TechKeywords           []string `json:"tech_keywords,omitempty"`           // 技术栈关键词
	ArchetypePrimary       string   `json:"archetype_primary,omitempty"`       // 主简历原型
	SeniorityLevel         string   `json:"seniority_level,omitempty"`         // 资历级别
	JobClassification      string   `json:"job_classification,omitempty"`      // 岗位分类
	MarketIntelligenceOnly bool     `json:"market_intelligence_only,omitempty"` // 仅用于市场信号，不进入自动投递队列
	SelectionNeedsReview   bool     `json:"selection_needs_review,omitempty"`  // 边界样本，需要人工复核
	Embedding              []float64 `json:"embedding,omitempty"`              // 岗位描述向量
}

// ScrapedJob Listing Source 协作方产出的原始岗位记录。
type ScrapedJob struct {
	JobID       string       `json:"job_id"` // 外部岗位ID，去重键，必填
	Title       string       `json:"title"`
	Company     string       `json:"company"`
	Description string       `json:"description"`
	URL         string       `json:"url,omitempty"`
	SourceBoard string       `json:"source_board,omitempty"`
	QuickApply  bool         `json:"quick_apply"`
	Analysis    *JobAnalysis `json:"analysis,omitempty"`
}

// BatchInsertResult 批量摄入的聚合计数。
// 单条失败不会中断整批，调用方始终能看到部分进度。
type BatchInsertResult struct {
	NewJobs    int `json:"new_jobs"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// SubmissionResult 表单自动化协作方上报的投递结果。
type SubmissionResult struct {
	JobID            string           `json:"job_id"` // 必填
	Status           SubmissionStatus `json:"status"`
	BatchID          string           `json:"batch_id,omitempty"`
	ResumeVariant    string           `json:"resume_variant,omitempty"`
	ResumeCommitHash string           `json:"resume_commit_hash,omitempty"`
	ProfileState     map[string]any   `json:"profile_state,omitempty"` // 投递时的档案快照
	ErrorDetail      string           `json:"error_detail,omitempty"`
}
