package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Company 公司主表。name 大小写不敏感唯一，靠 name_normalized 上的唯一索引保证。
// 首次被岗位引用时惰性创建。
type Company struct {
	CompanyID      uint64    `gorm:"primaryKey;autoIncrement"`
	Name           string    `gorm:"type:varchar(255);not null"`
	NameNormalized string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_companies_name_normalized"` // 小写折叠后的名称
	Website        string    `gorm:"type:varchar(512)"`
	Description    string    `gorm:"type:text"`
	CompanyType    string    `gorm:"type:varchar(100)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (Company) TableName() string {
	return "companies"
}

// Job 岗位信息表。job_id 为外部来源的去重键，全局唯一。
// 状态迁移单调 (DISCOVERED → APPLIED | APP_ERROR)，仅 APP_ERROR 允许重试回 APPLIED。
// 岗位一经创建永不删除。
type Job struct {
	ID                     uint64         `gorm:"primaryKey;autoIncrement"`
	JobID                  string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_jobs_job_id"` // 外部岗位ID
	CompanyID              uint64         `gorm:"not null;index:idx_jobs_company_id"`
	Title                  string         `gorm:"type:varchar(512);not null"`
	Description            string         `gorm:"type:text"`
	URL                    string         `gorm:"type:varchar(1024)"`
	SourceBoard            string         `gorm:"type:varchar(100)"`
	QuickApply             bool           `gorm:"default:false"`
	Status                 string         `gorm:"type:varchar(20);default:'DISCOVERED';index:idx_jobs_status"`
	Score                  *int           `gorm:"type:int;index:idx_jobs_score"` // 0-100，来自内容生成协作方
	Recommendation         string         `gorm:"type:varchar(50)"`
	JobClassification      string         `gorm:"type:varchar(100)"`
	ResumeArchetype        string         `gorm:"type:varchar(100);index:idx_jobs_resume_archetype"`
	TechStackTags          datatypes.JSON `gorm:"type:json"`
	SeniorityLevel         string         `gorm:"type:varchar(50)"`
	Embedding              []byte         `gorm:"type:mediumblob"` // 序列化后的岗位描述向量
	MarketIntelligenceOnly bool           `gorm:"default:false"`   // 仅追踪市场信号，不进入自动投递队列
	SelectionNeedsReview   bool           `gorm:"default:false"`   // 边界样本，等待人工复核
	LastError              string         `gorm:"type:text"`       // 最近一次投递失败详情
	CreatedAt              time.Time      `gorm:"index:idx_jobs_created_at"`
	UpdatedAt              time.Time      `gorm:"autoUpdateTime"`

	Company *Company `gorm:"foreignKey:CompanyID;references:CompanyID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (Job) TableName() string {
	return "jobs"
}

// Application 申请快照表，job_id 唯一。重复投递同一岗位走upsert覆盖而非新增行，
// 因此浏览器崩溃后重试投递是安全的。除结果子记录外，其余字段在冲突时整体覆盖。
// 时间列不固定方言类型，由GORM按方言映射（MySQL datetime / sqlite datetime）。
type Application struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`
	JobID       string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_applications_job_id"` // 外部岗位ID，upsert键
	CompanyName string         `gorm:"type:varchar(255)"`
	Title       string         `gorm:"type:varchar(512)"`
	Description string         `gorm:"type:text"` // 投递时点的JD快照
	TechStack   datatypes.JSON `gorm:"type:json"`
	DateApplied time.Time      `gorm:"index:idx_applications_date_applied"`

	// 归因字段：记录实际发出的简历版本，后续用于按简历版本统计结果率
	ResumeVariantSent  string         `gorm:"type:varchar(100);index:idx_applications_resume_variant"`
	ResumeCommitHash   string         `gorm:"type:varchar(64)"`
	ApplicationBatchID *string        `gorm:"type:char(36);index:idx_applications_batch_id"`
	ProfileState       datatypes.JSON `gorm:"type:json"`

	// 结果子记录：只允许经由结果回流层的单一更新原语变更
	OutcomeStage           string   `gorm:"type:varchar(32);default:'applied';index:idx_applications_outcome_stage"`
	OutcomeConfidence      *float64 `gorm:"type:float"`
	OutcomeEmailMessageID  string   `gorm:"type:varchar(255)"`
	OutcomeEmailFrom       string   `gorm:"type:varchar(255)"`
	OutcomeEmailSubject    string   `gorm:"type:varchar(512)"`
	OutcomeEmailReceivedAt *time.Time
	OutcomeDate            *datatypes.Date

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Application) TableName() string {
	return "applications"
}

// ApplicationBatch 投递批次表。一次自动投递运行共享同一份简历/档案状态，
// 用批次把申请归并起来做归因。finalize 幂等：重复调用覆盖终止时间与计数。
type ApplicationBatch struct {
	BatchID          string         `gorm:"type:char(36);primaryKey"`
	ResumeVariant    string         `gorm:"type:varchar(100)"`
	ResumeCommitHash string         `gorm:"type:varchar(64)"`
	ProfileState     datatypes.JSON `gorm:"type:json"`
	StartedAt        time.Time
	FinishedAt       *time.Time
	FinalCount       *int `gorm:"type:int"`
	CreatedAt        time.Time
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (ApplicationBatch) TableName() string {
	return "application_batches"
}

// FloatsToBlob 将向量序列化为存储用的字节串
func FloatsToBlob(vec []float64) ([]byte, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("序列化向量失败: %w", err)
	}
	return data, nil
}

// BlobToFloats 从存储字节串还原向量
func BlobToFloats(data []byte) ([]float64, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("反序列化向量失败: %w", err)
	}
	return vec, nil
}

// StringsToJSON Helper function to convert []string to datatypes.JSON
func StringsToJSON(items []string) (datatypes.JSON, error) {
	if items == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// MapToJSON Helper function to convert map[string]any to datatypes.JSON
func MapToJSON(m map[string]any) (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}
