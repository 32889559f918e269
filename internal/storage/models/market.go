package models

import (
	"time"

	"gorm.io/datatypes"
)

// ResumeVariant 简历原型登记表，每个命名原型一行。
// 保存当前提交的文本哈希、向量与对齐评分，文本快照本体在MinIO中按commit hash存放，
// 使面试/拒绝率可以归因到具体的简历版本。
type ResumeVariant struct {
	ID             uint64   `gorm:"primaryKey;autoIncrement"`
	Archetype      string   `gorm:"type:varchar(100);not null;uniqueIndex:idx_resume_variants_archetype"`
	CommitHash     string   `gorm:"type:varchar(64);not null"`
	TextPathOSS    string   `gorm:"type:varchar(1024)"` // MinIO中文本快照的对象路径
	Embedding      []byte   `gorm:"type:mediumblob"`
	AlignmentScore *float64 `gorm:"type:float"`
	CommittedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (ResumeVariant) TableName() string {
	return "resume_variants"
}

// MarketCentroid 各原型岗位描述向量质心的周期快照，(archetype, window_start) 唯一，冲突时覆盖。
type MarketCentroid struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement"`
	Archetype     string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_market_centroids_archetype_window,priority:1"`
	WindowStart   datatypes.Date `gorm:"not null;uniqueIndex:idx_market_centroids_archetype_window,priority:2"`
	WindowEnd     datatypes.Date
	Centroid      []byte    `gorm:"type:mediumblob;not null"`
	JobCount      int       `gorm:"default:0"`  // 参与计算的岗位数
	ShiftFromPrev *float64  `gorm:"type:float"` // 与上一窗口质心的余弦距离
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (MarketCentroid) TableName() string {
	return "market_centroids"
}

// DriftAlert 市场漂移告警。同 (archetype, alert_type) 在去重窗口内只允许一条未确认告警，
// 由创建路径的时间窗查询保证，不是硬性唯一约束。
type DriftAlert struct {
	ID             uint64  `gorm:"primaryKey;autoIncrement"`
	Archetype      string  `gorm:"type:varchar(100);not null;index:idx_drift_alerts_archetype"`
	AlertType      string  `gorm:"type:varchar(50);not null"` // centroid_shift ...
	Metric         float64 `gorm:"type:float"`
	Threshold      float64 `gorm:"type:float"`
	Message        string  `gorm:"type:text"`
	Acknowledged   bool    `gorm:"default:false;index:idx_drift_alerts_acknowledged"`
	AcknowledgedAt *time.Time
	CreatedAt      time.Time `gorm:"index:idx_drift_alerts_created_at"`
}

func (DriftAlert) TableName() string {
	return "drift_alerts"
}
