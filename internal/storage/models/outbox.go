package models

import "time"

// OutboxMessage represents a message to be published asynchronously.
// 阶段变更通知与申请行的更新写在同一事务里，由中继轮询发布，避免双写不一致。
type OutboxMessage struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement"`
	AggregateID      string    `gorm:"type:varchar(128);not null;index"` // 申请的外部job_id
	EventType        string    `gorm:"type:varchar(255);not null"`
	Payload          string    `gorm:"type:json;not null"` // Storing as string to handle JSON
	TargetExchange   string    `gorm:"type:varchar(255);not null"`
	TargetRoutingKey string    `gorm:"type:varchar(255);not null"`
	Status           string    `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_outbox_status_created_at"`
	RetryCount       int       `gorm:"default:0"`
	CreatedAt        time.Time `gorm:"index:idx_outbox_status_created_at,sort:asc"`
	ProcessedAt      *time.Time
	ErrorMessage     string `gorm:"type:text"`
}

// TableName specifies the table name for the OutboxMessage model.
func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
