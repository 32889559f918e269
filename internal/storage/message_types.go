package storage

import "time"

// EmailSignalMessage 邮件信号消息，由邮箱抓取端发布到 signal.events 交换机。
// MessageID 即 Gmail 消息ID，作为全链路的幂等键。
type EmailSignalMessage struct {
	MessageID      string     `json:"message_id"`
	FromAddress    string     `json:"from_address"`
	Subject        string     `json:"subject"`
	Snippet        string     `json:"snippet,omitempty"`
	Classification string     `json:"classification"`
	Confidence     float64    `json:"confidence"`
	ApplicationID  *uint64    `json:"application_id,omitempty"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
}

// StageChangedMessage 投递结果阶段变更事件，经Outbox中继发布。
type StageChangedMessage struct {
	ApplicationID uint64    `json:"application_id"`
	JobID         string    `json:"job_id"`
	FromStage     string    `json:"from_stage"`
	ToStage       string    `json:"to_stage"`
	Channel       string    `json:"channel"`
	OccurredAt    time.Time `json:"occurred_at"`
}
