package constants

import "time"

const (
	// 应用级常量
	DefaultSourceChannel = "scraper" // 未指定来源渠道时的默认渠道

	// Ghost判定窗口：投递后超过该天数且始终停留在 applied 阶段的申请视为"已读不回"
	DefaultGhostWindowDays = 30

	// 漂移告警去重窗口：窗口内已存在同 (archetype, alert_type) 的未确认告警时不再新建
	DefaultDriftAlertDedupWindow = 7 * 24 * time.Hour

	// 入站信号message_id在Redis快速去重集合中的过期时间
	SeenMessageExpire = 90 * 24 * time.Hour

	// 岗位评分缓存过期时间：岗位描述基本不变，缓存期内重复评估直接命中
	DefaultJobScoreExpire = 14 * 24 * time.Hour
)
