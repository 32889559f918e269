package constants

// Redis Key 前缀和格式常量
// 统一命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// OutcomeModulePrefix 结果回流模块
	OutcomeModulePrefix = "outcome"
	// JobModulePrefix 岗位模块
	JobModulePrefix = "job"

	// EntitySeenSet 已处理信号去重集合实体
	EntitySeenSet = "seen_msg"
	// EntityScore 岗位评分实体
	EntityScore = "score"

	// KeySeenMessageSet 已摄入的入站信号message_id集合 (SET)
	// 格式: app:outcome:seen_msg
	// 仅为快速路径，权威去重由 outcome_events.message_id 唯一约束保证
	KeySeenMessageSet = AppPrefix + ":" + OutcomeModulePrefix + ":" + EntitySeenSet

	// KeyJobScore 岗位LLM评分缓存 (STRING, JSON)
	// 格式: app:job:score:{job_id}
	KeyJobScore = AppPrefix + ":" + JobModulePrefix + ":" + EntityScore + ":%s"
)
