package outcome

import (
	"time"

	"job-agent-go/internal/types"
)

// stagePriority 平局裁决用的阶段优先级。仅在两个信号时间戳完全相同
// （或新信号无时间戳）时参与比较；时间上严格更新的信号总是覆盖当前阶段，
// 即使目标阶段优先级更低（先发offer后撤回是真实存在的）。
// acknowledged/viewed 落在 applied 与 rejected 之间；ghost 为派生态，
// 与 applied 同级。
var stagePriority = map[types.Stage]int{
	types.StageApplied:          0,
	types.StageOther:            0,
	types.StageGhost:            0,
	types.StageAcknowledged:     1,
	types.StageViewed:           2,
	types.StageRejected:         3,
	types.StageInterviewRequest: 4,
	types.StageOffer:            5,
}

// ClassificationToStage 邮件分类到结果阶段的静态映射。
// 自动事件摄入与人工复核确认两条路径都必须经过这张表，
// 保证两条路径对同样的输入收敛到完全相同的申请状态。
func ClassificationToStage(c types.EmailClassification) (types.Stage, bool) {
	switch types.Stage(c) {
	case types.StageApplied:
		return types.StageApplied, true
	case types.StageAcknowledged:
		return types.StageAcknowledged, true
	case types.StageViewed:
		return types.StageViewed, true
	case types.StageRejected:
		return types.StageRejected, true
	case types.StageInterviewRequest:
		return types.StageInterviewRequest, true
	case types.StageOffer:
		return types.StageOffer, true
	case types.StageGhost:
		return types.StageGhost, true
	case types.StageOther:
		return types.StageOther, true
	}
	return "", false
}

// PhoneOutcomeToStage 电话沟通结果到阶段词汇的映射。
// 电话路径与邮件路径共用同一个申请状态更新原语。
func PhoneOutcomeToStage(o types.PhoneOutcome) (types.Stage, bool) {
	switch o {
	case types.PhoneOutcomeScreeningCall:
		return types.StageInterviewRequest, true
	case types.PhoneOutcomeInterview:
		return types.StageInterviewRequest, true
	case types.PhoneOutcomeRejection:
		return types.StageRejected, true
	case types.PhoneOutcomeOther:
		return types.StageOther, true
	}
	return "", false
}

// shouldUpdateOutcome 状态机的迁移裁决。
// 规则:
//  1. 当前没有任何已记录的信号时间 → 新信号直接接受；
//  2. 新信号无时间戳 → 退化为纯优先级比较；
//  3. 新信号时间严格更新 → 总是接受（时间序压倒优先级）；
//  4. 新信号时间严格更旧 → 总是拒绝（陈旧信号不得覆盖现状）；
//  5. 时间戳完全相同 → 新优先级 >= 当前优先级才接受。
func shouldUpdateOutcome(currentStage types.Stage, currentAt *time.Time, newStage types.Stage, newAt *time.Time) bool {
	if currentAt == nil {
		return true
	}
	if newAt == nil {
		return stagePriority[newStage] >= stagePriority[currentStage]
	}
	if newAt.After(*currentAt) {
		return true
	}
	if newAt.Before(*currentAt) {
		return false
	}
	return stagePriority[newStage] >= stagePriority[currentStage]
}
