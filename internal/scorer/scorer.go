package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"job-agent-go/internal/constants"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/types"
)

// LLMJobScorer 封装LLM客户端与Prompt逻辑，对单个岗位描述产出结构化分析。
// 评分结果按job_id缓存在Redis，同一岗位重复评估直接命中缓存。
type LLMJobScorer struct {
	llmModel       model.ToolCallingChatModel
	promptTemplate string
	resumeText     string // 当前简历文本，作为评分基准
	redis          *storage.Redis
	cacheExpire    time.Duration
	logger         *log.Logger
}

// LLMJobScorerOption 评分器的配置选项
type LLMJobScorerOption func(*LLMJobScorer)

// WithCustomPromptTemplate 设置自定义提示词模板
func WithCustomPromptTemplate(template string) LLMJobScorerOption {
	return func(s *LLMJobScorer) {
		s.promptTemplate = template
	}
}

// WithRedisCache 启用Redis评分缓存。expire<=0 时使用默认过期时间。
func WithRedisCache(redis *storage.Redis, expire time.Duration) LLMJobScorerOption {
	return func(s *LLMJobScorer) {
		s.redis = redis
		if expire > 0 {
			s.cacheExpire = expire
		}
	}
}

// NewLLMJobScorer 创建评分器实例
func NewLLMJobScorer(llmModel model.ToolCallingChatModel, resumeText string, logger *log.Logger, options ...LLMJobScorerOption) *LLMJobScorer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	scorer := &LLMJobScorer{
		llmModel:    llmModel,
		resumeText:  resumeText,
		logger:      logger,
		cacheExpire: constants.DefaultJobScoreExpire,
	}
	scorer.generatePromptTemplate()

	for _, opt := range options {
		opt(scorer)
	}
	return scorer
}

func (s *LLMJobScorer) generatePromptTemplate() {
	s.promptTemplate = `你是一位极其资深的AI求职顾问，具备精准识别人岗匹配度的火眼金睛。你的核心任务是基于下面提供的【岗位描述】和【求职者简历】，进行深度对比分析，并严格按照指定的JSON格式输出有区分度的岗位评估。

**请严格遵循以下JSON输出格式规范：**
1.  **"score"**: 整数 (0-100)，反映该岗位与求职者的整体匹配程度。
2.  **"recommendation"**: 字符串，取值为 "apply" / "skip" / "review" 之一。
3.  **"tech_keywords"**: 字符串数组 (建议3-8项)，岗位描述中出现的核心技术栈关键词。
4.  **"archetype_primary"**: 字符串，该岗位最适合投递的简历原型名称 (例如 "backend" / "platform" / "data")。
5.  **"seniority_level"**: 字符串，岗位的资历级别 (例如 "junior" / "mid" / "senior" / "staff")。
6.  **"job_classification"**: 字符串，岗位的职能分类。
7.  **"market_intelligence_only"**: 布尔值，岗位明显不适合投递但其技术栈信号值得追踪时为true。
8.  **"selection_needs_review"**: 布尔值，评估结论处于边界、建议人工复核时为true。

**JSON格式细节要求：**
- 完整输出必须是一个合法的JSON对象。
- 所有字段名和字符串值都必须使用双引号。
- 字符串值内部如果包含双引号(")，必须使用反斜杠(\\")进行转义。
- 禁止在JSON结构之外输出任何额外文本、解释或Markdown标记。

**评分核心原则（请务必严格遵守）：**

*   **一票否决项 (若不满足，score 通常应低于40分)：**
    *   【岗位描述】中明确的硬性学历/工作许可要求，而简历完全不符。
    *   【岗位描述】中明确声明的"必须具备/精通"的核心技术，而简历完全缺失。
*   **高权重因素：** 核心技能匹配度、相关项目经验的直接相关性与年限、岗位职责契合度。
*   **中权重因素：** "熟悉"、"了解"级别技能的掌握情况、行业背景。
*   **低权重/加分项：** 名企背景、与岗位相关的证书与开源贡献。

**评分参考区间：**
- 85-100分: 高度匹配，强烈建议投递 (recommendation="apply")。
- 60-84分: 良好匹配，值得投递。
- 40-59分: 边界样本，建议人工复核 (selection_needs_review=true)。
- 0-39分: 基本不匹配 (recommendation="skip")。

【岗位描述】:
"""
%s
"""

【求职者简历】:
"""
%s
"""

请基于以上所有指令，仔细评估并输出JSON结果。`
}

// Score 对单个岗位产出结构化分析。缓存命中时不触发LLM调用。
func (s *LLMJobScorer) Score(ctx context.Context, job *types.ScrapedJob) (*types.JobAnalysis, error) {
	if job == nil || job.JobID == "" {
		return nil, fmt.Errorf("LLMJobScorer: 岗位记录缺少job_id")
	}
	if s.llmModel == nil {
		return nil, fmt.Errorf("LLMJobScorer: llmModel is not initialized")
	}

	if s.redis != nil {
		var cached types.JobAnalysis
		if err := s.redis.GetJobScore(ctx, job.JobID, &cached); err == nil {
			return &cached, nil
		}
	}

	userMsgContent := fmt.Sprintf(s.promptTemplate, job.Description, s.resumeText)
	systemMsg := einoschema.SystemMessage("你是一位资深的AI求职助手，专注于分析岗位描述与求职者简历的匹配度。")
	userMsg := einoschema.UserMessage(userMsgContent)

	s.logger.Printf("[LLMJobScorer] Job %s prompt (first 300 chars): %.300s", job.JobID, job.Description)

	response, err := s.llmModel.Generate(ctx, []*einoschema.Message{systemMsg, userMsg})
	if err != nil {
		s.logger.Printf("[LLMJobScorer] LLM call error: %v", err)
		return nil, fmt.Errorf("LLMJobScorer: LLM call failed: %w", err)
	}
	if response == nil || response.Content == "" {
		return nil, fmt.Errorf("LLMJobScorer: LLM returned empty response")
	}

	processedContent := strings.TrimPrefix(response.Content, "\uFEFF")

	jsonStr := extractJSONFromScorerResponse(processedContent)
	if jsonStr == "" {
		return nil, fmt.Errorf("LLMJobScorer: failed to extract JSON from LLM response. Content: %s", processedContent)
	}
	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var analysis types.JobAnalysis
	if err := json.Unmarshal([]byte(jsonStr), &analysis); err != nil {
		// 解析失败 -> 自动修复再试一次
		fixedJsonStr := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixedJsonStr), &analysis); jsonErr != nil {
			return nil, fmt.Errorf("LLMJobScorer: failed to unmarshal LLM JSON response after sanitization. Original error: %w. Sanitization error: %v. JSON: %s", err, jsonErr, jsonStr)
		}
	}

	if err := validateAnalysis(&analysis); err != nil {
		return nil, fmt.Errorf("LLMJobScorer: invalid analysis result: %w", err)
	}

	if s.redis != nil {
		if cacheErr := s.redis.SetJobScore(ctx, job.JobID, &analysis, s.cacheExpire); cacheErr != nil {
			s.logger.Printf("[LLMJobScorer] Failed to cache score for job %s: %v", job.JobID, cacheErr)
		}
	}
	return &analysis, nil
}

// validateAnalysis 验证LLM产出是否符合约定
func validateAnalysis(analysis *types.JobAnalysis) error {
	if analysis.Score < 0 || analysis.Score > 100 {
		return fmt.Errorf("score must be between 0 and 100, got %d", analysis.Score)
	}
	switch analysis.Recommendation {
	case "", "apply", "skip", "review":
	default:
		return fmt.Errorf("unknown recommendation: %s", analysis.Recommendation)
	}
	return nil
}

// extractJSONFromScorerResponse 从文本中提取首个配平的JSON对象
func extractJSONFromScorerResponse(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	for i := start; i < len(text); i++ {
		if text[i] == '{' {
			level++
		} else if text[i] == '}' {
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeJSON 会遍历 src，将任何位于字符串字面量内部但并非"真正结束"的双引号写成 \"，
// 以保证整个 JSON 在 Go 端能够正常反序列化。
// 它通过检查下一个非空白字符是否为 :, ], }, 或 , 来判断该 " 是否为字符串的结束。
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if c == '"' && !escaped {
			if !inStr {
				inStr = true
				b.WriteByte(c)
			} else {
				j := i + 1
				for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
					j++
				}
				if j < len(src) && (src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}') {
					inStr = false
					b.WriteByte(c)
				} else {
					b.WriteString("\\\"")
				}
			}
			escaped = false

		} else if c == '\\' && !escaped {
			escaped = true
			b.WriteByte(c)

		} else {
			b.WriteByte(c)
			escaped = false
		}
	}

	return b.String()
}
