package scorer

import (
	"context"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockChatModel model.ToolCallingChatModel 的本地实现，返回预设响应。
// 未配置真实LLM端点时作为回退，测试中也用它注入确定性输出。
type MockChatModel struct {
	Response   string
	Err        error
	CallCount  int
	boundTools []*schema.ToolInfo
}

// Generate 实现model.ChatModel接口
func (m *MockChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	m.CallCount++
	if m.Err != nil {
		return nil, m.Err
	}
	return &schema.Message{
		Role:    "assistant",
		Content: m.Response,
	}, nil
}

// Stream 实现model.ChatModel接口
func (m *MockChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

// BindTools 实现model.ChatModel接口
func (m *MockChatModel) BindTools(tools []*schema.ToolInfo) error {
	m.boundTools = tools
	log.Printf("[MockChatModel] BindTools called with %d tools.", len(tools))
	return nil
}

// WithTools 实现 model.ToolCallingChatModel 接口
func (m *MockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if err := m.BindTools(tools); err != nil {
		return nil, err
	}
	return m, nil
}
