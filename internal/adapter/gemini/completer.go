package gemini

import (
	"context"
	"fmt"
	"strings"

	"github-learning-scout/internal/common"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel 未配置模型时使用
const DefaultModel = "gemini-2.5-flash-lite"

// Completer 实现了 port.Completer 接口
type Completer struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewCompleter 创建 Gemini 客户端，modelName 为空时使用 DefaultModel
func NewCompleter(ctx context.Context, apiKey, modelName string) (*Completer, error) {
	if apiKey == "" {
		return nil, common.NewError(common.ErrCodeInvalidInput, "gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, common.WrapError(common.ErrCodeAIProcessing, "create gemini client", err)
	}

	if modelName == "" {
		modelName = DefaultModel
	}
	model := client.GenerativeModel(modelName)
	// 强制要求返回 JSON，降低解析错误的概率
	model.ResponseMIMEType = "application/json"

	return &Completer{
		client: client,
		model:  model,
	}, nil
}

// Complete 发送提示词并返回模型输出的文本
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", common.WrapError(common.ErrCodeAIProcessing, "AI 调用失败", err)
	}
	return responseText(resp)
}

// Close 释放底层连接
func (c *Completer) Close() error {
	return c.client.Close()
}

// responseText 拼接第一个候选中的所有文本片段
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", common.NewError(common.ErrCodeAIProcessing, "AI 返回内容为空")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text, ok := part.(genai.Text)
		if !ok {
			return "", common.NewError(common.ErrCodeAIProcessing, fmt.Sprintf("AI 返回格式错误: %T", part))
		}
		b.WriteString(string(text))
	}
	if b.Len() == 0 {
		return "", common.NewError(common.ErrCodeAIProcessing, "AI 返回内容为空")
	}
	return b.String(), nil
}
