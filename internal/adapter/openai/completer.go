package openai

import (
	"context"
	"strings"
	"time"

	"github-learning-scout/internal/common"

	oai "github.com/sashabaranov/go-openai"
)

// DefaultModel 未配置模型时使用
const DefaultModel = "gpt-4o-mini"

const requestTimeout = 120 * time.Second

// Config OpenAI 兼容接口的连接参数
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // optional
}

// Completer 实现了 port.Completer 接口，使用 Chat Completions API
type Completer struct {
	client *oai.Client
	model  string
}

func NewCompleter(cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, common.NewError(common.ErrCodeInvalidInput, "openai api key is required")
	}

	var c *oai.Client
	if cfg.BaseURL != "" {
		cc := oai.DefaultConfig(cfg.APIKey)
		cc.BaseURL = cfg.BaseURL
		c = oai.NewClientWithConfig(cc)
	} else {
		c = oai.NewClient(cfg.APIKey)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Completer{client: c, model: model}, nil
}

// Complete 以单条 user 消息请求补全，要求模型输出 JSON 对象
func (o *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	// Default timeout guard, if caller didn't set one
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	resp, err := o.client.CreateChatCompletion(ctx, oai.ChatCompletionRequest{
		Model: o.model,
		Messages: []oai.ChatCompletionMessage{
			{Role: oai.ChatMessageRoleSystem, Content: "You are a senior engineer designing study plans. Reply with a single JSON object."},
			{Role: oai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &oai.ChatCompletionResponseFormat{Type: oai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.4,
	})
	if err != nil {
		return "", common.WrapError(common.ErrCodeAIProcessing, "openai completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", common.NewError(common.ErrCodeAIProcessing, "openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
