package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github-learning-scout/internal/common"
	"github-learning-scout/internal/domain"
)

// 卡片里最多列出的仓库数
const maxDigestItems = 5

// Notifier 把预热结果以飞书卡片推送到群机器人 Webhook
type Notifier struct {
	webhookURL string
	client     *http.Client
	sleep      common.SleepFunc
	logger     *slog.Logger
}

func NewNotifier(webhook string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if webhook == "" {
		logger.Warn("⚠️ 飞书 Webhook 为空，推送功能将无法工作")
	}
	return &Notifier{
		webhookURL: webhook,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// NotifyDigest 发送某个概念的推荐摘要 (Schema 2.0 卡片)
func (n *Notifier) NotifyDigest(ctx context.Context, concept string, suggestions []domain.RepositorySuggestion) error {
	if n.webhookURL == "" {
		return common.NewError(common.ErrCodeInvalidInput, "Webhook URL 为空")
	}
	if len(suggestions) == 0 {
		return nil
	}

	body, err := json.Marshal(buildCard(concept, suggestions))
	if err != nil {
		return common.WrapError(common.ErrCodeInvalidInput, "编码飞书卡片失败", err)
	}

	opts := []common.Option{
		common.WithMaxRetries(3),
		common.WithInitialDelay(500 * time.Millisecond),
	}
	if n.sleep != nil {
		opts = append(opts, common.WithSleep(n.sleep))
	}

	// 发送请求 (带重试机制)
	err = common.Do(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, postErr := n.client.Do(req)
		if postErr != nil {
			return postErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("飞书 API 报错: 状态码 %d", resp.StatusCode)
		}
		return nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}

	n.logger.Info("飞书推送成功", "concept", concept, "count", len(suggestions))
	return nil
}

func buildCard(concept string, suggestions []domain.RepositorySuggestion) map[string]any {
	if len(suggestions) > maxDigestItems {
		suggestions = suggestions[:maxDigestItems]
	}

	var md strings.Builder
	for i, s := range suggestions {
		r := s.Repository
		fmt.Fprintf(&md, "**%d. [%s](%s)**  ⭐ %d  |  **语言:** %s  |  **总分:** %.2f\n",
			i+1, r.FullName, r.URL, r.Stars, orUnknown(r.Language), s.OverallScore())
		if r.Description != "" {
			fmt.Fprintf(&md, "%s\n", r.Description)
		}
		md.WriteString("\n")
	}

	elements := []map[string]any{
		{
			"tag":       "markdown",
			"content":   strings.TrimSpace(md.String()),
			"text_size": "normal",
		},
		{
			"tag": "button",
			"text": map[string]any{
				"tag":     "plain_text",
				"content": "🔗 查看第一名",
			},
			"type": "primary",
			"behaviors": []map[string]any{
				{
					"type":        "open_url",
					"default_url": suggestions[0].Repository.URL,
				},
			},
		},
	}

	return map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"schema": "2.0",
			"config": map[string]any{
				"update_multi": true,
			},
			"header": map[string]any{
				"title": map[string]any{
					"tag":     "plain_text",
					"content": fmt.Sprintf("📚 学习推荐: %s", concept),
				},
				"template": "blue",
			},
			"body": map[string]any{
				"direction": "vertical",
				"elements":  elements,
			},
		},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "未知"
	}
	return s
}
