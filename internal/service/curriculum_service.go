package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github-learning-scout/internal/common"
	"github-learning-scout/internal/domain"
	"github-learning-scout/internal/port"
)

// CurriculumService 把推荐仓库编排成一条学习路线
type CurriculumService struct {
	completer port.Completer
	logger    *slog.Logger
}

func NewCurriculumService(completer port.Completer, logger *slog.Logger) *CurriculumService {
	if logger == nil {
		logger = common.DiscardLogger()
	}
	return &CurriculumService{
		completer: completer,
		logger:    logger,
	}
}

// Generate 根据排好序的推荐请求大模型生成学习路线
// 回复中引用了未推荐仓库的步骤会被丢弃，剩余步骤重新编号为 1..n
func (s *CurriculumService) Generate(ctx context.Context, concept string, suggestions []domain.RepositorySuggestion) (domain.Curriculum, error) {
	concept = strings.TrimSpace(concept)
	if concept == "" {
		return domain.Curriculum{}, common.NewError(common.ErrCodeInvalidInput, "concept must not be empty")
	}
	if len(suggestions) == 0 {
		return domain.Curriculum{}, common.NewError(common.ErrCodeInvalidInput, "no repositories to build a curriculum from")
	}

	raw, err := s.completer.Complete(ctx, buildCurriculumPrompt(concept, suggestions))
	if err != nil {
		return domain.Curriculum{}, err
	}

	parsed, err := parseCurriculum(raw)
	if err != nil {
		s.logger.Warn("无法解析 AI 返回的学习路线", "concept", concept, "error", err)
		return domain.Curriculum{}, err
	}

	known := make(map[string]string, len(suggestions))
	for _, sg := range suggestions {
		known[strings.ToLower(sg.Repository.FullName)] = sg.Repository.FullName
	}

	curriculum := domain.Curriculum{Concept: concept, Summary: strings.TrimSpace(parsed.Summary)}
	for _, step := range parsed.Steps {
		fullName, ok := known[strings.ToLower(strings.TrimSpace(step.Repository))]
		if !ok {
			s.logger.Debug("丢弃未知仓库的步骤", "repository", step.Repository)
			continue
		}
		step.Repository = fullName
		step.Order = len(curriculum.Steps) + 1
		curriculum.Steps = append(curriculum.Steps, step)
	}

	if len(curriculum.Steps) == 0 {
		return domain.Curriculum{}, common.NewError(common.ErrCodeAIProcessing, "AI 返回的学习路线没有可用步骤")
	}
	return curriculum, nil
}

func buildCurriculumPrompt(concept string, suggestions []domain.RepositorySuggestion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A developer wants to learn: %q.\n", concept)
	b.WriteString("Arrange the following GitHub repositories into an ordered study plan, from fundamentals to advanced.\n\n")
	for i, sg := range suggestions {
		r := sg.Repository
		fmt.Fprintf(&b, "%d. %s (%s, %d stars, score %.2f)\n   %s\n", i+1, r.FullName, orDash(r.Language), r.Stars, sg.OverallScore(), orDash(r.Description))
	}
	b.WriteString(`
Reply with JSON only, no Markdown, using exactly this shape:
{"summary": "...", "steps": [{"title": "...", "repository": "owner/name", "focus": "...", "rationale": "..."}]}
Only use repositories from the list above.
`)
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type curriculumReply struct {
	Summary string                  `json:"summary"`
	Steps   []domain.CurriculumStep `json:"steps"`
}

// parseCurriculum 从回复里抠出最外层的 { ... } 再解码
// 模型偶尔会返回 "```json { ... } ```" 或前后带说明文字
func parseCurriculum(content string) (*curriculumReply, error) {
	jsonStr, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	var reply curriculumReply
	if err := json.Unmarshal([]byte(jsonStr), &reply); err != nil {
		return nil, common.WrapError(common.ErrCodeAIProcessing, "JSON 解析失败", err)
	}
	return &reply, nil
}

func extractJSON(content string) (string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return "", common.NewError(common.ErrCodeAIProcessing, "AI 未返回有效的 JSON")
	}
	return content[start : end+1], nil
}
