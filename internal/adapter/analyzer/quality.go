package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github-learning-scout/internal/adapter/cache"
	"github-learning-scout/internal/common"
	"github-learning-scout/internal/domain"
	"github-learning-scout/internal/port"
)

// QualityTTL 质量分及各子分数的缓存时间
const QualityTTL = 2 * time.Hour

const (
	subReadme        = "readme"
	subDocumentation = "documentation"
	subCodeStructure = "code_structure"
	subActivity      = "activity"
	subCommunity     = "community"
)

var (
	markdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)

	installHints = []string{"install", "setup", "getting started", "quick start", "quickstart"}
	exampleHints = []string{"example", "usage"}

	docDirs  = map[string]bool{"docs": true, "documentation": true, "wiki": true, "examples": true, "tutorials": true}
	docFiles = map[string]bool{"contributing.md": true, "changelog.md": true, "api.md": true, "guide.md": true}

	structureWeights = map[string]float64{
		"src": 0.2, "lib": 0.2, "app": 0.2,
		"tests": 0.2, "test": 0.2, "__tests__": 0.2,
		"config": 0.1, "scripts": 0.1,
		"package.json": 0.1, "requirements.txt": 0.1, "setup.py": 0.1, "pyproject.toml": 0.1,
		"go.mod": 0.1, "cargo.toml": 0.1, "pom.xml": 0.1, "build.gradle": 0.1,
		"gemfile": 0.1, "composer.json": 0.1, "makefile": 0.1,
		"dockerfile": 0.1, "docker-compose.yml": 0.1, "docker-compose.yaml": 0.1,
	}
)

// QualityAnalyzer 实现了 port.QualityAnalyzer 接口
// 每个子分数单独缓存，只在未命中时才去 GitHub 拉取内容
type QualityAnalyzer struct {
	fetcher port.ContentFetcher
	cache   port.Cache
	weights domain.QualityWeights
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewQualityAnalyzer 创建分析器；c 为 nil 时不缓存
func NewQualityAnalyzer(fetcher port.ContentFetcher, c port.Cache, logger *slog.Logger) *QualityAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &QualityAnalyzer{
		fetcher: fetcher,
		cache:   c,
		weights: domain.DefaultQualityWeights,
		logger:  logger,
		nowFunc: time.Now, // 便于测试注入当前时间
	}
}

// SetWeights 调整总分权重
func (a *QualityAnalyzer) SetWeights(w domain.QualityWeights) {
	a.weights = w
}

// Analyze 计算仓库质量分
// 任一子分数计算失败时整体返回全 0.5 的中性结果和错误，中性结果不写缓存
func (a *QualityAnalyzer) Analyze(ctx context.Context, repo domain.Repository) (domain.RepositoryQuality, error) {
	full := repo.FullName
	if full == "" {
		full = repo.Owner + "/" + repo.Name
	}

	var cached domain.RepositoryQuality
	if a.cache != nil && a.cache.Get(ctx, cache.NamespaceRepoQuality, full, &cached) {
		return cached, nil
	}

	q, err := a.compute(ctx, repo, full)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.NeutralQuality(a.weights), ctxErr
		}
		a.logger.Warn("quality analysis failed, using neutral scores", "repo", full, "error", err)
		return domain.NeutralQuality(a.weights), common.WrapError(common.ErrCodeAnalysisFailure, "analyze "+full, err)
	}

	if a.cache != nil {
		a.cache.Set(ctx, cache.NamespaceRepoQuality, full, q, QualityTTL)
	}
	return q, nil
}

// Invalidate 清除仓库的质量缓存，返回删除的键数
func (a *QualityAnalyzer) Invalidate(ctx context.Context, fullName string) int {
	if a.cache == nil {
		return 0
	}
	escaped := cache.EscapeGlob(fullName)
	return a.cache.InvalidatePattern(ctx, cache.NamespaceRepoQuality, escaped) +
		a.cache.InvalidatePattern(ctx, cache.NamespaceRepoQuality, escaped+":*")
}

func (a *QualityAnalyzer) compute(ctx context.Context, repo domain.Repository, full string) (domain.RepositoryQuality, error) {
	// 根目录列表在 documentation 和 code_structure 之间共享，只拉一次
	var (
		listing    []domain.ContentEntry
		listingErr error
		listed     bool
	)
	rootListing := func() ([]domain.ContentEntry, error) {
		if !listed {
			listing, listingErr = a.fetcher.GetRepositoryContents(ctx, repo.Owner, repo.Name, "")
			listed = true
		}
		return listing, listingErr
	}

	readme, err := a.subScore(ctx, full, subReadme, func() (float64, error) {
		content, err := a.fetcher.GetFileContent(ctx, repo.Owner, repo.Name, "README.md")
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			// 没有 README 本身就是有效的负面信号
			return 0, nil
		}
		return ReadmeScore(content), nil
	})
	if err != nil {
		return domain.RepositoryQuality{}, err
	}

	documentation, err := a.subScore(ctx, full, subDocumentation, func() (float64, error) {
		entries, err := rootListing()
		if err != nil {
			return 0, fmt.Errorf("list contents: %w", err)
		}
		return DocumentationScore(entries), nil
	})
	if err != nil {
		return domain.RepositoryQuality{}, err
	}

	structure, err := a.subScore(ctx, full, subCodeStructure, func() (float64, error) {
		entries, err := rootListing()
		if err != nil {
			return 0, fmt.Errorf("list contents: %w", err)
		}
		return CodeStructureScore(entries), nil
	})
	if err != nil {
		return domain.RepositoryQuality{}, err
	}

	now := a.nowFunc()
	activity, _ := a.subScore(ctx, full, subActivity, func() (float64, error) {
		return ActivityScore(repo, now), nil
	})
	community, _ := a.subScore(ctx, full, subCommunity, func() (float64, error) {
		return CommunityScore(repo), nil
	})

	return domain.NewRepositoryQuality(readme, documentation, structure, activity, community, a.weights), nil
}

// subScore 先查缓存，未命中时计算并写入
func (a *QualityAnalyzer) subScore(ctx context.Context, full, name string, compute func() (float64, error)) (float64, error) {
	key := full + ":" + name

	var score float64
	if a.cache != nil && a.cache.Get(ctx, cache.NamespaceRepoQuality, key, &score) {
		return score, nil
	}

	score, err := compute()
	if err != nil {
		return 0, err
	}
	score = domain.Clamp(score)

	if a.cache != nil {
		a.cache.Set(ctx, cache.NamespaceRepoQuality, key, score, QualityTTL)
	}
	return score, nil
}

// ReadmeScore 按长度、标题、安装说明和示例给 README 打分
func ReadmeScore(content string) float64 {
	score := 0.0
	length := utf8.RuneCountInString(content)
	if length > 500 {
		score += 0.3
	}
	if length > 2000 {
		score += 0.2
	}
	if markdownHeader.MatchString(content) {
		score += 0.2
	}

	lower := strings.ToLower(content)
	if containsAny(lower, installHints) {
		score += 0.2
	}
	if containsAny(lower, exampleHints) {
		score += 0.1
	}
	return domain.Clamp(score)
}

// DocumentationScore 文档目录 +0.4，每个常见文档文件 +0.15
func DocumentationScore(entries []domain.ContentEntry) float64 {
	score := 0.0
	hasDocDir := false
	for _, e := range entries {
		name := strings.ToLower(e.Name)
		if e.IsDir() && docDirs[name] {
			hasDocDir = true
		}
		if !e.IsDir() && docFiles[name] {
			score += 0.15
		}
	}
	if hasDocDir {
		score += 0.4
	}
	return domain.Clamp(score)
}

// CodeStructureScore 按根目录中的约定文件和目录累加权重
func CodeStructureScore(entries []domain.ContentEntry) float64 {
	score := 0.0
	for _, e := range entries {
		score += structureWeights[strings.ToLower(e.Name)]
	}
	return domain.Clamp(score)
}

// ActivityScore 最近推送、项目成熟度和体积三部分
func ActivityScore(repo domain.Repository, now time.Time) float64 {
	score := 0.0

	pushed := repo.PushedAt
	if pushed.IsZero() {
		pushed = repo.UpdatedAt
	}
	switch days := daysSince(now, pushed); {
	case pushed.IsZero():
		score += 0.1
	case days <= 30:
		score += 0.4
	case days <= 90:
		score += 0.3
	case days <= 365:
		score += 0.2
	default:
		score += 0.1
	}

	switch age := daysSince(now, repo.CreatedAt); {
	case repo.CreatedAt.IsZero():
		score += 0.1
	case age > 3*365:
		score += 0.2
	case age >= 90:
		score += 0.3
	default:
		score += 0.1
	}

	if repo.SizeKB >= 100 && repo.SizeKB <= 10000 {
		score += 0.3
	}
	return domain.Clamp(score)
}

// CommunityScore stars、forks、issues 和许可证
func CommunityScore(repo domain.Repository) float64 {
	score := 0.0
	switch {
	case repo.Stars >= 1000:
		score += 0.4
	case repo.Stars >= 100:
		score += 0.3
	case repo.Stars >= 10:
		score += 0.2
	default:
		score += 0.1
	}

	switch {
	case repo.Forks >= 100:
		score += 0.3
	case repo.Forks >= 10:
		score += 0.2
	case repo.Forks >= 1:
		score += 0.1
	}

	if repo.HasIssues {
		score += 0.1
	}
	if repo.License != "" {
		score += 0.2
	}
	return domain.Clamp(score)
}

func daysSince(now, t time.Time) float64 {
	return now.Sub(t).Hours() / 24
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
