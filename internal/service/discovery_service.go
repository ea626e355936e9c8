package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github-learning-scout/internal/adapter/analyzer"
	"github-learning-scout/internal/adapter/cache"
	"github-learning-scout/internal/adapter/concept"
	"github-learning-scout/internal/adapter/query"
	"github-learning-scout/internal/common"
	"github-learning-scout/internal/domain"
	"github-learning-scout/internal/port"

	"github.com/google/uuid"
)

const (
	// DiscoveryTTL 排序结果的缓存时间
	DiscoveryTTL = time.Hour
	// DefaultMaxResults 未指定时返回的推荐数
	DefaultMaxResults = 10

	indexTTL         = 2 * time.Hour
	candidateTimeout = 30 * time.Second
	defaultWorkers   = 4
)

// DiscoveryService 驱动完整的发现流程：
// 解析概念 -> 构造查询 -> 搜索 -> 去重 -> 并发打分 -> 排序 -> 截断 -> 缓存
type DiscoveryService struct {
	gateway  port.GitHubGateway
	analyzer port.QualityAnalyzer
	cache    port.Cache
	store    port.SuggestionStore
	weights  domain.SuggestionWeights
	workers  int
	logger   *slog.Logger
	newRunID func() string
}

// NewDiscoveryService 创建新的发现服务；c 为 nil 时不缓存结果
func NewDiscoveryService(gateway port.GitHubGateway, qa port.QualityAnalyzer, c port.Cache, logger *slog.Logger) *DiscoveryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryService{
		gateway:  gateway,
		analyzer: qa,
		cache:    c,
		weights:  domain.DefaultSuggestionWeights,
		workers:  defaultWorkers,
		logger:   logger,
		newRunID: uuid.NewString,
	}
}

// SetStore 配置历史存储，nil 表示不持久化
func (s *DiscoveryService) SetStore(store port.SuggestionStore) {
	s.store = store
}

// SetMaxGoroutines 设置打分阶段的最大并发数
func (s *DiscoveryService) SetMaxGoroutines(max int) {
	if max > 0 {
		s.workers = max
	}
}

// SetWeights 调整推荐总分权重
func (s *DiscoveryService) SetWeights(w domain.SuggestionWeights) {
	s.weights = w
}

// DiscoverRepositories 为学习概念返回至多 maxResults 个按总分降序的推荐
// 搜索失败时返回空列表而不是错误；只有参数错误、认证失败和 ctx 取消会返回 error
func (s *DiscoveryService) DiscoverRepositories(ctx context.Context, text string, filters *domain.SearchFilters, maxResults int) ([]domain.RepositorySuggestion, error) {
	if strings.TrimSpace(text) == "" {
		return nil, common.NewError(common.ErrCodeInvalidInput, "concept must not be empty")
	}
	if maxResults <= 0 {
		return nil, common.NewError(common.ErrCodeInvalidInput, fmt.Sprintf("max results must be positive, got %d", maxResults))
	}

	f := domain.DefaultSearchFilters()
	if filters != nil {
		f = *filters
	}
	if err := f.Validate(); err != nil {
		return nil, common.WrapError(common.ErrCodeInvalidInput, "invalid search filters", err)
	}

	key := discoveryKey(text, f, maxResults)
	if s.cache != nil {
		var cached []domain.RepositorySuggestion
		if s.cache.Get(ctx, cache.NamespaceDiscovery, key, &cached) {
			s.logger.Debug("discovery cache hit", "concept", text, "count", len(cached))
			return cached, nil
		}
	}

	// 1. 解析概念，补全未指定的语言和主题
	parsed := concept.Parse(text)
	if f.Language == "" {
		f = f.WithLanguage(parsed.Language)
	}
	if len(f.Topics) == 0 && len(parsed.Topics) > 0 {
		f = f.WithTopics(firstN(parsed.Topics, query.MaxTopics))
	}

	// 2. 构造查询并搜索，多拉一倍候选弥补后续损耗
	q := query.Build(parsed.SearchTerms, f)
	s.logger.Info("searching repositories", "concept", text, "query", q)

	candidates, err := s.gateway.SearchRepositories(ctx, q, 2*maxResults)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, common.ErrAuthFailed) {
			return nil, err
		}
		s.logger.Error("repository search failed, returning no results", "concept", text, "error", err)
		return []domain.RepositorySuggestion{}, nil
	}
	candidates = dedupe(candidates)

	// 3. 并发打分
	suggestions, err := s.scoreAll(ctx, candidates, parsed.SearchTerms)
	if err != nil {
		return nil, err
	}

	// 4. 稳定排序，分数相同时保留搜索结果中的顺序
	sort.SliceStable(suggestions, func(i, j int) bool {
		return s.weights.Score(suggestions[i]) > s.weights.Score(suggestions[j])
	})
	if len(suggestions) > maxResults {
		suggestions = suggestions[:maxResults]
	}

	if s.cache != nil {
		s.cache.Set(ctx, cache.NamespaceDiscovery, key, suggestions, DiscoveryTTL)
		s.rememberRepositories(ctx, text, suggestions)
	}
	s.saveRun(ctx, text, suggestions)

	s.logger.Info("discovery finished", "concept", text, "candidates", len(candidates), "suggestions", len(suggestions))
	return suggestions, nil
}

// scoreAll 用固定数量的 worker 为候选打分，结果按输入顺序返回，失败的候选被丢弃
func (s *DiscoveryService) scoreAll(ctx context.Context, candidates []domain.Repository, terms []string) ([]domain.RepositorySuggestion, error) {
	jobs := make(chan int, len(candidates))
	results := make([]*domain.RepositorySuggestion, len(candidates))

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go s.scoreWorker(ctx, candidates, terms, jobs, results, &wg, i+1)
	}

	for i := range candidates {
		jobs <- i
	}
	close(jobs)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scoring interrupted", "error", ctx.Err())
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	suggestions := make([]domain.RepositorySuggestion, 0, len(candidates))
	for _, r := range results {
		if r != nil {
			suggestions = append(suggestions, *r)
		}
	}
	return suggestions, nil
}

// scoreWorker 工作协程，每次处理一个候选
// results 的每个下标只由一个 worker 写入
func (s *DiscoveryService) scoreWorker(
	ctx context.Context,
	candidates []domain.Repository,
	terms []string,
	jobs <-chan int,
	results []*domain.RepositorySuggestion,
	wg *sync.WaitGroup,
	workerID int,
) {
	defer wg.Done()

	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		repo := candidates[i]

		// 为每个项目设置超时时间
		candidateCtx, cancel := context.WithTimeout(ctx, candidateTimeout)
		suggestion, err := s.assemble(candidateCtx, repo, terms)
		cancel()

		if err != nil {
			s.logger.Warn("candidate dropped", "worker", workerID, "repo", repo.FullName, "error", err)
			continue
		}
		results[i] = &suggestion
	}
}

// assemble 计算单个候选的三项分数，panic 也视为该候选失败
func (s *DiscoveryService) assemble(ctx context.Context, repo domain.Repository, terms []string) (suggestion domain.RepositorySuggestion, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.NewError(common.ErrCodeAnalysisFailure, fmt.Sprintf("panic while scoring %s: %v", repo.FullName, r))
		}
	}()

	if repo.FullName == "" {
		return suggestion, common.NewError(common.ErrCodeAnalysisFailure, "candidate has no full name")
	}

	quality, err := s.analyzer.Analyze(ctx, repo)
	if err != nil {
		// 分析器已经给出全 0.5 的中性结果，候选保留
		if !errors.Is(err, common.ErrAnalysis) {
			return suggestion, err
		}
		s.logger.Debug("using neutral quality", "repo", repo.FullName, "error", err)
	}

	return domain.RepositorySuggestion{
		Repository:       repo,
		Quality:          quality,
		EducationalValue: analyzer.EducationalValue(repo),
		RelevanceScore:   analyzer.RelevanceScore(repo, terms),
	}, nil
}

// RefreshRepositoryCache 清除概念相关的缓存并重新发现一次
// 返回值表示重新发现是否得到了结果
func (s *DiscoveryService) RefreshRepositoryCache(ctx context.Context, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, common.NewError(common.ErrCodeInvalidInput, "concept must not be empty")
	}

	if s.cache != nil {
		prefix := cache.EscapeGlob(conceptPrefix(text))

		var known []string
		s.cache.Get(ctx, cache.NamespaceDiscovery, indexKey(text), &known)
		for _, full := range known {
			s.analyzer.Invalidate(ctx, full)
			escaped := cache.EscapeGlob(full)
			// 转义 "?"，否则 octo/shop 会连带清掉 octo/shopx
			s.gateway.InvalidateCache(ctx, "repos/"+escaped+`\?*`)
			s.gateway.InvalidateCache(ctx, "repos/"+escaped+"/*")
		}
		searches := s.gateway.InvalidateCache(ctx, `search/repositories\?*`)
		removed := s.cache.InvalidatePattern(ctx, cache.NamespaceDiscovery, prefix+":*")
		s.logger.Info("discovery cache invalidated", "concept", text, "entries", removed, "repositories", len(known), "searches", searches)
	}

	suggestions, err := s.DiscoverRepositories(ctx, text, nil, DefaultMaxResults)
	if err != nil {
		return false, err
	}
	return len(suggestions) > 0, nil
}

// AnalyzeRepository 按 URL 单独分析一个仓库，相关度以仓库自己的主题为准
func (s *DiscoveryService) AnalyzeRepository(ctx context.Context, rawURL string) (domain.RepositorySuggestion, error) {
	owner, name, err := s.gateway.ParseRepositoryURL(rawURL)
	if err != nil {
		return domain.RepositorySuggestion{}, err
	}

	repo, err := s.gateway.GetRepositoryMetadata(ctx, owner, name)
	if err != nil {
		return domain.RepositorySuggestion{}, fmt.Errorf("fetch %s/%s: %w", owner, name, err)
	}
	if repo.FullName == "" {
		repo.Owner, repo.Name, repo.FullName = owner, name, owner+"/"+name
	}

	terms := append([]string{repo.Name}, repo.Topics...)
	return s.assemble(ctx, repo, terms)
}

// History 返回概念最近的持久化推荐
func (s *DiscoveryService) History(ctx context.Context, text string, limit int) ([]domain.DiscoveryRecord, error) {
	if s.store == nil {
		return nil, common.NewError(common.ErrCodeInvalidInput, "history store is not configured")
	}
	return s.store.History(ctx, text, limit)
}

// saveRun 持久化失败只记录日志
func (s *DiscoveryService) saveRun(ctx context.Context, text string, suggestions []domain.RepositorySuggestion) {
	if s.store == nil || len(suggestions) == 0 {
		return
	}
	runID := s.newRunID()
	if err := s.store.SaveRun(ctx, runID, text, suggestions); err != nil {
		s.logger.Error("failed to save discovery run", "run_id", runID, "concept", text, "error", err)
		return
	}
	s.logger.Info("discovery run saved", "run_id", runID, "concept", text, "count", len(suggestions))
}

// rememberRepositories 记录概念下出现过的仓库，刷新时据此清除质量缓存
func (s *DiscoveryService) rememberRepositories(ctx context.Context, text string, suggestions []domain.RepositorySuggestion) {
	var known []string
	s.cache.Get(ctx, cache.NamespaceDiscovery, indexKey(text), &known)

	seen := make(map[string]bool, len(known))
	for _, full := range known {
		seen[full] = true
	}
	for _, sg := range suggestions {
		if !seen[sg.Repository.FullName] {
			seen[sg.Repository.FullName] = true
			known = append(known, sg.Repository.FullName)
		}
	}
	s.cache.Set(ctx, cache.NamespaceDiscovery, indexKey(text), known, indexTTL)
}

type discoveryKeyInput struct {
	Concept    string               `json:"concept"`
	Filters    domain.SearchFilters `json:"filters"`
	MaxResults int                  `json:"max_results"`
}

// discoveryKey 由 (concept, filters, maxResults) 计算缓存键，形如 "{concept-slug}:{hash}"
func discoveryKey(text string, f domain.SearchFilters, maxResults int) string {
	raw, _ := json.Marshal(discoveryKeyInput{Concept: text, Filters: f, MaxResults: maxResults})
	sum := sha256.Sum256(raw)
	return conceptPrefix(text) + ":" + hex.EncodeToString(sum[:16])
}

func indexKey(text string) string {
	return conceptPrefix(text) + ":index"
}

func conceptPrefix(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), "-")
}

// dedupe 按 full name 去重 (不区分大小写)，保留第一次出现
func dedupe(repos []domain.Repository) []domain.Repository {
	seen := make(map[string]bool, len(repos))
	out := make([]domain.Repository, 0, len(repos))
	for _, r := range repos {
		k := strings.ToLower(r.FullName)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
