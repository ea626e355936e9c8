package port

import (
	"context"
	"time"

	"github-learning-scout/internal/domain"
)

// RepositorySearcher (侦察兵): 负责在 GitHub 上按查询串搜索候选仓库
type RepositorySearcher interface {
	SearchRepositories(ctx context.Context, query string, perPage int) ([]domain.Repository, error)
}

// ContentFetcher 负责读取仓库目录和文件内容，供质量分析使用
type ContentFetcher interface {
	GetRepositoryContents(ctx context.Context, owner, name, path string) ([]domain.ContentEntry, error)
	GetFileContent(ctx context.Context, owner, name, path string) (string, error)
}

// GitHubGateway 是到 GitHub REST API 的唯一通道
type GitHubGateway interface {
	RepositorySearcher
	ContentFetcher
	ParseRepositoryURL(raw string) (owner, name string, err error)
	GetRepositoryMetadata(ctx context.Context, owner, name string) (domain.Repository, error)
	GetRepositoryLanguages(ctx context.Context, owner, name string) (map[string]int, error)
	GetRateLimitStatus(ctx context.Context) (domain.RateLimitStatus, error)
	RateLimit() domain.RateLimitInfo
	// InvalidateCache 删除匹配 glob 的响应缓存，pattern 形如 "repos/octo/app*"
	InvalidateCache(ctx context.Context, pattern string) int
}

// QualityAnalyzer (鉴定师): 为单个仓库计算质量分
// 失败时返回全 0.5 的中性结果，错误仅用于记录
type QualityAnalyzer interface {
	Analyze(ctx context.Context, repo domain.Repository) (domain.RepositoryQuality, error)
	Invalidate(ctx context.Context, fullName string) int
}

// Cache 带命名空间和 TTL 的结果缓存
// 所有方法都不向调用方传播后端故障：读失败视为未命中，写失败返回 false
type Cache interface {
	Get(ctx context.Context, namespace, key string, dest any) bool
	Set(ctx context.Context, namespace, key string, value any, ttl time.Duration) bool
	Delete(ctx context.Context, namespace, key string) bool
	InvalidatePattern(ctx context.Context, namespace, glob string) int
	Debounced(ctx context.Context, key string, fn func() (any, error)) (any, error)
}

// CacheBackend 缓存的存储后端 (内存或 Redis)
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Completer 大模型补全能力：输入提示词，返回文本
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SuggestionStore (仓库管理员): 持久化每次发现运行的结果
type SuggestionStore interface {
	SaveRun(ctx context.Context, runID, concept string, suggestions []domain.RepositorySuggestion) error
	History(ctx context.Context, concept string, limit int) ([]domain.DiscoveryRecord, error)
}

// Notifier 推送预热得到的推荐摘要
type Notifier interface {
	NotifyDigest(ctx context.Context, concept string, suggestions []domain.RepositorySuggestion) error
}
