package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github-learning-scout/internal/adapter/cache"
	"github-learning-scout/internal/common"
	"github-learning-scout/internal/domain"

	"github.com/google/go-github/v53/github"
)

const maxPerPage = 100

// SearchRepositories 按 stars 倒序搜索仓库，perPage 最大 100
func (g *Gateway) SearchRepositories(ctx context.Context, query string, perPage int) ([]domain.Repository, error) {
	if perPage <= 0 {
		perPage = 10
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	raw, err := g.Request(ctx, "search/repositories", map[string]string{
		"q":        query,
		"sort":     "stars",
		"order":    "desc",
		"per_page": strconv.Itoa(perPage),
	}, true)
	if err != nil {
		return nil, err
	}

	var result github.RepositoriesSearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, common.WrapError(common.ErrCodeGitHubAPI, "decode search response", err)
	}

	repos := make([]domain.Repository, 0, len(result.Repositories))
	for _, item := range result.Repositories {
		repos = append(repos, toDomainRepository(item))
	}
	return repos, nil
}

// GetRepositoryMetadata 获取仓库元数据
func (g *Gateway) GetRepositoryMetadata(ctx context.Context, owner, name string) (domain.Repository, error) {
	raw, err := g.Request(ctx, fmt.Sprintf("repos/%s/%s", owner, name), nil, true)
	if err != nil {
		return domain.Repository{}, err
	}

	var repo github.Repository
	if err := json.Unmarshal(raw, &repo); err != nil {
		return domain.Repository{}, common.WrapError(common.ErrCodeGitHubAPI, "decode repository response", err)
	}
	return toDomainRepository(&repo), nil
}

// GetRepositoryLanguages 返回语言到字节数的映射
func (g *Gateway) GetRepositoryLanguages(ctx context.Context, owner, name string) (map[string]int, error) {
	raw, err := g.Request(ctx, fmt.Sprintf("repos/%s/%s/languages", owner, name), nil, true)
	if err != nil {
		return nil, err
	}

	languages := map[string]int{}
	if err := json.Unmarshal(raw, &languages); err != nil {
		return nil, common.WrapError(common.ErrCodeGitHubAPI, "decode languages response", err)
	}
	return languages, nil
}

// GetRepositoryContents 列出目录内容，path 为空表示根目录
func (g *Gateway) GetRepositoryContents(ctx context.Context, owner, name, path string) ([]domain.ContentEntry, error) {
	raw, err := g.Request(ctx, contentsEndpoint(owner, name, path), nil, true)
	if err != nil {
		return nil, err
	}

	var items []*github.RepositoryContent
	if isJSONArray(raw) {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, common.WrapError(common.ErrCodeGitHubAPI, "decode contents response", err)
		}
	} else {
		// path 指向单个文件时 GitHub 返回对象而不是数组
		var single github.RepositoryContent
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, common.WrapError(common.ErrCodeGitHubAPI, "decode contents response", err)
		}
		items = append(items, &single)
	}

	entries := make([]domain.ContentEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, domain.ContentEntry{
			Name: item.GetName(),
			Path: item.GetPath(),
			Type: item.GetType(),
			Size: item.GetSize(),
		})
	}
	return entries, nil
}

// GetFileContent 读取文件并解码 base64 内容
func (g *Gateway) GetFileContent(ctx context.Context, owner, name, path string) (string, error) {
	raw, err := g.Request(ctx, contentsEndpoint(owner, name, path), nil, true)
	if err != nil {
		return "", err
	}
	if isJSONArray(raw) {
		return "", common.NewError(common.ErrCodeInvalidInput, fmt.Sprintf("%s/%s: %s is a directory", owner, name, path))
	}

	var file github.RepositoryContent
	if err := json.Unmarshal(raw, &file); err != nil {
		return "", common.WrapError(common.ErrCodeGitHubAPI, "decode file response", err)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", common.WrapError(common.ErrCodeGitHubAPI, "decode file content", err)
	}
	return content, nil
}

// rateLimitResponse 是 /rate_limit 的响应结构
type rateLimitResponse struct {
	Resources struct {
		Core   rateRecord `json:"core"`
		Search rateRecord `json:"search"`
	} `json:"resources"`
}

type rateRecord struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
	Used      int   `json:"used"`
}

func (r rateRecord) toDomain(now time.Time) domain.RateLimitInfo {
	return domain.RateLimitInfo{
		Limit:     r.Limit,
		Remaining: r.Remaining,
		Reset:     time.Unix(r.Reset, 0),
		Used:      r.Used,
		UpdatedAt: now,
	}
}

// GetRateLimitStatus 查询当前配额，不走缓存 (该端点本身不消耗配额)
func (g *Gateway) GetRateLimitStatus(ctx context.Context) (domain.RateLimitStatus, error) {
	raw, err := g.Request(ctx, "rate_limit", nil, false)
	if err != nil {
		return domain.RateLimitStatus{}, err
	}

	var resp rateLimitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.RateLimitStatus{}, common.WrapError(common.ErrCodeGitHubAPI, "decode rate limit response", err)
	}
	now := g.nowFunc()
	return domain.RateLimitStatus{
		Core:   resp.Resources.Core.toDomain(now),
		Search: resp.Resources.Search.toDomain(now),
	}, nil
}

func contentsEndpoint(owner, name, path string) string {
	endpoint := fmt.Sprintf("repos/%s/%s/contents", owner, name)
	if p := strings.Trim(path, "/"); p != "" {
		endpoint += "/" + p
	}
	return endpoint
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// toDomainRepository 把 go-github 的仓库结构映射为领域类型
func toDomainRepository(item *github.Repository) domain.Repository {
	repo := domain.Repository{
		Owner:       item.GetOwner().GetLogin(),
		Name:        item.GetName(),
		FullName:    item.GetFullName(),
		URL:         item.GetHTMLURL(),
		Description: item.GetDescription(),
		Stars:       item.GetStargazersCount(),
		Forks:       item.GetForksCount(),
		Language:    item.GetLanguage(),
		Topics:      item.Topics,
		SizeKB:      item.GetSize(),
		HasIssues:   item.GetHasIssues(),
		Fork:        item.GetFork(),
		Archived:    item.GetArchived(),
		CreatedAt:   item.GetCreatedAt().Time,
		UpdatedAt:   item.GetUpdatedAt().Time,
		PushedAt:    item.GetPushedAt().Time,
	}

	if lic := item.GetLicense(); lic != nil {
		repo.License = lic.GetSPDXID()
		if repo.License == "" {
			repo.License = lic.GetKey()
		}
	}

	if repo.FullName == "" && repo.Owner != "" && repo.Name != "" {
		repo.FullName = repo.Owner + "/" + repo.Name
	}
	if repo.Owner == "" || repo.Name == "" {
		if owner, name, ok := strings.Cut(repo.FullName, "/"); ok {
			repo.Owner, repo.Name = owner, name
		}
	}
	return repo
}

// ParseRepositoryURL 见包级函数 ParseRepositoryURL
func (g *Gateway) ParseRepositoryURL(raw string) (owner, name string, err error) {
	return ParseRepositoryURL(raw)
}

// InvalidateCache 删除匹配 pattern 的 API 响应缓存，返回删除数量
func (g *Gateway) InvalidateCache(ctx context.Context, pattern string) int {
	if g.cache == nil {
		return 0
	}
	return g.cache.InvalidatePattern(ctx, cache.NamespaceGitHubAPI, pattern)
}
