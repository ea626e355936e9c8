package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github-learning-scout/internal/adapter/cache"
	"github-learning-scout/internal/common"
	"github-learning-scout/internal/domain"
	"github-learning-scout/internal/port"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"
)

const (
	responseCacheTTL = time.Hour

	// 403 限流退避: 2s, 4s, 8s 外加最多 1s 抖动
	rateLimitRetries   = 3
	rateLimitBaseDelay = 2 * time.Second
	rateLimitJitter    = time.Second

	// 合并后的共享请求不随任何单个调用方取消，只受此上限约束
	sharedFetchTimeout = 2 * time.Minute
)

// Gateway 实现了 port.GitHubGateway 接口
// 所有请求都经过 Request：响应缓存、并发合并、限流等待和退避重试
type Gateway struct {
	client  *github.Client
	cache   port.Cache
	logger  *slog.Logger
	sleep   common.SleepFunc
	nowFunc func() time.Time

	rateMu sync.RWMutex
	rate   domain.RateLimitInfo
}

// Option 配置 Gateway
type Option func(*Gateway) error

// WithBaseURL 指向其他 API 地址 (GitHub Enterprise 或测试服务器)
func WithBaseURL(base string) Option {
	return func(g *Gateway) error {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("invalid github base url: %w", err)
		}
		g.client.BaseURL = u
		return nil
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// WithSleep 替换限流等待和退避使用的 sleep，便于测试
func WithSleep(fn common.SleepFunc) Option {
	return func(g *Gateway) error {
		if fn != nil {
			g.sleep = fn
		}
		return nil
	}
}

// NewGateway 初始化 GitHub 客户端
// token 为空时匿名访问 (限制 60 次/小时)；c 为 nil 时不缓存也不合并请求
func NewGateway(token string, c port.Cache, opts ...Option) (*Gateway, error) {
	var client *github.Client

	if token == "" {
		client = github.NewClient(nil)
	} else {
		ctx := context.Background()
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(ctx, ts)
		client = github.NewClient(tc)
	}

	g := &Gateway{
		client:  client,
		cache:   c,
		logger:  slog.Default(),
		sleep:   common.Sleep,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// RateLimit 返回最近一次响应的限流快照
func (g *Gateway) RateLimit() domain.RateLimitInfo {
	g.rateMu.RLock()
	defer g.rateMu.RUnlock()
	return g.rate
}

// Request 是唯一的请求路径，返回原始 JSON
// useCache 为 true 时先查缓存，命中则不发网络请求；成功响应缓存 1 小时
func (g *Gateway) Request(ctx context.Context, endpoint string, params map[string]string, useCache bool) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := requestKey(endpoint, params)

	if useCache && g.cache != nil {
		var cached json.RawMessage
		if g.cache.Get(ctx, cache.NamespaceGitHubAPI, key, &cached) {
			return cached, nil
		}
	}

	if g.cache == nil {
		return g.fetch(ctx, endpoint, params, key, false)
	}

	// 调用方自己的 ctx 只结束它自己的等待 (见 Debounced)
	v, err := g.cache.Debounced(ctx, cache.Key(cache.NamespaceGitHubAPI, key), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()

		// 前一个飞行中的请求可能刚刚写入缓存
		if useCache {
			var cached json.RawMessage
			if g.cache.Get(fetchCtx, cache.NamespaceGitHubAPI, key, &cached) {
				return cached, nil
			}
		}
		return g.fetch(fetchCtx, endpoint, params, key, useCache)
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

func (g *Gateway) fetch(ctx context.Context, endpoint string, params map[string]string, key string, store bool) (json.RawMessage, error) {
	var body json.RawMessage
	attempt := 0

	err := common.Do(ctx, func() error {
		attempt++
		if err := g.waitForRateLimit(ctx); err != nil {
			return err
		}
		raw, err := g.do(ctx, endpoint, params)
		if err != nil {
			if errors.Is(err, common.ErrRateLimited) {
				g.logger.Warn("github rate limited, backing off", "endpoint", endpoint, "attempt", attempt)
			}
			return err
		}
		body = raw
		return nil
	},
		common.WithMaxRetries(rateLimitRetries),
		common.WithInitialDelay(rateLimitBaseDelay),
		common.WithMultiplier(2),
		common.WithMaxDelay(time.Minute),
		common.WithJitter(rateLimitJitter),
		common.WithRetryIf(func(err error) bool { return errors.Is(err, common.ErrRateLimited) }),
		common.WithSleep(g.sleep),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if common.CodeOf(err) == common.ErrCodeRateLimited || errors.Is(err, common.ErrRateLimited) {
			var appErr *common.AppError
			status, respBody := http.StatusForbidden, ""
			if errors.As(err, &appErr) {
				status, respBody = appErr.StatusCode, appErr.Body
			}
			return nil, common.NewHTTPError(common.ErrCodeGitHubAPI, "github rate limit retries exhausted: "+endpoint, status, respBody, err)
		}
		return nil, err
	}

	if store && g.cache != nil {
		g.cache.Set(ctx, cache.NamespaceGitHubAPI, key, body, responseCacheTTL)
	}
	return body, nil
}

// waitForRateLimit 配额耗尽时睡眠到 reset + 1s
func (g *Gateway) waitForRateLimit(ctx context.Context) error {
	snapshot := g.RateLimit()
	if !snapshot.Exhausted() {
		return nil
	}
	wait := snapshot.Reset.Add(time.Second).Sub(g.nowFunc())
	if wait <= 0 {
		return nil
	}
	g.logger.Warn("github rate limit exhausted, waiting for reset", "wait", wait.Round(time.Second), "reset", snapshot.Reset.Format(time.RFC3339))
	return g.sleep(ctx, wait)
}

func (g *Gateway) do(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	u := strings.TrimPrefix(endpoint, "/")
	if len(params) > 0 {
		u += "?" + encodeParams(params)
	}

	req, err := g.client.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeGitHubAPI, "build github request", err)
	}

	var raw json.RawMessage
	resp, err := g.client.Do(ctx, req, &raw)
	if resp != nil {
		g.updateRateLimit(resp.Response)
	}
	if err != nil {
		return nil, g.classify(ctx, endpoint, resp, err)
	}
	return raw, nil
}

// classify 把 go-github 的错误映射为带错误码的 AppError
func (g *Gateway) classify(ctx context.Context, endpoint string, resp *github.Response, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if resp == nil || resp.Response == nil {
		return common.WrapError(common.ErrCodeNetwork, "github request failed: "+endpoint, err)
	}

	status := resp.StatusCode
	body := responseBody(resp, err)

	switch {
	case status == http.StatusNotFound:
		return common.NewHTTPError(common.ErrCodeNotFound, "github resource not found: "+endpoint, status, body, err)
	case status == http.StatusUnauthorized:
		return common.NewHTTPError(common.ErrCodeAuthFailed, "github authentication failed", status, body, err)
	case status == http.StatusForbidden && isRateLimitError(err, body),
		status == http.StatusTooManyRequests:
		return common.NewHTTPError(common.ErrCodeRateLimited, "github rate limit exceeded: "+endpoint, status, body, err)
	default:
		return common.NewHTTPError(common.ErrCodeGitHubAPI, "github request failed: "+endpoint, status, body, err)
	}
}

func isRateLimitError(err error, body string) bool {
	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return true
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && strings.Contains(strings.ToLower(er.Message), "rate limit") {
		return true
	}
	return strings.Contains(strings.ToLower(body), "rate limit")
}

// responseBody 读取 go-github 回填的错误响应体，读不到时退回错误消息
func responseBody(resp *github.Response, err error) string {
	if resp != nil && resp.Body != nil {
		if b, rerr := io.ReadAll(resp.Body); rerr == nil && len(b) > 0 {
			return string(b)
		}
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) {
		return er.Message
	}
	return ""
}

// updateRateLimit 用响应头刷新限流快照；没有限流头的响应不覆盖已有快照
func (g *Gateway) updateRateLimit(resp *http.Response) {
	if resp == nil {
		return
	}
	limitHeader := resp.Header.Get("X-RateLimit-Limit")
	if limitHeader == "" {
		return
	}

	info := domain.RateLimitInfo{UpdatedAt: g.nowFunc()}
	info.Limit, _ = strconv.Atoi(limitHeader)
	info.Remaining, _ = strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	info.Used, _ = strconv.Atoi(resp.Header.Get("X-RateLimit-Used"))
	if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		info.Reset = time.Unix(reset, 0)
	}

	g.rateMu.Lock()
	g.rate = info
	g.rateMu.Unlock()
}

// requestKey 由 endpoint 和排序后的参数组成缓存键
func requestKey(endpoint string, params map[string]string) string {
	return strings.TrimPrefix(endpoint, "/") + "?" + encodeParams(params)
}

func encodeParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	return values.Encode()
}
