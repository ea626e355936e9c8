package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github-learning-scout/internal/adapter/cache"
	"github-learning-scout/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepRecorder 记录网关请求的所有 sleep，不真正等待
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

// setupMockGitHubServer 创建一个模拟的 GitHub API 服务器和指向它的网关
func setupMockGitHubServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Gateway, *sleepRecorder) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sleeps := &sleepRecorder{}
	c := cache.New(cache.NewMemoryBackend(), common.DiscardLogger())
	g, err := NewGateway("", c,
		WithBaseURL(server.URL),
		WithSleep(sleeps.sleep),
		WithLogger(common.DiscardLogger()),
	)
	require.NoError(t, err)
	return server, g, sleeps
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func TestParseRepositoryURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"https", "https://github.com/octo-org/hello.world"},
		{"https with .git", "https://github.com/octo-org/hello.world.git"},
		{"ssh", "git@github.com:octo-org/hello.world.git"},
		{"bare", "octo-org/hello.world"},
		{"trailing slash", "https://github.com/octo-org/hello.world/"},
		{"www host", "https://www.github.com/octo-org/hello.world"},
		{"surrounding spaces", "  octo-org/hello.world  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, name, err := ParseRepositoryURL(tt.input)
			require.NoError(t, err)
			assert.Equal(t, "octo-org", owner)
			assert.Equal(t, "hello.world", name)
		})
	}
}

func TestParseRepositoryURL_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"octo",
		"octo/",
		"/repo",
		"octo//repo",
		"octo/repo/extra",
		"github.com/octo/repo",
		"https://gitlab.com/octo/repo",
		"https://github.com/octo",
		"https://github.com/octo/repo/tree/main",
		"https://github.com/octo/repo?tab=readme",
		"git@gitlab.com:octo/repo.git",
		"ftp://github.com/octo/repo",
		"octo/re po",
		"../repo",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, _, err := ParseRepositoryURL(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidURL)
			assert.Equal(t, common.ErrCodeInvalidURL, common.CodeOf(err))
		})
	}
}

func TestGateway_RateLimitedThenSuccess(t *testing.T) {
	var hits int32
	_, g, sleeps := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			writeJSON(w, http.StatusForbidden, `{"message": "API rate limit exceeded"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"full_name":"octo/repo"}`)
	})

	raw, err := g.Request(context.Background(), "repos/octo/repo", nil, true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"full_name":"octo/repo"}`, string(raw))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	recorded := sleeps.recorded()
	require.Len(t, recorded, 1)
	assert.GreaterOrEqual(t, recorded[0], 2*time.Second)
	assert.Less(t, recorded[0], 3*time.Second)
}

func TestGateway_RateLimitRetriesExhausted(t *testing.T) {
	var hits int32
	_, g, sleeps := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusForbidden, `{"message": "API rate limit exceeded for 127.0.0.1"}`)
	})

	_, err := g.Request(context.Background(), "repos/octo/repo", nil, true)
	require.Error(t, err)
	assert.Equal(t, common.ErrCodeGitHubAPI, common.CodeOf(err))
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))

	recorded := sleeps.recorded()
	require.Len(t, recorded, 3)
	// 2s, 4s, 8s 各自加上不到 1s 的抖动
	for i, base := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		assert.GreaterOrEqual(t, recorded[i], base)
		assert.Less(t, recorded[i], base+time.Second)
	}
}

func TestGateway_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   string
		wantStatus int
		wantHits   int32
	}{
		{"401 is fatal", http.StatusUnauthorized, `{"message":"Bad credentials"}`, common.ErrCodeAuthFailed, 401, 1},
		{"404 is not found", http.StatusNotFound, `{"message":"Not Found"}`, common.ErrCodeNotFound, 404, 1},
		{"403 without rate limit", http.StatusForbidden, `{"message":"Resource not accessible"}`, common.ErrCodeGitHubAPI, 403, 1},
		{"500 is api error", http.StatusInternalServerError, `{"message":"boom"}`, common.ErrCodeGitHubAPI, 500, 1},
		{"422 is api error", http.StatusUnprocessableEntity, `{"message":"Validation Failed"}`, common.ErrCodeGitHubAPI, 422, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			_, g, sleeps := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				writeJSON(w, tt.status, tt.body)
			})

			_, err := g.Request(context.Background(), "repos/octo/repo", nil, true)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, common.CodeOf(err))

			var appErr *common.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantStatus, appErr.StatusCode)
			assert.NotEmpty(t, appErr.Body)
			assert.Equal(t, tt.wantHits, atomic.LoadInt32(&hits))
			assert.Empty(t, sleeps.recorded())
		})
	}
}

func TestGateway_ErrorBodyIsKept(t *testing.T) {
	_, g, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"message":"boom"}`)
	})

	_, err := g.Request(context.Background(), "repos/octo/repo", nil, true)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Body, "boom")
}

func TestGateway_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	g, err := NewGateway("", nil, WithBaseURL(url), WithLogger(common.DiscardLogger()))
	require.NoError(t, err)

	_, err = g.Request(context.Background(), "repos/octo/repo", nil, true)
	require.Error(t, err)
	assert.Equal(t, common.ErrCodeNetwork, common.CodeOf(err))
	assert.ErrorIs(t, err, common.ErrNetwork)
}

func TestGateway_CacheHitSkipsNetwork(t *testing.T) {
	var hits int32
	_, g, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusOK, `{"n":1}`)
	})
	ctx := context.Background()
	params := map[string]string{"b": "2", "a": "1"}

	first, err := g.Request(ctx, "repos/octo/repo", params, true)
	require.NoError(t, err)
	// 参数顺序不影响缓存键
	second, err := g.Request(ctx, "/repos/octo/repo", map[string]string{"a": "1", "b": "2"}, true)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGateway_NoCacheAlwaysHitsNetwork(t *testing.T) {
	var hits int32
	_, g, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusOK, `{"n":1}`)
	})
	ctx := context.Background()

	_, err := g.Request(ctx, "repos/octo/repo", nil, false)
	require.NoError(t, err)
	_, err = g.Request(ctx, "repos/octo/repo", nil, false)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestGateway_ConcurrentRequestsAreCoalesced(t *testing.T) {
	var hits int32
	arrived := make(chan struct{})
	release := make(chan struct{})
	_, g, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			close(arrived)
		}
		<-release
		writeJSON(w, http.StatusOK, `{"full_name":"octo/repo"}`)
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]json.RawMessage, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = g.Request(ctx, "repos/octo/repo", nil, true)
	}()
	<-arrived

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = g.Request(ctx, "repos/octo/repo", nil, true)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.JSONEq(t, string(results[0]), string(results[1]))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGateway_CancelledCallerDoesNotFailCoalescedWaiters(t *testing.T) {
	var hits int32
	arrived := make(chan struct{})
	release := make(chan struct{})
	_, g, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			close(arrived)
		}
		<-release
		writeJSON(w, http.StatusOK, `{"full_name":"octo/repo"}`)
	})

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	var wg sync.WaitGroup
	var firstErr, secondErr error
	var secondBody json.RawMessage

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = g.Request(first, "repos/octo/repo", nil, true)
	}()
	<-arrived

	wg.Add(1)
	go func() {
		defer wg.Done()
		secondBody, secondErr = g.Request(context.Background(), "repos/octo/repo", nil, true)
	}()
	time.Sleep(50 * time.Millisecond)

	// 发起方取消后，共享请求仍在进行，服务器随后才响应
	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.ErrorIs(t, firstErr, context.Canceled)
	require.NoError(t, secondErr)
	assert.JSONEq(t, `{"full_name":"octo/repo"}`, string(secondBody))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// 共享结果照常写入缓存
	cached, err := g.Request(context.Background(), "repos/octo/repo", nil, true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"full_name":"octo/repo"}`, string(cached))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGateway_WaitsWhenRateLimitExhausted(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reset := now.Add(30 * time.Second)

	_, g, sleeps := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/octo/repo" {
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Used", "60")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		}
		writeJSON(w, http.StatusOK, `{"items":[]}`)
	})
	g.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_, err := g.Request(ctx, "repos/octo/repo", nil, true)
	require.NoError(t, err)
	assert.Empty(t, sleeps.recorded())

	info := g.RateLimit()
	assert.Equal(t, 60, info.Limit)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, 60, info.Used)
	assert.True(t, info.Exhausted())

	// 搜索接口属于另一个配额类别，go-github 不会在客户端拦截
	_, err = g.Request(ctx, "search/repositories", map[string]string{"q": "x"}, true)
	require.NoError(t, err)

	recorded := sleeps.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, 31*time.Second, recorded[0])

	// 没有限流头的响应不会覆盖快照
	assert.Equal(t, 0, g.RateLimit().Remaining)
}

func TestGateway_CancelledContext(t *testing.T) {
	_, g, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Request(ctx, "repos/octo/repo", nil, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGateway_SendsTokenWhenConfigured(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer server.Close()

	g, err := NewGateway("secret-token", nil, WithBaseURL(server.URL), WithLogger(common.DiscardLogger()))
	require.NoError(t, err)

	_, err = g.Request(context.Background(), "rate_limit", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", auth)
}

func TestGateway_SearchRepositories(t *testing.T) {
	var query map[string]string
	_, g, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		query = map[string]string{
			"q":        r.URL.Query().Get("q"),
			"sort":     r.URL.Query().Get("sort"),
			"order":    r.URL.Query().Get("order"),
			"per_page": r.URL.Query().Get("per_page"),
		}
		writeJSON(w, http.StatusOK, `{
			"total_count": 1,
			"items": [{
				"name": "hello",
				"full_name": "octo/hello",
				"owner": {"login": "octo"},
				"html_url": "https://github.com/octo/hello",
				"description": "hello world service",
				"stargazers_count": 120,
				"forks_count": 12,
				"language": "Go",
				"topics": ["microservices", "grpc"],
				"size": 2048,
				"has_issues": true,
				"license": {"key": "mit", "spdx_id": "MIT"},
				"created_at": "2020-01-02T03:04:05Z",
				"updated_at": "2024-01-02T03:04:05Z",
				"pushed_at": "2024-01-03T03:04:05Z"
			}]
		}`)
	})

	repos, err := g.SearchRepositories(context.Background(), "(\"hello\") stars:>=10", 500)
	require.NoError(t, err)
	require.Len(t, repos, 1)

	assert.Equal(t, map[string]string{
		"q":        "(\"hello\") stars:>=10",
		"sort":     "stars",
		"order":    "desc",
		"per_page": "100",
	}, query)

	r := repos[0]
	assert.Equal(t, "octo", r.Owner)
	assert.Equal(t, "hello", r.Name)
	assert.Equal(t, "octo/hello", r.FullName)
	assert.Equal(t, "https://github.com/octo/hello", r.URL)
	assert.Equal(t, 120, r.Stars)
	assert.Equal(t, 12, r.Forks)
	assert.Equal(t, "Go", r.Language)
	assert.Equal(t, []string{"microservices", "grpc"}, r.Topics)
	assert.Equal(t, 2048, r.SizeKB)
	assert.Equal(t, "MIT", r.License)
	assert.True(t, r.HasIssues)
	assert.Equal(t, time.Date(2024, 1, 3, 3, 4, 5, 0, time.UTC), r.PushedAt.UTC())
}

func TestGateway_ContentEndpoints(t *testing.T) {
	readme := "# Hello\n\nInstallation steps"
	_, g, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octo/hello":
			writeJSON(w, http.StatusOK, `{"name":"hello","full_name":"octo/hello","owner":{"login":"octo"},"stargazers_count":3}`)
		case "/repos/octo/hello/languages":
			writeJSON(w, http.StatusOK, `{"Go": 12000, "Makefile": 300}`)
		case "/repos/octo/hello/contents":
			writeJSON(w, http.StatusOK, `[
				{"name":"docs","path":"docs","type":"dir","size":0},
				{"name":"README.md","path":"README.md","type":"file","size":27}
			]`)
		case "/repos/octo/hello/contents/README.md":
			writeJSON(w, http.StatusOK, fmt.Sprintf(`{"name":"README.md","path":"README.md","type":"file","encoding":"base64","content":%q}`,
				base64.StdEncoding.EncodeToString([]byte(readme))))
		case "/rate_limit":
			writeJSON(w, http.StatusOK, `{"resources":{
				"core":{"limit":5000,"remaining":4990,"reset":1714564800,"used":10},
				"search":{"limit":30,"remaining":29,"reset":1714564860,"used":1}}}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"message":"Not Found"}`)
		}
	})
	ctx := context.Background()

	meta, err := g.GetRepositoryMetadata(ctx, "octo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "octo/hello", meta.FullName)
	assert.Equal(t, 3, meta.Stars)

	langs, err := g.GetRepositoryLanguages(ctx, "octo", "hello")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Go": 12000, "Makefile": 300}, langs)

	entries, err := g.GetRepositoryContents(ctx, "octo", "hello", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsDir())
	assert.Equal(t, "README.md", entries[1].Name)

	content, err := g.GetFileContent(ctx, "octo", "hello", "README.md")
	require.NoError(t, err)
	assert.Equal(t, readme, content)

	_, err = g.GetFileContent(ctx, "octo", "hello", "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = g.GetFileContent(ctx, "octo", "hello", "MISSING.md")
	assert.ErrorIs(t, err, common.ErrNotFound)

	status, err := g.GetRateLimitStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4990, status.Core.Remaining)
	assert.Equal(t, 30, status.Search.Limit)
	assert.Equal(t, int64(1714564860), status.Search.Reset.Unix())
}

func TestGateway_InvalidateCache(t *testing.T) {
	var hits int32
	_, g, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if strings.HasSuffix(r.URL.Path, "/languages") {
			writeJSON(w, http.StatusOK, `{"Go":123}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"name":"shop"}`)
	})
	ctx := context.Background()

	_, err := g.GetRepositoryMetadata(ctx, "octo", "shop")
	require.NoError(t, err)
	_, err = g.GetRepositoryLanguages(ctx, "octo", "shop")
	require.NoError(t, err)
	_, err = g.GetRepositoryMetadata(ctx, "octo", "other")
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))

	assert.Equal(t, 2, g.InvalidateCache(ctx, "repos/octo/shop*"))

	_, err = g.GetRepositoryMetadata(ctx, "octo", "shop")
	require.NoError(t, err)
	_, err = g.GetRepositoryMetadata(ctx, "octo", "other")
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))

	// 转义的 "?" 只匹配同名仓库本身
	_, err = g.GetRepositoryMetadata(ctx, "octo", "shopx")
	require.NoError(t, err)
	assert.Equal(t, 1, g.InvalidateCache(ctx, `repos/octo/shop\?*`))
	_, err = g.GetRepositoryMetadata(ctx, "octo", "shopx")
	require.NoError(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))

	owner, name, err := g.ParseRepositoryURL("git@github.com:octo/shop.git")
	require.NoError(t, err)
	assert.Equal(t, "octo", owner)
	assert.Equal(t, "shop", name)
}
