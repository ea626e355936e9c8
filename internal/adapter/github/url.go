package github

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github-learning-scout/internal/common"
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ParseRepositoryURL 从仓库地址中提取 owner 和 name，纯函数，不访问网络
// 支持四种格式:
//
//	https://github.com/{owner}/{repo}
//	https://github.com/{owner}/{repo}.git
//	git@github.com:{owner}/{repo}.git
//	{owner}/{repo}
func ParseRepositoryURL(raw string) (owner, name string, err error) {
	s := strings.TrimSpace(raw)

	var path string
	switch {
	case strings.HasPrefix(s, "git@github.com:"):
		path = strings.TrimPrefix(s, "git@github.com:")
	case strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "http://"):
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", invalidURL(raw, perr.Error())
		}
		host := strings.ToLower(u.Host)
		if host != "github.com" && host != "www.github.com" {
			return "", "", invalidURL(raw, "host is not github.com")
		}
		if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
			return "", "", invalidURL(raw, "unexpected query, fragment or userinfo")
		}
		path = strings.Trim(u.Path, "/")
	case strings.Contains(s, "://"), strings.Contains(s, "@"), strings.Contains(s, ":"):
		return "", "", invalidURL(raw, "unsupported scheme")
	default:
		path = s
	}

	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		return "", "", invalidURL(raw, "expected exactly owner/repo")
	}
	for _, p := range parts {
		if p == "." || p == ".." || !segmentPattern.MatchString(p) {
			return "", "", invalidURL(raw, "malformed path segment")
		}
	}

	return parts[0], parts[1], nil
}

func invalidURL(raw, reason string) error {
	return common.NewHTTPError(common.ErrCodeInvalidURL, fmt.Sprintf("invalid repository url %q: %s", raw, reason), 0, "", nil)
}
