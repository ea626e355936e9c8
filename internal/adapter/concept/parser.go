package concept

import (
	"regexp"
	"strings"

	"github-learning-scout/internal/domain"
)

// languagePattern 语言检测规则，按顺序匹配，先命中者胜出
type languagePattern struct {
	language string
	pattern  *regexp.Regexp
}

var languagePatterns = []languagePattern{
	{"python", regexp.MustCompile(`\bpython\b|\bdjango\b|\bflask\b|\bfastapi\b|\bpandas\b`)},
	{"javascript", regexp.MustCompile(`\bjavascript\b|\bjs\b|\bnode\.?js\b|\breact\b|\bvue\b|\bexpress\b`)},
	{"java", regexp.MustCompile(`\bjava\b|\bspring\b|\bmaven\b`)},
	{"go", regexp.MustCompile(`\bgo\b|\bgolang\b`)},
	{"rust", regexp.MustCompile(`\brust\b|\bcargo\b`)},
	{"typescript", regexp.MustCompile(`\btypescript\b|\bts\b|\bangular\b`)},
	{"csharp", regexp.MustCompile(`c#|\bcsharp\b|\.net\b|\bdotnet\b`)},
	{"php", regexp.MustCompile(`\bphp\b|\blaravel\b|\bsymfony\b`)},
	{"ruby", regexp.MustCompile(`\bruby\b|\brails\b`)},
	{"kotlin", regexp.MustCompile(`\bkotlin\b`)},
	{"swift", regexp.MustCompile(`\bswift\b|\bswiftui\b`)},
}

// 五类关键词表，命中的关键词同时加入搜索词和主题
var (
	architectureKeywords = []string{
		"microservices", "serverless", "event-driven", "event sourcing", "cqrs",
		"hexagonal", "clean architecture", "monolith", "mvc", "mvvm",
		"rest api", "graphql", "grpc", "domain-driven design", "message queue",
	}
	patternKeywords = []string{
		"design patterns", "singleton", "factory", "observer", "dependency injection",
		"repository pattern", "middleware", "strategy pattern", "decorator", "pub-sub",
	}
	frameworkKeywords = []string{
		"django", "flask", "fastapi", "spring boot", "express", "react", "vue",
		"angular", "rails", "laravel", "docker", "kubernetes", "terraform",
	}
	conceptKeywords = []string{
		"machine learning", "deep learning", "data structures", "algorithms",
		"concurrency", "distributed systems", "networking", "database",
		"authentication", "caching", "web scraping", "compilers", "blockchain",
		"security",
	}
	practiceKeywords = []string{
		"tdd", "test-driven development", "unit testing", "ci/cd", "devops",
		"continuous integration", "refactoring", "code review",
		"infrastructure as code", "observability", "logging",
	}

	keywordCategories = [][]string{
		architectureKeywords,
		patternKeywords,
		frameworkKeywords,
		conceptKeywords,
		practiceKeywords,
	}
)

const wordTrimSet = ",.;:!?()[]{}\"'"

// Parse 把自由文本的学习概念拆成搜索线索，纯函数
func Parse(text string) domain.ParsedConcept {
	lower := strings.ToLower(strings.TrimSpace(text))

	terms := newOrderedSet()
	topics := newOrderedSet()

	for _, keywords := range keywordCategories {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				terms.add(kw)
				topics.add(topicSlug(kw))
			}
		}
	}

	// 兜底：长度大于 2 的单词也作为搜索词
	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, wordTrimSet)
		if len([]rune(word)) > 2 {
			terms.add(word)
		}
	}

	return domain.ParsedConcept{
		SearchTerms: terms.items,
		Topics:      topics.items,
		Language:    DetectLanguage(lower),
	}
}

// DetectLanguage 返回第一个命中的语言，未命中返回空字符串
func DetectLanguage(text string) string {
	lower := strings.ToLower(text)
	for _, lp := range languagePatterns {
		if lp.pattern.MatchString(lower) {
			return lp.language
		}
	}
	return ""
}

// topicSlug GitHub topic 只允许小写字母、数字和连字符
func topicSlug(keyword string) string {
	return strings.NewReplacer(" ", "-", "/", "-").Replace(keyword)
}

// orderedSet 去重并保留首次出现的顺序
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]struct{}{}, items: []string{}}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
