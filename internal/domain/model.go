package domain

import (
	"math"
	"time"
)

// Repository 是 GitHub 仓库元数据在领域内的类型化表示
// 由网关从 GitHub 响应映射而来，管道中不传递原始 map
type Repository struct {
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"` // 例如 "gohugoio/hugo"
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Stars       int       `json:"stars"`
	Forks       int       `json:"forks"`
	Language    string    `json:"language"`
	Topics      []string  `json:"topics"`
	SizeKB      int       `json:"size_kb"`
	License     string    `json:"license,omitempty"` // SPDX ID，空字符串表示无许可证
	HasIssues   bool      `json:"has_issues"`
	Fork        bool      `json:"fork"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PushedAt    time.Time `json:"pushed_at"`
}

// ContentEntry 是仓库目录列表中的一项
type ContentEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" 或 "dir"
	Size int    `json:"size"`
}

// IsDir 判断是否为目录
func (c ContentEntry) IsDir() bool {
	return c.Type == "dir"
}

// QualityWeights 是质量总分的加权系数
type QualityWeights struct {
	Readme        float64
	Documentation float64
	CodeStructure float64
	Activity      float64
	Community     float64
}

// DefaultQualityWeights readme 0.25, documentation 0.20, code_structure 0.25, activity 0.15, community 0.15
var DefaultQualityWeights = QualityWeights{
	Readme:        0.25,
	Documentation: 0.20,
	CodeStructure: 0.25,
	Activity:      0.15,
	Community:     0.15,
}

// RepositoryQuality 五个独立子分数，均在 [0,1] 内
type RepositoryQuality struct {
	ReadmeScore        float64 `json:"readme_score"`
	DocumentationScore float64 `json:"documentation_score"`
	CodeStructureScore float64 `json:"code_structure_score"`
	ActivityScore      float64 `json:"activity_score"`
	CommunityScore     float64 `json:"community_score"`
	OverallScore       float64 `json:"overall_score"`
}

// NewRepositoryQuality 由子分数构造质量结果，并按权重计算总分
func NewRepositoryQuality(readme, documentation, codeStructure, activity, community float64, w QualityWeights) RepositoryQuality {
	q := RepositoryQuality{
		ReadmeScore:        Clamp(readme),
		DocumentationScore: Clamp(documentation),
		CodeStructureScore: Clamp(codeStructure),
		ActivityScore:      Clamp(activity),
		CommunityScore:     Clamp(community),
	}
	q.OverallScore = Clamp(q.ReadmeScore*w.Readme +
		q.DocumentationScore*w.Documentation +
		q.CodeStructureScore*w.CodeStructure +
		q.ActivityScore*w.Activity +
		q.CommunityScore*w.Community)
	return q
}

// NeutralQuality 分析失败时使用的全 0.5 结果
func NeutralQuality(w QualityWeights) RepositoryQuality {
	return NewRepositoryQuality(0.5, 0.5, 0.5, 0.5, 0.5, w)
}

// SuggestionWeights 是推荐总分的加权系数
type SuggestionWeights struct {
	Quality     float64
	Educational float64
	Relevance   float64
}

// DefaultSuggestionWeights quality 0.4, educational 0.3, relevance 0.3
var DefaultSuggestionWeights = SuggestionWeights{
	Quality:     0.4,
	Educational: 0.3,
	Relevance:   0.3,
}

// Score 计算推荐的综合分
func (w SuggestionWeights) Score(s RepositorySuggestion) float64 {
	return Clamp(s.Quality.OverallScore*w.Quality +
		s.EducationalValue*w.Educational +
		s.RelevanceScore*w.Relevance)
}

// RepositorySuggestion 发现流程的结果单元
type RepositorySuggestion struct {
	Repository       Repository        `json:"repository"`
	Quality          RepositoryQuality `json:"quality"`
	EducationalValue float64           `json:"educational_value"`
	RelevanceScore   float64           `json:"relevance_score"`
}

// OverallScore 使用默认权重计算综合分
func (s RepositorySuggestion) OverallScore() float64 {
	return DefaultSuggestionWeights.Score(s)
}

// RateLimitInfo 最近一次 GitHub 响应中的限流头信息快照
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	Used      int       `json:"used"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Known 是否已经从响应中获得过限流信息
func (r RateLimitInfo) Known() bool {
	return !r.UpdatedAt.IsZero()
}

// Exhausted 配额是否已耗尽
func (r RateLimitInfo) Exhausted() bool {
	return r.Known() && r.Remaining == 0
}

// RateLimitStatus 是 /rate_limit 端点的结果
type RateLimitStatus struct {
	Core   RateLimitInfo `json:"core"`
	Search RateLimitInfo `json:"search"`
}

// Clamp 把分数限制在 [0,1]
func Clamp(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	return math.Min(x, 1.0)
}
