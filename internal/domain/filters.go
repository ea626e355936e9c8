package domain

import (
	"fmt"
	"time"
)

// SearchFilters 描述发现约束，构造后按值传递，不再修改
// 零值表示"未设置"：MaxStars/MaxSizeKB 为 0 不设上限，日期为零值不过滤
// IncludeForks/IncludeArchived 默认 false，即默认排除 fork 和归档仓库
type SearchFilters struct {
	MinStars        int       `json:"min_stars"`
	MaxStars        int       `json:"max_stars,omitempty"`
	Language        string    `json:"language,omitempty"`
	Topics          []string  `json:"topics,omitempty"`
	MinSizeKB       int       `json:"min_size_kb,omitempty"`
	MaxSizeKB       int       `json:"max_size_kb,omitempty"`
	CreatedAfter    time.Time `json:"created_after,omitempty"`
	UpdatedAfter    time.Time `json:"updated_after,omitempty"`
	HasReadme       bool      `json:"has_readme,omitempty"`
	HasLicense      bool      `json:"has_license,omitempty"`
	IncludeForks    bool      `json:"include_forks,omitempty"`
	IncludeArchived bool      `json:"include_archived,omitempty"`
}

// DefaultSearchFilters 默认过滤条件：至少 10 星
func DefaultSearchFilters() SearchFilters {
	return SearchFilters{MinStars: 10}
}

// WithLanguage 返回设置了语言的副本
func (f SearchFilters) WithLanguage(lang string) SearchFilters {
	f.Language = lang
	return f
}

// WithTopics 返回设置了主题的副本，不与原切片共享底层数组
func (f SearchFilters) WithTopics(topics []string) SearchFilters {
	f.Topics = append([]string(nil), topics...)
	return f
}

// Validate 检查编程错误级别的参数问题
func (f SearchFilters) Validate() error {
	if f.MinStars < 0 {
		return fmt.Errorf("min stars must not be negative, got %d", f.MinStars)
	}
	if f.MaxStars != 0 && f.MaxStars < f.MinStars {
		return fmt.Errorf("max stars %d is below min stars %d", f.MaxStars, f.MinStars)
	}
	if f.MinSizeKB < 0 || f.MaxSizeKB < 0 {
		return fmt.Errorf("size bounds must not be negative")
	}
	if f.MaxSizeKB != 0 && f.MaxSizeKB < f.MinSizeKB {
		return fmt.Errorf("max size %d KB is below min size %d KB", f.MaxSizeKB, f.MinSizeKB)
	}
	return nil
}

// ParsedConcept 概念解析结果
type ParsedConcept struct {
	SearchTerms []string `json:"search_terms"`
	Topics      []string `json:"topics"`
	Language    string   `json:"language,omitempty"` // 空字符串表示未检测到
}

// Curriculum 基于推荐仓库生成的学习路线
type Curriculum struct {
	Concept string           `json:"concept"`
	Summary string           `json:"summary"`
	Steps   []CurriculumStep `json:"steps"`
}

// CurriculumStep 学习路线中的一步
type CurriculumStep struct {
	Order      int    `json:"order"`
	Title      string `json:"title"`
	Repository string `json:"repository"` // owner/name
	Focus      string `json:"focus"`
	Rationale  string `json:"rationale"`
}

// DiscoveryRecord 一次发现运行中持久化的单条推荐
type DiscoveryRecord struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	RunID            string    `json:"run_id" gorm:"index"`
	Concept          string    `json:"concept" gorm:"index"`
	Rank             int       `json:"rank"`
	FullName         string    `json:"full_name"`
	URL              string    `json:"url"`
	Description      string    `json:"description"`
	Language         string    `json:"language"`
	Stars            int       `json:"stars"`
	QualityScore     float64   `json:"quality_score"`
	EducationalValue float64   `json:"educational_value"`
	RelevanceScore   float64   `json:"relevance_score"`
	OverallScore     float64   `json:"overall_score"`
	CreatedAt        time.Time `json:"created_at"`
}
