package query

import (
	"fmt"
	"strings"

	"github-learning-scout/internal/domain"
)

const (
	// MaxTerms OR 组中最多的搜索词数
	MaxTerms = 5
	// MaxTopics 最多的 topic: 子句数
	MaxTopics = 3

	dateLayout = "2006-01-02"
)

// Build 按固定顺序渲染 GitHub 搜索查询串，输出是确定的
func Build(terms []string, f domain.SearchFilters) string {
	var clauses []string

	if len(terms) > 0 {
		quoted := make([]string, 0, MaxTerms)
		for _, t := range first(terms, MaxTerms) {
			quoted = append(quoted, fmt.Sprintf("%q", t))
		}
		clauses = append(clauses, "("+strings.Join(quoted, " OR ")+")")
	}

	clauses = append(clauses, rangeClause("stars", f.MinStars, f.MaxStars))

	if f.Language != "" {
		clauses = append(clauses, "language:"+f.Language)
	}

	for _, topic := range first(f.Topics, MaxTopics) {
		clauses = append(clauses, "topic:"+topic)
	}

	if f.MinSizeKB > 0 || f.MaxSizeKB > 0 {
		clauses = append(clauses, rangeClause("size", f.MinSizeKB, f.MaxSizeKB))
	}

	if !f.CreatedAfter.IsZero() {
		clauses = append(clauses, "created:>="+f.CreatedAfter.Format(dateLayout))
	}
	if !f.UpdatedAfter.IsZero() {
		clauses = append(clauses, "pushed:>="+f.UpdatedAfter.Format(dateLayout))
	}

	if !f.IncludeForks {
		clauses = append(clauses, "fork:false")
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived:false")
	}
	if f.HasReadme {
		clauses = append(clauses, "readme:true")
	}
	if f.HasLicense {
		clauses = append(clauses, "license:true")
	}

	return strings.Join(clauses, " ")
}

func rangeClause(qualifier string, min, max int) string {
	if max > 0 {
		return fmt.Sprintf("%s:%d..%d", qualifier, min, max)
	}
	return fmt.Sprintf("%s:>=%d", qualifier, min)
}

func first(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
