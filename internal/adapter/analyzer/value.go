package analyzer

import (
	"strings"
	"unicode/utf8"

	"github-learning-scout/internal/domain"
)

var (
	popularLanguages = map[string]bool{
		"python": true, "javascript": true, "java": true, "typescript": true, "go": true,
	}
	learningHints = []string{
		"tutorial", "example", "learn", "guide", "course", "demo", "sample",
		"boilerplate", "starter", "awesome", "workshop",
	}
)

// EducationalValue 估计仓库作为学习材料的价值，不访问网络
func EducationalValue(repo domain.Repository) float64 {
	score := 0.0

	switch {
	case repo.SizeKB >= 100 && repo.SizeKB <= 5000:
		score += 0.3
	case repo.SizeKB > 5000 && repo.SizeKB <= 20000:
		score += 0.2
	default:
		score += 0.1
	}

	lang := strings.ToLower(repo.Language)
	switch {
	case popularLanguages[lang]:
		score += 0.2
	case lang != "":
		score += 0.1
	}

	switch n := utf8.RuneCountInString(repo.Description); {
	case n > 50:
		score += 0.2
	case n > 0:
		score += 0.1
	}

	topicBonus := float64(len(repo.Topics)) * 0.05
	if topicBonus > 0.15 {
		topicBonus = 0.15
	}
	score += topicBonus

	text := strings.ToLower(repo.Name + " " + repo.Description + " " + strings.Join(repo.Topics, " "))
	if containsAny(text, learningHints) {
		score += 0.15
	}

	return domain.Clamp(score)
}

// RelevanceScore 仓库与搜索词的匹配程度
// 词重合率占 0.6，主题命中 0.2，stars 落在合理区间最多 0.2
func RelevanceScore(repo domain.Repository, terms []string) float64 {
	score := 0.0

	if len(terms) > 0 {
		text := strings.ToLower(repo.FullName + " " + repo.Description + " " + strings.Join(repo.Topics, " "))
		matched := 0
		for _, t := range terms {
			if strings.Contains(text, strings.ToLower(t)) {
				matched++
			}
		}
		score += float64(matched) / float64(len(terms)) * 0.6

		topics := make(map[string]bool, len(repo.Topics))
		for _, topic := range repo.Topics {
			topics[strings.ToLower(topic)] = true
		}
		for _, t := range terms {
			if topics[topicSlug(t)] {
				score += 0.2
				break
			}
		}
	}

	switch {
	case repo.Stars >= 100 && repo.Stars <= 10000:
		score += 0.2
	case repo.Stars > 10000:
		score += 0.15
	case repo.Stars >= 10:
		score += 0.1
	}

	return domain.Clamp(score)
}

func topicSlug(term string) string {
	return strings.NewReplacer(" ", "-", "/", "-").Replace(strings.ToLower(term))
}
