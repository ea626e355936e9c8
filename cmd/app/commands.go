package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github-learning-scout/internal/domain"
	"github-learning-scout/internal/service"

	"github.com/spf13/cobra"
)

// discoverOptions discover 命令的过滤参数
type discoverOptions struct {
	maxResults      int
	language        string
	topics          []string
	minStars        int
	maxStars        int
	includeForks    bool
	includeArchived bool
	hasReadme       bool
	hasLicense      bool
	asJSON          bool
}

// filters 未显式传 --min-stars 时使用配置中的默认值
func (o discoverOptions) filters(defaultMinStars int) domain.SearchFilters {
	f := domain.DefaultSearchFilters()
	f.MinStars = defaultMinStars
	if o.minStars > 0 {
		f.MinStars = o.minStars
	}
	f.MaxStars = o.maxStars
	f.Language = o.language
	f.Topics = o.topics
	f.IncludeForks = o.includeForks
	f.IncludeArchived = o.includeArchived
	f.HasReadme = o.hasReadme
	f.HasLicense = o.hasLicense
	return f
}

func newDiscoverCmd() *cobra.Command {
	var opts discoverOptions
	cmd := &cobra.Command{
		Use:   "discover <concept>",
		Short: "Discover repositories for a learning concept",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			concept := strings.Join(args, " ")
			maxResults := opts.maxResults
			if maxResults <= 0 {
				maxResults = appCfg.Discovery.MaxResults
			}
			f := opts.filters(appCfg.Discovery.MinStars)

			out := cmd.OutOrStdout()
			if !opts.asJSON {
				fmt.Fprintf(out, "🔍 正在为 [%s] 寻找学习仓库...\n", concept)
			}
			suggestions, err := a.discovery.DiscoverRepositories(cmd.Context(), concept, &f, maxResults)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(out, suggestions)
			}
			printSuggestions(out, suggestions)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&opts.maxResults, "max", 0, "maximum number of suggestions (default from config)")
	fl.StringVar(&opts.language, "language", "", "restrict to a programming language")
	fl.StringSliceVar(&opts.topics, "topic", nil, "restrict to topics (repeatable)")
	fl.IntVar(&opts.minStars, "min-stars", 0, "minimum stars (default from config)")
	fl.IntVar(&opts.maxStars, "max-stars", 0, "maximum stars, 0 for no limit")
	fl.BoolVar(&opts.includeForks, "include-forks", false, "include forked repositories")
	fl.BoolVar(&opts.includeArchived, "include-archived", false, "include archived repositories")
	fl.BoolVar(&opts.hasReadme, "readme", false, "require a README")
	fl.BoolVar(&opts.hasLicense, "license", false, "require a license")
	fl.BoolVar(&opts.asJSON, "json", false, "print suggestions as JSON")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <concept>",
		Short: "Drop cached results for a concept and discover again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			concept := strings.Join(args, " ")
			ok, err := a.discovery.RefreshRepositoryCache(cmd.Context(), concept)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "✅ [%s] 缓存已刷新\n", concept)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "📭 [%s] 刷新后没有找到仓库\n", concept)
			}
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <repo-url>",
		Short: "Score a single repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			suggestion, err := a.discovery.AnalyzeRepository(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSuggestions(cmd.OutOrStdout(), []domain.RepositorySuggestion{suggestion})
			printQuality(cmd.OutOrStdout(), suggestion.Quality)
			return nil
		},
	}
}

func newCurriculumCmd() *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "curriculum <concept>",
		Short: "Build a study plan from discovered repositories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			completer, closeFn, err := newCompleter(cmd.Context(), appCfg.LLM)
			if err != nil {
				return err
			}
			defer closeFn()

			concept := strings.Join(args, " ")
			if maxResults <= 0 {
				maxResults = appCfg.Discovery.MaxResults
			}
			suggestions, err := a.discovery.DiscoverRepositories(cmd.Context(), concept, nil, maxResults)
			if err != nil {
				return err
			}
			if len(suggestions) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "📭 没有找到 [%s] 相关的仓库\n", concept)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "🤖 正在根据 %d 个仓库生成学习路线...\n", len(suggestions))
			curriculum, err := service.NewCurriculumService(completer, a.logger).Generate(cmd.Context(), concept, suggestions)
			if err != nil {
				return err
			}
			printCurriculum(cmd.OutOrStdout(), curriculum)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxResults, "max", 0, "number of repositories to plan with (default from config)")
	return cmd
}

func newRateLimitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ratelimit",
		Short: "Show the current GitHub API quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.gateway.GetRateLimitStatus(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printRate(out, "core", status.Core)
			printRate(out, "search", status.Search)
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <concept>",
		Short: "List stored suggestions for a concept",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.discovery.History(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of records to show")
	return cmd
}

// --- 输出 ---

func printSuggestions(w io.Writer, suggestions []domain.RepositorySuggestion) {
	if len(suggestions) == 0 {
		fmt.Fprintln(w, "📭 没有找到符合条件的仓库")
		return
	}
	for i, s := range suggestions {
		r := s.Repository
		fmt.Fprintf(w, "%2d. %s ⭐ %d  [%.2f]\n", i+1, r.FullName, r.Stars, s.OverallScore())
		if r.Description != "" {
			fmt.Fprintf(w, "    %s\n", r.Description)
		}
		fmt.Fprintf(w, "    quality %.2f · educational %.2f · relevance %.2f · %s\n",
			s.Quality.OverallScore, s.EducationalValue, s.RelevanceScore, r.URL)
	}
}

func printQuality(w io.Writer, q domain.RepositoryQuality) {
	fmt.Fprintf(w, "    readme %.2f · docs %.2f · structure %.2f · activity %.2f · community %.2f\n",
		q.ReadmeScore, q.DocumentationScore, q.CodeStructureScore, q.ActivityScore, q.CommunityScore)
}

func printCurriculum(w io.Writer, c domain.Curriculum) {
	fmt.Fprintf(w, "\n================ [ %s ] ================\n", c.Concept)
	if c.Summary != "" {
		fmt.Fprintln(w, c.Summary)
	}
	for _, step := range c.Steps {
		fmt.Fprintf(w, "\n%d. %s (%s)\n", step.Order, step.Title, step.Repository)
		if step.Focus != "" {
			fmt.Fprintf(w, "   重点: %s\n", step.Focus)
		}
		if step.Rationale != "" {
			fmt.Fprintf(w, "   理由: %s\n", step.Rationale)
		}
	}
}

func printRate(w io.Writer, name string, r domain.RateLimitInfo) {
	fmt.Fprintf(w, "%-6s %d/%d remaining, resets at %s\n", name, r.Remaining, r.Limit, r.Reset.Local().Format(time.RFC3339))
}

func printHistory(w io.Writer, records []domain.DiscoveryRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "📭 还没有历史记录")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s  #%d %s ⭐ %d [%.2f] run=%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Rank, r.FullName, r.Stars, r.OverallScore, r.RunID)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
