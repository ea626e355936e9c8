package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github-learning-scout/internal/adapter/analyzer"
	"github-learning-scout/internal/adapter/cache"
	"github-learning-scout/internal/adapter/gemini"
	"github-learning-scout/internal/adapter/github"
	openaiadapter "github-learning-scout/internal/adapter/openai"
	"github-learning-scout/internal/adapter/repository"
	"github-learning-scout/internal/common"
	"github-learning-scout/internal/config"
	"github-learning-scout/internal/port"
	"github-learning-scout/internal/service"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	appCfg  config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scout",
		Short:         "Find GitHub repositories worth learning from",
		Long:          "Turns a learning concept into a ranked list of GitHub repositories, scored for quality, educational value and relevance.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper(), cfgFile)
			if err != nil {
				return err
			}
			appCfg = cfg
			common.SetupLogger(cfg.App.LogLevel, cfg.App.LogFormat)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(
		newDiscoverCmd(),
		newRefreshCmd(),
		newInspectCmd(),
		newCurriculumCmd(),
		newRateLimitCmd(),
		newHistoryCmd(),
		newWarmCmd(),
	)
	return root
}

// app 按配置装配好的组件
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	gateway   *github.Gateway
	discovery *service.DiscoveryService
	cache     *cache.ResultCache
	store     *repository.PostgresStore
}

const cachePingTimeout = 3 * time.Second

func newApp(cfg config.Config) (*app, error) {
	logger := slog.Default()

	resultCache, err := cache.NewFromURL(cfg.Cache.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	// 缓存不可用时退化为直连，只记录警告
	pingCtx, cancel := context.WithTimeout(context.Background(), cachePingTimeout)
	if err := resultCache.Ping(pingCtx); err != nil {
		logger.Warn("cache backend unreachable, continuing without it", "error", err)
	}
	cancel()

	opts := []github.Option{github.WithLogger(logger)}
	if cfg.GitHub.BaseURL != "" {
		opts = append(opts, github.WithBaseURL(cfg.GitHub.BaseURL))
	}
	gateway, err := github.NewGateway(cfg.GitHub.Token, resultCache, opts...)
	if err != nil {
		return nil, fmt.Errorf("init github gateway: %w", err)
	}
	if cfg.GitHub.Token == "" {
		logger.Warn("no GitHub token configured, using the unauthenticated rate limit")
	}

	qa := analyzer.NewQualityAnalyzer(gateway, resultCache, logger)
	discovery := service.NewDiscoveryService(gateway, qa, resultCache, logger)
	discovery.SetMaxGoroutines(cfg.Discovery.Concurrency)

	a := &app{cfg: cfg, logger: logger, gateway: gateway, discovery: discovery, cache: resultCache}

	// 数据库是可选的，没有配置时不记录历史
	if cfg.Database.DSN != "" {
		store, err := repository.NewPostgresStore(cfg.Database.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		discovery.SetStore(store)
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("close cache", "error", err)
		}
	}
}

// newCompleter 按 llm.provider 选择大模型，返回的 close 函数总是非 nil
func newCompleter(ctx context.Context, cfg config.LLMConfig) (port.Completer, func(), error) {
	switch cfg.Provider {
	case "openai":
		c, err := openaiadapter.NewCompleter(openaiadapter.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		return c, func() {}, err
	case "gemini":
		c, err := gemini.NewCompleter(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, func() {}, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return nil, func() {}, common.NewError(common.ErrCodeInvalidInput, fmt.Sprintf("unknown llm provider %q", cfg.Provider))
	}
}
