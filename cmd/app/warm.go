package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github-learning-scout/internal/adapter/feishu"
	"github-learning-scout/internal/domain"
	"github-learning-scout/internal/port"
	"github-learning-scout/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// 单个概念一次刷新的超时
const warmTimeout = 5 * time.Minute

// conceptRefresher 由 DiscoveryService 实现
type conceptRefresher interface {
	RefreshRepositoryCache(ctx context.Context, text string) (bool, error)
	DiscoverRepositories(ctx context.Context, text string, filters *domain.SearchFilters, maxResults int) ([]domain.RepositorySuggestion, error)
}

func newWarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Periodically refresh the configured concepts until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(appCfg.Warm.Concepts) == 0 {
				return fmt.Errorf("warm.concepts is empty, nothing to refresh")
			}

			a, err := newApp(appCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			// 设置信号处理，优雅关闭
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var notifier port.Notifier
			if appCfg.Notify.FeishuWebhook != "" {
				notifier = feishu.NewNotifier(appCfg.Notify.FeishuWebhook, a.logger)
			}

			c := newWarmCron(a.logger)
			if err := scheduleWarm(ctx, c, appCfg.Warm.Schedule, a.discovery, notifier, appCfg.Warm.Concepts, a.logger); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "⏰ 预热已启动 (%s)，共 %d 个概念\n", appCfg.Warm.Schedule, len(appCfg.Warm.Concepts))
			fmt.Fprintln(cmd.OutOrStdout(), "按下 Ctrl+C 可以优雅停止程序")

			// 立即执行一次
			warmOnce(ctx, a.discovery, notifier, appCfg.Warm.Concepts, a.logger)

			c.Start()
			<-ctx.Done()

			fmt.Fprintln(cmd.OutOrStdout(), "\n👋 收到停止信号，正在等待当前任务结束...")
			<-c.Stop().Done()
			return nil
		},
	}
}

// newWarmCron 上一轮预热未结束时跳过本轮，避免同一概念被并发刷新
func newWarmCron(logger *slog.Logger) *cron.Cron {
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	return cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)
}

// scheduleWarm 注册定时任务，schedule 非法时返回错误
func scheduleWarm(ctx context.Context, c *cron.Cron, schedule string, r conceptRefresher, notifier port.Notifier, concepts []string, logger *slog.Logger) error {
	_, err := c.AddFunc(schedule, func() {
		warmOnce(ctx, r, notifier, concepts, logger)
	})
	if err != nil {
		return fmt.Errorf("invalid warm schedule %q: %w", schedule, err)
	}
	return nil
}

// warmOnce 依次刷新每个概念，单个失败不影响其余概念
// notifier 非 nil 时把刷新后的推荐推送出去
func warmOnce(ctx context.Context, r conceptRefresher, notifier port.Notifier, concepts []string, logger *slog.Logger) (refreshed int) {
	for _, concept := range concepts {
		if ctx.Err() != nil {
			return refreshed
		}

		cctx, cancel := context.WithTimeout(ctx, warmTimeout)
		ok, err := r.RefreshRepositoryCache(cctx, concept)

		switch {
		case err != nil:
			logger.Error("warm refresh failed", "concept", concept, "error", err)
		case !ok:
			logger.Warn("warm refresh found nothing", "concept", concept)
		default:
			refreshed++
			logger.Info("warm refresh done", "concept", concept)
			if notifier != nil {
				notifyDigest(cctx, r, notifier, concept, logger)
			}
		}
		cancel()
	}
	return refreshed
}

// notifyDigest 刷新刚写入缓存，这里的发现请求直接命中缓存
func notifyDigest(ctx context.Context, r conceptRefresher, notifier port.Notifier, concept string, logger *slog.Logger) {
	suggestions, err := r.DiscoverRepositories(ctx, concept, nil, service.DefaultMaxResults)
	if err != nil {
		logger.Error("load suggestions for digest", "concept", concept, "error", err)
		return
	}
	if err := notifier.NotifyDigest(ctx, concept, suggestions); err != nil {
		logger.Error("digest push failed", "concept", concept, "error", err)
	}
}

