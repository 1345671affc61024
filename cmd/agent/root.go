package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terrama-collector/cmd/server"
	"github.com/terrama-collector/pkg/app"
	"github.com/terrama-collector/pkg/config"
	"github.com/terrama-collector/pkg/logger"
	"github.com/terrama-collector/pkg/signal"
	"github.com/terrama-collector/pkg/util"
)

const httpShutdownTimeout = 5 * time.Second

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "terrama-collector",
	Short: "Periodic per-resource data collector with process logging and Prometheus metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithCli(cmd)
		if err != nil {
			// 统一输出错误到 stderr，不返回给 cobra
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "请检查配置文件路径或使用 -c 参数指定\n")
			os.Exit(1)
		}
		if err := runServer(cmd.Context(), cfg); err != nil {
			fmt.Fprintf(os.Stderr, "服务运行失败: %v\n", err)
			os.Exit(1)
		}
		return nil
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "配置文件路径")
	// 注册分组 flag
	initServerFlags(rootCmd)
	initCollectorFlags(rootCmd)
	initLogFlags(rootCmd)
	rootCmd.AddCommand(validateCmd, versionCmd)
}

func runServer(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	util.PrintBanner(os.Stdout, "TerraMA", "cyan", server.Version)

	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	// 程序退出时刷盘
	defer logger.Sync()
	logger.SetDefaultComponent("agent")
	log := logger.Named("agent")

	a, err := app.New(ctx, cfg, app.WithLogger(logger.GetLogger()))
	if err != nil {
		return fmt.Errorf("init collector: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start collector: %w", err)
	}
	httpServer := server.NewHTTPServer(cfg.Server, logger.Named("http"), a)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Run)
	g.Go(func() error {
		timeout := httpShutdownTimeout + cfg.Collector.ShutdownTimeout
		return signal.WaitForShutdown(gctx, log, timeout, func(sctx context.Context) error {
			// 关闭顺序：HTTP服务 → 调度器（等待执行中的派发）→ 数据库
			hctx, cancel := context.WithTimeout(sctx, httpShutdownTimeout)
			herr := httpServer.Shutdown(hctx)
			cancel()

			actx, cancel := context.WithTimeout(sctx, cfg.Collector.ShutdownTimeout)
			defer cancel()
			if err := a.Shutdown(actx); err != nil {
				log.Warn("collector shutdown incomplete", zap.Error(err))
				return err
			}
			if herr != nil {
				return herr
			}
			logger.Info("all services shutdown successfully")
			return nil
		})
	})
	return g.Wait()
}
