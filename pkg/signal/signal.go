package signal

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrShutdownTimeout 关闭函数在超时时间内未返回
var ErrShutdownTimeout = errors.New("shutdown timed out")

// WaitForShutdown 监听退出信号（SIGINT/SIGTERM）或 ctx 取消，执行优雅关闭
func WaitForShutdown(ctx context.Context, logger *zap.Logger, timeout time.Duration, shutdownFunc func(ctx context.Context) error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	return wait(ctx, sigChan, logger, timeout, shutdownFunc)
}

func wait(ctx context.Context, sigChan <-chan os.Signal, logger *zap.Logger, timeout time.Duration, shutdownFunc func(ctx context.Context) error) error {
	// 阻塞等待信号
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context done, shutting down", zap.Error(ctx.Err()))
	}

	// 超时控制关闭逻辑
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- shutdownFunc(sctx) }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("shutdown failed", zap.Error(err))
			return err
		}
		logger.Info("shutdown completed")
		return nil
	case <-sctx.Done():
		logger.Error("shutdown timed out", zap.Duration("timeout", timeout))
		return ErrShutdownTimeout
	}
}
