package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/terrama-collector/pkg/config"
	"github.com/terrama-collector/pkg/goid"
)

type Logger = zap.Logger

const timeLayout = "2006-01-02 15:04:05.000 -07:00"

var (
	baseLogger       *zap.Logger
	defaultComponent = "collector"
	loggerInitOnce   sync.Once
	mu               sync.RWMutex
)

// Init 初始化全局日志（只生效一次）
func Init(cfg config.ZapLogConfig) error {
	var err error
	loggerInitOnce.Do(func() {
		var l *zap.Logger
		if l, err = New(cfg, os.Stdout); err != nil {
			return
		}
		mu.Lock()
		baseLogger = l
		mu.Unlock()
	})
	return err
}

// New 构建日志：控制台 + 按天切割的 JSON 文件
func New(cfg config.ZapLogConfig, console io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, err
	}

	opts := []rotatelogs.Option{
		rotatelogs.WithRotationTime(24 * time.Hour),
		rotatelogs.WithRotationSize(int64(cfg.MaxSize) * 1024 * 1024),
	}
	// 按个数或按天数清理，两者不能同时设置
	if cfg.MaxBackup > 0 {
		opts = append(opts, rotatelogs.WithRotationCount(uint(cfg.MaxBackup)))
	} else {
		opts = append(opts, rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge)*24*time.Hour))
	}
	writer, err := rotatelogs.New(filepath.Join(cfg.Path, "collector-%Y%m%d.log"), opts...)
	if err != nil {
		return nil, err
	}

	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.TimeKey = "timestamp"
	jsonCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	jsonCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(jsonCfg)

	consoleEncoder := jsonEncoder
	if cfg.Format != "json" {
		consoleEncoder = newConsoleEncoder()
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(console), level),
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(writer), level),
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func newConsoleEncoder() zapcore.Encoder {
	// 控制台彩色时间
	customTimeEncoderConsole := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format(timeLayout)))
	}
	coloredLevelEncoder := func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		var levelStr string
		switch level {
		case zapcore.DebugLevel:
			levelStr = "\033[36mDEBUG\033[0m"
		case zapcore.InfoLevel:
			levelStr = "\033[32mINFO \033[0m"
		case zapcore.WarnLevel:
			levelStr = "\033[33mWARN \033[0m"
		case zapcore.ErrorLevel:
			levelStr = "\033[31mERROR\033[0m"
		case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
			levelStr = "\033[35m" + level.CapitalString() + "\033[0m"
		default:
			levelStr = "UNK  "
		}
		enc.AppendString(levelStr)
	}

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.ConsoleSeparator = " "
	consoleEncoderCfg.EncodeLevel = coloredLevelEncoder
	consoleEncoderCfg.EncodeTime = customTimeEncoderConsole
	// Caller 两级路径
	consoleEncoderCfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}
	return zapcore.NewConsoleEncoder(consoleEncoderCfg)
}

func SetDefaultComponent(component string) {
	mu.Lock()
	defer mu.Unlock()
	defaultComponent = component
}

func GetDefaultComponent() string {
	mu.RLock()
	defer mu.RUnlock()
	return defaultComponent
}

// Named returns a child logger tagged with component. Before Init it is a no-op logger.
func Named(component string) *zap.Logger {
	return GetLogger().With(zap.String("component", component))
}

func log(level zapcore.Level, msg string, fields ...zapcore.Field) {
	mu.RLock()
	l, component := baseLogger, defaultComponent
	mu.RUnlock()
	if l == nil {
		panic("logger not initialized: call logger.Init() first")
	}

	fields = append(fields,
		zap.String("component", component),
		zap.String("goid", goid.String()),
	)
	l.WithOptions(zap.AddCallerSkip(2)).Log(level, msg, fields...)
}

func Debug(msg string, fields ...zapcore.Field) { log(zap.DebugLevel, msg, fields...) }
func Info(msg string, fields ...zapcore.Field)  { log(zap.InfoLevel, msg, fields...) }
func Warn(msg string, fields ...zapcore.Field)  { log(zap.WarnLevel, msg, fields...) }
func Error(msg string, fields ...zapcore.Field) { log(zap.ErrorLevel, msg, fields...) }
func Panic(msg string, fields ...zapcore.Field) { log(zap.PanicLevel, msg, fields...) }
func Fatal(msg string, fields ...zapcore.Field) { log(zap.FatalLevel, msg, fields...) }

func Sync() error {
	mu.RLock()
	l := baseLogger
	mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}

// GetLogger 返回全局日志，未初始化时返回 Nop
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if baseLogger == nil {
		return zap.NewNop()
	}
	return baseLogger
}

// ReplaceForTest 替换全局日志，返回恢复函数
func ReplaceForTest(l *zap.Logger) func() {
	mu.Lock()
	prev := baseLogger
	baseLogger = l
	mu.Unlock()
	return func() {
		mu.Lock()
		baseLogger = prev
		mu.Unlock()
	}
}
