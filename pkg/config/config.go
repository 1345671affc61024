package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var valid = validator.New()

// EnvPrefix 环境变量前缀（TERRAMA_SERVER_ADDR -> server.addr）
const EnvPrefix = "TERRAMA"

// Config 全局配置
type Config struct {
	Server    ServerConfig     `yaml:"server" mapstructure:"server" comment:"HTTP服务配置"`
	Collector CollectorConfig  `yaml:"collector" mapstructure:"collector" comment:"采集调度配置"`
	Log       ZapLogConfig     `yaml:"log" mapstructure:"log" comment:"日志配置"`
	Resources []ResourceConfig `yaml:"resources" mapstructure:"resources" comment:"采集资源列表"`
}

// ServerConfig HTTP服务配置（超时支持 "30s" 格式）
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" validate:"required" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"required,gt=0" comment:"读取超时时间"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"required,gt=0" comment:"写入超时时间"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"required,gt=0" comment:"空闲连接超时时间"`
}

// CollectorConfig 采集调度配置
type CollectorConfig struct {
	MaxWorkers       int              `yaml:"max_workers" mapstructure:"max_workers" validate:"gt=0,lte=1024" comment:"同时执行的派发数上限" default:"4"`
	ShutdownTimeout  time.Duration    `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gt=0" comment:"退出时等待执行中派发的最长时间" default:"30s"`
	HTTPTimeout      time.Duration    `yaml:"http_timeout" mapstructure:"http_timeout" validate:"gt=0" comment:"HTTP 数据源请求超时" default:"60s"`
	CheckpointResume bool             `yaml:"checkpoint_resume" mapstructure:"checkpoint_resume" comment:"启动时从过程日志恢复采集断点" default:"true"`
	ProcessMetrics   bool             `yaml:"process_metrics" mapstructure:"process_metrics" comment:"是否暴露进程指标" default:"true"`
	ProcessLog       ProcessLogConfig `yaml:"process_log" mapstructure:"process_log" comment:"采集过程日志"`
	Database         DatabaseConfig   `yaml:"database" mapstructure:"database" comment:"数据库连接池"`
}

// ProcessLogConfig 采集过程日志配置
type ProcessLogConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required,oneof=memory postgres" comment:"memory / postgres" default:"memory"`
	DSN    string `yaml:"dsn" mapstructure:"dsn" comment:"postgres 连接串"`
	Table  string `yaml:"table" mapstructure:"table" comment:"日志表名" default:"collector_log"`
	Keep   int    `yaml:"keep" mapstructure:"keep" validate:"gte=0" comment:"memory 模式下每个资源保留的条目数，0 表示不限" default:"500"`
}

// DatabaseConfig 连接池参数（所有 PostGIS 资源共享）
type DatabaseConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns" validate:"gte=0" default:"8"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns" validate:"gte=0" default:"2"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime" validate:"gte=0" default:"30m"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level     string `yaml:"level" mapstructure:"level" validate:"required,oneof=debug info warn error" comment:"日志级别" default:"info"`
	Format    string `yaml:"format" mapstructure:"format" validate:"required,oneof=json console" comment:"控制台日志格式（json/console）" default:"console"`
	Path      string `yaml:"path" mapstructure:"path" validate:"required" comment:"日志存储路径" default:"./logs"`
	MaxSize   int    `yaml:"max_size" mapstructure:"max_size" validate:"required,gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxBackup int    `yaml:"max_backup" mapstructure:"max_backup" validate:"gte=0" comment:"保留的日志文件个数，>0 时替代 max_age 按个数清理" default:"0"`
	MaxAge    int    `yaml:"max_age" mapstructure:"max_age" validate:"required,gt=0" comment:"日志文件最大保存天数" default:"7"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，避免非法值）
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "0.0.0.0:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Collector: CollectorConfig{
			MaxWorkers:       4,
			ShutdownTimeout:  30 * time.Second,
			HTTPTimeout:      60 * time.Second,
			CheckpointResume: true,
			ProcessMetrics:   true,
			ProcessLog: ProcessLogConfig{
				Driver: "memory",
				Table:  "collector_log",
				Keep:   500,
			},
			Database: DatabaseConfig{
				MaxOpenConns:    8,
				MaxIdleConns:    2,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		Log: ZapLogConfig{
			Level:     "info",
			Format:    "console",
			Path:      "./logs",
			MaxSize:   100,
			MaxBackup: 0,
			MaxAge:    7,
		},
	}
}

// LoadConfigWithCli 加载配置，优先级 Flags > ENV > YAML > 默认值
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// 1. 绑定 Cobra Flags → Viper
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	// 2. 解析配置文件 (--config)
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}
	return decode(v)
}

// Load 仅从 YAML 文件（和环境变量）加载配置
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()

	// 环境变量 TERRAMA_COLLECTOR_MAX_WORKERS -> collector.max_workers
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	decoderConfig := &mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate 配置校验（资源条目的错误不在此处理，见 Descriptors）
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	// 1，校验Server服务配置
	if err := c.Server.Validate(); err != nil {
		return err
	}
	// 2，校验采集配置
	if err := c.Collector.Validate(); err != nil {
		return err
	}
	// 3，校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
