package agent

import (
	"github.com/spf13/cobra"
)

func initCollectorFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	p := "collector."
	c := defaultCfg.Collector

	f.Int(p+"max_workers", c.MaxWorkers, "-> Max concurrent dispatches | 同时执行的派发数上限")
	f.Duration(p+"shutdown_timeout", c.ShutdownTimeout, "-> Wait for running dispatches on exit | 退出等待时间")
	f.Duration(p+"http_timeout", c.HTTPTimeout, "-> HTTP provider request timeout | HTTP 数据源超时")
	f.Bool(p+"checkpoint_resume", c.CheckpointResume, "-> Resume from the process log on start | 启动时恢复断点")
	f.Bool(p+"process_metrics", c.ProcessMetrics, "-> Expose process metrics | 暴露进程指标")

	f.String(p+"process_log.driver", c.ProcessLog.Driver, "-> Process log driver [memory,postgres] | 过程日志存储")
	f.String(p+"process_log.dsn", c.ProcessLog.DSN, "-> Process log postgres DSN | 过程日志连接串")
	f.String(p+"process_log.table", c.ProcessLog.Table, "-> Process log table | 过程日志表名")
	f.Int(p+"process_log.keep", c.ProcessLog.Keep, "-> Entries kept per resource in memory | 内存保留条数")
}
