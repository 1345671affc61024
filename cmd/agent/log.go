package agent

import (
	"github.com/spf13/cobra"
)

func initLogFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	p := "log."
	l := defaultCfg.Log

	f.String(p+"level", l.Level, "-> Log level [debug,info,warn,error] | 日志级别")
	f.String(p+"format", l.Format, "-> Console log format [console,json] | 控制台日志格式")
	f.String(p+"path", l.Path, "-> Log file directory | 日志目录")
	f.Int(p+"max_size", l.MaxSize, "-> Rotate after this many MB | 单文件最大MB")
	f.Int(p+"max_backup", l.MaxBackup, "-> Files kept, replaces max_age when > 0 | 保留文件数")
	f.Int(p+"max_age", l.MaxAge, "-> Days kept | 保存天数")
}
