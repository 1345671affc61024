package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/terrama-collector/pkg/storage"
)

// Validate HTTP服务配置校验
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	if h.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	// 用net包解析地址，验证格式合法性
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected: :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}

// Validate 采集调度配置校验
func (c *CollectorConfig) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	return c.ProcessLog.Validate()
}

// Validate postgres 模式必须提供连接串，表名必须是合法标识符
func (p *ProcessLogConfig) Validate() error {
	if err := valid.Struct(p); err != nil {
		return err
	}
	if p.Driver != "postgres" {
		return nil
	}
	if p.DSN == "" {
		return errors.New("collector.process_log.dsn is required for the postgres driver")
	}
	if !storage.ValidIdentifier(p.Table) {
		return fmt.Errorf("collector.process_log.table must be a valid SQL identifier, got %q", p.Table)
	}
	return nil
}
