// Package storage shares database handles between collectors and the process logger.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidIdentifier reports whether name is a plain (optionally schema qualified)
// SQL identifier that is safe to interpolate into a statement.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

// Opener opens a *sql.DB for a DSN.
type Opener func(dsn string) (*sql.DB, error)

// PostgresOpener opens connections through lib/pq.
func PostgresOpener(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

// Options 连接池参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Pool caches one *sql.DB per DSN so resources that share a database
// also share its connections.
type Pool struct {
	mu     sync.Mutex
	open   Opener
	opts   Options
	dbs    map[string]*sql.DB
	logger *zap.Logger
}

// NewPool 创建数据库连接池缓存
func NewPool(open Opener, opts Options, logger *zap.Logger) *Pool {
	if open == nil {
		open = PostgresOpener
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{open: open, opts: opts, dbs: make(map[string]*sql.DB), logger: logger}
}

// Get returns the shared handle for dsn, opening it on first use.
func (p *Pool) Get(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database dsn")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.dbs[dsn]; ok {
		return db, nil
	}
	db, err := p.open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if p.opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.opts.MaxOpenConns)
	}
	if p.opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.opts.MaxIdleConns)
	}
	if p.opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.opts.ConnMaxLifetime)
	}
	p.dbs[dsn] = db
	p.logger.Debug("database handle opened", zap.Int("handles", len(p.dbs)))
	return db, nil
}

// Put registers an existing handle for dsn (used by tests and embedders).
func (p *Pool) Put(dsn string, db *sql.DB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dbs[dsn] = db
}

// Ping checks every open handle.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.Lock()
	dbs := make([]*sql.DB, 0, len(p.dbs))
	for _, db := range p.dbs {
		dbs = append(dbs, db)
	}
	p.mu.Unlock()
	for _, db := range dbs {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭所有连接，返回最后一个错误（不阻断整体关闭）
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr error
	for dsn, db := range p.dbs {
		if err := db.Close(); err != nil {
			p.logger.Error("failed to close database handle", zap.Error(err))
			lastErr = err
		}
		delete(p.dbs, dsn)
	}
	return lastErr
}
