// Package logger 提供进程级结构化日志。运行日志与审计日志分流：
// 运行日志面向排障，审计日志记录会话完成与账本存证，按大小翻转、
// 长期留存。
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config 描述日志行为。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig 控制审计流的落盘与翻转。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// state 持有已初始化的日志器与待关闭的落盘目标。
// 重复 Init 是编程错误，第一次配置生效后不再变更。
type state struct {
	mu      sync.Mutex
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var global state

// Init 按配置初始化全局日志器。进程启动时调用一次；
// 未调用时 L 会退回 stdout JSON 输出。
func Init(cfg Config) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.app != nil {
		return errors.New("logger already initialised")
	}
	return global.configure(cfg)
}

func (s *state) configure(cfg Config) error {
	sink, err := s.combinedSink(cfg.OutputPaths)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(sink, opts)
	} else {
		handler = slog.NewJSONHandler(sink, opts)
	}
	s.app = slog.New(handler)

	// 审计流未启用时退回运行日志，调用方不必判空。
	s.audit = s.app
	if cfg.Audit.Enabled {
		file, err := openAuditFile(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, file)
		auditHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelInfo})
		s.audit = slog.New(auditHandler).With("stream", "audit")
	}
	return nil
}

// combinedSink 打开全部输出目标并合并成一个 writer。
func (s *state) combinedSink(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch strings.ToLower(path) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			s.closers = append(s.closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L 返回运行日志器，未初始化时按默认配置惰性初始化。
func L() *slog.Logger {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.app == nil {
		_ = global.configure(Config{})
	}
	return global.app
}

// Audit 返回审计日志器。
func Audit() *slog.Logger {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.audit != nil {
		return global.audit
	}
	if global.app == nil {
		_ = global.configure(Config{})
	}
	return global.app
}

// Named 返回带组件名的子日志器。
func Named(name string) *slog.Logger {
	return L().With("component", name)
}

// Sync 关闭全部落盘目标，进程退出前调用。
func Sync() error {
	global.mu.Lock()
	defer global.mu.Unlock()
	var err error
	for _, closer := range global.closers {
		err = errors.Join(err, closer.Close())
	}
	global.closers = nil
	return err
}
