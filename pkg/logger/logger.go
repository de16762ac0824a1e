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

// Config 控制全局日志器的行为。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	once          sync.Once
	closers       []io.Closer
	initErr       error
)

// Init 初始化进程级日志器，重复调用只生效第一次。
func Init(cfg Config) error {
	once.Do(func() {
		base, err := newSink(cfg.OutputPaths)
		if err != nil {
			initErr = err
			return
		}
		opts := &slog.HandlerOptions{Level: levelOf(cfg.Level), AddSource: true}
		if strings.EqualFold(cfg.Format, "text") {
			defaultLogger = slog.New(slog.NewTextHandler(base, opts))
		} else {
			defaultLogger = slog.New(slog.NewJSONHandler(base, opts))
		}

		// 审计日志独立落盘，未开启时复用主日志器。
		auditLogger = defaultLogger
		if cfg.Audit.Enabled {
			if cfg.Audit.Path == "" {
				initErr = errors.New("开启审计日志时必须指定落盘路径")
				return
			}
			rotator, err := newRotatingWriter(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
			if err != nil {
				initErr = err
				return
			}
			closers = append(closers, rotator)
			auditLogger = slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelInfo}))
		}
	})
	if initErr != nil {
		return initErr
	}
	if defaultLogger == nil {
		return errors.New("日志器已初始化")
	}
	return nil
}

// newSink 把输出路径列表汇成一个写入目标，缺省写到标准输出。
func newSink(paths []string) (io.Writer, error) {
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
				return nil, fmt.Errorf("创建日志目录失败: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("打开日志文件 %s 失败: %w", path, err)
			}
			closers = append(closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func levelOf(level string) slog.Level {
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

// L 返回全局日志器，未初始化时按默认配置自举。
func L() *slog.Logger {
	if defaultLogger == nil {
		_ = Init(Config{})
	}
	return defaultLogger
}

// Audit 返回审计日志器。
func Audit() *slog.Logger {
	if auditLogger == nil {
		return L()
	}
	return auditLogger
}

// Sync 关闭全部文件输出，进程退出前调用。
func Sync() error {
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}
