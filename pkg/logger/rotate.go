package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// backupStamp 是轮转文件的时间后缀格式，毫秒位避免同秒内两次轮转互相覆盖。
const backupStamp = "20060102-150405.000"

// rotatingWriter 按大小轮转日志文件，历史文件带时间戳后缀，
// 超出份数或保留期限的历史文件会被清理。
type rotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	written    int64
	path       string
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotatingWriter, error) {
	if path == "" {
		return nil, errors.New("轮转日志必须指定路径")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &rotatingWriter{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.written+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.written = 0
	return err
}

func (w *rotatingWriter) open() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("读取日志文件信息失败: %w", err)
	}
	w.file = file
	w.written = info.Size()
	return nil
}

// rotate 把当前文件改名为带时间戳的历史文件，随后清理过旧的历史。
func (w *rotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.written = 0

	if _, err := os.Stat(w.path); err == nil {
		backup := w.path + "." + time.Now().Format(backupStamp)
		if err := os.Rename(w.path, backup); err != nil {
			return fmt.Errorf("轮转日志文件失败: %w", err)
		}
	}
	w.prune()
	return nil
}

// prune 按保留份数和保留期限删除历史文件，文件名按时间戳后缀排序。
func (w *rotatingWriter) prune() {
	backups, err := filepath.Glob(w.path + ".*")
	if err != nil || len(backups) == 0 {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	cutoff := time.Now().Add(-w.maxAge)
	for i, backup := range backups {
		if i >= w.maxBackups {
			_ = os.Remove(backup)
			continue
		}
		info, err := os.Stat(backup)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(backup)
		}
	}
}
