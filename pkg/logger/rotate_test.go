package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterRotatesBySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w := &rotatingWriter{
		path:       path,
		maxBytes:   32,
		maxBackups: 5,
		maxAge:     time.Hour,
	}
	defer w.Close()

	line := []byte(strings.Repeat("x", 20) + "\n")
	if _, err := w.Write(line); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	// 第二行会超过上限，当前文件应先轮转成历史文件。
	if _, err := w.Write(line); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	backups, err := filepath.Glob(path + ".*")
	if err != nil || len(backups) != 1 {
		t.Fatalf("应产生一个历史文件, 实际: %v %v", backups, err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取当前文件失败: %v", err)
	}
	if len(content) != len(line) {
		t.Fatalf("轮转后当前文件应只含最新一行, 实际 %d 字节", len(content))
	}
}

func TestRotatingWriterPrunesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w := &rotatingWriter{
		path:       path,
		maxBytes:   8,
		maxBackups: 2,
		maxAge:     time.Hour,
	}
	defer w.Close()

	for i := 0; i < 6; i++ {
		if _, err := w.Write([]byte("0123456\n")); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
		// 时间戳后缀带毫秒位，稍作间隔保证文件名互不相同。
		time.Sleep(2 * time.Millisecond)
	}

	backups, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("列举历史文件失败: %v", err)
	}
	if len(backups) > 2 {
		t.Fatalf("历史文件不应超过保留份数: %v", backups)
	}
}

func TestRotatingWriterPrunesByAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	stale := path + ".20200101-000000.000"
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("写入历史文件失败: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("修改文件时间失败: %v", err)
	}

	w := &rotatingWriter{
		path:       path,
		maxBytes:   8,
		maxBackups: 5,
		maxAge:     24 * time.Hour,
	}
	defer w.Close()
	if _, err := w.Write([]byte("0123456\n")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if _, err := w.Write([]byte("0123456\n")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("超龄历史文件应被清理: %v", err)
	}
}

func TestNewRotatingWriterValidatesPath(t *testing.T) {
	if _, err := newRotatingWriter("", 1, 1, 1); err == nil {
		t.Fatal("空路径应报错")
	}
}

func TestNewRotatingWriterDefaults(t *testing.T) {
	w, err := newRotatingWriter(filepath.Join(t.TempDir(), "a.log"), 0, 0, 0)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if w.maxBytes != 100*1024*1024 || w.maxBackups != 7 || w.maxAge != 30*24*time.Hour {
		t.Fatalf("非法参数应回退到默认值: %+v", w)
	}
}
