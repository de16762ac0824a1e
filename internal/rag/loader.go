package rag

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"Legend-Guardian/pkg/logger"
)

// 可加载的文档后缀。
var loadableExtensions = map[string]struct{}{
	".md":   {},
	".txt":  {},
	".pure": {},
	".json": {},
	".yaml": {},
	".yml":  {},
}

// LoadDir 递归加载目录下的文档并写入索引，返回加载的文档数量。
// 目录不存在视作空知识库，不报错。
func LoadDir(ctx context.Context, idx *Index, dir string) (int, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		logger.L().Info("知识库目录不存在, 跳过加载", "dir", dir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("访问知识库目录失败: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("知识库路径不是目录: %s", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := loadableExtensions[ext]; ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("遍历知识库目录失败: %w", err)
	}
	// 固定加载顺序，保证索引内容可复现。
	sort.Strings(paths)

	loaded := 0
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			logger.L().Warn("读取文档失败, 已跳过", "path", path, "error", err)
			continue
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		if _, err := idx.Ingest(ctx, rel, string(content)); err != nil {
			return loaded, err
		}
		loaded++
	}
	logger.L().Info("知识库加载完成", "dir", dir, "documents", loaded, "chunks", idx.Len())
	return loaded, nil
}
