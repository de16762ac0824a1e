package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type snapshot struct {
	Seq    int     `json:"seq"`
	Chunks []Chunk `json:"chunks"`
}

// Save 把索引内容序列化到磁盘，便于重启后免去重新向量化。
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	snap := snapshot{Seq: idx.seq, Chunks: idx.chunks}
	raw, err := json.Marshal(snap)
	idx.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("序列化索引快照失败: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建快照目录失败: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("写入索引快照失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("替换索引快照失败: %w", err)
	}
	return nil
}

// Restore 从磁盘快照恢复索引，文件不存在时保持为空索引。
func (idx *Index) Restore(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取索引快照失败: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("解析索引快照失败: %w", err)
	}

	idx.mu.Lock()
	idx.chunks = snap.Chunks
	idx.seq = snap.Seq
	idx.mu.Unlock()
	return nil
}
