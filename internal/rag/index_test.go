package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// stubEmbedder 用固定向量模拟向量化服务。
type stubEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if v, ok := s.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float64{0, 0, 1}
		}
	}
	return out, nil
}

func TestQueryLexicalFallback(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()

	if _, err := idx.Ingest(ctx, "sdlc.md", "create workspace before editing entities"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if _, err := idx.Ingest(ctx, "engine.md", "compile the model with the engine service"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	results, err := idx.Query(ctx, "compile model", 5)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("应返回至少一个结果")
	}
	if results[0].Chunk.Source != "engine.md" {
		t.Fatalf("词面重合度最高的文档应排在首位, 实际: %s", results[0].Chunk.Source)
	}
	if results[0].Score <= 0 || results[0].Score > 1 {
		t.Fatalf("Jaccard 分数应落在 (0,1]: %f", results[0].Score)
	}
}

func TestQueryCosineWithEmbedder(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float64{
		"alpha document": {1, 0, 0},
		"beta document":  {0, 1, 0},
		"alpha":          {1, 0, 0},
	}}
	idx := NewIndex(WithEmbedder(embedder))
	ctx := context.Background()

	if _, err := idx.Ingest(ctx, "a.md", "alpha document"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if _, err := idx.Ingest(ctx, "b.md", "beta document"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	results, err := idx.Query(ctx, "alpha", 1)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.Source != "a.md" {
		t.Fatalf("余弦相似度应选中 a.md, 实际: %+v", results)
	}
	if results[0].Score < 0.99 {
		t.Fatalf("同向向量的余弦相似度应接近 1: %f", results[0].Score)
	}
}

func TestQueryEmbedderFailureFallsBack(t *testing.T) {
	idx := NewIndex(WithEmbedder(&stubEmbedder{err: errors.New("unreachable")}))
	ctx := context.Background()

	if _, err := idx.Ingest(ctx, "doc.md", "publish the depot version"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	results, err := idx.Query(ctx, "publish depot", 3)
	if err != nil {
		t.Fatalf("向量化失败不应导致检索报错: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("应回退到词面检索并命中文档")
	}
}

func TestQueryPartialEmbeddingFallsBackToLexical(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float64{
		"alpha release notes": {1, 0, 0},
		"rollback alpha":      {1, 0, 0},
	}}
	idx := NewIndex(WithEmbedder(embedder))
	ctx := context.Background()

	if _, err := idx.Ingest(ctx, "vec.md", "alpha release notes"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	// 第二篇写入时向量化失败, 索引里出现有向量与无向量混存的切片。
	embedder.err = errors.New("unreachable")
	if _, err := idx.Ingest(ctx, "lex.md", "rollback alpha now"); err != nil {
		t.Fatalf("向量化失败不应阻断写入: %v", err)
	}
	embedder.err = nil

	results, err := idx.Query(ctx, "rollback alpha", 5)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("应命中两个切片, 实际 %d", len(results))
	}
	// 余弦分数会把 vec.md 推到 1.0, 混排时词面重合更高的 lex.md 反而垫底;
	// 存在无向量切片时整个排序必须统一用词面分数。
	if results[0].Chunk.Source != "lex.md" {
		t.Fatalf("词面重合度最高的切片应排在首位, 实际: %s", results[0].Chunk.Source)
	}
	for _, r := range results {
		if r.Score <= 0 || r.Score > 1 {
			t.Fatalf("统一词面排序的分数应落在 (0,1]: %f", r.Score)
		}
	}
}

func TestQueryTieBreakPrefersNewer(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()

	if _, err := idx.Ingest(ctx, "old.md", "rollback the release"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	// 保证写入时间可区分。
	time.Sleep(5 * time.Millisecond)
	if _, err := idx.Ingest(ctx, "new.md", "rollback the release"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	results, err := idx.Query(ctx, "rollback release", 2)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("应返回两个结果, 实际 %d", len(results))
	}
	if results[0].Chunk.Source != "new.md" {
		t.Fatalf("同分时较新的切片应排前, 实际: %s", results[0].Chunk.Source)
	}
}

func TestQueryRespectsTopK(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	for _, source := range []string{"a.md", "b.md", "c.md", "d.md"} {
		if _, err := idx.Ingest(ctx, source, "service registry entry"); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}
	results, err := idx.Query(ctx, "service registry", 2)
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("topK 应截断结果, 实际 %d", len(results))
	}
}

func TestQueryEmptyInputs(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()

	if results, err := idx.Query(ctx, "anything", 3); err != nil || results != nil {
		t.Fatalf("空索引应返回空结果: %v %v", results, err)
	}
	if _, err := idx.Ingest(ctx, "doc.md", "content here"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if results, err := idx.Query(ctx, "   ", 3); err != nil || results != nil {
		t.Fatalf("空查询应返回空结果: %v %v", results, err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	ctx := context.Background()

	idx := NewIndex()
	if _, err := idx.Ingest(ctx, "doc.md", "guardian snapshot content"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatalf("保存快照失败: %v", err)
	}

	restored := NewIndex()
	if err := restored.Restore(path); err != nil {
		t.Fatalf("恢复快照失败: %v", err)
	}
	if restored.Len() != idx.Len() {
		t.Fatalf("恢复后的切片数量不一致: %d vs %d", restored.Len(), idx.Len())
	}
	results, err := restored.Query(ctx, "guardian snapshot", 1)
	if err != nil || len(results) != 1 {
		t.Fatalf("恢复后的索引应可检索: %v %v", results, err)
	}
}

func TestRestoreMissingFileIsNoop(t *testing.T) {
	idx := NewIndex()
	if err := idx.Restore(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("快照缺失应静默跳过: %v", err)
	}
	if idx.Len() != 0 {
		t.Fatalf("索引应保持为空, 实际 %d", idx.Len())
	}
}

func TestLoadDirReadsDocuments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "alpha content body")
	writeFile(t, filepath.Join(dir, "b.txt"), "beta content body")
	writeFile(t, filepath.Join(dir, "skip.bin"), "ignored")

	idx := NewIndex()
	loaded, err := LoadDir(context.Background(), idx, dir)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if loaded != 2 {
		t.Fatalf("应加载两个文档, 实际 %d", loaded)
	}
	if idx.Len() != 2 {
		t.Fatalf("索引应包含两个切片, 实际 %d", idx.Len())
	}
}

func TestLoadDirMissingDirectory(t *testing.T) {
	idx := NewIndex()
	loaded, err := LoadDir(context.Background(), idx, filepath.Join(t.TempDir(), "absent"))
	if err != nil || loaded != 0 {
		t.Fatalf("目录缺失应视作空知识库: %d %v", loaded, err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}
}
