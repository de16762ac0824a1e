package rag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitEmptyText(t *testing.T) {
	chunker := NewChunker(100, 20)
	if got := chunker.Split("   \n  "); got != nil {
		t.Fatalf("空文本应返回空结果, 实际: %v", got)
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	chunker := NewChunker(100, 20)
	got := chunker.Split("short document")
	if len(got) != 1 || got[0] != "short document" {
		t.Fatalf("短文本应原样返回单个片段, 实际: %v", got)
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	first := strings.Repeat("a", 70)
	second := strings.Repeat("b", 80)
	chunker := NewChunker(100, 10)

	got := chunker.Split(first + "\n\n" + second)
	if len(got) < 2 {
		t.Fatalf("应至少切出两个片段, 实际: %v", got)
	}
	if got[0] != first {
		t.Fatalf("首个片段应止于段落边界, 实际: %q", got[0])
	}
}

func TestSplitOverlapCoversFullText(t *testing.T) {
	text := strings.Repeat("legend guardian compiles models. ", 60)
	chunker := NewChunker(200, 50)

	chunks := chunker.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("长文本应产生多个片段, 实际 %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 200 {
			t.Fatalf("片段 %d 超过窗口大小: %d", i, len(chunk))
		}
	}
	// 最后一个片段必须覆盖到文本末尾。
	tail := strings.TrimSpace(text)
	if !strings.HasSuffix(tail, chunks[len(chunks)-1][len(chunks[len(chunks)-1])-20:]) {
		t.Fatal("末尾片段应覆盖文本结尾")
	}
}

func TestSplitKeepsMultiByteRunesIntact(t *testing.T) {
	// 连续中文没有空格或句号可作边界, 切点只能落在窗口上, 必须对齐到字符起点。
	text := strings.Repeat("守护者负责编译模型并发布服务", 40)
	chunker := NewChunker(50, 10)

	chunks := chunker.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("长文本应产生多个片段, 实际 %d", len(chunks))
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Fatalf("片段 %d 含有被截断的多字节字符: %q", i, chunk)
		}
	}
}

func TestNewChunkerRejectsBadOverlap(t *testing.T) {
	chunker := NewChunker(100, 100)
	if chunker.Overlap >= chunker.Size {
		t.Fatalf("重叠不应大于等于窗口: %+v", chunker)
	}
}
