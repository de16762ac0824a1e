package rag

import (
	"strings"
	"unicode/utf8"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Chunker 把长文档切分成带重叠的片段。
// 切分优先落在段落、换行、句号和空格等自然边界上。
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker 创建切分器，非法参数回退到默认值。
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// 边界按优先级从高到低排列。
var breakMarkers = []string{"\n\n", "\n", ". ", " "}

// runeStart 把字节偏移回退到最近的字符起点，避免从多字节字符中间切开。
func runeStart(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

// Split 返回文本的全部片段，空文本返回空切片。
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := runeStart(text, start+c.Size)
		if end <= start {
			_, size := utf8.DecodeRuneInString(text[start:])
			end = start + size
		}
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		// 在窗口后半段寻找自然边界，避免把句子拦腰截断。
		cut := end
		window := text[start:end]
		for _, marker := range breakMarkers {
			if idx := strings.LastIndex(window, marker); idx > c.Size/2 {
				cut = start + idx + len(marker)
				break
			}
		}

		chunk := strings.TrimSpace(text[start:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := runeStart(text, cut-c.Overlap)
		if next <= start {
			_, size := utf8.DecodeRuneInString(text[start:])
			next = start + size
		}
		start = next
	}
	return chunks
}
