package llm

import "context"

// Message 是一轮对话中的单条消息。
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatClient 定义了调用大模型补全能力的统一接口。
// 返回的字符串是模型的原始文本输出，由调用方负责解析。
type ChatClient interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Embedder 定义了文本向量化的统一接口。
// 返回向量的维度由具体实现决定，同一实现内保持一致。
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}
