package provider

import "context"

// ChatModel 是情绪估计依赖的最小模型能力：一次带系统提示的文本补全。
type ChatModel interface {
	ID() string
	Enabled() bool
	Call(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
