// Package llm provides clients for interacting with chat-completion models.
package llm

import (
	"context"
	"net/http"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/pkg/ai"
)

// MessageWriter defines an interface for writing streamed fragments.
// websocket.Conn 与测试用的拦截器都满足该接口。
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 以阻塞方式调用聊天接口，返回完整回答。
	Complete(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams) (string, error)
	// StreamChat 以流式方式调用聊天接口，将增量文本片段写入 writer。
	// 通过 ctx 取消时，底层连接会被关闭，不会泄漏。
	StreamChat(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams, writer MessageWriter) error
}

// NewClient 根据提供商名称创建对应的 LLM 客户端。
func NewClient(provider string, cfg config.ProviderConfig, apiKey string) (Client, error) {
	httpClient := &http.Client{Timeout: timeout(cfg)}
	retry := retryPolicy(cfg)
	switch provider {
	case "openai":
		return &openAIClient{cfg: cfg, apiKey: apiKey, client: httpClient, retry: retry}, nil
	case "google":
		return &googleClient{cfg: cfg, apiKey: apiKey, client: httpClient, retry: retry}, nil
	default:
		return nil, ai.Errorf(ai.KindValidation, provider, "不支持的 LLM 提供商: %s", provider)
	}
}

func timeout(cfg config.ProviderConfig) time.Duration {
	if cfg.TimeoutSeconds > 0 {
		return time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	// 流式响应可能持续较久，默认放宽
	return 120 * time.Second
}

func retryPolicy(cfg config.ProviderConfig) ai.RetryPolicy {
	p := ai.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBaseMS > 0 {
		p.BaseDelay = time.Duration(cfg.RetryBaseMS) * time.Millisecond
	}
	return p
}
