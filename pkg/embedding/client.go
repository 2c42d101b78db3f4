// Package embedding provides clients for turning text into fixed-length vectors.
package embedding

import (
	"context"
	"net/http"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/pkg/ai"
)

// Client defines the interface for an embedding client.
// 给定 N 条输入文本，返回 N 个维度一致的向量，顺序与输入一致。
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimensions() int
}

// NewClient 根据提供商名称创建对应的 embedding 客户端。
// apiKey 由凭证提供方注入，客户端不记录、不落盘。
func NewClient(provider string, cfg config.ProviderConfig, apiKey string) (Client, error) {
	httpClient := &http.Client{Timeout: timeout(cfg)}
	retry := retryPolicy(cfg)
	switch provider {
	case "openai":
		return &openAIClient{cfg: cfg, apiKey: apiKey, client: httpClient, retry: retry}, nil
	case "google":
		return &googleClient{cfg: cfg, apiKey: apiKey, client: httpClient, retry: retry}, nil
	default:
		return nil, ai.Errorf(ai.KindValidation, provider, "不支持的 embedding 提供商: %s", provider)
	}
}

func timeout(cfg config.ProviderConfig) time.Duration {
	if cfg.TimeoutSeconds > 0 {
		return time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
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

// validateResult 校验返回向量的条数与维度。
func validateResult(provider string, vectors [][]float32, want int) error {
	if len(vectors) != want {
		return ai.Errorf(ai.KindPermanent, provider, "embedding 返回数量不符: 期望 %d, 实际 %d", want, len(vectors))
	}
	if want == 0 {
		return nil
	}
	dims := len(vectors[0])
	if dims == 0 {
		return ai.Errorf(ai.KindPermanent, provider, "embedding 返回了空向量")
	}
	for i, v := range vectors {
		if len(v) != dims {
			return ai.Errorf(ai.KindPermanent, provider, "embedding 向量维度不一致: 第 %d 条为 %d, 期望 %d", i, len(v), dims)
		}
	}
	return nil
}
