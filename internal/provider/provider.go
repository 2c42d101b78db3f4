// Package provider 负责按用户解析模型提供方及其凭证，并构造对应客户端。
package provider

import (
	"context"
	"fmt"

	"docuchat-go/internal/config"
	"docuchat-go/pkg/embedding"
	"docuchat-go/pkg/llm"
)

// PreferenceProvider 按所有者解析提供方偏好：提供方名称与模型配置。
// 默认实现从配置读取全局默认值；接入用户偏好存储时替换该实现即可。
type PreferenceProvider interface {
	Preference(ownerID uint) (string, config.ProviderConfig, error)
}

// CredentialProvider 按所有者与提供方名称解析 API 凭证。
// 默认实现从配置读取；接入凭证托管时替换该实现即可。
type CredentialProvider interface {
	Credential(ownerID uint, providerName string) (string, error)
}

type configPreferenceProvider struct {
	cfg config.AIConfig
}

// NewConfigPreferenceProvider 创建回落到全局默认提供方的 PreferenceProvider。
func NewConfigPreferenceProvider(cfg config.AIConfig) PreferenceProvider {
	return &configPreferenceProvider{cfg: cfg}
}

func (p *configPreferenceProvider) Preference(_ uint) (string, config.ProviderConfig, error) {
	name := p.cfg.DefaultProvider
	pc, ok := p.cfg.Providers[name]
	if !ok {
		return "", config.ProviderConfig{}, fmt.Errorf("未配置的模型提供方: %s", name)
	}
	return name, pc, nil
}

type configCredentialProvider struct {
	providers map[string]config.ProviderConfig
}

// NewConfigCredentialProvider 创建从配置读取凭证的 CredentialProvider。
func NewConfigCredentialProvider(cfg config.AIConfig) CredentialProvider {
	return &configCredentialProvider{providers: cfg.Providers}
}

func (p *configCredentialProvider) Credential(_ uint, providerName string) (string, error) {
	pc, ok := p.providers[providerName]
	if !ok {
		return "", fmt.Errorf("未配置的模型提供方: %s", providerName)
	}
	if pc.APIKey == "" {
		return "", fmt.Errorf("提供方 %s 缺少 api key", providerName)
	}
	return pc.APIKey, nil
}

// Factory 按所有者的偏好构造嵌入与补全客户端。
type Factory struct {
	prefs PreferenceProvider
	creds CredentialProvider
}

// NewFactory 创建 Factory 实例。
func NewFactory(prefs PreferenceProvider, creds CredentialProvider) *Factory {
	return &Factory{prefs: prefs, creds: creds}
}

// EmbeddingClient 返回所有者偏好提供方的嵌入客户端。
func (f *Factory) EmbeddingClient(ownerID uint) (embedding.Client, error) {
	name, pc, apiKey, err := f.resolve(ownerID)
	if err != nil {
		return nil, err
	}
	return embedding.NewClient(name, pc, apiKey)
}

// EmbedQuery 用所有者的嵌入客户端向量化单条查询文本。
func (f *Factory) EmbedQuery(ctx context.Context, ownerID uint, query string) ([]float32, error) {
	client, err := f.EmbeddingClient(ownerID)
	if err != nil {
		return nil, err
	}
	vectors, err := client.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("查询向量化返回了 %d 条结果", len(vectors))
	}
	return vectors[0], nil
}

// CompletionClient 返回所有者偏好提供方的补全客户端。
func (f *Factory) CompletionClient(ownerID uint) (llm.Client, error) {
	name, pc, apiKey, err := f.resolve(ownerID)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(name, pc, apiKey)
}

func (f *Factory) resolve(ownerID uint) (string, config.ProviderConfig, string, error) {
	name, pc, err := f.prefs.Preference(ownerID)
	if err != nil {
		return "", config.ProviderConfig{}, "", err
	}
	apiKey, err := f.creds.Credential(ownerID, name)
	if err != nil {
		return "", config.ProviderConfig{}, "", err
	}
	return name, pc, apiKey, nil
}
