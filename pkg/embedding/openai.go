package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"docuchat-go/internal/config"
	"docuchat-go/pkg/ai"
	"docuchat-go/pkg/log"
)

// openAIClient 调用 OpenAI 兼容的 /embeddings 接口。
type openAIClient struct {
	cfg    config.ProviderConfig
	apiKey string
	client *http.Client
	retry  ai.RetryPolicy
}

type openAIEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAIClient) Model() string   { return c.cfg.EmbeddingModel }
func (c *openAIClient) Dimensions() int { return c.cfg.Dimensions }

// Embed 一次请求向量化一批文本，利用 index 字段保持输入顺序。
func (c *openAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, provider: openai, model: %s, batch: %d", c.cfg.EmbeddingModel, len(texts))

	var vectors [][]float32
	err := c.retry.Do(ctx, "openai", func(ctx context.Context) error {
		v, err := c.embedOnce(ctx, texts)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败: %v", err)
		return nil, err
	}
	if err := validateResult("openai", vectors, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *openAIClient) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := openAIEmbeddingRequest{
		Model:      c.cfg.EmbeddingModel,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, ai.Errorf(ai.KindPermanent, "openai", "序列化 embedding 请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, ai.Errorf(ai.KindPermanent, "openai", "创建 embedding 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ai.Errorf(ai.KindTransient, "openai", "调用 embedding api 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, ai.Errorf(ai.KindFromStatus(resp.StatusCode), "openai",
			"embedding api 返回非 200 状态: %s, body: %s", resp.Status, string(body))
	}

	var embResp openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, ai.Errorf(ai.KindTransient, "openai", "解析 embedding 响应失败: %w", err)
	}

	// 按 index 排序，保证与输入顺序一致
	sort.Slice(embResp.Data, func(i, j int) bool { return embResp.Data[i].Index < embResp.Data[j].Index })
	vectors := make([][]float32, 0, len(embResp.Data))
	for _, d := range embResp.Data {
		vectors = append(vectors, d.Embedding)
	}
	return vectors, nil
}
