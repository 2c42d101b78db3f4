package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"docuchat-go/internal/config"
	"docuchat-go/pkg/ai"
	"docuchat-go/pkg/log"
)

// googleClient 调用 Google Generative Language API 的 batchEmbedContents 接口。
type googleClient struct {
	cfg    config.ProviderConfig
	apiKey string
	client *http.Client
	retry  ai.RetryPolicy
}

type googleEmbedPart struct {
	Text string `json:"text"`
}

type googleEmbedContent struct {
	Parts []googleEmbedPart `json:"parts"`
}

type googleEmbedRequest struct {
	Model   string             `json:"model"`
	Content googleEmbedContent `json:"content"`
}

type googleBatchEmbedRequest struct {
	Requests []googleEmbedRequest `json:"requests"`
}

type googleBatchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (c *googleClient) Model() string   { return c.cfg.EmbeddingModel }
func (c *googleClient) Dimensions() int { return c.cfg.Dimensions }

// modelPath 为模型名补全 Google 要求的 "models/" 前缀。
func (c *googleClient) modelPath() string {
	if strings.HasPrefix(c.cfg.EmbeddingModel, "models/") {
		return c.cfg.EmbeddingModel
	}
	return "models/" + c.cfg.EmbeddingModel
}

func (c *googleClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, provider: google, model: %s, batch: %d", c.cfg.EmbeddingModel, len(texts))

	var vectors [][]float32
	err := c.retry.Do(ctx, "google", func(ctx context.Context) error {
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
	if err := validateResult("google", vectors, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *googleClient) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	batch := googleBatchEmbedRequest{Requests: make([]googleEmbedRequest, 0, len(texts))}
	for _, t := range texts {
		batch.Requests = append(batch.Requests, googleEmbedRequest{
			Model:   c.modelPath(),
			Content: googleEmbedContent{Parts: []googleEmbedPart{{Text: t}}},
		})
	}
	reqBytes, err := json.Marshal(batch)
	if err != nil {
		return nil, ai.Errorf(ai.KindPermanent, "google", "序列化 embedding 请求失败: %w", err)
	}

	url := c.cfg.BaseURL + "/" + c.modelPath() + ":batchEmbedContents"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, ai.Errorf(ai.KindPermanent, "google", "创建 embedding 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ai.Errorf(ai.KindTransient, "google", "调用 embedding api 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, ai.Errorf(ai.KindFromStatus(resp.StatusCode), "google",
			"embedding api 返回非 200 状态: %s, body: %s", resp.Status, string(body))
	}

	var embResp googleBatchEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, ai.Errorf(ai.KindTransient, "google", "解析 embedding 响应失败: %w", err)
	}

	vectors := make([][]float32, 0, len(embResp.Embeddings))
	for _, e := range embResp.Embeddings {
		vectors = append(vectors, e.Values)
	}
	return vectors, nil
}
