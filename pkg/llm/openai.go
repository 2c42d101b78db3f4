package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"docuchat-go/internal/config"
	"docuchat-go/pkg/ai"

	"github.com/gorilla/websocket"
)

// openAIClient 调用 OpenAI 兼容的 /chat/completions 接口（DeepSeek 等同样适用）。
type openAIClient struct {
	cfg    config.ProviderConfig
	apiKey string
	client *http.Client
	retry  ai.RetryPolicy
}

type openAIChatRequest struct {
	Model       string       `json:"model"`
	Messages    []ai.Message `json:"messages"`
	Stream      bool         `json:"stream"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete 以阻塞方式调用聊天接口，瞬时错误按策略重试。
func (c *openAIClient) Complete(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams) (string, error) {
	var answer string
	err := c.retry.Do(ctx, "openai", func(ctx context.Context) error {
		a, err := c.completeOnce(ctx, messages, gen)
		if err != nil {
			return err
		}
		answer = a
		return nil
	})
	return answer, err
}

func (c *openAIClient) completeOnce(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams) (string, error) {
	resp, err := c.send(ctx, messages, gen, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", ai.Errorf(ai.KindTransient, "openai", "解析 chat 响应失败: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", ai.Errorf(ai.KindPermanent, "openai", "chat api 返回了空的 choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// StreamChat 以 SSE 流式读取增量内容并写入 writer。
// 仅在尚未产出任何片段时重试；一旦开始输出，错误原样返回由上层收尾。
func (c *openAIClient) StreamChat(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams, writer MessageWriter) error {
	started := false
	err := c.retry.Do(ctx, "openai", func(ctx context.Context) error {
		wrote, err := c.streamOnce(ctx, messages, gen, writer)
		if wrote {
			started = true
		}
		if err != nil && started {
			// 已有片段写出，不再重试，包装为永久错误直接退出
			return ai.NewError(ai.KindPermanent, "openai", err)
		}
		return err
	})
	return err
}

func (c *openAIClient) streamOnce(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams, writer MessageWriter) (bool, error) {
	resp, err := c.send(ctx, messages, gen, true)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	wrote := false
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return wrote, nil
			}
			if ctx.Err() != nil {
				// 调用方取消：连接随 Body.Close 释放
				return wrote, ai.NewError(ai.KindTransient, "openai", ctx.Err())
			}
			return wrote, ai.Errorf(ai.KindTransient, "openai", "读取流式响应失败: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			return wrote, nil
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
			return wrote, ai.Errorf(ai.KindPermanent, "openai", "写出流式片段失败: %w", err)
		}
		wrote = true
	}
}

func (c *openAIClient) send(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams, stream bool) (*http.Response, error) {
	reqBody := openAIChatRequest{
		Model:    c.cfg.ChatModel,
		Messages: messages,
		Stream:   stream,
	}
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, ai.Errorf(ai.KindPermanent, "openai", "序列化 chat 请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, ai.Errorf(ai.KindPermanent, "openai", "创建 chat 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ai.Errorf(ai.KindTransient, "openai", "调用 chat api 失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, ai.Errorf(ai.KindFromStatus(resp.StatusCode), "openai",
			"chat api 返回非 200 状态: %s, body: %s", resp.Status, string(body))
	}
	return resp, nil
}
