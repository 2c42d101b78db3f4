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

// googleClient 调用 Google Generative Language API 的 generateContent 接口。
type googleClient struct {
	cfg    config.ProviderConfig
	apiKey string
	client *http.Client
	retry  ai.RetryPolicy
}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type googleChatRequest struct {
	SystemInstruction *googleContent          `json:"systemInstruction,omitempty"`
	Contents          []googleContent         `json:"contents"`
	GenerationConfig  *googleGenerationConfig `json:"generationConfig,omitempty"`
}

type googleChatResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
}

func (c *googleClient) Complete(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams) (string, error) {
	var answer string
	err := c.retry.Do(ctx, "google", func(ctx context.Context) error {
		resp, err := c.send(ctx, messages, gen, false)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var chatResp googleChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return ai.Errorf(ai.KindTransient, "google", "解析 chat 响应失败: %w", err)
		}
		answer = flattenCandidate(chatResp)
		if answer == "" {
			return ai.Errorf(ai.KindPermanent, "google", "chat api 返回了空的 candidates")
		}
		return nil
	})
	return answer, err
}

func (c *googleClient) StreamChat(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams, writer MessageWriter) error {
	started := false
	return c.retry.Do(ctx, "google", func(ctx context.Context) error {
		wrote, err := c.streamOnce(ctx, messages, gen, writer)
		if wrote {
			started = true
		}
		if err != nil && started {
			return ai.NewError(ai.KindPermanent, "google", err)
		}
		return err
	})
}

func (c *googleClient) streamOnce(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams, writer MessageWriter) (bool, error) {
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
				return wrote, ai.NewError(ai.KindTransient, "google", ctx.Err())
			}
			return wrote, ai.Errorf(ai.KindTransient, "google", "读取流式响应失败: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk googleChatResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			continue
		}
		content := flattenCandidate(chunk)
		if content == "" {
			continue
		}
		if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
			return wrote, ai.Errorf(ai.KindPermanent, "google", "写出流式片段失败: %w", err)
		}
		wrote = true
	}
}

func (c *googleClient) send(ctx context.Context, messages []ai.Message, gen *ai.GenerationParams, stream bool) (*http.Response, error) {
	reqBody := googleChatRequest{}

	// system 消息映射为 systemInstruction，user/assistant 映射为 contents
	for _, m := range messages {
		switch m.Role {
		case ai.RoleSystem:
			reqBody.SystemInstruction = &googleContent{Parts: []googlePart{{Text: m.Content}}}
		case ai.RoleAssistant:
			reqBody.Contents = append(reqBody.Contents, googleContent{Role: "model", Parts: []googlePart{{Text: m.Content}}})
		default:
			reqBody.Contents = append(reqBody.Contents, googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}})
		}
	}
	if gen != nil {
		reqBody.GenerationConfig = &googleGenerationConfig{
			Temperature:     gen.Temperature,
			TopP:            gen.TopP,
			MaxOutputTokens: gen.MaxTokens,
		}
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, ai.Errorf(ai.KindPermanent, "google", "序列化 chat 请求失败: %w", err)
	}

	method := ":generateContent"
	if stream {
		method = ":streamGenerateContent?alt=sse"
	}
	url := c.cfg.BaseURL + "/" + c.modelPath() + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, ai.Errorf(ai.KindPermanent, "google", "创建 chat 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ai.Errorf(ai.KindTransient, "google", "调用 chat api 失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, ai.Errorf(ai.KindFromStatus(resp.StatusCode), "google",
			"chat api 返回非 200 状态: %s, body: %s", resp.Status, string(body))
	}
	return resp, nil
}

func (c *googleClient) modelPath() string {
	if strings.HasPrefix(c.cfg.ChatModel, "models/") {
		return c.cfg.ChatModel
	}
	return "models/" + c.cfg.ChatModel
}

func flattenCandidate(resp googleChatResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
