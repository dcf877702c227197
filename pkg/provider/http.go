package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultChatModel = "openai/gpt-5.2"

// ChatProvider adapts an OpenAI-style chat completions endpoint to the
// Provider interface. Token accounting is done locally with a WordCodec
// shim: the remote API only ever sees and returns text.
type ChatProvider struct {
	apiKey     string
	apiBase    string
	model      string
	codec      *WordCodec
	httpClient *http.Client
}

func NewChatProvider(apiKey, apiBase, model string) *ChatProvider {
	if strings.TrimSpace(model) == "" {
		model = defaultChatModel
	}
	return &ChatProvider{
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		model:      model,
		codec:      NewWordCodec(),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *ChatProvider) ModelName() string { return p.model }

func (p *ChatProvider) Encode(text string) []int { return p.codec.Encode(text) }

func (p *ChatProvider) Decode(tokens []int) string { return p.codec.Decode(tokens) }

func (p *ChatProvider) Generate(ctx context.Context, prompt []int, maxNewTokens int) ([]int, error) {
	if p.apiBase == "" {
		return nil, fmt.Errorf("chat provider API base not configured")
	}

	requestBody := map[string]interface{}{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": p.codec.Decode(prompt)},
		},
		"max_tokens": maxNewTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat API request failed:\n  Status: %d\n  Body:   %s", resp.StatusCode, string(body))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(apiResponse.Choices) == 0 {
		return nil, nil
	}

	out := p.codec.Encode(apiResponse.Choices[0].Message.Content)
	if len(out) > maxNewTokens {
		out = out[:maxNewTokens]
	}
	return out, nil
}
