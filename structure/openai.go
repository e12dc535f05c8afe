package structure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const chatEndpoint = "https://api.openai.com/v1/chat/completions"

// Generative is the text generation backend the structurer talks to.
type Generative interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type openAIChat struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewOpenAIChat builds a chat-completions client for structuring.
func NewOpenAIChat(apiKey, model string) Generative {
	return &openAIChat{
		apiKey:   apiKey,
		model:    model,
		endpoint: chatEndpoint,
		client:   &http.Client{},
	}
}

func (c *openAIChat) Complete(ctx context.Context, system, user string) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.2,
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, buf)
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", decodeAPIError(resp)
	}

	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return body.Choices[0].Message.Content, nil
}

// decodeAPIError logs the raw payload and returns a status-only error so the
// payload never reaches anything user-facing.
func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		log.Errorf("openai api error: status %d type %s message %s",
			resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	} else {
		log.Errorf("openai api error: status %d body %s", resp.StatusCode, string(raw))
	}
	return fmt.Errorf("openai api status %d", resp.StatusCode)
}
