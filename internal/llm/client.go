// Package llm produces replies through an OpenAI-compatible chat
// completion endpoint. Conversation history is replayed as alternating
// user/assistant messages under a fixed system prompt.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/discord-voice-bridge/internal/conversation"
	"github.com/discord-voice-bridge/internal/logging"
)

// Client generates replies against one chat completion backend.
type Client struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

// NewClient builds a client for an OpenAI-compatible endpoint. Local
// gateways usually ignore the key, but the SDK requires a non-empty one.
func NewClient(baseURL, apiKey, model, systemPrompt string, timeout time.Duration) *Client {
	if apiKey == "" {
		apiKey = "unused"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient.Timeout = timeout

	return &Client{
		client:       openai.NewClientWithConfig(cfg),
		model:        model,
		systemPrompt: systemPrompt,
	}
}

// Generate produces a reply for the new input given the thread history.
// It is a single backend call; failure handling belongs to the caller.
func (c *Client) Generate(ctx context.Context, history []conversation.Exchange, input string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2*len(history)+2)
	if c.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.systemPrompt,
		})
	}
	for _, ex := range history {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ex.Input},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: ex.Reply},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: input,
	})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	logging.Debugw("llm: reply generated",
		"model", c.model, "history_len", len(history),
		"reply_chars", len(reply), "latency_ms", time.Since(start).Milliseconds())
	return reply, nil
}
