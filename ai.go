package main

import (
	"context"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

const defaultMaxTokens = 1000

// AIProvider is the opaque completion capability behind the auto-reply
// fallback.
type AIProvider interface {
	Complete(ctx context.Context, settings AISettings, history []ConversationTurn, userMessage string) (string, error)
}

// AnthropicProvider implements AIProvider on the Anthropic Messages API.
// The API key and model come from the device's AISettings, so each device
// can carry its own credential.
type AnthropicProvider struct{}

func NewAnthropicProvider() *AnthropicProvider {
	return &AnthropicProvider{}
}

func (p *AnthropicProvider) Complete(ctx context.Context, settings AISettings, history []ConversationTurn, userMessage string) (string, error) {
	client := anthropic.NewClient(settings.APIKey)

	var messages []anthropic.Message
	for _, turn := range history {
		role := anthropic.RoleUser
		if turn.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}

		textContent := strings.TrimSpace(turn.Content)
		if textContent == "" {
			// Skip empty messages
			continue
		}

		messages = append(messages, anthropic.Message{
			Role: role,
			Content: []anthropic.MessageContent{
				anthropic.NewTextMessageContent(textContent),
			},
		})
	}

	messages = append(messages, anthropic.Message{
		Role: anthropic.RoleUser,
		Content: []anthropic.MessageContent{
			anthropic.NewTextMessageContent(userMessage),
		},
	})

	model := anthropic.ModelClaude3Dot5Sonnet20240620
	if settings.ModelName != "" {
		model = anthropic.Model(settings.ModelName)
	}

	maxTokens := settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	req := anthropic.MessagesRequest{
		Model:     model,
		Messages:  messages,
		System:    settings.SystemPrompt,
		MaxTokens: maxTokens,
	}
	if settings.Temperature > 0 {
		temp := settings.Temperature
		req.Temperature = &temp
	}

	resp, err := client.CreateMessages(ctx, req)
	if err != nil {
		return "", &ProviderError{Message: err.Error()}
	}

	if len(resp.Content) == 0 || resp.Content[0].Type != anthropic.MessagesContentTypeText {
		return "", &ProviderError{Message: "unexpected response format"}
	}

	text := resp.Content[0].GetText()
	if strings.TrimSpace(text) == "" {
		return "", &ProviderError{Message: "empty completion"}
	}

	return text, nil
}
