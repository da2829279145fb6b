// Package openai implements the OpenAI-compatible dialect: chat-completions
// and legacy completions framing over sse_any_event streaming.
package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/axonrelay/gateway/internal/domain/backend"
	"github.com/axonrelay/gateway/internal/domain/neutral"
)

func init() {
	backend.Global.Register("openai-chat", newChatHandler)
	backend.Global.Register("openai-completion", newCompletionHandler)
}

type chatHandler struct {
	endpoint neutral.EndpointConfig
	apiType  neutral.ApiTypeConfig
	preset   neutral.Preset
}

func newChatHandler(endpoint neutral.EndpointConfig, apiType neutral.ApiTypeConfig, preset neutral.Preset, deps backend.Deps) (backend.Handler, error) {
	return &chatHandler{endpoint: endpoint, apiType: apiType, preset: preset}, nil
}

func (h *chatHandler) EndpointURL(stream bool) string {
	return strings.TrimRight(h.endpoint.BaseURL, "/") + "/chat/completions"
}

func (h *chatHandler) StreamFormat() backend.StreamFormatKind {
	return backend.StreamFormatSSEAnyEvent
}

func stripProviderPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

func presetKeys(apiType neutral.ApiTypeConfig, preset neutral.Preset) map[string]any {
	out := map[string]any{}
	for k, v := range preset.Extra {
		out[k] = v
	}
	maxTokensKey := apiType.MaxTokensPropertyName
	if maxTokensKey == "" {
		maxTokensKey = "max_tokens"
	}
	if preset.MaxTokens > 0 {
		out[maxTokensKey] = preset.MaxTokens
	}
	if preset.Temperature != 0 {
		out["temperature"] = preset.Temperature
	}
	if preset.TopP != 0 {
		out["top_p"] = preset.TopP
	}
	return out
}

func (h *chatHandler) PreparePayload(conversation []neutral.Message, systemPrompt, userPrompt string) (backend.Payload, error) {
	messages := make([]map[string]string, 0, len(conversation)+2)
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	for _, m := range conversation {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}
	if userPrompt != "" {
		messages = append(messages, map[string]string{"role": "user", "content": userPrompt})
	}

	payload := backend.Payload{
		"model":    stripProviderPrefix(h.endpoint.Model),
		"messages": messages,
	}
	for k, v := range presetKeys(h.apiType, h.preset) {
		payload[k] = v
	}
	return payload, nil
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (h *chatHandler) ParseChunk(raw []byte) (neutral.NeutralChunk, bool) {
	var decoded chatStreamChunk
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return neutral.NeutralChunk{}, false
	}
	if len(decoded.Choices) == 0 {
		return neutral.NeutralChunk{}, true
	}
	choice := decoded.Choices[0]
	finish := ""
	if choice.FinishReason != nil {
		finish = *choice.FinishReason
	}
	return neutral.NeutralChunk{Token: choice.Delta.Content, FinishReason: finish}, true
}

type chatFullResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (h *chatHandler) ParseFullResponse(body []byte) (string, error) {
	var decoded chatFullResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("parse chat completion response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty response: no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}

// completionHandler implements the legacy /completions text-in/text-out
// dialect: a single "prompt" string rather than a messages array.
type completionHandler struct {
	endpoint neutral.EndpointConfig
	apiType  neutral.ApiTypeConfig
	preset   neutral.Preset
}

func newCompletionHandler(endpoint neutral.EndpointConfig, apiType neutral.ApiTypeConfig, preset neutral.Preset, deps backend.Deps) (backend.Handler, error) {
	return &completionHandler{endpoint: endpoint, apiType: apiType, preset: preset}, nil
}

func (h *completionHandler) EndpointURL(stream bool) string {
	return strings.TrimRight(h.endpoint.BaseURL, "/") + "/completions"
}

func (h *completionHandler) StreamFormat() backend.StreamFormatKind {
	return backend.StreamFormatSSEAnyEvent
}

func buildPromptText(conversation []neutral.Message, systemPrompt, userPrompt string) string {
	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}
	for _, m := range conversation {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString(userPrompt)
	return b.String()
}

func (h *completionHandler) PreparePayload(conversation []neutral.Message, systemPrompt, userPrompt string) (backend.Payload, error) {
	truncKey := h.apiType.TruncateLengthPropertyName
	if truncKey == "" {
		truncKey = "truncation_length"
	}
	payload := backend.Payload{
		"model":  stripProviderPrefix(h.endpoint.Model),
		"prompt": buildPromptText(conversation, systemPrompt, userPrompt),
	}
	for k, v := range presetKeys(h.apiType, h.preset) {
		payload[k] = v
	}
	if h.preset.TruncationLength > 0 {
		payload[truncKey] = h.preset.TruncationLength
	}
	return payload, nil
}

type completionStreamChunk struct {
	Choices []struct {
		Text         string  `json:"text"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (h *completionHandler) ParseChunk(raw []byte) (neutral.NeutralChunk, bool) {
	var decoded completionStreamChunk
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return neutral.NeutralChunk{}, false
	}
	if len(decoded.Choices) == 0 {
		return neutral.NeutralChunk{}, true
	}
	choice := decoded.Choices[0]
	finish := ""
	if choice.FinishReason != nil {
		finish = *choice.FinishReason
	}
	return neutral.NeutralChunk{Token: choice.Text, FinishReason: finish}, true
}

type completionFullResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

func (h *completionHandler) ParseFullResponse(body []byte) (string, error) {
	var decoded completionFullResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("parse completion response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty response: no choices")
	}
	return decoded.Choices[0].Text, nil
}
