// Package ollama implements the Ollama-compatible dialect: /api/chat and
// /api/generate framing over newline-delimited JSON streaming, grounded on
// the native-Go Ollama handler's NDJSON chunk conventions.
package ollama

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/axonrelay/gateway/internal/domain/backend"
	"github.com/axonrelay/gateway/internal/domain/neutral"
)

func init() {
	backend.Global.Register("ollama-chat", newChatHandler)
	backend.Global.Register("ollama-generate", newGenerateHandler)
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
	return strings.TrimRight(h.endpoint.BaseURL, "/") + "/api/chat"
}

func (h *chatHandler) StreamFormat() backend.StreamFormatKind {
	return backend.StreamFormatLineDelimitedJSON
}

func presetOptions(preset neutral.Preset) map[string]any {
	options := map[string]any{}
	for k, v := range preset.Extra {
		options[k] = v
	}
	if preset.Temperature != 0 {
		options["temperature"] = preset.Temperature
	}
	if preset.TopP != 0 {
		options["top_p"] = preset.TopP
	}
	if preset.MaxTokens > 0 {
		options["num_predict"] = preset.MaxTokens
	}
	return options
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

	return backend.Payload{
		"model":    h.endpoint.Model,
		"messages": messages,
		"options":  presetOptions(h.preset),
	}, nil
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (h *chatHandler) ParseChunk(raw []byte) (neutral.NeutralChunk, bool) {
	var decoded chatChunk
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return neutral.NeutralChunk{}, false
	}
	finish := ""
	if decoded.Done {
		finish = "stop"
	}
	return neutral.NeutralChunk{Token: decoded.Message.Content, FinishReason: finish}, true
}

func (h *chatHandler) ParseFullResponse(body []byte) (string, error) {
	var decoded chatChunk
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("parse ollama chat response: %w", err)
	}
	return decoded.Message.Content, nil
}

// generateHandler implements /api/generate: a flat "prompt" string, "raw"
// framing, and a top-level "response" field instead of "message.content".
type generateHandler struct {
	endpoint neutral.EndpointConfig
	apiType  neutral.ApiTypeConfig
	preset   neutral.Preset
}

func newGenerateHandler(endpoint neutral.EndpointConfig, apiType neutral.ApiTypeConfig, preset neutral.Preset, deps backend.Deps) (backend.Handler, error) {
	return &generateHandler{endpoint: endpoint, apiType: apiType, preset: preset}, nil
}

func (h *generateHandler) EndpointURL(stream bool) string {
	return strings.TrimRight(h.endpoint.BaseURL, "/") + "/api/generate"
}

func (h *generateHandler) StreamFormat() backend.StreamFormatKind {
	return backend.StreamFormatLineDelimitedJSON
}

func (h *generateHandler) PreparePayload(conversation []neutral.Message, systemPrompt, userPrompt string) (backend.Payload, error) {
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

	return backend.Payload{
		"model":   h.endpoint.Model,
		"prompt":  b.String(),
		"raw":     true,
		"options": presetOptions(h.preset),
	}, nil
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (h *generateHandler) ParseChunk(raw []byte) (neutral.NeutralChunk, bool) {
	var decoded generateChunk
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return neutral.NeutralChunk{}, false
	}
	finish := ""
	if decoded.Done {
		finish = "stop"
	}
	return neutral.NeutralChunk{Token: decoded.Response, FinishReason: finish}, true
}

func (h *generateHandler) ParseFullResponse(body []byte) (string, error) {
	var decoded generateChunk
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("parse ollama generate response: %w", err)
	}
	return decoded.Response, nil
}
