// Package kobold implements the KoboldCpp-compatible dialect: a flat
// "prompt" generate call streamed as SSE with a named "message" event,
// distinct from the OpenAI "any event" SSE framing.
package kobold

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/axonrelay/gateway/internal/domain/backend"
	"github.com/axonrelay/gateway/internal/domain/neutral"
)

func init() {
	backend.Global.Register("kobold-generate", newGenerateHandler)
}

type generateHandler struct {
	endpoint neutral.EndpointConfig
	apiType  neutral.ApiTypeConfig
	preset   neutral.Preset
}

func newGenerateHandler(endpoint neutral.EndpointConfig, apiType neutral.ApiTypeConfig, preset neutral.Preset, deps backend.Deps) (backend.Handler, error) {
	return &generateHandler{endpoint: endpoint, apiType: apiType, preset: preset}, nil
}

func (h *generateHandler) EndpointURL(stream bool) string {
	path := "/api/v1/generate"
	if stream {
		path = "/api/extra/generate/stream"
	}
	return strings.TrimRight(h.endpoint.BaseURL, "/") + path
}

func (h *generateHandler) StreamFormat() backend.StreamFormatKind {
	return backend.StreamFormatSSENamedEvent("message")
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

	truncKey := h.apiType.TruncateLengthPropertyName
	if truncKey == "" {
		truncKey = "max_context_length"
	}
	payload := backend.Payload{
		"prompt": b.String(),
	}
	if h.preset.MaxTokens > 0 {
		payload["max_length"] = h.preset.MaxTokens
	}
	if h.preset.Temperature != 0 {
		payload["temperature"] = h.preset.Temperature
	}
	if h.preset.TopP != 0 {
		payload["top_p"] = h.preset.TopP
	}
	if h.preset.TruncationLength > 0 {
		payload[truncKey] = h.preset.TruncationLength
	}
	for k, v := range h.preset.Extra {
		payload[k] = v
	}
	return payload, nil
}

type streamChunk struct {
	Token string `json:"token"`
}

func (h *generateHandler) ParseChunk(raw []byte) (neutral.NeutralChunk, bool) {
	var decoded streamChunk
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return neutral.NeutralChunk{}, false
	}
	return neutral.NeutralChunk{Token: decoded.Token}, true
}

type fullResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

func (h *generateHandler) ParseFullResponse(body []byte) (string, error) {
	var decoded fullResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("parse kobold generate response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return "", fmt.Errorf("empty response: no results")
	}
	return decoded.Results[0].Text, nil
}
