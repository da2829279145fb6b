package backend

import "github.com/axonrelay/gateway/internal/domain/neutral"

// ImageFraming selects how an imageCapableHandler attaches extracted images
// to the payload its inner Handler already built.
type ImageFraming int

const (
	// ImageFramingOpenAI rewrites the last message's content into
	// OpenAI's multimodal content-array shape.
	ImageFramingOpenAI ImageFraming = iota
	// ImageFramingList attaches a top-level "images" string list, matching
	// Ollama/KoboldCpp's flat image-array convention.
	ImageFramingList
)

// imageCapableHandler adds image support to a non-image Handler by
// composition: it extracts synthetic {role: "images"} pseudo-messages from
// the conversation before delegating to inner, then attaches them to the
// resulting payload in whatever shape the dialect expects. This is the
// capability-set realization of image support, never a subclassing
// hierarchy (see neutral.Message's "images" pseudo-role convention).
type imageCapableHandler struct {
	inner   Handler
	framing ImageFraming
}

// WithImageSupport wraps inner so PreparePayload understands per-message
// "images" pseudo-role entries from the conversation.
func WithImageSupport(inner Handler, framing ImageFraming) Handler {
	return &imageCapableHandler{inner: inner, framing: framing}
}

func (h *imageCapableHandler) EndpointURL(stream bool) string { return h.inner.EndpointURL(stream) }
func (h *imageCapableHandler) StreamFormat() StreamFormatKind { return h.inner.StreamFormat() }
func (h *imageCapableHandler) ParseChunk(raw []byte) (neutral.NeutralChunk, bool) {
	return h.inner.ParseChunk(raw)
}
func (h *imageCapableHandler) ParseFullResponse(body []byte) (string, error) {
	return h.inner.ParseFullResponse(body)
}

func extractImages(conversation []neutral.Message) (filtered []neutral.Message, images []string) {
	filtered = make([]neutral.Message, 0, len(conversation))
	for _, m := range conversation {
		if m.Role == "images" {
			images = append(images, m.Content)
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered, images
}

func (h *imageCapableHandler) PreparePayload(conversation []neutral.Message, systemPrompt, userPrompt string) (Payload, error) {
	filtered, images := extractImages(conversation)

	payload, err := h.inner.PreparePayload(filtered, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return payload, nil
	}

	switch h.framing {
	case ImageFramingList:
		payload["images"] = images
	case ImageFramingOpenAI:
		attachOpenAIImages(payload, images)
	}
	return payload, nil
}

// attachOpenAIImages rewrites the last message in payload["messages"] into
// OpenAI's content-array shape: [{type:"text",...}, {type:"image_url",...}].
func attachOpenAIImages(payload Payload, images []string) {
	messages, ok := payload["messages"].([]map[string]string)
	if !ok || len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]

	content := []map[string]any{
		{"type": "text", "text": last["content"]},
	}
	for _, img := range images {
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": img},
		})
	}

	rewritten := make([]map[string]any, len(messages)-1)
	for i, m := range messages[:len(messages)-1] {
		rewritten[i] = map[string]any{"role": m["role"], "content": m["content"]}
	}
	rewritten = append(rewritten, map[string]any{"role": last["role"], "content": content})
	payload["messages"] = rewritten
}
