package backend

import (
	"testing"

	"github.com/axonrelay/gateway/internal/domain/neutral"
)

type fakeChatHandler struct{}

func (fakeChatHandler) EndpointURL(stream bool) string { return "http://example.test" }
func (fakeChatHandler) PreparePayload(conversation []neutral.Message, systemPrompt, userPrompt string) (Payload, error) {
	messages := make([]map[string]string, 0, len(conversation)+1)
	for _, m := range conversation {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})
	return Payload{"messages": messages}, nil
}
func (fakeChatHandler) StreamFormat() StreamFormatKind { return StreamFormatLineDelimitedJSON }
func (fakeChatHandler) ParseChunk(raw []byte) (neutral.NeutralChunk, bool) {
	return neutral.NeutralChunk{}, true
}
func (fakeChatHandler) ParseFullResponse(body []byte) (string, error) { return "", nil }

func TestImageCapableHandlerListFraming(t *testing.T) {
	h := WithImageSupport(fakeChatHandler{}, ImageFramingList)
	conversation := []neutral.Message{
		{Role: "user", Content: "look at this"},
		{Role: "images", Content: "base64data"},
	}
	payload, err := h.PreparePayload(conversation, "", "describe it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	images, ok := payload["images"].([]string)
	if !ok || len(images) != 1 || images[0] != "base64data" {
		t.Fatalf("expected images list attached, got %v", payload["images"])
	}
	messages := payload["messages"].([]map[string]string)
	for _, m := range messages {
		if m["role"] == "images" {
			t.Fatalf("images pseudo-message should have been extracted, not forwarded: %+v", messages)
		}
	}
}

func TestImageCapableHandlerOpenAIFraming(t *testing.T) {
	h := WithImageSupport(fakeChatHandler{}, ImageFramingOpenAI)
	conversation := []neutral.Message{
		{Role: "images", Content: "base64data"},
	}
	payload, err := h.PreparePayload(conversation, "", "describe it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	messages := payload["messages"].([]map[string]any)
	last := messages[len(messages)-1]
	content, ok := last["content"].([]map[string]any)
	if !ok || len(content) != 2 {
		t.Fatalf("expected a 2-entry content array, got %v", last["content"])
	}
	if content[0]["type"] != "text" || content[1]["type"] != "image_url" {
		t.Fatalf("unexpected content ordering: %+v", content)
	}
}

func TestImageCapableHandlerNoImagesPassesThrough(t *testing.T) {
	h := WithImageSupport(fakeChatHandler{}, ImageFramingList)
	payload, err := h.PreparePayload(nil, "", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, exists := payload["images"]; exists {
		t.Fatalf("did not expect an images key when no image pseudo-messages present")
	}
}
