package ollama

import (
	"strings"
	"testing"

	"github.com/axonrelay/gateway/internal/domain/neutral"
)

func TestChatHandlerPreparePayloadAndURL(t *testing.T) {
	h := &chatHandler{endpoint: neutral.EndpointConfig{Model: "llama3", BaseURL: "http://localhost:11434"}}
	payload, err := h.PreparePayload([]neutral.Message{{Role: "user", Content: "hi"}}, "sys", "now")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload["model"] != "llama3" {
		t.Fatalf("unexpected model: %v", payload["model"])
	}
	if !strings.HasSuffix(h.EndpointURL(true), "/api/chat") {
		t.Fatalf("unexpected url: %s", h.EndpointURL(true))
	}
}

func TestChatHandlerParseChunkDoneSetsStop(t *testing.T) {
	h := &chatHandler{}
	chunk, ok := h.ParseChunk([]byte(`{"message":{"content":"hi"},"done":false}`))
	if !ok || chunk.Token != "hi" || chunk.FinishReason != "" {
		t.Fatalf("unexpected chunk: %+v ok=%v", chunk, ok)
	}
	done, ok := h.ParseChunk([]byte(`{"message":{"content":""},"done":true}`))
	if !ok || done.FinishReason != "stop" {
		t.Fatalf("expected finish_reason stop on done:true, got %+v", done)
	}
}

func TestGenerateHandlerUsesRawAndPromptField(t *testing.T) {
	h := &generateHandler{endpoint: neutral.EndpointConfig{Model: "llama3", BaseURL: "http://localhost:11434"}}
	payload, err := h.PreparePayload(nil, "", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload["raw"] != true {
		t.Fatalf("expected raw:true for the generate dialect")
	}
	if payload["prompt"] != "hello" {
		t.Fatalf("unexpected prompt: %v", payload["prompt"])
	}
	if !strings.HasSuffix(h.EndpointURL(false), "/api/generate") {
		t.Fatalf("unexpected url: %s", h.EndpointURL(false))
	}
}

func TestGenerateHandlerParseChunk(t *testing.T) {
	h := &generateHandler{}
	chunk, ok := h.ParseChunk([]byte(`{"response":"tok","done":false}`))
	if !ok || chunk.Token != "tok" {
		t.Fatalf("unexpected chunk: %+v ok=%v", chunk, ok)
	}
}
