package streamtransform

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/axonrelay/gateway/internal/domain/neutral"
)

func collectPayloads(t *testing.T, frames []Frame) []string {
	t.Helper()
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, string(f.Payload))
	}
	return out
}

func TestIdentityWithNoPrefixRulesOrGenerationPrompt(t *testing.T) {
	tr := New(Config{Kind: neutral.OllamaChat, RequestID: "r1", Model: "test_user"})

	var content strings.Builder
	for _, tok := range []string{"Hel", "lo", " world"} {
		for _, f := range tr.ProcessChunk(neutral.NeutralChunk{Token: tok}) {
			var decoded map[string]any
			line := strings.TrimSuffix(string(f.Payload), "\n")
			if err := json.Unmarshal([]byte(line), &decoded); err != nil {
				t.Fatalf("bad json: %v", err)
			}
			content.WriteString(decoded["message"].(map[string]any)["content"].(string))
		}
	}
	for _, f := range tr.Finish() {
		_ = f
	}

	if content.String() != "Hello world" {
		t.Fatalf("expected identity concatenation, got %q", content.String())
	}
	if tr.FullResponseText() != "Hello world" {
		t.Fatalf("expected FullResponseText to match emitted content, got %q", tr.FullResponseText())
	}
}

func TestOpenAIStreamEndsWithStopAndDoneMarker(t *testing.T) {
	tr := New(Config{Kind: neutral.OpenAIChatCompletion, RequestID: "r2", Model: "test_user"})

	tr.ProcessChunk(neutral.NeutralChunk{Token: "Hel"})
	tr.ProcessChunk(neutral.NeutralChunk{Token: "lo"})
	frames := tr.Finish()

	payloads := collectPayloads(t, frames)
	if len(payloads) != 2 {
		t.Fatalf("expected terminal frame + DONE marker, got %d frames: %v", len(payloads), payloads)
	}
	if !strings.Contains(payloads[0], `"finish_reason":"stop"`) {
		t.Fatalf("expected terminal frame to carry finish_reason stop, got %q", payloads[0])
	}
	if payloads[1] != "data: [DONE]\n\n" {
		t.Fatalf("expected DONE marker, got %q", payloads[1])
	}
}

func TestAssistantPrefixStripping(t *testing.T) {
	tr := New(Config{
		Kind:      neutral.OllamaChat,
		RequestID: "r3",
		Model:     "test_user",
		Policy:    neutral.UserPolicy{AddUserAssistant: true, AddMissingAssistant: true},
	})

	var frames []Frame
	for _, tok := range []string{"Assistant:", " hello there"} {
		frames = append(frames, tr.ProcessChunk(neutral.NeutralChunk{Token: tok})...)
	}
	frames = append(frames, tr.Finish()...)

	var content strings.Builder
	for _, f := range frames {
		var decoded map[string]any
		line := strings.TrimSuffix(string(f.Payload), "\n")
		json.Unmarshal([]byte(line), &decoded)
		content.WriteString(decoded["message"].(map[string]any)["content"].(string))
	}

	if content.String() != "hello there" {
		t.Fatalf("expected Assistant: prefix stripped, got %q", content.String())
	}
}

func TestBufferReleasesAtCapBoundary(t *testing.T) {
	tr := New(Config{
		Kind:      neutral.OllamaChat,
		RequestID: "r4",
		Model:     "test_user",
		Policy:    neutral.UserPolicy{AddUserAssistant: true, AddMissingAssistant: true},
	})

	// The filler begins with the "Assistant:" literal, so it stays a live
	// prefix candidate and is not released optimistically; at 101
	// characters it is one past the 100-char cap, which forces the release.
	filler := "Assistant:" + strings.Repeat("x", 91)
	frames := tr.ProcessChunk(neutral.NeutralChunk{Token: filler})
	if len(frames) == 0 {
		t.Fatalf("expected buffer to release once over the 100-char cap")
	}
}

func TestGenerationPromptReconstruction(t *testing.T) {
	prompt := "Roland:"
	tr := New(Config{
		Kind:             neutral.OllamaChat,
		RequestID:        "r5",
		Model:            "test_user",
		GenerationPrompt: &prompt,
	})

	var content strings.Builder
	for _, f := range tr.ProcessChunk(neutral.NeutralChunk{Token: "hello", FinishReason: "stop"}) {
		var decoded map[string]any
		line := strings.TrimSuffix(string(f.Payload), "\n")
		json.Unmarshal([]byte(line), &decoded)
		content.WriteString(decoded["message"].(map[string]any)["content"].(string))
	}

	if content.String() != "Roland: hello" {
		t.Fatalf("expected reconstructed speaker prefix, got %q", content.String())
	}
}
