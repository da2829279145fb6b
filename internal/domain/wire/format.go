// Package wire builds the frontend-facing JSON frames and SSE/NDJSON framing
// described by each supported dialect, and the small set of short-circuit
// and listing responses that do not go through the streaming pipeline at
// all (tool-probe answers, model listings, heartbeats).
package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/axonrelay/gateway/internal/domain/neutral"
)

// BuildResponseJSON renders one content or terminal frame for kind, echoing
// model in every frame and, for OpenAI kinds, requestID in the frame id so
// the client can correlate it with the request.
func BuildResponseJSON(kind neutral.FrontendAPIKind, token, finishReason, requestID, model string) ([]byte, error) {
	now := time.Now().UTC()

	switch kind {
	case neutral.OpenAIChatCompletion:
		chunk := map[string]any{
			"id":                 "chatcmpl-" + requestID,
			"object":             "chat.completion.chunk",
			"created":            now.Unix(),
			"model":              model,
			"system_fingerprint": "fp_44709d6fcb",
			"choices": []map[string]any{
				{
					"index":         0,
					"delta":         deltaFor(token),
					"logprobs":      nil,
					"finish_reason": nullableString(finishReason),
				},
			},
		}
		return json.Marshal(chunk)

	case neutral.OpenAICompletion:
		chunk := map[string]any{
			"id":      "cmpl-" + requestID,
			"object":  "text_completion",
			"created": now.Unix(),
			"choices": []map[string]any{
				{
					"text":          token,
					"index":         0,
					"logprobs":      nil,
					"finish_reason": nullableString(finishReason),
				},
			},
			"model":              model,
			"system_fingerprint": "fp_44709d6fcb",
		}
		return json.Marshal(chunk)

	case neutral.OllamaChat:
		chunk := map[string]any{
			"model":      model,
			"created_at": now.Format(time.RFC3339Nano),
			"message":    map[string]string{"role": "assistant", "content": token},
			"done":       finishReason != "",
		}
		if finishReason != "" {
			chunk["done_reason"] = "stop"
			addNominalDurations(chunk)
		}
		return json.Marshal(chunk)

	case neutral.OllamaGenerate:
		chunk := map[string]any{
			"model":      model,
			"created_at": now.Format(time.RFC3339Nano),
			"response":   token,
			"done":       finishReason != "",
		}
		if finishReason != "" {
			chunk["done_reason"] = "stop"
			addNominalDurations(chunk)
		}
		return json.Marshal(chunk)

	default:
		return nil, fmt.Errorf("wire: unknown frontend api kind %q", kind)
	}
}

// BuildFullResponseJSON renders a completed non-streaming response for kind:
// a full chat/completion object (not a delta chunk) carrying the entire
// generated text.
func BuildFullResponseJSON(kind neutral.FrontendAPIKind, text, requestID, model string) ([]byte, error) {
	now := time.Now().UTC()

	switch kind {
	case neutral.OpenAIChatCompletion:
		resp := map[string]any{
			"id":                 "chatcmpl-" + requestID,
			"object":             "chat.completion",
			"created":            now.Unix(),
			"model":              model,
			"system_fingerprint": "fp_44709d6fcb",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": text},
					"logprobs":      nil,
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{},
		}
		return json.Marshal(resp)

	case neutral.OpenAICompletion:
		resp := map[string]any{
			"id":      "cmpl-" + requestID,
			"object":  "text_completion",
			"created": now.Unix(),
			"choices": []map[string]any{
				{"text": text, "index": 0, "logprobs": nil, "finish_reason": "stop"},
			},
			"model":              model,
			"system_fingerprint": "fp_44709d6fcb",
		}
		return json.Marshal(resp)

	case neutral.OllamaChat:
		resp := map[string]any{
			"model":      model,
			"created_at": now.Format(time.RFC3339Nano),
			"message":    map[string]string{"role": "assistant", "content": text},
			"done":       true,
		}
		resp["done_reason"] = "stop"
		addNominalDurations(resp)
		return json.Marshal(resp)

	case neutral.OllamaGenerate:
		resp := map[string]any{
			"model":      model,
			"created_at": now.Format(time.RFC3339Nano),
			"response":   text,
			"done":       true,
		}
		resp["done_reason"] = "stop"
		addNominalDurations(resp)
		return json.Marshal(resp)

	default:
		return nil, fmt.Errorf("wire: unknown frontend api kind %q", kind)
	}
}

func deltaFor(token string) map[string]string {
	if token == "" {
		return map[string]string{}
	}
	return map[string]string{"content": token}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func addNominalDurations(chunk map[string]any) {
	chunk["total_duration"] = 0
	chunk["load_duration"] = 0
	chunk["prompt_eval_count"] = 0
	chunk["prompt_eval_duration"] = 0
	chunk["eval_count"] = 0
	chunk["eval_duration"] = 0
}

// SSEFormat frames a content payload per dialect: SSE "data: ...\n\n" for
// OpenAI dialects, a bare NDJSON line for Ollama dialects. payload of the
// literal string "[DONE]" is framed as the SSE done marker.
func SSEFormat(kind neutral.FrontendAPIKind, payload []byte) []byte {
	if kind.IsOpenAI() {
		return []byte("data: " + string(payload) + "\n\n")
	}
	return append(payload, '\n')
}

// DoneMarker is the literal frame emitted once after the terminal frame for
// OpenAI dialects; Ollama dialects never emit it.
func DoneMarker(kind neutral.FrontendAPIKind) []byte {
	if !kind.IsOpenAI() {
		return nil
	}
	return []byte("data: [DONE]\n\n")
}

// HeartbeatFrame returns the literal heartbeat bytes for kind.
func HeartbeatFrame(kind neutral.FrontendAPIKind) []byte {
	if kind.IsOpenAI() {
		return []byte(":\n\n")
	}
	return []byte(`{"message":{"role":"assistant","content":""},"done":false}` + "\n")
}

// ToolProbeResponse builds the short-circuit "no tool call" response for
// kind, returned in place of invoking the workflow engine.
func ToolProbeResponse(kind neutral.FrontendAPIKind, model string) ([]byte, error) {
	if kind.IsOpenAI() {
		resp := map[string]any{
			"id":                 fmt.Sprintf("chatcmpl-opnwui-tool-%d", time.Now().Unix()),
			"object":             "chat.completion",
			"created":            time.Now().Unix(),
			"model":              model,
			"system_fingerprint": "wmr_123456789",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": nil, "tool_calls": []any{}},
					"logprobs":      nil,
					"finish_reason": "tool_calls",
				},
			},
			"usage": map[string]any{},
		}
		return json.Marshal(resp)
	}

	resp := map[string]any{
		"model":                model,
		"created_at":           time.Now().UTC().Format(time.RFC3339Nano),
		"message":              map[string]string{"role": "assistant", "content": ""},
		"done_reason":          "stop",
		"done":                 true,
		"total_duration":       0,
		"load_duration":        0,
		"prompt_eval_count":    0,
		"prompt_eval_duration": 0,
		"eval_count":           0,
		"eval_duration":        0,
	}
	return json.Marshal(resp)
}

// ModelEntry is one entry in a model listing.
type ModelEntry struct {
	Name string
}

// OpenAIModelList renders /v1/models' body.
func OpenAIModelList(entries []ModelEntry) ([]byte, error) {
	data := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		data = append(data, map[string]any{
			"id":       e.Name,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "gateway",
		})
	}
	return json.Marshal(map[string]any{"object": "list", "data": data})
}

// OllamaTagsList renders /api/tags' body, including the deterministic
// SHA-256 digest of each entry's name.
func OllamaTagsList(entries []ModelEntry) ([]byte, error) {
	models := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		sum := sha256.Sum256([]byte(e.Name))
		models = append(models, map[string]any{
			"name":        e.Name + ":latest",
			"model":       e.Name + ":latest",
			"modified_at": time.Unix(0, 0).UTC().Format(time.RFC3339),
			"size":        0,
			"digest":      "sha256:" + hex.EncodeToString(sum[:]),
			"details": map[string]any{
				"parent_model":       "",
				"format":             "gateway",
				"family":             "gateway",
				"families":           []string{"gateway"},
				"parameter_size":     "unknown",
				"quantization_level": "unknown",
			},
		})
	}
	return json.Marshal(map[string]any{"models": models})
}
