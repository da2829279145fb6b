// Package streamtransform shapes a sequence of neutral token chunks into
// the framed wire-format strings a specific frontend dialect expects,
// applying think-block removal, optimistic prefix stripping, and optional
// speaker-prefix reconstruction along the way.
package streamtransform

import (
	"strings"

	"github.com/axonrelay/gateway/internal/domain/neutral"
	"github.com/axonrelay/gateway/internal/domain/think"
	"github.com/axonrelay/gateway/internal/domain/wire"
	"go.uber.org/zap"
)

const (
	defaultPrefixBufferLimit = 100
	bothCustomPrefixLimit    = 200
)

// Transformer turns one stream's NeutralChunks into framed output strings.
// Construct one per request/stream; it is not safe for concurrent use.
type Transformer struct {
	endpoint neutral.EndpointConfig
	workflow neutral.WorkflowNodeConfig
	policy   neutral.UserPolicy
	kind     neutral.FrontendAPIKind

	generationPrompt string
	hasGenPrompt     bool
	requestID        string
	model            string

	remover *think.Remover

	prefixesToStrip []string
	bufferLimit     int
	shouldBuffer    bool
	complexBuffer   bool

	prefixBuffer       string
	prefixesProcessed  bool
	reconstructionDone bool
	fullResponseText   strings.Builder
}

// Config bundles a Transformer's construction-time inputs.
type Config struct {
	Endpoint         neutral.EndpointConfig
	Workflow         neutral.WorkflowNodeConfig
	Policy           neutral.UserPolicy
	Kind             neutral.FrontendAPIKind
	GenerationPrompt *string
	RequestID        string
	Model            string
	Logger           *zap.Logger
}

// New builds a Transformer for one stream.
func New(cfg Config) *Transformer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tr := &Transformer{
		endpoint:  cfg.Endpoint,
		workflow:  cfg.Workflow,
		policy:    cfg.Policy,
		kind:      cfg.Kind,
		requestID: cfg.RequestID,
		model:     cfg.Model,
		remover: think.New(think.Config{
			RemoveThinking:        cfg.Endpoint.RemoveThinking,
			ThinkTagText:          cfg.Endpoint.ThinkTagText,
			ExpectOnlyClosingTag:  cfg.Endpoint.ExpectOnlyClosingThinkTag,
			OpeningTagGracePeriod: cfg.Endpoint.OpeningTagGracePeriod,
		}, logger),
	}
	if cfg.GenerationPrompt != nil {
		tr.hasGenPrompt = true
		tr.generationPrompt = *cfg.GenerationPrompt
	}

	tr.prefixesToStrip = tr.collectPrefixes()
	tr.complexBuffer = tr.hasGenPrompt || len(tr.prefixesToStrip) > 0
	tr.bufferLimit = tr.computeBufferLimit()
	tr.shouldBuffer = tr.prefixStrippingNeeded() || tr.hasGenPrompt

	return tr
}

func (t *Transformer) workflowCustomEnabled() bool {
	return t.workflow.RemoveCustomTextFromResponseStart
}

func (t *Transformer) endpointCustomEnabled() bool {
	return t.endpoint.RemoveCustomTextFromResponseStartEnd
}

func (t *Transformer) collectPrefixes() []string {
	seen := make(map[string]struct{})
	var prefixes []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		prefixes = append(prefixes, s)
	}

	if t.workflowCustomEnabled() {
		for _, ct := range t.workflow.ResponseStartTextToRemove {
			add(ct)
		}
	}
	if t.endpointCustomEnabled() {
		for _, ct := range t.endpoint.ResponseStartTextToRemoveEndpointWide {
			add(strings.TrimSpace(ct))
		}
	}
	if t.workflow.AddDiscussionIDTimestampsForLLM {
		const ts = "[Sent less than a minute ago]"
		add(ts)
		add(ts + " ")
	}
	if t.policy.AddUserAssistant && t.policy.AddMissingAssistant {
		add("Assistant:")
	}
	return prefixes
}

func (t *Transformer) computeBufferLimit() int {
	if t.workflowCustomEnabled() && t.endpointCustomEnabled() {
		return bothCustomPrefixLimit
	}
	return defaultPrefixBufferLimit
}

func (t *Transformer) prefixStrippingNeeded() bool {
	if t.endpoint.TrimBeginningAndEndLineBreaks {
		return true
	}
	if t.workflowCustomEnabled() || t.endpointCustomEnabled() {
		return true
	}
	if t.workflow.AddDiscussionIDTimestampsForLLM {
		return true
	}
	if t.policy.AddUserAssistant && t.policy.AddMissingAssistant {
		return true
	}
	return false
}

// matchesPartialPrefix reports whether buffer (left-stripped) is still a
// live candidate for one of the configured prefixes.
func (t *Transformer) matchesPartialPrefix(buffer string) bool {
	lstripped := strings.TrimLeft(buffer, " \t\r\n")
	if lstripped == "" {
		return true
	}
	for _, prefix := range t.prefixesToStrip {
		if strings.HasPrefix(prefix, lstripped) || strings.HasPrefix(lstripped, prefix) {
			return true
		}
	}
	return false
}

func (t *Transformer) processPrefixesFromBuffer() string {
	content := t.prefixBuffer

	if t.hasGenPrompt && !t.reconstructionDone {
		trimmedPrompt := strings.TrimSpace(t.generationPrompt)
		lstripped := strings.TrimLeft(content, " \t\r\n")

		llmHasPrefix := false
		if lstripped != "" {
			firstWord := lstripped
			if idx := strings.IndexByte(lstripped, ' '); idx >= 0 {
				firstWord = lstripped[:idx]
			}
			llmHasPrefix = strings.HasSuffix(firstWord, ":")
		}

		if !llmHasPrefix {
			content = trimmedPrompt + " " + lstripped
			t.reconstructionDone = true
		}
	}

	content = strings.TrimLeft(content, " \t\r\n")

	if t.workflowCustomEnabled() {
		for _, custom := range t.workflow.ResponseStartTextToRemove {
			if custom != "" && strings.HasPrefix(content, custom) {
				content = strings.TrimLeft(content[len(custom):], " \t\r\n")
				break
			}
		}
	}

	if t.endpointCustomEnabled() {
		for _, raw := range t.endpoint.ResponseStartTextToRemoveEndpointWide {
			custom := strings.TrimSpace(raw)
			if custom != "" && strings.HasPrefix(content, custom) {
				content = strings.TrimLeft(content[len(custom):], " \t\r\n")
				break
			}
		}
	}

	if t.workflow.AddDiscussionIDTimestampsForLLM {
		const ts = "[Sent less than a minute ago]"
		switch {
		case strings.HasPrefix(content, ts+" "):
			content = strings.TrimLeft(content[len(ts)+1:], " \t\r\n")
		case strings.HasPrefix(content, ts):
			content = strings.TrimLeft(content[len(ts):], " \t\r\n")
		}
	}

	if t.policy.AddUserAssistant && t.policy.AddMissingAssistant {
		const assistant = "Assistant:"
		if strings.HasPrefix(content, assistant) {
			content = strings.TrimLeft(content[len(assistant):], " \t\r\n")
		}
	}

	return content
}

// Frame is one framed output ready to write to the wire.
type Frame struct {
	Payload []byte
}

// ProcessChunk consumes one NeutralChunk and returns zero or more frames to
// emit. Call Finish after the source stream is exhausted.
func (t *Transformer) ProcessChunk(chunk neutral.NeutralChunk) []Frame {
	var frames []Frame

	contentFromRemover := t.remover.ProcessDelta(chunk.Token)
	contentToYield := ""

	if t.shouldBuffer && !t.prefixesProcessed {
		t.prefixBuffer += contentFromRemover

		bufferFull := len(t.prefixBuffer) > t.bufferLimit
		isDone := chunk.Done()

		shouldProcess := false
		switch {
		case t.complexBuffer:
			if !t.matchesPartialPrefix(t.prefixBuffer) {
				shouldProcess = true
			} else if bufferFull || isDone {
				shouldProcess = true
			}
		case t.endpoint.TrimBeginningAndEndLineBreaks:
			if strings.TrimSpace(t.prefixBuffer) != "" || isDone {
				shouldProcess = true
			}
		default:
			if bufferFull || isDone {
				shouldProcess = true
			}
		}

		if shouldProcess {
			contentToYield = t.processPrefixesFromBuffer()
			t.prefixesProcessed = true
			t.prefixBuffer = ""
		}
	} else {
		contentToYield = contentFromRemover
	}

	if contentToYield != "" {
		t.fullResponseText.WriteString(contentToYield)
		if frame, ok := t.emit(contentToYield, ""); ok {
			frames = append(frames, frame)
		}
	}

	return frames
}

// Finish flushes any residual buffered content and emits the terminal frame
// (and, for OpenAI dialects, the trailing [DONE] marker).
func (t *Transformer) Finish() []Frame {
	var frames []Frame

	finalFromRemover := t.remover.Finalize()
	var finalContent string
	if t.shouldBuffer && !t.prefixesProcessed {
		t.prefixBuffer += finalFromRemover
		finalContent = t.processPrefixesFromBuffer()
		t.prefixBuffer = ""
	} else {
		finalContent = finalFromRemover
	}

	if finalContent != "" {
		t.fullResponseText.WriteString(finalContent)
		if frame, ok := t.emit(finalContent, ""); ok {
			frames = append(frames, frame)
		}
	}

	if frame, ok := t.emit("", "stop"); ok {
		frames = append(frames, frame)
	}

	if done := wire.DoneMarker(t.kind); done != nil {
		frames = append(frames, Frame{Payload: done})
	}

	return frames
}

func (t *Transformer) emit(token, finishReason string) (Frame, bool) {
	raw, err := wire.BuildResponseJSON(t.kind, token, finishReason, t.requestID, t.model)
	if err != nil {
		return Frame{}, false
	}
	return Frame{Payload: wire.SSEFormat(t.kind, raw)}, true
}

// FullResponseText returns the concatenation of every non-empty fragment
// ever emitted (not counting the terminal frame or heartbeats).
func (t *Transformer) FullResponseText() string {
	return t.fullResponseText.String()
}
