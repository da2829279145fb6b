// Package handlers implements the FrontendDispatcher: the Gin route
// handlers that translate OpenAI- and Ollama-compatible HTTP requests into
// WorkflowEngine calls and translate the engine's output back onto the
// wire, including the heartbeat-and-disconnect-aware streaming loop.
package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/axonrelay/gateway/internal/domain/cancellation"
	"github.com/axonrelay/gateway/internal/domain/neutral"
	"github.com/axonrelay/gateway/internal/domain/streamtransform"
	"github.com/axonrelay/gateway/internal/domain/workflow"
	"github.com/axonrelay/gateway/internal/domain/wire"
	apperrors "github.com/axonrelay/gateway/pkg/errors"
	"github.com/axonrelay/gateway/pkg/safego"
)

// toolProbeSentinel is the literal phrase certain clients embed in a system
// message to ask "would you invoke a tool?"
const toolProbeSentinel = "Your task is to choose and return the correct tool(s) from the list of available tools based on the query"

const heartbeatInterval = 1 * time.Second

// Engine is the collaborator contract the dispatcher programs against;
// *workflow.Engine satisfies it.
type Engine interface {
	Run(ctx context.Context, rc workflow.RequestContext) (string, <-chan workflow.StreamItem, error)
	ResolveStreamContext(rc workflow.RequestContext) (workflow.StreamContext, error)
}

// EventTap mirrors every frame written to a client onto an operator-facing
// side channel (the websocket debug tap). Satisfied by *websocket.Tap;
// kept as an interface so this package stays transport agnostic.
type EventTap interface {
	Publish(frame []byte)
}

// GatewayHandler holds everything the OpenAI- and Ollama-compatible route
// handlers share: the workflow engine, the cancellation registry, model
// listing data, and the logger every request logger is derived from.
type GatewayHandler struct {
	engine      Engine
	cancel      *cancellation.Registry
	logger      *zap.Logger
	currentUser string
	models      []wire.ModelEntry
	workflows   map[string]struct{}
	policy      neutral.UserPolicy
	tap         EventTap
}

// Config bundles a GatewayHandler's construction-time dependencies.
type Config struct {
	Engine      Engine
	Cancel      *cancellation.Registry
	Logger      *zap.Logger
	CurrentUser string
	// SharedWorkflows lists the workflow names routable via the
	// "<user>:<workflow>" model-field override convention, and via model
	// listings.
	SharedWorkflows []string
	// ListEachWorkflow controls whether model listings emit one entry per
	// shared workflow or a single "<current_user>" entry.
	ListEachWorkflow bool
	// Policy carries the two global "add assistant markers" flags applied
	// to inbound message lists.
	Policy neutral.UserPolicy
	// Tap, if set, receives a copy of every frame written to a client.
	Tap EventTap
}

// NewGatewayHandler builds a GatewayHandler from cfg.
func NewGatewayHandler(cfg Config) *GatewayHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	workflows := make(map[string]struct{}, len(cfg.SharedWorkflows))
	var models []wire.ModelEntry
	if cfg.ListEachWorkflow {
		for _, name := range cfg.SharedWorkflows {
			workflows[name] = struct{}{}
			models = append(models, wire.ModelEntry{Name: cfg.CurrentUser + ":" + name})
		}
	} else {
		for _, name := range cfg.SharedWorkflows {
			workflows[name] = struct{}{}
		}
		models = append(models, wire.ModelEntry{Name: cfg.CurrentUser})
	}

	return &GatewayHandler{
		engine:      cfg.Engine,
		cancel:      cfg.Cancel,
		logger:      logger.With(zap.String("component", "frontend-dispatcher")),
		currentUser: cfg.CurrentUser,
		models:      models,
		workflows:   workflows,
		policy:      cfg.Policy,
		tap:         cfg.Tap,
	}
}

// parseModelField strips a trailing ":latest", then splits the remainder
// on the first ":" into (user, workflow). The workflow half is only
// honored as an override if it names a known shared workflow.
func (h *GatewayHandler) parseModelField(model string) (override string) {
	model = strings.TrimSuffix(model, ":latest")
	idx := strings.IndexByte(model, ':')
	if idx < 0 {
		return ""
	}
	candidate := model[idx+1:]
	if _, ok := h.workflows[candidate]; ok {
		return candidate
	}
	return ""
}

// ExtractDiscussionID pulls a stable per-conversation key out of the
// message list, for the lock-sweep/WorkflowEngine plumbing. The first
// message is the most stable anchor across turns of the same conversation.
func ExtractDiscussionID(messages []neutral.Message) string {
	for _, m := range messages {
		if m.Role == "user" || m.Role == "system" {
			sum := sha256Short(m.Content)
			return sum
		}
	}
	return ""
}

func newRequestID() string {
	return uuid.NewString()
}

func sha256Short(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// respondError writes err as a JSON error body with the code-appropriate
// HTTP status and logs it.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var appErr *apperrors.AppError
	status := http.StatusInternalServerError
	message := err.Error()
	if ae, ok := err.(*apperrors.AppError); ok {
		appErr = ae
		status = ae.HTTPStatus()
		message = ae.Message
	}
	if appErr == nil || appErr.Code != apperrors.CodeCancelled {
		logger.Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": message})
}

// applyAssistantPolicy optionally appends a marker assistant message with
// content "Assistant:" at the tail when the last real message is not already assistant-role and
// both policy flags request it.
func applyAssistantPolicy(messages []neutral.Message, policy neutral.UserPolicy) []neutral.Message {
	if !policy.AddUserAssistant || !policy.AddMissingAssistant {
		return messages
	}
	if len(messages) == 0 || messages[len(messages)-1].Role == "assistant" {
		return messages
	}
	return append(messages, neutral.Message{Role: "assistant", Content: "Assistant:"})
}

// liftImages inserts a synthetic {role: "images", content: <image>} entry
// immediately before msg for every element of images.
func liftImages(out []neutral.Message, images []string, msg neutral.Message) []neutral.Message {
	for _, img := range images {
		out = append(out, neutral.Message{Role: "images", Content: img})
	}
	return append(out, msg)
}

// setStreamHeaders sets the response headers for kind's streaming body:
// application/x-ndjson for Ollama dialects, text/event-stream for OpenAI,
// plus anti-buffering headers on every streaming response.
func setStreamHeaders(c *gin.Context, kind neutral.FrontendAPIKind) {
	if kind.IsOpenAI() {
		c.Header("Content-Type", "text/event-stream")
	} else {
		c.Header("Content-Type", "application/x-ndjson")
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
}

// streamResponse drives the heartbeat-and-disconnect-aware outer loop. It
// builds a streamtransform.Transformer from the engine's resolved stream
// context, reads workflow.StreamItems off ch (via a cooperative reader
// goroutine when a Flusher is available, or synchronously as a fallback),
// and writes framed bytes to the client.
func (h *GatewayHandler) streamResponse(c *gin.Context, rc workflow.RequestContext, kind neutral.FrontendAPIKind, ch <-chan workflow.StreamItem, streamCtx workflow.StreamContext, logger *zap.Logger) {
	setStreamHeaders(c, kind)

	transformer := streamtransform.New(streamtransform.Config{
		Endpoint:         streamCtx.Endpoint,
		Workflow:         streamCtx.Workflow,
		Policy:           streamCtx.Policy,
		Kind:             kind,
		GenerationPrompt: streamCtx.GenerationPrompt,
		RequestID:        rc.RequestID,
		Model:            streamCtx.Model,
		Logger:           logger,
	})

	write := func(b []byte) bool {
		if _, err := c.Writer.Write(b); err != nil {
			return false
		}
		if h.tap != nil {
			h.tap.Publish(b)
		}
		return true
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.streamSynchronous(c, rc, ch, transformer, write)
		return
	}
	h.streamCooperative(c, rc, ch, transformer, write, flusher, logger)
}

// streamCooperative is the primary streaming variant: a background reader
// goroutine feeds a bounded channel; the foreground loop selects between
// that channel and a heartbeat timer.
func (h *GatewayHandler) streamCooperative(c *gin.Context, rc workflow.RequestContext, ch <-chan workflow.StreamItem, transformer *streamtransform.Transformer, write func([]byte) bool, flusher http.Flusher, logger *zap.Logger) {
	readCtx, cancelRead := context.WithCancel(c.Request.Context())
	defer cancelRead()

	items := make(chan workflow.StreamItem, 16)
	safego.Go(logger, "stream-reader:"+rc.RequestID, func() {
		defer close(items)
		for {
			select {
			case item, okItem := <-ch:
				if !okItem {
					return
				}
				select {
				case items <- item:
				case <-readCtx.Done():
					return
				}
			case <-readCtx.Done():
				return
			}
		}
	})

	timer := time.NewTimer(heartbeatInterval)
	defer timer.Stop()

	kind := rc.FrontendAPIKind
	for {
		select {
		case <-c.Request.Context().Done():
			h.cancel.RequestCancellation(rc.RequestID)
			return

		case item, okItem := <-items:
			if !okItem {
				h.flushTerminal(write, flusher, transformer)
				return
			}
			if !h.writeItem(write, flusher, transformer, item) {
				h.cancel.RequestCancellation(rc.RequestID)
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(heartbeatInterval)

		case <-timer.C:
			if !write(wire.HeartbeatFrame(kind)) {
				h.cancel.RequestCancellation(rc.RequestID)
				return
			}
			flusher.Flush()
			timer.Reset(heartbeatInterval)
		}
	}
}

// streamSynchronous is the fallback streaming variant for ResponseWriters
// without a Flusher: no heartbeats, disconnect detection only on write
// failure.
func (h *GatewayHandler) streamSynchronous(c *gin.Context, rc workflow.RequestContext, ch <-chan workflow.StreamItem, transformer *streamtransform.Transformer, write func([]byte) bool) {
	for item := range ch {
		if !h.writeItem(write, nil, transformer, item) {
			h.cancel.RequestCancellation(rc.RequestID)
			return
		}
	}
	h.flushTerminal(write, nil, transformer)
}

// writeItem handles one workflow.StreamItem: already-framed bytes are
// written as-is; NeutralChunks are routed through transformer first.
func (h *GatewayHandler) writeItem(write func([]byte) bool, flusher http.Flusher, transformer *streamtransform.Transformer, item workflow.StreamItem) bool {
	if item.Framed != nil {
		if !write(item.Framed) {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}
	if item.Chunk == nil {
		return true
	}
	for _, frame := range transformer.ProcessChunk(*item.Chunk) {
		if !write(frame.Payload) {
			return false
		}
	}
	if flusher != nil {
		flusher.Flush()
	}
	return true
}

func (h *GatewayHandler) flushTerminal(write func([]byte) bool, flusher http.Flusher, transformer *streamtransform.Transformer) {
	for _, frame := range transformer.Finish() {
		if !write(frame.Payload) {
			return
		}
	}
	if flusher != nil {
		flusher.Flush()
	}
}
