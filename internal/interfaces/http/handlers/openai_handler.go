package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/axonrelay/gateway/internal/domain/neutral"
	"github.com/axonrelay/gateway/internal/domain/workflow"
	"github.com/axonrelay/gateway/internal/domain/wire"
	"github.com/axonrelay/gateway/internal/infrastructure/logger"
	apperrors "github.com/axonrelay/gateway/pkg/errors"
)

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openAICompletionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// ChatCompletions implements POST /v1/chat/completions (and its
// unversioned alias), the OpenAI chat route.
func (h *GatewayHandler) ChatCompletions(c *gin.Context) {
	var req openAIChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperrors.NewMalformedRequestError("invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		respondError(c, h.logger, apperrors.NewMalformedRequestError("model and messages are required"))
		return
	}

	messages := make([]neutral.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, neutral.Message{Role: m.Role, Content: m.Content})
	}

	h.dispatch(c, neutral.OpenAIChatCompletion, req.Model, messages, req.Stream)
}

// Completions implements POST /v1/completions (and its unversioned alias),
// the OpenAI legacy completion route.
func (h *GatewayHandler) Completions(c *gin.Context) {
	var req openAICompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperrors.NewMalformedRequestError("invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" {
		respondError(c, h.logger, apperrors.NewMalformedRequestError("model is required"))
		return
	}

	messages := parsePromptIntoMessages(req.Prompt)
	h.dispatch(c, neutral.OpenAICompletion, req.Model, messages, req.Stream)
}

// ListModels implements GET /v1/models.
func (h *GatewayHandler) ListModels(c *gin.Context) {
	body, err := wire.OpenAIModelList(h.models)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Data(200, "application/json; charset=utf-8", body)
}

// dispatch is the shared OpenAI/Ollama request lifecycle: resolve the
// workflow override, route through the engine, apply assistant-marker
// policy, and stream or return the response, parameterized by kind.
func (h *GatewayHandler) dispatch(c *gin.Context, kind neutral.FrontendAPIKind, model string, messages []neutral.Message, stream bool) {
	requestID := newRequestID()
	reqLogger := h.logger.With(zap.String("request_id", requestID))
	if ce := reqLogger.Check(zap.DebugLevel, "request received"); ce != nil {
		ce.Write(zap.Any("messages", logger.SanitizeForLog(messagesToLogValue(messages))))
	}

	messages = applyAssistantPolicy(messages, h.policy)

	rc := workflow.RequestContext{
		RequestID:        requestID,
		FrontendAPIKind:  kind,
		WorkflowOverride: h.parseModelField(model),
		Stream:           stream,
		Messages:         messages,
		DiscussionID:     ExtractDiscussionID(messages),
		Logger:           reqLogger,
	}

	defer h.cancel.UnregisterAbortCallbacks(requestID)
	defer h.cancel.AcknowledgeCancellation(requestID)

	if !stream {
		text, _, err := h.engine.Run(c.Request.Context(), rc)
		if err != nil {
			respondError(c, reqLogger, err)
			return
		}
		body, err := wire.BuildFullResponseJSON(kind, text, requestID, model)
		if err != nil {
			respondError(c, reqLogger, err)
			return
		}
		c.Data(200, "application/json; charset=utf-8", body)
		return
	}

	streamCtx, err := h.engine.ResolveStreamContext(rc)
	if err != nil {
		respondError(c, reqLogger, err)
		return
	}

	_, ch, err := h.engine.Run(c.Request.Context(), rc)
	if err != nil {
		respondError(c, reqLogger, err)
		return
	}

	h.streamResponse(c, rc, kind, ch, streamCtx, reqLogger)
}

// messagesToLogValue converts a message list into plain maps so
// logger.SanitizeForLog can walk it without depending on the neutral
// package.
func messagesToLogValue(messages []neutral.Message) []any {
	out := make([]any, len(messages))
	for i, m := range messages {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}

// parsePromptIntoMessages handles the legacy-completion intake: a raw
// prompt string becomes a single user message, or no messages at all for an
// empty prompt.
func parsePromptIntoMessages(prompt string) []neutral.Message {
	if strings.TrimSpace(prompt) == "" {
		return nil
	}
	return []neutral.Message{{Role: "user", Content: prompt}}
}
