package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/axonrelay/gateway/internal/domain/neutral"
	"github.com/axonrelay/gateway/internal/domain/wire"
	apperrors "github.com/axonrelay/gateway/pkg/errors"
)

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   *bool           `json:"stream"`
}

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	System string   `json:"system"`
	Stream *bool    `json:"stream"`
	Images []string `json:"images,omitempty"`
}

type cancelRequest struct {
	RequestID string `json:"request_id"`
}

func streamDefaultTrue(p *bool) bool {
	if p == nil {
		return true
	}
	return *p
}

// Chat implements POST /api/chat, the Ollama chat route.
func (h *GatewayHandler) Chat(c *gin.Context) {
	var req ollamaChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperrors.NewMalformedRequestError("invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		respondError(c, h.logger, apperrors.NewMalformedRequestError("model and messages are required"))
		return
	}

	var messages []neutral.Message
	for _, m := range req.Messages {
		messages = liftImages(messages, m.Images, neutral.Message{Role: m.Role, Content: m.Content})
	}

	h.dispatch(c, neutral.OllamaChat, req.Model, messages, streamDefaultTrue(req.Stream))
}

// Generate implements POST /api/generate, the Ollama generate route.
func (h *GatewayHandler) Generate(c *gin.Context) {
	var req ollamaGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperrors.NewMalformedRequestError("invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" {
		respondError(c, h.logger, apperrors.NewMalformedRequestError("model is required"))
		return
	}

	combined := req.Prompt
	if req.System != "" {
		combined = req.System + "\n" + req.Prompt
	}
	messages := parsePromptIntoMessages(combined)
	for _, img := range req.Images {
		messages = append(messages, neutral.Message{Role: "images", Content: img})
	}

	h.dispatch(c, neutral.OllamaGenerate, req.Model, messages, streamDefaultTrue(req.Stream))
}

// CancelChat implements DELETE /api/chat.
func (h *GatewayHandler) CancelChat(c *gin.Context) {
	h.cancelByRequestID(c)
}

// CancelGenerate implements DELETE /api/generate.
func (h *GatewayHandler) CancelGenerate(c *gin.Context) {
	h.cancelByRequestID(c)
}

func (h *GatewayHandler) cancelByRequestID(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RequestID == "" {
		respondError(c, h.logger, apperrors.NewMalformedRequestError("request_id is required"))
		return
	}
	h.cancel.RequestCancellation(req.RequestID)
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "request_id": req.RequestID})
}

// Tags implements GET /api/tags.
func (h *GatewayHandler) Tags(c *gin.Context) {
	body, err := wire.OllamaTagsList(h.models)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// Version implements GET /api/version.
func (h *GatewayHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": "0.1.0"})
}
