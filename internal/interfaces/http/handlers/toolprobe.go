package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/axonrelay/gateway/internal/domain/neutral"
	"github.com/axonrelay/gateway/internal/domain/wire"
)

// probeIntake is the minimal shape ToolProbeMiddleware needs to read off a
// chat request body: the model name and a message list with only role and
// content populated.
type probeIntake struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// ToolProbeMiddleware answers the tool-probe sentinel phrase locally,
// short-circuiting before the handler body ever runs, keeping the check out
// of the handler bodies themselves.
func ToolProbeMiddleware(kind neutral.FrontendAPIKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Request.Body = io.NopCloser(bytes.NewReader(nil))
			c.Next()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var intake probeIntake
		if json.Unmarshal(body, &intake) == nil {
			for _, m := range intake.Messages {
				if m.Role == "system" && bytes.Contains([]byte(m.Content), []byte(toolProbeSentinel)) {
					resp, err := wire.ToolProbeResponse(kind, intake.Model)
					if err != nil {
						c.Next()
						return
					}
					c.Data(http.StatusOK, "application/json; charset=utf-8", resp)
					c.Abort()
					return
				}
			}
		}

		c.Next()
	}
}
