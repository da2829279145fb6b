package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/axonrelay/gateway/internal/domain/neutral"
)

func newTestHandler(sharedWorkflows []string, listEach bool) *GatewayHandler {
	return NewGatewayHandler(Config{
		CurrentUser:      "gateway",
		SharedWorkflows:  sharedWorkflows,
		ListEachWorkflow: listEach,
	})
}

func TestParseModelFieldHonorsKnownWorkflowOverride(t *testing.T) {
	h := newTestHandler([]string{"CodingWorkflow"}, true)

	if got := h.parseModelField("gateway:CodingWorkflow:latest"); got != "CodingWorkflow" {
		t.Fatalf("expected override %q, got %q", "CodingWorkflow", got)
	}
}

func TestParseModelFieldIgnoresUnknownWorkflow(t *testing.T) {
	h := newTestHandler([]string{"CodingWorkflow"}, true)

	if got := h.parseModelField("gateway:NotAWorkflow"); got != "" {
		t.Fatalf("expected no override for an unknown workflow name, got %q", got)
	}
}

func TestParseModelFieldWithNoColonReturnsEmpty(t *testing.T) {
	h := newTestHandler(nil, false)
	if got := h.parseModelField("gateway"); got != "" {
		t.Fatalf("expected empty override, got %q", got)
	}
}

func TestApplyAssistantPolicyAppendsMarkerWhenBothFlagsSet(t *testing.T) {
	policy := neutral.UserPolicy{AddUserAssistant: true, AddMissingAssistant: true}
	messages := []neutral.Message{{Role: "user", Content: "hi"}}

	out := applyAssistantPolicy(messages, policy)
	if len(out) != 2 || out[1].Role != "assistant" {
		t.Fatalf("expected an appended assistant marker, got %+v", out)
	}
}

func TestApplyAssistantPolicySkipsWhenLastMessageIsAssistant(t *testing.T) {
	policy := neutral.UserPolicy{AddUserAssistant: true, AddMissingAssistant: true}
	messages := []neutral.Message{{Role: "assistant", Content: "already here"}}

	out := applyAssistantPolicy(messages, policy)
	if len(out) != 1 {
		t.Fatalf("expected no marker appended, got %+v", out)
	}
}

func TestApplyAssistantPolicyNoopWhenFlagsUnset(t *testing.T) {
	messages := []neutral.Message{{Role: "user", Content: "hi"}}
	out := applyAssistantPolicy(messages, neutral.UserPolicy{})
	if len(out) != 1 {
		t.Fatalf("expected messages unchanged, got %+v", out)
	}
}

func TestLiftImagesInsertsBeforeMessage(t *testing.T) {
	msg := neutral.Message{Role: "user", Content: "describe this"}
	out := liftImages(nil, []string{"img1", "img2"}, msg)

	if len(out) != 3 {
		t.Fatalf("expected 2 image messages plus the original, got %d", len(out))
	}
	if out[0].Role != "images" || out[0].Content != "img1" {
		t.Fatalf("unexpected first image message: %+v", out[0])
	}
	if out[2] != msg {
		t.Fatalf("expected the original message last, got %+v", out[2])
	}
}

func TestExtractDiscussionIDUsesFirstUserOrSystemMessage(t *testing.T) {
	messages := []neutral.Message{
		{Role: "system", Content: "you are a bot"},
		{Role: "user", Content: "hello"},
	}
	id := ExtractDiscussionID(messages)
	if id == "" {
		t.Fatalf("expected a non-empty discussion id")
	}

	again := ExtractDiscussionID(messages)
	if id != again {
		t.Fatalf("expected a stable discussion id across calls, got %q then %q", id, again)
	}
}

func TestExtractDiscussionIDEmptyWithNoMessages(t *testing.T) {
	if id := ExtractDiscussionID(nil); id != "" {
		t.Fatalf("expected empty discussion id, got %q", id)
	}
}

func TestToolProbeMiddlewareShortCircuitsOnSentinel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	called := false
	router.POST("/chat", ToolProbeMiddleware(neutral.OpenAIChatCompletion), func(c *gin.Context) {
		called = true
		c.Status(http.StatusOK)
	})

	body := `{"model":"gateway","messages":[{"role":"system","content":"` + toolProbeSentinel + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if called {
		t.Fatalf("expected the handler to be short-circuited")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestToolProbeMiddlewarePassesThroughOrdinaryRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	called := false
	router.POST("/chat", ToolProbeMiddleware(neutral.OpenAIChatCompletion), func(c *gin.Context) {
		called = true
		c.Status(http.StatusOK)
	})

	body := `{"model":"gateway","messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected the handler to run for a non-probe request")
	}
}
