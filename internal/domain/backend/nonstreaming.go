package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/axonrelay/gateway/internal/domain/neutral"
	"github.com/axonrelay/gateway/internal/domain/think"
	gwerrors "github.com/axonrelay/gateway/pkg/errors"
	"go.uber.org/zap"
)

const (
	maxNonStreamAttempts = 3
	retryBaseWait        = 1 * time.Second
)

// CallResult is the outcome of a completed non-streaming backend call.
type CallResult struct {
	Text string
}

// Call issues a non-streaming backend request, retrying transient failures
// up to maxNonStreamAttempts times with baseline exponential backoff (1s
// before the second attempt, 2s before the third). On success the raw response is parsed, run through
// think.RemoveThinkingFromText in one pass, and has any stray leading
// linebreaks or "Assistant:" prefix trimmed.
func Call(ctx context.Context, h Handler, deps Deps, endpoint neutral.EndpointConfig, req StreamRequest) (CallResult, error) {
	var lastErr error

	for attempt := 0; attempt < maxNonStreamAttempts; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(1<<(attempt-1))
			deps.Logger.Info("retrying backend call",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return CallResult{}, ctx.Err()
			}
		}

		text, err := callOnce(ctx, h, deps, endpoint, req)
		if err == nil {
			return CallResult{Text: text}, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return CallResult{}, gwerrors.NewBackendTransportError("non-retryable backend error", err)
		}
	}

	return CallResult{}, gwerrors.NewBackendTransportError(
		fmt.Sprintf("backend call failed after %d attempts", maxNonStreamAttempts), lastErr)
}

func callOnce(ctx context.Context, h Handler, deps Deps, endpoint neutral.EndpointConfig, req StreamRequest) (string, error) {
	payload, err := h.PreparePayload(req.Conversation, req.SystemPrompt, req.UserPrompt)
	if err != nil {
		return "", gwerrors.NewMalformedRequestError("prepare payload: " + err.Error())
	}
	payload[req.streamKey()] = false

	body, err := json.Marshal(payload)
	if err != nil {
		return "", gwerrors.NewMalformedRequestError("marshal payload: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.EndpointURL(false), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if endpoint.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	}

	deps.Cancel.RegisterAbortCallback(req.RequestID, func() {})
	defer deps.Cancel.UnregisterAbortCallbacks(req.RequestID)

	resp, err := deps.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("connect to backend: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(respBody))
	}

	raw, err := h.ParseFullResponse(respBody)
	if err != nil {
		return "", gwerrors.NewParseFailureError("parse backend response", err)
	}

	text := think.RemoveThinkingFromText(raw, think.Config{
		RemoveThinking:        endpoint.RemoveThinking,
		ThinkTagText:          endpoint.ThinkTagText,
		ExpectOnlyClosingTag:  endpoint.ExpectOnlyClosingThinkTag,
		OpeningTagGracePeriod: endpoint.OpeningTagGracePeriod,
	})

	if endpoint.TrimBeginningAndEndLineBreaks {
		text = strings.Trim(text, "\n\r")
	}
	text = strings.TrimLeft(text, " \t\r\n")
	text = strings.TrimPrefix(text, "Assistant:")
	text = strings.TrimLeft(text, " \t\r\n")

	return text, nil
}

// isRetryableError reports whether a non-streaming backend failure is worth
// another attempt. Errors matching a known permanent-rejection pattern (auth
// failure, bad request, unknown model, caller cancellation) are not; every
// other error is, whether or not it matches one of the listed transient
// patterns.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	nonRetryable := []string{
		"context canceled",
		"unauthorized",
		"invalid api key",
		"bad request",
		"invalid argument",
		"model not found",
	}
	for _, pattern := range nonRetryable {
		if strings.Contains(errStr, pattern) {
			return false
		}
	}

	retryable := []string{
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"eof",
		"server error",
		"502", "503", "504", "529",
		"rate limit",
		"too many requests",
		"overloaded",
		"temporarily unavailable",
	}
	for _, pattern := range retryable {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return true
}
