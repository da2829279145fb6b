package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gwerrors "github.com/axonrelay/gateway/pkg/errors"

	"github.com/axonrelay/gateway/internal/domain/neutral"
	"github.com/axonrelay/gateway/internal/domain/think"
	"go.uber.org/zap"
)

const (
	// defaultIdleReadTimeout bounds the wait for any single read, not the
	// whole stream. Individual tokens can be very slow during prefill, so
	// the window is generous; the client-facing heartbeat layer is what
	// detects stuck prefills, not this timeout.
	defaultIdleReadTimeout = 4 * time.Hour
	maxSSELineBytes        = 1024 * 1024
)

// errIdleTimeout is returned by timedReader when no data arrives within the
// configured window; it distinguishes a stalled backend from a real I/O
// error without wrapping every read in a context deadline that would also
// abort a legitimately slow-but-alive stream.
var errIdleTimeout = fmt.Errorf("backend: read idle timeout")

// timedReader applies a per-Read idle deadline to an io.Reader.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

// StreamRequest bundles one streaming call's inputs.
type StreamRequest struct {
	RequestID     string
	Conversation  []neutral.Message
	SystemPrompt  string
	UserPrompt    string
	FirstChunkCap int // rolling "Assistant:" buffer cap; 0 disables the pass

	// StreamKey is the payload property name the backend dialect expects
	// the stream flag under (ApiTypeConfig.StreamPropertyName). Empty means
	// the conventional "stream".
	StreamKey string
}

func (r StreamRequest) streamKey() string {
	if r.StreamKey == "" {
		return "stream"
	}
	return r.StreamKey
}

// RunStream opens a streaming backend call for h and returns a channel of
// NeutralChunks, matching the shared streaming protocol every dialect
// handler honors: an abort callback is registered so cancellation closes
// the response body, lines are decoded per h.StreamFormat(), parsed chunks
// are run through a per-call ThinkRemover, and the channel is closed once
// the handler observes finish_reason=="stop", cancellation, or backend EOF.
func RunStream(ctx context.Context, h Handler, deps Deps, endpoint neutral.EndpointConfig, req StreamRequest) (<-chan neutral.NeutralChunk, error) {
	payload, err := h.PreparePayload(req.Conversation, req.SystemPrompt, req.UserPrompt)
	if err != nil {
		return nil, gwerrors.NewMalformedRequestError("prepare payload: " + err.Error())
	}
	payload[req.streamKey()] = true

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, gwerrors.NewMalformedRequestError("marshal payload: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.EndpointURL(true), bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.NewBackendTransportError("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if endpoint.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	}

	resp, err := deps.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, gwerrors.NewBackendTransportError("connect to backend", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, gwerrors.NewBackendTransportError(fmt.Sprintf("backend returned %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	deps.Cancel.RegisterAbortCallback(req.RequestID, func() {
		resp.Body.Close()
	})

	out := make(chan neutral.NeutralChunk)

	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	go func() {
		defer close(out)
		defer close(streamDone)
		defer resp.Body.Close()
		defer deps.Cancel.UnregisterAbortCallbacks(req.RequestID)

		remover := think.New(think.Config{
			RemoveThinking:        endpoint.RemoveThinking,
			ThinkTagText:          endpoint.ThinkTagText,
			ExpectOnlyClosingTag:  endpoint.ExpectOnlyClosingThinkTag,
			OpeningTagGracePeriod: endpoint.OpeningTagGracePeriod,
		}, deps.Logger)

		firstChunkBuf := newFirstChunkBuffer(req.FirstChunkCap)

		tReader := &timedReader{r: resp.Body, timeout: defaultIdleReadTimeout}
		scanner := bufio.NewScanner(tReader)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

		format := h.StreamFormat()
		namedEvent, isNamed := format.IsSSENamedEvent()
		currentEvent := ""

		stopped := false

		for scanner.Scan() {
			if deps.Cancel.IsCancelled(req.RequestID) {
				break
			}

			line := scanner.Text()
			if line == "" {
				continue
			}

			var payloadLine string
			switch {
			case format.IsLineDelimitedJSON():
				payloadLine = line
			case format.IsSSEAnyEvent():
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				payloadLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if payloadLine == "[DONE]" {
					stopped = true
				}
			case isNamed:
				if strings.HasPrefix(line, "event:") {
					currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
					continue
				}
				if !strings.HasPrefix(line, "data:") || currentEvent != namedEvent {
					continue
				}
				payloadLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}

			if stopped {
				break
			}
			if payloadLine == "" {
				continue
			}

			chunk, ok := h.ParseChunk([]byte(payloadLine))
			if !ok {
				deps.Logger.Warn("failed to parse backend stream frame", zap.String("request_id", req.RequestID))
				continue
			}

			visible := remover.ProcessDelta(chunk.Token)
			visible = firstChunkBuf.process(visible, chunk.Done())

			emitted := neutral.NeutralChunk{Token: visible, FinishReason: chunk.FinishReason}
			select {
			case out <- emitted:
			case <-ctx.Done():
				return
			}

			if chunk.Done() {
				break
			}
		}

		if residual := remover.Finalize(); residual != "" {
			residual = firstChunkBuf.process(residual, true)
			select {
			case out <- neutral.NeutralChunk{Token: residual}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- neutral.NeutralChunk{FinishReason: "stop"}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// firstChunkBuffer is a small rolling buffer that strips a stale leading
// "Assistant:" prefix from the very first tokens, then passes everything
// through unchanged.
type firstChunkBuffer struct {
	cap      int
	buf      string
	resolved bool
}

func newFirstChunkBuffer(cap int) *firstChunkBuffer {
	return &firstChunkBuffer{cap: cap}
}

func (f *firstChunkBuffer) process(token string, done bool) string {
	if f.cap <= 0 || f.resolved {
		return token
	}
	f.buf += token
	if strings.HasPrefix(strings.TrimLeft(f.buf, " \t\r\n"), "Assistant:") {
		f.resolved = true
		stripped := strings.TrimLeft(f.buf, " \t\r\n")
		out := strings.TrimLeft(strings.TrimPrefix(stripped, "Assistant:"), " \t\r\n")
		f.buf = ""
		return out
	}
	if len(f.buf) >= f.cap || done {
		f.resolved = true
		out := f.buf
		f.buf = ""
		return out
	}
	return ""
}
