package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/axonrelay/gateway/internal/domain/cancellation"
	"github.com/axonrelay/gateway/internal/domain/neutral"
	"go.uber.org/zap"
)

type fakeLineHandler struct {
	url    string
	format StreamFormatKind
}

func (h *fakeLineHandler) EndpointURL(stream bool) string { return h.url }
func (h *fakeLineHandler) PreparePayload(conversation []neutral.Message, systemPrompt, userPrompt string) (Payload, error) {
	return Payload{"prompt": userPrompt}, nil
}
func (h *fakeLineHandler) StreamFormat() StreamFormatKind { return h.format }
func (h *fakeLineHandler) ParseChunk(raw []byte) (neutral.NeutralChunk, bool) {
	s := string(raw)
	if s == `{"done":true}` {
		return neutral.NeutralChunk{FinishReason: "stop"}, true
	}
	return neutral.NeutralChunk{Token: s}, true
}
func (h *fakeLineHandler) ParseFullResponse(body []byte) (string, error) {
	return string(body), nil
}

func TestRunStreamLineDelimitedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, "Hel\n")
		fmt.Fprint(w, "lo\n")
		fmt.Fprint(w, `{"done":true}`+"\n")
	}))
	defer srv.Close()

	h := &fakeLineHandler{url: srv.URL, format: StreamFormatLineDelimitedJSON}
	deps := Deps{HTTPClient: srv.Client(), Logger: zap.NewNop(), Cancel: cancellation.New(zap.NewNop())}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := RunStream(ctx, h, deps, neutral.EndpointConfig{}, StreamRequest{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got string
	var sawStop bool
	for chunk := range out {
		got += chunk.Token
		if chunk.FinishReason == "stop" {
			sawStop = true
		}
	}

	if got != "Hello" {
		t.Fatalf("expected concatenated tokens 'Hello', got %q", got)
	}
	if !sawStop {
		t.Fatalf("expected a terminal stop chunk")
	}
}

func TestRunStreamHonorsCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, "tok%d\n", i)
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(10 * time.Millisecond)
		}
	}))
	defer srv.Close()

	h := &fakeLineHandler{url: srv.URL, format: StreamFormatLineDelimitedJSON}
	registry := cancellation.New(zap.NewNop())
	deps := Deps{HTTPClient: srv.Client(), Logger: zap.NewNop(), Cancel: registry}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := RunStream(ctx, h, deps, neutral.EndpointConfig{}, StreamRequest{RequestID: "req-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	<-started
	registry.RequestCancellation("req-2")

	count := 0
	for range out {
		count++
	}
	if count >= 100 {
		t.Fatalf("expected cancellation to cut the stream short, got %d chunks", count)
	}
}

func TestCallNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "full response text")
	}))
	defer srv.Close()

	h := &fakeLineHandler{url: srv.URL, format: StreamFormatLineDelimitedJSON}
	deps := Deps{HTTPClient: srv.Client(), Logger: zap.NewNop(), Cancel: cancellation.New(zap.NewNop())}

	result, err := Call(context.Background(), h, deps, neutral.EndpointConfig{}, StreamRequest{RequestID: "req-3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "full response text" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
}

func TestCallRetriesOnRetryableError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "temporarily unavailable")
			return
		}
		fmt.Fprint(w, "ok after retry")
	}))
	defer srv.Close()

	h := &fakeLineHandler{url: srv.URL, format: StreamFormatLineDelimitedJSON}
	deps := Deps{HTTPClient: srv.Client(), Logger: zap.NewNop(), Cancel: cancellation.New(zap.NewNop())}

	result, err := Call(context.Background(), h, deps, neutral.EndpointConfig{}, StreamRequest{RequestID: "req-4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "ok after retry" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestCallFailsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "server error")
	}))
	defer srv.Close()

	h := &fakeLineHandler{url: srv.URL, format: StreamFormatLineDelimitedJSON}
	deps := Deps{HTTPClient: srv.Client(), Logger: zap.NewNop(), Cancel: cancellation.New(zap.NewNop())}

	_, err := Call(context.Background(), h, deps, neutral.EndpointConfig{}, StreamRequest{RequestID: "req-5"})
	if err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
}
