// Package backend implements the per-dialect handler family: build a
// dialect-specific payload, open the backend HTTP call, parse its streaming
// or non-streaming response, and yield dialect-neutral chunks.
package backend

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/axonrelay/gateway/internal/domain/cancellation"
	"github.com/axonrelay/gateway/internal/domain/neutral"
	"go.uber.org/zap"
)

// StreamFormatKind declares how a backend frames its stream data.
type StreamFormatKind struct {
	kind string
	name string // only meaningful when kind == "sse_named_event"
}

var (
	StreamFormatLineDelimitedJSON = StreamFormatKind{kind: "line_delimited_json"}
	StreamFormatSSEAnyEvent       = StreamFormatKind{kind: "sse_any_event"}
)

// StreamFormatSSENamedEvent builds the sse_named_event(name) variant.
func StreamFormatSSENamedEvent(name string) StreamFormatKind {
	return StreamFormatKind{kind: "sse_named_event", name: name}
}

func (k StreamFormatKind) IsLineDelimitedJSON() bool { return k.kind == "line_delimited_json" }
func (k StreamFormatKind) IsSSEAnyEvent() bool       { return k.kind == "sse_any_event" }
func (k StreamFormatKind) IsSSENamedEvent() (string, bool) {
	if k.kind == "sse_named_event" {
		return k.name, true
	}
	return "", false
}

// Payload is a dialect-specific request body, built from a conversation plus
// merged generation parameters.
type Payload map[string]any

// Handler is the capability set every dialect implements. Image-bearing
// variants wrap a non-image Handler by composition (see image.go) rather
// than through an inheritance chain.
type Handler interface {
	EndpointURL(stream bool) string
	PreparePayload(conversation []neutral.Message, systemPrompt, userPrompt string) (Payload, error)
	StreamFormat() StreamFormatKind
	ParseChunk(raw []byte) (neutral.NeutralChunk, bool)
	ParseFullResponse(body []byte) (string, error)
}

// Deps bundles what every handler needs beyond its own dialect logic:
// shared transport, logging, and the cancellation registry that backend
// reads must honor.
type Deps struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	Cancel     *cancellation.Registry
}

// Factory constructs a Handler for one endpoint/apiType/preset triple.
type Factory func(endpoint neutral.EndpointConfig, apiType neutral.ApiTypeConfig, preset neutral.Preset, deps Deps) (Handler, error)

// Registry is the compile-time, explicit replacement for the source's
// directory-walking dynamic dispatcher discovery: dialects self-register by
// name in their package's init().
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds factory under dialect. Calling Register twice for the same
// dialect name is a programmer error and panics.
func (r *Registry) Register(dialect string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[dialect]; exists {
		panic(fmt.Sprintf("backend: dialect %q already registered", dialect))
	}
	r.factories[dialect] = factory
}

// Create builds a Handler for dialect using the factories registered in r.
func (r *Registry) Create(dialect string, endpoint neutral.EndpointConfig, apiType neutral.ApiTypeConfig, preset neutral.Preset, deps Deps) (Handler, error) {
	r.mu.RLock()
	factory, ok := r.factories[dialect]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend: no handler registered for dialect %q", dialect)
	}
	return factory(endpoint, apiType, preset, deps)
}

// Dialects lists every registered dialect name, for diagnostics (cobra
// "doctor" subcommand).
func (r *Registry) Dialects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

// Global is the process-wide registry dialect packages self-register into
// from their init() functions.
var Global = NewRegistry()
