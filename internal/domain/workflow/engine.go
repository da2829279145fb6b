// Package workflow implements the minimal WorkflowEngine: it resolves an
// incoming request to a configured endpoint/apiType/preset/handler triple
// (by frontend dialect, or by an explicit workflow override extracted from
// the requested model name) and drives that handler's streaming or
// non-streaming call, including an optional bounded-concurrency failover
// race across configured fallback workflows.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/axonrelay/gateway/internal/domain/backend"
	"github.com/axonrelay/gateway/internal/domain/neutral"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// defaultMaxConcurrentBackendCalls bounds how many non-streaming backend
// attempts (across a workflow's primary endpoint and its fallbacks) may be
// in flight at once, so a fallback chain can't fan out unbounded concurrent
// requests at a single struggling backend.
const defaultMaxConcurrentBackendCalls = 4

// RequestContext is the explicit, request-scoped value carrying everything
// a process-wide mutable "current request" variable would otherwise hold.
// One is minted per incoming HTTP request and passed by value into Run.
type RequestContext struct {
	RequestID        string
	FrontendAPIKind  neutral.FrontendAPIKind
	WorkflowOverride string
	Stream           bool
	Messages         []neutral.Message
	DiscussionID     string
	Logger           *zap.Logger
}

// StreamItem is a tagged union: exactly one of Framed or Chunk is set. The
// FrontendDispatcher writes Framed bytes to the wire as-is, or routes Chunk
// through a StreamTransformer — it never inspects which producer chose
// which shape.
type StreamItem struct {
	Framed []byte
	Chunk  *neutral.NeutralChunk
}

// ChunkItem wraps a NeutralChunk as a StreamItem.
func ChunkItem(c neutral.NeutralChunk) StreamItem {
	return StreamItem{Chunk: &c}
}

// FramedItem wraps already-framed wire bytes as a StreamItem.
func FramedItem(b []byte) StreamItem {
	return StreamItem{Framed: b}
}

// WorkflowDescriptor names one routable endpoint/apiType/preset/dialect
// combination plus an optional speaker-prefix reconstruction prompt and the
// workflow-node-level prefix-stripping configuration the StreamTransformer
// reads (`workflow.responseStartTextToRemove` etc).
type WorkflowDescriptor struct {
	Name             string  `mapstructure:"name"`
	EndpointName     string  `mapstructure:"endpoint_name"`
	APITypeName      string  `mapstructure:"api_type_name"`
	PresetName       string  `mapstructure:"preset_name"`
	Dialect          string  `mapstructure:"dialect"`
	GenerationPrompt *string `mapstructure:"generation_prompt"`

	RemoveCustomTextFromResponseStart bool     `mapstructure:"remove_custom_text_from_response_start"`
	ResponseStartTextToRemove         []string `mapstructure:"response_start_text_to_remove"`
	AddDiscussionIDTimestampsForLLM   bool     `mapstructure:"add_discussion_id_timestamps_for_llm"`

	// FallbackWorkflows names other workflow entries whose endpoint should
	// be raced concurrently against this one for non-streaming calls only,
	// bounded by the Engine's semaphore. The first success wins; losers are
	// cancelled. Streaming requests never fan out — there is no sane way to
	// pick a "winning" stream once bytes have reached the client.
	FallbackWorkflows []string `mapstructure:"fallback_workflows"`
}

// Engine is a minimal WorkflowEngine: a routing table loaded at startup and
// replaced wholesale by UpdateRouting on hot reload, plus the shared backend
// registry and configuration maps needed to build a Handler for the
// resolved descriptor.
type Engine struct {
	logger *zap.Logger

	mu        sync.RWMutex
	workflows map[string]WorkflowDescriptor
	defaults  map[neutral.FrontendAPIKind]WorkflowDescriptor

	endpoints map[string]neutral.EndpointConfig
	apiTypes  map[string]neutral.ApiTypeConfig
	presets   map[string]neutral.Preset
	policy    neutral.UserPolicy

	handlers *backend.Registry
	deps     backend.Deps

	backendSem *semaphore.Weighted
}

// Config bundles an Engine's construction-time, read-only routing data.
type Config struct {
	Workflows map[string]WorkflowDescriptor
	Defaults  map[neutral.FrontendAPIKind]WorkflowDescriptor
	Endpoints map[string]neutral.EndpointConfig
	ApiTypes  map[string]neutral.ApiTypeConfig
	Presets   map[string]neutral.Preset
	Policy    neutral.UserPolicy
	Handlers  *backend.Registry
	Deps      backend.Deps
	Logger    *zap.Logger

	// MaxConcurrentBackendCalls bounds in-flight non-streaming backend
	// attempts across a fallback chain. Zero uses
	// defaultMaxConcurrentBackendCalls.
	MaxConcurrentBackendCalls int64
}

// New builds an Engine from its routing configuration.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.MaxConcurrentBackendCalls
	if limit <= 0 {
		limit = defaultMaxConcurrentBackendCalls
	}
	return &Engine{
		logger:     logger.With(zap.String("component", "workflow-engine")),
		workflows:  cfg.Workflows,
		defaults:   cfg.Defaults,
		endpoints:  cfg.Endpoints,
		apiTypes:   cfg.ApiTypes,
		presets:    cfg.Presets,
		policy:     cfg.Policy,
		handlers:   cfg.Handlers,
		deps:       cfg.Deps,
		backendSem: semaphore.NewWeighted(limit),
	}
}

// UpdateRouting atomically swaps the Engine's routing tables, for the
// config watcher's hot-reload path: in-flight requests that already
// resolved a descriptor are unaffected, and every request resolved after
// this call sees the new tables.
func (e *Engine) UpdateRouting(workflows map[string]WorkflowDescriptor, defaults map[neutral.FrontendAPIKind]WorkflowDescriptor, endpoints map[string]neutral.EndpointConfig, apiTypes map[string]neutral.ApiTypeConfig, presets map[string]neutral.Preset, policy neutral.UserPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows = workflows
	e.defaults = defaults
	e.endpoints = endpoints
	e.apiTypes = apiTypes
	e.presets = presets
	e.policy = policy
}

// StreamContext carries everything the FrontendDispatcher needs to build a
// streamtransform.Transformer for the chunks a Run call is about to produce,
// without exposing the Engine's internal routing tables.
type StreamContext struct {
	Endpoint         neutral.EndpointConfig
	Workflow         neutral.WorkflowNodeConfig
	Policy           neutral.UserPolicy
	GenerationPrompt *string
	Model            string
}

// ResolveStreamContext resolves rc to a descriptor exactly as Run would, and
// returns the configuration a StreamTransformer needs to shape that
// descriptor's output. Call before Run so the transformer is ready the
// moment chunks start arriving.
func (e *Engine) ResolveStreamContext(rc RequestContext) (StreamContext, error) {
	descriptor, err := e.resolve(rc)
	if err != nil {
		return StreamContext{}, err
	}

	e.mu.RLock()
	endpoint, ok := e.endpoints[descriptor.EndpointName]
	e.mu.RUnlock()
	if !ok {
		return StreamContext{}, fmt.Errorf("workflow: unknown endpoint %q", descriptor.EndpointName)
	}

	return StreamContext{
		Endpoint: endpoint,
		Workflow: neutral.WorkflowNodeConfig{
			RemoveCustomTextFromResponseStart: descriptor.RemoveCustomTextFromResponseStart,
			ResponseStartTextToRemove:         descriptor.ResponseStartTextToRemove,
			AddDiscussionIDTimestampsForLLM:   descriptor.AddDiscussionIDTimestampsForLLM,
		},
		Policy:           e.policy,
		GenerationPrompt: descriptor.GenerationPrompt,
		Model:            endpoint.Model,
	}, nil
}

func (e *Engine) resolve(rc RequestContext) (WorkflowDescriptor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if rc.WorkflowOverride != "" {
		descriptor, ok := e.workflows[rc.WorkflowOverride]
		if !ok {
			return WorkflowDescriptor{}, fmt.Errorf("workflow: unknown shared workflow %q", rc.WorkflowOverride)
		}
		return descriptor, nil
	}

	descriptor, ok := e.defaults[rc.FrontendAPIKind]
	if !ok {
		return WorkflowDescriptor{}, fmt.Errorf("workflow: no default route for frontend api kind %q", rc.FrontendAPIKind)
	}
	return descriptor, nil
}

func (e *Engine) buildHandler(descriptor WorkflowDescriptor) (backend.Handler, neutral.EndpointConfig, neutral.ApiTypeConfig, error) {
	e.mu.RLock()
	endpoint, epOK := e.endpoints[descriptor.EndpointName]
	apiType, atOK := e.apiTypes[descriptor.APITypeName]
	preset, prOK := e.presets[descriptor.PresetName]
	e.mu.RUnlock()

	if !epOK {
		return nil, neutral.EndpointConfig{}, neutral.ApiTypeConfig{}, fmt.Errorf("workflow: unknown endpoint %q", descriptor.EndpointName)
	}
	if !atOK {
		return nil, neutral.EndpointConfig{}, neutral.ApiTypeConfig{}, fmt.Errorf("workflow: unknown api type %q", descriptor.APITypeName)
	}
	if !prOK {
		return nil, neutral.EndpointConfig{}, neutral.ApiTypeConfig{}, fmt.Errorf("workflow: unknown preset %q", descriptor.PresetName)
	}

	handler, err := e.handlers.Create(descriptor.Dialect, endpoint, apiType, preset, e.deps)
	if err != nil {
		return nil, neutral.EndpointConfig{}, neutral.ApiTypeConfig{}, err
	}
	if endpoint.TakesImages {
		handler = backend.WithImageSupport(handler, imageFramingForDialect(descriptor.Dialect))
	}
	return handler, endpoint, apiType, nil
}

// imageFramingForDialect picks how an image-capable handler attaches
// extracted images: OpenAI's dialects want a multimodal content array,
// everything else (Ollama, KoboldCpp) wants a flat top-level "images" list.
func imageFramingForDialect(dialect string) backend.ImageFraming {
	if strings.HasPrefix(dialect, "openai") {
		return backend.ImageFramingOpenAI
	}
	return backend.ImageFramingList
}

// Run resolves rc to a configured handler and drives its call, matching the
// WorkflowEngine contract: non-streaming requests return a completed
// string; streaming requests return a channel of StreamItems carrying
// NeutralChunks for the FrontendDispatcher/StreamTransformer pipeline.
func (e *Engine) Run(ctx context.Context, rc RequestContext) (string, <-chan StreamItem, error) {
	descriptor, err := e.resolve(rc)
	if err != nil {
		return "", nil, err
	}

	handler, endpoint, apiType, err := e.buildHandler(descriptor)
	if err != nil {
		return "", nil, err
	}

	systemPrompt, userPrompt, conversation := splitConversation(rc.Messages)

	e.mu.RLock()
	policy := e.policy
	e.mu.RUnlock()
	firstChunkCap := 0
	if policy.AddUserAssistant && policy.AddMissingAssistant {
		firstChunkCap = 20
	}

	req := backend.StreamRequest{
		RequestID:     rc.RequestID,
		Conversation:  conversation,
		SystemPrompt:  systemPrompt,
		UserPrompt:    userPrompt,
		FirstChunkCap: firstChunkCap,
		StreamKey:     apiType.StreamPropertyName,
	}

	if !rc.Stream {
		if len(descriptor.FallbackWorkflows) > 0 {
			return e.runWithFallback(ctx, descriptor, req)
		}
		if err := e.backendSem.Acquire(ctx, 1); err != nil {
			return "", nil, err
		}
		result, err := backend.Call(ctx, handler, e.deps, endpoint, req)
		e.backendSem.Release(1)
		if err != nil {
			return "", nil, err
		}
		return result.Text, nil, nil
	}

	chunks, err := backend.RunStream(ctx, handler, e.deps, endpoint, req)
	if err != nil {
		return "", nil, err
	}

	out := make(chan StreamItem)
	go func() {
		defer close(out)
		for chunk := range chunks {
			select {
			case out <- ChunkItem(chunk):
			case <-ctx.Done():
				return
			}
		}
	}()

	return "", out, nil
}

// runWithFallback races descriptor's own endpoint against every workflow
// named in its FallbackWorkflows, bounded by the Engine's backend
// semaphore, and returns the first successful result. As soon as one
// succeeds, every other attempt, whether in flight or still waiting on the
// semaphore, is cancelled.
func (e *Engine) runWithFallback(ctx context.Context, descriptor WorkflowDescriptor, req backend.StreamRequest) (string, <-chan StreamItem, error) {
	candidates := make([]WorkflowDescriptor, 0, len(descriptor.FallbackWorkflows)+1)
	candidates = append(candidates, descriptor)

	e.mu.RLock()
	for _, name := range descriptor.FallbackWorkflows {
		if fb, ok := e.workflows[name]; ok {
			candidates = append(candidates, fb)
		}
	}
	e.mu.RUnlock()

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A candidate's failure must not cancel its siblings: the first success
	// wins, and only exhausting every candidate is an error. Goroutines
	// therefore always return nil to the group and report through channels.
	var g errgroup.Group
	results := make(chan string, len(candidates))
	errs := make(chan error, len(candidates))

	for _, d := range candidates {
		d := d
		g.Go(func() error {
			handler, endpoint, apiType, err := e.buildHandler(d)
			if err != nil {
				errs <- err
				return nil
			}
			attempt := req
			attempt.StreamKey = apiType.StreamPropertyName
			if err := e.backendSem.Acquire(raceCtx, 1); err != nil {
				errs <- err
				return nil
			}
			defer e.backendSem.Release(1)

			result, err := backend.Call(raceCtx, handler, e.deps, endpoint, attempt)
			if err != nil {
				errs <- err
				return nil
			}
			select {
			case results <- result.Text:
			default:
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case text := <-results:
		cancel()
		return text, nil, nil
	case <-done:
		select {
		case text := <-results:
			return text, nil, nil
		default:
		}
		var lastErr error
	drain:
		for {
			select {
			case err := <-errs:
				lastErr = err
			default:
				break drain
			}
		}
		if lastErr != nil {
			return "", nil, lastErr
		}
		return "", nil, fmt.Errorf("workflow: all fallback endpoints failed for %q", descriptor.Name)
	}
}

// splitConversation takes the last message as the "current turn" user
// prompt when it is user-role, and the first message as the system prompt
// when it is system-role; everything else is passed through as
// conversation history.
func splitConversation(messages []neutral.Message) (systemPrompt, userPrompt string, history []neutral.Message) {
	if len(messages) == 0 {
		return "", "", nil
	}

	start := 0
	if messages[0].Role == "system" {
		systemPrompt = messages[0].Content
		start = 1
	}

	if start >= len(messages) {
		return systemPrompt, "", nil
	}

	last := messages[len(messages)-1]
	if last.Role == "user" {
		userPrompt = last.Content
		return systemPrompt, userPrompt, messages[start : len(messages)-1]
	}
	return systemPrompt, "", messages[start:]
}
