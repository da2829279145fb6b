// Package neutral holds the dialect-agnostic types that flow between the
// backend handler family, the streaming pipeline, and the frontend
// dispatcher. Nothing in this package knows about HTTP or any specific wire
// dialect; it is the shared vocabulary the rest of the gateway is built on.
package neutral

// FrontendAPIKind selects how a request's output is framed on the wire.
type FrontendAPIKind string

const (
	OpenAIChatCompletion FrontendAPIKind = "openai_chat_completion"
	OpenAICompletion     FrontendAPIKind = "openai_completion"
	OllamaChat           FrontendAPIKind = "ollama_chat"
	OllamaGenerate       FrontendAPIKind = "ollama_generate"
)

// IsOpenAI reports whether k uses SSE framing with a trailing [DONE] marker.
func (k FrontendAPIKind) IsOpenAI() bool {
	return k == OpenAIChatCompletion || k == OpenAICompletion
}

// Message is one chat turn. Role "images" is a synthetic pseudo-role used to
// carry an image reference alongside the real message it belongs to.
type Message struct {
	Role    string
	Content string
}

// NeutralChunk is the dialect-agnostic unit produced by a BackendHandler and
// consumed by a StreamTransformer.
type NeutralChunk struct {
	Token        string
	FinishReason string // empty means "not yet finished"
}

// Done reports whether this chunk signals stream completion.
func (c NeutralChunk) Done() bool {
	return c.FinishReason != ""
}

// EndpointConfig is the endpoint configuration layer: connection details and
// per-endpoint behavior flags. Read-only once loaded.
type EndpointConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`

	ContextSize int `mapstructure:"context_size"`

	TrimBeginningAndEndLineBreaks bool `mapstructure:"trim_beginning_and_end_line_breaks"`

	// TakesImages marks an endpoint as image-capable: the workflow engine
	// wraps its handler in backend.WithImageSupport so per-message "images"
	// pseudo-entries are extracted and reattached in the dialect's own
	// shape instead of reaching PreparePayload untouched.
	TakesImages bool `mapstructure:"takes_images"`

	RemoveThinking                         bool     `mapstructure:"remove_thinking"`
	ThinkTagText                           string   `mapstructure:"think_tag_text"`
	ExpectOnlyClosingThinkTag              bool     `mapstructure:"expect_only_closing_think_tag"`
	OpeningTagGracePeriod                  int      `mapstructure:"opening_tag_grace_period"`
	RemoveCustomTextFromResponseStartEnd   bool     `mapstructure:"remove_custom_text_from_response_start_end"`
	ResponseStartTextToRemoveEndpointWide  []string `mapstructure:"response_start_text_to_remove_endpoint_wide"`
}

// ApiTypeConfig is the dialect ("api type") configuration layer: which
// backend dialect this endpoint speaks, and the property-name indirection
// that tells a handler which JSON key to set in the backend payload for a
// given generation parameter.
type ApiTypeConfig struct {
	Name                       string `mapstructure:"name"`
	MaxTokensPropertyName      string `mapstructure:"max_tokens_property_name"`
	StreamPropertyName         string `mapstructure:"stream_property_name"`
	TruncateLengthPropertyName string `mapstructure:"truncate_length_property_name"`
	PresetSubfolder            string `mapstructure:"preset_subfolder"`
}

// Preset is the generation-parameter layer: values merged into a
// BackendPayload at the keys ApiTypeConfig names.
type Preset struct {
	MaxTokens        int            `mapstructure:"max_tokens"`
	TruncationLength int            `mapstructure:"truncation_length"`
	Temperature      float64        `mapstructure:"temperature"`
	TopP             float64        `mapstructure:"top_p"`
	Extra            map[string]any `mapstructure:"extra"`
}

// WorkflowNodeConfig is the per-workflow-node configuration layer consumed
// by the StreamTransformer's prefix pipeline.
type WorkflowNodeConfig struct {
	RemoveCustomTextFromResponseStart bool
	ResponseStartTextToRemove         []string
	AddDiscussionIDTimestampsForLLM   bool
}

// UserPolicy carries the two global "add assistant markers" flags the
// prefix pipeline and the first-chunk buffer both consult.
type UserPolicy struct {
	AddUserAssistant    bool `mapstructure:"add_user_assistant"`
	AddMissingAssistant bool `mapstructure:"add_missing_assistant"`
}
