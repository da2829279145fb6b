package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Bootstrap ensures <configDirectory>/<user>/ exists with a default
// config.yaml. Called once at startup. Safe to call multiple times — it
// never overwrites an existing config.yaml.
func Bootstrap(logger *zap.Logger, configDirectory, user string) error {
	userDir := filepath.Join(configDirectory, user)
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return fmt.Errorf("create user config dir %s: %w", userDir, err)
	}

	configPath := filepath.Join(userDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		logger.Debug("user config OK", zap.String("path", configPath))
		return nil
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("write default config %s: %w", configPath, err)
	}
	logger.Info("wrote default config", zap.String("path", configPath), zap.String("user", user))
	return nil
}

const defaultConfig = `# Auto-generated on first launch for this user — feel free to edit.

gateway:
  host: 0.0.0.0
  port: 18789
  mode: local                  # local | production

log:
  level: info                  # debug | info | warn | error
  format: json                 # json | console

database:
  type: sqlite
  dsn: gateway.db

list_shared_workflows: true

current_user: gateway

# Global "add assistant markers" flags consulted by the stream transformer
# and the backend handler's first-chunk buffer alike.
policy:
  add_user_assistant: false
  add_missing_assistant: false

# ─── Endpoints ─────────────────────────────────────────────────
# One entry per backend connection: base URL, API key, model name, and
# per-endpoint behavior flags (thinking-block removal, line-break trimming).
endpoints:
  local-ollama:
    name: local-ollama
    base_url: "http://localhost:11434"
    model: "qwen3:latest"
    trim_beginning_and_end_line_breaks: true
    remove_thinking: true
    think_tag_text: think
    opening_tag_grace_period: 8

# ─── Api types ─────────────────────────────────────────────────
# Which backend dialect an endpoint speaks, and the JSON property names a
# handler should use for generation-parameter indirection.
api_types:
  ollama-chat:
    name: ollama-chat
    max_tokens_property_name: num_predict
    stream_property_name: stream

# ─── Presets ────────────────────────────────────────────────────
# Named bundles of generation parameters, merged into a backend payload at
# the keys the owning api type names.
presets:
  balanced:
    temperature: 0.7
    top_p: 0.9
    max_tokens: 2048

# ─── Workflows ──────────────────────────────────────────────────
# Routable endpoint/api-type/preset/dialect combinations.
workflows:
  CodingWorkflow:
    name: CodingWorkflow
    endpoint_name: local-ollama
    api_type_name: ollama-chat
    preset_name: balanced
    dialect: ollama-chat

# ─── Defaults ───────────────────────────────────────────────────
# Which workflow serves each frontend api kind absent an explicit override.
defaults:
  openai_chat_completion: CodingWorkflow
  ollama_chat: CodingWorkflow
`
