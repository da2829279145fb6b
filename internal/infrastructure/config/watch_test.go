package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

const watchTestConfig = `
gateway:
  host: 0.0.0.0
  port: 18789
endpoints:
  ep1:
    name: ep1
    base_url: "http://localhost:11434"
    model: "model-one"
api_types:
  at1:
    name: at1
workflows:
  w1:
    name: w1
    endpoint_name: ep1
    api_type_name: at1
    preset_name: pr1
presets:
  pr1:
    temperature: 0.5
defaults:
  ollama_chat: w1
`

func TestWatchReloadsOnConfigFileChange(t *testing.T) {
	dir := t.TempDir()
	userDir := filepath.Join(dir, "alice")
	if err := os.MkdirAll(userDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	configPath := filepath.Join(userDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(watchTestConfig), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := Watch(dir, "alice", zap.NewNop(), func(cfg *Config) {
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	stop := make(chan struct{})
	defer close(stop)
	go w.Run(stop)

	time.Sleep(50 * time.Millisecond) // let the watcher start listening

	updated := watchTestConfig + "\n# a trailing comment to trigger a write event\n"
	if err := os.WriteFile(configPath, []byte(updated), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if _, ok := cfg.Workflows["w1"]; !ok {
			t.Fatalf("expected reloaded config to contain workflow w1, got %+v", cfg.Workflows)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for a reload callback")
	}
}
