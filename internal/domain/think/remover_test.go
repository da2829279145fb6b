package think

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestProcessDeltaAcrossChunkBoundaries(t *testing.T) {
	cfg := Config{RemoveThinking: true}
	r := New(cfg, zap.NewNop())

	var out strings.Builder
	for _, delta := range []string{"<th", "ink>i", "nner</think>outer"} {
		out.WriteString(r.ProcessDelta(delta))
	}
	out.WriteString(r.Finalize())

	if got := out.String(); got != "outer" {
		t.Fatalf("expected %q, got %q", "outer", got)
	}
}

func TestRemoveThinkingFromTextMatchesStreamingResult(t *testing.T) {
	cfg := Config{RemoveThinking: true}
	full := "<think>inner</think>outer"

	batch := RemoveThinkingFromText(full, cfg)

	r := New(cfg, zap.NewNop())
	var streamed strings.Builder
	for _, ch := range strings.Split(full, "") {
		streamed.WriteString(r.ProcessDelta(ch))
	}
	streamed.WriteString(r.Finalize())

	if batch != "outer" {
		t.Fatalf("batch: expected %q, got %q", "outer", batch)
	}
	if streamed.String() != batch {
		t.Fatalf("streamed output %q does not match batch output %q", streamed.String(), batch)
	}
}

func TestCaseInsensitivity(t *testing.T) {
	cfg := Config{RemoveThinking: true}

	upper := RemoveThinkingFromText("<THINK>X</THINK>after", cfg)
	lower := RemoveThinkingFromText("<think>x</think>after", cfg)

	if upper != "after" || lower != "after" {
		t.Fatalf("expected both cases to yield %q, got %q and %q", "after", upper, lower)
	}
}

func TestGracePeriodBoundary(t *testing.T) {
	cfg := Config{RemoveThinking: true, OpeningTagGracePeriod: 5}

	// Opening tag starting exactly at index 5 is within the grace window.
	atBoundary := "12345<think>x</think>tail"
	if got := RemoveThinkingFromText(atBoundary, cfg); got != "tail" {
		t.Fatalf("expected block removed at boundary, got %q", got)
	}

	// One character later and the opening tag falls outside the window.
	pastBoundary := "123456<think>x</think>tail"
	if got := RemoveThinkingFromText(pastBoundary, cfg); got != pastBoundary {
		t.Fatalf("expected pass-through one char past boundary, got %q", got)
	}
}

func TestClosingOnlyModeDiscardsOnUnterminatedStream(t *testing.T) {
	cfg := Config{RemoveThinking: true, ExpectOnlyClosingTag: true}
	r := New(cfg, zap.NewNop())

	out := r.ProcessDelta("leftover reasoning with no closing tag")
	out += r.Finalize()

	if out != "" {
		t.Fatalf("expected empty output when closing tag never arrives, got %q", out)
	}
}

func TestMultiCharacterTagName(t *testing.T) {
	cfg := Config{RemoveThinking: true, ThinkTagText: "scratchpad"}

	text := "<scratchpad reasoning=\"true\">hidden</scratchpad>\nvisible"
	got := RemoveThinkingFromText(text, cfg)
	if got != "visible" {
		t.Fatalf("expected %q, got %q", "visible", got)
	}
}

func TestUnterminatedThinkBlockFlushesOpenTagAndBuffer(t *testing.T) {
	cfg := Config{RemoveThinking: true}
	r := New(cfg, zap.NewNop())

	_ = r.ProcessDelta("<think>never closes")
	got := r.Finalize()

	if got != "<think>never closes" {
		t.Fatalf("expected open tag plus buffer flushed verbatim, got %q", got)
	}
}
