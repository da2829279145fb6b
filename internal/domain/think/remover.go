// Package think removes "thinking" blocks — model reasoning wrapped in a
// configurable tag — from both streaming token deltas and complete text.
package think

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"
)

// Config is the subset of endpoint configuration the remover reads. It
// mirrors the relevant fields of neutral.EndpointConfig without importing
// that package, keeping this package independently testable.
type Config struct {
	RemoveThinking        bool
	ThinkTagText          string
	ExpectOnlyClosingTag  bool
	OpeningTagGracePeriod int
}

func (c Config) tag() string {
	if c.ThinkTagText == "" {
		return "think"
	}
	return c.ThinkTagText
}

func (c Config) gracePeriod() int {
	if c.OpeningTagGracePeriod == 0 {
		return 50
	}
	return c.OpeningTagGracePeriod
}

// closeTagPattern matches the closing tag with any whitespace around it,
// including a single trailing newline, so the discarded block swallows its
// own trailing line break but nothing of the content that follows.
func closeTagPattern(quotedTag string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\s*</` + quotedTag + `>[ \t]*\n?`)
}

// Remover is a stateful streaming filter. Construct one per stream with New;
// it is not safe for concurrent use from multiple goroutines.
type Remover struct {
	cfg    Config
	logger *zap.Logger

	closeTagRe *regexp.Regexp
	openTagRe  *regexp.Regexp

	buffer                  string
	inThinkBlock            bool
	openingTagCheckComplete bool
	thinkingHandled         bool
	consumedOpenTag         string
}

// New builds a Remover for one stream's lifetime.
func New(cfg Config, logger *zap.Logger) *Remover {
	tag := regexp.QuoteMeta(cfg.tag())
	return &Remover{
		cfg:        cfg,
		logger:     logger,
		closeTagRe: closeTagPattern(tag),
		openTagRe:  regexp.MustCompile(`(?i)<` + tag + `\b[^>]*>`),
	}
}

// ProcessDelta feeds one streaming token delta and returns the portion of it
// (plus any carried-over buffer) that is safe to forward to the client now.
// It may return the empty string while the opening-tag decision is still
// undecided.
func (r *Remover) ProcessDelta(delta string) string {
	if !r.cfg.RemoveThinking {
		return delta
	}

	r.buffer += delta
	var out string

	if r.cfg.ExpectOnlyClosingTag {
		if r.thinkingHandled {
			out = r.buffer
			r.buffer = ""
			return out
		}
		if loc := r.closeTagRe.FindStringIndex(r.buffer); loc != nil {
			r.logger.Debug("closing tag found in closing-only mode, discarding preceding content")
			r.thinkingHandled = true
			out = r.buffer[loc[1]:]
			r.buffer = ""
		}
		return out
	}

	for {
		before := r.buffer

		if r.inThinkBlock {
			loc := r.closeTagRe.FindStringIndex(r.buffer)
			if loc == nil {
				break
			}
			r.logger.Debug("closing think tag found, resuming normal output")
			r.inThinkBlock = false
			r.consumedOpenTag = ""
			r.buffer = r.buffer[loc[1]:]
		} else {
			if r.openingTagCheckComplete {
				out += r.buffer
				r.buffer = ""
				break
			}

			loc := r.openTagRe.FindStringIndex(r.buffer)
			switch {
			case loc != nil && loc[0] <= r.cfg.gracePeriod():
				r.logger.Debug("opening think tag found within grace period")
				r.inThinkBlock = true
				r.consumedOpenTag = r.buffer[loc[0]:loc[1]]
				r.buffer = r.buffer[loc[1]:]
			case loc != nil:
				r.logger.Debug("opening tag found outside grace period, disabling further checks")
				r.openingTagCheckComplete = true
				out += r.buffer
				r.buffer = ""
			case len(r.buffer) > r.cfg.gracePeriod():
				r.logger.Debug(fmt.Sprintf("grace period of %d chars exceeded without an opening tag", r.cfg.gracePeriod()))
				r.openingTagCheckComplete = true
				out += r.buffer
				r.buffer = ""
			default:
				return out
			}
		}

		if r.buffer == before {
			break
		}
	}
	return out
}

// Finalize flushes whatever remains buffered at stream end.
func (r *Remover) Finalize() string {
	if !r.cfg.RemoveThinking {
		return ""
	}

	if r.inThinkBlock {
		if loc := r.closeTagRe.FindStringIndex(r.buffer); loc != nil {
			r.logger.Debug("found and processed closing tag during finalization")
			return r.buffer[loc[1]:]
		}
		r.logger.Warn("finalizing stream inside an unterminated think block, flushing as-is")
		return r.consumedOpenTag + r.buffer
	}

	if r.cfg.ExpectOnlyClosingTag && !r.thinkingHandled {
		r.logger.Warn("finalizing in closing-only mode without ever finding a closing tag, discarding buffer")
		return ""
	}

	return r.buffer
}

// RemoveThinkingFromText applies the same rules to a complete string in one
// pass, for the non-streaming (retry/backoff) code path.
func RemoveThinkingFromText(text string, cfg Config) string {
	if !cfg.RemoveThinking {
		return text
	}

	tag := regexp.QuoteMeta(cfg.tag())
	closeTagRe := closeTagPattern(tag)

	if cfg.ExpectOnlyClosingTag {
		if loc := closeTagRe.FindStringIndex(text); loc != nil {
			return text[loc[1]:]
		}
		return ""
	}

	openTagRe := regexp.MustCompile(`(?i)<` + tag + `\b[^>]*>`)
	openLoc := openTagRe.FindStringIndex(text)
	if openLoc == nil || openLoc[0] > cfg.gracePeriod() {
		return text
	}

	closeLoc := closeTagRe.FindStringIndex(text[openLoc[1]:])
	if closeLoc == nil {
		return text
	}
	return text[openLoc[1]:][closeLoc[1]:]
}
