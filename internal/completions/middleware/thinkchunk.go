package middleware

import (
	"context"
	"strings"
	"time"

	"chatforge/internal/completions/chunk"
)

// tagTailLen is len("</thinking>"), the longest closing tag this middleware
// recognizes; a text_delta body is buffered up to this many trailing bytes
// so a tag split across two chunks is still detected.
const tagTailLen = len("</thinking>")

// thinkState tracks one in-flight thinking_delta/thinking_complete run
// (spec.md §4.7.3): startedAt is stamped from the clock on the first delta
// of a run, and every subsequent delta/complete carries
// thinking_millsec = now - startedAt, computed here rather than trusted from
// the vendor (every wired vendor transformer reports 0).
type thinkState struct {
	accumulated string
	startedAt   time.Time
	lastMs      int64
	active      bool
}

// inlineState buffers a partial <think>/<thinking> tag across chunk
// boundaries while scanning plain text_delta bodies for inline reasoning.
type inlineState struct {
	insideTag bool
	buffer    string
}

// ThinkChunkMiddleware normalizes vendor thinking output into
// thinking_delta/thinking_complete pairs carrying wall-clock elapsed time,
// and additionally extracts inline <think>...</think> or
// <thinking>...</thinking> tags that some OpenAI-compatible models emit
// inside ordinary text_delta chunks.
func ThinkChunkMiddleware() Middleware {
	return newThinkChunkMiddleware(time.Now)
}

// newThinkChunkMiddleware takes an injectable clock so tests can assert
// exact elapsed-time values without sleeping on a real wall clock.
func newThinkChunkMiddleware(now func() time.Time) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, p *Params) (chunk.Stream, error) {
			s, err := next(ctx, p)
			if err != nil {
				return nil, err
			}

			state := &thinkState{}
			inline := &inlineState{}
			var out []chunk.Chunk

			emit := func(c chunk.Chunk) { out = append(out, c) }

			elapsed := func(t time.Time) int64 {
				return t.Sub(state.startedAt).Milliseconds()
			}

			closeThinking := func() {
				if !state.active {
					return
				}
				emit(chunk.ThinkingComplete(state.accumulated, state.lastMs))
				state.accumulated = ""
				state.active = false
				state.lastMs = 0
				state.startedAt = time.Time{}
			}

			for {
				c, ok, err := s.Next(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}

				switch c.Kind {
				case chunk.KindThinkingDelta:
					t := now()
					if !state.active {
						state.active = true
						state.startedAt = t
					}
					state.accumulated += c.Text
					state.lastMs = elapsed(t)
					emit(chunk.ThinkingDelta(c.Text, state.lastMs))
				case chunk.KindThinkingComplete:
					t := now()
					if !state.active {
						state.active = true
						state.startedAt = t
					}
					state.accumulated += c.Text
					state.lastMs = elapsed(t)
					closeThinking()
				case chunk.KindTextDelta:
					closeThinking()
					processInline(inline, c.Text, emit)
				default:
					emit(c)
				}
			}
			flushInline(inline, emit)
			closeThinking()

			return chunk.NewSliceStream(out), nil
		}
	}
}

// processInline scans delta for <think>/<thinking> open and close tags,
// emitting thinking_delta for text inside a tag and text_delta for text
// outside one. A trailing partial tag is held in inline.buffer until the
// next delta (or stream end) resolves it.
func processInline(inline *inlineState, delta string, emit func(chunk.Chunk)) {
	text := inline.buffer + delta
	inline.buffer = ""

	for len(text) > 0 {
		if !inline.insideTag {
			idx, tag := indexOpenTag(text)
			if idx < 0 {
				if holdBack := partialTagTail(text); holdBack > 0 {
					emit(chunk.Text(text[:len(text)-holdBack]))
					inline.buffer = text[len(text)-holdBack:]
					return
				}
				emit(chunk.Text(text))
				return
			}
			if idx > 0 {
				emit(chunk.Text(text[:idx]))
			}
			text = text[idx+len(tag):]
			inline.insideTag = true
			continue
		}

		idx, tag := indexCloseTag(text)
		if idx < 0 {
			if holdBack := partialTagTail(text); holdBack > 0 {
				emit(chunk.ThinkingDelta(text[:len(text)-holdBack], 0))
				inline.buffer = text[len(text)-holdBack:]
				return
			}
			emit(chunk.ThinkingDelta(text, 0))
			return
		}
		if idx > 0 {
			emit(chunk.ThinkingDelta(text[:idx], 0))
		}
		text = text[idx+len(tag):]
		inline.insideTag = false
	}
}

// flushInline emits whatever remains buffered once the stream ends, treating
// an unterminated inline tag as plain text/thinking rather than dropping it.
func flushInline(inline *inlineState, emit func(chunk.Chunk)) {
	if inline.buffer == "" {
		return
	}
	if inline.insideTag {
		emit(chunk.ThinkingDelta(inline.buffer, 0))
	} else {
		emit(chunk.Text(inline.buffer))
	}
	inline.buffer = ""
}

func indexOpenTag(s string) (int, string) {
	if idx := strings.Index(s, "<thinking>"); idx >= 0 {
		return idx, "<thinking>"
	}
	if idx := strings.Index(s, "<think>"); idx >= 0 {
		return idx, "<think>"
	}
	return -1, ""
}

func indexCloseTag(s string) (int, string) {
	if idx := strings.Index(s, "</thinking>"); idx >= 0 {
		return idx, "</thinking>"
	}
	if idx := strings.Index(s, "</think>"); idx >= 0 {
		return idx, "</think>"
	}
	return -1, ""
}

// partialTagTail returns how many trailing bytes of s might be the start of
// a tag split across a chunk boundary, or 0 if no suffix of s is a prefix of
// any recognized tag.
func partialTagTail(s string) int {
	candidates := []string{"<thinking>", "<think>", "</thinking>", "</think>"}
	max := tagTailLen
	if len(s) < max {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		suffix := s[len(s)-n:]
		for _, tag := range candidates {
			if strings.HasPrefix(tag, suffix) {
				return n
			}
		}
	}
	return 0
}
