package reasoning

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
	// trailingWindow is kept buffered across Feed calls so a tag split across
	// chunk boundaries is still recognized (spec §4.3: "tolerates tags split
	// across chunk boundaries, keep a small trailing window, e.g. 7
	// characters").
	trailingWindow = 7
)

// ThinkFilter is a stateful stream transducer that swallows
// <think>...</think> regions from a chunked text stream, including the
// newline(s) immediately following a close tag. It tolerates the tags being
// split across Feed calls.
type ThinkFilter struct {
	buf      strings.Builder
	inThink  bool
	sawClose bool
}

// NewThinkFilter returns a filter ready to process a fresh stream.
func NewThinkFilter() *ThinkFilter {
	return &ThinkFilter{}
}

// Feed appends text to the filter's internal buffer and returns any output
// text that is now safe to emit (i.e. not part of a partially-seen tag).
func (f *ThinkFilter) Feed(text string) string {
	f.buf.WriteString(text)
	combined := f.buf.String()
	f.buf.Reset()

	var out strings.Builder
	for {
		if f.sawClose {
			// Swallow newlines immediately following a close tag.
			trimmed := strings.TrimLeft(combined, "\n")
			if trimmed == combined {
				f.sawClose = false
			} else {
				combined = trimmed
				if combined == "" {
					return out.String()
				}
				f.sawClose = false
			}
		}

		if !f.inThink {
			idx := strings.Index(combined, openTag)
			if idx == -1 {
				// No open tag found. Hold back a trailing window in case the
				// tag is split across this Feed and the next one.
				if len(combined) > trailingWindow {
					safe := len(combined) - trailingWindow
					out.WriteString(combined[:safe])
					f.buf.WriteString(combined[safe:])
				} else {
					f.buf.WriteString(combined)
				}
				return out.String()
			}
			out.WriteString(combined[:idx])
			combined = combined[idx+len(openTag):]
			f.inThink = true
			continue
		}

		idx := strings.Index(combined, closeTag)
		if idx == -1 {
			// Still inside a think block; hold everything (it's all
			// discarded), but keep a trailing window in the rare case the
			// close tag itself is split.
			if len(combined) > trailingWindow {
				f.buf.WriteString(combined[len(combined)-trailingWindow:])
			} else {
				f.buf.WriteString(combined)
			}
			return out.String()
		}
		combined = combined[idx+len(closeTag):]
		f.inThink = false
		f.sawClose = true
	}
}

// Flush returns any buffered text that was being held back waiting for a
// possible tag continuation; call at end-of-stream once no more input is
// coming, so a held-back non-tag fragment isn't silently dropped.
func (f *ThinkFilter) Flush() string {
	if f.inThink {
		f.buf.Reset()
		return ""
	}
	out := f.buf.String()
	f.buf.Reset()
	return out
}
