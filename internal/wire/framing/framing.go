// Package framing implements the outbound text-chunking and
// HTML-safe escaping rules described in spec §4.10: any user-visible
// text frame that exceeds the channel's maximum size is split into
// numbered chunks, preferring to break at a newline, then whitespace,
// then a hard cut.
package framing

import (
	"fmt"
	"html"
	"strings"
)

// Unbounded disables chunking entirely (the direct-web/phone variant).
const Unbounded = 0

// ChatMaxChars is the chat-front-end variant's channel limit (spec §4.10).
const ChatMaxChars = 4000

// Split divides text into chunks no larger than maxChars, each
// prefixed "[i/N]\n" when more than one chunk results. A maxChars of
// Unbounded (0) or a text shorter than the limit returns the text
// unchanged as a single-element slice.
func Split(text string, maxChars int) []string {
	if maxChars <= Unbounded || len(text) <= maxChars {
		return []string{text}
	}

	var parts []string
	remaining := text
	for len(remaining) > maxChars {
		cut := breakPoint(remaining, maxChars)
		parts = append(parts, remaining[:cut])
		remaining = remaining[cut:]
	}
	if len(remaining) > 0 || len(parts) == 0 {
		parts = append(parts, remaining)
	}

	if len(parts) == 1 {
		return parts
	}
	numbered := make([]string, len(parts))
	for i, p := range parts {
		numbered[i] = fmt.Sprintf("[%d/%d]\n%s", i+1, len(parts), p)
	}
	return numbered
}

// breakPoint picks the cut index within text[:window] (window<=len(text)),
// preferring the last newline, then the last whitespace past the
// halfway mark, then a hard cut at window.
func breakPoint(text string, window int) int {
	slice := text[:window]

	if idx := strings.LastIndexByte(slice, '\n'); idx > 0 {
		return idx + 1
	}

	half := window / 2
	if idx := strings.LastIndexAny(slice[half:], " \t"); idx >= 0 {
		return half + idx + 1
	}

	return window
}

// EscapeHTML applies the strict &, <, > escaping spec §4.10 requires
// for channels that accept inline markup. Callers whose markup send
// fails should fall back to sending the unescaped plain text frame.
func EscapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// EscapeHTMLStrict mirrors EscapeHTML but additionally escapes single
// and double quotes via the stdlib escaper, for callers that also need
// quote-safety (e.g. inserting into an HTML attribute).
func EscapeHTMLStrict(s string) string {
	return html.EscapeString(s)
}
