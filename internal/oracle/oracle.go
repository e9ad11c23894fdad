// Package oracle wraps the external LLM "decision oracle" the simulation
// engine calls once per agent per turn. The engine treats it as opaque: text
// state snapshot in, raw text out. Parsing the text into actions belongs to
// the caller.
package oracle

import (
	"context"
	"strings"
)

// Usage reports token consumption for one oracle call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Oracle turns a (system, user) prompt pair into raw text. Implementations:
// Client (HTTP), Cached (memoizing wrapper), Scripted (tests).
type Oracle interface {
	Complete(ctx context.Context, system, user string) (string, Usage, error)
}

// StripThinkBlocks removes all <think>...</think> blocks from s. Reasoning
// models emit these before or between JSON objects; they are not part of the
// structured output and must be stripped before parsing.
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			// Unclosed block — strip from opening tag to end of string.
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripFences removes markdown code fences (```json ... ```) from oracle
// output, and also strips <think> reasoning blocks.
func StripFences(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// ExtractJSON returns the first balanced {...} or [...] span in s, or "" when
// none exists. Fallback for oracles that wrap their JSON in prose.
func ExtractJSON(s string) string {
	objStart := strings.IndexAny(s, "{[")
	if objStart == -1 {
		return ""
	}
	open := s[objStart]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inStr := false
	esc := false
	for i := objStart; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[objStart : i+1]
			}
		}
	}
	return ""
}
