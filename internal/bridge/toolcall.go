package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/zaibridge/internal/logging"
)

const fenceClose = "```"

type toolCallBody struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ExtractToolCall finds the first well-formed tool call block in text.
//
// Blocks are scanned in order. A malformed block is logged and skipped, so a
// later well-formed block still wins. When no block parses, the error of the
// first malformed block is returned (wrapping ErrToolParse); text with no
// block at all returns nil, nil.
func ExtractToolCall(text string) (*ToolCall, error) {
	var firstErr error
	rest := text

	for {
		open := strings.Index(rest, ToolFence)
		if open < 0 {
			break
		}
		body := rest[open+len(ToolFence):]

		// "```tool_calls" and friends are not our fence
		if body != "" {
			r := rune(body[0])
			if !unicode.IsSpace(r) && r != '{' {
				rest = body
				continue
			}
		}

		end := strings.Index(body, fenceClose)
		if end < 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: unterminated block", ErrToolParse)
			}
			break
		}
		raw := strings.TrimSpace(body[:end])
		rest = body[end+len(fenceClose):]

		tc, err := parseToolCall(raw)
		if err != nil {
			L_warn("bridge: skipping malformed tool call block", "error", err, "block", truncate(raw, 200))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return tc, nil
	}

	return nil, firstErr
}

func parseToolCall(raw string) (*ToolCall, error) {
	var body toolCallBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolParse, err)
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrToolParse)
	}

	args, err := normalizeArguments(body.Arguments)
	if err != nil {
		return nil, err
	}

	return &ToolCall{
		ID:        NewToolCallID(),
		Name:      name,
		Arguments: args,
	}, nil
}

// normalizeArguments compacts the arguments to JSON text. Models sometimes
// send the object pre-encoded as a string; that form is unwrapped.
func normalizeArguments(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "{}", nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: arguments: %v", ErrToolParse, err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "{}", nil
		}
		if !json.Valid([]byte(s)) {
			return "", fmt.Errorf("%w: arguments string is not JSON", ErrToolParse)
		}
		raw = []byte(s)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("%w: arguments: %v", ErrToolParse, err)
	}
	return buf.String(), nil
}

// NewToolCallID returns a fresh tool call identifier
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
