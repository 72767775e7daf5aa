// Package bridge turns OpenAI-style chat requests into prompts for a web chat
// page and turns the page's own network stream back into delta chunks.
//
// The package has no dependency on a browser toolkit; it drives the page
// through the Page and Driver capability interfaces.
package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Sampling defaults applied when a request omits the field
const (
	DefaultTemperature = 1.0
	DefaultTopP        = 1.0
	DefaultMaxTokens   = 131072
)

// ChatRequest is the inbound chat-completion request body.
// Numeric fields are pointers so an absent field can be told apart from zero.
type ChatRequest struct {
	Model         string         `json:"model,omitempty"`
	Messages      []Message      `json:"messages"`
	Tools         []ToolSpec     `json:"tools,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stream        *bool          `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions mirrors the OpenAI stream_options object
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Sampling holds the resolved sampling parameters of a request
type Sampling struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Sampling returns the request's sampling parameters with defaults applied.
func (r *ChatRequest) Sampling() Sampling {
	s := Sampling{
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		MaxTokens:   DefaultMaxTokens,
	}
	if r.Temperature != nil {
		s.Temperature = *r.Temperature
	}
	if r.TopP != nil {
		s.TopP = *r.TopP
	}
	if r.MaxTokens != nil {
		s.MaxTokens = *r.MaxTokens
	}
	return s
}

// Streaming reports whether the caller asked for an event stream (the default).
func (r *ChatRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// IncludeUsage reports whether a usage block was requested on the stream.
func (r *ChatRequest) IncludeUsage() bool {
	return r.StreamOptions != nil && r.StreamOptions.IncludeUsage
}

// ParseChatRequest decodes and validates a request body.
func ParseChatRequest(data []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON body: %v", ErrBadRequest, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks the request has something to send.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrBadRequest)
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return fmt.Errorf("%w: messages[%d] has unknown role %q", ErrBadRequest, i, m.Role)
		}
	}
	for i, t := range r.Tools {
		if t.Name == "" {
			return fmt.Errorf("%w: tools[%d] has no name", ErrBadRequest, i)
		}
	}
	return nil
}

// Message is one transcript entry
type Message struct {
	Role       string         `json:"role"`
	Content    Content        `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCallJSON `json:"tool_calls,omitempty"`
}

// ToolCallJSON is a tool call as it appears on an assistant message
type ToolCallJSON struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ContentPart is one typed element of multi-part content
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// Content is either plain text or an ordered list of parts.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds plain-text content
func TextContent(s string) Content {
	return Content{Text: s}
}

// UnmarshalJSON accepts a string, an array of parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts: %w", err)
	}
	*c = Content{Parts: parts}
	return nil
}

// MarshalJSON writes parts when present, otherwise the text.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// String renders content as text. Parts are joined in order with newlines;
// non-text parts become a placeholder token.
func (c Content) String() string {
	if c.Parts == nil {
		return c.Text
	}
	out := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text", "input_text":
			out = append(out, p.Text)
		case "image_url", "image", "input_image":
			out = append(out, "[Image]")
		default:
			out = append(out, "[Attachment]")
		}
	}
	return strings.Join(out, "\n")
}

// ToolSpec describes a tool the model may call. Parameters is opaque.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// UnmarshalJSON accepts both the flat shape and the OpenAI
// {"type":"function","function":{...}} envelope.
func (t *ToolSpec) UnmarshalJSON(data []byte) error {
	type flat ToolSpec
	var env struct {
		Type     string `json:"type"`
		Function *flat  `json:"function"`
		flat
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Function != nil {
		*t = ToolSpec(*env.Function)
		return nil
	}
	*t = ToolSpec(env.flat)
	return nil
}
