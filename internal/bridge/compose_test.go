package bridge

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestComposeSingleUserMessage(t *testing.T) {
	req := &ChatRequest{Messages: []Message{{Role: RoleUser, Content: TextContent("hi")}}}

	got := Compose(req)
	if got != "[USER]:\nhi" {
		t.Errorf("Compose() = %q, want %q", got, "[USER]:\nhi")
	}
	if strings.Contains(got, "<system_tools>") {
		t.Error("preamble present without tools")
	}
}

func TestComposeMessageOrderAndLabels(t *testing.T) {
	req := &ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: TextContent("be brief")},
		{Role: RoleUser, Content: TextContent("first")},
		{Role: RoleAssistant, Content: TextContent("second")},
		{Role: RoleUser, Content: TextContent("third")},
	}}

	want := strings.Join([]string{
		"[SYSTEM]:\nbe brief",
		"[USER]:\nfirst",
		"[ASSISTANT]:\nsecond",
		"[USER]:\nthird",
	}, "\n\n---\n\n")

	if got := Compose(req); got != want {
		t.Errorf("Compose() =\n%s\nwant\n%s", got, want)
	}
}

func TestComposeToolResultAndAssistantCalls(t *testing.T) {
	var assistant Message
	if err := json.Unmarshal([]byte(`{
		"role": "assistant",
		"content": null,
		"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "search", "arguments": "{\"q\":\"go\"}"}}]
	}`), &assistant); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	req := &ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: TextContent("look it up")},
		assistant,
		{Role: RoleTool, ToolCallID: "call_1", Content: TextContent("results")},
	}}
	got := Compose(req)

	if !strings.Contains(got, "[ASSISTANT]:\n```tool_call\n{\"name\": \"search\", \"arguments\": {\"q\":\"go\"}}\n```") {
		t.Errorf("assistant tool call not rendered as a fence:\n%s", got)
	}
	if !strings.Contains(got, "[TOOL]:\n[TOOL RESULT for call_1]:\nresults") {
		t.Errorf("tool result not labelled:\n%s", got)
	}
}

func TestComposeToolPreamble(t *testing.T) {
	req := &ChatRequest{
		Tools: []ToolSpec{
			{Name: "web_search", Description: "Look things up", Parameters: json.RawMessage(`{"type":"object"}`)},
			{Name: "read_file", Description: "Open a path"},
			{Name: "run_shell", Parameters: json.RawMessage(`not json`)},
		},
		Messages: []Message{{Role: RoleUser, Content: TextContent("hello")}},
	}
	got := Compose(req)

	if n := strings.Count(got, "<system_tools>"); n != 1 {
		t.Errorf("preamble opened %d times, want 1", n)
	}
	if n := strings.Count(got, "</system_tools>"); n != 1 {
		t.Errorf("preamble closed %d times, want 1", n)
	}
	if !strings.HasPrefix(got, "<system_tools>") {
		t.Error("preamble must lead the prompt")
	}
	for _, tool := range req.Tools {
		if n := strings.Count(got, tool.Name); n != 1 {
			t.Errorf("tool %q appears %d times, want 1", tool.Name, n)
		}
		if n := strings.Count(got, `"name": "`+tool.Name+`"`); n != 1 {
			t.Errorf("tool %q listed %d times, want 1", tool.Name, n)
		}
	}
	if !strings.HasSuffix(got, "[USER]:\nhello") {
		t.Errorf("messages should follow the preamble:\n%s", got)
	}
}

func TestComposeToolNamesMatchingPreambleWords(t *testing.T) {
	// Names that are also words of the fixed instructions still get one listing each
	req := &ChatRequest{
		Tools:    []ToolSpec{{Name: "tool"}, {Name: "call"}, {Name: "name"}},
		Messages: []Message{{Role: RoleUser, Content: TextContent("go")}},
	}
	got := Compose(req)
	preamble := got[:strings.Index(got, "</system_tools>")]

	for _, tool := range req.Tools {
		if n := strings.Count(preamble, `"name": "`+tool.Name+`"`); n != 1 {
			t.Errorf("tool %q listed %d times, want 1", tool.Name, n)
		}
	}
}

func TestContentParts(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"role":"user","content":[
		{"type":"text","text":"what is this"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,AAA"}},
		{"type":"text","text":"thanks"}
	]}`), &m)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := "what is this\n[Image]\nthanks"
	if got := m.Content.String(); got != want {
		t.Errorf("Content.String() = %q, want %q", got, want)
	}
}

func TestContentUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"string", `"hello"`, "hello", false},
		{"null", `null`, "", false},
		{"empty parts", `[]`, "", false},
		{"number", `42`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			err := json.Unmarshal([]byte(tt.input), &c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.String() != tt.want {
				t.Errorf("String() = %q, want %q", c.String(), tt.want)
			}
		})
	}
}

func TestToolSpecShapes(t *testing.T) {
	var req ChatRequest
	err := json.Unmarshal([]byte(`{
		"messages": [{"role":"user","content":"x"}],
		"tools": [
			{"name":"flat","description":"flat shape"},
			{"type":"function","function":{"name":"wrapped","parameters":{"type":"object"}}}
		]
	}`), &req)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(req.Tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(req.Tools))
	}
	if req.Tools[0].Name != "flat" || req.Tools[0].Description != "flat shape" {
		t.Errorf("flat tool = %+v", req.Tools[0])
	}
	if req.Tools[1].Name != "wrapped" || string(req.Tools[1].Parameters) != `{"type":"object"}` {
		t.Errorf("wrapped tool = %+v", req.Tools[1])
	}
}

func TestSamplingDefaults(t *testing.T) {
	req, err := ParseChatRequest([]byte(`{"messages":[{"role":"user","content":"x"}]}`))
	if err != nil {
		t.Fatalf("ParseChatRequest: %v", err)
	}
	s := req.Sampling()
	if s.Temperature != 1 || s.TopP != 1 || s.MaxTokens != 131072 {
		t.Errorf("defaults = %+v", s)
	}
	if !req.Streaming() {
		t.Error("stream should default to true")
	}

	req, err = ParseChatRequest([]byte(`{"messages":[{"role":"user","content":"x"}],"temperature":0,"top_p":0.5,"max_tokens":10,"stream":false}`))
	if err != nil {
		t.Fatalf("ParseChatRequest: %v", err)
	}
	s = req.Sampling()
	if s.Temperature != 0 || s.TopP != 0.5 || s.MaxTokens != 10 {
		t.Errorf("explicit = %+v", s)
	}
	if req.Streaming() {
		t.Error("stream:false not honoured")
	}
}

func TestParseChatRequestRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"no messages", `{"messages":[]}`},
		{"bad role", `{"messages":[{"role":"robot","content":"x"}]}`},
		{"nameless tool", `{"messages":[{"role":"user","content":"x"}],"tools":[{"description":"?"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChatRequest([]byte(tt.body))
			if ClassifyError(err) != ErrorTypeBadRequest {
				t.Errorf("err = %v, want bad request", err)
			}
		})
	}
}
