package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Block separator between rendered messages
const messageSeparator = "\n\n---\n\n"

// ToolFence opens a tool call block in model output
const ToolFence = "```tool_call"

// Compose renders a request as a single prompt for the chat page.
// When tools are declared the prompt starts with one tools preamble;
// messages follow in order, one labelled block each.
func Compose(req *ChatRequest) string {
	var sb strings.Builder

	if len(req.Tools) > 0 {
		sb.WriteString(toolsPreamble(req.Tools))
		sb.WriteString("\n\n")
	}

	blocks := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks = append(blocks, renderMessage(m))
	}
	sb.WriteString(strings.Join(blocks, messageSeparator))

	return sb.String()
}

func renderMessage(m Message) string {
	content := m.Content.String()

	switch m.Role {
	case RoleTool:
		content = fmt.Sprintf("[TOOL RESULT for %s]:\n%s", m.ToolCallID, content)
	case RoleAssistant:
		for _, tc := range m.ToolCalls {
			args := tc.Function.Arguments
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			call := fmt.Sprintf("%s\n{\"name\": %q, \"arguments\": %s}\n```", ToolFence, tc.Function.Name, args)
			if content == "" {
				content = call
			} else {
				content += "\n\n" + call
			}
		}
	}

	return fmt.Sprintf("[%s]:\n%s", strings.ToUpper(m.Role), content)
}

type toolListing struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func toolsPreamble(tools []ToolSpec) string {
	listing := make([]toolListing, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) > 0 && !json.Valid(params) {
			params = nil
		}
		listing = append(listing, toolListing{Name: t.Name, Description: t.Description, Parameters: params})
	}
	listed, err := json.MarshalIndent(listing, "", "  ")
	if err != nil {
		// RawMessage is validated above, so this only trips on a broken encoder
		listed = []byte("[]")
	}

	var sb strings.Builder
	sb.WriteString("<system_tools>\n")
	sb.WriteString("You can call the tools listed below. To call one, reply with exactly one fenced block:\n\n")
	sb.WriteString(ToolFence + "\n")
	sb.WriteString(`{"name": "<tool>", "arguments": {<json arguments>}}` + "\n")
	sb.WriteString("```\n\n")
	sb.WriteString("Write nothing after the block. Tool results come back in a later [TOOL] message.\n\n")
	sb.WriteString("Available tools:\n")
	sb.Write(listed)
	sb.WriteString("\n</system_tools>")
	return sb.String()
}
