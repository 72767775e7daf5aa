package http

import (
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/roelfdiedericks/zaibridge/internal/bridge"
	"github.com/roelfdiedericks/zaibridge/internal/tokens"
)

// ThinkingPrefix marks thinking text rendered inline with the answer
const ThinkingPrefix = "💭 "

const chunkObject = "chat.completion.chunk"

// chunkEncoder turns bridge chunks into OpenAI stream responses for one
// reply, tracking what it has sent for the usage estimate.
type chunkEncoder struct {
	id       string
	model    string
	created  int64
	thinking string

	roleSent  bool
	toolIndex int
	reply     strings.Builder
}

func newChunkEncoder(id, model, thinking string, created int64) *chunkEncoder {
	return &chunkEncoder{id: id, model: model, thinking: thinking, created: created}
}

// encode renders c. Thinking text in drop mode renders nothing.
func (e *chunkEncoder) encode(c bridge.Chunk) (openai.ChatCompletionStreamResponse, bool) {
	var delta openai.ChatCompletionStreamChoiceDelta
	var finish openai.FinishReason

	switch c.Kind {
	case bridge.ChunkText:
		if c.Text == "" {
			return openai.ChatCompletionStreamResponse{}, false
		}
		if c.IsThinking() {
			switch e.thinking {
			case ThinkingDrop:
				return openai.ChatCompletionStreamResponse{}, false
			case ThinkingReasoning:
				delta.ReasoningContent = c.Text
			default:
				delta.Content = ThinkingPrefix + c.Text
			}
		} else {
			delta.Content = c.Text
		}
		e.reply.WriteString(c.Text)

	case bridge.ChunkToolCall:
		tc := c.ToolCall
		index := e.toolIndex
		e.toolIndex++
		delta.ToolCalls = []openai.ToolCall{{
			Index: &index,
			ID:    tc.ID,
			Type:  openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		}}
		e.reply.WriteString(tc.Arguments)

	case bridge.ChunkDone:
		finish = openai.FinishReason(c.FinishReason)
	}

	if !e.roleSent {
		delta.Role = openai.ChatMessageRoleAssistant
		e.roleSent = true
	}

	return openai.ChatCompletionStreamResponse{
		ID:      e.id,
		Object:  chunkObject,
		Created: e.created,
		Model:   e.model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	}, true
}

// usage renders the trailing usage-only chunk
func (e *chunkEncoder) usage(est *tokens.Estimator, prompt string) openai.ChatCompletionStreamResponse {
	u := toUsage(est.EstimateUsage(prompt, e.reply.String()))
	return openai.ChatCompletionStreamResponse{
		ID:      e.id,
		Object:  chunkObject,
		Created: e.created,
		Model:   e.model,
		Choices: []openai.ChatCompletionStreamChoice{},
		Usage:   &u,
	}
}

func toUsage(u tokens.Usage) openai.Usage {
	return openai.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.Total(),
	}
}

// completion renders a collected reply as one chat.completion object
func completion(id, model, thinking string, created int64, res *bridge.Result, usage tokens.Usage) openai.ChatCompletionResponse {
	msg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: res.Content,
	}

	if res.Thinking != "" {
		switch thinking {
		case ThinkingDrop:
		case ThinkingReasoning:
			msg.ReasoningContent = res.Thinking
		default:
			msg.Content = ThinkingPrefix + res.Thinking + "\n\n" + res.Content
		}
	}

	if res.ToolCall != nil {
		msg.ToolCalls = []openai.ToolCall{{
			ID:   res.ToolCall.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      res.ToolCall.Name,
				Arguments: res.ToolCall.Arguments,
			},
		}}
	}

	finish := res.FinishReason
	if finish == "" {
		finish = bridge.FinishStop
	}

	return openai.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: openai.FinishReason(finish),
		}},
		Usage: toUsage(usage),
	}
}
