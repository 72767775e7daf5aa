package bridge

// ChunkKind tags the variant a Chunk carries
type ChunkKind int

const (
	ChunkText ChunkKind = iota
	ChunkToolCall
	ChunkDone
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkText:
		return "text"
	case ChunkToolCall:
		return "tool_call"
	case ChunkDone:
		return "done"
	}
	return "unknown"
}

// Finish reasons carried by a Done chunk
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// Site phases of a text delta
const (
	PhaseThinking = "thinking"
	PhaseAnswer   = "answer"
)

// Chunk is one element of the outbound delta stream.
//
//	ChunkText:     Text (never empty) and the site Phase it belongs to
//	ChunkToolCall: ToolCall
//	ChunkDone:     FinishReason, always the last chunk of a stream
type Chunk struct {
	Kind         ChunkKind
	Text         string
	Phase        string
	ToolCall     *ToolCall
	FinishReason string
}

// IsThinking reports whether a text chunk is reasoning rather than answer text.
func (c Chunk) IsThinking() bool {
	return c.Kind == ChunkText && c.Phase == PhaseThinking
}

// ToolCall is a tool invocation recovered from model output.
// Arguments is compact JSON text, "{}" when the model supplied none.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

func textChunk(text, phase string) Chunk {
	return Chunk{Kind: ChunkText, Text: text, Phase: phase}
}

func toolCallChunk(tc *ToolCall) Chunk {
	return Chunk{Kind: ChunkToolCall, ToolCall: tc}
}

func doneChunk(reason string) Chunk {
	return Chunk{Kind: ChunkDone, FinishReason: reason}
}
