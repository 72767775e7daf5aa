package bridge

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Stream is the consumer side of one in-flight request.
//
// Chunks are delivered in order on Chunks(), which is closed when the reply
// ends. A successful reply always ends with exactly one ChunkDone; a failed
// one ends without it and Err reports why. Close abandons the stream: the
// producer stops delivering and releases the page.
type Stream struct {
	ID     string
	Prompt string

	chunks  chan Chunk
	done    chan struct{}
	abandon chan struct{}
	ctxDone <-chan struct{}
	cancel  context.CancelFunc

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newStream(ctx context.Context, prompt string, buffer int, cancel context.CancelFunc) *Stream {
	return &Stream{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Prompt:  prompt,
		chunks:  make(chan Chunk, buffer),
		done:    make(chan struct{}),
		abandon: make(chan struct{}),
		ctxDone: ctx.Done(),
		cancel:  cancel,
	}
}

// Chunks returns the delta channel
func (s *Stream) Chunks() <-chan Chunk {
	return s.chunks
}

// Done is closed once the producer has finished
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, nil on success. Only meaningful after
// Chunks is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the stream. Safe to call more than once and after the
// stream has ended.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.abandon)
		s.cancel()
	})
}

// Abandoned reports whether Close has been called
func (s *Stream) Abandoned() bool {
	select {
	case <-s.abandon:
		return true
	default:
		return false
	}
}

// emit delivers c unless the consumer has gone away or the request ended.
func (s *Stream) emit(c Chunk) bool {
	if s.Abandoned() {
		return false
	}
	select {
	case s.chunks <- c:
		return true
	case <-s.abandon:
		return false
	case <-s.ctxDone:
		return false
	}
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.chunks)
	close(s.done)
}

// Result is a fully collected reply
type Result struct {
	Content      string
	Thinking     string
	ToolCall     *ToolCall
	FinishReason string
	Chunks       int
}

// Collect drains s into a Result. It returns the stream's error if the
// reply did not complete. Cancelling ctx abandons the stream.
func Collect(ctx context.Context, s *Stream) (*Result, error) {
	var res Result
	var content, thinking strings.Builder

	for {
		select {
		case <-ctx.Done():
			s.Close()
			<-s.done
			return nil, ctx.Err()
		case c, ok := <-s.Chunks():
			if !ok {
				if err := s.Err(); err != nil {
					return nil, err
				}
				res.Content = content.String()
				res.Thinking = thinking.String()
				return &res, nil
			}
			res.Chunks++
			switch c.Kind {
			case ChunkText:
				if c.IsThinking() {
					thinking.WriteString(c.Text)
				} else {
					content.WriteString(c.Text)
				}
			case ChunkToolCall:
				res.ToolCall = c.ToolCall
			case ChunkDone:
				res.FinishReason = c.FinishReason
			}
		}
	}
}
