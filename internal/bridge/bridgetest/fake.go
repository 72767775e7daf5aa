// Package bridgetest provides an in-memory chat page for exercising the
// bridge without a browser.
package bridgetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/roelfdiedericks/zaibridge/internal/bridge"
)

// Page is a scripted bridge.Page. Zero value answers with an empty body.
type Page struct {
	// Body pieces delivered in order once the prompt is submitted
	Body []string
	// Delay between body pieces
	Delay time.Duration
	// NoResponse makes the completion response never arrive
	NoResponse bool
	// StallBody delivers the pieces then holds the body open until ctx ends
	StallBody bool
	// Status of the completion response, 200 when zero
	Status int

	LocateErr    error
	ClipboardErr error
	SubmitErr    error
	// LocateBlocks makes LocateInput wait for ctx to end
	LocateBlocks bool

	mu        sync.Mutex
	calls     []string
	input     string
	clipboard string
	submitted []string
	submitCh  chan struct{}
}

func (p *Page) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

// Calls returns the method names invoked so far, in order
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Submitted returns the input contents at each Submit
func (p *Page) Submitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.submitted...)
}

func (p *Page) LocateInput(ctx context.Context) error {
	p.record("locate")
	if p.LocateBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.LocateErr
}

func (p *Page) Clear(ctx context.Context) error {
	p.record("clear")
	p.mu.Lock()
	p.input = ""
	p.mu.Unlock()
	return nil
}

func (p *Page) SetClipboard(ctx context.Context, text string) error {
	p.record("clipboard")
	if p.ClipboardErr != nil {
		return p.ClipboardErr
	}
	p.mu.Lock()
	p.clipboard = text
	p.mu.Unlock()
	return nil
}

func (p *Page) Paste(ctx context.Context) error {
	p.record("paste")
	p.mu.Lock()
	p.input += p.clipboard
	p.mu.Unlock()
	return nil
}

func (p *Page) InsertText(ctx context.Context, text string) error {
	p.record("insert")
	p.mu.Lock()
	p.input += text
	p.mu.Unlock()
	return nil
}

func (p *Page) Submit(ctx context.Context) error {
	p.record("submit")
	if p.SubmitErr != nil {
		return p.SubmitErr
	}
	p.mu.Lock()
	p.submitted = append(p.submitted, p.input)
	ch := p.submitCh
	p.submitCh = nil
	p.mu.Unlock()
	if ch != nil {
		close(ch)
	}
	return nil
}

// AwaitResponse arms a watcher; the response only arrives after Submit.
func (p *Page) AwaitResponse(ctx context.Context, match string) bridge.ResponseWait {
	p.record("arm")
	submitted := make(chan struct{})
	p.mu.Lock()
	p.submitCh = submitted
	p.mu.Unlock()

	return func(wctx context.Context) (*bridge.Response, error) {
		if p.NoResponse {
			<-wctx.Done()
			return nil, wctx.Err()
		}
		select {
		case <-submitted:
		case <-wctx.Done():
			return nil, wctx.Err()
		}

		status := p.Status
		if status == 0 {
			status = 200
		}
		pr, pw := io.Pipe()
		go p.feed(ctx, pw)
		return &bridge.Response{URL: "https://chat.example" + match, Status: status, Body: pr}, nil
	}
}

func (p *Page) feed(ctx context.Context, pw *io.PipeWriter) {
	stop := context.AfterFunc(ctx, func() {
		pw.CloseWithError(ctx.Err())
	})
	defer stop()

	for i, piece := range p.Body {
		if i > 0 && p.Delay > 0 {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return
			}
		}
		if _, err := io.WriteString(pw, piece); err != nil {
			return
		}
	}
	if p.StallBody {
		<-ctx.Done()
		return
	}
	pw.Close()
}

// Driver hands out a fixed page
type Driver struct {
	Tab *Page
	Err error

	mu    sync.Mutex
	calls int
}

func (d *Driver) Page(ctx context.Context) (bridge.Page, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Tab, nil
}

// Calls returns how many times Page was requested
func (d *Driver) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Record renders one completion record line in the site's format
func Record(phase, text string, done bool) string {
	rec := map[string]any{
		"type": "chat:completion",
		"data": map[string]any{
			"delta_content": text,
			"phase":         phase,
			"done":          done,
		},
	}
	b, err := json.Marshal(rec)
	if err != nil {
		panic(err)
	}
	return "data: " + string(b) + "\n\n"
}

// Answer renders answer-phase records for each text
func Answer(texts ...string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		out = append(out, Record(bridge.PhaseAnswer, t, false))
	}
	return out
}

// ToolBlock renders a tool call fence for name and raw JSON arguments
func ToolBlock(name, args string) string {
	return fmt.Sprintf("```tool_call\n{\"name\": %q, \"arguments\": %s}\n```", name, args)
}

// Collect drains a stream, failing loudly if it does not end within d
func Collect(s *bridge.Stream, d time.Duration) ([]bridge.Chunk, error) {
	var out []bridge.Chunk
	timeout := time.After(d)
	for {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				return out, s.Err()
			}
			out = append(out, c)
		case <-timeout:
			return out, errors.New("bridgetest: stream did not end in time")
		}
	}
}

// Join concatenates the text of text chunks
func Join(chunks []bridge.Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		if c.Kind == bridge.ChunkText {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}
