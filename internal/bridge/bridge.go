package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	. "github.com/roelfdiedericks/zaibridge/internal/logging"
	"github.com/roelfdiedericks/zaibridge/internal/metrics"
)

// maxErrorSnippet bounds how much of an error response body is kept
const maxErrorSnippet = 512

// Options configures a Bridge
type Options struct {
	CompletionPath  string        // URL fragment of the site's completion endpoint
	InputTimeout    time.Duration // bound on finding the prompt input
	ResponseTimeout time.Duration // bound on the completion response starting
	ReadTimeout     time.Duration // bound on the whole reply, from submission
	Buffer          int           // chunk channel capacity
}

// DefaultOptions returns the standard timeouts
func DefaultOptions() Options {
	return Options{
		CompletionPath:  "/api/v2/chat/completions",
		InputTimeout:    10 * time.Second,
		ResponseTimeout: 3 * time.Minute,
		ReadTimeout:     10 * time.Minute,
		Buffer:          64,
	}
}

// Bridge runs chat requests against the page one at a time.
type Bridge struct {
	driver Driver
	opts   Options
	slot   chan struct{}
}

// New creates a Bridge. Zero option values take their defaults.
func New(driver Driver, opts Options) *Bridge {
	def := DefaultOptions()
	if opts.CompletionPath == "" {
		opts.CompletionPath = def.CompletionPath
	}
	if opts.InputTimeout <= 0 {
		opts.InputTimeout = def.InputTimeout
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = def.ResponseTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.Buffer <= 0 {
		opts.Buffer = def.Buffer
	}
	return &Bridge{
		driver: driver,
		opts:   opts,
		slot:   make(chan struct{}, 1),
	}
}

// Busy reports whether a request currently holds the page
func (b *Bridge) Busy() bool {
	return len(b.slot) > 0
}

// Stream submits req to the page and returns the reply as a chunk stream.
//
// Requests queue for the single page slot. Errors before the reply starts
// (browser, navigation, input) are returned directly and no stream is made.
// Once a Stream is returned, later failures end it without a Done chunk and
// are reported by Stream.Err. Cancelling ctx aborts the request at any stage.
func (b *Bridge) Stream(ctx context.Context, req *ChatRequest) (*Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	prompt := Compose(req)
	sampling := req.Sampling()

	queued := time.Now()
	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		metrics.RecordOutcome(string(ClassifyError(ctx.Err())))
		return nil, ctx.Err()
	}
	metrics.QueueWait.Observe(time.Since(queued).Seconds())
	metrics.Inflight.Inc()

	release := func() {
		metrics.Inflight.Dec()
		<-b.slot
	}

	L_debug("bridge: request acquired page",
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"promptLen", len(prompt),
		"temperature", sampling.Temperature,
		"topP", sampling.TopP,
		"maxTokens", sampling.MaxTokens,
		"queued", time.Since(queued).Round(time.Millisecond))

	page, err := b.driver.Page(ctx)
	if err != nil {
		release()
		metrics.RecordOutcome(string(ClassifyError(err)))
		return nil, err
	}

	if err := b.inject(ctx, page, prompt); err != nil {
		release()
		metrics.RecordOutcome(string(ClassifyError(err)))
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, b.opts.ReadTimeout)
	wait := page.AwaitResponse(sctx, b.opts.CompletionPath)

	if err := page.Submit(sctx); err != nil {
		cancel()
		release()
		err = fmt.Errorf("submit prompt: %w", err)
		metrics.RecordOutcome(string(ClassifyError(err)))
		return nil, err
	}

	s := newStream(sctx, prompt, b.opts.Buffer, cancel)
	go b.run(sctx, s, wait, release)
	return s, nil
}

// inject clears the input and places prompt in it.
func (b *Bridge) inject(ctx context.Context, page Page, prompt string) error {
	ictx, cancel := context.WithTimeout(ctx, b.opts.InputTimeout)
	defer cancel()

	if err := page.LocateInput(ictx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ictx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrInputTimeout, b.opts.InputTimeout)
		}
		return fmt.Errorf("%w: %v", ErrInputTimeout, err)
	}

	if err := page.Clear(ctx); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}

	if err := page.SetClipboard(ctx, prompt); err != nil {
		L_warn("bridge: clipboard write rejected, inserting text directly", "error", err)
		if err := page.InsertText(ctx, prompt); err != nil {
			return fmt.Errorf("insert prompt: %w", err)
		}
		return nil
	}

	if err := page.Paste(ctx); err != nil {
		return fmt.Errorf("paste prompt: %w", err)
	}
	return nil
}

// run is the background half of a request: wait for the completion
// response, translate its body, then look for a tool call.
func (b *Bridge) run(ctx context.Context, s *Stream, wait ResponseWait, release func()) {
	start := time.Now()
	var err error
	defer func() {
		s.cancel()
		release()
		s.finish(err)
		metrics.StreamDuration.Observe(time.Since(start).Seconds())
		metrics.RecordOutcome(string(ClassifyError(err)))
		if err != nil {
			L_warn("bridge: stream ended with error", "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		} else {
			L_debug("bridge: stream complete", "elapsed", time.Since(start).Round(time.Millisecond))
		}
	}()

	wctx, wcancel := context.WithTimeout(ctx, b.opts.ResponseTimeout)
	resp, werr := wait(wctx)
	wcancel()
	if werr != nil {
		err = b.waitError(ctx, s, werr, ErrResponseTimeout, b.opts.ResponseTimeout)
		return
	}
	defer resp.Body.Close()
	L_debug("bridge: completion response intercepted", "url", resp.URL, "status", resp.Status)

	if resp.Status >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
		err = fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.Status, strings.TrimSpace(string(snippet)))
		return
	}

	tr := NewTranslator()
	var answer strings.Builder
	rerr := tr.Run(resp.Body, func(d Delta) bool {
		if d.Phase != PhaseThinking {
			answer.WriteString(d.Text)
		}
		metrics.TextDeltas.Inc()
		return s.emit(textChunk(d.Text, d.Phase))
	})
	records, skipped, failures := tr.Stats()
	L_trace("bridge: body consumed", "records", records, "skipped", skipped, "failures", failures, "done", tr.SawDone())

	if s.Abandoned() {
		err = ErrAbandoned
		return
	}
	if rerr != nil || ctx.Err() != nil {
		if rerr == nil {
			rerr = ctx.Err()
		}
		err = b.waitError(ctx, s, rerr, ErrReadTimeout, b.opts.ReadTimeout)
		return
	}

	tc, terr := ExtractToolCall(answer.String())
	if terr != nil {
		metrics.ToolParseErrors.Inc()
	}
	if tc != nil {
		metrics.ToolCalls.Inc()
		L_info("bridge: tool call recovered", "tool", tc.Name, "id", tc.ID)
		if !s.emit(toolCallChunk(tc)) || !s.emit(doneChunk(FinishToolCalls)) {
			err = ErrAbandoned
		}
		return
	}

	if !s.emit(doneChunk(FinishStop)) {
		err = ErrAbandoned
	}
}

// waitError maps a failed wait or read to the bridge error taxonomy.
func (b *Bridge) waitError(ctx context.Context, s *Stream, err, timeoutErr error, d time.Duration) error {
	if s.Abandoned() {
		return ErrAbandoned
	}
	if cerr := ctx.Err(); cerr != nil {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrReadTimeout, b.opts.ReadTimeout)
		}
		return cerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", timeoutErr, d)
	}
	return err
}
