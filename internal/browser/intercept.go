package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/roelfdiedericks/zaibridge/internal/bridge"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
)

// Response body capture modes
const (
	BodyModeStream   = "stream"   // forward bytes as the page receives them
	BodyModeBuffered = "buffered" // fetch the whole body once loading finishes
)

// CDP network events the watch follows
const (
	eventResponseReceived = "Network.responseReceived"
	eventDataReceived     = "Network.dataReceived"
	eventLoadingFinished  = "Network.loadingFinished"
	eventLoadingFailed    = "Network.loadingFailed"
)

// networkDataReceived is Network.dataReceived including the data field,
// which is only sent once Network.streamResourceContent is enabled for
// the request.
type networkDataReceived struct {
	RequestID         proto.NetworkRequestID `json:"requestId"`
	DataLength        int                    `json:"dataLength"`
	EncodedDataLength int                    `json:"encodedDataLength"`
	Data              []byte                 `json:"data,omitempty"`
}

type streamResourceContentResult struct {
	BufferedData []byte `json:"bufferedData"`
}

// rawEvent captures an event's params undecoded
type rawEvent struct {
	method string
	params json.RawMessage
}

func (e *rawEvent) ProtoEvent() string {
	return e.method
}

func (e *rawEvent) UnmarshalJSON(b []byte) error {
	e.params = append(e.params[:0], b...)
	return nil
}

// bodySource is the part of the network domain a watch calls into
type bodySource interface {
	// StreamContent switches a request to streamed delivery and returns
	// the data received so far.
	StreamContent(id proto.NetworkRequestID) ([]byte, error)
	// ResponseBody reads the complete body of a finished request.
	ResponseBody(id proto.NetworkRequestID) ([]byte, error)
}

// pageNetwork is bodySource over a live page
type pageNetwork struct {
	page *rod.Page
}

func (n pageNetwork) StreamContent(id proto.NetworkRequestID) ([]byte, error) {
	raw, err := n.page.Call(n.page.GetContext(), string(n.page.SessionID), "Network.streamResourceContent",
		map[string]any{"requestId": id})
	if err != nil {
		return nil, err
	}
	var res streamResourceContentResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unexpected streamResourceContent result: %w", err)
	}
	return res.BufferedData, nil
}

func (n pageNetwork) ResponseBody(id proto.NetworkRequestID) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(n.page)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if res.Base64Encoded {
		return base64.StdEncoding.DecodeString(res.Body)
	}
	return []byte(res.Body), nil
}

// responseWatch follows one completion request through the network domain
// and pipes its body to the bridge.
type responseWatch struct {
	match string
	mode  string
	net   bodySource

	matched chan *bridge.Response
	done    chan struct{}
	endErr  error

	pr *io.PipeReader
	pw *io.PipeWriter

	requestID proto.NetworkRequestID
	streaming bool
}

func newResponseWatch(match, mode string, net bodySource) *responseWatch {
	pr, pw := io.Pipe()
	return &responseWatch{
		match:   match,
		mode:    mode,
		net:     net,
		matched: make(chan *bridge.Response, 1),
		done:    make(chan struct{}),
		pr:      pr,
		pw:      pw,
	}
}

// AwaitResponse subscribes to the page's network events before returning,
// so a request fired by a later Submit cannot be missed.
func (p *chatPage) AwaitResponse(ctx context.Context, match string) bridge.ResponseWait {
	restore := p.page.EnableDomain(&proto.NetworkEnable{})
	page := p.page.Context(ctx)
	events := page.Event()

	w := newResponseWatch(match, p.bodyMode, pageNetwork{page: page})
	// Unblocks body writes nobody will read once the request is over
	stop := context.AfterFunc(ctx, func() {
		w.pr.CloseWithError(ctx.Err())
	})
	go func() {
		defer stop()
		w.loop(ctx, events, restore)
	}()
	return w.wait
}

func (w *responseWatch) wait(ctx context.Context) (*bridge.Response, error) {
	select {
	case r := <-w.matched:
		return r, nil
	case <-w.done:
		select {
		case r := <-w.matched:
			return r, nil
		default:
		}
		return nil, w.endErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *responseWatch) loop(ctx context.Context, events <-chan *rod.Message, restore func()) {
	defer close(w.done)
	defer restore()

	for {
		select {
		case <-ctx.Done():
			w.end(ctx.Err())
			return
		case msg, ok := <-events:
			if !ok {
				err := ctx.Err()
				if err == nil {
					err = fmt.Errorf("page event stream closed")
				}
				w.end(err)
				return
			}
			switch msg.Method {
			case eventResponseReceived, eventDataReceived, eventLoadingFinished, eventLoadingFailed:
			default:
				continue
			}
			ev := &rawEvent{method: msg.Method}
			if !msg.Load(ev) {
				continue
			}
			if w.handle(ev.method, ev.params) {
				return
			}
		}
	}
}

func (w *responseWatch) end(err error) {
	w.endErr = err
	w.pw.CloseWithError(err)
}

// handle processes one network event and reports whether the request is
// complete. Events for other requests, and anything before the completion
// response is seen, are ignored.
func (w *responseWatch) handle(method string, params json.RawMessage) bool {
	switch method {
	case eventResponseReceived:
		var resp proto.NetworkResponseReceived
		if err := json.Unmarshal(params, &resp); err != nil {
			L_trace("browser: undecodable responseReceived", "error", err)
			return false
		}
		if w.requestID != "" || resp.Response == nil || !strings.Contains(resp.Response.URL, w.match) {
			return false
		}
		if resp.Type == proto.NetworkResourceTypePreflight {
			return false
		}
		w.requestID = resp.RequestID
		// Hand over the body before writing to it; the pipe blocks until read
		w.matched <- &bridge.Response{URL: resp.Response.URL, Status: resp.Response.Status, Body: w.pr}
		if w.mode == BodyModeStream {
			w.streaming = w.startStreaming()
		}
		L_trace("browser: completion response matched", "url", resp.Response.URL, "status", resp.Response.Status, "streaming", w.streaming)
		return false

	case eventDataReceived:
		if w.requestID == "" || !w.streaming {
			return false
		}
		var data networkDataReceived
		if err := json.Unmarshal(params, &data); err != nil {
			return false
		}
		if data.RequestID == w.requestID && len(data.Data) > 0 {
			w.write(data.Data)
		}
		return false

	case eventLoadingFinished:
		var finished proto.NetworkLoadingFinished
		if w.requestID == "" || json.Unmarshal(params, &finished) != nil || finished.RequestID != w.requestID {
			return false
		}
		if !w.streaming {
			body, err := w.net.ResponseBody(w.requestID)
			if err != nil {
				w.end(err)
				return true
			}
			w.write(body)
		}
		w.end(io.EOF)
		return true

	case eventLoadingFailed:
		var failed proto.NetworkLoadingFailed
		if w.requestID == "" || json.Unmarshal(params, &failed) != nil || failed.RequestID != w.requestID {
			return false
		}
		w.end(fmt.Errorf("completion request failed: %s", failed.ErrorText))
		return true
	}
	return false
}

// write forwards bytes; once the reader has gone away the data is dropped
func (w *responseWatch) write(b []byte) {
	if _, err := w.pw.Write(b); err != nil {
		L_trace("browser: body reader gone, dropping data", "bytes", len(b))
	}
}

// startStreaming asks the browser to send body data with each
// dataReceived event. Data that arrived before the call comes back
// buffered. Returns false when the browser does not support it, in which
// case the body is fetched whole at the end.
func (w *responseWatch) startStreaming() bool {
	buffered, err := w.net.StreamContent(w.requestID)
	if err != nil {
		L_debug("browser: streaming body unavailable, falling back to buffered", "error", err)
		return false
	}
	if len(buffered) > 0 {
		w.write(buffered)
	}
	return true
}
