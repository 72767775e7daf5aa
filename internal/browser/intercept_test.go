package browser

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/roelfdiedericks/zaibridge/internal/bridge"
)

const completionURL = "https://chat.z.ai/api/v2/chat/completions?signature=x"

type fakeNetwork struct {
	buffered  string
	streamErr error
	body      string
	bodyErr   error

	mu    sync.Mutex
	calls []string
}

func (n *fakeNetwork) StreamContent(id proto.NetworkRequestID) ([]byte, error) {
	n.record("stream:" + string(id))
	if n.streamErr != nil {
		return nil, n.streamErr
	}
	return []byte(n.buffered), nil
}

func (n *fakeNetwork) ResponseBody(id proto.NetworkRequestID) ([]byte, error) {
	n.record("body:" + string(id))
	if n.bodyErr != nil {
		return nil, n.bodyErr
	}
	return []byte(n.body), nil
}

func (n *fakeNetwork) record(call string) {
	n.mu.Lock()
	n.calls = append(n.calls, call)
	n.mu.Unlock()
}

type cdpEvent struct {
	method string
	params json.RawMessage
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func responseEvent(id, url string, typ proto.NetworkResourceType, status int) cdpEvent {
	return cdpEvent{eventResponseReceived, mustJSON(map[string]any{
		"requestId": id,
		"loaderId":  "loader",
		"type":      typ,
		"response":  map[string]any{"url": url, "status": status, "statusText": "", "headers": map[string]any{}},
	})}
}

func dataEvent(id, data string) cdpEvent {
	return cdpEvent{eventDataReceived, mustJSON(networkDataReceived{
		RequestID:  proto.NetworkRequestID(id),
		DataLength: len(data),
		Data:       []byte(data),
	})}
}

func finishedEvent(id string) cdpEvent {
	return cdpEvent{eventLoadingFinished, mustJSON(map[string]any{"requestId": id, "encodedDataLength": 10})}
}

func failedEvent(id, text string) cdpEvent {
	return cdpEvent{eventLoadingFailed, mustJSON(map[string]any{"requestId": id, "type": "Fetch", "errorText": text})}
}

type watchResult struct {
	resp     *bridge.Response
	body     string
	readErr  error
	complete bool
}

// replay feeds events to a watch the way the page loop would, reading the
// body concurrently since pipe writes block until read.
func replay(t *testing.T, w *responseWatch, events []cdpEvent) watchResult {
	t.Helper()

	var res watchResult
	fin := make(chan struct{})
	go func() {
		defer close(fin)
		for _, ev := range events {
			if w.handle(ev.method, ev.params) {
				res.complete = true
				return
			}
		}
		w.end(errors.New("events exhausted"))
	}()

	read := func(r *bridge.Response) {
		res.resp = r
		b, err := io.ReadAll(r.Body)
		res.body, res.readErr = string(b), err
	}

	select {
	case r := <-w.matched:
		read(r)
	case <-fin:
		select {
		case r := <-w.matched:
			read(r)
		default:
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not settle")
	}
	<-fin
	return res
}

func TestResponseWatch(t *testing.T) {
	tests := []struct {
		name       string
		mode       string
		net        *fakeNetwork
		events     []cdpEvent
		wantMatch  bool
		wantStatus int
		wantBody   string
		wantErr    string
		complete   bool
		wantCalls  []string
	}{
		{
			name: "buffered body fetched at finish",
			mode: BodyModeBuffered,
			net:  &fakeNetwork{body: "data: one\n"},
			events: []cdpEvent{
				responseEvent("1", completionURL, proto.NetworkResourceTypeFetch, 200),
				dataEvent("1", "ignored"),
				finishedEvent("1"),
			},
			wantMatch: true, wantStatus: 200, wantBody: "data: one\n", complete: true,
			wantCalls: []string{"body:1"},
		},
		{
			name: "other urls ignored",
			mode: BodyModeBuffered,
			net:  &fakeNetwork{body: "B"},
			events: []cdpEvent{
				responseEvent("7", "https://chat.z.ai/api/v1/chats/new", proto.NetworkResourceTypeFetch, 200),
				finishedEvent("7"),
				responseEvent("8", completionURL, proto.NetworkResourceTypeFetch, 200),
				finishedEvent("8"),
			},
			wantMatch: true, wantStatus: 200, wantBody: "B", complete: true,
			wantCalls: []string{"body:8"},
		},
		{
			name: "preflight skipped",
			mode: BodyModeBuffered,
			net:  &fakeNetwork{body: "real"},
			events: []cdpEvent{
				responseEvent("p", completionURL, proto.NetworkResourceTypePreflight, 204),
				finishedEvent("p"),
				responseEvent("2", completionURL, proto.NetworkResourceTypeFetch, 200),
				finishedEvent("2"),
			},
			wantMatch: true, wantStatus: 200, wantBody: "real", complete: true,
			wantCalls: []string{"body:2"},
		},
		{
			name: "streamed with buffered replay",
			mode: BodyModeStream,
			net:  &fakeNetwork{buffered: "AB"},
			events: []cdpEvent{
				dataEvent("2", "early"),
				responseEvent("2", completionURL, proto.NetworkResourceTypeFetch, 200),
				dataEvent("2", "C"),
				dataEvent("3", "other"),
				dataEvent("2", "D"),
				finishedEvent("3"),
				finishedEvent("2"),
			},
			wantMatch: true, wantStatus: 200, wantBody: "ABCD", complete: true,
			wantCalls: []string{"stream:2"},
		},
		{
			name: "stream unsupported falls back to buffered",
			mode: BodyModeStream,
			net:  &fakeNetwork{streamErr: errors.New("method not found"), body: "whole"},
			events: []cdpEvent{
				responseEvent("4", completionURL, proto.NetworkResourceTypeFetch, 200),
				dataEvent("4", "dropped"),
				finishedEvent("4"),
			},
			wantMatch: true, wantStatus: 200, wantBody: "whole", complete: true,
			wantCalls: []string{"stream:4", "body:4"},
		},
		{
			name: "error status passed through",
			mode: BodyModeBuffered,
			net:  &fakeNetwork{body: `{"detail":"Not authenticated"}`},
			events: []cdpEvent{
				responseEvent("5", completionURL, proto.NetworkResourceTypeFetch, 401),
				finishedEvent("5"),
			},
			wantMatch: true, wantStatus: 401, wantBody: `{"detail":"Not authenticated"}`, complete: true,
			wantCalls: []string{"body:5"},
		},
		{
			name: "loading failed ends body with error",
			mode: BodyModeStream,
			net:  &fakeNetwork{buffered: "par"},
			events: []cdpEvent{
				responseEvent("6", completionURL, proto.NetworkResourceTypeFetch, 200),
				failedEvent("9", "unrelated"),
				failedEvent("6", "net::ERR_ABORTED"),
			},
			wantMatch: true, wantStatus: 200, wantBody: "par", wantErr: "net::ERR_ABORTED", complete: true,
			wantCalls: []string{"stream:6"},
		},
		{
			name: "body fetch error",
			mode: BodyModeBuffered,
			net:  &fakeNetwork{bodyErr: errors.New("no resource with given identifier")},
			events: []cdpEvent{
				responseEvent("1", completionURL, proto.NetworkResourceTypeFetch, 200),
				finishedEvent("1"),
			},
			wantMatch: true, wantStatus: 200, wantErr: "no resource", complete: true,
			wantCalls: []string{"body:1"},
		},
		{
			name: "nothing matched",
			mode: BodyModeStream,
			net:  &fakeNetwork{},
			events: []cdpEvent{
				dataEvent("1", "x"),
				finishedEvent("1"),
				failedEvent("1", "boom"),
				{"Network.requestWillBeSent", json.RawMessage(`{"requestId":"1"}`)},
				{eventResponseReceived, json.RawMessage(`not json`)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newResponseWatch("/api/v2/chat/completions", tt.mode, tt.net)
			res := replay(t, w, tt.events)

			if (res.resp != nil) != tt.wantMatch {
				t.Fatalf("matched = %v, want %v", res.resp != nil, tt.wantMatch)
			}
			if res.complete != tt.complete {
				t.Errorf("complete = %v, want %v", res.complete, tt.complete)
			}
			if tt.wantMatch {
				if res.resp.Status != tt.wantStatus || !strings.Contains(res.resp.URL, "/api/v2/chat/completions") {
					t.Errorf("response = %s %d", res.resp.URL, res.resp.Status)
				}
				if res.body != tt.wantBody {
					t.Errorf("body = %q, want %q", res.body, tt.wantBody)
				}
				switch {
				case tt.wantErr == "" && res.readErr != nil:
					t.Errorf("read error = %v", res.readErr)
				case tt.wantErr != "" && (res.readErr == nil || !strings.Contains(res.readErr.Error(), tt.wantErr)):
					t.Errorf("read error = %v, want %q", res.readErr, tt.wantErr)
				}
			}
			if strings.Join(tt.net.calls, ",") != strings.Join(tt.wantCalls, ",") {
				t.Errorf("network calls = %v, want %v", tt.net.calls, tt.wantCalls)
			}
		})
	}
}

func TestResponseWatchUnreadBody(t *testing.T) {
	w := newResponseWatch("/api/v2/chat/completions", BodyModeStream, &fakeNetwork{buffered: "nobody reads this"})

	ev := responseEvent("1", completionURL, proto.NetworkResourceTypeFetch, 200)
	fin := make(chan bool)
	go func() {
		fin <- w.handle(ev.method, ev.params)
	}()

	// The waiter has given up; closing the reader must unblock the writer
	time.Sleep(50 * time.Millisecond)
	w.pr.CloseWithError(errors.New("request over"))

	select {
	case complete := <-fin:
		if complete {
			t.Error("response match should not complete the watch")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handle blocked on a body nobody reads")
	}
}

func TestRawEventCapturesParams(t *testing.T) {
	ev := &rawEvent{method: eventDataReceived}
	if err := json.Unmarshal([]byte(`{"requestId":"1","data":"QQ=="}`), ev); err != nil {
		t.Fatal(err)
	}
	if ev.ProtoEvent() != eventDataReceived || string(ev.params) != `{"requestId":"1","data":"QQ=="}` {
		t.Errorf("rawEvent = %s %s", ev.ProtoEvent(), ev.params)
	}

	var data networkDataReceived
	if err := json.Unmarshal(ev.params, &data); err != nil || string(data.Data) != "A" {
		t.Errorf("data = %q, %v", data.Data, err)
	}
}
