package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/roelfdiedericks/zaibridge/internal/bridge"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
)

// maxBodyBytes bounds a request body; long conversations are large but finite
const maxBodyBytes = 32 << 20

// StatusClientClosed is the nginx convention for a client that went away
const StatusClientClosed = 499

// handleChatCompletions handles POST /v1/chat/completions
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, string(bridge.ErrorTypeBadRequest), "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, string(bridge.ErrorTypeBadRequest), "failed to read request body")
		return
	}

	req, err := bridge.ParseChatRequest(data)
	if err != nil {
		L_warn("http: chat - invalid request", "error", err)
		writeBridgeError(w, err)
		return
	}

	L_debug("http: chat request", "messages", len(req.Messages), "tools", len(req.Tools), "stream", req.Streaming(), "busy", s.bridge.Busy())

	stream, err := s.bridge.Stream(r.Context(), req)
	if err != nil {
		L_warn("http: chat - request failed before reply", "error", err)
		writeBridgeError(w, err)
		return
	}
	defer stream.Close()

	if req.Streaming() {
		s.streamReply(w, r, req, stream)
		return
	}
	s.collectReply(w, r, stream)
}

// streamReply relays the stream as server-sent events. Headers are held
// back until the first chunk so a failure before the reply starts can
// still be reported with a proper status.
func (s *Server) streamReply(w http.ResponseWriter, r *http.Request, req *bridge.ChatRequest, stream *bridge.Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error", "streaming not supported")
		return
	}

	enc := newChunkEncoder(stream.ID, s.model, s.Thinking(), time.Now().Unix())
	started := false
	done := false

	for c := range stream.Chunks() {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if c.Kind == bridge.ChunkDone {
			done = true
		}

		resp, ok := enc.encode(c)
		if !ok {
			continue
		}
		if err := writeEvent(w, resp); err != nil {
			L_debug("http: client went away mid-stream", "id", stream.ID, "error", err)
			return
		}
		flusher.Flush()
	}

	if err := stream.Err(); err != nil || !done {
		if !started {
			writeBridgeError(w, err)
			return
		}
		// Headers are out; ending without [DONE] tells the client it failed
		L_warn("http: stream ended without completion", "id", stream.ID, "error", err)
		return
	}

	if req.IncludeUsage() {
		if err := writeEvent(w, enc.usage(s.tokens, stream.Prompt)); err != nil {
			return
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// collectReply answers stream:false requests with one completion object
func (s *Server) collectReply(w http.ResponseWriter, r *http.Request, stream *bridge.Stream) {
	res, err := bridge.Collect(r.Context(), stream)
	if err != nil {
		L_warn("http: chat - reply failed", "id", stream.ID, "error", err)
		writeBridgeError(w, err)
		return
	}

	usage := s.tokens.EstimateUsage(stream.Prompt, res.Thinking+res.Content)
	writeJSON(w, http.StatusOK, completion(stream.ID, s.model, s.Thinking(), time.Now().Unix(), res, usage))
}

// writeEvent writes one SSE data line
func writeEvent(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

type modelList struct {
	Object string         `json:"object"`
	Data   []openai.Model `json:"data"`
}

// handleModels handles GET /v1/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelList{
		Object: "list",
		Data: []openai.Model{{
			ID:        s.model,
			Object:    "model",
			CreatedAt: s.started.Unix(),
			OwnedBy:   "z.ai",
		}},
	})
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":   "ok",
		"model":    s.model,
		"thinking": s.Thinking(),
		"busy":     s.bridge.Busy(),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	}
	if s.status != nil {
		for k, v := range s.status() {
			status[k] = v
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// statusFor maps a bridge error to an HTTP status
func statusFor(err error) int {
	switch bridge.ClassifyError(err) {
	case bridge.ErrorTypeBadRequest:
		return http.StatusBadRequest
	case bridge.ErrorTypeBrowser:
		return http.StatusServiceUnavailable
	case bridge.ErrorTypeNavigation, bridge.ErrorTypeInput, bridge.ErrorTypeResponse, bridge.ErrorTypeRead:
		return http.StatusGatewayTimeout
	case bridge.ErrorTypeUpstream:
		return http.StatusBadGateway
	case bridge.ErrorTypeCancelled:
		return StatusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

func writeBridgeError(w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("reply ended without completing")
	}
	writeError(w, statusFor(err), string(bridge.ClassifyError(err)), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_debug("http: failed to write response", "error", err)
	}
}
