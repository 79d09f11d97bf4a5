package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/kalambet/nodebench/internal/llm"
)

// ChatProxy is the upstream chat completions API, usually *llm.Client.
type ChatProxy interface {
	Chat(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error)
	ListModels(ctx context.Context) ([]llm.Model, error)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.LLM == nil {
			unavailable(w, "LLM provider")
			return
		}
		models, err := deps.LLM.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, llm.ModelList{Object: "list", Data: orEmpty(models)})
	}
}

// handleChatCompletions forwards an OpenAI-style request upstream. Unknown
// fields pass through untouched; a missing model is filled from the caller's
// default_model setting. Streaming responses are relayed line by line.
func handleChatCompletions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.LLM == nil {
			unavailable(w, "LLM provider")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req llm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if messageCount(req.Messages) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}
		if req.Model == "" {
			req.Model = defaultModel(deps, requestUser(r))
		}
		slog.Debug("chat passthrough", "model", req.Model, "stream", req.Stream)

		rc, err := deps.LLM.Chat(r.Context(), req)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
			return
		}
		defer rc.Close()

		if req.Stream {
			relaySSE(w, rc)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := io.Copy(w, rc); err != nil {
			slog.Warn("relaying upstream response", "error", err)
		}
	}
}

// defaultModel returns the user's default_model setting, or "" to let the
// upstream pick.
func defaultModel(deps Deps, uid string) string {
	if deps.Settings == nil {
		return ""
	}
	s, err := deps.Settings.Get(uid)
	if err != nil {
		slog.Warn("loading settings for chat passthrough", "user", uid, "error", err)
		return ""
	}
	return s.DefaultModel
}

// relaySSE copies an upstream event stream to w, flushing after every line.
// A read failure mid-stream is reported to the client as a final error event.
func relaySSE(w http.ResponseWriter, upstream io.Reader) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	br := bufio.NewReader(upstream)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			w.Write(line)
			flusher.Flush()
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			slog.Warn("upstream stream read error", "error", err)
			var e errorResponse
			e.Error.Message = "upstream read error"
			e.Error.Type = "server_error"
			payload, _ := json.Marshal(e)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			return
		}
	}
}

// messageCount returns the length of a JSON messages array, or 0 when raw is
// absent or not an array.
func messageCount(raw json.RawMessage) int {
	var arr []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &arr) != nil {
		return 0
	}
	return len(arr)
}
