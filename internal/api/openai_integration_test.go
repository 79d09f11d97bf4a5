//go:build integration

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/nodebench/internal/llm"
)

func TestPassthroughRoundTrip(t *testing.T) {
	// Simulate an OpenRouter backend that returns a streaming SSE response.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chat/completions" {
			// Verify the request was forwarded correctly.
			var req llm.ChatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("upstream decode error: %v", err)
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}

			if req.Model != "anthropic/claude-haiku-4-5-20251001" {
				t.Errorf("upstream model = %q, want %q", req.Model, "anthropic/claude-haiku-4-5-20251001")
			}

			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)

			chunks := []string{
				`data: {"id":"gen-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
				`data: {"id":"gen-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" world"}}]}`,
				`data: {"id":"gen-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
				`data: [DONE]`,
			}
			for _, chunk := range chunks {
				fmt.Fprintf(w, "%s\n\n", chunk)
			}
			return
		}

		http.NotFound(w, r)
	}))
	defer upstream.Close()

	// Point the LLM client at the mock upstream.
	c := llm.NewClientWithBaseURL("test-key", upstream.URL)
	handler := NewRouter(Deps{Token: "integration-token", LLM: c})

	// Start the nodebench server.
	srv := httptest.NewServer(handler)
	defer srv.Close()

	// Send a streaming chat request through the full stack.
	reqBody := `{"model":"anthropic/claude-haiku-4-5-20251001","messages":[{"role":"user","content":"hello"}],"stream":true}`
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("reading error body: %v", err)
		}
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}

	// Read the full streamed response and verify it contains expected data.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "Hello") {
		t.Errorf("response missing 'Hello': %q", bodyStr)
	}
	if !strings.Contains(bodyStr, "world") {
		t.Errorf("response missing 'world': %q", bodyStr)
	}
	if !strings.Contains(bodyStr, "[DONE]") {
		t.Errorf("response missing '[DONE]': %q", bodyStr)
	}
}

func TestWorkspaceRoundTrip(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := httptest.NewServer(NewRouter(deps))
	defer srv.Close()

	call := func(method, path, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("building request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+testToken)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		return resp
	}

	resp := call(http.MethodPost, "/documents", `{"title":"Acme","content":"Acme builds rockets."}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create document status = %d", resp.StatusCode)
	}

	resp = call(http.MethodPost, "/agents/run", `{"prompt":"what do my notes say about Acme"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("run status = %d, body = %s", resp.StatusCode, body)
	}
	var out struct {
		RunID      string   `json:"runId"`
		AgentsUsed []string `json:"agentsUsed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding run: %v", err)
	}
	if out.RunID == "" || len(out.AgentsUsed) == 0 {
		t.Errorf("run = %+v", out)
	}
}
