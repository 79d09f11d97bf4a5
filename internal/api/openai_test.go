package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/nodebench/internal/llm"
)

// mockUpstream returns an httptest.Server that mimics a subset of the OpenRouter API.
func mockUpstream(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *llm.Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := llm.NewClientWithBaseURL("test-key", srv.URL)
	return srv, c
}

// passthroughRouter builds the router with only the LLM passthrough wired.
func passthroughRouter(c ChatProxy) http.Handler {
	return NewRouter(Deps{Token: testToken, LLM: c})
}

func TestHealth(t *testing.T) {
	_, c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	h := passthroughRouter(c)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	sseData := "data: {\"id\":\"gen-1\",\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\ndata: [DONE]\n\n"

	_, c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseData)
	})
	h := passthroughRouter(c)

	body := `{"model":"test","messages":[{"role":"user","content":"hi"}],"stream":true}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	ct := rr.Header().Get("Content-Type")
	if ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}

	got := rr.Body.String()
	if !strings.Contains(got, `"choices"`) {
		t.Errorf("body does not contain expected SSE data: %q", got)
	}
}

func TestChatCompletions_NonStreaming(t *testing.T) {
	respJSON := `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"Hello!"}}]}`

	_, c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, respJSON)
	})
	h := passthroughRouter(c)

	body := `{"model":"test","messages":[{"role":"user","content":"hi"}],"stream":false}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	ct := rr.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	if rr.Body.String() != respJSON {
		t.Errorf("body = %q, want %q", rr.Body.String(), respJSON)
	}
}

func TestChatCompletions_InvalidBody(t *testing.T) {
	_, c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	h := passthroughRouter(c)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{invalid"))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestChatCompletions_MissingMessages(t *testing.T) {
	_, c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	h := passthroughRouter(c)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"test","messages":[]}`))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestModels(t *testing.T) {
	_, c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		list := llm.ModelList{
			Object: "list",
			Data: []llm.Model{
				{ID: "anthropic/claude-opus-4", Object: "model"},
				{ID: "openai/gpt-4o", Object: "model"},
			},
		}
		json.NewEncoder(w).Encode(list)
	})
	h := passthroughRouter(c)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var list llm.ModelList
	json.NewDecoder(rr.Body).Decode(&list)

	if len(list.Data) != 2 {
		t.Fatalf("got %d models, want 2", len(list.Data))
	}
	if list.Data[0].ID != "anthropic/claude-opus-4" {
		t.Errorf("models[0].ID = %q", list.Data[0].ID)
	}
}


func TestChatCompletions_ExtraFieldsForwarded(t *testing.T) {
	var got map[string]json.RawMessage
	_, c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[]}`)
	})
	h := passthroughRouter(c)

	body := `{"model":"test","messages":[{"role":"user","content":"hi"}],"temperature":0.2,"max_tokens":64}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if string(got["temperature"]) != "0.2" || string(got["max_tokens"]) != "64" {
		t.Errorf("upstream body = %v, extra fields lost", got)
	}
}

func TestChatCompletions_UpstreamError(t *testing.T) {
	_, c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	h := passthroughRouter(c)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"test","messages":[{"role":"user","content":"hi"}]}`))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestPassthrough_NoProvider(t *testing.T) {
	h := passthroughRouter(nil)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/models", nil),
		httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`)),
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want %d", req.URL.Path, rr.Code, http.StatusServiceUnavailable)
		}
	}
}

func TestChatCompletions_UsesDefaultModelSetting(t *testing.T) {
	var gotModels []string
	_, c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		model, _ := body["model"].(string)
		gotModels = append(gotModels, model)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[]}`)
	})
	deps, _ := newTestDeps(t)
	deps.LLM = c
	if err := deps.Settings.Set("alice", "default_model", "openai/gpt-4o-mini"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	h := NewRouter(deps)

	for _, body := range []string{
		`{"messages":[{"role":"user","content":"hi"}]}`,
		`{"model":"explicit/model","messages":[{"role":"user","content":"hi"}]}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
		req.Header.Set("X-User-ID", "alice")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
	}

	if len(gotModels) != 2 || gotModels[0] != "openai/gpt-4o-mini" || gotModels[1] != "explicit/model" {
		t.Errorf("upstream models = %v", gotModels)
	}
}

func TestMessageCount(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{``, 0},
		{`[]`, 0},
		{`{"role":"user"}`, 0},
		{`[{"role":"user"},{"role":"assistant"}]`, 2},
	}
	for _, tt := range tests {
		if got := messageCount(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("messageCount(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
