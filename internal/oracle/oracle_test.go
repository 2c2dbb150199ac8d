package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/tools"
	"google.golang.org/genai"
)

func sampleConversation() *Conversation {
	conv := &Conversation{}
	conv.AddTask("Process the students.")
	conv.AddDecision(&Decision{
		Text: "Reading the data first.",
		Requests: []tools.Invocation{
			{ID: "toolu_1", Name: "read_student_data", Args: json.RawMessage(`{}`)},
			{ID: "toolu_2", Name: "check_communication_history", Args: json.RawMessage(`{"student_id":"student_1"}`)},
		},
	})
	conv.AddResults([]tools.Result{
		{InvocationID: "toolu_1", Name: "read_student_data", Output: json.RawMessage(`{"success":true}`)},
		{InvocationID: "toolu_2", Name: "check_communication_history", Error: &tools.ErrorPayload{Kind: "ledger_io", Message: "store down"}},
	})
	return conv
}

func TestAnthropicClient_Decide(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("headers = %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"content": [
				{"type": "text", "text": "Student 1 was never contacted."},
				{"type": "tool_use", "id": "toolu_3", "name": "draft_message",
				 "input": {"student_id": "student_1", "tone": "friendly", "urgency": "low", "reasoning": "first contact"}}
			],
			"stop_reason": "tool_use"
		}`)
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(AnthropicOpts{APIKey: "sk-test", Model: "claude-test", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}
	dec, err := c.Decide(context.Background(), Request{
		System:       "be thoughtful",
		Tools:        tools.Specs(),
		Conversation: sampleConversation(),
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if got.Model != "claude-test" || got.System != "be thoughtful" || got.MaxTokens != 8000 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Tools) != len(tools.Names) || got.Tools[4].Name != "send_email" {
		t.Errorf("tools = %d", len(got.Tools))
	}
	var roles []string
	for _, m := range got.Messages {
		roles = append(roles, m.Role)
	}
	if diff := cmp.Diff([]string{"user", "assistant", "user"}, roles); diff != "" {
		t.Errorf("roles (-want +got):\n%s", diff)
	}
	assistant := got.Messages[1].Content
	if len(assistant) != 3 || assistant[1].Type != "tool_use" || assistant[1].ID != "toolu_1" {
		t.Errorf("assistant blocks = %+v", assistant)
	}
	results := got.Messages[2].Content
	if len(results) != 2 || results[1].ToolUseID != "toolu_2" || !results[1].IsError {
		t.Errorf("result blocks = %+v", results)
	}
	if !strings.Contains(results[1].Content, `"ledger_io"`) {
		t.Errorf("error content = %s", results[1].Content)
	}

	if dec.Text != "Student 1 was never contacted." || dec.StopReason != "tool_use" {
		t.Errorf("decision = %+v", dec)
	}
	if len(dec.Requests) != 1 || dec.Requests[0].ID != "toolu_3" || dec.Requests[0].Name != "draft_message" {
		t.Fatalf("requests = %+v", dec.Requests)
	}
	var args map[string]string
	if err := json.Unmarshal(dec.Requests[0].Args, &args); err != nil || args["tone"] != "friendly" {
		t.Errorf("args = %s", dec.Requests[0].Args)
	}
}

func TestAnthropicClient_HTTPErrors(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			io.WriteString(w, `{"type":"error","error":{"type":"x","message":"nope"}}`)
		}))
		c, _ := NewAnthropicClient(AnthropicOpts{APIKey: "k", Model: "m", BaseURL: srv.URL})
		_, err := c.Decide(context.Background(), Request{Conversation: &Conversation{}})
		srv.Close()

		var oe *Error
		if !errors.As(err, &oe) {
			t.Fatalf("status %d: err = %v, want *Error", tc.status, err)
		}
		if oe.Status != tc.status || oe.Retryable != tc.retryable || oe.Provider != "anthropic" {
			t.Errorf("status %d: %+v", tc.status, oe)
		}
	}
}

func TestAnthropicClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := NewAnthropicClient(AnthropicOpts{APIKey: "k", Model: "m", BaseURL: url})
	_, err := c.Decide(context.Background(), Request{Conversation: &Conversation{}})
	var oe *Error
	if !errors.As(err, &oe) || !oe.Retryable {
		t.Errorf("err = %v", err)
	}
}

func TestNewAnthropicClient_Validation(t *testing.T) {
	if _, err := NewAnthropicClient(AnthropicOpts{Model: "m"}); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := NewAnthropicClient(AnthropicOpts{APIKey: "k"}); err == nil {
		t.Error("expected error without model")
	}
}

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.resp, f.err
}

func TestGeminiClient_Decide(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
				{Text: "thinking out loud", Thought: true},
				{Text: "Deferring student 2."},
				{FunctionCall: &genai.FunctionCall{Name: "schedule_for_later", Args: map[string]any{
					"student_id": "student_2", "days_to_wait": float64(3), "reason": "contacted yesterday",
				}}},
			}},
		}},
	}}
	c, err := newGeminiClient(gen, GeminiOpts{Model: "gemini-test", MaxTokens: 1024})
	if err != nil {
		t.Fatal(err)
	}
	dec, err := c.Decide(context.Background(), Request{
		System:       "sys",
		Tools:        tools.Specs(),
		Conversation: sampleConversation(),
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if gen.model != "gemini-test" || gen.config.MaxOutputTokens != 1024 {
		t.Errorf("model = %s, config = %+v", gen.model, gen.config)
	}
	if gen.config.SystemInstruction == nil || gen.config.SystemInstruction.Parts[0].Text != "sys" {
		t.Error("system instruction not set")
	}
	decls := gen.config.Tools[0].FunctionDeclarations
	if len(decls) != len(tools.Names) || decls[3].Name != "draft_message" {
		t.Fatalf("declarations = %d", len(decls))
	}
	schema, ok := decls[3].ParametersJsonSchema.(map[string]any)
	if !ok || schema["type"] != "object" {
		t.Errorf("schema = %#v", decls[3].ParametersJsonSchema)
	}

	var roles []string
	for _, ct := range gen.contents {
		roles = append(roles, ct.Role)
	}
	if diff := cmp.Diff([]string{"user", "model", "user"}, roles); diff != "" {
		t.Errorf("roles (-want +got):\n%s", diff)
	}
	call := gen.contents[1].Parts[2].FunctionCall
	if call == nil || call.ID != "toolu_2" || call.Args["student_id"] != "student_1" {
		t.Errorf("function call = %+v", call)
	}
	resp := gen.contents[2].Parts[1].FunctionResponse
	if resp == nil || resp.Name != "check_communication_history" || resp.Response["error"] == nil {
		t.Errorf("function response = %+v", resp)
	}

	if dec.Text != "Deferring student 2." || dec.StopReason != string(genai.FinishReasonStop) {
		t.Errorf("decision = %+v", dec)
	}
	if len(dec.Requests) != 1 || !strings.HasPrefix(dec.Requests[0].ID, "call_") {
		t.Fatalf("requests = %+v", dec.Requests)
	}
	var args struct {
		DaysToWait int `json:"days_to_wait"`
	}
	if err := json.Unmarshal(dec.Requests[0].Args, &args); err != nil || args.DaysToWait != 3 {
		t.Errorf("args = %s", dec.Requests[0].Args)
	}
}

func TestGeminiClient_Errors(t *testing.T) {
	gen := &fakeGenerator{err: genai.APIError{Code: 429, Message: "quota"}}
	c, _ := newGeminiClient(gen, GeminiOpts{Model: "m"})
	_, err := c.Decide(context.Background(), Request{Conversation: &Conversation{}})
	var oe *Error
	if !errors.As(err, &oe) || oe.Status != 429 || !oe.Retryable {
		t.Errorf("err = %#v", err)
	}

	gen = &fakeGenerator{resp: &genai.GenerateContentResponse{}}
	c, _ = newGeminiClient(gen, GeminiOpts{Model: "m"})
	if _, err := c.Decide(context.Background(), Request{}); !errors.As(err, &oe) {
		t.Errorf("empty response err = %v", err)
	}
}

func TestScriptedOracle(t *testing.T) {
	s := NewScriptedOracle(
		Step{Decision: Decision{Requests: []tools.Invocation{{Name: "read_student_data"}}}},
		Step{Err: errors.New("rate limited")},
	)
	ctx := context.Background()
	conv := &Conversation{}
	conv.AddTask("go")

	dec, err := s.Decide(ctx, Request{Conversation: conv})
	if err != nil {
		t.Fatal(err)
	}
	if dec.StopReason != "tool_use" || dec.Requests[0].ID != "call_1_0" {
		t.Errorf("first = %+v", dec)
	}
	conv.AddDecision(dec)

	var oe *Error
	if _, err := s.Decide(ctx, Request{Conversation: conv}); !errors.As(err, &oe) || oe.Provider != "scripted" {
		t.Errorf("second err = %v", err)
	}
	dec, err = s.Decide(ctx, Request{Conversation: conv})
	if err != nil || len(dec.Requests) != 0 {
		t.Errorf("exhausted = %+v, %v", dec, err)
	}

	calls := s.Calls()
	if len(calls) != 3 || len(calls[0].Conversation.Turns) != 1 || len(calls[1].Conversation.Turns) != 2 {
		t.Errorf("calls not snapshotted: %d", len(calls))
	}
}

func TestScriptedOracle_RepeatLastAndCancel(t *testing.T) {
	s := NewScriptedOracle(Step{Decision: Decision{Requests: []tools.Invocation{{Name: "skip_student"}}}}).RepeatLast()
	for i := 0; i < 5; i++ {
		dec, err := s.Decide(context.Background(), Request{})
		if err != nil || len(dec.Requests) != 1 {
			t.Fatalf("call %d: %+v, %v", i, dec, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Decide(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled err = %v", err)
	}
}

func TestSystemPrompt(t *testing.T) {
	got, err := SystemPrompt(PromptData{
		Deadline:         "2026-03-15",
		FormURL:          "https://forms.example.com/p",
		Institute:        "IIIT Dharwad",
		MinIntervalHours: 48,
		Providers:        []string{"sendgrid", "smtp"},
		Simulate:         true,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Deadline: 2026-03-15",
		"Form URL: https://forms.example.com/p",
		"Institute: IIIT Dharwad",
		"less than 48 hours",
		"another provider (sendgrid, smtp)",
		"Mode: simulation",
		"skip_student",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(TaskPrompt(3, false), "Process the 3 students") || !strings.Contains(TaskPrompt(3, false), "DISABLED") {
		t.Error("TaskPrompt content")
	}
}

func TestNew(t *testing.T) {
	o, err := New(context.Background(), config.OracleConfig{Provider: "anthropic", APIKey: "k", Model: "m"}, nil)
	if err != nil || o.Name() != "anthropic" {
		t.Errorf("anthropic: %v, %v", o, err)
	}
	if _, err := New(context.Background(), config.OracleConfig{Provider: "script"}, nil); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
