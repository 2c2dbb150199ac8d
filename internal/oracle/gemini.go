package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/nudge/internal/tools"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// generator is the part of the genai client the oracle uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient decides through the Gemini API with function calling.
type GeminiClient struct {
	models    generator
	model     string
	maxTokens int32
	logger    *zap.Logger
}

// GeminiOpts holds parameters for creating a GeminiClient.
type GeminiOpts struct {
	APIKey    string // required
	Model     string // required
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewGeminiClient creates a GeminiClient backed by the Gemini API.
func NewGeminiClient(ctx context.Context, opts GeminiOpts) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("oracle: gemini: api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		timeout := opts.Timeout
		cc.HTTPOptions.Timeout = &timeout
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("oracle: gemini: create client: %w", err)
	}
	return newGeminiClient(client.Models, opts)
}

func newGeminiClient(models generator, opts GeminiOpts) (*GeminiClient, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("oracle: gemini: model is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiClient{
		models:    models,
		model:     opts.Model,
		maxTokens: int32(opts.MaxTokens),
		logger:    logger.Named("gemini"),
	}, nil
}

// Name returns "gemini".
func (c *GeminiClient) Name() string { return "gemini" }

func geminiTools(specs []tools.Spec) ([]*genai.Tool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		var schema map[string]any
		if err := json.Unmarshal(s.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", s.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 string(s.Name),
			Description:          s.Description,
			ParametersJsonSchema: schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func jsonObject(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return out
}

// geminiContents maps the conversation onto user and model contents.
func geminiContents(conv *Conversation) []*genai.Content {
	var out []*genai.Content
	if conv == nil {
		return out
	}
	for _, t := range conv.Turns {
		switch t.Kind {
		case TurnTask:
			out = append(out, genai.NewContentFromText(t.Text, genai.RoleUser))
		case TurnDecision:
			var parts []*genai.Part
			if t.Text != "" {
				parts = append(parts, genai.NewPartFromText(t.Text))
			}
			for _, inv := range t.Requests {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   inv.ID,
					Name: inv.Name,
					Args: jsonObject(inv.Args),
				}})
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText("(no response)"))
			}
			out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
		case TurnResults:
			parts := make([]*genai.Part, 0, len(t.Results))
			for _, r := range t.Results {
				response := map[string]any{}
				if r.IsError() {
					response["error"] = map[string]any{"kind": r.Error.Kind, "message": r.Error.Message}
				} else {
					response["output"] = jsonObject(r.Output)
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       r.InvocationID,
					Name:     r.Name,
					Response: response,
				}})
			}
			out = append(out, genai.NewContentFromParts(parts, genai.RoleUser))
		}
	}
	return out
}

// Decide sends the conversation to GenerateContent.
func (c *GeminiClient) Decide(ctx context.Context, req Request) (dec *Decision, err error) {
	start := time.Now()
	defer func() { observe(c.Name(), start, err) }()

	toolDecls, err := geminiTools(req.Tools)
	if err != nil {
		return nil, &Error{Provider: c.Name(), Err: err}
	}
	cfg := &genai.GenerateContentConfig{Tools: toolDecls}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}

	resp, err := c.models.GenerateContent(ctx, c.model, geminiContents(req.Conversation), cfg)
	if err != nil {
		oe := &Error{Provider: c.Name(), Retryable: true, Err: err}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			oe.Status = apiErr.Code
			oe.Retryable = retryableStatus(apiErr.Code)
		}
		return nil, oe
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &Error{Provider: c.Name(), Err: fmt.Errorf("empty response")}
	}

	cand := resp.Candidates[0]
	dec = &Decision{StopReason: string(cand.FinishReason)}
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				return nil, &Error{Provider: c.Name(), Err: fmt.Errorf("encode function args: %w", err)}
			}
			if p.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			id := p.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			dec.Requests = append(dec.Requests, tools.Invocation{ID: id, Name: p.FunctionCall.Name, Args: args})
		case p.Text != "" && !p.Thought:
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(p.Text)
		}
	}
	dec.Text = strings.TrimSpace(text.String())
	c.logger.Debug("decision",
		zap.Int("requests", len(dec.Requests)),
		zap.String("stop_reason", dec.StopReason))
	return dec, nil
}
