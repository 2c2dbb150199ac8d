package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/nudge/internal/tools"
	"go.uber.org/zap"
)

const (
	// DefaultAnthropicURL is the Messages API base URL.
	DefaultAnthropicURL = "https://api.anthropic.com/v1"
	anthropicVersion    = "2023-06-01"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	logger     *zap.Logger
}

// AnthropicOpts holds parameters for creating an AnthropicClient.
type AnthropicOpts struct {
	APIKey     string // required
	Model      string // required
	BaseURL    string
	MaxTokens  int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewAnthropicClient creates an AnthropicClient.
func NewAnthropicClient(opts AnthropicOpts) (*AnthropicClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("oracle: anthropic: api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("oracle: anthropic: model is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAnthropicURL
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicClient{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		httpClient: hc,
		logger:     logger.Named("anthropic"),
	}, nil
}

// Name returns "anthropic".
func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// anthropicMessages maps the conversation onto alternating user and
// assistant messages.
func anthropicMessages(conv *Conversation) []anthropicMessage {
	var out []anthropicMessage
	if conv == nil {
		return out
	}
	for _, t := range conv.Turns {
		switch t.Kind {
		case TurnTask:
			out = append(out, anthropicMessage{Role: "user", Content: []anthropicBlock{{Type: "text", Text: t.Text}}})
		case TurnDecision:
			var blocks []anthropicBlock
			if t.Text != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: t.Text})
			}
			for _, inv := range t.Requests {
				input := inv.Args
				if len(bytes.TrimSpace(input)) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: inv.ID, Name: inv.Name, Input: input})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: "(no response)"})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
		case TurnResults:
			blocks := make([]anthropicBlock, 0, len(t.Results))
			for _, r := range t.Results {
				blocks = append(blocks, anthropicBlock{
					Type:      "tool_result",
					ToolUseID: r.InvocationID,
					Content:   r.Content(),
					IsError:   r.IsError(),
				})
			}
			out = append(out, anthropicMessage{Role: "user", Content: blocks})
		}
	}
	return out
}

// Decide sends the conversation to the Messages API.
func (c *AnthropicClient) Decide(ctx context.Context, req Request) (dec *Decision, err error) {
	start := time.Now()
	defer func() { observe(c.Name(), start, err) }()

	body := anthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    req.System,
		Messages:  anthropicMessages(req.Conversation),
	}
	for _, s := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        string(s.Name),
			Description: s.Description,
			InputSchema: s.InputSchema,
		})
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Provider: c.Name(), Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Provider: c.Name(), Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Provider: c.Name(), Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: c.Name(), Status: resp.StatusCode, Retryable: true, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("messages api error", zap.Int("status", resp.StatusCode), zap.ByteString("body", truncate(raw, 512)))
		return nil, &Error{
			Provider:  c.Name(),
			Status:    resp.StatusCode,
			Retryable: retryableStatus(resp.StatusCode),
			Err:       fmt.Errorf("%s", truncate(raw, 512)),
		}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Provider: c.Name(), Status: resp.StatusCode, Err: fmt.Errorf("parse response: %w", err)}
	}
	if parsed.Error != nil {
		return nil, &Error{Provider: c.Name(), Status: resp.StatusCode, Err: fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message)}
	}

	dec = &Decision{StopReason: parsed.StopReason}
	var text strings.Builder
	for _, b := range parsed.Content {
		switch b.Type {
		case "text":
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(b.Text)
		case "tool_use":
			dec.Requests = append(dec.Requests, tools.Invocation{ID: b.ID, Name: b.Name, Args: b.Input})
		}
	}
	dec.Text = strings.TrimSpace(text.String())
	c.logger.Debug("decision",
		zap.Int("requests", len(dec.Requests)),
		zap.String("stop_reason", dec.StopReason))
	return dec, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
