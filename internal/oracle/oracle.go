// Package oracle connects the orchestration loop to the external service
// that decides which tools to run.
package oracle

import (
	"context"
	"fmt"

	"github.com/zulandar/nudge/internal/tools"
)

// Oracle decides the next step of a run from the conversation so far.
type Oracle interface {
	// Name identifies the backend ("anthropic", "gemini", "scripted").
	Name() string

	// Decide returns the oracle's next turn. Failures are *Error.
	Decide(ctx context.Context, req Request) (*Decision, error)
}

// Request is everything the oracle sees for one decision.
type Request struct {
	System       string
	Tools        []tools.Spec
	Conversation *Conversation
}

// Decision is one oracle turn: optional free text plus zero or more tool
// invocations, in the order they should run.
type Decision struct {
	Text       string             `json:"text"`
	Requests   []tools.Invocation `json:"requests"`
	StopReason string             `json:"stop_reason"`
}

// TurnKind tags a conversation turn.
type TurnKind string

const (
	TurnTask     TurnKind = "task"
	TurnDecision TurnKind = "decision"
	TurnResults  TurnKind = "results"
)

// Turn is one entry in the conversation.
type Turn struct {
	Kind     TurnKind           `json:"kind"`
	Text     string             `json:"text,omitempty"`
	Requests []tools.Invocation `json:"requests,omitempty"`
	Results  []tools.Result     `json:"results,omitempty"`
}

// Conversation is the ordered state of one run. It is owned by a single
// loop and is not safe for concurrent use.
type Conversation struct {
	Turns []Turn `json:"turns"`
}

// AddTask appends the task description.
func (c *Conversation) AddTask(text string) {
	c.Turns = append(c.Turns, Turn{Kind: TurnTask, Text: text})
}

// AddDecision appends an oracle turn.
func (c *Conversation) AddDecision(d *Decision) {
	c.Turns = append(c.Turns, Turn{Kind: TurnDecision, Text: d.Text, Requests: d.Requests})
}

// AddResults appends the results of the previous decision's invocations.
func (c *Conversation) AddResults(results []tools.Result) {
	c.Turns = append(c.Turns, Turn{Kind: TurnResults, Results: results})
}

// Error reports a failed oracle call. Retryable marks rate limiting and
// server errors; the loop does not retry, it only reports the flag.
type Error struct {
	Provider  string
	Status    int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("oracle: %s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("oracle: %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}
