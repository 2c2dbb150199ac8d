package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/nudge/internal/tools"
)

// Step is one scripted oracle turn. A non-nil Err makes Decide fail.
type Step struct {
	Decision Decision
	Err      error
}

// ScriptedOracle replays a fixed script of decisions. Once the script is
// exhausted it returns a final decision with no requests, unless
// RepeatLast is set.
type ScriptedOracle struct {
	mu         sync.Mutex
	steps      []Step
	next       int
	repeatLast bool
	calls      []Request
}

// NewScriptedOracle creates a ScriptedOracle from steps.
func NewScriptedOracle(steps ...Step) *ScriptedOracle {
	return &ScriptedOracle{steps: steps}
}

// RepeatLast makes the last step repeat forever.
func (s *ScriptedOracle) RepeatLast() *ScriptedOracle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeatLast = true
	return s
}

// Name returns "scripted".
func (s *ScriptedOracle) Name() string { return "scripted" }

// Decide returns the next scripted step.
func (s *ScriptedOracle) Decide(ctx context.Context, req Request) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Provider: s.Name(), Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := req
	if req.Conversation != nil {
		conv := Conversation{Turns: append([]Turn(nil), req.Conversation.Turns...)}
		snapshot.Conversation = &conv
	}
	s.calls = append(s.calls, snapshot)
	call := len(s.calls)

	var step Step
	switch {
	case s.next < len(s.steps):
		step = s.steps[s.next]
		s.next++
	case s.repeatLast && len(s.steps) > 0:
		step = s.steps[len(s.steps)-1]
	default:
		return &Decision{Text: "Script complete.", StopReason: "end_turn"}, nil
	}
	if step.Err != nil {
		return nil, &Error{Provider: s.Name(), Err: step.Err}
	}

	dec := step.Decision
	dec.Requests = make([]tools.Invocation, len(step.Decision.Requests))
	for i, inv := range step.Decision.Requests {
		if inv.ID == "" {
			inv.ID = fmt.Sprintf("call_%d_%d", call, i)
		}
		dec.Requests[i] = inv
	}
	if dec.StopReason == "" {
		dec.StopReason = "end_turn"
		if len(dec.Requests) > 0 {
			dec.StopReason = "tool_use"
		}
	}
	return &dec, nil
}

// Calls returns the requests Decide has received.
func (s *ScriptedOracle) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}
