package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/nudge/internal/compose"
	"github.com/zulandar/nudge/internal/ledger"
	"github.com/zulandar/nudge/internal/notify"
)

// Error kinds reported in tool results.
const (
	KindToolInput   = "tool_input"
	KindUnknownTool = "unknown_tool"
	KindTransport   = "transport"
	KindNoAddress   = "no_address"
	KindLedgerIO    = "ledger_io"
	KindComposition = "composition"
	KindRateLimited = "rate_limited"
	KindNotFound    = "not_found"
	KindAborted     = "aborted"
	KindInternal    = "internal"
)

var (
	// ErrUnknownTool is returned by ParseName for names outside the set.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrNotFound is returned when an invocation references a student that
	// is not part of the loaded batch.
	ErrNotFound = errors.New("tools: student not found")

	// ErrRateLimited is returned by send_email when the send guard is on and
	// the student was contacted within the minimum interval.
	ErrRateLimited = errors.New("tools: contacted within minimum interval")
)

// InputError reports malformed arguments from the oracle.
type InputError struct {
	Tool  Name
	Field string
	Msg   string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("tools: %s: %s", e.Tool, e.Msg)
	}
	return fmt.Sprintf("tools: %s: %s: %s", e.Tool, e.Field, e.Msg)
}

// ErrorPayload is the error half of a tool result.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Kind classifies err into one of the reported error kinds.
func Kind(err error) string {
	var (
		inErr   *InputError
		trErr   *notify.TransportError
		ioErr   *ledger.IOError
		compErr *compose.CompositionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &inErr):
		return KindToolInput
	case errors.Is(err, ErrUnknownTool):
		return KindUnknownTool
	case errors.Is(err, notify.ErrNoAddress):
		return KindNoAddress
	case errors.As(err, &trErr), errors.Is(err, notify.ErrNoProvider), errors.Is(err, notify.ErrUnknownProvider):
		return KindTransport
	case errors.As(err, &ioErr):
		return KindLedgerIO
	case errors.As(err, &compErr):
		return KindComposition
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled):
		return KindAborted
	default:
		return KindInternal
	}
}
