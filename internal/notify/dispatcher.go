package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/nudge/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single provider send.
const DefaultTimeout = 30 * time.Second

// Ledger is the part of the communication ledger the dispatcher writes to.
type Ledger interface {
	Append(ctx context.Context, ev models.ContactEvent) (models.ContactEvent, error)
}

// Request asks for one message to be delivered.
type Request struct {
	RecipientID string
	To          string
	Subject     string
	PlainBody   string
	HTMLBody    string
	Simulate    bool
	// Provider optionally selects a specific configured provider instead of
	// the primary. The dispatcher never falls back on its own.
	Provider string
}

// Result describes the outcome of Dispatch.
type Result struct {
	Delivered bool                 `json:"delivered"`
	Status    string               `json:"status"`
	Provider  string               `json:"provider,omitempty"`
	Detail    string               `json:"detail"`
	Event     *models.ContactEvent `json:"event,omitempty"`
}

// Dispatcher sends requests through the first configured provider.
type Dispatcher struct {
	providers []Provider
	ledger    Ledger
	timeout   time.Duration
	limiter   *rate.Limiter
	from      string
	fromName  string
	logger    *zap.Logger
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Providers     []Provider // preference order
	Ledger        Ledger     // required
	Timeout       time.Duration
	RatePerMinute int // 0 disables throttling
	FromAddress   string
	FromName      string
	Logger        *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("notify: dispatcher: ledger is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var limiter *rate.Limiter
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60.0), max(1, opts.RatePerMinute/10))
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		providers: opts.Providers,
		ledger:    opts.Ledger,
		timeout:   timeout,
		limiter:   limiter,
		from:      opts.FromAddress,
		fromName:  opts.FromName,
		logger:    logger.Named("dispatcher"),
	}, nil
}

// Primary returns the first configured provider, or nil.
func (d *Dispatcher) Primary() Provider {
	for _, p := range d.providers {
		if p.Configured() {
			return p
		}
	}
	return nil
}

// Configured returns the names of providers with complete credentials, in
// preference order.
func (d *Dispatcher) Configured() []string {
	var names []string
	for _, p := range d.providers {
		if p.Configured() {
			names = append(names, p.Name())
		}
	}
	return names
}

func (d *Dispatcher) selectProvider(name string) (Provider, error) {
	if name == "" {
		if p := d.Primary(); p != nil {
			return p, nil
		}
		return nil, ErrNoProvider
	}
	for _, p := range d.providers {
		if p.Name() == name && p.Configured() {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Dispatch delivers req or, when req.Simulate is set, reports what would have
// been sent. Only successful live deliveries are written to the ledger, and
// the write happens before Dispatch returns. If the delivery succeeds but the
// ledger write fails, the result still reports the delivery and the ledger
// error is returned alongside it.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	to := strings.TrimSpace(req.To)
	if to == "" {
		return Result{Status: models.StatusFailed, Detail: "No email address provided"}, ErrNoAddress
	}

	if req.Simulate {
		dispatchTotal.WithLabelValues("none", models.StatusSimulated).Inc()
		return Result{
			Status: models.StatusSimulated,
			Detail: fmt.Sprintf("[DRY RUN] Would send email to %s", to),
		}, nil
	}

	p, err := d.selectProvider(req.Provider)
	if err != nil {
		return Result{Status: models.StatusFailed, Detail: err.Error()}, err
	}
	name := p.Name()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			terr := &TransportError{Provider: name, Err: fmt.Errorf("throttle: %w", err)}
			dispatchTotal.WithLabelValues(name, models.StatusFailed).Inc()
			return Result{Status: models.StatusFailed, Provider: name, Detail: terr.Error()}, terr
		}
	}

	env := Envelope{
		FromAddress: d.from,
		FromName:    d.fromName,
		To:          to,
		Subject:     req.Subject,
		HTMLBody:    req.HTMLBody,
		PlainBody:   req.PlainBody,
	}

	start := time.Now()
	err = d.send(ctx, p, env)
	dispatchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		dispatchTotal.WithLabelValues(name, models.StatusFailed).Inc()
		d.logger.Warn("delivery failed",
			zap.String("provider", name),
			zap.String("recipient", req.RecipientID),
			zap.Error(err))
		return Result{Status: models.StatusFailed, Provider: name, Detail: err.Error()}, err
	}
	dispatchTotal.WithLabelValues(name, models.StatusSent).Inc()

	res := Result{
		Delivered: true,
		Status:    models.StatusSent,
		Provider:  name,
		Detail:    fmt.Sprintf("Email sent successfully to %s", to),
	}

	// The message is out; record it even if the caller has given up.
	ev, lerr := d.ledger.Append(context.WithoutCancel(ctx), models.ContactEvent{
		RecipientID: req.RecipientID,
		Subject:     req.Subject,
		Status:      models.StatusSent,
		Address:     to,
		Provider:    name,
	})
	if lerr != nil {
		d.logger.Error("delivered but ledger write failed",
			zap.String("recipient", req.RecipientID), zap.Error(lerr))
		return res, lerr
	}
	res.Event = &ev
	d.logger.Info("delivered",
		zap.String("provider", name),
		zap.String("recipient", req.RecipientID))
	return res, nil
}

// send runs p.Send bounded by the dispatcher timeout. A provider that ignores
// ctx is abandoned when the deadline passes; its goroutine exits when the
// call eventually returns.
func (d *Dispatcher) send(ctx context.Context, p Provider, env Envelope) error {
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Send(sctx, env) }()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded)
		return &TransportError{Provider: p.Name(), Timeout: timeout, Err: err}
	case <-sctx.Done():
		return &TransportError{
			Provider: p.Name(),
			Timeout:  errors.Is(sctx.Err(), context.DeadlineExceeded),
			Err:      sctx.Err(),
		}
	}
}
