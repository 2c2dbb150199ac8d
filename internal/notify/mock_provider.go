package notify

import (
	"context"
	"sync"
	"time"
)

// MockProvider implements Provider for testing. It records delivered
// envelopes and can be told to fail or to stall.
type MockProvider struct {
	mu         sync.Mutex
	name       string
	configured bool
	err        error
	delay      time.Duration
	ignoreCtx  bool
	sent       []Envelope
}

// NewMockProvider creates a configured MockProvider with the given name.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name, configured: true}
}

// Name returns the provider name.
func (m *MockProvider) Name() string { return m.name }

// Configured reports the configured flag.
func (m *MockProvider) Configured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configured
}

// SetConfigured sets whether the provider reports complete credentials.
func (m *MockProvider) SetConfigured(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configured = ok
}

// FailWith makes subsequent sends return err (nil restores success).
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Stall delays each send by d. When ignoreCtx is set the delay is not cut
// short by context cancellation.
func (m *MockProvider) Stall(d time.Duration, ignoreCtx bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	m.ignoreCtx = ignoreCtx
}

// Send records env after the configured delay.
func (m *MockProvider) Send(ctx context.Context, env Envelope) error {
	m.mu.Lock()
	delay, ignore, err := m.delay, m.ignoreCtx, m.err
	m.mu.Unlock()

	if delay > 0 {
		if ignore {
			time.Sleep(delay)
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, env)
	return nil
}

// Sent returns a copy of the delivered envelopes.
func (m *MockProvider) Sent() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.sent))
	copy(out, m.sent)
	return out
}
