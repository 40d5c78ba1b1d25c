// Package static is an in-memory connector for development and tests. Every
// accepted mutation is recorded so callers can assert on exactly what would
// have been pushed to a real platform.
package static

import (
	"context"
	"sync"

	"github.com/smallbiznis/repricer/internal/connector/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Platform() string {
	return "static"
}

func (f *Factory) NewConnector(cfg domain.ConnectorConfig) (domain.Connector, error) {
	return NewConnector(), nil
}

type Call struct {
	ExternalRef    string
	Currency       string
	Amount         int64
	CompareAt      *int64
	IdempotencyKey string
}

type Connector struct {
	mu       sync.Mutex
	calls    []Call
	failRefs map[string]error
}

func NewConnector() *Connector {
	return &Connector{failRefs: map[string]error{}}
}

func (c *Connector) TestConnection(ctx context.Context) error {
	return nil
}

func (c *Connector) UpdatePrice(ctx context.Context, req domain.UpdatePriceRequest) (*domain.UpdatePriceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failRefs[req.ExternalRef]; ok {
		return nil, err
	}

	c.calls = append(c.calls, Call{
		ExternalRef:    req.ExternalRef,
		Currency:       req.Currency,
		Amount:         req.Amount,
		CompareAt:      req.CompareAt,
		IdempotencyKey: req.IdempotencyKey,
	})
	return &domain.UpdatePriceResult{
		ExternalRef: req.ExternalRef,
		Amount:      req.Amount,
		CompareAt:   req.CompareAt,
	}, nil
}

// FailRef makes every mutation for ref return err.
func (c *Connector) FailRef(ref string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failRefs[ref] = err
}

// Calls returns a copy of the recorded mutations.
func (c *Connector) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallsFor counts recorded mutations for ref.
func (c *Connector) CallsFor(ref string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, call := range c.calls {
		if call.ExternalRef == ref {
			count++
		}
	}
	return count
}
