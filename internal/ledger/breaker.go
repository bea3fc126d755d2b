package ledger

import (
	"context"

	"github.com/jwalitptl/rx-ledger/pkg/circuitbreaker"
)

// BreakerAnchorer guards an Anchorer with a circuit breaker so a failing
// ledger is not hammered by retries.
type BreakerAnchorer struct {
	next Anchorer
	cb   *circuitbreaker.CircuitBreaker
}

func NewBreakerAnchorer(next Anchorer, settings circuitbreaker.Settings) *BreakerAnchorer {
	if settings.Name == "" {
		settings.Name = "ledger"
	}
	return &BreakerAnchorer{next: next, cb: circuitbreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerAnchorer) Anchor(ctx context.Context, payloadHash string) (Receipt, error) {
	var r Receipt
	err := b.cb.Execute(func() error {
		var err error
		r, err = b.next.Anchor(ctx, payloadHash)
		return err
	})
	return r, err
}

// Lookup is read-only and bypasses the breaker.
func (b *BreakerAnchorer) Lookup(ctx context.Context, payloadHash string) (Receipt, bool, error) {
	return b.next.Lookup(ctx, payloadHash)
}

func (b *BreakerAnchorer) State() circuitbreaker.State {
	return b.cb.State()
}
