package memory

import (
	"context"
	"sync"

	"github.com/promptfun/launchpad/internal/domain"
)

// SignalBus is an in-process domain.SignalBus. Published payloads are
// delivered to all current subscribers of the channel; slow subscribers drop
// messages rather than blocking the publisher.
type SignalBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewSignalBus creates an empty in-process signal bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string][]chan []byte)}
}

// Publish delivers payload to all subscribers of channel.
func (sb *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for _, ch := range sb.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads for the given channel name. The
// subscription is removed and the channel closed when the context is
// cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	sb.mu.Lock()
	sb.subs[channel] = append(sb.subs[channel], ch)
	sb.mu.Unlock()

	go func() {
		<-ctx.Done()

		sb.mu.Lock()
		subs := sb.subs[channel]
		for i, c := range subs {
			if c == ch {
				sb.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		sb.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
