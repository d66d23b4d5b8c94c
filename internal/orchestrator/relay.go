package orchestrator

import (
	"context"
	"sync"

	"github.com/nerrad567/vendorsync/internal/pushchannel"
)

// ChannelStatePublisher publishes push channel state.
type ChannelStatePublisher interface {
	PublishChannelState(s pushchannel.State) error
}

// StateRelay moves push channel state from the manager loops to the bus on
// its own goroutine.
//
// Offer never blocks. Only the newest state per server is kept: when one is
// already waiting to be sent, a newer state replaces it. The retained status
// topic therefore always ends on the last phase seen.
type StateRelay struct {
	pub    ChannelStatePublisher
	logger Logger

	mu      sync.Mutex
	pending map[string]pushchannel.State
	order   []string
	wake    chan struct{}
}

// NewStateRelay builds a relay over pub. Call Run to start sending.
func NewStateRelay(pub ChannelStatePublisher, logger Logger) *StateRelay {
	return &StateRelay{
		pub:     pub,
		logger:  logger,
		pending: make(map[string]pushchannel.State),
		wake:    make(chan struct{}, 1),
	}
}

// Offer queues s for publishing and returns immediately. It is safe to call
// from a pushchannel.PhaseFunc.
func (r *StateRelay) Offer(s pushchannel.State) {
	r.mu.Lock()
	if _, queued := r.pending[s.Server]; !queued {
		r.order = append(r.order, s.Server)
	}
	r.pending[s.Server] = s
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run publishes offered states until ctx is cancelled. States still pending
// at that point are sent before it returns.
func (r *StateRelay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case <-r.wake:
			r.flush()
		}
	}
}

func (r *StateRelay) flush() {
	for _, s := range r.take() {
		if err := r.pub.PublishChannelState(s); err != nil && r.logger != nil {
			r.logger.Warn("publishing push channel state failed",
				"server", s.Server, "phase", s.Phase, "error", err)
		}
	}
}

func (r *StateRelay) take() []pushchannel.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pushchannel.State, 0, len(r.order))
	for _, server := range r.order {
		out = append(out, r.pending[server])
		delete(r.pending, server)
	}
	r.order = r.order[:0]
	return out
}
