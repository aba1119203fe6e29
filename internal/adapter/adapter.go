// Package adapter bridges external chat platforms to the common message and
// send contract consumed by the orchestrator.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xaenox/liveagent/internal/models"
)

// ErrSendUnsupported marks a platform with no outbound-send capability. The
// rejection is permanent and consumes no quota.
var ErrSendUnsupported = errors.New("adapter: outbound send not supported on this platform")

// Cost describes what one outbound send costs in the platform's own quota
// unit (YouTube insert = 50 units, Twitch whisper = 1 of 40/day).
type Cost struct {
	Units int
}

// Stream carries inbound chat messages for one session. Messages closes
// when the session stops or the adapter gives up after exhausting retries;
// in the latter case Errs (buffered, one-shot) carries the terminal reason.
type Stream struct {
	Messages <-chan models.ChatMessage
	Errs     <-chan error
}

// Adapter is the per-platform chat I/O contract. One instance serves one
// session: Listen establishes the connection or performs the first poll
// synchronously, then feeds the stream until the context is canceled or
// Stop is called.
type Adapter interface {
	Platform() models.Platform
	Listen(ctx context.Context, cfg models.SessionConfig) (*Stream, error)
	Send(ctx context.Context, cfg models.SessionConfig, target, text string) error
	SendCost() Cost
	Stop()
}

// Factory builds a fresh Adapter for one session.
type Factory func() Adapter

// Registry maps platforms to adapter factories. Session start picks the
// factory by platform instead of switching inline.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.Platform]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.Platform]Factory)}
}

// Register installs the factory for a platform, replacing any previous one.
func (r *Registry) Register(platform models.Platform, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = f
}

// New builds an adapter for the platform or fails if none is registered.
func (r *Registry) New(platform models.Platform) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %s", platform)
	}
	return f(), nil
}
