package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Damil001/pinata-image-api-sub000/internal/logging"
	"github.com/Damil001/pinata-image-api-sub000/internal/media"
)

// Status is the observable state of a content resolution.
type Status string

const (
	// StatusIdle means no hash is set; nothing is in flight.
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusFailed  Status = "failed"
)

// State is a snapshot of a loader.
type State struct {
	Status Status `json:"status"`
	URL    string `json:"url,omitempty"`
}

// Loader tracks the resolution state for one target hash. State always
// keys off the current target: if the target changes while a probe is
// in flight, the stale probe's result is discarded on arrival.
type Loader struct {
	resolver *Resolver

	mu    sync.Mutex
	hash  string
	kind  media.Kind
	gen   uint64 // bumped on every target change and retry
	state State

	// resolve is swapped out in tests.
	resolve func(ctx context.Context, hash string, kind media.Kind) (string, error)
}

// NewLoader creates a loader backed by the given resolver.
func NewLoader(r *Resolver) *Loader {
	l := &Loader{resolver: r, state: State{Status: StatusIdle}}
	l.resolve = r.Resolve
	return l
}

// Set switches the loader to a new target and starts resolving it.
// An empty hash parks the loader in the idle state without any network
// activity. A precomputed thumbnail URL (generated server-side for
// PDFs) short-circuits probing entirely.
func (l *Loader) Set(ctx context.Context, hash string, kind media.Kind, thumbnailURL string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.hash = hash
	l.kind = kind
	l.gen++

	if hash == "" {
		l.state = State{Status: StatusIdle}
		return
	}
	if thumbnailURL != "" {
		l.state = State{Status: StatusLoaded, URL: thumbnailURL}
		return
	}

	l.state = State{Status: StatusLoading}
	go l.run(ctx, l.gen, hash, kind)
}

// Retry re-enters loading from the failed state, starting over at the
// first gateway. It is a no-op in any other state.
func (l *Loader) Retry(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Status != StatusFailed || l.hash == "" {
		return
	}

	l.gen++
	l.state = State{Status: StatusLoading}
	go l.run(ctx, l.gen, l.hash, l.kind)
}

// State returns the current snapshot.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loader) run(ctx context.Context, gen uint64, hash string, kind media.Kind) {
	url, err := l.resolve(ctx, hash, kind)

	l.mu.Lock()
	defer l.mu.Unlock()

	// A newer target or retry superseded this probe; drop the result.
	if gen != l.gen {
		return
	}

	if err != nil {
		logging.Warn("gateway resolution failed",
			zap.String("hash", hash),
			zap.Error(err))
		l.state = State{Status: StatusFailed}
		return
	}
	l.state = State{Status: StatusLoaded, URL: url}
}
