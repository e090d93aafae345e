// Package leader implements the single-writer discipline: a replica only
// appends and only produces side effects while it believes it holds the
// coordination lease, re-confirms holdership after every externally
// observable effect, and cools down for a full lease duration on loss.
//
// Split-brain is mitigated, detectable, and forensically analyzable - not
// absolutely prevented. The store-side conditional append remains the
// authoritative protection against two writers colliding on the same seq;
// the fencing token embedded in event meta exists so a post-mortem can
// attribute every event to a leadership epoch.
package leader

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the gate's position in its lifecycle.
type State string

const (
	// StateFollower: not the holder; appends and side effects refused.
	StateFollower State = "Follower"

	// StateLeader: the holder; appends and side effects permitted.
	StateLeader State = "Leader"

	// StateCoolingDown: holdership was lost; side effects stay suppressed
	// for one full lease duration to shrink the overlap window with the
	// successor.
	StateCoolingDown State = "CoolingDown"
)

// LeaseStatus is one observation of the coordination lease.
type LeaseStatus struct {
	// Holder is the identity currently recorded on the lease.
	Holder string

	// Epoch is the lease's monotonic version at observation time (the
	// coordination store's resource version).
	Epoch string
}

// Lease reads the coordination lease. Implementations: the kube lease in
// kube.go, fakes in tests.
type Lease interface {
	Status(ctx context.Context) (LeaseStatus, error)
}

// Timings parameterizes the election and the cooldown.
type Timings struct {
	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

// DefaultTimings mirror the platform's usual lease parameters.
var DefaultTimings = Timings{
	LeaseDuration: 15 * time.Second,
	RenewDeadline: 10 * time.Second,
	RetryPeriod:   2 * time.Second,
}

// Gate is the single-writer gate for one replica. The election machinery
// (kube.go or a test driver) feeds it acquisition and loss transitions;
// the write path consults it before and after every effect.
//
// Safe for concurrent use: the election callbacks arrive from the elector
// goroutine while the write path runs on the worker.
type Gate struct {
	identity string
	lease    Lease
	timings  Timings
	now      func() time.Time

	mu            sync.Mutex
	state         State
	epoch         string
	cooldownUntil time.Time
	transitions   []Transition
}

// Transition records one state change for diagnostics.
type Transition struct {
	From  State
	To    State
	Epoch string
}

// NewGate returns a follower gate for the given replica identity.
func NewGate(identity string, lease Lease, timings Timings) *Gate {
	if timings.LeaseDuration <= 0 {
		timings = DefaultTimings
	}
	return &Gate{
		identity: identity,
		lease:    lease,
		timings:  timings,
		now:      time.Now,
		state:    StateFollower,
	}
}

// Identity returns the replica identity the gate guards for.
func (g *Gate) Identity() string {
	return g.identity
}

// State returns the current gate state, resolving an expired cooldown to
// Follower first.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolveCooldownLocked()
	return g.state
}

// OnAcquired transitions to Leader. Called by the elector when the lease
// is acquired or renewed under a new epoch.
func (g *Gate) OnAcquired(epoch string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolveCooldownLocked()
	if g.state == StateCoolingDown {
		// Re-acquiring during cooldown does not shortcut it; the window
		// exists precisely because our last effects may still be landing.
		return
	}
	if g.state != StateLeader {
		g.recordLocked(StateLeader, epoch)
	}
	g.epoch = epoch
}

// OnLost transitions Leader -> CoolingDown. Called by the elector when the
// renewal fails or a takeover is detected. A follower observing a loss is
// a no-op.
func (g *Gate) OnLost() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateLeader {
		return
	}
	g.recordLocked(StateCoolingDown, g.epoch)
	g.cooldownUntil = g.now().Add(g.timings.LeaseDuration)
}

// PreCheck is the pre-action check: it returns the fencing token to embed
// in the event's meta if - and only if - this replica currently believes
// itself the holder.
func (g *Gate) PreCheck() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolveCooldownLocked()
	switch g.state {
	case StateLeader:
		return FencingToken(g.identity, g.epoch), nil
	case StateCoolingDown:
		return "", NewGateError(ErrCodeCoolingDown, g.identity,
			"side effects suppressed until cooldown expires")
	default:
		return "", NewGateError(ErrCodeNotLeader, g.identity, "replica is not the leader")
	}
}

// PostCheck is the post-action check: after any externally observable side
// effect it re-confirms holdership against the coordination store. On loss
// the gate enters cooldown and the caller learns the effect may have
// overlapped with a successor.
func (g *Gate) PostCheck(ctx context.Context) error {
	status, err := g.lease.Status(ctx)
	if err != nil {
		return NewGateError(ErrCodeLease, g.identity, "confirm holdership: %v", err)
	}
	if status.Holder == g.identity {
		g.mu.Lock()
		g.epoch = status.Epoch
		g.mu.Unlock()
		return nil
	}

	g.OnLost()
	return NewGateError(ErrCodeLost, g.identity,
		"holdership lost to %q after side effect", status.Holder)
}

// Transitions returns the recorded state changes, oldest first.
func (g *Gate) Transitions() []Transition {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Transition, len(g.transitions))
	copy(out, g.transitions)
	return out
}

func (g *Gate) resolveCooldownLocked() {
	if g.state == StateCoolingDown && !g.now().Before(g.cooldownUntil) {
		g.recordLocked(StateFollower, "")
	}
}

func (g *Gate) recordLocked(to State, epoch string) {
	g.transitions = append(g.transitions, Transition{From: g.state, To: to, Epoch: epoch})
	g.state = to
}

// FencingToken derives the forensic epoch marker from the holder identity
// and the lease's resource version. Monotonic because the coordination
// store's version is; forensic because nothing enforces it - the
// conditional append does the enforcing.
func FencingToken(identity, epoch string) string {
	return fmt.Sprintf("%s@%s", identity, epoch)
}
