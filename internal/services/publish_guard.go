package services

import "sync"

type GuardDecision int

const (
	// GuardAcquired means the caller now owns the only publish attempt for
	// this id and must later call Succeed or Fail.
	GuardAcquired GuardDecision = iota
	// GuardOngoing means another caller is publishing this id right now.
	GuardOngoing
	// GuardCompleted means this id already published successfully.
	GuardCompleted
)

// PublishGuard serializes publish attempts per run id: at most one in-flight
// attempt, and at most one success, per id. The in-memory implementation has
// process lifetime only; running multiple instances needs a shared claim
// store instead.
type PublishGuard interface {
	Begin(id string) GuardDecision
	Succeed(id string)
	Fail(id string)
	IsCompleted(id string) bool
	IsOngoing(id string) bool
}

type memoryPublishGuard struct {
	mu        sync.Mutex
	ongoing   map[string]struct{}
	completed map[string]struct{}
}

func NewMemoryPublishGuard() PublishGuard {
	return &memoryPublishGuard{
		ongoing:   map[string]struct{}{},
		completed: map[string]struct{}{},
	}
}

func (g *memoryPublishGuard) Begin(id string) GuardDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.completed[id]; ok {
		return GuardCompleted
	}
	if _, ok := g.ongoing[id]; ok {
		return GuardOngoing
	}
	g.ongoing[id] = struct{}{}
	return GuardAcquired
}

func (g *memoryPublishGuard) Succeed(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ongoing, id)
	g.completed[id] = struct{}{}
}

func (g *memoryPublishGuard) Fail(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ongoing, id)
}

func (g *memoryPublishGuard) IsCompleted(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.completed[id]
	return ok
}

func (g *memoryPublishGuard) IsOngoing(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.ongoing[id]
	return ok
}
