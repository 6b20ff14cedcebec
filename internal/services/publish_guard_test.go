package services

import (
	"sync"
	"testing"
)

func TestPublishGuardLifecycle(t *testing.T) {
	g := NewMemoryPublishGuard()

	if got := g.Begin("run-1"); got != GuardAcquired {
		t.Fatalf("first begin: want=%v got=%v", GuardAcquired, got)
	}
	if got := g.Begin("run-1"); got != GuardOngoing {
		t.Fatalf("begin while ongoing: want=%v got=%v", GuardOngoing, got)
	}

	g.Fail("run-1")
	if g.IsOngoing("run-1") {
		t.Fatalf("failed attempt must leave ongoing set")
	}
	if got := g.Begin("run-1"); got != GuardAcquired {
		t.Fatalf("begin after failure: want=%v got=%v", GuardAcquired, got)
	}

	g.Succeed("run-1")
	if g.IsOngoing("run-1") {
		t.Fatalf("success must leave ongoing set")
	}
	if !g.IsCompleted("run-1") {
		t.Fatalf("success must enter completed set")
	}
	if got := g.Begin("run-1"); got != GuardCompleted {
		t.Fatalf("begin after success: want=%v got=%v", GuardCompleted, got)
	}
}

func TestPublishGuardConcurrentBegin(t *testing.T) {
	g := NewMemoryPublishGuard()

	const callers = 32
	var wg sync.WaitGroup
	decisions := make([]GuardDecision, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i] = g.Begin("run-9")
		}(i)
	}
	wg.Wait()

	acquired := 0
	for _, d := range decisions {
		switch d {
		case GuardAcquired:
			acquired++
		case GuardOngoing:
		default:
			t.Fatalf("unexpected decision %v", d)
		}
	}
	if acquired != 1 {
		t.Fatalf("acquired count: want=1 got=%d", acquired)
	}
}

func TestPublishGuardIndependentIDs(t *testing.T) {
	g := NewMemoryPublishGuard()
	if got := g.Begin("a"); got != GuardAcquired {
		t.Fatalf("begin a: want=%v got=%v", GuardAcquired, got)
	}
	if got := g.Begin("b"); got != GuardAcquired {
		t.Fatalf("begin b: want=%v got=%v", GuardAcquired, got)
	}
}
