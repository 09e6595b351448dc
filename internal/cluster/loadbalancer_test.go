package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthFilterDeterministic(t *testing.T) {
	lb := NewLoadBalancer(StrategyRoundRobin)
	lb.AddTarget("n1", "http://localhost:8001")
	lb.AddTarget("n2", "http://localhost:8002")
	lb.SetHealthy("n2", false)

	candidates := []string{"n1", "n2"}
	for i := 0; i < 4; i++ {
		assert.Equal(t, "n1", lb.SelectTarget(candidates))
	}

	// Once n2 recovers, round robin alternates over both.
	lb.SetHealthy("n2", true)
	got := []string{
		lb.SelectTarget(candidates),
		lb.SelectTarget(candidates),
		lb.SelectTarget(candidates),
		lb.SelectTarget(candidates),
	}
	assert.Equal(t, []string{"n1", "n2", "n1", "n2"}, got)
}

func TestRoundRobinPermutation(t *testing.T) {
	lb := NewLoadBalancer(StrategyRoundRobin)
	candidates := []string{"n1", "n2", "n3"}
	for _, id := range candidates {
		lb.AddTarget(id, "http://localhost/"+id)
	}

	// Any window of n successive selections is a permutation of the set.
	for window := 0; window < 3; window++ {
		seen := map[string]bool{}
		for i := 0; i < len(candidates); i++ {
			seen[lb.SelectTarget(candidates)] = true
		}
		assert.Len(t, seen, len(candidates))
	}
}

func TestNoHealthyCandidates(t *testing.T) {
	lb := NewLoadBalancer(StrategyRoundRobin)
	lb.AddTarget("n1", "e1")
	lb.SetHealthy("n1", false)
	assert.Empty(t, lb.SelectTarget([]string{"n1"}))
	assert.Empty(t, lb.SelectTarget(nil))
}

func TestLeastConnections(t *testing.T) {
	lb := NewLoadBalancer(StrategyLeastConnections)
	lb.AddTarget("n1", "e1")
	lb.AddTarget("n2", "e2")
	lb.SetConnections("n1", 5)
	lb.SetConnections("n2", 2)

	assert.Equal(t, "n2", lb.SelectTarget([]string{"n1", "n2"}))

	// Ties break by first-seen order.
	lb.SetConnections("n2", 5)
	assert.Equal(t, "n1", lb.SelectTarget([]string{"n1", "n2"}))
}

func TestLeastResponseTime(t *testing.T) {
	lb := NewLoadBalancer(StrategyLeastResponseTime)
	lb.AddTarget("fast", "e1")
	lb.AddTarget("slow", "e2")
	lb.RecordResponseTime("fast", 10*time.Millisecond)
	lb.RecordResponseTime("slow", 200*time.Millisecond)

	assert.Equal(t, "fast", lb.SelectTarget([]string{"slow", "fast"}))
}

func TestResponseTimeEMA(t *testing.T) {
	lb := NewLoadBalancer(StrategyLeastResponseTime)
	lb.AddTarget("n1", "e1")

	lb.RecordResponseTime("n1", 80*time.Millisecond)
	target, _ := lb.GetTarget("n1")
	assert.Equal(t, 80*time.Millisecond, target.AvgResponseTime)

	// New sample weighs 1/8: (80*7 + 160) / 8 = 90.
	lb.RecordResponseTime("n1", 160*time.Millisecond)
	target, _ = lb.GetTarget("n1")
	assert.Equal(t, 90*time.Millisecond, target.AvgResponseTime)
}

func TestWeightedRoundRobinRespectsWeights(t *testing.T) {
	lb := NewLoadBalancer(StrategyWeightedRoundRobin)
	lb.AddTarget("heavy", "e1")
	lb.AddTarget("zero", "e2")
	lb.SetWeight("heavy", 5)
	lb.SetWeight("zero", 0)

	for i := 0; i < 20; i++ {
		assert.Equal(t, "heavy", lb.SelectTarget([]string{"heavy", "zero"}))
	}
}

func TestConsistentHashStableForKey(t *testing.T) {
	lb := NewLoadBalancer(StrategyConsistentHash)
	candidates := []string{"n1", "n2", "n3"}
	for _, id := range candidates {
		lb.AddTarget(id, "http://localhost/"+id)
	}

	first := lb.SelectForKey(candidates, "tenant-42")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, lb.SelectForKey(candidates, "tenant-42"))
	}
}

func TestRandomPicksFromCandidates(t *testing.T) {
	lb := NewLoadBalancer(StrategyRandom)
	lb.AddTarget("n1", "e1")
	lb.AddTarget("n2", "e2")

	candidates := []string{"n1", "n2"}
	for i := 0; i < 20; i++ {
		selected := lb.SelectTarget(candidates)
		assert.Contains(t, candidates, selected)
	}
}

func TestTargetManagement(t *testing.T) {
	lb := NewLoadBalancer("")
	lb.AddTarget("n1", "e1")
	lb.AddTarget("n2", "e2")

	targets := lb.ListTargets()
	require.Len(t, targets, 2)
	assert.Equal(t, "n1", targets[0].ID)

	lb.RemoveTarget("n1")
	_, ok := lb.GetTarget("n1")
	assert.False(t, ok)
	assert.Len(t, lb.ListTargets(), 1)
}
