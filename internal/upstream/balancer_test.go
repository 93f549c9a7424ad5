package upstream

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTargets(weights ...int) []*Target {
	targets := make([]*Target, len(weights))
	for i, w := range weights {
		targets[i] = NewTarget("10.0.0."+fmt.Sprint(i+1), 8080, w)
	}
	return targets
}

func TestRoundRobinExactDistribution(t *testing.T) {
	targets := makeTargets(1, 1, 1)
	b := NewBalancer("round-robin")

	counts := make(map[*Target]int)
	const rounds = 5
	for i := 0; i < rounds*len(targets); i++ {
		picked, err := b.Pick(targets, "")
		require.NoError(t, err)
		counts[picked]++
	}

	for _, target := range targets {
		assert.Equal(t, rounds, counts[target], "target %s", target.Addr())
	}
}

func TestRoundRobinOrder(t *testing.T) {
	targets := makeTargets(1, 1)
	b := NewBalancer("round-robin")

	var order []*Target
	for i := 0; i < 6; i++ {
		picked, err := b.Pick(targets, "")
		require.NoError(t, err)
		order = append(order, picked)
	}

	expected := []*Target{targets[0], targets[1], targets[0], targets[1], targets[0], targets[1]}
	assert.Equal(t, expected, order)
}

func TestIPHashStable(t *testing.T) {
	targets := makeTargets(1, 1, 1)
	b := NewBalancer("ip-hash")

	first, err := b.Pick(targets, "203.0.113.7")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		picked, err := b.Pick(targets, "203.0.113.7")
		require.NoError(t, err)
		assert.Same(t, first, picked)
	}

	// A fresh balancer over the same ordered list picks the same target.
	b2 := NewBalancer("ip-hash")
	again, err := b2.Pick(targets, "203.0.113.7")
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestLeastConnections(t *testing.T) {
	targets := makeTargets(1, 1, 1)
	b := NewBalancer("least-connections")

	targets[0].acquire()
	targets[0].acquire()
	targets[1].acquire()

	picked, err := b.Pick(targets, "")
	require.NoError(t, err)
	assert.Same(t, targets[2], picked)

	// Loads are now 2, 1, 2: the single least-loaded target is picked.
	targets[2].acquire()
	targets[2].acquire()
	picked, err = b.Pick(targets, "")
	require.NoError(t, err)
	assert.Same(t, targets[1], picked)
}

func TestWeightedDistribution(t *testing.T) {
	targets := makeTargets(1, 2, 3)
	b := NewBalancer("weighted")

	counts := make(map[*Target]int)
	const total = 10000
	for i := 0; i < total; i++ {
		picked, err := b.Pick(targets, "")
		require.NoError(t, err)
		counts[picked]++
	}

	weightSum := 6.0
	for _, target := range targets {
		expected := float64(target.Weight) / weightSum
		actual := float64(counts[target]) / total
		assert.InDelta(t, expected, actual, 0.02, "target %s", target.Addr())
	}
}

func TestWeightedExcludesZeroWeight(t *testing.T) {
	targets := makeTargets(0, 1)
	b := NewBalancer("weighted")

	for i := 0; i < 20; i++ {
		picked, err := b.Pick(targets, "")
		require.NoError(t, err)
		assert.Same(t, targets[1], picked)
	}
}

func TestWeightedSmoothness(t *testing.T) {
	// Smooth weighted round-robin must not burst the heavy target: with
	// weights 1,1,2 no target repeats more than twice in a row.
	targets := makeTargets(1, 1, 2)
	b := NewBalancer("weighted")

	var prev *Target
	run := 0
	for i := 0; i < 100; i++ {
		picked, err := b.Pick(targets, "")
		require.NoError(t, err)
		if picked == prev {
			run++
			assert.LessOrEqual(t, run, 1, "target repeated too often in a row")
		} else {
			run = 0
		}
		prev = picked
	}
}

func TestRandomWeightedDistribution(t *testing.T) {
	targets := makeTargets(1, 3)
	b := NewBalancer("random")

	counts := make(map[*Target]int)
	const total = 10000
	for i := 0; i < total; i++ {
		picked, err := b.Pick(targets, "")
		require.NoError(t, err)
		counts[picked]++
	}

	actual := float64(counts[targets[1]]) / total
	if math.Abs(actual-0.75) > 0.05 {
		t.Errorf("expected ~75%% of picks on the weight-3 target, got %.1f%%", actual*100)
	}
}

func TestPickEmptyCandidates(t *testing.T) {
	b := NewBalancer("round-robin")
	_, err := b.Pick(nil, "")
	assert.ErrorIs(t, err, ErrNoHealthyTarget)
}
