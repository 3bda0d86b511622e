package transfer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBudget(t *testing.T) {
	tests := []struct {
		name                    string
		downloading, uploading  int
		maxConcurrent, expected int
	}{
		{"idle", 0, 0, 10, 10},
		{"partially busy", 3, 4, 10, 3},
		{"full", 5, 5, 10, 0},
		{"over budget never negative", 8, 9, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Budget(tt.downloading, tt.uploading, tt.maxConcurrent))
		})
	}
}

func TestBudget_FillsFreeSlotsExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1_000; i++ {
		maxConcurrent := rng.Intn(20) + 1
		downloading := rng.Intn(maxConcurrent + 3)
		uploading := rng.Intn(maxConcurrent + 3)

		budget := Budget(downloading, uploading, maxConcurrent)
		assert.GreaterOrEqual(t, budget, 0)

		if busy := downloading + uploading; busy <= maxConcurrent {
			assert.Equal(t, maxConcurrent, busy+budget)
		} else {
			assert.Zero(t, budget)
		}
	}
}
