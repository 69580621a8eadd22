package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

func TestMergeCouple(t *testing.T) {
	base := time.Now()
	active := &models.Couple{ID: "c", IsActive: true, UpdatedAt: base}
	newer := &models.Couple{ID: "c", IsActive: true, UpdatedAt: base.Add(time.Second), Name: "renamed"}
	inactive := &models.Couple{ID: "c", IsActive: false, UpdatedAt: base.Add(-time.Minute)}

	// Recency wins between two active records.
	assert.Equal(t, "renamed", MergeCouple(active, newer).Name)
	assert.Same(t, active, MergeCouple(active, &models.Couple{ID: "c", IsActive: true, UpdatedAt: base.Add(-time.Second)}))

	// Deactivation is terminal regardless of timestamps.
	assert.False(t, MergeCouple(active, inactive).IsActive)
	assert.Same(t, inactive, MergeCouple(inactive, newer))

	// Nil handling.
	assert.Equal(t, "c", MergeCouple(nil, active).ID)
	assert.Same(t, active, MergeCouple(active, nil))

	// Pure: inputs are never mutated.
	MergeCouple(active, inactive)
	assert.True(t, active.IsActive)
}
