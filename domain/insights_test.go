package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCulturalInsights_SetAndCapped(t *testing.T) {
	ci := NewCulturalInsights()
	ci.Set(CategoryResult{
		Category: CategoryMusic,
		Entities: []Entity{{ID: "1"}, {ID: "2"}, {ID: "3"}},
	})

	assert.Len(t, ci.Capped(CategoryMusic, 2), 2)
	assert.Len(t, ci.Capped(CategoryMusic, 10), 3)
	assert.Nil(t, ci.Capped(CategoryBrands, 5))
}

func TestCulturalInsights_HasFallback(t *testing.T) {
	ci := NewCulturalInsights()
	ci.Set(CategoryResult{Category: CategoryMusic})
	assert.False(t, ci.HasFallback())

	ci.Set(FallbackCategory(CategoryBrands))
	assert.True(t, ci.HasFallback())
}

func TestFallbackCategory_LowConfidence(t *testing.T) {
	fc := FallbackCategory(CategoryBooks)
	assert.True(t, fc.Fallback)
	require := assert.New(t)
	require.Len(fc.Entities, 1)
	require.LessOrEqual(fc.Entities[0].Confidence, 0.5)
}
