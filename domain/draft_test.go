package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_CompleteDraftScoresHigh(t *testing.T) {
	d := PersonaDraft{
		Name:         "Alex",
		Demographics: Demographics{AgeRange: Age25To34},
		Psychographics: Psychographics{
			Values:      []string{"curiosity"},
			Motivations: []string{"growth"},
		},
		Communication: CommunicationProfile{Tone: "friendly"},
	}
	result := Validate(d)
	assert.Empty(t, result.Issues)
	assert.True(t, result.Passed(0.6))
	assert.Equal(t, 1.0, result.Score)
}

func TestValidate_EmptyDraftScoresLow(t *testing.T) {
	result := Validate(PersonaDraft{})
	assert.NotEmpty(t, result.Issues)
	assert.False(t, result.Passed(0.6))
	assert.GreaterOrEqual(t, result.Score, 0.0)
}

func TestValidationResult_Passed(t *testing.T) {
	v := ValidationResult{Score: 0.6}
	assert.True(t, v.Passed(0.6))
	assert.False(t, v.Passed(0.61))
}
