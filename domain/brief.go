// Package domain holds the data model shared by the Taste and LLM adapters
// and the enrichment orchestrator: the caller-supplied Brief, the
// CulturalInsights gathered from Taste, and the PersonaDraft produced by
// the LLM step.
package domain

import (
	"fmt"

	"github.com/sabowaryan/personacraft/types"
)

// AgeRange is a caller-selected demographic bucket.
type AgeRange string

const (
	Age18To24 AgeRange = "18-24"
	Age25To34 AgeRange = "25-34"
	Age35To44 AgeRange = "35-44"
	Age45To54 AgeRange = "45-54"
	Age55Plus AgeRange = "55+"
)

func (a AgeRange) valid() bool {
	switch a {
	case Age18To24, Age25To34, Age35To44, Age45To54, Age55Plus:
		return true
	default:
		return false
	}
}

// MaxCount is the hard cap on personas requested in one Brief.
const MaxCount = 3

// Brief is the immutable caller input for one generation request. It is
// destroyed (eligible for GC) once orchestration completes; the
// orchestrator never retains a pointer to it beyond the call that handed
// it in.
type Brief struct {
	Description string
	Interests   []string
	Values      []string
	AgeRange    AgeRange
	Location    string
	Count       int
}

// Validate enforces the brief's field constraints. A violation is always
// InvalidInput and is never retried.
func (b Brief) Validate() error {
	if n := len(b.Description); n < 10 || n > 1000 {
		return types.NewError(types.ErrInvalidInput, "description must be 10-1000 characters").
			WithHint("shorten or expand the brief description")
	}
	if n := len(b.Interests); n < 1 || n > 15 {
		return types.NewError(types.ErrInvalidInput, "interests must contain 1-15 entries")
	}
	if n := len(b.Values); n < 1 || n > 10 {
		return types.NewError(types.ErrInvalidInput, "values must contain 1-10 entries")
	}
	if !b.AgeRange.valid() {
		return types.NewError(types.ErrInvalidInput, "age range is not a recognized bucket")
	}
	if b.Count < 0 || b.Count > MaxCount {
		return types.NewError(types.ErrInvalidInput, fmt.Sprintf("count must be between 1 and %d", MaxCount))
	}
	return nil
}

// Normalized returns a copy with Count defaulted to 1 when unset.
func (b Brief) Normalized() Brief {
	if b.Count <= 0 {
		b.Count = 1
	}
	return b
}
