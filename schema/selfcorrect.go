package schema

import (
	"context"
	"fmt"

	"goa.design/taskflow/providers"
)

// MaxSelfCorrectionRounds is N in §4.3: after the initial candidate, at most
// this many additional LLM requests are issued with validation errors fed
// back verbatim.
const MaxSelfCorrectionRounds = 2

// Generate produces one candidate response given the accumulated prior
// errors (empty on the first call). Callers typically close over the
// original prompt and an llm.Client.
type Generate func(ctx context.Context, priorErrors []ValidationError) ([]byte, error)

// SelfCorrect runs the §4.3 self-correction loop: validate the first
// candidate; if invalid, call generate again up to MaxSelfCorrectionRounds
// times, each time including the validation errors verbatim. It returns the
// first candidate that validates cleanly, or the last candidate plus its
// errors if every round failed.
func (c *Constrainer) SelfCorrect(ctx context.Context, tools []providers.Tool, ready func(server string) bool, generate Generate) (Candidate, []ValidationError, error) {
	var (
		candidate Candidate
		valErrs   []ValidationError
	)
	for round := 0; round <= MaxSelfCorrectionRounds; round++ {
		raw, err := generate(ctx, valErrs)
		if err != nil {
			return candidate, valErrs, fmt.Errorf("schema: self-correction round %d: %w", round, err)
		}
		candidate, valErrs = c.Validate(tools, raw)
		if len(valErrs) == 0 {
			valErrs = append(valErrs, ValidateReadiness(candidate, ready)...)
		}
		if len(valErrs) == 0 {
			return candidate, nil, nil
		}
	}
	return candidate, valErrs, nil
}
