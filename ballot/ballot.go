// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ballot

import (
	"errors"
	"fmt"
	"math"
)

// Ballot is one participant's in-progress or submitted set of choices. It is
// a tagged union over the session's voting method: exactly one of the
// per-method stores is populated, matching the tag. A session never holds
// mixed-tag ballots.
type Ballot struct {
	method   Method
	selected map[int]struct{} // Approval
	scores   map[int]float64  // Score, LimitedScore
	ranks    map[int]int      // Borda
}

// Validation failures reported by ValidateSubmission. These are
// participant-recoverable and are folded into view annotations by the
// engine, never propagated as engine errors.
var (
	ErrScoreBudgetExceeded = errors.New(
		"sum of absolute scores exceeds the allowed budget",
	)
	ErrIncompleteRanking = errors.New(
		"every choice must be assigned a rank of 1 or greater",
	)
)

// MethodMismatchError indicates an operation that does not apply to the
// ballot's voting method. This is a caller contract violation, not a
// participant-facing validation failure.
type MethodMismatchError struct {
	Op     string
	Method Method
}

func (e *MethodMismatchError) Error() string {
	return fmt.Sprintf(
		"operation %s does not apply to a %s ballot",
		e.Op,
		e.Method.DisplayName(),
	)
}

// New creates an empty Ballot for the given method
func New(method Method) (Ballot, error) {
	b := Ballot{method: method}
	switch method {
	case MethodApproval:
		b.selected = make(map[int]struct{})
	case MethodScore, MethodLimitedScore:
		b.scores = make(map[int]float64)
	case MethodBorda:
		b.ranks = make(map[int]int)
	default:
		return Ballot{}, fmt.Errorf("unknown voting method: %s", method)
	}
	return b, nil
}

func (b Ballot) Method() Method {
	return b.method
}

// ToggleSelection adds the choice to an Approval selection if absent and
// removes it if present. Applying it twice is a no-op pair.
func (b *Ballot) ToggleSelection(choice int) error {
	if b.method != MethodApproval {
		return &MethodMismatchError{Op: "toggle selection", Method: b.method}
	}
	if _, ok := b.selected[choice]; ok {
		delete(b.selected, choice)
	} else {
		b.selected[choice] = struct{}{}
	}
	return nil
}

// IncrementRank advances a Borda rank by one, starting from numChoices for a
// choice with no rank yet and wrapping back to 1 past numChoices. This is
// the sole mutation path for ranks.
func (b *Ballot) IncrementRank(choice int, numChoices int) error {
	if b.method != MethodBorda {
		return &MethodMismatchError{Op: "increment rank", Method: b.method}
	}
	rank, ok := b.ranks[choice]
	if !ok {
		rank = numChoices
	}
	rank++
	if rank > numChoices {
		rank = 1
	}
	b.ranks[choice] = rank
	return nil
}

// SetScore overwrites the stored score for a choice on a Score or
// LimitedScore ballot
func (b *Ballot) SetScore(choice int, value float64) error {
	if b.method != MethodScore && b.method != MethodLimitedScore {
		return &MethodMismatchError{Op: "set score", Method: b.method}
	}
	b.scores[choice] = value
	return nil
}

// Selected reports whether a choice is part of an Approval selection
func (b Ballot) Selected(choice int) bool {
	_, ok := b.selected[choice]
	return ok
}

// Score returns the stored score for a choice, defaulting to 0.0 when the
// participant has not scored it yet
func (b Ballot) Score(choice int) float64 {
	return b.scores[choice]
}

// Rank returns the stored rank for a choice. The second return value is
// false when the participant has not ranked it yet.
func (b Ballot) Rank(choice int) (int, bool) {
	rank, ok := b.ranks[choice]
	return rank, ok
}

// Clone returns an independent copy of the ballot
func (b Ballot) Clone() Ballot {
	out := Ballot{method: b.method}
	if b.selected != nil {
		out.selected = make(map[int]struct{}, len(b.selected))
		for k := range b.selected {
			out.selected[k] = struct{}{}
		}
	}
	if b.scores != nil {
		out.scores = make(map[int]float64, len(b.scores))
		for k, v := range b.scores {
			out.scores[k] = v
		}
	}
	if b.ranks != nil {
		out.ranks = make(map[int]int, len(b.ranks))
		for k, v := range b.ranks {
			out.ranks[k] = v
		}
	}
	return out
}

// Finalize returns a copy of the ballot made dense over all numChoices
// choices so that submitted ballots are comparable in the tally. Unset
// scores default to 0.0 and unranked Borda choices default to numChoices-1.
// Treating "never touched" like an explicit boundary value is a documented
// policy choice carried over from the reference behavior. Finalizing an
// already-finalized ballot returns an identical ballot.
func (b Ballot) Finalize(numChoices int) Ballot {
	out := b.Clone()
	switch b.method {
	case MethodApproval:
		// Selections are already dense in meaning: absent means unapproved
	case MethodScore, MethodLimitedScore:
		for i := range numChoices {
			if _, ok := out.scores[i]; !ok {
				out.scores[i] = 0.0
			}
		}
	case MethodBorda:
		for i := range numChoices {
			if _, ok := out.ranks[i]; !ok {
				out.ranks[i] = numChoices - 1
			}
		}
	}
	return out
}

// ValidateSubmission checks the whole-ballot submission rules for the
// method. Approval and Score ballots are always submittable. LimitedScore
// enforces the absolute-score budget. Borda requires every choice to carry
// an explicitly assigned rank of at least 1.
func (b Ballot) ValidateSubmission(numChoices int) error {
	switch b.method {
	case MethodApproval, MethodScore:
		return nil
	case MethodLimitedScore:
		var absSum float64
		for _, score := range b.scores {
			absSum += math.Abs(score)
		}
		if absSum > LimitedScoreBudget+limitedScoreTolerance {
			return ErrScoreBudgetExceeded
		}
		return nil
	case MethodBorda:
		for i := range numChoices {
			rank, ok := b.ranks[i]
			if !ok || rank < 1 {
				return ErrIncompleteRanking
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown voting method: %s", b.method)
	}
}
