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

// Package tally converts submitted ballots into a ranked result summary.
// Results are recomputed fresh on every call and are a pure function of the
// submitted ballots, so repeated computation over the same submissions
// yields identical output.
package tally

import (
	"fmt"
	"sort"

	"github.com/blinklabs-io/ballotbox/ballot"
)

// ChoiceTotal is the aggregate score for a single choice
type ChoiceTotal struct {
	Label  string
	Total  float64
	Choice int
}

// Result is the outcome of tallying the submitted ballots for a session.
// Totals are ordered by choice index. Winners holds the indices of every
// choice achieving the maximum total; ties are reported, never broken.
type Result struct {
	Method     ballot.Method
	Totals     []ChoiceTotal
	Winners    []int
	VoterCount int
}

// WinnerLabels returns the labels of the winning choices
func (r Result) WinnerLabels() []string {
	labels := make([]string, 0, len(r.Winners))
	for _, w := range r.Winners {
		labels = append(labels, r.Totals[w].Label)
	}
	return labels
}

// Compute aggregates submitted ballots into a Result. Every ballot must
// carry the same method tag as the session; a mismatch is a contract
// violation by the caller. With no submitted ballots the totals are all
// zero and the winner set is empty.
func Compute(
	method ballot.Method,
	ballots []ballot.Ballot,
	choiceLabels []string,
) (Result, error) {
	if !method.Valid() {
		return Result{}, fmt.Errorf("unknown voting method: %s", method)
	}
	numChoices := len(choiceLabels)
	totals := make([]float64, numChoices)
	for _, b := range ballots {
		if b.Method() != method {
			return Result{}, fmt.Errorf(
				"ballot method %s does not match session method %s",
				b.Method(),
				method,
			)
		}
		switch method {
		case ballot.MethodApproval:
			for i := range numChoices {
				if b.Selected(i) {
					totals[i] += 1.0
				}
			}
		case ballot.MethodScore, ballot.MethodLimitedScore:
			for i := range numChoices {
				totals[i] += b.Score(i)
			}
		case ballot.MethodBorda:
			for pos, choice := range bordaOrdering(b, numChoices) {
				// Standard Borda positional scoring: first preference
				// earns numChoices-1 points, last earns zero
				totals[choice] += float64(numChoices - pos - 1)
			}
		}
	}
	result := Result{
		Method:     method,
		Totals:     make([]ChoiceTotal, numChoices),
		VoterCount: len(ballots),
	}
	for i := range numChoices {
		result.Totals[i] = ChoiceTotal{
			Choice: i,
			Label:  choiceLabels[i],
			Total:  totals[i],
		}
	}
	if len(ballots) > 0 {
		result.Winners = argmax(totals)
	}
	return result, nil
}

// bordaOrdering converts a Borda ranking into a preference ordering of
// choice indices, most preferred first. Equal ranks are ordered by choice
// index so the ordering (and therefore the tally) is deterministic.
func bordaOrdering(b ballot.Ballot, numChoices int) []int {
	ordering := make([]int, numChoices)
	for i := range numChoices {
		ordering[i] = i
	}
	rankFor := func(choice int) int {
		rank, ok := b.Rank(choice)
		if !ok {
			rank = numChoices - 1
		}
		return rank
	}
	sort.SliceStable(ordering, func(i, j int) bool {
		ri := rankFor(ordering[i])
		rj := rankFor(ordering[j])
		if ri != rj {
			return ri < rj
		}
		return ordering[i] < ordering[j]
	})
	return ordering
}

func argmax(totals []float64) []int {
	var winners []int
	maxTotal := totals[0]
	for _, t := range totals[1:] {
		if t > maxTotal {
			maxTotal = t
		}
	}
	for i, t := range totals {
		if t == maxTotal {
			winners = append(winners, i)
		}
	}
	return winners
}
