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

package session

import (
	"fmt"

	"github.com/blinklabs-io/ballotbox/ballot"
)

// ChoiceState is the render state for one choice on a page of a private
// ballot view. Which fields are meaningful depends on the session method:
// Selected for Approval, Score/HasScore for Score and LimitedScore, and
// Rank/HasRank for Borda. Display formatting belongs to the surface.
type ChoiceState struct {
	Label    string
	Choice   int
	Rank     int
	Score    float64
	Selected bool
	HasScore bool
	HasRank  bool
}

// BallotView is a snapshot of one page of a participant's private ballot
// view, produced under shared access to the session state
type BallotView struct {
	Participant ParticipantID
	View        ViewHandle
	Method      ballot.Method
	// Annotation carries an inline validation message, empty otherwise
	Annotation string
	Choices    []ChoiceState
	Page       int
	NumPages   int
	// ShowNav is false when every choice fits on the first page
	ShowNav bool
	// Refresh is true when the surface should update the existing view
	// (identified by View) rather than create a new one
	Refresh bool
	// Locked is true when the participant has already submitted and the
	// session disallows resubmission; such views offer only a results
	// affordance
	Locked bool
}

// ViewPage builds the render snapshot for the participant's current page.
// An unranked Borda choice is displayed with rank numChoices, matching the
// rank that the first increment advances past.
func (s *State) ViewPage(id ParticipantID) (BallotView, error) {
	s.RLock()
	defer s.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return BallotView{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	numChoices := len(s.choices)
	view := BallotView{
		Participant: id,
		View:        p.View,
		Method:      s.method,
		Page:        p.Page,
		NumPages:    s.NumPages(),
		ShowNav:     numChoices > s.pageSize || p.Page != 0,
	}
	start := p.Page * s.pageSize
	for i := start; i < start+s.pageSize && i < numChoices; i++ {
		cs := ChoiceState{
			Choice: i,
			Label:  s.choices[i],
		}
		switch s.method {
		case ballot.MethodApproval:
			cs.Selected = p.Ballot.Selected(i)
		case ballot.MethodScore, ballot.MethodLimitedScore:
			cs.Score = p.Ballot.Score(i)
			cs.HasScore = true
		case ballot.MethodBorda:
			rank, ok := p.Ballot.Rank(i)
			if !ok {
				rank = numChoices
			}
			cs.Rank = rank
			cs.HasRank = true
		}
		view.Choices = append(view.Choices, cs)
	}
	return view, nil
}
