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

// Package session holds the shared state for one running ballot session:
// the participant table, their in-progress ballots and pagination cursors,
// and the submitted ballots. State is the single source of truth for a
// session and is owned by exactly one engine. Reads take shared access,
// mutations take exclusive access, and no lock is ever held across an
// interaction-surface round trip.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/blinklabs-io/ballotbox/ballot"
)

// DefaultPageSize is the number of choices shown per page of a private
// ballot view
const DefaultPageSize = 4

// ParticipantID identifies one participant within a session. It is assigned
// by the interaction surface and is opaque to the engine.
type ParticipantID string

// ViewHandle is an opaque reference to a participant's private ballot view,
// assigned by the interaction surface when the view is first rendered
type ViewHandle string

// Direction is a pagination direction on a private ballot view
type Direction int

const (
	DirectionLeft Direction = iota
	DirectionRight
)

func (d Direction) String() string {
	switch d {
	case DirectionLeft:
		return "left"
	case DirectionRight:
		return "right"
	default:
		return fmt.Sprintf("unknown (%d)", int(d))
	}
}

// ErrUnknownParticipant indicates an action routed for a participant that
// was never initialized via GetOrCreateParticipant. This is a contract
// violation by the interaction surface, not a user-facing error.
var ErrUnknownParticipant = errors.New("unknown participant")

// Participant is one user's session-scoped state. Participants are created
// on their first open-ballot action and live for the session's lifetime.
type Participant struct {
	Ballot ballot.Ballot
	View   ViewHandle
	Page   int
}

// SubmissionOutcome reports the result of recording a ballot submission
type SubmissionOutcome struct {
	// Reason carries the validation failure when Accepted is false
	Reason error
	// VoterCount is the number of distinct submitted ballots after the
	// submission was recorded
	VoterCount int
	Accepted   bool
	// FirstAccept is true when this was the participant's first accepted
	// submission (as opposed to a permitted resubmission overwrite)
	FirstAccept bool
}

// State is the shared table for one session. The embedded RWMutex guards
// all fields: engine reads for view production take RLock, all mutations
// take Lock.
type State struct {
	sync.RWMutex
	method       ballot.Method
	choices      []string
	participants map[ParticipantID]*Participant
	submitted    map[ParticipantID]ballot.Ballot
	pageSize     int
}

// NewState creates the state table for a session. The choice labels and
// method are immutable after creation.
func NewState(
	method ballot.Method,
	choices []string,
	pageSize int,
) (*State, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("unknown voting method: %s", method)
	}
	if len(choices) < 2 {
		return nil, fmt.Errorf(
			"a session requires at least 2 choices, got %d",
			len(choices),
		)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &State{
		method:       method,
		choices:      append([]string(nil), choices...),
		participants: make(map[ParticipantID]*Participant),
		submitted:    make(map[ParticipantID]ballot.Ballot),
		pageSize:     pageSize,
	}, nil
}

func (s *State) Method() ballot.Method {
	return s.method
}

// Choices returns the ordered choice labels
func (s *State) Choices() []string {
	return append([]string(nil), s.choices...)
}

func (s *State) NumChoices() int {
	return len(s.choices)
}

// NumPages returns the page count for private ballot views
func (s *State) NumPages() int {
	return ((len(s.choices) - 1) / s.pageSize) + 1
}

func (s *State) PageSize() int {
	return s.pageSize
}

// GetOrCreateParticipant initializes a participant on first sight with an
// empty ballot of the session's method, page zero and no view handle.
// Subsequent calls return the existing entry unchanged. The returned value
// is a copy; mutations go through the State methods.
func (s *State) GetOrCreateParticipant(id ParticipantID) (Participant, error) {
	s.Lock()
	defer s.Unlock()
	p, ok := s.participants[id]
	if !ok {
		b, err := ballot.New(s.method)
		if err != nil {
			return Participant{}, err
		}
		p = &Participant{Ballot: b}
		s.participants[id] = p
	}
	return *p, nil
}

// SetView records the view handle returned by the interaction surface for
// the participant's private ballot view
func (s *State) SetView(id ParticipantID, view ViewHandle) error {
	s.Lock()
	defer s.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	p.View = view
	return nil
}

// View returns the participant's recorded view handle
func (s *State) View(id ParticipantID) (ViewHandle, error) {
	s.RLock()
	defer s.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return p.View, nil
}

// TurnPage moves the participant's pagination cursor one page left or right
// with wraparound and returns the new page index
func (s *State) TurnPage(id ParticipantID, dir Direction) (int, error) {
	s.Lock()
	defer s.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	numPages := s.NumPages()
	switch dir {
	case DirectionLeft:
		if p.Page == 0 {
			p.Page = numPages - 1
		} else {
			p.Page--
		}
	case DirectionRight:
		p.Page++
		if p.Page >= numPages {
			p.Page = 0
		}
	default:
		return 0, fmt.Errorf("unknown pagination direction: %d", int(dir))
	}
	return p.Page, nil
}

// ToggleSelection toggles an Approval choice on the participant's working
// ballot
func (s *State) ToggleSelection(id ParticipantID, choice int) error {
	s.Lock()
	defer s.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return p.Ballot.ToggleSelection(choice)
}

// IncrementRank advances a Borda rank on the participant's working ballot
func (s *State) IncrementRank(id ParticipantID, choice int) error {
	s.Lock()
	defer s.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return p.Ballot.IncrementRank(choice, len(s.choices))
}

// SetScore overwrites a score on the participant's working ballot
func (s *State) SetScore(id ParticipantID, choice int, value float64) error {
	s.Lock()
	defer s.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return p.Ballot.SetScore(choice, value)
}

// Score returns the current score for a choice on the participant's working
// ballot, defaulting to 0.0 when unset
func (s *State) Score(id ParticipantID, choice int) (float64, error) {
	s.RLock()
	defer s.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return p.Ballot.Score(choice), nil
}

// HasSubmitted reports whether the participant has a recorded submission
func (s *State) HasSubmitted(id ParticipantID) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.submitted[id]
	return ok
}

// VoterCount returns the number of distinct participants with a recorded
// submission
func (s *State) VoterCount() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.submitted)
}

// RecordSubmission validates the participant's working ballot and, when
// valid, finalizes it into the submitted table. A participant resubmitting
// overwrites their previous ballot; the engine enforces any
// no-resubmission policy before calling this. The submitted table is left
// untouched on a validation failure.
func (s *State) RecordSubmission(id ParticipantID) (SubmissionOutcome, error) {
	s.Lock()
	defer s.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return SubmissionOutcome{}, fmt.Errorf(
			"%w: %s",
			ErrUnknownParticipant,
			id,
		)
	}
	if err := p.Ballot.ValidateSubmission(len(s.choices)); err != nil {
		return SubmissionOutcome{
			Accepted:   false,
			Reason:     err,
			VoterCount: len(s.submitted),
		}, nil
	}
	_, resubmit := s.submitted[id]
	s.submitted[id] = p.Ballot.Finalize(len(s.choices))
	return SubmissionOutcome{
		Accepted:    true,
		FirstAccept: !resubmit,
		VoterCount:  len(s.submitted),
	}, nil
}

// SubmittedBallots returns a copy of the submitted ballots ordered by
// participant ID so downstream aggregation is deterministic
func (s *State) SubmittedBallots() []ballot.Ballot {
	s.RLock()
	defer s.RUnlock()
	ids := make([]string, 0, len(s.submitted))
	for id := range s.submitted {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	out := make([]ballot.Ballot, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.submitted[ParticipantID(id)].Clone())
	}
	return out
}
