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

package ballotbox

import (
	"time"

	"github.com/blinklabs-io/ballotbox/event"
	"github.com/blinklabs-io/ballotbox/session"
	"github.com/blinklabs-io/ballotbox/tally"
)

const (
	// ActionEventType carries inbound participant actions from interaction
	// surfaces to session engines. Every engine subscribes to the same type
	// and filters by session ID, so actions for one session arrive on a
	// single channel in publication order.
	ActionEventType event.EventType = "session.action"

	SessionStartedEventType     event.EventType = "session.started"
	SubmissionAcceptedEventType event.EventType = "session.submission_accepted"
	SessionClosedEventType      event.EventType = "session.closed"
)

// ActionEvent is the payload for ActionEventType events
type ActionEvent struct {
	Action    Action
	SessionID string
}

// SessionStartedEvent is the payload for SessionStartedEventType events
type SessionStartedEvent struct {
	Deadline  time.Time
	SessionID string
	Method    string
	Choices   []string
}

// SubmissionAcceptedEvent is the payload for SubmissionAcceptedEventType
// events, published on each first-ever accepted submission
type SubmissionAcceptedEvent struct {
	SessionID   string
	Participant session.ParticipantID
	VoterCount  int
}

// SessionClosedEvent is the payload for SessionClosedEventType events.
// Result is nil when the session was configured not to show results at
// close.
type SessionClosedEvent struct {
	Result    *tally.Result
	SessionID string
}

// Action is one structured participant action delivered by an interaction
// surface. The concrete types below form a closed set; an engine receiving
// any other implementation treats it as a contract violation.
type Action interface {
	isAction()
	// Participant returns the acting participant
	Participant() session.ParticipantID
}

// OpenBallotRequested is the participant pressing the primary vote
// affordance on the public session display. It initializes the participant
// on first use and always produces a fresh private ballot view.
type OpenBallotRequested struct {
	ParticipantID session.ParticipantID
}

// Navigate is left/right paging on the participant's private ballot view
type Navigate struct {
	ParticipantID session.ParticipantID
	Direction     session.Direction
}

// ToggleChoice is direct manipulation of one choice: an Approval toggle or
// a Borda rank increment. For Score and LimitedScore sessions it instead
// requests value entry without mutating state.
type ToggleChoice struct {
	ParticipantID session.ParticipantID
	Choice        int
}

// ValueEntered completes a previously requested value entry with the raw
// text the participant typed
type ValueEntered struct {
	ParticipantID session.ParticipantID
	Text          string
	Choice        int
}

// SubmitRequested is the participant submitting their working ballot
type SubmitRequested struct {
	ParticipantID session.ParticipantID
}

func (a OpenBallotRequested) isAction() {}
func (a OpenBallotRequested) Participant() session.ParticipantID {
	return a.ParticipantID
}

func (a Navigate) isAction() {}
func (a Navigate) Participant() session.ParticipantID {
	return a.ParticipantID
}

func (a ToggleChoice) isAction() {}
func (a ToggleChoice) Participant() session.ParticipantID {
	return a.ParticipantID
}

func (a ValueEntered) isAction() {}
func (a ValueEntered) Participant() session.ParticipantID {
	return a.ParticipantID
}

func (a SubmitRequested) isAction() {}
func (a SubmitRequested) Participant() session.ParticipantID {
	return a.ParticipantID
}
