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
	"context"

	"github.com/blinklabs-io/ballotbox/session"
	"github.com/blinklabs-io/ballotbox/tally"
)

// ValueEntryRequest asks the surface to prompt a participant for a
// free-form value for one choice (a modal on chat platforms). The engine
// does not mutate any state until the matching ValueEntered action arrives.
type ValueEntryRequest struct {
	SessionID   string
	Participant session.ParticipantID
	ChoiceLabel string
	// ValueDescription is the method's description of a valid value,
	// suitable as a prompt label
	ValueDescription string
	CurrentValue     float64
	Choice           int
}

// ClosedNotice is the final public display for a session. Result is nil
// when the session was configured not to show results at close.
type ClosedNotice struct {
	Result    *tally.Result
	SessionID string
}

// Surface is the interaction-surface contract: everything the engine needs
// displayed. The engine calls these with no session lock held, so a slow
// surface delays only the calling engine's loop, never other readers.
// Delivery failures are the surface's concern; the engine logs and
// continues.
type Surface interface {
	// ShowBallotView renders (or, when view.Refresh is set, updates) a
	// participant's private ballot view and returns its opaque handle
	ShowBallotView(
		ctx context.Context,
		sessionId string,
		view session.BallotView,
	) (session.ViewHandle, error)
	// RequestValueEntry prompts a participant for a value
	RequestValueEntry(ctx context.Context, req ValueEntryRequest) error
	// UpdateVoterCount refreshes the public session display with the
	// number of distinct submitted ballots
	UpdateVoterCount(ctx context.Context, sessionId string, count int) error
	// ShowResult displays a tally result privately to one participant
	ShowResult(
		ctx context.Context,
		sessionId string,
		to session.ParticipantID,
		result tally.Result,
	) error
	// ShowSessionClosed replaces the public session display with the final
	// closed notice
	ShowSessionClosed(ctx context.Context, notice ClosedNotice) error
}
