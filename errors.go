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
	"fmt"

	"github.com/blinklabs-io/ballotbox/session"
)

// ContractViolationError indicates an action that no correctly behaving
// interaction surface can produce: a follow-up action for a participant
// that never opened a ballot, an action tag that does not apply to the
// session's method, or a choice index outside the session's choices. These
// are routing bugs in the surface, so the engine aborts the session and
// surfaces the error to operators rather than participants.
type ContractViolationError struct {
	Err         error
	SessionID   string
	Action      string
	Participant session.ParticipantID
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf(
		"interaction surface contract violation: session=%s action=%s participant=%s: %s",
		e.SessionID,
		e.Action,
		e.Participant,
		e.Err,
	)
}

func (e *ContractViolationError) Unwrap() error {
	return e.Err
}
