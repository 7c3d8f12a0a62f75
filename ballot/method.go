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
	"fmt"
	"math"
)

// Method identifies the voting method for a session. It is immutable for
// the session's lifetime and determines the ballot shape and validity rules.
type Method string

const (
	MethodApproval     Method = "approval"
	MethodScore        Method = "score"
	MethodLimitedScore Method = "limited_score"
	MethodBorda        Method = "borda"
)

// Score bounds shared by the Score and LimitedScore methods
const (
	ScoreMin = -10.0
	ScoreMax = 10.0
	// LimitedScore caps the sum of absolute scores across a ballot
	LimitedScoreBudget    = 10.0
	limitedScoreTolerance = 1e-4
)

// Valid returns true if the Method is a known voting method
func (m Method) Valid() bool {
	switch m {
	case MethodApproval, MethodScore, MethodLimitedScore, MethodBorda:
		return true
	default:
		return false
	}
}

// DisplayName returns the human-readable method name
func (m Method) DisplayName() string {
	switch m {
	case MethodApproval:
		return "Approval"
	case MethodScore:
		return "Score"
	case MethodLimitedScore:
		return "Limited Score"
	case MethodBorda:
		return "Borda"
	default:
		return fmt.Sprintf("Unknown (%s)", string(m))
	}
}

// ValueDescription describes what a single per-choice value means for the
// method. It is included in validation annotations shown to participants.
func (m Method) ValueDescription() string {
	switch m {
	case MethodApproval:
		return "choice"
	case MethodScore:
		return "score (-10.0 to 10.0)"
	case MethodLimitedScore:
		return "score where sum(abs(scores)) <= 10.0"
	case MethodBorda:
		return "rank (1 is 1st choice, 2 second, ...)"
	default:
		return "value"
	}
}

// ParseMethod converts a method name (either the wire form or the display
// name) into a Method
func ParseMethod(s string) (Method, error) {
	switch s {
	case string(MethodApproval), "Approval":
		return MethodApproval, nil
	case string(MethodScore), "Score":
		return MethodScore, nil
	case string(MethodLimitedScore), "Limited Score":
		return MethodLimitedScore, nil
	case string(MethodBorda), "Borda":
		return MethodBorda, nil
	default:
		return "", fmt.Errorf("unknown voting method: %s", s)
	}
}

// ValidValue reports whether a single entered value is acceptable for the
// method. Approval has no entered values, so any value is trivially valid.
// Borda ranks must be positive integers no greater than the choice count.
func (m Method) ValidValue(value float64, numChoices int) bool {
	switch m {
	case MethodApproval:
		return true
	case MethodScore, MethodLimitedScore:
		return value >= ScoreMin && value <= ScoreMax
	case MethodBorda:
		if value != math.Trunc(value) {
			return false
		}
		return value >= 1 && value <= float64(numChoices)
	default:
		return false
	}
}
