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

package terminal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/blinklabs-io/ballotbox"
	"github.com/blinklabs-io/ballotbox/event"
	"github.com/blinklabs-io/ballotbox/session"
	"github.com/blinklabs-io/ballotbox/tally"
	"github.com/dustin/go-humanize"
)

// Surface renders ballot sessions as plain text. It exists for demos and
// local testing of the engine; a chat platform integration would implement
// the same contract against its own API.
type Surface struct {
	config     SurfaceConfig
	viewSerial int
	outputMu   sync.Mutex
}

type SurfaceConfig struct {
	Logger *slog.Logger
	// Output receives all rendered displays, os.Stdout when nil
	Output io.Writer
	// EventBus, when set, lets the surface announce session starts with
	// their deadline
	EventBus *event.EventBus
}

func NewSurface(cfg SurfaceConfig) *Surface {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	s := &Surface{
		config: cfg,
	}
	if cfg.EventBus != nil {
		cfg.EventBus.SubscribeFunc(
			ballotbox.SessionStartedEventType,
			s.handleSessionStarted,
		)
	}
	return s
}

func (s *Surface) printf(format string, v ...any) {
	s.outputMu.Lock()
	defer s.outputMu.Unlock()
	fmt.Fprintf(s.config.Output, format, v...)
}

func (s *Surface) handleSessionStarted(evt event.Event) {
	started, ok := evt.Data.(ballotbox.SessionStartedEvent)
	if !ok {
		return
	}
	s.printf(
		"=== session %s: %s vote on %d choices, closes %s ===\n",
		started.SessionID,
		started.Method,
		len(started.Choices),
		humanize.Time(started.Deadline),
	)
}

// ShowBallotView renders one page of a private ballot view. Each fresh view
// gets a new serial as its handle; refreshes reuse the existing handle.
func (s *Surface) ShowBallotView(
	_ context.Context,
	sessionId string,
	view session.BallotView,
) (session.ViewHandle, error) {
	handle := view.View
	if !view.Refresh || handle == "" {
		s.outputMu.Lock()
		s.viewSerial++
		handle = session.ViewHandle(fmt.Sprintf("view-%d", s.viewSerial))
		s.outputMu.Unlock()
	}
	var buf strings.Builder
	fmt.Fprintf(
		&buf,
		"[%s %s] ballot for %s",
		sessionId,
		handle,
		view.Participant,
	)
	if view.ShowNav {
		fmt.Fprintf(&buf, " (page %d/%d)", view.Page+1, view.NumPages)
	}
	buf.WriteString("\n")
	if view.Locked {
		buf.WriteString("  ballot submitted; only results are available\n")
	}
	for _, cs := range view.Choices {
		switch {
		case cs.HasScore:
			fmt.Fprintf(
				&buf,
				"  [%d] %s = %s\n",
				cs.Choice,
				cs.Label,
				humanize.Ftoa(cs.Score),
			)
		case cs.HasRank:
			fmt.Fprintf(
				&buf,
				"  [%d] %s = %s choice\n",
				cs.Choice,
				cs.Label,
				humanize.Ordinal(cs.Rank),
			)
		default:
			marker := " "
			if cs.Selected {
				marker = "x"
			}
			fmt.Fprintf(&buf, "  [%d] (%s) %s\n", cs.Choice, marker, cs.Label)
		}
	}
	if view.Annotation != "" {
		fmt.Fprintf(&buf, "  %s\n", view.Annotation)
	}
	s.printf("%s", buf.String())
	return handle, nil
}

// RequestValueEntry prompts for a value. The participant answers with a
// "value" input line, which comes back to the engine as a ValueEntered
// action.
func (s *Surface) RequestValueEntry(
	_ context.Context,
	req ballotbox.ValueEntryRequest,
) error {
	s.printf(
		"[%s] %s: enter a %s for %q (currently %s)\n",
		req.SessionID,
		req.Participant,
		req.ValueDescription,
		req.ChoiceLabel,
		humanize.Ftoa(req.CurrentValue),
	)
	return nil
}

func (s *Surface) UpdateVoterCount(
	_ context.Context,
	sessionId string,
	count int,
) error {
	s.printf("[%s] voters: %d\n", sessionId, count)
	return nil
}

func (s *Surface) ShowResult(
	_ context.Context,
	sessionId string,
	to session.ParticipantID,
	result tally.Result,
) error {
	s.printf(
		"[%s] results for %s:\n%s",
		sessionId,
		to,
		renderResult(result),
	)
	return nil
}

func (s *Surface) ShowSessionClosed(
	_ context.Context,
	notice ballotbox.ClosedNotice,
) error {
	if notice.Result == nil {
		s.printf("[%s] Vote Finished\n", notice.SessionID)
		return nil
	}
	s.printf(
		"[%s] Vote Finished\n%s",
		notice.SessionID,
		renderResult(*notice.Result),
	)
	return nil
}

func renderResult(result tally.Result) string {
	var buf strings.Builder
	fmt.Fprintf(
		&buf,
		"  %s, %d voter(s)\n",
		result.Method.DisplayName(),
		result.VoterCount,
	)
	for _, total := range result.Totals {
		fmt.Fprintf(
			&buf,
			"  %s: %s\n",
			total.Label,
			humanize.Ftoa(total.Total),
		)
	}
	winners := result.WinnerLabels()
	if len(winners) > 0 {
		fmt.Fprintf(&buf, "  winner: %s\n", strings.Join(winners, ", "))
	}
	return buf.String()
}
