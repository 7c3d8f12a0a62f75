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

package ballotbox_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/ballotbox"
	"github.com/blinklabs-io/ballotbox/ballot"
	"github.com/blinklabs-io/ballotbox/event"
	"github.com/blinklabs-io/ballotbox/session"
	"github.com/blinklabs-io/ballotbox/tally"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// mockSurface records every directive the engine issues so tests can
// assert on the rendered output
type mockSurface struct {
	mu            sync.Mutex
	views         []session.BallotView
	valueRequests []ballotbox.ValueEntryRequest
	voterCounts   []int
	results       []tally.Result
	resultTargets []session.ParticipantID
	closed        []ballotbox.ClosedNotice
	viewSerial    int
	viewGate      chan struct{}
}

// gateViews makes ShowBallotView wait on the given channel, simulating a
// slow surface round trip. Closing the channel releases all renders.
func (m *mockSurface) gateViews(gate chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewGate = gate
}

func (m *mockSurface) ShowBallotView(
	_ context.Context,
	_ string,
	view session.BallotView,
) (session.ViewHandle, error) {
	m.mu.Lock()
	gate := m.viewGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = append(m.views, view)
	handle := view.View
	if !view.Refresh || handle == "" {
		m.viewSerial++
		handle = session.ViewHandle(fmt.Sprintf("view-%d", m.viewSerial))
	}
	return handle, nil
}

func (m *mockSurface) RequestValueEntry(
	_ context.Context,
	req ballotbox.ValueEntryRequest,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valueRequests = append(m.valueRequests, req)
	return nil
}

func (m *mockSurface) UpdateVoterCount(
	_ context.Context,
	_ string,
	count int,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voterCounts = append(m.voterCounts, count)
	return nil
}

func (m *mockSurface) ShowResult(
	_ context.Context,
	_ string,
	to session.ParticipantID,
	result tally.Result,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	m.resultTargets = append(m.resultTargets, to)
	return nil
}

func (m *mockSurface) ShowSessionClosed(
	_ context.Context,
	notice ballotbox.ClosedNotice,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, notice)
	return nil
}

func (m *mockSurface) numViews() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

func (m *mockSurface) lastView() session.BallotView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.views[len(m.views)-1]
}

func (m *mockSurface) numValueRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.valueRequests)
}

func (m *mockSurface) lastValueRequest() ballotbox.ValueEntryRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valueRequests[len(m.valueRequests)-1]
}

func (m *mockSurface) numResults() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

func (m *mockSurface) lastResult() tally.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[len(m.results)-1]
}

func (m *mockSurface) lastVoterCounts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.voterCounts...)
}

func (m *mockSurface) closedNotices() []ballotbox.ClosedNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ballotbox.ClosedNotice(nil), m.closed...)
}

type testHarness struct {
	bus     *event.EventBus
	surface *mockSurface
	engine  *ballotbox.Engine
}

func newTestHarness(
	t *testing.T,
	opts ...ballotbox.ConfigOptionFunc,
) *testHarness {
	t.Helper()
	bus := event.NewEventBus(nil, nil)
	surface := &mockSurface{}
	allOpts := append(
		[]ballotbox.ConfigOptionFunc{
			ballotbox.WithEventBus(bus),
			ballotbox.WithSurface(surface),
			ballotbox.WithSessionId("test-session"),
		},
		opts...,
	)
	engine, err := ballotbox.NewEngine(ballotbox.NewConfig(allOpts...))
	require.NoError(t, err)
	require.NoError(t, engine.Start())
	return &testHarness{
		bus:     bus,
		surface: surface,
		engine:  engine,
	}
}

func (h *testHarness) send(action ballotbox.Action) {
	h.sendTo(h.engine.SessionId(), action)
}

func (h *testHarness) sendTo(sessionId string, action ballotbox.Action) {
	h.bus.Publish(
		ballotbox.ActionEventType,
		event.NewEvent(
			ballotbox.ActionEventType,
			ballotbox.ActionEvent{
				Action:    action,
				SessionID: sessionId,
			},
		),
	)
}

func (h *testHarness) stopAndWait(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Stop())
	select {
	case <-h.engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for engine to stop")
	}
	h.bus.Stop()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestEngineConfigValidation(t *testing.T) {
	bus := event.NewEventBus(nil, nil)
	surface := &mockSurface{}
	testDefs := []struct {
		name string
		opts []ballotbox.ConfigOptionFunc
	}{
		{
			name: "no method",
			opts: []ballotbox.ConfigOptionFunc{
				ballotbox.WithEventBus(bus),
				ballotbox.WithSurface(surface),
				ballotbox.WithChoices("a", "b"),
			},
		},
		{
			name: "too few choices",
			opts: []ballotbox.ConfigOptionFunc{
				ballotbox.WithEventBus(bus),
				ballotbox.WithSurface(surface),
				ballotbox.WithMethod(ballot.MethodApproval),
				ballotbox.WithChoices("only"),
			},
		},
		{
			name: "no surface",
			opts: []ballotbox.ConfigOptionFunc{
				ballotbox.WithEventBus(bus),
				ballotbox.WithMethod(ballot.MethodApproval),
				ballotbox.WithChoices("a", "b"),
			},
		},
		{
			name: "no event bus",
			opts: []ballotbox.ConfigOptionFunc{
				ballotbox.WithSurface(surface),
				ballotbox.WithMethod(ballot.MethodApproval),
				ballotbox.WithChoices("a", "b"),
			},
		},
		{
			name: "blank choices collapse below minimum",
			opts: []ballotbox.ConfigOptionFunc{
				ballotbox.WithEventBus(bus),
				ballotbox.WithSurface(surface),
				ballotbox.WithMethod(ballot.MethodApproval),
				ballotbox.WithChoices("a", "   ", ""),
			},
		},
	}
	for _, testDef := range testDefs {
		_, err := ballotbox.NewEngine(ballotbox.NewConfig(testDef.opts...))
		assert.Error(t, err, testDef.name)
	}
}

func TestEngineChoiceLabelTruncation(t *testing.T) {
	defer goleak.VerifyNone(t)
	longLabel := "this label is way too long to display on a ballot button"
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("short", longLabel),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 1 }, "no view")
	view := h.surface.lastView()
	require.Len(t, view.Choices, 2)
	assert.Equal(t, "short", view.Choices[0].Label)
	assert.Len(t, view.Choices[1].Label, ballotbox.MaxChoiceLabelLength)
	h.stopAndWait(t)
}

func TestEngineApprovalEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green", "blue"),
		ballotbox.WithAllowResubmission(true),
	)
	// The public display is seeded with zero voters
	waitFor(t, func() bool {
		counts := h.surface.lastVoterCounts()
		return len(counts) >= 1 && counts[0] == 0
	}, "no initial voter count")

	// alice approves red and blue, bob approves blue
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 0})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 2})
	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "bob"})
	h.send(ballotbox.ToggleChoice{ParticipantID: "bob", Choice: 2})
	h.send(ballotbox.SubmitRequested{ParticipantID: "bob"})
	waitFor(t, func() bool { return h.surface.numResults() >= 2 }, "no results")

	result := h.surface.lastResult()
	assert.Equal(t, 2, result.VoterCount)
	assert.Equal(t, 1.0, result.Totals[0].Total)
	assert.Equal(t, 0.0, result.Totals[1].Total)
	assert.Equal(t, 2.0, result.Totals[2].Total)
	assert.Equal(t, []string{"blue"}, result.WinnerLabels())
	assert.Equal(t, []int{0, 1, 2}, h.surface.lastVoterCounts())
	assert.Equal(t, 2, h.engine.VoterCount())

	h.stopAndWait(t)
	// The closing display carries the final result
	notices := h.surface.closedNotices()
	require.Len(t, notices, 1)
	require.NotNil(t, notices[0].Result)
	assert.Equal(t, 2, notices[0].Result.VoterCount)
	require.NotNil(t, h.engine.Result())
	assert.NoError(t, h.engine.Err())
}

func TestEngineApprovalToggleUpdatesView(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green", "blue"),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 1 }, "no view")
	first := h.surface.lastView()
	assert.False(t, first.Refresh)

	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 1})
	waitFor(t, func() bool { return h.surface.numViews() >= 2 }, "no refresh")
	refreshed := h.surface.lastView()
	assert.True(t, refreshed.Refresh)
	assert.True(t, refreshed.Choices[1].Selected)

	// Toggling again clears the selection
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 1})
	waitFor(t, func() bool { return h.surface.numViews() >= 3 }, "no refresh")
	assert.False(t, h.surface.lastView().Choices[1].Selected)
	h.stopAndWait(t)
}

func TestEngineActionBurstNotDropped(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green", "blue"),
	)
	// Stall the engine inside a surface round trip so the burst below
	// overruns the subscriber buffer while the loop cannot drain it
	gate := make(chan struct{})
	h.surface.gateViews(gate)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})

	const burst = event.EventQueueSize + 6
	burstDone := make(chan struct{})
	go func() {
		defer close(burstDone)
		for range burst {
			h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 0})
		}
		h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate)
	select {
	case <-burstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher never unblocked")
	}

	// Every action in the burst must be applied: each toggle renders a
	// refresh and the trailing submit lands
	waitFor(t, func() bool {
		return h.engine.VoterCount() == 1
	}, "submit was dropped under load")
	waitFor(t, func() bool {
		return h.surface.numViews() == burst+1
	}, "toggles were dropped under load")
	h.stopAndWait(t)
}

func TestEngineNavigation(t *testing.T) {
	defer goleak.VerifyNone(t)
	choices := make([]string, 6)
	for i := range choices {
		choices[i] = fmt.Sprintf("choice %d", i)
	}
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices(choices...),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 1 }, "no view")
	assert.Equal(t, 0, h.surface.lastView().Page)

	h.send(ballotbox.Navigate{
		ParticipantID: "alice",
		Direction:     session.DirectionRight,
	})
	waitFor(t, func() bool { return h.surface.numViews() >= 2 }, "no page turn")
	assert.Equal(t, 1, h.surface.lastView().Page)

	// Left from page 1 returns to page 0, left again wraps to the last page
	h.send(ballotbox.Navigate{
		ParticipantID: "alice",
		Direction:     session.DirectionLeft,
	})
	h.send(ballotbox.Navigate{
		ParticipantID: "alice",
		Direction:     session.DirectionLeft,
	})
	waitFor(t, func() bool { return h.surface.numViews() >= 4 }, "no page turns")
	assert.Equal(t, 1, h.surface.lastView().Page)
	h.stopAndWait(t)
}

func TestEngineScoreValueEntry(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodScore),
		ballotbox.WithChoices("red", "green", "blue"),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 1 }, "no view")

	// Touching a choice on a Score session prompts for a value instead of
	// mutating anything
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 1})
	waitFor(
		t,
		func() bool { return h.surface.numValueRequests() >= 1 },
		"no value request",
	)
	req := h.surface.lastValueRequest()
	assert.Equal(t, 1, req.Choice)
	assert.Equal(t, "green", req.ChoiceLabel)
	assert.Equal(t, 0.0, req.CurrentValue)
	assert.Equal(t, "score (-10.0 to 10.0)", req.ValueDescription)
	assert.Equal(t, 1, h.surface.numViews())

	// The entered value lands on the refreshed view
	h.send(ballotbox.ValueEntered{
		ParticipantID: "alice",
		Choice:        1,
		Text:          " 7.5 ",
	})
	waitFor(t, func() bool { return h.surface.numViews() >= 2 }, "no refresh")
	view := h.surface.lastView()
	assert.Equal(t, 7.5, view.Choices[1].Score)
	assert.Empty(t, view.Annotation)
	h.stopAndWait(t)
}

func TestEngineScoreBadValueClamped(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodScore),
		ballotbox.WithChoices("red", "green", "blue"),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 1 }, "no view")

	testDefs := []string{"not a number", "11.0", "-10.5"}
	for i, text := range testDefs {
		h.send(ballotbox.ValueEntered{
			ParticipantID: "alice",
			Choice:        0,
			Text:          text,
		})
		waitFor(t, func() bool {
			return h.surface.numViews() >= i+2
		}, "no refresh")
		view := h.surface.lastView()
		// Unusable entries clamp to zero with an inline error
		assert.Equal(t, 0.0, view.Choices[0].Score, "input %q", text)
		assert.Equal(t, "Error: bad value", view.Annotation, "input %q", text)
	}
	h.stopAndWait(t)
}

func TestEngineLimitedScoreBudget(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodLimitedScore),
		ballotbox.WithChoices("red", "green", "blue"),
		ballotbox.WithAllowResubmission(true),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	h.send(ballotbox.ValueEntered{
		ParticipantID: "alice",
		Choice:        0,
		Text:          "6.0",
	})
	h.send(ballotbox.ValueEntered{
		ParticipantID: "alice",
		Choice:        1,
		Text:          "5.0",
	})
	waitFor(t, func() bool { return h.surface.numViews() >= 3 }, "no views")

	// Individually valid scores can still exceed the whole-ballot budget
	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 4 }, "no rejection")
	view := h.surface.lastView()
	assert.Contains(t, view.Annotation, "Error:")
	assert.Contains(t, view.Annotation, "sum(abs(scores)) <= 10.0")
	assert.Equal(t, 0, h.engine.VoterCount())

	// Lowering one score brings the ballot under budget
	h.send(ballotbox.ValueEntered{
		ParticipantID: "alice",
		Choice:        1,
		Text:          "4.0",
	})
	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numResults() >= 1 }, "no result")
	assert.Equal(t, 1, h.engine.VoterCount())
	result := h.surface.lastResult()
	assert.Equal(t, 6.0, result.Totals[0].Total)
	assert.Equal(t, 4.0, result.Totals[1].Total)
	h.stopAndWait(t)
}

func TestEngineBordaRanking(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodBorda),
		ballotbox.WithChoices("red", "green", "blue"),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 1 }, "no view")

	// An untouched ballot is rejected even though defaults would fill it
	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 2 }, "no rejection")
	view := h.surface.lastView()
	assert.Contains(t, view.Annotation, "Error:")
	assert.Contains(t, view.Annotation, "rank (1 is 1st choice, 2 second, ...)")

	// Each touch advances the rank; one touch per choice ranks them all 1st
	// so a second touch of red makes it 2nd
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 0})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 0})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 1})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 2})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 2})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 2})
	waitFor(t, func() bool { return h.surface.numViews() >= 8 }, "no refreshes")
	view = h.surface.lastView()
	assert.Equal(t, 2, view.Choices[0].Rank)
	assert.Equal(t, 1, view.Choices[1].Rank)
	assert.Equal(t, 3, view.Choices[2].Rank)

	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numResults() >= 1 }, "no result")
	result := h.surface.lastResult()
	// green 1st (2 points), red 2nd (1 point), blue 3rd (0 points)
	assert.Equal(t, 1.0, result.Totals[0].Total)
	assert.Equal(t, 2.0, result.Totals[1].Total)
	assert.Equal(t, 0.0, result.Totals[2].Total)
	assert.Equal(t, []string{"green"}, result.WinnerLabels())
	h.stopAndWait(t)
}

func TestEngineResubmissionDisallowed(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green", "blue"),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 0})
	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numResults() >= 1 }, "no result")
	assert.Equal(t, 1, h.engine.VoterCount())

	// A second submit just serves fresh results without re-recording
	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numResults() >= 2 }, "no result")
	assert.Equal(t, 1, h.engine.VoterCount())
	counts := h.surface.lastVoterCounts()
	assert.Equal(t, []int{0, 1}, counts)

	// Reopening the ballot shows it locked
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	waitFor(t, func() bool {
		return h.surface.numViews() >= 1 && h.surface.lastView().Locked
	}, "no locked view")
	h.stopAndWait(t)
}

func TestEngineResubmissionAllowed(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green", "blue"),
		ballotbox.WithAllowResubmission(true),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 0})
	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numResults() >= 1 }, "no result")

	// The overwrite replaces the previous ballot without bumping the count
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 0})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 2})
	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numResults() >= 2 }, "no result")
	assert.Equal(t, 1, h.engine.VoterCount())
	result := h.surface.lastResult()
	assert.Equal(t, 0.0, result.Totals[0].Total)
	assert.Equal(t, 1.0, result.Totals[2].Total)
	assert.Equal(t, []int{0, 1}, h.surface.lastVoterCounts())
	h.stopAndWait(t)
}

func TestEngineDeadlineClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green"),
		ballotbox.WithTimeout(50*time.Millisecond),
	)
	select {
	case <-h.engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not close at deadline")
	}
	assert.NoError(t, h.engine.Err())
	notices := h.surface.closedNotices()
	require.Len(t, notices, 1)
	require.NotNil(t, notices[0].Result)
	assert.Equal(t, 0, notices[0].Result.VoterCount)
	assert.Empty(t, notices[0].Result.Winners)
	h.bus.Stop()
}

func TestEnginePostCloseActionsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green", "blue"),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 0})
	waitFor(t, func() bool { return h.surface.numViews() >= 2 }, "no views")

	require.NoError(t, h.engine.Stop())
	select {
	case <-h.engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for engine to stop")
	}
	views := h.surface.numViews()
	counts := h.surface.lastVoterCounts()

	// Actions arriving after closure are dropped without any effect on
	// state or rendered output
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 1})
	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, views, h.surface.numViews())
	assert.Equal(t, counts, h.surface.lastVoterCounts())
	assert.Equal(t, 0, h.engine.VoterCount())
	assert.Equal(t, 0, h.surface.numResults())
	assert.NoError(t, h.engine.Err())
	h.bus.Stop()
}

func TestEngineHideResultOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green"),
		ballotbox.WithShowResultOnClose(false),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	h.send(ballotbox.SubmitRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numResults() >= 1 }, "no result")
	h.stopAndWait(t)
	notices := h.surface.closedNotices()
	require.Len(t, notices, 1)
	// The closing display hides the tally, but the engine still computed it
	assert.Nil(t, notices[0].Result)
	require.NotNil(t, h.engine.Result())
	assert.Equal(t, 1, h.engine.Result().VoterCount)
}

func TestEngineContractViolationAborts(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green"),
	)
	// A follow-up action for a participant that never opened a ballot is a
	// surface routing bug
	h.send(ballotbox.Navigate{
		ParticipantID: "ghost",
		Direction:     session.DirectionRight,
	})
	select {
	case <-h.engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not abort")
	}
	err := h.engine.Err()
	require.Error(t, err)
	var violation *ballotbox.ContractViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, session.ParticipantID("ghost"), violation.Participant)
	require.ErrorIs(t, err, session.ErrUnknownParticipant)
	// No closing display goes out on an abort
	assert.Empty(t, h.surface.closedNotices())
	h.bus.Stop()
}

func TestEngineValueEnteredWrongMethod(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green"),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 1 }, "no view")
	h.send(ballotbox.ValueEntered{
		ParticipantID: "alice",
		Choice:        0,
		Text:          "5.0",
	})
	select {
	case <-h.engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not abort")
	}
	var violation *ballotbox.ContractViolationError
	require.ErrorAs(t, h.engine.Err(), &violation)
	h.bus.Stop()
}

func TestEngineChoiceIndexOutOfRange(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green"),
	)
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 1 }, "no view")
	h.send(ballotbox.ToggleChoice{ParticipantID: "alice", Choice: 5})
	select {
	case <-h.engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not abort")
	}
	var violation *ballotbox.ContractViolationError
	require.ErrorAs(t, h.engine.Err(), &violation)
	h.bus.Stop()
}

func TestEngineIgnoresOtherSessions(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t,
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green"),
	)
	// Actions for other sessions on the shared stream are skipped, even
	// ones that would otherwise be contract violations
	h.sendTo("some-other-session", ballotbox.Navigate{
		ParticipantID: "ghost",
		Direction:     session.DirectionLeft,
	})
	h.send(ballotbox.OpenBallotRequested{ParticipantID: "alice"})
	waitFor(t, func() bool { return h.surface.numViews() >= 1 }, "no view")
	assert.NoError(t, h.engine.Err())
	h.stopAndWait(t)
}

func TestEngineTwoSessionsShareBus(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := event.NewEventBus(nil, nil)
	surface1 := &mockSurface{}
	surface2 := &mockSurface{}
	engine1, err := ballotbox.NewEngine(ballotbox.NewConfig(
		ballotbox.WithEventBus(bus),
		ballotbox.WithSurface(surface1),
		ballotbox.WithSessionId("session-1"),
		ballotbox.WithMethod(ballot.MethodApproval),
		ballotbox.WithChoices("red", "green"),
	))
	require.NoError(t, err)
	engine2, err := ballotbox.NewEngine(ballotbox.NewConfig(
		ballotbox.WithEventBus(bus),
		ballotbox.WithSurface(surface2),
		ballotbox.WithSessionId("session-2"),
		ballotbox.WithMethod(ballot.MethodBorda),
		ballotbox.WithChoices("alpha", "beta"),
	))
	require.NoError(t, err)
	require.NoError(t, engine1.Start())
	require.NoError(t, engine2.Start())

	bus.Publish(
		ballotbox.ActionEventType,
		event.NewEvent(
			ballotbox.ActionEventType,
			ballotbox.ActionEvent{
				Action:    ballotbox.OpenBallotRequested{ParticipantID: "alice"},
				SessionID: "session-1",
			},
		),
	)
	require.Eventually(t, func() bool {
		return surface1.numViews() >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, surface2.numViews())

	require.NoError(t, engine1.Stop())
	require.NoError(t, engine2.Stop())
	for _, e := range []*ballotbox.Engine{engine1, engine2} {
		select {
		case <-e.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for engine to stop")
		}
	}
	bus.Stop()
}
