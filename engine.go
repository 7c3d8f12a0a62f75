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
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/ballotbox/ballot"
	"github.com/blinklabs-io/ballotbox/event"
	"github.com/blinklabs-io/ballotbox/session"
	"github.com/blinklabs-io/ballotbox/tally"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine runs one ballot session: it owns the session state, merges the
// participant action streams delivered over the event bus into a single
// loop, applies them to the state and drives the interaction surface. The
// loop suspends only while waiting for the next action or the deadline,
// never while holding state locks, and no lock is held across a surface
// round trip.
type Engine struct {
	config  Config
	state   *session.State
	logger  *slog.Logger
	metrics struct {
		actionsTotal       *prometheus.CounterVec
		ballotsAccepted    prometheus.Counter
		validationFailures prometheus.Counter
		sessionsActive     prometheus.Gauge
	}
	ctx       context.Context
	ctxCancel context.CancelFunc
	sessionId string
	result    *tally.Result
	err       error
	resultMu  sync.RWMutex
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewEngine creates a session engine from the provided config. The session
// does not accept actions until Start is called.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.choices = normalizeChoices(cfg.choices)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.sessionId == "" {
		cfg.sessionId = uuid.NewString()
	}
	state, err := session.NewState(cfg.method, cfg.choices, cfg.pageSize)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	e := &Engine{
		config:    cfg,
		state:     state,
		sessionId: cfg.sessionId,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	e.ctx, e.ctxCancel = context.WithCancel(context.Background())
	if cfg.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		e.logger = cfg.logger
	}
	// Const-labeled per session so multiple engines can share a registry
	constLabels := prometheus.Labels{"session": e.sessionId}
	promautoFactory := promauto.With(cfg.promRegistry)
	e.metrics.actionsTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "ballotbox_session_actions_total",
			Help:        "participant actions processed per action type",
			ConstLabels: constLabels,
		},
		[]string{"action"},
	)
	e.metrics.ballotsAccepted = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name:        "ballotbox_session_ballots_accepted_total",
			Help:        "first-time accepted ballot submissions",
			ConstLabels: constLabels,
		},
	)
	e.metrics.validationFailures = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name:        "ballotbox_session_validation_failures_total",
			Help:        "ballot submissions rejected by method validation",
			ConstLabels: constLabels,
		},
	)
	e.metrics.sessionsActive = promautoFactory.NewGauge(
		prometheus.GaugeOpts{
			Name:        "ballotbox_session_active",
			Help:        "whether this session engine is accepting actions",
			ConstLabels: constLabels,
		},
	)
	return e, nil
}

// SessionId returns the session's identifier
func (e *Engine) SessionId() string {
	return e.sessionId
}

// Start subscribes the engine to its action stream and launches the session
// loop. The deadline timer starts now.
func (e *Engine) Start() error {
	e.startOnce.Do(func() {
		subId, actionCh := e.config.eventBus.Subscribe(ActionEventType)
		e.metrics.sessionsActive.Inc()
		e.config.eventBus.Publish(
			SessionStartedEventType,
			event.NewEvent(
				SessionStartedEventType,
				SessionStartedEvent{
					Deadline:  time.Now().Add(e.config.timeout),
					SessionID: e.sessionId,
					Method:    string(e.config.method),
					Choices:   e.state.Choices(),
				},
			),
		)
		e.logger.Info(
			"session started",
			"component", "engine",
			"session_id", e.sessionId,
			"method", e.config.method,
			"choices", e.state.NumChoices(),
			"timeout", e.config.timeout.String(),
		)
		// Seed the public display with a zero voter count
		if err := e.config.surface.UpdateVoterCount(e.ctx, e.sessionId, 0); err != nil {
			e.logger.Warn(
				"failed to update public voter count",
				"component", "engine",
				"session_id", e.sessionId,
				"error", err,
			)
		}
		go e.run(subId, actionCh)
	})
	return nil
}

// Stop requests an early close of the session. It is safe to call multiple
// times and after the deadline has fired.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	return nil
}

// Done returns a channel that is closed when the session loop has
// terminated
func (e *Engine) Done() <-chan struct{} {
	return e.doneCh
}

// Err returns the error that aborted the session loop, or nil after a
// normal close
func (e *Engine) Err() error {
	e.resultMu.RLock()
	defer e.resultMu.RUnlock()
	return e.err
}

// Result returns the final tally, available once Done is closed after a
// normal session close
func (e *Engine) Result() *tally.Result {
	e.resultMu.RLock()
	defer e.resultMu.RUnlock()
	return e.result
}

// VoterCount returns the current number of distinct submitted ballots
func (e *Engine) VoterCount() int {
	return e.state.VoterCount()
}

func (e *Engine) run(
	subId event.EventSubscriberId,
	actionCh <-chan event.Event,
) {
	defer close(e.doneCh)
	defer e.ctxCancel()
	defer e.metrics.sessionsActive.Dec()
	defer e.config.eventBus.Unsubscribe(ActionEventType, subId)
	timer := time.NewTimer(e.config.timeout)
	defer timer.Stop()
	for {
		select {
		case evt, ok := <-actionCh:
			if !ok {
				// Bus shutdown closes our action stream; treat it like an
				// explicit stop
				e.close("action stream closed")
				return
			}
			actionEvt, ok := evt.Data.(ActionEvent)
			if !ok || actionEvt.SessionID != e.sessionId {
				continue
			}
			if err := e.handleAction(actionEvt.Action); err != nil {
				e.abort(err)
				return
			}
		case <-timer.C:
			e.close("deadline")
			return
		case <-e.stopCh:
			e.close("stopped")
			return
		}
	}
}

// abort terminates the session after a contract violation. No closing
// directive is emitted; the error is for operators, not participants.
func (e *Engine) abort(err error) {
	e.logger.Error(
		"aborting session",
		"component", "engine",
		"session_id", e.sessionId,
		"error", err,
	)
	e.resultMu.Lock()
	e.err = err
	e.resultMu.Unlock()
}

// close finishes the session normally: the result is computed once from
// the submitted ballots, the closing notice goes out and the lifecycle
// event is published
func (e *Engine) close(reason string) {
	result, err := tally.Compute(
		e.config.method,
		e.state.SubmittedBallots(),
		e.state.Choices(),
	)
	if err != nil {
		e.abort(err)
		return
	}
	e.resultMu.Lock()
	e.result = &result
	e.resultMu.Unlock()
	var noticeResult *tally.Result
	if e.config.showResultOnClose {
		noticeResult = &result
	}
	if err := e.config.surface.ShowSessionClosed(e.ctx, ClosedNotice{
		SessionID: e.sessionId,
		Result:    noticeResult,
	}); err != nil {
		e.logger.Warn(
			"failed to show session closed notice",
			"component", "engine",
			"session_id", e.sessionId,
			"error", err,
		)
	}
	e.config.eventBus.Publish(
		SessionClosedEventType,
		event.NewEvent(
			SessionClosedEventType,
			SessionClosedEvent{
				SessionID: e.sessionId,
				Result:    noticeResult,
			},
		),
	)
	e.logger.Info(
		"session closed",
		"component", "engine",
		"session_id", e.sessionId,
		"reason", reason,
		"voters", result.VoterCount,
	)
}

func actionName(action Action) string {
	switch action.(type) {
	case OpenBallotRequested:
		return "open_ballot"
	case Navigate:
		return "navigate"
	case ToggleChoice:
		return "toggle_choice"
	case ValueEntered:
		return "value_entered"
	case SubmitRequested:
		return "submit"
	default:
		return "unknown"
	}
}

// handleAction applies one participant action to the session. A returned
// error is always a contract violation and aborts the session; validation
// failures are folded into view annotations instead.
func (e *Engine) handleAction(action Action) error {
	e.metrics.actionsTotal.WithLabelValues(actionName(action)).Inc()
	switch a := action.(type) {
	case OpenBallotRequested:
		return e.handleOpenBallot(a)
	case Navigate:
		return e.handleNavigate(a)
	case ToggleChoice:
		return e.handleToggleChoice(a)
	case ValueEntered:
		return e.handleValueEntered(a)
	case SubmitRequested:
		return e.handleSubmit(a)
	default:
		return &ContractViolationError{
			SessionID:   e.sessionId,
			Action:      actionName(action),
			Participant: action.Participant(),
			Err:         fmt.Errorf("unknown action type %T", action),
		}
	}
}

// locked reports whether the participant's view should be rendered in the
// already-submitted framing
func (e *Engine) locked(id session.ParticipantID) bool {
	return !e.config.allowResubmission && e.state.HasSubmitted(id)
}

// showView renders the participant's current page. The fresh flag selects
// between creating a new private view and updating the existing one, and
// the returned view handle is recorded back into the participant.
func (e *Engine) showView(
	id session.ParticipantID,
	fresh bool,
	annotation string,
) error {
	view, err := e.state.ViewPage(id)
	if err != nil {
		return err
	}
	view.Refresh = !fresh
	view.Locked = e.locked(id)
	view.Annotation = annotation
	handle, err := e.config.surface.ShowBallotView(e.ctx, e.sessionId, view)
	if err != nil {
		// Delivery is the surface's concern
		e.logger.Warn(
			"failed to show ballot view",
			"component", "engine",
			"session_id", e.sessionId,
			"participant", id,
			"error", err,
		)
		return nil
	}
	return e.state.SetView(id, handle)
}

func (e *Engine) handleOpenBallot(a OpenBallotRequested) error {
	if _, err := e.state.GetOrCreateParticipant(a.ParticipantID); err != nil {
		return err
	}
	return e.showView(a.ParticipantID, true, "")
}

func (e *Engine) handleNavigate(a Navigate) error {
	if _, err := e.state.TurnPage(a.ParticipantID, a.Direction); err != nil {
		return e.contractViolation(a, err)
	}
	return e.showView(a.ParticipantID, false, "")
}

func (e *Engine) handleToggleChoice(a ToggleChoice) error {
	if a.Choice < 0 || a.Choice >= e.state.NumChoices() {
		return e.contractViolation(
			a,
			fmt.Errorf("choice index %d out of range", a.Choice),
		)
	}
	switch e.config.method {
	case ballot.MethodApproval:
		if err := e.state.ToggleSelection(a.ParticipantID, a.Choice); err != nil {
			return e.contractViolation(a, err)
		}
		return e.showView(a.ParticipantID, false, "")
	case ballot.MethodBorda:
		if err := e.state.IncrementRank(a.ParticipantID, a.Choice); err != nil {
			return e.contractViolation(a, err)
		}
		return e.showView(a.ParticipantID, false, "")
	case ballot.MethodScore, ballot.MethodLimitedScore:
		// Collecting a numeric value needs a prompt round trip; nothing is
		// mutated until the ValueEntered action comes back
		current, err := e.state.Score(a.ParticipantID, a.Choice)
		if err != nil {
			return e.contractViolation(a, err)
		}
		req := ValueEntryRequest{
			SessionID:        e.sessionId,
			Participant:      a.ParticipantID,
			Choice:           a.Choice,
			ChoiceLabel:      e.state.Choices()[a.Choice],
			ValueDescription: e.config.method.ValueDescription(),
			CurrentValue:     current,
		}
		if err := e.config.surface.RequestValueEntry(e.ctx, req); err != nil {
			e.logger.Warn(
				"failed to request value entry",
				"component", "engine",
				"session_id", e.sessionId,
				"participant", a.ParticipantID,
				"error", err,
			)
		}
		return nil
	default:
		return e.contractViolation(
			a,
			fmt.Errorf("unknown voting method: %s", e.config.method),
		)
	}
}

func (e *Engine) handleValueEntered(a ValueEntered) error {
	if e.config.method != ballot.MethodScore &&
		e.config.method != ballot.MethodLimitedScore {
		return e.contractViolation(
			a,
			fmt.Errorf(
				"value entry does not apply to a %s session",
				e.config.method.DisplayName(),
			),
		)
	}
	if a.Choice < 0 || a.Choice >= e.state.NumChoices() {
		return e.contractViolation(
			a,
			fmt.Errorf("choice index %d out of range", a.Choice),
		)
	}
	var annotation string
	value, err := strconv.ParseFloat(strings.TrimSpace(a.Text), 64)
	if err != nil || !e.config.method.ValidValue(value, e.state.NumChoices()) {
		// Unusable entries are clamped to zero with an inline error rather
		// than rejected, so the participant's view stays consistent
		value = 0.0
		annotation = "Error: bad value"
		e.logger.Debug(
			"clamping bad entered value",
			"component", "engine",
			"session_id", e.sessionId,
			"participant", a.ParticipantID,
			"text", a.Text,
		)
	}
	if err := e.state.SetScore(a.ParticipantID, a.Choice, value); err != nil {
		return e.contractViolation(a, err)
	}
	return e.showView(a.ParticipantID, false, annotation)
}

func (e *Engine) handleSubmit(a SubmitRequested) error {
	// A repeat submit when resubmission is disallowed skips validation and
	// just serves fresh results
	if e.locked(a.ParticipantID) {
		if _, err := e.state.View(a.ParticipantID); err != nil {
			return e.contractViolation(a, err)
		}
		return e.showResult(a.ParticipantID)
	}
	outcome, err := e.state.RecordSubmission(a.ParticipantID)
	if err != nil {
		return e.contractViolation(a, err)
	}
	if !outcome.Accepted {
		e.metrics.validationFailures.Inc()
		annotation := fmt.Sprintf(
			"Error: %s (each value should be a %s)",
			outcome.Reason,
			e.config.method.ValueDescription(),
		)
		return e.showView(a.ParticipantID, false, annotation)
	}
	if outcome.FirstAccept {
		e.metrics.ballotsAccepted.Inc()
		if err := e.config.surface.UpdateVoterCount(
			e.ctx,
			e.sessionId,
			outcome.VoterCount,
		); err != nil {
			e.logger.Warn(
				"failed to update public voter count",
				"component", "engine",
				"session_id", e.sessionId,
				"error", err,
			)
		}
		e.config.eventBus.Publish(
			SubmissionAcceptedEventType,
			event.NewEvent(
				SubmissionAcceptedEventType,
				SubmissionAcceptedEvent{
					SessionID:   e.sessionId,
					Participant: a.ParticipantID,
					VoterCount:  outcome.VoterCount,
				},
			),
		)
		e.logger.Info(
			"ballot accepted",
			"component", "engine",
			"session_id", e.sessionId,
			"participant", a.ParticipantID,
			"voters", outcome.VoterCount,
		)
	}
	return e.showResult(a.ParticipantID)
}

// showResult computes a fresh tally and shows it privately to one
// participant
func (e *Engine) showResult(id session.ParticipantID) error {
	result, err := tally.Compute(
		e.config.method,
		e.state.SubmittedBallots(),
		e.state.Choices(),
	)
	if err != nil {
		return err
	}
	if err := e.config.surface.ShowResult(e.ctx, e.sessionId, id, result); err != nil {
		e.logger.Warn(
			"failed to show result",
			"component", "engine",
			"session_id", e.sessionId,
			"participant", id,
			"error", err,
		)
	}
	return nil
}

// contractViolation wraps a state error from a routed action. Unknown
// participants, method mismatches and out-of-range indices all funnel into
// the same abort path.
func (e *Engine) contractViolation(action Action, err error) error {
	return &ContractViolationError{
		SessionID:   e.sessionId,
		Action:      actionName(action),
		Participant: action.Participant(),
		Err:         err,
	}
}
