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
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/blinklabs-io/ballotbox"
	"github.com/blinklabs-io/ballotbox/event"
	"github.com/blinklabs-io/ballotbox/session"
)

// InputLoop reads participant commands from a stream and publishes them as
// session actions. Command syntax, one per line:
//
//	<session> <participant> open
//	<session> <participant> left
//	<session> <participant> right
//	<session> <participant> toggle <choice>
//	<session> <participant> value <choice> <text>
//	<session> <participant> submit
type InputLoop struct {
	config InputLoopConfig
}

type InputLoopConfig struct {
	Logger *slog.Logger
	// Input is the command stream, os.Stdin when nil
	Input    io.Reader
	EventBus *event.EventBus
}

func NewInputLoop(cfg InputLoopConfig) *InputLoop {
	if cfg.Input == nil {
		cfg.Input = os.Stdin
	}
	return &InputLoop{
		config: cfg,
	}
}

// Run reads commands until the input stream ends or the context is
// cancelled. Malformed lines are logged and skipped.
func (l *InputLoop) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(l.config.Input)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sessionId, action, err := parseCommand(line)
		if err != nil {
			if l.config.Logger != nil {
				l.config.Logger.Warn(
					"skipping malformed command",
					"component", "terminal",
					"line", line,
					"error", err,
				)
			}
			continue
		}
		l.config.EventBus.Publish(
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
	return scanner.Err()
}

func parseCommand(line string) (string, ballotbox.Action, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", nil, fmt.Errorf(
			"expected at least 3 fields, got %d",
			len(fields),
		)
	}
	sessionId := fields[0]
	participant := session.ParticipantID(fields[1])
	verb := fields[2]
	args := fields[3:]
	switch verb {
	case "open":
		return sessionId, ballotbox.OpenBallotRequested{
			ParticipantID: participant,
		}, nil
	case "left":
		return sessionId, ballotbox.Navigate{
			ParticipantID: participant,
			Direction:     session.DirectionLeft,
		}, nil
	case "right":
		return sessionId, ballotbox.Navigate{
			ParticipantID: participant,
			Direction:     session.DirectionRight,
		}, nil
	case "toggle":
		if len(args) != 1 {
			return "", nil, fmt.Errorf("toggle expects a choice index")
		}
		choice, err := strconv.Atoi(args[0])
		if err != nil {
			return "", nil, fmt.Errorf("invalid choice index: %w", err)
		}
		return sessionId, ballotbox.ToggleChoice{
			ParticipantID: participant,
			Choice:        choice,
		}, nil
	case "value":
		if len(args) < 2 {
			return "", nil, fmt.Errorf("value expects a choice index and text")
		}
		choice, err := strconv.Atoi(args[0])
		if err != nil {
			return "", nil, fmt.Errorf("invalid choice index: %w", err)
		}
		return sessionId, ballotbox.ValueEntered{
			ParticipantID: participant,
			Choice:        choice,
			Text:          strings.Join(args[1:], " "),
		}, nil
	case "submit":
		return sessionId, ballotbox.SubmitRequested{
			ParticipantID: participant,
		}, nil
	default:
		return "", nil, fmt.Errorf("unknown command: %s", verb)
	}
}
