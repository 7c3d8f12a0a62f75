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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blinklabs-io/ballotbox/ballot"
	"github.com/blinklabs-io/ballotbox/event"
	"github.com/blinklabs-io/ballotbox/session"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultSessionTimeout is used when no timeout is configured
	DefaultSessionTimeout = 90 * time.Minute
	// MaxChoiceLabelLength is the truncation limit for choice labels
	MaxChoiceLabelLength = 33
)

type Config struct {
	logger            *slog.Logger
	promRegistry      prometheus.Registerer
	eventBus          *event.EventBus
	surface           Surface
	sessionId         string
	method            ballot.Method
	choices           []string
	timeout           time.Duration
	pageSize          int
	allowResubmission bool
	showResultOnClose bool
}

// ConfigOptionFunc is a type that represents functions used to set config options
type ConfigOptionFunc func(*Config)

// NewConfig creates a new ballotbox config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		timeout:           DefaultSessionTimeout,
		pageSize:          session.DefaultPageSize,
		showResultOnClose: true,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies the prometheus registry for metrics
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithEventBus specifies the event bus that delivers participant actions
// and carries session lifecycle events
func WithEventBus(eventBus *event.EventBus) ConfigOptionFunc {
	return func(c *Config) {
		c.eventBus = eventBus
	}
}

// WithSurface specifies the interaction surface the engine drives
func WithSurface(surface Surface) ConfigOptionFunc {
	return func(c *Config) {
		c.surface = surface
	}
}

// WithSessionId specifies the session ID. A UUID is generated when unset.
func WithSessionId(sessionId string) ConfigOptionFunc {
	return func(c *Config) {
		c.sessionId = sessionId
	}
}

// WithMethod specifies the voting method
func WithMethod(method ballot.Method) ConfigOptionFunc {
	return func(c *Config) {
		c.method = method
	}
}

// WithChoices specifies the ordered choice labels
func WithChoices(choices ...string) ConfigOptionFunc {
	return func(c *Config) {
		c.choices = choices
	}
}

// WithTimeout specifies the session deadline as a duration from Start
func WithTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.timeout = timeout
	}
}

// WithPageSize specifies the number of choices per private view page
func WithPageSize(pageSize int) ConfigOptionFunc {
	return func(c *Config) {
		c.pageSize = pageSize
	}
}

// WithAllowResubmission controls whether a participant may overwrite their
// submitted ballot
func WithAllowResubmission(allow bool) ConfigOptionFunc {
	return func(c *Config) {
		c.allowResubmission = allow
	}
}

// WithShowResultOnClose controls whether the closing public display carries
// the full tally result or a generic finished notice
func WithShowResultOnClose(show bool) ConfigOptionFunc {
	return func(c *Config) {
		c.showResultOnClose = show
	}
}

// normalizeChoices trims whitespace, drops empty labels and truncates long
// ones to MaxChoiceLabelLength
func normalizeChoices(choices []string) []string {
	out := make([]string, 0, len(choices))
	for _, choice := range choices {
		choice = strings.TrimSpace(choice)
		if choice == "" {
			continue
		}
		if len(choice) > MaxChoiceLabelLength {
			choice = choice[:MaxChoiceLabelLength]
		}
		out = append(out, choice)
	}
	return out
}

func (c *Config) validate() error {
	if !c.method.Valid() {
		return fmt.Errorf("unknown voting method: %s", c.method)
	}
	if len(c.choices) < 2 {
		return fmt.Errorf(
			"a session requires at least 2 choices, got %d",
			len(c.choices),
		)
	}
	if c.surface == nil {
		return errors.New("no interaction surface defined")
	}
	if c.eventBus == nil {
		return errors.New("no event bus defined")
	}
	if c.timeout <= 0 {
		return fmt.Errorf("invalid session timeout: %s", c.timeout)
	}
	return nil
}
