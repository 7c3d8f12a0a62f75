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
	"io"
	"log/slog"
	"sync"
)

// RegistrySessionClosedFunc is a function that takes a session ID and an
// optional error
type RegistrySessionClosedFunc func(string, error)

// Registry tracks the live session engines of a process so that surfaces
// and operators can look sessions up by ID. Engines remove themselves when
// their loop terminates.
type Registry struct {
	sessions      map[string]*Engine
	config        RegistryConfig
	sessionsMutex sync.Mutex
}

type RegistryConfig struct {
	Logger *slog.Logger
	// SessionClosedFunc is called after a session leaves the registry,
	// with the error that aborted it (nil on a normal close)
	SessionClosedFunc RegistrySessionClosedFunc
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	cfg.Logger = cfg.Logger.With("component", "registry")
	return &Registry{
		config:   cfg,
		sessions: make(map[string]*Engine),
	}
}

// AddSession registers a started engine and watches for its termination
func (r *Registry) AddSession(engine *Engine) error {
	sessionId := engine.SessionId()
	r.sessionsMutex.Lock()
	if _, exists := r.sessions[sessionId]; exists {
		r.sessionsMutex.Unlock()
		return fmt.Errorf("session already registered: %s", sessionId)
	}
	r.sessions[sessionId] = engine
	r.sessionsMutex.Unlock()
	go func() {
		<-engine.Done()
		err := engine.Err()
		// Remove session
		r.RemoveSession(sessionId)
		if err != nil {
			r.config.Logger.Error(
				"session terminated with error",
				"session_id", sessionId,
				"error", err,
			)
		}
		// Call configured session closed callback func
		if r.config.SessionClosedFunc != nil {
			r.config.SessionClosedFunc(sessionId, err)
		}
	}()
	return nil
}

func (r *Registry) RemoveSession(sessionId string) {
	r.sessionsMutex.Lock()
	delete(r.sessions, sessionId)
	r.sessionsMutex.Unlock()
}

func (r *Registry) GetSessionById(sessionId string) *Engine {
	r.sessionsMutex.Lock()
	defer r.sessionsMutex.Unlock()
	if engine, exists := r.sessions[sessionId]; exists {
		return engine
	}
	return nil // nil indicates session not found
}

// SessionIds returns the IDs of all registered sessions
func (r *Registry) SessionIds() []string {
	r.sessionsMutex.Lock()
	defer r.sessionsMutex.Unlock()
	ret := make([]string, 0, len(r.sessions))
	for sessionId := range r.sessions {
		ret = append(ret, sessionId)
	}
	return ret
}

// Stop requests an early close of every registered session
func (r *Registry) Stop() error {
	r.sessionsMutex.Lock()
	engines := make([]*Engine, 0, len(r.sessions))
	for _, engine := range r.sessions {
		engines = append(engines, engine)
	}
	r.sessionsMutex.Unlock()
	for _, engine := range engines {
		if err := engine.Stop(); err != nil {
			return err
		}
	}
	return nil
}
