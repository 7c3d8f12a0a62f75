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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/ballotbox/ballot"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "ballotbox.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// SessionConfig describes one ballot session to start at service startup
type SessionConfig struct {
	Name              string   `yaml:"name"`
	Method            string   `yaml:"method"`
	Choices           []string `yaml:"choices"`
	Timeout           string   `yaml:"timeout"`
	PageSize          int      `yaml:"pageSize"`
	AllowResubmission bool     `yaml:"allowResubmission"`
	HideResultOnClose bool     `yaml:"hideResultOnClose"`
}

// ParsedTimeout returns the session timeout as a duration, or zero when
// unset so the engine default applies
func (s *SessionConfig) ParsedTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid session timeout: %w", err)
	}
	return timeout, nil
}

type Config struct {
	BindAddr        string          `yaml:"bindAddr"        split_words:"true"`
	ShutdownTimeout string          `yaml:"shutdownTimeout" split_words:"true"`
	Sessions        []SessionConfig `yaml:"sessions"`
	MetricsPort     uint            `yaml:"metricsPort"     split_words:"true"`
}

var globalConfig = &Config{
	BindAddr:        "0.0.0.0",
	MetricsPort:     12798,
	ShutdownTimeout: DefaultShutdownTimeout,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.ballotbox/ballotbox.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".ballotbox", "ballotbox.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/ballotbox/ballotbox.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/ballotbox/ballotbox.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("ballotbox", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Validate session definitions
	for idx, sessionCfg := range globalConfig.Sessions {
		if _, err := ballot.ParseMethod(sessionCfg.Method); err != nil {
			return nil, fmt.Errorf("session %d: %w", idx, err)
		}
		if len(sessionCfg.Choices) < 2 {
			return nil, fmt.Errorf(
				"session %d: requires at least 2 choices, got %d",
				idx,
				len(sessionCfg.Choices),
			)
		}
		if _, err := sessionCfg.ParsedTimeout(); err != nil {
			return nil, fmt.Errorf("session %d: %w", idx, err)
		}
	}

	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
