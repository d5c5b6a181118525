// Copyright 2024 The fe-php Authors
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

// Package config declares the already-parsed Go structs matching the
// configuration keys consumed by the core (§6). Loading and parsing a
// config file is explicitly out of scope (§1); this package only takes a
// struct some outer layer already decoded from YAML/TOML/whatever, and
// validates it with github.com/go-playground/validator/v10 the same way
// sandrolain/events-bridge validates its decoded bridge config
// (src/config/config.go's LoadConfigFile/LoadEnvConfigFile), so a
// misconfigured pool or breaker fails fast with a field-level error
// instead of misbehaving once requests start arriving.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// PatternConfig mirrors backend.routing_rules[].pattern (§6).
type PatternConfig struct {
	Type  string `validate:"required,oneof=exact prefix suffix regex"`
	Value string `validate:"required"`
}

// RuleConfig mirrors one entry of backend.routing_rules[] (§6).
type RuleConfig struct {
	Pattern  PatternConfig `validate:"required"`
	Backend  string        `validate:"required,oneof=embedded fastcgi static"`
	Priority int
}

// StaticFilesConfig mirrors backend.static_files.* (§6).
type StaticFilesConfig struct {
	Root       string   `validate:"required"`
	IndexFiles []string `validate:"omitempty,dive,required"`
}

// RouterConfig mirrors the backend.* keys (§6).
type RouterConfig struct {
	EnableHybrid   bool
	DefaultBackend string            `validate:"required,oneof=embedded fastcgi static"`
	RoutingRules   []RuleConfig      `validate:"omitempty,dive"`
	StaticFiles    StaticFilesConfig `validate:"required"`
}

// CircuitBreakerConfig mirrors pool.circuit_breaker.* (§6).
type CircuitBreakerConfig struct {
	Enable              bool
	FailureThreshold    int `validate:"required_if=Enable true,gte=1"`
	SuccessThreshold    int `validate:"required_if=Enable true,gte=1"`
	TimeoutSeconds      int `validate:"required_if=Enable true,gte=1"`
	HalfOpenMaxRequests int `validate:"required_if=Enable true,gte=1"`
}

// PoolConfig mirrors fpm_socket and pool.* (§6).
type PoolConfig struct {
	FPMSocket          string               `validate:"required"`
	MaxSize            int                  `validate:"required,gte=1"`
	MaxIdleSecs        int                  `validate:"gte=0"`
	MaxLifetimeSecs    int                  `validate:"gte=0"`
	ConnectTimeoutSecs int                  `validate:"required,gte=1"`
	AcquireTimeoutSecs int                  `validate:"required,gte=1"`
	CircuitBreaker     CircuitBreakerConfig `validate:"required"`
}

// PHPConfig mirrors php.* (§6). LibraryPath is the embedded backend's
// on/off switch (§9 Open Question 2: "silent fallback to FastCGI"):
// leaving it empty disables the embedded worker pool entirely rather
// than failing validation, so DocumentRoot/WorkerPoolSize are only
// required once a library path is actually given.
type PHPConfig struct {
	LibraryPath       string
	DocumentRoot      string `validate:"required_with=LibraryPath"`
	WorkerPoolSize    int    `validate:"required_with=LibraryPath,omitempty,gte=1"`
	WorkerMaxRequests int    `validate:"gte=0"`
	OpcacheEnabled    bool
}

// Config is the whole already-parsed configuration tree the core cares
// about (§6). An outer layer (out of scope here) decodes it from whatever
// file format it supports and hands it to Validate before wiring the
// router, pool, and worker pool from it.
type Config struct {
	Router RouterConfig `validate:"required"`
	Pool   PoolConfig   `validate:"required"`
	// PHP has no "required" tag: its zero value is how an operator
	// disables the embedded backend entirely (§9 Open Question 2).
	PHP PHPConfig
}

var validate = validator.New()

// Validate runs struct-tag validation over cfg, returning a wrapped
// validator.ValidationErrors on the first field-level failure set. This
// is the only place ConfigError-shaped failures originate before router
// construction (§4.1: "regex compilation failures are reported at router
// construction time" -- this is the layer above that, catching missing
// or out-of-range fields before a regex is even compiled).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
