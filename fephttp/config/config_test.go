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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Router: RouterConfig{
			DefaultBackend: "fastcgi",
			StaticFiles: StaticFilesConfig{
				Root:       "/var/www",
				IndexFiles: []string{"index.html"},
			},
		},
		Pool: PoolConfig{
			FPMSocket:          "127.0.0.1:9000",
			MaxSize:            16,
			ConnectTimeoutSecs: 2,
			AcquireTimeoutSecs: 2,
			CircuitBreaker: CircuitBreakerConfig{
				Enable:              true,
				FailureThreshold:    3,
				SuccessThreshold:    2,
				TimeoutSeconds:      1,
				HalfOpenMaxRequests: 1,
			},
		},
		PHP: PHPConfig{
			LibraryPath:    "/usr/lib/libphp.so",
			DocumentRoot:   "/var/www",
			WorkerPoolSize: 4,
		},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidateRejectsUnknownBackendID(t *testing.T) {
	cfg := validConfig()
	cfg.Router.DefaultBackend = "nonsense"
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsMissingPoolMaxSize(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.MaxSize = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsBreakerMissingThresholdsWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.CircuitBreaker.FailureThreshold = 0
	assert.Error(t, Validate(cfg))
}

// TestValidateAllowsEmbeddedPhpDisabled covers §9 Open Question 2: an
// empty php.library_path disables the embedded backend rather than
// failing validation.
func TestValidateAllowsEmbeddedPhpDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.PHP = PHPConfig{}
	assert.NoError(t, Validate(cfg))
}

func TestValidateRejectsDocumentRootMissingWhenLibraryPathSet(t *testing.T) {
	cfg := validConfig()
	cfg.PHP.DocumentRoot = ""
	assert.Error(t, Validate(cfg))
}
