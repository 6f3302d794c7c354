package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRespectsEnvironment(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		logLevel    string
		wantJSON    bool
	}{
		{name: "development defaults", environment: "development", wantJSON: false},
		{name: "production defaults", environment: "production", wantJSON: true},
		{name: "custom level", environment: "development", logLevel: "error", wantJSON: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prevEnv, hadEnv := os.LookupEnv("ENVIRONMENT")
			prevLevel, hadLevel := os.LookupEnv("LOG_LEVEL")
			defer func() {
				if hadEnv {
					os.Setenv("ENVIRONMENT", prevEnv)
				} else {
					os.Unsetenv("ENVIRONMENT")
				}
				if hadLevel {
					os.Setenv("LOG_LEVEL", prevLevel)
				} else {
					os.Unsetenv("LOG_LEVEL")
				}
			}()

			os.Setenv("ENVIRONMENT", tt.environment)
			if tt.logLevel != "" {
				os.Setenv("LOG_LEVEL", tt.logLevel)
			} else {
				os.Unsetenv("LOG_LEVEL")
			}

			cfg := fromEnv()
			assert.Equal(t, tt.wantJSON, cfg.JSONOutput)

			logger, err := New()
			require.NoError(t, err)
			require.NotNil(t, logger)
			defer logger.Sync()
		})
	}
}

func TestNewNopDiscardsOutput(t *testing.T) {
	logger := NewNop()
	require.NotNil(t, logger)
	logger.Info("should not panic or write anywhere")
}
