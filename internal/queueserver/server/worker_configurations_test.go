package server

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/queueserver/configuration"
	"github.com/G-Research/testdispatch/pkg/api"
)

func TestWorkerConfigurations(t *testing.T) {
	timeouts := api.TestTimeoutConfiguration{SingleTestMaximumDuration: time.Minute}
	overrideTimeouts := api.TestTimeoutConfiguration{SingleTestMaximumDuration: time.Hour}
	configurations := NewWorkerConfigurations(configuration.WorkersConfig{
		Defaults: configuration.WorkerDefaults{
			NumberOfSimulators:       2,
			TestTimeoutConfiguration: timeouts,
			PluginUrls:               []string{"https://plugins/default.zip"},
		},
		Overrides: map[string]configuration.WorkerOverride{
			"big": {NumberOfSimulators: 8, TestTimeoutConfiguration: &overrideTimeouts},
		},
	}, 10*time.Second, "signature")

	tests := map[string]struct {
		workerId api.WorkerId
		expected api.WorkerConfiguration
	}{
		"defaults": {
			workerId: "small",
			expected: api.WorkerConfiguration{
				NumberOfSimulators:       2,
				TestTimeoutConfiguration: timeouts,
				PluginUrls:               []string{"https://plugins/default.zip"},
				ReportAliveInterval:      10 * time.Second,
				RequestSignature:         "signature",
			},
		},
		"override": {
			workerId: "big",
			expected: api.WorkerConfiguration{
				NumberOfSimulators:       8,
				TestTimeoutConfiguration: overrideTimeouts,
				PluginUrls:               []string{"https://plugins/default.zip"},
				ReportAliveInterval:      10 * time.Second,
				RequestSignature:         "signature",
			},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			actual, err := configurations.Configuration(tc.workerId)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
	assert.Equal(t, 0, configurations.KnownWorkerCount())
}

func TestWorkerConfigurations_UnknownWorker(t *testing.T) {
	configurations := NewWorkerConfigurations(configuration.WorkersConfig{
		KnownWorkerIds: []string{"mac-1", "mac-2"},
		Defaults:       configuration.WorkerDefaults{NumberOfSimulators: 1},
	}, time.Second, "signature")

	_, err := configurations.Configuration("mac-1")
	assert.NoError(t, err)

	_, err = configurations.Configuration("mac-3")
	var e *dispatcherrors.ErrNotFound
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, 2, configurations.KnownWorkerCount())
}
