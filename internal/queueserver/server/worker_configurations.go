package server

import (
	"time"

	"github.com/G-Research/testdispatch/internal/common/dispatcherrors"
	"github.com/G-Research/testdispatch/internal/queueserver/configuration"
	"github.com/G-Research/testdispatch/pkg/api"
)

// WorkerConfigurations resolves the configuration handed to a worker when it registers.
type WorkerConfigurations struct {
	knownWorkerIds      map[api.WorkerId]bool
	defaults            configuration.WorkerDefaults
	overrides           map[api.WorkerId]configuration.WorkerOverride
	reportAliveInterval time.Duration
	requestSignature    api.RequestSignature
}

func NewWorkerConfigurations(
	config configuration.WorkersConfig,
	reportAliveInterval time.Duration,
	requestSignature api.RequestSignature,
) *WorkerConfigurations {
	known := make(map[api.WorkerId]bool, len(config.KnownWorkerIds))
	for _, id := range config.KnownWorkerIds {
		known[api.WorkerId(id)] = true
	}
	overrides := make(map[api.WorkerId]configuration.WorkerOverride, len(config.Overrides))
	for id, override := range config.Overrides {
		overrides[api.WorkerId(id)] = override
	}
	return &WorkerConfigurations{
		knownWorkerIds:      known,
		defaults:            config.Defaults,
		overrides:           overrides,
		reportAliveInterval: reportAliveInterval,
		requestSignature:    requestSignature,
	}
}

// KnownWorkerCount is the size of the allow-list, zero when any worker may register.
func (w *WorkerConfigurations) KnownWorkerCount() int {
	return len(w.knownWorkerIds)
}

func (w *WorkerConfigurations) Configuration(workerId api.WorkerId) (api.WorkerConfiguration, error) {
	if len(w.knownWorkerIds) > 0 && !w.knownWorkerIds[workerId] {
		return api.WorkerConfiguration{}, &dispatcherrors.ErrNotFound{
			Type:    "worker",
			Value:   string(workerId),
			Message: "worker is not in the list of known workers",
		}
	}

	result := api.WorkerConfiguration{
		NumberOfSimulators:       w.defaults.NumberOfSimulators,
		TestTimeoutConfiguration: w.defaults.TestTimeoutConfiguration,
		PluginUrls:               w.defaults.PluginUrls,
		ReportAliveInterval:      w.reportAliveInterval,
		RequestSignature:         w.requestSignature,
	}
	if override, exists := w.overrides[workerId]; exists {
		if override.NumberOfSimulators > 0 {
			result.NumberOfSimulators = override.NumberOfSimulators
		}
		if override.TestTimeoutConfiguration != nil {
			result.TestTimeoutConfiguration = *override.TestTimeoutConfiguration
		}
		if override.PluginUrls != nil {
			result.PluginUrls = override.PluginUrls
		}
	}
	return result, nil
}
