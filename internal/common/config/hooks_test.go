package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/testdispatch/pkg/api"
)

type testConfig struct {
	Strategy api.ScheduleStrategyType `validate:"required"`
	Interval time.Duration            `validate:"gt=0"`
	Workers  []string
}

func load(t *testing.T, yaml string) (testConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	var config testConfig
	err := v.Unmarshal(&config, CustomHooks...)
	return config, err
}

func TestCustomHooks_DecodesStrategyAndDuration(t *testing.T) {
	config, err := load(t, "strategy: unique\ninterval: 30s\nworkers: a,b")
	require.NoError(t, err)

	assert.Equal(t, api.UniqueStrategy, config.Strategy)
	assert.Equal(t, 30*time.Second, config.Interval)
	assert.Equal(t, []string{"a", "b"}, config.Workers)
	assert.NoError(t, Validate(config))
}

func TestCustomHooks_RejectsUnknownStrategy(t *testing.T) {
	_, err := load(t, "strategy: random\ninterval: 30s")
	assert.Error(t, err)
}

func TestValidate_FailsOnMissingFields(t *testing.T) {
	err := Validate(testConfig{})
	assert.Error(t, err)
}
