package config

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/G-Research/testdispatch/pkg/api"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		ScheduleStrategyHookFunc(),
	)),
}

// ScheduleStrategyHookFunc rejects unknown strategy names at load time rather than at first schedule.
func ScheduleStrategyHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(api.IndividualStrategy) {
			return data, nil
		}
		return api.ParseScheduleStrategyType(data.(string))
	}
}
