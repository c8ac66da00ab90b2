package dispatchctl

import (
	"os"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/G-Research/testdispatch/pkg/api"
)

// TestPlan is the file format accepted by schedule and run-local.
//
//	jobId: checkout-ui
//	priority: 500
//	scheduleStrategy: equally_divided
//	toolResources:
//	  testRunnerTool: ./bin/run-xctest
//	testEntryConfigurations:
//	  - testEntry: {className: CheckoutTests, methodName: testPay}
//	    testDestination: {deviceType: iPhone X, runtime: "16.0"}
type TestPlan struct {
	JobId                   api.JobId                    `json:"jobId"`
	Priority                *api.Priority                `json:"priority,omitempty"`
	ScheduleStrategy        api.ScheduleStrategyType     `json:"scheduleStrategy,omitempty"`
	ToolResources           api.ToolResources            `json:"toolResources"`
	SimulatorSettings       api.SimulatorSettings        `json:"simulatorSettings"`
	TestEntryConfigurations []api.TestEntryConfiguration `json:"testEntryConfigurations"`
}

func LoadTestPlan(path string) (*TestPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading test plan %s", path)
	}
	plan := &TestPlan{}
	if err := yaml.UnmarshalStrict(data, plan); err != nil {
		return nil, errors.Wrapf(err, "error parsing test plan %s", path)
	}
	if len(plan.TestEntryConfigurations) == 0 {
		return nil, errors.Errorf("test plan %s contains no tests", path)
	}
	return plan, nil
}
