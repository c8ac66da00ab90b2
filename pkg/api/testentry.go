package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// TestEntry identifies a single test method.
type TestEntry struct {
	ClassName  string `json:"className"`
	MethodName string `json:"methodName"`
}

func (e TestEntry) TestName() string {
	return fmt.Sprintf("%s/%s", e.ClassName, e.MethodName)
}

func (e TestEntry) String() string {
	return e.TestName()
}

type TestType string

const (
	LogicTest TestType = "logicTest"
	AppTest   TestType = "appTest"
	UiTest    TestType = "uiTest"
)

type BuildArtifacts struct {
	AppBundle                    string   `json:"appBundle,omitempty"`
	RunnerBundle                 string   `json:"runnerBundle,omitempty"`
	XcTestBundle                 string   `json:"xcTestBundle"`
	AdditionalApplicationBundles []string `json:"additionalApplicationBundles,omitempty"`
}

type TestDestination struct {
	DeviceType string `json:"deviceType"`
	Runtime    string `json:"runtime"`
}

func (d TestDestination) String() string {
	return fmt.Sprintf("%s %s", d.DeviceType, d.Runtime)
}

type TestExecutionBehavior struct {
	Environment     map[string]string `json:"environment,omitempty"`
	NumberOfRetries uint              `json:"numberOfRetries"`
}

type TestTimeoutConfiguration struct {
	SingleTestMaximumDuration        time.Duration `json:"singleTestMaximumDuration"`
	TestRunnerMaximumSilenceDuration time.Duration `json:"testRunnerMaximumSilenceDuration"`
}

type ToolchainConfiguration struct {
	DeveloperDir string `json:"developerDir"`
}

// TestEntryConfiguration is everything required to run a single test in isolation.
type TestEntryConfiguration struct {
	TestEntry                TestEntry                `json:"testEntry"`
	BuildArtifacts           BuildArtifacts           `json:"buildArtifacts"`
	TestDestination          TestDestination          `json:"testDestination"`
	TestExecutionBehavior    TestExecutionBehavior    `json:"testExecutionBehavior"`
	TestTimeoutConfiguration TestTimeoutConfiguration `json:"testTimeoutConfiguration"`
	ToolchainConfiguration   ToolchainConfiguration   `json:"toolchainConfiguration"`
	TestType                 TestType                 `json:"testType"`
}

type groupingKey struct {
	BuildArtifacts           BuildArtifacts           `json:"buildArtifacts"`
	TestDestination          TestDestination          `json:"testDestination"`
	TestExecutionBehavior    TestExecutionBehavior    `json:"testExecutionBehavior"`
	TestTimeoutConfiguration TestTimeoutConfiguration `json:"testTimeoutConfiguration"`
	ToolchainConfiguration   ToolchainConfiguration   `json:"toolchainConfiguration"`
	TestType                 TestType                 `json:"testType"`
}

// GroupingKey returns a canonical string built from every field except the test entry.
// Configurations with equal keys may share a bucket.
func (c TestEntryConfiguration) GroupingKey() string {
	// map keys are marshalled in sorted order, so the key is stable
	bytes, err := json.Marshal(groupingKey{
		BuildArtifacts:           c.BuildArtifacts,
		TestDestination:          c.TestDestination,
		TestExecutionBehavior:    c.TestExecutionBehavior,
		TestTimeoutConfiguration: c.TestTimeoutConfiguration,
		ToolchainConfiguration:   c.ToolchainConfiguration,
		TestType:                 c.TestType,
	})
	if err != nil {
		panic(err)
	}
	return string(bytes)
}
