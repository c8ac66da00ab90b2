package execution

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testdispatch/pkg/api"
)

const (
	bucketIdEnvVar       = "TESTDISPATCH_BUCKET_ID"
	simulatorIdEnvVar    = "TESTDISPATCH_SIMULATOR_ID"
	deviceTypeEnvVar     = "TESTDISPATCH_DEVICE_TYPE"
	runtimeEnvVar        = "TESTDISPATCH_RUNTIME"
	simulatorToolEnvVar  = "TESTDISPATCH_SIMULATOR_CONTROL_TOOL"
	maxResultLineInBytes = 4 * 1024 * 1024
)

// processRunRequest is written as JSON to the stdin of the test runner process.
type processRunRequest struct {
	BucketId                api.BucketId                 `json:"bucketId"`
	SimulatorId             string                       `json:"simulatorId"`
	SimulatorSettings       api.SimulatorSettings        `json:"simulatorSettings"`
	TestEntryConfigurations []api.TestEntryConfiguration `json:"testEntryConfigurations"`
}

// ProcessTestRunner runs the bucket's test runner tool as a child process.
// The tool reads a processRunRequest from stdin and writes one JSON encoded TestEntryResult
// per line to stdout. Lines that are not results are logged and skipped, so a tool that dies
// halfway still reports the tests it finished.
type ProcessTestRunner struct {
	// Used when the bucket does not name a test runner tool.
	DefaultCommand string
	Args           []string
}

func (r *ProcessTestRunner) Run(ctx context.Context, run TestRun) ([]api.TestEntryResult, error) {
	command := run.ToolResources.TestRunnerTool
	if command == "" {
		command = r.DefaultCommand
	}
	if command == "" {
		return nil, errors.Errorf("bucket %s names no test runner tool", run.BucketId)
	}

	request := processRunRequest{
		BucketId:                run.BucketId,
		TestEntryConfigurations: run.TestEntryConfigurations,
	}
	env := append(os.Environ(), bucketIdEnvVar+"="+string(run.BucketId))
	if run.Simulator != nil {
		request.SimulatorId = run.Simulator.Id
		request.SimulatorSettings = run.Simulator.Settings
		env = append(env,
			simulatorIdEnvVar+"="+run.Simulator.Id,
			deviceTypeEnvVar+"="+run.Simulator.Destination.DeviceType,
			runtimeEnvVar+"="+run.Simulator.Destination.Runtime,
		)
	}
	if run.ToolResources.SimulatorControlTool != "" {
		env = append(env, simulatorToolEnvVar+"="+run.ToolResources.SimulatorControlTool)
	}
	input, err := json.Marshal(request)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cmd := exec.CommandContext(ctx, command, r.Args...)
	cmd.Env = env
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	logger := log.WithFields(log.Fields{"bucket": run.BucketId, "command": command})
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "error starting test runner %s", command)
	}

	results := []api.TestEntryResult{}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResultLineInBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var result api.TestEntryResult
		if err := json.Unmarshal(line, &result); err != nil || result.TestEntry.ClassName == "" {
			logger.Debugf("test runner: %s", line)
			continue
		}
		results = append(results, result)
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		logger.Warnf("Test runner exited with %v: %s", err, stderr.String())
		return results, errors.Wrapf(err, "test runner %s failed", command)
	}
	if scanErr != nil {
		return results, errors.Wrap(scanErr, "error reading test runner output")
	}
	return results, nil
}
