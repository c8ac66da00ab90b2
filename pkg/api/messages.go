package api

import (
	"time"

	"github.com/pkg/errors"
)

type ScheduleStrategyType string

const (
	IndividualStrategy     ScheduleStrategyType = "individual"
	EquallyDividedStrategy ScheduleStrategyType = "equally_divided"
	UnsplitStrategy        ScheduleStrategyType = "unsplit"
	UniqueStrategy         ScheduleStrategyType = "unique"
)

var ScheduleStrategyTypes = []ScheduleStrategyType{
	IndividualStrategy,
	EquallyDividedStrategy,
	UnsplitStrategy,
	UniqueStrategy,
}

func ParseScheduleStrategyType(name string) (ScheduleStrategyType, error) {
	for _, strategy := range ScheduleStrategyTypes {
		if string(strategy) == name {
			return strategy, nil
		}
	}
	return "", errors.Errorf("unknown schedule strategy %q, expected one of %v", name, ScheduleStrategyTypes)
}

type WorkerConfiguration struct {
	NumberOfSimulators       uint                     `json:"numberOfSimulators"`
	TestTimeoutConfiguration TestTimeoutConfiguration `json:"testTimeoutConfiguration"`
	PluginUrls               []string                 `json:"pluginUrls,omitempty"`
	ReportAliveInterval      time.Duration            `json:"reportAliveInterval"`
	RequestSignature         RequestSignature         `json:"requestSignature"`
}

type RunningQueueState struct {
	EnqueuedBucketCount int         `json:"enqueuedBucketCount"`
	DequeuedBucketCount int         `json:"dequeuedBucketCount"`
	EnqueuedTests       []TestEntry `json:"enqueuedTests"`
	DequeuedTests       []TestEntry `json:"dequeuedTests"`
}

func (s RunningQueueState) IsDepleted() bool {
	return s.EnqueuedBucketCount == 0 && s.DequeuedBucketCount == 0
}

type JobState struct {
	JobId      JobId             `json:"jobId"`
	QueueState RunningQueueState `json:"queueState"`
}

type JobResults struct {
	JobId          JobId           `json:"jobId"`
	TestingResults []TestingResult `json:"testingResults"`
}

type DequeueResultKind string

const (
	DequeuedBucketKind  DequeueResultKind = "bucket"
	QueueIsEmptyKind    DequeueResultKind = "queueIsEmpty"
	CheckAgainLaterKind DequeueResultKind = "checkAgainLater"
	WorkerIsBlockedKind DequeueResultKind = "workerIsBlocked"
	WorkerNotAliveKind  DequeueResultKind = "workerIsNotAlive"
)

type AlivenessResponseKind string

const (
	AlivenessAccepted AlivenessResponseKind = "accepted"
	AlivenessBlocked  AlivenessResponseKind = "blocked"
	AlivenessNotAlive AlivenessResponseKind = "notAlive"
)

type RegisterWorkerRequest struct {
	WorkerId WorkerId `json:"workerId"`
}

type RegisterWorkerResponse struct {
	WorkerConfiguration WorkerConfiguration `json:"workerConfiguration"`
}

type FetchBucketRequest struct {
	RequestId        RequestId        `json:"requestId"`
	WorkerId         WorkerId         `json:"workerId"`
	RequestSignature RequestSignature `json:"requestSignature"`
}

type FetchBucketResponse struct {
	Kind       DequeueResultKind `json:"kind"`
	Bucket     *Bucket           `json:"bucket,omitempty"`
	CheckAfter time.Duration     `json:"checkAfter,omitempty"`
}

type PushResultRequest struct {
	WorkerId         WorkerId         `json:"workerId"`
	RequestId        RequestId        `json:"requestId"`
	RequestSignature RequestSignature `json:"requestSignature"`
	TestingResult    TestingResult    `json:"testingResult"`
}

type PushResultResponse struct {
	BucketId BucketId `json:"bucketId"`
}

type ReportAlivenessRequest struct {
	WorkerId                WorkerId         `json:"workerId"`
	RequestSignature        RequestSignature `json:"requestSignature"`
	BucketIdsBeingProcessed []BucketId       `json:"bucketIdsBeingProcessed"`
}

type ReportAlivenessResponse struct {
	Kind AlivenessResponseKind `json:"kind"`
}

type ScheduleTestsRequest struct {
	RequestId               RequestId                `json:"requestId"`
	PrioritizedJob          PrioritizedJob           `json:"prioritizedJob"`
	ScheduleStrategy        ScheduleStrategyType     `json:"scheduleStrategy"`
	ToolResources           ToolResources            `json:"toolResources"`
	SimulatorSettings       SimulatorSettings        `json:"simulatorSettings"`
	TestEntryConfigurations []TestEntryConfiguration `json:"testEntryConfigurations"`
}

type ScheduleTestsResponse struct {
	RequestId RequestId `json:"requestId"`
}

type JobStateRequest struct {
	JobId JobId `json:"jobId"`
}

type JobStateResponse struct {
	JobState JobState `json:"jobState"`
}

type JobResultsRequest struct {
	JobId JobId `json:"jobId"`
}

type JobResultsResponse struct {
	JobResults JobResults `json:"jobResults"`
}

type DeleteJobRequest struct {
	JobId JobId `json:"jobId"`
}

type DeleteJobResponse struct {
	JobId JobId `json:"jobId"`
}

type FetchServerVersionRequest struct{}

type FetchServerVersionResponse struct {
	Version string `json:"version"`
}
