package api

type WorkerId string
type JobId string
type BucketId string
type RequestId string
type RequestSignature string

type Priority uint32

const (
	PriorityLowest  Priority = 0
	PriorityLow     Priority = 250
	PriorityMedium  Priority = 500
	PriorityHigh    Priority = 750
	PriorityHighest Priority = 999
)

type PrioritizedJob struct {
	JobId    JobId    `json:"jobId"`
	Priority Priority `json:"priority"`
}

type ToolResources struct {
	TestRunnerTool       string `json:"testRunnerTool"`
	SimulatorControlTool string `json:"simulatorControlTool"`
}

type SimulatorSettings struct {
	Locale             string            `json:"locale,omitempty"`
	Language           string            `json:"language,omitempty"`
	AdditionalSettings map[string]string `json:"additionalSettings,omitempty"`
}

// Bucket is the unit of dispatch. All of its configurations share one grouping key.
type Bucket struct {
	BucketId                BucketId                 `json:"bucketId"`
	TestEntryConfigurations []TestEntryConfiguration `json:"testEntryConfigurations"`
	ToolResources           ToolResources            `json:"toolResources"`
	SimulatorSettings       SimulatorSettings        `json:"simulatorSettings"`
}

func (b *Bucket) TestEntries() []TestEntry {
	entries := make([]TestEntry, 0, len(b.TestEntryConfigurations))
	for _, c := range b.TestEntryConfigurations {
		entries = append(entries, c.TestEntry)
	}
	return entries
}

func (b *Bucket) Contains(entry TestEntry) bool {
	for _, c := range b.TestEntryConfigurations {
		if c.TestEntry == entry {
			return true
		}
	}
	return false
}

// ConfigurationFor returns the first configuration of the bucket that runs the given entry.
func (b *Bucket) ConfigurationFor(entry TestEntry) (TestEntryConfiguration, bool) {
	for _, c := range b.TestEntryConfigurations {
		if c.TestEntry == entry {
			return c, true
		}
	}
	return TestEntryConfiguration{}, false
}

// TestDestination of a bucket is shared by all of its configurations.
func (b *Bucket) TestDestination() TestDestination {
	if len(b.TestEntryConfigurations) == 0 {
		return TestDestination{}
	}
	return b.TestEntryConfigurations[0].TestDestination
}

// WithConfigurations returns a copy of the bucket restricted to the given configurations.
// The bucket id is kept so results of every attempt reconcile against the same bucket.
func (b *Bucket) WithConfigurations(configurations []TestEntryConfiguration) *Bucket {
	return &Bucket{
		BucketId:                b.BucketId,
		TestEntryConfigurations: configurations,
		ToolResources:           b.ToolResources,
		SimulatorSettings:       b.SimulatorSettings,
	}
}
