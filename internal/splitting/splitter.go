// Package splitting turns a flat list of test entry configurations into buckets.
package splitting

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/G-Research/testdispatch/internal/common/util"
	"github.com/G-Research/testdispatch/pkg/api"
)

type SplitInfo struct {
	NumberOfWorkers   uint
	ToolResources     api.ToolResources
	SimulatorSettings api.SimulatorSettings
}

type BucketSplitter interface {
	Strategy() api.ScheduleStrategyType
	Generate(inputs []api.TestEntryConfiguration, info SplitInfo) []*api.Bucket
}

// chunker splits the configurations of one grouping key into the contents of buckets.
type chunker func(group []api.TestEntryConfiguration, info SplitInfo) [][]api.TestEntryConfiguration

type splitter struct {
	strategy    api.ScheduleStrategyType
	chunk       chunker
	idGenerator util.IdGenerator
}

func NewBucketSplitter(strategy api.ScheduleStrategyType, idGenerator util.IdGenerator) (BucketSplitter, error) {
	var chunk chunker
	switch strategy {
	case api.IndividualStrategy:
		chunk = individualChunks
	case api.EquallyDividedStrategy:
		chunk = equallyDividedChunks
	case api.UnsplitStrategy:
		chunk = unsplitChunks
	case api.UniqueStrategy:
		chunk = uniqueChunks
	default:
		return nil, errors.Errorf("unknown schedule strategy %q", strategy)
	}
	return &splitter{strategy: strategy, chunk: chunk, idGenerator: idGenerator}, nil
}

func (s *splitter) Strategy() api.ScheduleStrategyType {
	return s.strategy
}

// Generate groups the inputs by grouping key in order of first appearance, chunks every group
// and returns the buckets largest first. Equal sized buckets keep their generation order.
func (s *splitter) Generate(inputs []api.TestEntryConfiguration, info SplitInfo) []*api.Bucket {
	buckets := []*api.Bucket{}
	for _, group := range groupByKey(inputs) {
		for _, chunk := range s.chunk(group, info) {
			if len(chunk) == 0 {
				continue
			}
			buckets = append(buckets, &api.Bucket{
				BucketId:                api.BucketId(s.idGenerator.Generate()),
				TestEntryConfigurations: chunk,
				ToolResources:           info.ToolResources,
				SimulatorSettings:       info.SimulatorSettings,
			})
		}
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		return len(buckets[i].TestEntryConfigurations) > len(buckets[j].TestEntryConfigurations)
	})
	return buckets
}

func groupByKey(inputs []api.TestEntryConfiguration) [][]api.TestEntryConfiguration {
	groups := [][]api.TestEntryConfiguration{}
	indexByKey := map[string]int{}
	for _, configuration := range inputs {
		key := configuration.GroupingKey()
		index, exists := indexByKey[key]
		if !exists {
			index = len(groups)
			indexByKey[key] = index
			groups = append(groups, []api.TestEntryConfiguration{})
		}
		groups[index] = append(groups[index], configuration)
	}
	return groups
}
