package splitting

import "github.com/G-Research/testdispatch/pkg/api"

func individualChunks(group []api.TestEntryConfiguration, _ SplitInfo) [][]api.TestEntryConfiguration {
	chunks := make([][]api.TestEntryConfiguration, 0, len(group))
	for _, configuration := range group {
		chunks = append(chunks, []api.TestEntryConfiguration{configuration})
	}
	return chunks
}

func unsplitChunks(group []api.TestEntryConfiguration, _ SplitInfo) [][]api.TestEntryConfiguration {
	return [][]api.TestEntryConfiguration{group}
}

// equallyDividedChunks splits the group into at most NumberOfWorkers chunks whose sizes differ by
// at most the chunk size.
func equallyDividedChunks(group []api.TestEntryConfiguration, info SplitInfo) [][]api.TestEntryConfiguration {
	workers := int(info.NumberOfWorkers)
	if workers < 1 {
		workers = 1
	}
	size := (len(group) + workers - 1) / workers
	if size < 1 {
		size = 1
	}
	chunks := [][]api.TestEntryConfiguration{}
	for start := 0; start < len(group); start += size {
		end := start + size
		if end > len(group) {
			end = len(group)
		}
		chunks = append(chunks, append([]api.TestEntryConfiguration{}, group[start:end]...))
	}
	return chunks
}

// uniqueChunks never places two configurations of the same test into one chunk.
// Every pass takes the first remaining occurrence of each test.
func uniqueChunks(group []api.TestEntryConfiguration, _ SplitInfo) [][]api.TestEntryConfiguration {
	chunks := [][]api.TestEntryConfiguration{}
	remaining := group
	for len(remaining) > 0 {
		chunk := []api.TestEntryConfiguration{}
		leftover := []api.TestEntryConfiguration{}
		seen := map[api.TestEntry]bool{}
		for _, configuration := range remaining {
			if seen[configuration.TestEntry] {
				leftover = append(leftover, configuration)
				continue
			}
			seen[configuration.TestEntry] = true
			chunk = append(chunk, configuration)
		}
		chunks = append(chunks, chunk)
		remaining = leftover
	}
	return chunks
}
