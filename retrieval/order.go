package retrieval

import (
	"cmp"
	"slices"

	"github.com/pithecene-io/tsrebuild/log"
	"github.com/pithecene-io/tsrebuild/naming"
)

// sortByStart returns a copy of files ordered by the start epoch encoded in
// each name. Names that do not parse keep their relative order and sort
// first with epoch 0; the ordering is then degraded and logged once.
func sortByStart(files []string, logger *log.Logger) []string {
	type keyed struct {
		path  string
		start int64
	}

	items := make([]keyed, len(files))
	var unparsed []string
	for i, path := range files {
		start, err := naming.ParseStartEpoch(path)
		if err != nil {
			unparsed = append(unparsed, path)
		}
		items[i] = keyed{path: path, start: start}
	}

	slices.SortStableFunc(items, func(a, b keyed) int {
		return cmp.Compare(a.start, b.start)
	})

	if len(unparsed) > 0 {
		logger.Error("cannot order files by start time, using degraded order", map[string]any{
			"unparsed": unparsed,
		})
	}

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.path
	}
	return out
}
