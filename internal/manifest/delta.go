package manifest

import "strconv"

// Delta captures added and removed rows between two manifests.
type Delta struct {
	Added   Tables `json:"added"`
	Removed Tables `json:"removed"`
}

// ComputeDelta computes row-level additions and removals between two snapshots.
func ComputeDelta(prev, next Tables) Delta {
	return Delta{
		Added:   diffTables(prev, next),
		Removed: diffTables(next, prev),
	}
}

func diffTables(from, to Tables) Tables {
	out := emptyTables()
	out.Source = to.Source
	out.Function = to.Function

	out.Constants = diffRows(from.Constants, to.Constants, constantKey)
	out.PacketFields = diffRows(from.PacketFields, to.PacketFields, fieldKey)
	out.StateFields = diffRows(from.StateFields, to.StateFields, fieldKey)

	out.Counts = Counts{
		PacketFields: len(out.PacketFields),
		StateFields:  len(out.StateFields),
		Constants:    len(out.Constants),
	}
	return out
}

func emptyTables() Tables {
	return Tables{
		Constants:    []Row{},
		PacketFields: []Row{},
		StateFields:  []Row{},
	}
}

// A constant changes when its value does; a field changes when it is
// renumbered.
func constantKey(r Row) string {
	return r.Original + "|" + r.Canonical
}

func fieldKey(r Row) string {
	return r.Original + "|" + r.Canonical + "|" + strconv.Itoa(r.Index)
}

func diffRows[T any](from, to []T, key func(T) string) []T {
	fromSet := make(map[string]T, len(from))
	for _, row := range from {
		fromSet[key(row)] = row
	}
	var diff []T
	for _, row := range to {
		rowKey := key(row)
		if _, ok := fromSet[rowKey]; !ok {
			diff = append(diff, row)
		}
	}
	if diff == nil {
		diff = []T{}
	}
	return diff
}
