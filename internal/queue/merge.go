package queue

// mergeRemainder builds the queue written back after a flush.
//
// current is what storage holds now, snapshot is what the flush started
// from, remaining is what the flush retained. Every operation in current
// that is not accounted for by snapshot (multiset difference on canonical
// JSON) was appended while the flush ran and is kept after remaining.
//
// If another writer rewrote the queue mid-flush, the result is still
// remaining followed by whatever that writer added; entries it removed that
// this flush retained come back. That is last-write-wins at the storage layer.
func mergeRemainder(current, snapshot, remaining []Operation) []Operation {
	pending := make(map[string]int, len(snapshot))
	for _, op := range snapshot {
		pending[fingerprint(op)]++
	}

	merged := make([]Operation, 0, len(remaining)+len(current))
	merged = append(merged, remaining...)
	for _, op := range current {
		fp := fingerprint(op)
		if pending[fp] > 0 {
			pending[fp]--
			continue
		}
		merged = append(merged, op)
	}
	return merged
}
