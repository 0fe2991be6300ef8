// Package syncengine issues and serves synchronization rounds and
// performs the two-way merge over vocabulary record sets.
package syncengine

import (
	"sort"

	"github.com/lexisync/lexisync/pkg/vocab"
)

// Merge reconciles the local record set with an incoming one. Records
// are never removed: an entry present on only one side always survives.
// Whole-record conflicts resolve by UpdatedAt, except that the SRS
// sub-record is taken from whichever version has the later NextReview,
// so review progress survives a losing record timestamp.
//
// Stats are from the local perspective: RemoteAdded/LocalUpdated count
// what the incoming set contributed here; LocalAdded/RemoteUpdated
// count what the other side is missing.
func Merge(local, incoming []vocab.Entry) ([]vocab.Entry, vocab.SyncStats) {
	merged := make(map[string]vocab.Entry, len(local)+len(incoming))
	for _, e := range local {
		merged[e.ID] = e
	}

	incomingIDs := make(map[string]struct{}, len(incoming))
	var stats vocab.SyncStats

	for _, in := range incoming {
		incomingIDs[in.ID] = struct{}{}

		cur, exists := merged[in.ID]
		if !exists {
			merged[in.ID] = in
			stats.RemoteAdded++
			continue
		}

		switch {
		case in.UpdatedAt > cur.UpdatedAt:
			winner := in
			if cur.SRSData.NextReview > in.SRSData.NextReview {
				winner.SRSData = cur.SRSData
			}
			merged[in.ID] = winner
			stats.LocalUpdated++

		case in.UpdatedAt < cur.UpdatedAt:
			// Local wins; the other side will pick this up from our
			// half of the exchange. The SRS rule still applies both
			// ways or the two sides would not converge.
			if in.SRSData.NextReview > cur.SRSData.NextReview {
				cur.SRSData = in.SRSData
				merged[in.ID] = cur
			}
			stats.RemoteUpdated++

		default:
			// Equal timestamps: keep local unchanged
		}
	}

	for _, e := range local {
		if _, ok := incomingIDs[e.ID]; !ok {
			stats.LocalAdded++
		}
	}

	out := make([]vocab.Entry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	stats.TotalMerged = len(out)
	return out, stats
}

// FilterChanged returns the entries updated after lastSync. If the
// filter empties a non-empty set, the entire set is returned instead:
// a corrupted or far-future lastSync must not cause data loss.
func FilterChanged(entries []vocab.Entry, lastSync int64) []vocab.Entry {
	changed := make([]vocab.Entry, 0, len(entries))
	for _, e := range entries {
		if e.UpdatedAt > lastSync {
			changed = append(changed, e)
		}
	}
	if len(changed) == 0 && len(entries) > 0 {
		return entries
	}
	return changed
}
