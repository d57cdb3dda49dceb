package history

import "tokenTracer/internal/model"

// Timeline holds the two history views. They are never deduplicated against each other: local
// and chain records use different id schemes, and the same transfer may appear in both.
type Timeline struct {
	Local []model.TransferRecord
	Chain []model.TransferRecord
}

// Reconcile builds a Timeline from the two collections, keeping each in its given order and
// dropping repeated ids within a collection.
func Reconcile(local, chain []model.TransferRecord) Timeline {
	return Timeline{
		Local: uniqueByID(local, model.SourceLocal),
		Chain: uniqueByID(chain, model.SourceChain),
	}
}

// View returns the collection selected by source.
func (t Timeline) View(source model.Source) []model.TransferRecord {
	switch source {
	case model.SourceLocal:
		return t.Local
	case model.SourceChain:
		return t.Chain
	default:
		return nil
	}
}

// Len is the number of records across both views.
func (t Timeline) Len() int {
	return len(t.Local) + len(t.Chain)
}

func uniqueByID(records []model.TransferRecord, source model.Source) []model.TransferRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]model.TransferRecord, 0, len(records))
	for _, record := range records {
		if _, dup := seen[record.ID]; dup {
			continue
		}
		seen[record.ID] = struct{}{}
		record.Source = source
		out = append(out, record)
	}
	return out
}
