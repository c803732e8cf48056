// Package consolidate merges the raw line items sharing a document key
// into one record per document, the view the document-level list screens
// work with.
package consolidate

import (
	"encoding/json"

	"fieldsync/api/internal/record"
)

// MixedStatus is the sentinel status for a document whose line items
// disagree. It tells the caller the group has no single authoritative
// status, rather than silently picking one.
const MixedStatus = "Mixed Status"

// Document is the merged view of all raw records sharing a document key.
type Document struct {
	record.RawRecord
	SourceCount int
	// Sources holds the raw line items the document was merged from, in
	// first-seen order. Not serialized with the document itself.
	Sources []record.RawRecord
}

func (d Document) MarshalJSON() ([]byte, error) {
	fields := d.RawRecord.Fields()
	fields["sourceCount"] = d.SourceCount
	return json.Marshal(fields)
}

// Consolidate groups records by document key in first-seen order and
// applies the per-field merge policy. Records without a key are dropped;
// they cannot be grouped meaningfully. The result depends only on the
// input slice and its order, so re-running over the same working set
// always reproduces identical output.
func Consolidate(records []record.RawRecord) []Document {
	var keys []string
	groups := make(map[string][]record.RawRecord)
	for _, r := range records {
		key := r.Key()
		if key == "" {
			continue
		}
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], r)
	}

	documents := make([]Document, 0, len(keys))
	for _, key := range keys {
		documents = append(documents, merge(groups[key]))
	}
	return documents
}

func merge(group []record.RawRecord) Document {
	if len(group) == 1 {
		return Document{RawRecord: group[0], SourceCount: 1, Sources: group}
	}

	// Fields without an explicit policy come from the first record.
	merged := group[0]

	merged.ScheduledDate = firstDistinct(group, func(r record.RawRecord) string { return r.ScheduledDate })
	merged.Item = joinDistinct(group, func(r record.RawRecord) string { return r.Item })
	merged.Equipment = joinDistinct(group, func(r record.RawRecord) string { return r.Equipment })
	merged.CompletionDate = firstNonEmpty(group, func(r record.RawRecord) string { return r.CompletionDate })

	statuses := distinct(group, func(r record.RawRecord) string { return r.Status })
	if len(statuses) == 1 {
		merged.Status = statuses[0]
	} else {
		merged.Status = MixedStatus
	}

	return Document{RawRecord: merged, SourceCount: len(group), Sources: group}
}

// distinct collects values across the group in first-seen order.
func distinct(group []record.RawRecord, field func(record.RawRecord) string) []string {
	var values []string
	seen := make(map[string]struct{}, len(group))
	for _, r := range group {
		v := field(r)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	return values
}

func firstDistinct(group []record.RawRecord, field func(record.RawRecord) string) string {
	values := distinct(group, field)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func joinDistinct(group []record.RawRecord, field func(record.RawRecord) string) string {
	var joined string
	seen := make(map[string]struct{}, len(group))
	for _, r := range group {
		v := field(r)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		if joined == "" {
			joined = v
		} else {
			joined += ", " + v
		}
	}
	return joined
}

func firstNonEmpty(group []record.RawRecord, field func(record.RawRecord) string) string {
	for _, r := range group {
		if v := field(r); v != "" {
			return v
		}
	}
	return ""
}
