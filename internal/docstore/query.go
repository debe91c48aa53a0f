package docstore

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/tidwall/gjson"
)

type liveDoc struct {
	id      string
	body    []byte
	seq     int64
	pending bool
}

// evaluate computes the full current result set for q: committed documents
// overlaid with the journaled writes for the collection, in commit order,
// ties on the sort key broken by that order.
func (db *DB) evaluate(q Query) (Snapshot, error) {
	rows, err := db.sql.Query(`
		SELECT doc_id, body, commit_seq FROM documents
		WHERE collection = ? ORDER BY commit_seq ASC`, q.Collection)
	if err != nil {
		return Snapshot{}, wrapSQL("query", err)
	}

	var docs []*liveDoc
	index := make(map[string]*liveDoc)
	for rows.Next() {
		var d liveDoc
		var body string
		if err := rows.Scan(&d.id, &body, &d.seq); err != nil {
			_ = rows.Close()
			return Snapshot{}, wrapSQL("query scan", err)
		}
		d.body = []byte(body)
		docs = append(docs, &d)
		index[d.id] = &d
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, wrapSQL("query", err)
	}
	_ = rows.Close()

	if err := db.overlayJournal(q.Collection, &docs, index); err != nil {
		return Snapshot{}, err
	}

	filtered := docs[:0:0]
	for _, d := range docs {
		if matches(q, d) {
			filtered = append(filtered, d)
		}
	}

	// Arrival order first, then the sort key; SliceStable preserves arrival
	// order for ties, which is the tie-break the message feed promises.
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].seq < filtered[j].seq })
	if q.OrderBy != "" {
		sort.SliceStable(filtered, func(i, j int) bool {
			if q.Descending {
				return fieldLess(filtered[j].body, filtered[i].body, q.OrderBy)
			}
			return fieldLess(filtered[i].body, filtered[j].body, q.OrderBy)
		})
	}
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}

	snap := Snapshot{Docs: make([]Doc, 0, len(filtered))}
	for _, d := range filtered {
		snap.Docs = append(snap.Docs, Doc{ID: d.id, Data: d.body, HasPendingWrites: d.pending})
	}
	return snap, nil
}

func (db *DB) overlayJournal(collection string, docs *[]*liveDoc, index map[string]*liveDoc) error {
	rows, err := db.sql.Query(`
		SELECT seq, doc_id, op, body FROM pending_writes
		WHERE collection = ? ORDER BY seq ASC`, collection)
	if err != nil {
		return wrapSQL("journal query", err)
	}
	defer func() { _ = rows.Close() }()

	now := time.Now().UnixMilli()
	for rows.Next() {
		var seq int64
		var docID, op, body string
		if err := rows.Scan(&seq, &docID, &op, &body); err != nil {
			return wrapSQL("journal scan", err)
		}
		switch op {
		case "set", "add":
			resolved := resolveTimestamps([]byte(body), now)
			if d, ok := index[docID]; ok {
				d.body = resolved
				d.pending = true
				d.seq = seq
			} else {
				d := &liveDoc{id: docID, body: resolved, seq: seq, pending: true}
				*docs = append(*docs, d)
				index[docID] = d
			}
		case "update":
			// An update for a document that does not exist yet stays
			// invisible; commit drops it the same way.
			if d, ok := index[docID]; ok {
				d.body = mergePatch(d.body, resolveTimestamps([]byte(body), now))
				d.pending = true
			}
		case "delete":
			if d, ok := index[docID]; ok {
				delete(index, docID)
				for i, cand := range *docs {
					if cand == d {
						*docs = append((*docs)[:i], (*docs)[i+1:]...)
						break
					}
				}
			}
		}
	}
	return rows.Err()
}

func matches(q Query, d *liveDoc) bool {
	if q.DocID != "" && d.id != q.DocID {
		return false
	}
	if f := q.FieldEquals; f != nil {
		if gjson.GetBytes(d.body, f.Field).String() != f.Value {
			return false
		}
	}
	if f := q.ArrayContains; f != nil {
		found := false
		for _, item := range gjson.GetBytes(d.body, f.Field).Array() {
			if item.String() == f.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func fieldLess(a, b []byte, field string) bool {
	av := gjson.GetBytes(a, field)
	bv := gjson.GetBytes(b, field)
	if av.Type == gjson.Number && bv.Type == gjson.Number {
		return av.Float() < bv.Float()
	}
	return av.String() < bv.String()
}

// resolveTimestamps replaces top-level ServerTimestamp sentinels. At commit
// time now is the durable timestamp; in a pre-commit snapshot it is the
// local estimate.
func resolveTimestamps(body []byte, now int64) []byte {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return body
	}
	changed := false
	for k, v := range m {
		if s, ok := v.(string); ok && s == ServerTimestamp {
			m[k] = now
			changed = true
		}
	}
	if !changed {
		return body
	}
	out, err := json.Marshal(m)
	if err != nil {
		return body
	}
	return out
}

// mergePatch overlays the defined fields of patch onto base.
func mergePatch(base, patch []byte) []byte {
	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return base
	}
	var p map[string]any
	if err := json.Unmarshal(patch, &p); err != nil {
		return base
	}
	for k, v := range p {
		m[k] = v
	}
	out, err := json.Marshal(m)
	if err != nil {
		return base
	}
	return out
}
