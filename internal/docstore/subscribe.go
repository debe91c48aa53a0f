package docstore

import (
	"bytes"
	"sync"
)

// Subscribe opens a change feed for q. The initial result set is delivered
// immediately; afterwards the query is re-evaluated whenever a write or a
// commit touches the collection, and the full snapshot is delivered again
// if anything changed. Delivery is serialized per subscription in arrival
// order; a dropped bus notification is harmless because every evaluation
// produces the complete current result set.
//
// An evaluation error terminates the feed after onError; the caller may
// resubscribe. The returned unsubscribe function is idempotent.
func (db *DB) Subscribe(q Query, onSnapshot func(Snapshot), onError func(error)) func() {
	events, unsubBus := db.bus.Subscribe("store."+q.Collection, 64)
	stop := make(chan struct{})

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			unsubBus()
			close(stop)
		})
	}

	go func() {
		var last []byte
		deliver := func() bool {
			snap, err := db.evaluate(q)
			if err != nil {
				onError(err)
				return false
			}
			fp := fingerprint(snap)
			if bytes.Equal(fp, last) {
				return true
			}
			last = fp
			onSnapshot(snap)
			return true
		}

		if !deliver() {
			unsub()
			return
		}
		for {
			select {
			case <-stop:
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				if !deliver() {
					unsub()
					return
				}
			}
		}
	}()

	return unsub
}

// fingerprint summarizes a snapshot so unchanged result sets are not
// re-delivered. Pending-state flips are part of the identity: clearing
// HasPendingWrites must produce exactly one more delivery.
func fingerprint(snap Snapshot) []byte {
	var buf bytes.Buffer
	for _, d := range snap.Docs {
		buf.WriteString(d.ID)
		buf.WriteByte(0)
		buf.Write(d.Data)
		if d.HasPendingWrites {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(2)
		}
		buf.WriteByte(0)
	}
	return buf.Bytes()
}
