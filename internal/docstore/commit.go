package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type loopState struct {
	cancel context.CancelFunc
}

type journaledWrite struct {
	seq        int64
	collection string
	docID      string
	op         string
	body       string
}

// Flush drains the journal into the documents table in write order and
// notifies subscribers of every touched collection, so the next snapshot
// they see carries the same ids with HasPendingWrites cleared. It is a
// no-op while offline; the journal keeps accumulating until connectivity
// returns. Returns the number of committed writes.
func (db *DB) Flush(ctx context.Context) (int, error) {
	if !db.online.Load() {
		return 0, nil
	}

	rows, err := db.sql.Query(`
		SELECT seq, collection, doc_id, op, body FROM pending_writes ORDER BY seq ASC`)
	if err != nil {
		return 0, wrapSQL("flush", err)
	}
	var writes []journaledWrite
	for rows.Next() {
		var w journaledWrite
		if err := rows.Scan(&w.seq, &w.collection, &w.docID, &w.op, &w.body); err != nil {
			_ = rows.Close()
			return 0, wrapSQL("flush scan", err)
		}
		writes = append(writes, w)
	}
	if err := rows.Err(); err != nil {
		return 0, wrapSQL("flush", err)
	}
	_ = rows.Close()

	if len(writes) == 0 {
		return 0, nil
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin flush tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	touched := make(map[string]struct{})
	for _, w := range writes {
		if err := db.commitWrite(tx, w, now); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`DELETE FROM pending_writes WHERE seq = ?`, w.seq); err != nil {
			return 0, fmt.Errorf("dequeue write %d: %w", w.seq, err)
		}
		touched[w.collection] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit flush tx: %w", err)
	}

	for collection := range touched {
		db.publish(collection)
	}
	return len(writes), nil
}

func (db *DB) commitWrite(tx *sql.Tx, w journaledWrite, now int64) error {
	switch w.op {
	case "set", "add":
		body := resolveTimestamps([]byte(w.body), now)
		if _, err := tx.Exec(`
			INSERT INTO documents (collection, doc_id, body, commit_seq, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(collection, doc_id) DO UPDATE SET
				body = excluded.body,
				commit_seq = excluded.commit_seq,
				updated_at = excluded.updated_at`,
			w.collection, w.docID, string(body), w.seq, now); err != nil {
			return fmt.Errorf("commit %s %s/%s: %w", w.op, w.collection, w.docID, err)
		}
	case "update":
		var existing string
		err := tx.QueryRow(`SELECT body FROM documents WHERE collection = ? AND doc_id = ?`,
			w.collection, w.docID).Scan(&existing)
		if err == sql.ErrNoRows {
			db.logger.Warn("dropping update for missing document",
				zap.String("collection", w.collection), zap.String("doc_id", w.docID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("read for update %s/%s: %w", w.collection, w.docID, err)
		}
		merged := mergePatch([]byte(existing), resolveTimestamps([]byte(w.body), now))
		if _, err := tx.Exec(`
			UPDATE documents SET body = ?, commit_seq = ?, updated_at = ?
			WHERE collection = ? AND doc_id = ?`,
			string(merged), w.seq, now, w.collection, w.docID); err != nil {
			return fmt.Errorf("commit update %s/%s: %w", w.collection, w.docID, err)
		}
	case "delete":
		if _, err := tx.Exec(`DELETE FROM documents WHERE collection = ? AND doc_id = ?`,
			w.collection, w.docID); err != nil {
			return fmt.Errorf("commit delete %s/%s: %w", w.collection, w.docID, err)
		}
	}
	return nil
}

// StartCommitLoop begins flushing the journal on the given interval.
func (db *DB) StartCommitLoop(ctx context.Context, interval time.Duration) {
	ctx, db.loop.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := db.Flush(ctx); err != nil {
					db.logger.Error("journal flush failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopCommitLoop stops the commit loop.
func (db *DB) StopCommitLoop() {
	if db.loop.cancel != nil {
		db.loop.cancel()
	}
}
