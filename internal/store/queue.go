package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/common"
)

// QueueItem is one scanned PDF waiting for (or finished with) OCR.
// TextHash carries the document's text-layer hash when a partial text
// extraction queued the retry, so the OCR result can keep that hash on the
// ledger row and later incremental runs still recognize the file.
type QueueItem struct {
	Path       string
	Provider   int
	Kind       constants.DocumentKind
	Competence string
	TextHash   string
	Attempts   int
	State      constants.QueueState
	LastError  string
}

// EnqueueOCR records a scanned PDF for a later OCR pass. Re-enqueueing an
// existing path is a no-op unless it was exhausted, which resets it for
// another round of attempts.
func (s *Store) EnqueueOCR(ctx context.Context, item QueueItem) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ocr_queue (path, provider, kind, competence, text_hash, state, updated_at)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(path) DO UPDATE SET
				text_hash = CASE WHEN excluded.text_hash != '' THEN excluded.text_hash ELSE ocr_queue.text_hash END,
				state = CASE WHEN ocr_queue.state = ? THEN ? ELSE ocr_queue.state END,
				attempts = CASE WHEN ocr_queue.state = ? THEN 0 ELSE ocr_queue.attempts END,
				updated_at = excluded.updated_at`,
			item.Path, item.Provider, string(item.Kind), item.Competence, item.TextHash,
			string(constants.QueuePending), now(),
			string(constants.QueueExhausted), string(constants.QueuePending),
			string(constants.QueueExhausted))
		if err != nil {
			return fmt.Errorf("store: enqueue ocr: %w", err)
		}
		return nil
	})
}

// PendingOCR returns up to limit pending queue items, oldest first.
// limit <= 0 returns all of them. When a batch scope is set, items of
// out-of-scope providers stay queued untouched, a run restricted to other
// providers must not burn their attempts.
func (s *Store) PendingOCR(ctx context.Context, limit int) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, provider, kind, competence, text_hash, attempts, state, last_error
		FROM ocr_queue WHERE state = ? ORDER BY updated_at`,
		string(constants.QueuePending))
	if err != nil {
		return nil, fmt.Errorf("store: pending ocr: %w", err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		var it QueueItem
		var kind, state string
		if err := rows.Scan(&it.Path, &it.Provider, &kind, &it.Competence,
			&it.TextHash, &it.Attempts, &state, &it.LastError); err != nil {
			return nil, err
		}
		if s.scope != nil && !s.scope[it.Provider] {
			continue
		}
		it.Kind = constants.DocumentKind(kind)
		it.State = constants.QueueState(state)
		out = append(out, it)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

// MarkOCRDone retires a queue item after a successful extraction.
func (s *Store) MarkOCRDone(ctx context.Context, path string) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE ocr_queue SET state = ?, last_error = '', updated_at = ? WHERE path = ?",
			string(constants.QueueDone), now(), path)
		return err
	})
}

// MarkOCRFailed bumps the attempt counter; hitting maxAttempts moves the
// item to exhausted so batches stop retrying it. An item in the exhausted
// state is reported with ErrOCRExhausted after the bump is committed.
func (s *Store) MarkOCRFailed(ctx context.Context, path, cause string, maxAttempts int) error {
	exhausted := false
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE ocr_queue SET
				attempts = attempts + 1,
				last_error = ?,
				state = CASE WHEN attempts + 1 >= ? THEN ? ELSE state END,
				updated_at = ?
			WHERE path = ?`,
			cause, maxAttempts, string(constants.QueueExhausted), now(), path); err != nil {
			return err
		}
		var state string
		err := tx.QueryRowContext(ctx,
			"SELECT state FROM ocr_queue WHERE path = ?", path).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		exhausted = constants.QueueState(state) == constants.QueueExhausted
		return nil
	})
	if err != nil {
		return err
	}
	if exhausted {
		return fmt.Errorf("store: ocr queue %s: %w", path, common.ErrOCRExhausted)
	}
	return nil
}

// QueueStats counts queue items per state.
func (s *Store) QueueStats(ctx context.Context) (map[constants.QueueState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM ocr_queue GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("store: queue stats: %w", err)
	}
	defer rows.Close()

	out := make(map[constants.QueueState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[constants.QueueState(state)] = n
	}
	return out, rows.Err()
}
