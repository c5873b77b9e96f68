package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Choice is a recorded human decision about one divergence.
type Choice string

const (
	ChoiceKeepSheet       Choice = "KEEP_SHEET"       // spreadsheet value stands
	ChoiceAcceptExtracted Choice = "ACCEPT_EXTRACTED" // document value stands

	// ChoiceAcceptDocument settles a merge conflict between candidate
	// documents for one identity key; Note holds the winning source path.
	ChoiceAcceptDocument Choice = "ACCEPT_DOCUMENT"
)

// Resolution binds a choice to a ledger cell key. The key format matches
// reconcile.Divergence.Key so resolutions survive re-runs.
type Resolution struct {
	Key        string
	Choice     Choice
	Note       string
	ResolvedAt string
}

// SaveResolution records (or overwrites) a decision.
func (s *Store) SaveResolution(ctx context.Context, key string, choice Choice, note string) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO resolutions (identity_key, choice, note, resolved_at)
			VALUES (?,?,?,?)
			ON CONFLICT(identity_key) DO UPDATE SET
				choice = excluded.choice,
				note = excluded.note,
				resolved_at = excluded.resolved_at`,
			key, string(choice), note, now())
		if err != nil {
			return fmt.Errorf("store: save resolution: %w", err)
		}
		return nil
	})
}

// Resolutions loads all recorded decisions keyed by divergence key.
func (s *Store) Resolutions(ctx context.Context) (map[string]Resolution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT identity_key, choice, note, resolved_at FROM resolutions")
	if err != nil {
		return nil, fmt.Errorf("store: resolutions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Resolution)
	for rows.Next() {
		var r Resolution
		var choice string
		if err := rows.Scan(&r.Key, &choice, &r.Note, &r.ResolvedAt); err != nil {
			return nil, err
		}
		r.Choice = Choice(choice)
		out[r.Key] = r
	}
	return out, rows.Err()
}
