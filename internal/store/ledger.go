package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/common"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/normalize"
)

// Entry is one ledger row: a normalized record plus its store lifecycle.
type Entry struct {
	normalize.Record
	State        constants.EntryState
	SupersededBy string
	SourcePath   string
	ContentHash  string
	BatchID      string
	UpdatedAt    string
}

// Meta carries provenance for an upsert.
type Meta struct {
	SourcePath  string
	ContentHash string
	BatchID     string
	Force       bool // document was reprocessed deliberately, replace on change
}

// Outcome reports what an upsert did.
type Outcome string

const (
	OutcomeInserted   Outcome = "INSERTED"
	OutcomeUnchanged  Outcome = "UNCHANGED"
	OutcomeReplaced   Outcome = "REPLACED"
	OutcomeSuperseded Outcome = "SUPERSEDED" // this record archived an earlier one
)

// Upsert writes a record under its identity key.
//
// An existing row with equal values is left alone. A record carrying a
// supersede marker archives the invoice it replaces, including an existing
// row under the same identity. A conflicting row with the same identity
// fails with ErrMergeConflict unless the write is forced, upgrades an OCR
// reading to complete text-layer sourced values, or completes a row that
// was missing required fields. A partial reading never degrades a complete
// row.
func (s *Store) Upsert(ctx context.Context, rec normalize.Record, meta Meta) (Outcome, error) {
	if s.scope != nil && !s.scope[rec.Provider] {
		return "", fmt.Errorf("provider %d: %w", rec.Provider, common.ErrOutOfScope)
	}

	outcome := OutcomeInserted
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		existing, err := getEntryTx(ctx, tx, rec.IdentityKey)
		switch {
		case err == nil:
			switch {
			case existing.State == constants.EntryManualResolved && !meta.Force:
				// A human settled this record; only a forced run may touch it.
				outcome = OutcomeUnchanged
				return nil
			case existing.Record.Equal(rec):
				outcome = OutcomeUnchanged
				return nil
			case meta.Force,
				existing.Source == constants.SourceOCR && rec.Source == constants.SourceText &&
					len(rec.Flags.MissingFields) == 0,
				rec.SupersedesDoc != "" && rec.SupersedesDoc == existing.DocNumber,
				len(existing.Flags.MissingFields) > 0 && len(rec.Flags.MissingFields) == 0:
				outcome = OutcomeReplaced
			default:
				return fmt.Errorf("identity %s already holds different values: %w",
					rec.IdentityKey, common.ErrMergeConflict)
			}
		case errors.Is(err, sql.ErrNoRows):
			// insert
		default:
			return err
		}

		if rec.SupersedesDoc != "" {
			n, err := supersedeTx(ctx, tx, rec)
			if err != nil {
				return err
			}
			if n > 0 && outcome == OutcomeInserted {
				outcome = OutcomeSuperseded
			}
		}
		return putEntryTx(ctx, tx, rec, meta)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// supersedeTx archives every active invoice of the same provider whose
// number matches the marker. It returns how many rows were archived.
func supersedeTx(ctx context.Context, tx *sql.Tx, rec normalize.Record) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE ledger SET state = ?, superseded_by = ?, updated_at = ?
		WHERE provider = ? AND kind = ? AND doc_number = ? AND state = ?`,
		string(constants.EntrySuperseded), rec.IdentityKey, now(),
		rec.Provider, string(rec.Kind), rec.SupersedesDoc, string(constants.EntryActive))
	if err != nil {
		return 0, fmt.Errorf("store: supersede: %w", err)
	}
	return res.RowsAffected()
}

func putEntryTx(ctx context.Context, tx *sql.Tx, rec normalize.Record, meta Meta) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger (
			identity_key, provider, kind, competence, doc_number,
			total_cents, inss_cents, iss_cents, iss_rate, worker_count,
			source, method, state, superseded_by,
			needs_review, missing_fields, suspicious_zero,
			source_path, content_hash, batch_id, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,'',?,?,?,?,?,?,?,?)
		ON CONFLICT(identity_key) DO UPDATE SET
			competence = excluded.competence,
			doc_number = excluded.doc_number,
			total_cents = excluded.total_cents,
			inss_cents = excluded.inss_cents,
			iss_cents = excluded.iss_cents,
			iss_rate = excluded.iss_rate,
			worker_count = excluded.worker_count,
			source = excluded.source,
			method = excluded.method,
			state = excluded.state,
			superseded_by = '',
			needs_review = excluded.needs_review,
			missing_fields = excluded.missing_fields,
			suspicious_zero = excluded.suspicious_zero,
			source_path = excluded.source_path,
			content_hash = excluded.content_hash,
			batch_id = excluded.batch_id,
			updated_at = excluded.updated_at`,
		rec.IdentityKey, rec.Provider, string(rec.Kind), rec.Competence.String(), rec.DocNumber,
		rec.TotalCents, rec.INSSCents, rec.ISSCents, rec.ISSRate, rec.WorkerCount,
		string(rec.Source), rec.Method, string(constants.EntryActive),
		boolInt(rec.Flags.NeedsManualReview), strings.Join(rec.Flags.MissingFields, ","),
		boolInt(rec.Flags.SuspiciousZero),
		meta.SourcePath, meta.ContentHash, meta.BatchID, now(), now())
	if err != nil {
		return fmt.Errorf("store: put entry: %w", err)
	}
	return nil
}

// Filter narrows Query. Zero values mean no restriction.
type Filter struct {
	Provider          int
	Kind              constants.DocumentKind
	From, To          config.Competence
	IncludeSuperseded bool
}

const entryColumns = `identity_key, provider, kind, competence, doc_number,
	total_cents, inss_cents, iss_cents, iss_rate, worker_count,
	source, method, state, superseded_by,
	needs_review, missing_fields, suspicious_zero,
	source_path, content_hash, batch_id, updated_at`

// Query returns matching entries ordered by provider, competence, doc number.
func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var where []string
	var args []any
	if f.Provider != 0 {
		where = append(where, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.From != (config.Competence{}) {
		where = append(where, "competence >= ?")
		args = append(args, f.From.String())
	}
	if f.To != (config.Competence{}) {
		where = append(where, "competence <= ?")
		args = append(args, f.To.String())
	}
	if !f.IncludeSuperseded {
		where = append(where, "state != ?")
		args = append(args, string(constants.EntrySuperseded))
	}

	q := "SELECT " + entryColumns + " FROM ledger"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY provider, competence, doc_number"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns the entry under one identity key.
func (s *Store) Get(ctx context.Context, identityKey string) (Entry, error) {
	var e Entry
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		var err error
		e, err = getEntryTx(ctx, tx, identityKey)
		return err
	})
	return e, err
}

func getEntryTx(ctx context.Context, tx *sql.Tx, identityKey string) (Entry, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM ledger WHERE identity_key = ?", identityKey)
	return scanEntry(row)
}

type scanner interface{ Scan(dest ...any) error }

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var kind, source, state, missing string
	var needsReview, suspiciousZero int
	var comp string
	err := row.Scan(
		&e.IdentityKey, &e.Provider, &kind, &comp, &e.DocNumber,
		&e.TotalCents, &e.INSSCents, &e.ISSCents, &e.ISSRate, &e.WorkerCount,
		&source, &e.Method, &state, &e.SupersededBy,
		&needsReview, &missing, &suspiciousZero,
		&e.SourcePath, &e.ContentHash, &e.BatchID, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Kind = constants.DocumentKind(kind)
	e.Source = constants.Source(source)
	e.State = constants.EntryState(state)
	e.Flags.NeedsManualReview = needsReview != 0
	e.Flags.SuspiciousZero = suspiciousZero != 0
	if missing != "" {
		e.Flags.MissingFields = strings.Split(missing, ",")
	}
	if c, perr := normalize.ParseCompetence(comp); perr == nil {
		e.Competence = c
	}
	return e, nil
}

// MarkResolved pins an entry as manually settled so later batches cannot
// silently overwrite it.
func (s *Store) MarkResolved(ctx context.Context, identityKey string) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE ledger SET state = ?, updated_at = ? WHERE identity_key = ?",
			string(constants.EntryManualResolved), now(), identityKey)
		if err != nil {
			return fmt.Errorf("store: mark resolved: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// Known reports whether a document with this content hash is already in the
// ledger, for incremental batch skipping.
func (s *Store) Known(ctx context.Context, contentHash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM ledger WHERE content_hash = ? LIMIT 1", contentHash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: known: %w", err)
	}
	return true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
