package store

import (
	"context"
	"fmt"

	"github.com/EloiBiesek/fiscal-tracker/constants"
	"github.com/EloiBiesek/fiscal-tracker/internal/config"
	"github.com/EloiBiesek/fiscal-tracker/internal/normalize"
)

// Cell addresses one provider and competence month.
type Cell struct {
	Provider   int
	Competence config.Competence
}

// InvoiceSum aggregates the active invoices of one cell.
type InvoiceSum struct {
	TotalCents int64
	INSSCents  int64
	ISSCents   int64
	Docs       []string // active doc numbers, for the divergence report
}

// WorkerCounts sums active payroll worker counts per cell. Superseded
// entries never contribute.
func (s *Store) WorkerCounts(ctx context.Context, from, to config.Competence) (map[Cell]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, competence, SUM(worker_count)
		FROM ledger
		WHERE kind = ? AND state != ? AND competence >= ? AND competence <= ?
		GROUP BY provider, competence`,
		string(constants.KindPayroll), string(constants.EntrySuperseded),
		from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("store: worker counts: %w", err)
	}
	defer rows.Close()

	out := make(map[Cell]int)
	for rows.Next() {
		var provider, count int
		var comp string
		if err := rows.Scan(&provider, &comp, &count); err != nil {
			return nil, err
		}
		c, perr := normalize.ParseCompetence(comp)
		if perr != nil {
			continue
		}
		out[Cell{Provider: provider, Competence: c}] = count
	}
	return out, rows.Err()
}

// InvoiceSums aggregates active invoice values per cell.
func (s *Store) InvoiceSums(ctx context.Context, from, to config.Competence) (map[Cell]InvoiceSum, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, competence, doc_number, total_cents, inss_cents, iss_cents
		FROM ledger
		WHERE kind = ? AND state != ? AND competence >= ? AND competence <= ?
		ORDER BY provider, competence, doc_number`,
		string(constants.KindInvoice), string(constants.EntrySuperseded),
		from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("store: invoice sums: %w", err)
	}
	defer rows.Close()

	out := make(map[Cell]InvoiceSum)
	for rows.Next() {
		var provider int
		var comp, doc string
		var total, inss, iss int64
		if err := rows.Scan(&provider, &comp, &doc, &total, &inss, &iss); err != nil {
			return nil, err
		}
		c, perr := normalize.ParseCompetence(comp)
		if perr != nil {
			continue
		}
		key := Cell{Provider: provider, Competence: c}
		sum := out[key]
		sum.TotalCents += total
		sum.INSSCents += inss
		sum.ISSCents += iss
		sum.Docs = append(sum.Docs, doc)
		out[key] = sum
	}
	return out, rows.Err()
}

// ReviewCount counts active entries flagged for manual review.
func (s *Store) ReviewCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger WHERE needs_review = 1 AND state = ?`,
		string(constants.EntryActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: review count: %w", err)
	}
	return n, nil
}
