package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// LedgerIntegrityJob verifies that stored entry totals still equal the sums
// of their lines and that auto-posted entries balance. It only reports;
// repairing a drifted entry is an operator decision.
type LedgerIntegrityJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLedgerIntegrityJob constructs the job.
func NewLedgerIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger) *LedgerIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerIntegrityJob{pool: pool, logger: logger}
}

// Run executes both scans concurrently and logs every finding.
func (j *LedgerIntegrityJob) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return j.scanDriftedTotals(ctx) })
	g.Go(func() error { return j.scanUnbalancedPostings(ctx) })
	return g.Wait()
}

func (j *LedgerIntegrityJob) scanDriftedTotals(ctx context.Context) error {
	rows, err := j.pool.Query(ctx, `SELECT e.id, e.total_debit, e.total_credit,
COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_entries e
LEFT JOIN journal_lines l ON l.entry_id = e.id
GROUP BY e.id, e.total_debit, e.total_credit
HAVING e.total_debit <> COALESCE(SUM(l.debit),0) OR e.total_credit <> COALESCE(SUM(l.credit),0)`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var storedDebit, storedCredit, lineDebit, lineCredit float64
		if err := rows.Scan(&id, &storedDebit, &storedCredit, &lineDebit, &lineCredit); err != nil {
			return err
		}
		j.logger.Error("ledger entry totals drifted from lines",
			slog.Int64("entry_id", id),
			slog.Float64("stored_debit", storedDebit),
			slog.Float64("line_debit", lineDebit),
			slog.Float64("stored_credit", storedCredit),
			slog.Float64("line_credit", lineCredit))
	}
	return rows.Err()
}

func (j *LedgerIntegrityJob) scanUnbalancedPostings(ctx context.Context) error {
	rows, err := j.pool.Query(ctx, `SELECT id, source_kind, source_id, total_debit, total_credit
FROM journal_entries WHERE source_kind IS NOT NULL AND total_debit <> total_credit`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, sourceID int64
		var kind string
		var debit, credit float64
		if err := rows.Scan(&id, &kind, &sourceID, &debit, &credit); err != nil {
			return err
		}
		j.logger.Error("auto-posted entry is unbalanced",
			slog.Int64("entry_id", id),
			slog.String("source_kind", kind),
			slog.Int64("source_id", sourceID),
			slog.Float64("total_debit", debit),
			slog.Float64("total_credit", credit))
	}
	return rows.Err()
}

// Handler adapts the job to Asynq.
func (j *LedgerIntegrityJob) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		return j.Run(ctx)
	}
}
