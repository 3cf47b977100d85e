package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-suite/meridian/internal/platform/db"
)

// Repository persists ledger entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional ledger operations. Line mutation and
// total recomputation always run through the same transaction.
type TxRepository interface {
	InsertEntry(ctx context.Context, in EntryInput) (JournalEntry, error)
	GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error)
	InsertLine(ctx context.Context, entryID int64, line LineInput) (JournalLine, error)
	GetLine(ctx context.Context, lineID int64) (JournalLine, error)
	DeleteLine(ctx context.Context, lineID int64) error
	ListLines(ctx context.Context, entryID int64) ([]JournalLine, error)
	UpdateEntryTotals(ctx context.Context, entryID int64, debit, credit float64) error
	DeleteEntry(ctx context.Context, entryID int64) error
	FindEntryBySource(ctx context.Context, kind SourceKind, sourceID int64) (JournalEntry, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) InsertEntry(ctx context.Context, in EntryInput) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (date, reference, description, source_kind, source_id)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`,
		in.Date, in.Reference, in.Description, nullString(string(in.SourceKind)), nullInt(in.SourceID))
	entry := JournalEntry{
		Date:        in.Date,
		Reference:   in.Reference,
		Description: in.Description,
		SourceKind:  in.SourceKind,
		SourceID:    in.SourceID,
	}
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		if isUniqueViolation(err, "uq_journal_entries_source") {
			return JournalEntry{}, ErrSourceAlreadyPosted
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	var e JournalEntry
	var kind *string
	var sourceID *int64
	err := r.tx.QueryRow(ctx, `SELECT id, date, reference, description, source_kind, source_id, total_debit, total_credit, created_at, updated_at
FROM journal_entries WHERE id=$1 FOR UPDATE`, entryID).
		Scan(&e.ID, &e.Date, &e.Reference, &e.Description, &kind, &sourceID, &e.TotalDebit, &e.TotalCredit, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	if kind != nil {
		e.SourceKind = SourceKind(*kind)
	}
	if sourceID != nil {
		e.SourceID = *sourceID
	}
	return e, nil
}

func (r *txRepository) InsertLine(ctx context.Context, entryID int64, line LineInput) (JournalLine, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, account_id, cost_center_id, cost_type_id, partner_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		entryID, line.AccountID, line.CostCenterID, line.CostTypeID, line.PartnerID, toNumeric(line.Debit), toNumeric(line.Credit), line.Description)
	out := JournalLine{
		EntryID:      entryID,
		AccountID:    line.AccountID,
		CostCenterID: line.CostCenterID,
		CostTypeID:   line.CostTypeID,
		PartnerID:    line.PartnerID,
		Debit:        line.Debit,
		Credit:       line.Credit,
		Description:  line.Description,
	}
	if err := row.Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return JournalLine{}, err
	}
	return out, nil
}

func (r *txRepository) GetLine(ctx context.Context, lineID int64) (JournalLine, error) {
	var line JournalLine
	err := r.tx.QueryRow(ctx, `SELECT id, entry_id, account_id, cost_center_id, cost_type_id, partner_id, debit, credit, description, created_at, updated_at
FROM journal_lines WHERE id=$1`, lineID).
		Scan(&line.ID, &line.EntryID, &line.AccountID, &line.CostCenterID, &line.CostTypeID, &line.PartnerID, &line.Debit, &line.Credit, &line.Description, &line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalLine{}, ErrLineNotFound
		}
		return JournalLine{}, err
	}
	return line, nil
}

func (r *txRepository) DeleteLine(ctx context.Context, lineID int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE id=$1`, lineID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *txRepository) ListLines(ctx context.Context, entryID int64) ([]JournalLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_id, cost_center_id, cost_type_id, partner_id, debit, credit, description, created_at, updated_at
FROM journal_lines WHERE entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.CostCenterID, &line.CostTypeID, &line.PartnerID, &line.Debit, &line.Credit, &line.Description, &line.CreatedAt, &line.UpdatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) UpdateEntryTotals(ctx context.Context, entryID int64, debit, credit float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET total_debit=$2, total_credit=$3, updated_at=NOW() WHERE id=$1`,
		entryID, toNumeric(debit), toNumeric(credit))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) DeleteEntry(ctx context.Context, entryID int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entryID); err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1`, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) FindEntryBySource(ctx context.Context, kind SourceKind, sourceID int64) (JournalEntry, error) {
	var e JournalEntry
	var k *string
	var sid *int64
	err := r.tx.QueryRow(ctx, `SELECT id, date, reference, description, source_kind, source_id, total_debit, total_credit, created_at, updated_at
FROM journal_entries WHERE source_kind=$1 AND source_id=$2`, string(kind), sourceID).
		Scan(&e.ID, &e.Date, &e.Reference, &e.Description, &k, &sid, &e.TotalDebit, &e.TotalCredit, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	e.SourceKind = kind
	e.SourceID = sourceID
	return e, nil
}

// GetOrCreateSettings returns the singleton settings row, creating it with
// defaults on first access.
func (r *Repository) GetOrCreateSettings(ctx context.Context) (Settings, error) {
	if r == nil {
		return Settings{}, errors.New("ledger repository not initialised")
	}
	if _, err := r.pool.Exec(ctx, `INSERT INTO ledger_settings (id, auto_posting_enabled) VALUES (1, FALSE) ON CONFLICT (id) DO NOTHING`); err != nil {
		return Settings{}, err
	}
	var s Settings
	err := r.pool.QueryRow(ctx, `SELECT id, auto_posting_enabled, receivable_account_id, revenue_account_id, vat_output_account_id, inventory_account_id, payable_account_id, default_cost_center_id, updated_at
FROM ledger_settings WHERE id=1`).
		Scan(&s.ID, &s.AutoPostingEnabled, &s.ReceivableAccountID, &s.RevenueAccountID, &s.VATOutputAccountID, &s.InventoryAccountID, &s.PayableAccountID, &s.DefaultCostCenterID, &s.UpdatedAt)
	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

// UpdateSettings overwrites the singleton settings row.
func (r *Repository) UpdateSettings(ctx context.Context, s Settings) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	_, err := r.pool.Exec(ctx, `UPDATE ledger_settings SET auto_posting_enabled=$1, receivable_account_id=$2, revenue_account_id=$3, vat_output_account_id=$4, inventory_account_id=$5, payable_account_id=$6, default_cost_center_id=$7, updated_at=NOW() WHERE id=1`,
		s.AutoPostingEnabled, s.ReceivableAccountID, s.RevenueAccountID, s.VATOutputAccountID, s.InventoryAccountID, s.PayableAccountID, s.DefaultCostCenterID)
	return err
}

// GetEntry loads an entry with its lines outside a transaction.
func (r *Repository) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	var e JournalEntry
	var kind *string
	var sourceID *int64
	err := r.pool.QueryRow(ctx, `SELECT id, date, reference, description, source_kind, source_id, total_debit, total_credit, created_at, updated_at
FROM journal_entries WHERE id=$1`, entryID).
		Scan(&e.ID, &e.Date, &e.Reference, &e.Description, &kind, &sourceID, &e.TotalDebit, &e.TotalCredit, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	if kind != nil {
		e.SourceKind = SourceKind(*kind)
	}
	if sourceID != nil {
		e.SourceID = *sourceID
	}
	rows, err := r.pool.Query(ctx, `SELECT id, entry_id, account_id, cost_center_id, cost_type_id, partner_id, debit, credit, description, created_at, updated_at
FROM journal_lines WHERE entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.CostCenterID, &line.CostTypeID, &line.PartnerID, &line.Debit, &line.Credit, &line.Description, &line.CreatedAt, &line.UpdatedAt); err != nil {
			return JournalEntry{}, err
		}
		e.Lines = append(e.Lines, line)
	}
	return e, rows.Err()
}

// ListEntries returns entries newest first, without their lines.
func (r *Repository) ListEntries(ctx context.Context, limit, offset int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, date, reference, description, source_kind, source_id, total_debit, total_credit, created_at, updated_at
FROM journal_entries ORDER BY date DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var kind *string
		var sourceID *int64
		if err := rows.Scan(&e.ID, &e.Date, &e.Reference, &e.Description, &kind, &sourceID, &e.TotalDebit, &e.TotalCredit, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if kind != nil {
			e.SourceKind = SourceKind(*kind)
		}
		if sourceID != nil {
			e.SourceID = *sourceID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListAccounts retrieves all chart of accounts entries ordered by code.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, type, is_active, created_at, updated_at FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
