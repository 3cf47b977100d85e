package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-suite/meridian/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// SettingsPort provides the lazily-created singleton configuration row.
type SettingsPort interface {
	GetOrCreateSettings(ctx context.Context) (Settings, error)
	UpdateSettings(ctx context.Context, s Settings) error
}

// Service coordinates entry and line mutations, keeping entry totals derived
// from the owned lines at all times.
type Service struct {
	repo     RepositoryPort
	settings SettingsPort
	audit    shared.AuditSink
	now      func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, settings SettingsPort, audit shared.AuditSink) *Service {
	return &Service{repo: repo, settings: settings, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateEntry inserts a journal entry with no lines and zero totals.
func (s *Service) CreateEntry(ctx context.Context, in EntryInput) (JournalEntry, error) {
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.InsertEntry(ctx, in)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.publish(ctx, 0, "journal.create", entry.ID, nil, entrySnapshot(entry))
	return entry, nil
}

// AddLine appends a line to an entry and recomputes the entry totals inside
// the same transaction, so no caller ever observes stale totals.
func (s *Service) AddLine(ctx context.Context, in AddLineInput) (JournalLine, error) {
	if err := (LineInput{AccountID: in.AccountID, Debit: in.Debit, Credit: in.Credit}).Validate(); err != nil {
		return JournalLine{}, err
	}
	var line JournalLine
	var before, after JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, in.EntryID)
		if err != nil {
			return err
		}
		before = entry
		line, err = tx.InsertLine(ctx, in.EntryID, LineInput{
			AccountID:    in.AccountID,
			CostCenterID: in.CostCenterID,
			CostTypeID:   in.CostTypeID,
			PartnerID:    in.PartnerID,
			Debit:        in.Debit,
			Credit:       in.Credit,
			Description:  in.Description,
		})
		if err != nil {
			return err
		}
		after, err = recalc(ctx, tx, entry)
		return err
	})
	if err != nil {
		return JournalLine{}, err
	}
	s.publish(ctx, in.ActorID, "journal.line.add", in.EntryID, entrySnapshot(before), entrySnapshot(after))
	return line, nil
}

// RemoveLine deletes a line and recomputes its entry totals in one
// transaction.
func (s *Service) RemoveLine(ctx context.Context, lineID int64) error {
	var before, after JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.GetLine(ctx, lineID)
		if err != nil {
			return err
		}
		entry, err := tx.GetEntryForUpdate(ctx, line.EntryID)
		if err != nil {
			return err
		}
		before = entry
		if err := tx.DeleteLine(ctx, lineID); err != nil {
			return err
		}
		after, err = recalc(ctx, tx, entry)
		return err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, 0, "journal.line.remove", before.ID, entrySnapshot(before), entrySnapshot(after))
	return nil
}

// DeleteEntry removes an entry together with all of its lines.
func (s *Service) DeleteEntry(ctx context.Context, entryID int64) error {
	var before JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		before = entry
		return tx.DeleteEntry(ctx, entryID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, 0, "journal.delete", entryID, entrySnapshot(before), nil)
	return nil
}

// PostEntry creates an entry with all of its lines atomically. The unique
// (source kind, source id) link makes repeated postings for the same document
// surface as ErrSourceAlreadyPosted.
func (s *Service) PostEntry(ctx context.Context, in PostingInput) (JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertEntry(ctx, EntryInput{
			Date:        in.Date,
			Reference:   in.Reference,
			Description: in.Description,
			SourceKind:  in.SourceKind,
			SourceID:    in.SourceID,
		})
		if err != nil {
			return err
		}
		for _, line := range in.Lines {
			if _, err := tx.InsertLine(ctx, inserted.ID, line); err != nil {
				return err
			}
		}
		entry, err = recalc(ctx, tx, inserted)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.publish(ctx, 0, "journal.post", entry.ID, nil, entrySnapshot(entry))
	return entry, nil
}

// EntryBySource looks up the entry posted for a business document, if any.
func (s *Service) EntryBySource(ctx context.Context, kind SourceKind, sourceID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.FindEntryBySource(ctx, kind, sourceID)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// ReverseEntry creates a mirrored entry with debit and credit swapped,
// linked to the original through a reversal source kind.
func (s *Service) ReverseEntry(ctx context.Context, entryID int64, memo string) (JournalEntry, error) {
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, entryID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return errors.New("ledger: cannot reverse entry without lines")
		}
		inserted, err := tx.InsertEntry(ctx, EntryInput{
			Date:        s.now(),
			Reference:   original.Reference,
			Description: defaultReversalMemo(memo, original.Reference),
			SourceKind:  SourceKind(string(original.SourceKind) + ":REVERSAL"),
			SourceID:    original.SourceID,
		})
		if err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := tx.InsertLine(ctx, inserted.ID, LineInput{
				AccountID:    line.AccountID,
				CostCenterID: line.CostCenterID,
				CostTypeID:   line.CostTypeID,
				PartnerID:    line.PartnerID,
				Debit:        line.Credit,
				Credit:       line.Debit,
				Description:  line.Description,
			}); err != nil {
				return err
			}
		}
		reversal, err = recalc(ctx, tx, inserted)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.publish(ctx, 0, "journal.reverse", entryID, nil, entrySnapshot(reversal))
	return reversal, nil
}

// Settings returns the singleton configuration, creating it on first access.
// It is read fresh on every call so administrative changes take effect
// immediately.
func (s *Service) Settings(ctx context.Context) (Settings, error) {
	if s.settings == nil {
		return Settings{}, errors.New("ledger: settings store not configured")
	}
	return s.settings.GetOrCreateSettings(ctx)
}

// UpdateSettings overwrites the configuration through administrative action.
func (s *Service) UpdateSettings(ctx context.Context, next Settings) error {
	if s.settings == nil {
		return errors.New("ledger: settings store not configured")
	}
	current, err := s.settings.GetOrCreateSettings(ctx)
	if err != nil {
		return err
	}
	if err := s.settings.UpdateSettings(ctx, next); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "settings.update",
			Entity:   "ledger_settings",
			EntityID: fmt.Sprintf("%d", current.ID),
			Old:      settingsSnapshot(current),
			New:      settingsSnapshot(next),
			At:       s.now(),
		})
	}
	return nil
}

// recalc re-reads all lines of the entry and overwrites the stored totals
// with their sums. Full rescan, not incremental, so partial failures can
// never leave drifted totals behind.
func recalc(ctx context.Context, tx TxRepository, entry JournalEntry) (JournalEntry, error) {
	lines, err := tx.ListLines(ctx, entry.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	var debit, credit float64
	for _, line := range lines {
		debit += line.Debit
		credit += line.Credit
	}
	debit = Round2(debit)
	credit = Round2(credit)
	if err := tx.UpdateEntryTotals(ctx, entry.ID, debit, credit); err != nil {
		return JournalEntry{}, err
	}
	entry.TotalDebit = debit
	entry.TotalCredit = credit
	entry.Lines = lines
	return entry, nil
}

func (s *Service) publish(ctx context.Context, actorID int64, action string, entryID int64, old, next map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entryID),
		Old:      old,
		New:      next,
		At:       s.now(),
	})
}

func entrySnapshot(e JournalEntry) map[string]any {
	if e.ID == 0 {
		return nil
	}
	return map[string]any{
		"reference":    e.Reference,
		"total_debit":  e.TotalDebit,
		"total_credit": e.TotalCredit,
		"lines":        len(e.Lines),
	}
}

func settingsSnapshot(s Settings) map[string]any {
	return map[string]any{
		"auto_posting_enabled": s.AutoPostingEnabled,
		"receivable":           s.ReceivableAccountID,
		"revenue":              s.RevenueAccountID,
		"vat_output":           s.VATOutputAccountID,
		"inventory":            s.InventoryAccountID,
		"payable":              s.PayableAccountID,
		"default_cost_center":  s.DefaultCostCenterID,
	}
}

func defaultReversalMemo(memo, reference string) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of %s", reference)
}
