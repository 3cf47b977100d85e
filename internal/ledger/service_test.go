package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-suite/meridian/internal/shared"
)

type memoryRepo struct {
	entries     map[int64]JournalEntry
	lines       map[int64]JournalLine
	sources     map[string]int64
	settings    Settings
	settingsSet bool
	nextID      int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		entries: make(map[int64]JournalEntry),
		lines:   make(map[int64]JournalLine),
		sources: make(map[string]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetOrCreateSettings(ctx context.Context) (Settings, error) {
	if !r.settingsSet {
		r.settings = Settings{ID: 1}
		r.settingsSet = true
	}
	return r.settings, nil
}

func (r *memoryRepo) UpdateSettings(ctx context.Context, s Settings) error {
	s.ID = 1
	r.settings = s
	r.settingsSet = true
	return nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) nextID() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func sourceKey(kind SourceKind, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

func (tx *memoryTx) InsertEntry(ctx context.Context, in EntryInput) (JournalEntry, error) {
	if in.SourceKind != "" {
		key := sourceKey(in.SourceKind, in.SourceID)
		if _, exists := tx.repo.sources[key]; exists {
			return JournalEntry{}, ErrSourceAlreadyPosted
		}
		tx.repo.sources[key] = 0
	}
	entry := JournalEntry{
		ID:          tx.nextID(),
		Date:        in.Date,
		Reference:   in.Reference,
		Description: in.Description,
		SourceKind:  in.SourceKind,
		SourceID:    in.SourceID,
	}
	tx.repo.entries[entry.ID] = entry
	if in.SourceKind != "" {
		tx.repo.sources[sourceKey(in.SourceKind, in.SourceID)] = entry.ID
	}
	return entry, nil
}

func (tx *memoryTx) GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, ok := tx.repo.entries[entryID]
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, entryID int64, line LineInput) (JournalLine, error) {
	if _, ok := tx.repo.entries[entryID]; !ok {
		return JournalLine{}, ErrEntryNotFound
	}
	out := JournalLine{
		ID:           tx.nextID(),
		EntryID:      entryID,
		AccountID:    line.AccountID,
		CostCenterID: line.CostCenterID,
		CostTypeID:   line.CostTypeID,
		PartnerID:    line.PartnerID,
		Debit:        line.Debit,
		Credit:       line.Credit,
		Description:  line.Description,
	}
	tx.repo.lines[out.ID] = out
	return out, nil
}

func (tx *memoryTx) GetLine(ctx context.Context, lineID int64) (JournalLine, error) {
	line, ok := tx.repo.lines[lineID]
	if !ok {
		return JournalLine{}, ErrLineNotFound
	}
	return line, nil
}

func (tx *memoryTx) DeleteLine(ctx context.Context, lineID int64) error {
	if _, ok := tx.repo.lines[lineID]; !ok {
		return ErrLineNotFound
	}
	delete(tx.repo.lines, lineID)
	return nil
}

func (tx *memoryTx) ListLines(ctx context.Context, entryID int64) ([]JournalLine, error) {
	var lines []JournalLine
	for id := int64(1); id <= tx.repo.nextID; id++ {
		if line, ok := tx.repo.lines[id]; ok && line.EntryID == entryID {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (tx *memoryTx) UpdateEntryTotals(ctx context.Context, entryID int64, debit, credit float64) error {
	entry, ok := tx.repo.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	entry.TotalDebit = debit
	entry.TotalCredit = credit
	tx.repo.entries[entryID] = entry
	return nil
}

func (tx *memoryTx) DeleteEntry(ctx context.Context, entryID int64) error {
	if _, ok := tx.repo.entries[entryID]; !ok {
		return ErrEntryNotFound
	}
	for id, line := range tx.repo.lines {
		if line.EntryID == entryID {
			delete(tx.repo.lines, id)
		}
	}
	delete(tx.repo.entries, entryID)
	return nil
}

func (tx *memoryTx) FindEntryBySource(ctx context.Context, kind SourceKind, sourceID int64) (JournalEntry, error) {
	id, ok := tx.repo.sources[sourceKey(kind, sourceID)]
	if !ok || id == 0 {
		return JournalEntry{}, ErrEntryNotFound
	}
	return tx.repo.entries[id], nil
}

type recordingSink struct {
	logs []shared.AuditLog
}

func (s *recordingSink) Record(ctx context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func TestAddLineRecalculatesTotals(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, EntryInput{Date: time.Now(), Reference: "RE-2026-001"})
	require.NoError(t, err)

	_, err = svc.AddLine(ctx, AddLineInput{EntryID: entry.ID, AccountID: 1, Debit: 119})
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, AddLineInput{EntryID: entry.ID, AccountID: 2, Credit: 100})
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, AddLineInput{EntryID: entry.ID, AccountID: 3, Credit: 19})
	require.NoError(t, err)

	stored := repo.entries[entry.ID]
	require.Equal(t, 119.0, stored.TotalDebit)
	require.Equal(t, 119.0, stored.TotalCredit)
}

func TestRemoveLineRecalculatesTotals(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, EntryInput{Reference: "RE-2026-002"})
	require.NoError(t, err)

	line, err := svc.AddLine(ctx, AddLineInput{EntryID: entry.ID, AccountID: 1, Debit: 50})
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, AddLineInput{EntryID: entry.ID, AccountID: 2, Credit: 50})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveLine(ctx, line.ID))

	stored := repo.entries[entry.ID]
	require.Equal(t, 0.0, stored.TotalDebit)
	require.Equal(t, 50.0, stored.TotalCredit)
}

func TestAddLineRejectsNegativeAmounts(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)

	_, err := svc.AddLine(context.Background(), AddLineInput{EntryID: 1, AccountID: 1, Debit: -5})
	require.Error(t, err)
	require.Empty(t, repo.lines)
}

func TestPostEntryIsAtomicAndBalanced(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)

	entry, err := svc.PostEntry(context.Background(), PostingInput{
		Reference:  "INV-100",
		SourceKind: SourceInvoice,
		SourceID:   100,
		Lines: []LineInput{
			{AccountID: 1, Debit: 119},
			{AccountID: 2, Credit: 100},
			{AccountID: 3, Credit: 19},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 119.0, entry.TotalDebit)
	require.Equal(t, 119.0, entry.TotalCredit)
	require.Len(t, entry.Lines, 3)
}

func TestPostEntryRejectsUnbalancedLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)

	_, err := svc.PostEntry(context.Background(), PostingInput{
		Reference:  "INV-103",
		SourceKind: SourceInvoice,
		SourceID:   103,
		Lines: []LineInput{
			{AccountID: 1, Debit: 119},
			{AccountID: 2, Credit: 109},
		},
	})
	require.ErrorIs(t, err, ErrUnbalanced)
	require.Empty(t, repo.entries)
	require.Empty(t, repo.lines)
}

func TestAddLineRejectsBothSidesSet(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)

	_, err := svc.AddLine(context.Background(), AddLineInput{EntryID: 1, AccountID: 1, Debit: 10, Credit: 10})
	require.Error(t, err)
	require.Empty(t, repo.lines)
}

func TestEntryBySource(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)
	ctx := context.Background()

	posted, err := svc.PostEntry(ctx, PostingInput{
		Reference:  "INV-104",
		SourceKind: SourceInvoice,
		SourceID:   104,
		Lines:      []LineInput{{AccountID: 1, Debit: 10}, {AccountID: 2, Credit: 10}},
	})
	require.NoError(t, err)

	found, err := svc.EntryBySource(ctx, SourceInvoice, 104)
	require.NoError(t, err)
	require.Equal(t, posted.ID, found.ID)

	_, err = svc.EntryBySource(ctx, SourceInvoice, 999)
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestPostEntryRejectsDuplicateSource(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)
	ctx := context.Background()

	input := PostingInput{
		Reference:  "INV-101",
		SourceKind: SourceInvoice,
		SourceID:   101,
		Lines:      []LineInput{{AccountID: 1, Debit: 10}, {AccountID: 2, Credit: 10}},
	}
	_, err := svc.PostEntry(ctx, input)
	require.NoError(t, err)

	_, err = svc.PostEntry(ctx, input)
	require.ErrorIs(t, err, ErrSourceAlreadyPosted)
	require.Len(t, repo.entries, 1)
}

func TestDeleteEntryCascadesLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)
	ctx := context.Background()

	entry, err := svc.PostEntry(ctx, PostingInput{
		Reference: "MANUAL-1",
		Lines:     []LineInput{{AccountID: 1, Debit: 10}, {AccountID: 2, Credit: 10}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEntry(ctx, entry.ID))
	require.Empty(t, repo.entries)
	require.Empty(t, repo.lines)
}

func TestReverseEntrySwapsSides(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)
	ctx := context.Background()

	entry, err := svc.PostEntry(ctx, PostingInput{
		Reference:  "INV-102",
		SourceKind: SourceInvoice,
		SourceID:   102,
		Lines:      []LineInput{{AccountID: 1, Debit: 75}, {AccountID: 2, Credit: 75}},
	})
	require.NoError(t, err)

	reversal, err := svc.ReverseEntry(ctx, entry.ID, "")
	require.NoError(t, err)
	require.Equal(t, 75.0, reversal.TotalDebit)
	require.Equal(t, 75.0, reversal.TotalCredit)
	require.Equal(t, entry.Lines[0].AccountID, reversal.Lines[0].AccountID)
	require.Equal(t, 75.0, reversal.Lines[0].Credit)
	require.Equal(t, 75.0, reversal.Lines[1].Debit)
}

func TestSettingsLazilyCreated(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, repo, nil)

	settings, err := svc.Settings(context.Background())
	require.NoError(t, err)
	require.False(t, settings.AutoPostingEnabled)
	require.Nil(t, settings.ReceivableAccountID)
}

func TestLineMutationsPublishAudit(t *testing.T) {
	repo := newMemoryRepo()
	sink := &recordingSink{}
	svc := NewService(repo, repo, sink)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, EntryInput{Reference: "RE-2026-003"})
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, AddLineInput{EntryID: entry.ID, AccountID: 1, Debit: 42, ActorID: 7})
	require.NoError(t, err)

	require.Len(t, sink.logs, 2)
	require.Equal(t, "journal.create", sink.logs[0].Action)
	require.Equal(t, "journal.line.add", sink.logs[1].Action)
	require.Equal(t, int64(7), sink.logs[1].ActorID)
	require.Equal(t, 42.0, sink.logs[1].New["total_debit"])
}
