package posting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-suite/meridian/internal/ledger"
)

type fakeLedger struct {
	settings ledger.Settings
	entries  []ledger.JournalEntry
	sources  map[string]bool
	nextID   int64
}

func newFakeLedger(settings ledger.Settings) *fakeLedger {
	return &fakeLedger{settings: settings, sources: make(map[string]bool)}
}

func (f *fakeLedger) Settings(ctx context.Context) (ledger.Settings, error) {
	return f.settings, nil
}

func (f *fakeLedger) PostEntry(ctx context.Context, input ledger.PostingInput) (ledger.JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return ledger.JournalEntry{}, err
	}
	key := fmt.Sprintf("%s:%d", input.SourceKind, input.SourceID)
	if input.SourceKind != "" {
		if f.sources[key] {
			return ledger.JournalEntry{}, ledger.ErrSourceAlreadyPosted
		}
		f.sources[key] = true
	}
	f.nextID++
	entry := ledger.JournalEntry{
		ID:          f.nextID,
		Date:        input.Date,
		Reference:   input.Reference,
		Description: input.Description,
		SourceKind:  input.SourceKind,
		SourceID:    input.SourceID,
	}
	for i, line := range input.Lines {
		entry.TotalDebit += line.Debit
		entry.TotalCredit += line.Credit
		entry.Lines = append(entry.Lines, ledger.JournalLine{
			ID:           int64(i + 1),
			EntryID:      entry.ID,
			AccountID:    line.AccountID,
			CostCenterID: line.CostCenterID,
			Debit:        line.Debit,
			Credit:       line.Credit,
			Description:  line.Description,
		})
	}
	f.entries = append(f.entries, entry)
	return entry, nil
}

func ptr(v int64) *int64 { return &v }

func configuredSettings() ledger.Settings {
	return ledger.Settings{
		ID:                  1,
		AutoPostingEnabled:  true,
		ReceivableAccountID: ptr(1400),
		RevenueAccountID:    ptr(8400),
		VATOutputAccountID:  ptr(1776),
		InventoryAccountID:  ptr(3980),
		PayableAccountID:    ptr(1600),
		DefaultCostCenterID: ptr(10),
	}
}

func TestPostInvoiceCreatesBalancedEntry(t *testing.T) {
	l := newFakeLedger(configuredSettings())
	engine := NewEngine(l, nil)

	outcome, err := engine.PostInvoice(context.Background(), Invoice{
		ID:       55,
		Number:   "INV-2026-055",
		IssuedAt: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Total:    119.00,
		Net:      100.00,
		Tax:      19.00,
	})
	require.NoError(t, err)
	require.True(t, outcome.Posted)

	entry := outcome.Entry
	require.Equal(t, 119.00, entry.TotalDebit)
	require.Equal(t, 119.00, entry.TotalCredit)
	require.Len(t, entry.Lines, 3)
	require.Equal(t, int64(1400), entry.Lines[0].AccountID)
	require.Equal(t, 119.00, entry.Lines[0].Debit)
	require.Equal(t, int64(8400), entry.Lines[1].AccountID)
	require.Equal(t, 100.00, entry.Lines[1].Credit)
	require.Equal(t, int64(1776), entry.Lines[2].AccountID)
	require.Equal(t, 19.00, entry.Lines[2].Credit)
	require.Equal(t, "INV-2026-055", entry.Reference)
	require.Equal(t, int64(10), *entry.Lines[0].CostCenterID)
	require.Equal(t, int64(10), *entry.Lines[1].CostCenterID)
	require.Equal(t, int64(10), *entry.Lines[2].CostCenterID)
}

func TestPostInvoiceRejectsInconsistentAmounts(t *testing.T) {
	l := newFakeLedger(configuredSettings())
	engine := NewEngine(l, nil)

	_, err := engine.PostInvoice(context.Background(), Invoice{
		ID:     61,
		Number: "INV-2026-061",
		Total:  119.00,
		Net:    90.00,
		Tax:    19.00,
	})
	require.ErrorIs(t, err, ledger.ErrUnbalanced)
	require.Empty(t, l.entries)
}

func TestPostInvoiceIsIdempotent(t *testing.T) {
	l := newFakeLedger(configuredSettings())
	engine := NewEngine(l, nil)
	ctx := context.Background()
	inv := Invoice{ID: 56, Number: "INV-2026-056", Total: 119, Net: 100, Tax: 19}

	first, err := engine.PostInvoice(ctx, inv)
	require.NoError(t, err)
	require.True(t, first.Posted)

	second, err := engine.PostInvoice(ctx, inv)
	require.NoError(t, err)
	require.False(t, second.Posted)
	require.Contains(t, second.Reason, "already posted")
	require.Len(t, l.entries, 1)
}

func TestPostInvoiceSkipsWhenDisabled(t *testing.T) {
	settings := configuredSettings()
	settings.AutoPostingEnabled = false
	l := newFakeLedger(settings)
	engine := NewEngine(l, nil)

	outcome, err := engine.PostInvoice(context.Background(), Invoice{ID: 57, Number: "INV-2026-057", Total: 10})
	require.NoError(t, err)
	require.False(t, outcome.Posted)
	require.Empty(t, l.entries)
}

func TestPostInvoiceSkipsWhenUnconfigured(t *testing.T) {
	settings := configuredSettings()
	settings.VATOutputAccountID = nil
	l := newFakeLedger(settings)
	engine := NewEngine(l, nil)

	outcome, err := engine.PostInvoice(context.Background(), Invoice{ID: 58, Number: "INV-2026-058", Total: 10})
	require.NoError(t, err)
	require.False(t, outcome.Posted)
	require.Contains(t, outcome.Reason, "not configured")
	require.Empty(t, l.entries)
}

func TestPostInvoiceOmitsZeroLines(t *testing.T) {
	l := newFakeLedger(configuredSettings())
	engine := NewEngine(l, nil)

	outcome, err := engine.PostInvoice(context.Background(), Invoice{ID: 59, Number: "INV-2026-059", Total: 100, Net: 100, Tax: 0})
	require.NoError(t, err)
	require.True(t, outcome.Posted)
	require.Len(t, outcome.Entry.Lines, 2)
}

func TestPostInvoiceFallsBackToCurrentDate(t *testing.T) {
	l := newFakeLedger(configuredSettings())
	engine := NewEngine(l, nil)
	fixed := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	engine.WithNow(func() time.Time { return fixed })

	outcome, err := engine.PostInvoice(context.Background(), Invoice{ID: 60, Number: "INV-2026-060", Total: 119, Net: 100, Tax: 19})
	require.NoError(t, err)
	require.Equal(t, fixed, outcome.Entry.Date)
}

func TestPostStockReceiptSkipsZeroTotal(t *testing.T) {
	l := newFakeLedger(configuredSettings())
	engine := NewEngine(l, nil)

	outcome, err := engine.PostStockReceipt(context.Background(), StockReceipt{
		ID:     7,
		Number: "WE-2026-007",
		Lines:  []ReceiptLine{{Qty: 5, UnitCostNet: 0}},
	})
	require.NoError(t, err)
	require.False(t, outcome.Posted)
	require.Empty(t, l.entries)
}

func TestPostStockReceiptCreatesBalancedEntry(t *testing.T) {
	l := newFakeLedger(configuredSettings())
	engine := NewEngine(l, nil)

	outcome, err := engine.PostStockReceipt(context.Background(), StockReceipt{
		ID:         8,
		Number:     "WE-2026-008",
		ReceivedAt: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Lines: []ReceiptLine{
			{Qty: 3, UnitCostNet: 12.50},
			{Qty: 2, UnitCostNet: 4.25},
		},
	})
	require.NoError(t, err)
	require.True(t, outcome.Posted)

	entry := outcome.Entry
	require.Equal(t, 46.00, entry.TotalDebit)
	require.Equal(t, entry.TotalDebit, entry.TotalCredit)
	require.Len(t, entry.Lines, 2)
	require.Equal(t, int64(3980), entry.Lines[0].AccountID)
	require.Equal(t, int64(1600), entry.Lines[1].AccountID)
}

func TestPostStockReceiptRequiresAccounts(t *testing.T) {
	settings := configuredSettings()
	settings.PayableAccountID = nil
	l := newFakeLedger(settings)
	engine := NewEngine(l, nil)

	outcome, err := engine.PostStockReceipt(context.Background(), StockReceipt{
		ID:     9,
		Number: "WE-2026-009",
		Lines:  []ReceiptLine{{Qty: 1, UnitCostNet: 10}},
	})
	require.NoError(t, err)
	require.False(t, outcome.Posted)
	require.Empty(t, l.entries)
}
