// Package posting translates finalized business documents into balanced
// journal entries, exactly once per document.
package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-suite/meridian/internal/ledger"
)

// Invoice is the finalized document feed for receivable postings.
type Invoice struct {
	ID       int64
	Number   string
	IssuedAt time.Time
	Total    float64
	Net      float64
	Tax      float64
}

// ReceiptLine is one line item of a stock receipt.
type ReceiptLine struct {
	Qty         float64
	UnitCostNet float64
}

// StockReceipt is the finalized document feed for inventory postings.
type StockReceipt struct {
	ID         int64
	Number     string
	ReceivedAt time.Time
	Lines      []ReceiptLine
}

// Ledger exposes the posting operation required by the engine.
type Ledger interface {
	PostEntry(ctx context.Context, input ledger.PostingInput) (ledger.JournalEntry, error)
	Settings(ctx context.Context) (ledger.Settings, error)
}

// Outcome distinguishes a created entry from a legitimate no-op. Skips are
// not errors: disabled auto-posting, incomplete account configuration and
// already-posted documents all signal "not applicable".
type Outcome struct {
	Posted bool
	Entry  ledger.JournalEntry
	Reason string
}

func posted(entry ledger.JournalEntry) Outcome {
	return Outcome{Posted: true, Entry: entry}
}

func skipped(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Engine derives ledger postings from business documents.
type Engine struct {
	ledger Ledger
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine constructs the posting engine.
func NewEngine(l Ledger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{ledger: l, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// PostInvoice books an issued invoice: debit receivable for the gross total,
// credit revenue for the net amount and VAT output for the tax amount. The
// entry balances by construction since total = net + tax.
func (e *Engine) PostInvoice(ctx context.Context, inv Invoice) (Outcome, error) {
	settings, err := e.ledger.Settings(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("posting: load settings: %w", err)
	}
	if !settings.AutoPostingEnabled {
		return skipped("auto-posting disabled"), nil
	}
	if settings.ReceivableAccountID == nil || settings.RevenueAccountID == nil || settings.VATOutputAccountID == nil {
		return skipped("receivable/revenue/vat accounts not configured"), nil
	}

	date := inv.IssuedAt
	if date.IsZero() {
		date = e.now()
	}
	lines := []ledger.LineInput{{
		AccountID:    *settings.ReceivableAccountID,
		CostCenterID: settings.DefaultCostCenterID,
		Debit:        ledger.Round2(inv.Total),
		Description:  fmt.Sprintf("Invoice %s", inv.Number),
	}}
	if inv.Net > 0 {
		lines = append(lines, ledger.LineInput{
			AccountID:    *settings.RevenueAccountID,
			CostCenterID: settings.DefaultCostCenterID,
			Credit:       ledger.Round2(inv.Net),
			Description:  fmt.Sprintf("Invoice %s net", inv.Number),
		})
	}
	if inv.Tax > 0 {
		lines = append(lines, ledger.LineInput{
			AccountID:    *settings.VATOutputAccountID,
			CostCenterID: settings.DefaultCostCenterID,
			Credit:       ledger.Round2(inv.Tax),
			Description:  fmt.Sprintf("Invoice %s VAT", inv.Number),
		})
	}

	entry, err := e.ledger.PostEntry(ctx, ledger.PostingInput{
		Date:        date,
		Reference:   inv.Number,
		Description: fmt.Sprintf("Auto-posting invoice %s", inv.Number),
		SourceKind:  ledger.SourceInvoice,
		SourceID:    inv.ID,
		Lines:       lines,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrSourceAlreadyPosted) {
			return skipped("invoice already posted"), nil
		}
		return Outcome{}, err
	}
	e.logger.Info("invoice posted",
		slog.Int64("invoice_id", inv.ID),
		slog.String("reference", inv.Number),
		slog.Float64("total", entry.TotalDebit))
	return posted(entry), nil
}

// PostStockReceipt books a goods receipt at cost: debit inventory, credit
// payable for the summed line cost. Zero-cost receipts create no entry.
func (e *Engine) PostStockReceipt(ctx context.Context, receipt StockReceipt) (Outcome, error) {
	settings, err := e.ledger.Settings(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("posting: load settings: %w", err)
	}
	if !settings.AutoPostingEnabled {
		return skipped("auto-posting disabled"), nil
	}
	if settings.InventoryAccountID == nil || settings.PayableAccountID == nil {
		return skipped("inventory/payable accounts not configured"), nil
	}

	var total float64
	for _, line := range receipt.Lines {
		total += line.Qty * line.UnitCostNet
	}
	total = ledger.Round2(total)
	if total <= 0 {
		return skipped("receipt total cost is zero"), nil
	}

	date := receipt.ReceivedAt
	if date.IsZero() {
		date = e.now()
	}
	entry, err := e.ledger.PostEntry(ctx, ledger.PostingInput{
		Date:        date,
		Reference:   receipt.Number,
		Description: fmt.Sprintf("Auto-posting stock receipt %s", receipt.Number),
		SourceKind:  ledger.SourceStockReceipt,
		SourceID:    receipt.ID,
		Lines: []ledger.LineInput{
			{AccountID: *settings.InventoryAccountID, Debit: total, Description: fmt.Sprintf("Receipt %s", receipt.Number)},
			{AccountID: *settings.PayableAccountID, Credit: total, Description: fmt.Sprintf("Receipt %s", receipt.Number)},
		},
	})
	if err != nil {
		if errors.Is(err, ledger.ErrSourceAlreadyPosted) {
			return skipped("receipt already posted"), nil
		}
		return Outcome{}, err
	}
	e.logger.Info("stock receipt posted",
		slog.Int64("receipt_id", receipt.ID),
		slog.String("reference", receipt.Number),
		slog.Float64("total", entry.TotalDebit))
	return posted(entry), nil
}
