package ledger

import (
	"errors"
	"fmt"
	"time"
)

// AccountType enumerates chart-of-accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// SourceKind enumerates the business documents an entry may be linked to.
// Together with the document id it forms the auto-posting idempotency key.
type SourceKind string

const (
	SourceInvoice      SourceKind = "INVOICE"
	SourceStockReceipt SourceKind = "STOCK_RECEIPT"
	SourceSalesOrder   SourceKind = "SALES_ORDER"
	SourceContract     SourceKind = "CONTRACT"
	SourceEmployee     SourceKind = "EMPLOYEE"
)

// Account models a chart of accounts node.
type Account struct {
	ID        int64
	Code      string
	Name      string
	Type      AccountType
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CostCenter is a posting dimension attachable to a journal line.
type CostCenter struct {
	ID        int64
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CostType is a posting dimension attachable to a journal line.
type CostType struct {
	ID        int64
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BusinessPartner is a posting dimension attachable to a journal line.
type BusinessPartner struct {
	ID        int64
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JournalEntry captures a booking. TotalDebit and TotalCredit are derived:
// they are recomputed from the owned lines on every line mutation and must
// never be written directly by callers.
type JournalEntry struct {
	ID          int64
	Date        time.Time
	Reference   string
	Description string
	SourceKind  SourceKind // empty when the entry has no document link
	SourceID    int64
	TotalDebit  float64
	TotalCredit float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lines       []JournalLine
}

// JournalLine stores a debit or credit amount for an account. Lines belong to
// exactly one entry and are removed with it.
type JournalLine struct {
	ID           int64
	EntryID      int64
	AccountID    int64
	CostCenterID *int64
	CostTypeID   *int64
	PartnerID    *int64
	Debit        float64
	Credit       float64
	Description  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Settings is the singleton ledger configuration: the auto-posting switch and
// the account assigned to each posting role. Nil account ids mean the role is
// unconfigured. Created lazily on first access.
type Settings struct {
	ID                  int64
	AutoPostingEnabled  bool
	ReceivableAccountID *int64
	RevenueAccountID    *int64
	VATOutputAccountID  *int64
	InventoryAccountID  *int64
	PayableAccountID    *int64
	DefaultCostCenterID *int64
	UpdatedAt           time.Time
}

// EntryInput groups fields required to create a journal entry.
type EntryInput struct {
	Date        time.Time
	Reference   string
	Description string
	SourceKind  SourceKind
	SourceID    int64
}

// LineInput describes one journal line of a posting request.
type LineInput struct {
	AccountID    int64
	CostCenterID *int64
	CostTypeID   *int64
	PartnerID    *int64
	Debit        float64
	Credit       float64
	Description  string
}

// PostingInput groups an entry and its lines for atomic creation.
type PostingInput struct {
	Date        time.Time
	Reference   string
	Description string
	SourceKind  SourceKind
	SourceID    int64
	Lines       []LineInput
}

// AddLineInput describes a line appended to an existing entry.
type AddLineInput struct {
	EntryID      int64
	AccountID    int64
	CostCenterID *int64
	CostTypeID   *int64
	PartnerID    *int64
	Debit        float64
	Credit       float64
	Description  string
	ActorID      int64
}

var (
	// ErrEntryNotFound indicates a missing journal entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrLineNotFound indicates a missing journal line.
	ErrLineNotFound = errors.New("ledger: journal line not found")
	// ErrSourceAlreadyPosted indicates an entry already exists for the
	// (source kind, source id) pair.
	ErrSourceAlreadyPosted = errors.New("ledger: source document already posted")
	// ErrUnbalanced indicates posting lines whose debit and credit sums
	// differ.
	ErrUnbalanced = errors.New("ledger: posting debits and credits are not balanced")
)

// Validate checks a single line for arithmetic sanity.
func (in LineInput) Validate() error {
	if in.AccountID == 0 {
		return errors.New("ledger: line requires an account")
	}
	if in.Debit < 0 || in.Credit < 0 {
		return errors.New("ledger: line amounts must be non-negative")
	}
	if in.Debit > 0 && in.Credit > 0 {
		return errors.New("ledger: line cannot carry both debit and credit")
	}
	return nil
}

// Validate checks the posting input before any storage work happens.
func (in PostingInput) Validate() error {
	if len(in.Lines) == 0 {
		return errors.New("ledger: posting requires at least one line")
	}
	for idx, line := range in.Lines {
		if err := line.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", idx, err)
		}
	}
	if in.SourceKind != "" && in.SourceID == 0 {
		return errors.New("ledger: source id required when source kind set")
	}
	var debit, credit float64
	for _, line := range in.Lines {
		debit += line.Debit
		credit += line.Credit
	}
	if fmt.Sprintf("%.2f", debit) != fmt.Sprintf("%.2f", credit) {
		return ErrUnbalanced
	}
	return nil
}

// Round2 rounds monetary amounts to two decimals; ledger arithmetic is done
// at cent precision throughout.
func Round2(v float64) float64 {
	if v < 0 {
		return -Round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}
