// Package store defines the persistence interface for the lot engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// LotFilter narrows ListLots. Zero-value fields are ignored.
type LotFilter struct {
	AccountID string
	Symbol    string
	OpenOnly  bool // only lots with remaining quantity > 0
}

// LotQuantityUpdate sets a lot's remaining quantity as part of a sale apply.
type LotQuantityUpdate struct {
	LotID     string
	Remaining decimal.Decimal
}

// TransactionFilter narrows ListTransactions. Zero-value fields are ignored.
type TransactionFilter struct {
	AccountID string
	Symbol    string
	Type      model.TransactionType
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Tax lots ---

	// CreateLot persists a new tax lot.
	CreateLot(ctx context.Context, lot *model.TaxLot) error

	// GetLot retrieves a lot by its ID.
	GetLot(ctx context.Context, id string) (*model.TaxLot, error)

	// ListLots returns lots matching the filter, ordered by acquisition
	// date then ID.
	ListLots(ctx context.Context, f LotFilter) ([]model.TaxLot, error)

	// StepUpLotBasis adds a disallowed wash-sale loss to a replacement
	// lot's total basis, recomputes the per-share basis, and retags the
	// lot as a wash-sale replacement.
	StepUpLotBasis(ctx context.Context, id string, amount decimal.Decimal) error

	// ApplySale persists a sale transaction, its dispositions, and the
	// lot quantity updates as one atomic unit: a failure anywhere leaves
	// no partial state behind.
	ApplySale(ctx context.Context, tx *model.Transaction, dispositions []model.Disposition, updates []LotQuantityUpdate) error

	// --- Immutable transaction log ---

	// InsertTransaction appends an immutable transaction record.
	InsertTransaction(ctx context.Context, tx *model.Transaction) error

	// ListTransactions returns transactions matching the filter, newest
	// first.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, error)

	// GetTransactionWindow returns all transactions for any of the given
	// symbols with a date in [from, to] inclusive, across every account,
	// which the wash-sale rule requires.
	GetTransactionWindow(ctx context.Context, symbols []string, from, to time.Time) ([]model.Transaction, error)

	// --- Dispositions ---

	// ListDispositionsByLot returns all dispositions against a lot,
	// oldest sale first.
	ListDispositionsByLot(ctx context.Context, lotID string) ([]model.Disposition, error)
}
