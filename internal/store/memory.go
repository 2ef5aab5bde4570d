package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	lots         map[string]*model.TaxLot
	transactions []model.Transaction
	dispositions []model.Disposition
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lots: make(map[string]*model.TaxLot),
	}
}

func (s *MemoryStore) CreateLot(_ context.Context, lot *model.TaxLot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lots[lot.ID]; exists {
		return fmt.Errorf("lot %s already exists", lot.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *lot
	s.lots[lot.ID] = &copy
	return nil
}

func (s *MemoryStore) GetLot(_ context.Context, id string) (*model.TaxLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lot, ok := s.lots[id]
	if !ok {
		return nil, fmt.Errorf("lot %s: %w", id, ErrNotFound)
	}
	copy := *lot
	return &copy, nil
}

func (s *MemoryStore) ListLots(_ context.Context, f LotFilter) ([]model.TaxLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TaxLot
	for _, lot := range s.lots {
		if f.AccountID != "" && lot.AccountID != f.AccountID {
			continue
		}
		if f.Symbol != "" && lot.Symbol != f.Symbol {
			continue
		}
		if f.OpenOnly && !lot.RemainingQuantity.IsPositive() {
			continue
		}
		result = append(result, *lot)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
			return a.AcquisitionDate.Before(b.AcquisitionDate)
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (s *MemoryStore) StepUpLotBasis(_ context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lot, ok := s.lots[id]
	if !ok {
		return fmt.Errorf("lot %s: %w", id, ErrNotFound)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("lot %s: basis step-up must be positive, got %s", id, amount)
	}
	lot.TotalCostBasis = lot.TotalCostBasis.Add(amount)
	lot.CostBasisPerShare = lot.TotalCostBasis.Div(lot.OriginalQuantity)
	lot.AcquisitionType = model.AcquisitionWashSaleRepl
	return nil
}

func (s *MemoryStore) ApplySale(_ context.Context, tx *model.Transaction, dispositions []model.Disposition, updates []LotQuantityUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every update before touching anything, so a rejection
	// leaves no partial state behind.
	for _, u := range updates {
		lot, ok := s.lots[u.LotID]
		if !ok {
			return fmt.Errorf("lot %s: %w", u.LotID, ErrNotFound)
		}
		if u.Remaining.IsNegative() {
			return fmt.Errorf("lot %s: remaining quantity must not be negative, got %s", u.LotID, u.Remaining)
		}
		if u.Remaining.GreaterThan(lot.OriginalQuantity) {
			return fmt.Errorf("lot %s: remaining quantity %s exceeds original %s", u.LotID, u.Remaining, lot.OriginalQuantity)
		}
	}

	s.transactions = append(s.transactions, *tx)
	s.dispositions = append(s.dispositions, dispositions...)
	for _, u := range updates {
		s.lots[u.LotID].RemainingQuantity = u.Remaining
	}
	return nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = append(s.transactions, *tx)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, f TransactionFilter) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, tx := range s.transactions {
		if f.AccountID != "" && tx.AccountID != f.AccountID {
			continue
		}
		if f.Symbol != "" && tx.Symbol != f.Symbol {
			continue
		}
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		result = append(result, tx)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (s *MemoryStore) GetTransactionWindow(_ context.Context, symbols []string, from, to time.Time) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		wanted[sym] = true
	}

	var result []model.Transaction
	for _, tx := range s.transactions {
		if !wanted[tx.Symbol] {
			continue
		}
		if tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}
		result = append(result, tx)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (s *MemoryStore) ListDispositionsByLot(_ context.Context, lotID string) ([]model.Disposition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Disposition
	for _, d := range s.dispositions {
		if d.LotID == lotID {
			result = append(result, d)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.SaleDate.Equal(b.SaleDate) {
			return a.SaleDate.Before(b.SaleDate)
		}
		return a.ID < b.ID
	})
	return result, nil
}
