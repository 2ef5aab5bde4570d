package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot reads in sale processing: single lots and the open-lot
// set per account+symbol. Writes go to the primary store and invalidate the
// cache; transaction windows always hit the primary: the window query is
// date-parameterized and stale wash-sale input is worse than a slow read.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateLot(ctx context.Context, lot *model.TaxLot) error {
	if err := s.primary.CreateLot(ctx, lot); err != nil {
		return err
	}
	s.cacheLot(ctx, lot)
	s.rdb.Del(ctx, openLotsKey(lot.AccountID, lot.Symbol))
	return nil
}

func (s *CachedStore) StepUpLotBasis(ctx context.Context, id string, amount decimal.Decimal) error {
	if err := s.primary.StepUpLotBasis(ctx, id, amount); err != nil {
		return err
	}
	s.invalidateLot(ctx, id)
	return nil
}

func (s *CachedStore) ApplySale(ctx context.Context, tx *model.Transaction, dispositions []model.Disposition, updates []LotQuantityUpdate) error {
	if err := s.primary.ApplySale(ctx, tx, dispositions, updates); err != nil {
		return err
	}
	for _, u := range updates {
		s.invalidateLot(ctx, u.LotID)
	}
	return nil
}

func (s *CachedStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, tx)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetLot(ctx context.Context, id string) (*model.TaxLot, error) {
	data, err := s.rdb.Get(ctx, lotKey(id)).Bytes()
	if err == nil {
		var lot model.TaxLot
		if json.Unmarshal(data, &lot) == nil {
			return &lot, nil
		}
	}

	lot, err := s.primary.GetLot(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheLot(ctx, lot)
	return lot, nil
}

func (s *CachedStore) ListLots(ctx context.Context, f LotFilter) ([]model.TaxLot, error) {
	// Only the open-lot set per account+symbol is cached; that is the
	// read on every sale. Broader filters pass through.
	cacheable := f.OpenOnly && f.AccountID != "" && f.Symbol != ""
	if cacheable {
		data, err := s.rdb.Get(ctx, openLotsKey(f.AccountID, f.Symbol)).Bytes()
		if err == nil {
			var lots []model.TaxLot
			if json.Unmarshal(data, &lots) == nil {
				return lots, nil
			}
		}
	}

	lots, err := s.primary.ListLots(ctx, f)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if data, err := json.Marshal(lots); err == nil {
			s.rdb.Set(ctx, openLotsKey(f.AccountID, f.Symbol), data, s.ttl)
		}
	}
	return lots, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, f)
}

func (s *CachedStore) GetTransactionWindow(ctx context.Context, symbols []string, from, to time.Time) ([]model.Transaction, error) {
	return s.primary.GetTransactionWindow(ctx, symbols, from, to)
}

func (s *CachedStore) ListDispositionsByLot(ctx context.Context, lotID string) ([]model.Disposition, error) {
	return s.primary.ListDispositionsByLot(ctx, lotID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheLot(ctx context.Context, lot *model.TaxLot) {
	if data, err := json.Marshal(lot); err == nil {
		s.rdb.Set(ctx, lotKey(lot.ID), data, s.ttl)
	}
}

func (s *CachedStore) invalidateLot(ctx context.Context, id string) {
	// The open-lot set key needs the lot's account+symbol; fetch from
	// cache or primary before dropping both keys.
	lot, err := s.GetLot(ctx, id)
	s.rdb.Del(ctx, lotKey(id))
	if err == nil {
		s.rdb.Del(ctx, openLotsKey(lot.AccountID, lot.Symbol))
	}
}

func lotKey(id string) string { return fmt.Sprintf("lot:%s", id) }

func openLotsKey(accountID, symbol string) string {
	return fmt.Sprintf("openlots:%s:%s", accountID, symbol)
}
