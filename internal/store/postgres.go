package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateLot(ctx context.Context, l *model.TaxLot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tax_lots (id, account_id, symbol, original_quantity, remaining_quantity,
		                       cost_basis_per_share, total_cost_basis, acquisition_date,
		                       acquisition_type, is_covered)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
		l.ID, l.AccountID, l.Symbol,
		l.OriginalQuantity.String(), l.RemainingQuantity.String(),
		l.CostBasisPerShare.String(), l.TotalCostBasis.String(),
		l.AcquisitionDate, string(l.AcquisitionType), l.IsCovered,
	)
	return err
}

const lotColumns = `id, account_id, symbol,
       original_quantity::TEXT, remaining_quantity::TEXT,
       cost_basis_per_share::TEXT, total_cost_basis::TEXT,
       acquisition_date, acquisition_type, is_covered`

func (s *PostgresStore) GetLot(ctx context.Context, id string) (*model.TaxLot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+lotColumns+` FROM tax_lots WHERE id = $1`, id)

	lot, err := scanLot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lot %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get lot %s: %w", id, err)
	}
	return lot, nil
}

func (s *PostgresStore) ListLots(ctx context.Context, f LotFilter) ([]model.TaxLot, error) {
	query := `SELECT ` + lotColumns + ` FROM tax_lots WHERE 1=1`
	var args []interface{}

	if f.AccountID != "" {
		args = append(args, f.AccountID)
		query += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if f.OpenOnly {
		query += " AND remaining_quantity > 0"
	}
	query += " ORDER BY acquisition_date, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []model.TaxLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *lot)
	}
	return lots, rows.Err()
}

func (s *PostgresStore) StepUpLotBasis(ctx context.Context, id string, amount decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tax_lots
		 SET total_cost_basis     = total_cost_basis + $2::NUMERIC,
		     cost_basis_per_share = (total_cost_basis + $2::NUMERIC) / original_quantity,
		     acquisition_type     = $3
		 WHERE id = $1`,
		id, amount.String(), string(model.AcquisitionWashSaleRepl),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lot %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ApplySale(ctx context.Context, t *model.Transaction, dispositions []model.Disposition, updates []LotQuantityUpdate) error {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx)

	_, err = dbTx.Exec(ctx,
		`INSERT INTO transactions (id, account_id, symbol, date, type, quantity, price, fees, amount)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC)`,
		t.ID, t.AccountID, t.Symbol, t.Date, string(t.Type),
		t.Quantity.String(), t.Price.String(), t.Fees.String(), t.Amount.String(),
	)
	if err != nil {
		return err
	}

	for i := range dispositions {
		d := &dispositions[i]
		_, err = dbTx.Exec(ctx,
			`INSERT INTO dispositions (id, lot_id, quantity, proceeds, cost_basis, sale_date,
			                           gain_loss, is_short_term, wash_sale_disallowed, adjusted_gain_loss)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7::NUMERIC, $8, $9::NUMERIC, $10::NUMERIC)`,
			d.ID, d.LotID, d.Quantity.String(), d.Proceeds.String(), d.CostBasis.String(),
			d.SaleDate, d.GainLoss.String(), d.IsShortTerm,
			d.WashSaleDisallowed.String(), d.AdjustedGainLoss.String(),
		)
		if err != nil {
			return err
		}
	}

	for _, u := range updates {
		tag, err := dbTx.Exec(ctx,
			`UPDATE tax_lots
			 SET remaining_quantity = $2::NUMERIC
			 WHERE id = $1 AND $2::NUMERIC >= 0 AND $2::NUMERIC <= original_quantity`,
			u.LotID, u.Remaining.String(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("lot %s: quantity update rejected (not found or out of range)", u.LotID)
		}
	}

	return dbTx.Commit(ctx)
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, account_id, symbol, date, type, quantity, price, fees, amount)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC)`,
		t.ID, t.AccountID, t.Symbol, t.Date, string(t.Type),
		t.Quantity.String(), t.Price.String(), t.Fees.String(), t.Amount.String(),
	)
	return err
}

const txColumns = `id, account_id, symbol, date, type,
       quantity::TEXT, price::TEXT, fees::TEXT, amount::TEXT`

func (s *PostgresStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE 1=1`
	var args []interface{}

	if f.AccountID != "" {
		args = append(args, f.AccountID)
		query += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " ORDER BY date DESC, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) GetTransactionWindow(ctx context.Context, symbols []string, from, to time.Time) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txColumns+`
		 FROM transactions
		 WHERE symbol = ANY($1) AND date >= $2 AND date <= $3
		 ORDER BY date, id`,
		symbols, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) ListDispositionsByLot(ctx context.Context, lotID string) ([]model.Disposition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lot_id, quantity::TEXT, proceeds::TEXT, cost_basis::TEXT, sale_date,
		        gain_loss::TEXT, is_short_term, wash_sale_disallowed::TEXT, adjusted_gain_loss::TEXT
		 FROM dispositions WHERE lot_id = $1 ORDER BY sale_date, id`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dispositions []model.Disposition
	for rows.Next() {
		var d model.Disposition
		var qtyS, proceedsS, basisS, glS, disallowedS, adjS string

		if err := rows.Scan(&d.ID, &d.LotID, &qtyS, &proceedsS, &basisS, &d.SaleDate,
			&glS, &d.IsShortTerm, &disallowedS, &adjS); err != nil {
			return nil, err
		}

		d.Quantity, _ = decimal.NewFromString(qtyS)
		d.Proceeds, _ = decimal.NewFromString(proceedsS)
		d.CostBasis, _ = decimal.NewFromString(basisS)
		d.GainLoss, _ = decimal.NewFromString(glS)
		d.WashSaleDisallowed, _ = decimal.NewFromString(disallowedS)
		d.AdjustedGainLoss, _ = decimal.NewFromString(adjS)

		dispositions = append(dispositions, d)
	}
	return dispositions, rows.Err()
}

// pgxRow abstracts QueryRow and Query row scanning.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanLot(row pgxRow) (*model.TaxLot, error) {
	var l model.TaxLot
	var origS, remS, perShareS, totalS, acqType string

	if err := row.Scan(&l.ID, &l.AccountID, &l.Symbol,
		&origS, &remS, &perShareS, &totalS,
		&l.AcquisitionDate, &acqType, &l.IsCovered); err != nil {
		return nil, err
	}

	l.OriginalQuantity, _ = decimal.NewFromString(origS)
	l.RemainingQuantity, _ = decimal.NewFromString(remS)
	l.CostBasisPerShare, _ = decimal.NewFromString(perShareS)
	l.TotalCostBasis, _ = decimal.NewFromString(totalS)
	l.AcquisitionType = model.AcquisitionType(acqType)

	return &l, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	var transactions []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var txType, qtyS, priceS, feesS, amountS string

		if err := rows.Scan(&t.ID, &t.AccountID, &t.Symbol, &t.Date, &txType,
			&qtyS, &priceS, &feesS, &amountS); err != nil {
			return nil, err
		}

		t.Type = model.TransactionType(txType)
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Fees, _ = decimal.NewFromString(feesS)
		t.Amount, _ = decimal.NewFromString(amountS)

		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}
