// Package lots implements tax lot disposition: selecting which lots a sale
// consumes (FIFO, LIFO, HIFO, or specific identification), computing per-lot
// proceeds, cost basis, and gain/loss, and aggregating lot-level results
// into a sale summary.
//
// The package is stateless: lot selection and arithmetic are pure functions
// of their inputs. The calculator never mutates the caller's lots; it returns
// dispositions the caller applies to its store.
//
// All monetary values use shopspring/decimal, never float64.
// Rounding to the cent happens only at the final proceeds/costBasis fields,
// never mid-calculation.
package lots

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/model"
)

var (
	// ErrNonPositiveQuantity is returned when the quantity to sell is zero
	// or negative.
	ErrNonPositiveQuantity = errors.New("lots: quantity to sell must be positive")

	// ErrNegativePrice is returned when the sale price is negative.
	ErrNegativePrice = errors.New("lots: sale price must not be negative")

	// ErrNegativeFees is returned when sale fees are negative.
	ErrNegativeFees = errors.New("lots: fees must not be negative")

	// ErrUnknownMethod is returned for a cost basis method the calculator
	// does not recognize.
	ErrUnknownMethod = errors.New("lots: unknown cost basis method")

	// ErrSpecificLotsRequired is returned when method is specific but no
	// lot IDs were supplied.
	ErrSpecificLotsRequired = errors.New("lots: specific identification requires lot IDs")

	// ErrLotNotFound is returned when a specific lot ID is not among the
	// open lots.
	ErrLotNotFound = errors.New("lots: specified lot not found among open lots")
)

// CentScale is the number of decimal places for final monetary fields.
const CentScale int32 = 2

// Sale describes one sell order to dispose against a set of open lots.
type Sale struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Fees     decimal.Decimal
	Date     time.Time
	Method   model.CostBasisMethod

	// SpecificLotIDs is the caller-supplied consumption order when
	// Method is MethodSpecific; ignored otherwise.
	SpecificLotIDs []string
}

// SortForSale returns the open lots (remaining quantity > 0) in the order
// the given method consumes them. The input slice is not modified.
//
// Tie-breaks make the ordering deterministic regardless of input order:
// equal acquisition dates fall back to ascending lot ID, and HIFO ties
// fall back to FIFO order.
func SortForSale(open []model.TaxLot, method model.CostBasisMethod, specificLotIDs []string) ([]model.TaxLot, error) {
	if method == model.MethodSpecific {
		if len(specificLotIDs) == 0 {
			return nil, ErrSpecificLotsRequired
		}
		byID := make(map[string]model.TaxLot, len(open))
		for _, l := range open {
			if l.RemainingQuantity.IsPositive() {
				byID[l.ID] = l
			}
		}
		ordered := make([]model.TaxLot, 0, len(specificLotIDs))
		for _, id := range specificLotIDs {
			l, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrLotNotFound, id)
			}
			ordered = append(ordered, l)
		}
		return ordered, nil
	}

	available := make([]model.TaxLot, 0, len(open))
	for _, l := range open {
		if l.RemainingQuantity.IsPositive() {
			available = append(available, l)
		}
	}

	fifoLess := func(a, b model.TaxLot) bool {
		if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
			return a.AcquisitionDate.Before(b.AcquisitionDate)
		}
		return a.ID < b.ID
	}

	switch method {
	case model.MethodFIFO:
		sort.Slice(available, func(i, j int) bool {
			return fifoLess(available[i], available[j])
		})
	case model.MethodLIFO:
		sort.Slice(available, func(i, j int) bool {
			a, b := available[i], available[j]
			if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
				return a.AcquisitionDate.After(b.AcquisitionDate)
			}
			return a.ID < b.ID
		})
	case model.MethodHIFO:
		sort.Slice(available, func(i, j int) bool {
			a, b := available[i], available[j]
			if !a.CostBasisPerShare.Equal(b.CostBasisPerShare) {
				return a.CostBasisPerShare.GreaterThan(b.CostBasisPerShare)
			}
			return fifoLess(a, b)
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return available, nil
}

// Dispose consumes open lots against a sale and returns the ordered
// dispositions plus any undisposed shortfall quantity.
//
// When the available quantity cannot cover the sale, Dispose disposes
// everything available and reports the shortfall; it never fabricates a
// zero-basis lot. Deciding whether a shortfall blocks the sale is the
// caller's call.
//
// Sale fees are allocated across dispositions pro rata by quantity; the
// final disposition absorbs the rounding remainder so the rounded proceeds
// sum exactly to quantity*price - fees.
func Dispose(open []model.TaxLot, sale Sale) ([]model.Disposition, decimal.Decimal, error) {
	if !sale.Quantity.IsPositive() {
		return nil, decimal.Zero, ErrNonPositiveQuantity
	}
	if sale.Price.IsNegative() {
		return nil, decimal.Zero, ErrNegativePrice
	}
	if sale.Fees.IsNegative() {
		return nil, decimal.Zero, ErrNegativeFees
	}

	ordered, err := SortForSale(open, sale.Method, sale.SpecificLotIDs)
	if err != nil {
		return nil, decimal.Zero, err
	}

	saleDate := model.DateOnly(sale.Date)

	// First pass: decide how much each lot contributes. A lot listed twice
	// under specific identification only gives up what it has.
	type cut struct {
		lot model.TaxLot
		qty decimal.Decimal
	}
	consumed := make(map[string]decimal.Decimal, len(ordered))
	var cuts []cut
	stillNeeded := sale.Quantity

	for _, lot := range ordered {
		if !stillNeeded.IsPositive() {
			break
		}
		left := lot.RemainingQuantity.Sub(consumed[lot.ID])
		if !left.IsPositive() {
			continue
		}
		take := decimal.Min(left, stillNeeded)
		consumed[lot.ID] = consumed[lot.ID].Add(take)
		cuts = append(cuts, cut{lot: lot, qty: take})
		stillNeeded = stillNeeded.Sub(take)
	}

	if len(cuts) == 0 {
		return nil, stillNeeded, nil
	}

	// Second pass: money. Exact decimal arithmetic throughout; cents only
	// at the final fields.
	totalDisposed := decimal.Zero
	for _, c := range cuts {
		totalDisposed = totalDisposed.Add(c.qty)
	}
	netProceedsTotal := totalDisposed.Mul(sale.Price).Sub(sale.Fees).Round(CentScale)

	dispositions := make([]model.Disposition, 0, len(cuts))
	allocatedProceeds := decimal.Zero

	for i, c := range cuts {
		var proceeds decimal.Decimal
		if i == len(cuts)-1 {
			proceeds = netProceedsTotal.Sub(allocatedProceeds)
		} else {
			gross := c.qty.Mul(sale.Price)
			feeShare := sale.Fees.Mul(c.qty).Div(totalDisposed)
			proceeds = gross.Sub(feeShare).Round(CentScale)
			allocatedProceeds = allocatedProceeds.Add(proceeds)
		}

		costBasis := c.qty.Mul(c.lot.CostBasisPerShare).Round(CentScale)
		gainLoss := proceeds.Sub(costBasis)

		dispositions = append(dispositions, model.Disposition{
			LotID:              c.lot.ID,
			Quantity:           c.qty,
			Proceeds:           proceeds,
			CostBasis:          costBasis,
			SaleDate:           saleDate,
			GainLoss:           gainLoss,
			IsShortTerm:        model.IsShortTerm(c.lot.AcquisitionDate, saleDate),
			WashSaleDisallowed: decimal.Zero,
			AdjustedGainLoss:   gainLoss,
		})
	}

	return dispositions, stillNeeded, nil
}
