package lots

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/model"
)

// SymbolPosition aggregates the open lots of one symbol.
type SymbolPosition struct {
	Symbol            string          `json:"symbol"`
	TotalShares       decimal.Decimal `json:"total_shares"`
	TotalCostBasis    decimal.Decimal `json:"total_cost_basis"`
	AverageCostBasis  decimal.Decimal `json:"average_cost_basis"`
	OldestAcquisition time.Time       `json:"oldest_acquisition"`
	NewestAcquisition time.Time       `json:"newest_acquisition"`
	Lots              []model.TaxLot  `json:"lots"`
}

// GroupBySymbol aggregates open lots (remaining quantity > 0) per symbol.
// Cost basis uses the remaining shares, not the original lot size.
// Results are sorted by symbol for stable output.
func GroupBySymbol(all []model.TaxLot) []SymbolPosition {
	grouped := make(map[string]*SymbolPosition)

	for _, lot := range all {
		if !lot.RemainingQuantity.IsPositive() {
			continue
		}
		remainingBasis := lot.RemainingQuantity.Mul(lot.CostBasisPerShare)

		pos, ok := grouped[lot.Symbol]
		if !ok {
			grouped[lot.Symbol] = &SymbolPosition{
				Symbol:            lot.Symbol,
				TotalShares:       lot.RemainingQuantity,
				TotalCostBasis:    remainingBasis,
				OldestAcquisition: lot.AcquisitionDate,
				NewestAcquisition: lot.AcquisitionDate,
				Lots:              []model.TaxLot{lot},
			}
			continue
		}

		pos.TotalShares = pos.TotalShares.Add(lot.RemainingQuantity)
		pos.TotalCostBasis = pos.TotalCostBasis.Add(remainingBasis)
		pos.Lots = append(pos.Lots, lot)
		if lot.AcquisitionDate.Before(pos.OldestAcquisition) {
			pos.OldestAcquisition = lot.AcquisitionDate
		}
		if lot.AcquisitionDate.After(pos.NewestAcquisition) {
			pos.NewestAcquisition = lot.AcquisitionDate
		}
	}

	positions := make([]SymbolPosition, 0, len(grouped))
	for _, pos := range grouped {
		if pos.TotalShares.IsPositive() {
			pos.AverageCostBasis = pos.TotalCostBasis.Div(pos.TotalShares).Round(CentScale)
		}
		pos.TotalCostBasis = pos.TotalCostBasis.Round(CentScale)
		sort.Slice(pos.Lots, func(i, j int) bool {
			a, b := pos.Lots[i], pos.Lots[j]
			if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
				return a.AcquisitionDate.Before(b.AcquisitionDate)
			}
			return a.ID < b.ID
		})
		positions = append(positions, *pos)
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions
}

// UnrealizedGainLoss returns the mark-to-market gain or loss on a lot's
// remaining shares at the given price.
func UnrealizedGainLoss(lot model.TaxLot, currentPrice decimal.Decimal) decimal.Decimal {
	value := lot.RemainingQuantity.Mul(currentPrice)
	basis := lot.RemainingQuantity.Mul(lot.CostBasisPerShare)
	return value.Sub(basis).Round(CentScale)
}
