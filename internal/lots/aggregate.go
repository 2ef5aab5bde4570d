package lots

import (
	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/model"
)

// Aggregate rolls a disposition list up into a SaleResult. Pure function:
// re-aggregating the same list yields an identical result.
//
// Short- and long-term buckets carry recognized (post-disallowance)
// amounts; TotalGainLoss stays raw. A disallowed loss reduces the
// recognized loss, so NetGainLoss = TotalGainLoss + WashSaleDisallowed.
func Aggregate(dispositions []model.Disposition) model.SaleResult {
	result := model.SaleResult{
		Dispositions:       dispositions,
		TotalProceeds:      decimal.Zero,
		TotalCostBasis:     decimal.Zero,
		TotalGainLoss:      decimal.Zero,
		ShortTermGainLoss:  decimal.Zero,
		LongTermGainLoss:   decimal.Zero,
		WashSaleDisallowed: decimal.Zero,
		NetGainLoss:        decimal.Zero,
		ShortfallQuantity:  decimal.Zero,
	}

	for _, d := range dispositions {
		result.TotalProceeds = result.TotalProceeds.Add(d.Proceeds)
		result.TotalCostBasis = result.TotalCostBasis.Add(d.CostBasis)
		result.TotalGainLoss = result.TotalGainLoss.Add(d.GainLoss)
		result.WashSaleDisallowed = result.WashSaleDisallowed.Add(d.WashSaleDisallowed)

		if d.IsShortTerm {
			result.ShortTermGainLoss = result.ShortTermGainLoss.Add(d.AdjustedGainLoss)
		} else {
			result.LongTermGainLoss = result.LongTermGainLoss.Add(d.AdjustedGainLoss)
		}
	}

	result.NetGainLoss = result.TotalGainLoss.Add(result.WashSaleDisallowed)
	return result
}
