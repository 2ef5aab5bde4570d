// Package harvest scans open tax lots for loss-harvesting opportunities.
// Scanning is lot-level rather than position-level: a profitable position
// can still hold individual losing lots worth harvesting.
//
// The scan is a pure function of the lots, a caller-supplied price map, and
// an explicit as-of date. Market data retrieval is the caller's problem.
package harvest

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/lots"
	"github.com/lotledger/lot-engine/internal/model"
	"github.com/lotledger/lot-engine/internal/washsale"
)

// DefaultMinLoss is the loss threshold below which a lot is not worth the
// transaction friction of harvesting.
var DefaultMinLoss = decimal.NewFromInt(100)

// Substitute is a security with similar exposure that is deliberately not
// substantially identical, so buying it does not wash the harvested loss.
type Substitute struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// harvestSubstitutes suggests replacements per harvested ticker. These must
// never overlap the substantially-identical groups in the washsale package.
var harvestSubstitutes = map[string][]Substitute{
	"VOO": {
		{Ticker: "VTI", Name: "Vanguard Total Stock Market", Reason: "broader US exposure, different index"},
		{Ticker: "SCHB", Name: "Schwab US Broad Market", Reason: "similar large-cap tilt, different index"},
	},
	"SPY": {
		{Ticker: "VTI", Name: "Vanguard Total Stock Market", Reason: "broader US exposure, different index"},
		{Ticker: "ITOT", Name: "iShares Core S&P Total US", Reason: "total market, not S&P 500"},
	},
	"VTI": {
		{Ticker: "VOO", Name: "Vanguard S&P 500", Reason: "large-cap focused, different index"},
		{Ticker: "SCHX", Name: "Schwab US Large-Cap", Reason: "large-cap, different methodology"},
	},
	"VXUS": {
		{Ticker: "VEA", Name: "Vanguard Developed Markets", Reason: "developed only, excludes EM"},
		{Ticker: "SCHF", Name: "Schwab International Equity", Reason: "different index provider"},
	},
	"VWO": {
		{Ticker: "SCHE", Name: "Schwab Emerging Markets", Reason: "different index (FTSE vs MSCI)"},
	},
}

// Opportunity is one harvestable losing lot.
type Opportunity struct {
	Lot            model.TaxLot    `json:"lot"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	UnrealizedLoss decimal.Decimal `json:"unrealized_loss"` // positive magnitude
	IsShortTerm    bool            `json:"is_short_term"`
	DaysHeld       int             `json:"days_held"`

	// WashSaleRisk is set when a recent purchase of an identical security
	// would wash the loss if the lot were sold on the as-of date.
	WashSaleRisk bool         `json:"wash_sale_risk"`
	Substitutes  []Substitute `json:"substitutes,omitempty"`
}

// Scan finds open lots whose unrealized loss at the supplied prices meets
// minLoss (DefaultMinLoss when zero). Lots without a price are skipped.
// Results are ordered largest loss first, with lot ID as tie-break.
//
// history, when supplied, is used to flag wash-sale risk: a buy of an
// identical security within the 30 days before asOf means selling now
// would immediately wash the harvested loss.
func Scan(open []model.TaxLot, prices map[string]decimal.Decimal, asOf time.Time, minLoss decimal.Decimal, history []model.Transaction) []Opportunity {
	if minLoss.IsZero() {
		minLoss = DefaultMinLoss
	}
	day := model.DateOnly(asOf)

	var opportunities []Opportunity
	riskBySymbol := make(map[string]bool)

	for _, lot := range open {
		if !lot.RemainingQuantity.IsPositive() {
			continue
		}
		price, ok := prices[strings.ToUpper(lot.Symbol)]
		if !ok || !price.IsPositive() {
			continue
		}

		gl := lots.UnrealizedGainLoss(lot, price)
		if !gl.IsNegative() || gl.Abs().LessThan(minLoss) {
			continue
		}

		risk, cached := riskBySymbol[lot.Symbol]
		if !cached {
			advice := washsale.SafeToSellDate(lot.Symbol, day, history)
			risk = advice.BlockedUntil != nil
			riskBySymbol[lot.Symbol] = risk
		}

		opportunities = append(opportunities, Opportunity{
			Lot:            lot,
			CurrentPrice:   price,
			CurrentValue:   lot.RemainingQuantity.Mul(price).Round(2),
			UnrealizedLoss: gl.Abs(),
			IsShortTerm:    model.IsShortTerm(lot.AcquisitionDate, day),
			DaysHeld:       model.DaysBetween(lot.AcquisitionDate, day),
			WashSaleRisk:   risk,
			Substitutes:    harvestSubstitutes[strings.ToUpper(lot.Symbol)],
		})
	}

	sort.Slice(opportunities, func(i, j int) bool {
		a, b := opportunities[i], opportunities[j]
		if !a.UnrealizedLoss.Equal(b.UnrealizedLoss) {
			return a.UnrealizedLoss.GreaterThan(b.UnrealizedLoss)
		}
		return a.Lot.ID < b.Lot.ID
	})
	return opportunities
}

// SelectForTarget picks opportunities until the accumulated loss reaches
// target. Short-term losses come first since they offset the higher-taxed
// gains. A zero target selects everything in that priority order.
func SelectForTarget(opportunities []Opportunity, target decimal.Decimal) []Opportunity {
	ranked := make([]Opportunity, len(opportunities))
	copy(ranked, opportunities)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].IsShortTerm != ranked[j].IsShortTerm {
			return ranked[i].IsShortTerm
		}
		return ranked[i].UnrealizedLoss.GreaterThan(ranked[j].UnrealizedLoss)
	})

	if !target.IsPositive() {
		return ranked
	}

	var selected []Opportunity
	accumulated := decimal.Zero
	for _, opp := range ranked {
		if accumulated.GreaterThanOrEqual(target) {
			break
		}
		selected = append(selected, opp)
		accumulated = accumulated.Add(opp.UnrealizedLoss)
	}
	return selected
}
