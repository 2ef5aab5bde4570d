package washsale

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/model"
)

// WindowDays is the statutory reach of the wash-sale rule on each side of
// the sale date: 30 calendar days before or after (61 days inclusive).
const WindowDays = 30

// Window returns the inclusive [start, end] wash-sale window around a sale
// date. A purchase exactly 30 days out is inside; 31 days is not.
func Window(saleDate time.Time) (start, end time.Time) {
	day := model.DateOnly(saleDate)
	return day.AddDate(0, 0, -WindowDays), day.AddDate(0, 0, WindowDays)
}

// ReplacementMatch ties a portion of a disallowed loss to the replacement
// purchase that absorbed it. The caller uses these to step up the basis of
// the replacement lot.
type ReplacementMatch struct {
	TransactionID string          `json:"transaction_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Disallowed    decimal.Decimal `json:"disallowed"`
}

// Detect applies the wash-sale rule to a sale's dispositions.
//
// It returns the dispositions with WashSaleDisallowed and AdjustedGainLoss
// populated, plus the replacement matches per disposition index. Gain and
// break-even dispositions pass through untouched.
//
// Matching walks replacement buys earliest first so the earliest purchase
// absorbs the earliest part of the loss. Replacement shares are a shared
// pool for the whole pass: shares consumed by one loss disposition are not
// reused by a later one. When replacement quantity is smaller than the
// disposed quantity only the proportional share of the loss is disallowed;
// the remainder stays deductible.
//
// The transaction window must already span the statutory window for the
// sale date and may cover any number of accounts; the rule is
// account-agnostic, tax-advantaged accounts included. saleTxID excludes
// the sale's own transaction from matching.
func Detect(symbol, saleTxID string, dispositions []model.Disposition, window []model.Transaction) ([]model.Disposition, map[int][]ReplacementMatch) {
	out := make([]model.Disposition, len(dispositions))
	copy(out, dispositions)
	matches := make(map[int][]ReplacementMatch)

	if len(out) == 0 {
		return out, matches
	}

	identical := IdenticalSecurities(symbol)

	// Replacement pool: identical-security buys inside the window, date
	// ascending with ID tie-break for a reproducible consumption order.
	type replacement struct {
		tx        model.Transaction
		remaining decimal.Decimal
	}
	var pool []*replacement

	start, end := Window(out[0].SaleDate)
	for _, tx := range window {
		if tx.Type != model.TxBuy || tx.ID == saleTxID {
			continue
		}
		if !identical[tx.Symbol] {
			continue
		}
		day := model.DateOnly(tx.Date)
		if day.Before(start) || day.After(end) {
			continue
		}
		pool = append(pool, &replacement{tx: tx, remaining: tx.Quantity.Abs()})
	}
	sort.Slice(pool, func(i, j int) bool {
		a, b := pool[i].tx, pool[j].tx
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})

	for i := range out {
		d := &out[i]
		if !d.GainLoss.IsNegative() {
			continue
		}

		loss := d.GainLoss.Abs()
		lossPerShare := loss.Div(d.Quantity)
		matchedQty := decimal.Zero
		disallowed := decimal.Zero
		var dispositionMatches []ReplacementMatch

		for _, r := range pool {
			needed := d.Quantity.Sub(matchedQty)
			if !needed.IsPositive() {
				break
			}
			if !r.remaining.IsPositive() {
				continue
			}
			take := decimal.Min(needed, r.remaining)
			part := lossPerShare.Mul(take).Round(centScale)
			r.remaining = r.remaining.Sub(take)
			matchedQty = matchedQty.Add(take)
			disallowed = disallowed.Add(part)
			dispositionMatches = append(dispositionMatches, ReplacementMatch{
				TransactionID: r.tx.ID,
				Quantity:      take,
				Disallowed:    part,
			})
		}

		if matchedQty.IsZero() {
			continue
		}
		// The disposition total comes from the exact proportion, not the
		// sum of cent-rounded parts: per-match rounding can overshoot the
		// loss or round a small loss down to nothing. The last match
		// absorbs the residual so the parts still sum to the total, the
		// same way the calculator allocates fees.
		total := loss.Mul(matchedQty).Div(d.Quantity).Round(centScale)
		if total.GreaterThan(loss) {
			total = loss
		}
		if total.IsZero() {
			continue
		}
		if residual := total.Sub(disallowed); !residual.IsZero() {
			last := &dispositionMatches[len(dispositionMatches)-1]
			last.Disallowed = last.Disallowed.Add(residual)
		}

		d.WashSaleDisallowed = total
		d.AdjustedGainLoss = d.GainLoss.Add(total)
		matches[i] = dispositionMatches
	}

	return out, matches
}

const centScale int32 = 2
