package washsale

import (
	"fmt"
	"sort"
	"time"

	"github.com/lotledger/lot-engine/internal/model"
)

// PurchaseAdvisory flags a buy that may retroactively wash earlier sales.
// Advisory only; it never blocks the purchase.
type PurchaseAdvisory struct {
	Triggered     bool                `json:"triggered"`
	Message       string              `json:"message,omitempty"`
	AffectedSales []model.Transaction `json:"affected_sales,omitempty"`
}

// CheckPurchase reports whether buying symbol on purchaseDate may trigger
// wash-sale disallowance on sells of an identical security in the prior
// 30 days. Any such sale is flagged; whether it actually realized a loss is
// resolved when the detector re-runs with the extended window.
func CheckPurchase(symbol string, purchaseDate time.Time, history []model.Transaction) PurchaseAdvisory {
	identical := IdenticalSecurities(symbol)
	day := model.DateOnly(purchaseDate)
	windowStart := day.AddDate(0, 0, -WindowDays)

	var affected []model.Transaction
	for _, tx := range history {
		if tx.Type != model.TxSell || !identical[tx.Symbol] {
			continue
		}
		txDay := model.DateOnly(tx.Date)
		if txDay.Before(windowStart) || txDay.After(day) {
			continue
		}
		affected = append(affected, tx)
	}

	if len(affected) == 0 {
		return PurchaseAdvisory{}
	}
	return PurchaseAdvisory{
		Triggered: true,
		Message: fmt.Sprintf(
			"purchase of %s may trigger wash sale rules on %d prior sale(s) within the last %d days; losses on those sales may be disallowed",
			symbol, len(affected), WindowDays),
		AffectedSales: affected,
	}
}

// SafeSellAdvice answers "when can I sell symbol without an existing
// purchase washing the loss?" relative to an explicit reference date.
type SafeSellAdvice struct {
	SafeDate     time.Time  `json:"safe_date"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	Reason       string     `json:"reason"`
}

// SafeToSellDate finds the most recent purchase of an identical security
// and reports the first date on which its 30-day forward window no longer
// reaches. A sale before SafeDate risks that purchase acting as
// replacement shares. Future purchases can still wash a sale afterward;
// this only accounts for history as of asOf.
func SafeToSellDate(symbol string, asOf time.Time, history []model.Transaction) SafeSellAdvice {
	identical := IdenticalSecurities(symbol)
	day := model.DateOnly(asOf)

	var buys []model.Transaction
	for _, tx := range history {
		if tx.Type == model.TxBuy && identical[tx.Symbol] && !model.DateOnly(tx.Date).After(day) {
			buys = append(buys, tx)
		}
	}
	if len(buys) == 0 {
		return SafeSellAdvice{
			SafeDate: day,
			Reason:   "no purchases of substantially identical securities on record",
		}
	}

	sort.Slice(buys, func(i, j int) bool {
		a, b := buys[i], buys[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.ID < b.ID
	})
	lastBuy := model.DateOnly(buys[0].Date)
	windowEnd := lastBuy.AddDate(0, 0, WindowDays)

	if day.After(windowEnd) {
		return SafeSellAdvice{
			SafeDate: day,
			Reason: fmt.Sprintf("last purchase was %d days ago; its wash-sale window has passed",
				model.DaysBetween(lastBuy, day)),
		}
	}

	safe := windowEnd.AddDate(0, 0, 1)
	return SafeSellAdvice{
		SafeDate:     safe,
		BlockedUntil: &windowEnd,
		Reason: fmt.Sprintf("purchase on %s creates wash-sale risk through %s",
			lastBuy.Format("2006-01-02"), windowEnd.Format("2006-01-02")),
	}
}
