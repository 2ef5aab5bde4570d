package washsale

import (
	"testing"

	"github.com/lotledger/lot-engine/internal/model"
)

func sell(id, account, symbol, date string, qty float64) model.Transaction {
	tx := buy(id, account, symbol, date, qty)
	tx.Type = model.TxSell
	return tx
}

func TestCheckPurchase_FlagsRecentSale(t *testing.T) {
	history := []model.Transaction{sell("tx_s", "acct1", "VOO", "2025-05-20", 10)}
	advisory := CheckPurchase("VOO", day("2025-06-01"), history)
	if !advisory.Triggered {
		t.Fatal("buy 12 days after a sale should trigger the advisory")
	}
	if len(advisory.AffectedSales) != 1 || advisory.AffectedSales[0].ID != "tx_s" {
		t.Errorf("affected sales: %+v", advisory.AffectedSales)
	}
}

func TestCheckPurchase_IdenticalSymbolCounts(t *testing.T) {
	history := []model.Transaction{sell("tx_s", "acct1", "IVV", "2025-05-20", 10)}
	if !CheckPurchase("VOO", day("2025-06-01"), history).Triggered {
		t.Error("an IVV sale is washed by a VOO buy")
	}
}

func TestCheckPurchase_OldSaleIgnored(t *testing.T) {
	history := []model.Transaction{sell("tx_s", "acct1", "VOO", "2025-04-01", 10)}
	if CheckPurchase("VOO", day("2025-06-01"), history).Triggered {
		t.Error("a sale 61 days back is outside the advisory window")
	}
}

func TestCheckPurchase_BuysIgnored(t *testing.T) {
	history := []model.Transaction{buy("tx_b", "acct1", "VOO", "2025-05-20", 10)}
	if CheckPurchase("VOO", day("2025-06-01"), history).Triggered {
		t.Error("prior buys do not trigger the sale advisory")
	}
}

func TestSafeToSellDate_NoHistory(t *testing.T) {
	advice := SafeToSellDate("VOO", day("2025-06-01"), nil)
	if advice.BlockedUntil != nil {
		t.Errorf("no purchases means no block, got %v", advice.BlockedUntil)
	}
	if !advice.SafeDate.Equal(day("2025-06-01")) {
		t.Errorf("safe immediately, got %s", advice.SafeDate.Format("2006-01-02"))
	}
}

func TestSafeToSellDate_RecentBuyBlocks(t *testing.T) {
	history := []model.Transaction{buy("tx_b", "acct1", "VOO", "2025-05-20", 10)}
	advice := SafeToSellDate("VOO", day("2025-06-01"), history)
	if advice.BlockedUntil == nil {
		t.Fatal("a buy 12 days ago should block")
	}
	if !advice.BlockedUntil.Equal(day("2025-06-19")) {
		t.Errorf("blocked through buy+30, got %s", advice.BlockedUntil.Format("2006-01-02"))
	}
	if !advice.SafeDate.Equal(day("2025-06-20")) {
		t.Errorf("safe the day after the window closes, got %s", advice.SafeDate.Format("2006-01-02"))
	}
}

func TestSafeToSellDate_ExpiredWindowClear(t *testing.T) {
	history := []model.Transaction{buy("tx_b", "acct1", "VOO", "2025-04-01", 10)}
	advice := SafeToSellDate("VOO", day("2025-06-01"), history)
	if advice.BlockedUntil != nil {
		t.Errorf("a buy 61 days back no longer blocks, got %v", advice.BlockedUntil)
	}
}

func TestSafeToSellDate_MostRecentBuyGoverns(t *testing.T) {
	history := []model.Transaction{
		buy("tx_old", "acct1", "VOO", "2025-04-01", 10),
		buy("tx_new", "acct1", "IVV", "2025-05-25", 10),
	}
	advice := SafeToSellDate("VOO", day("2025-06-01"), history)
	if advice.BlockedUntil == nil || !advice.BlockedUntil.Equal(day("2025-06-24")) {
		t.Errorf("the newest identical buy sets the block, got %+v", advice)
	}
}
