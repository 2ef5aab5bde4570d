package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/harvest"
	"github.com/lotledger/lot-engine/internal/lots"
	"github.com/lotledger/lot-engine/internal/model"
	"github.com/lotledger/lot-engine/internal/store"
	"github.com/lotledger/lot-engine/internal/washsale"
)

// ListTransactions handles GET /api/v1/transactions.
// Optional query params: account_id, symbol, type.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f := store.TransactionFilter{
		AccountID: r.URL.Query().Get("account_id"),
		Symbol:    strings.ToUpper(r.URL.Query().Get("symbol")),
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		txType, err := model.ParseTransactionType(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Type = txType
	}

	txs, err := s.store.ListTransactions(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

// ListLots handles GET /api/v1/lots.
// Optional query params: account_id, symbol, open_only.
func (s *Service) ListLots(w http.ResponseWriter, r *http.Request) {
	f := store.LotFilter{
		AccountID: r.URL.Query().Get("account_id"),
		Symbol:    strings.ToUpper(r.URL.Query().Get("symbol")),
		OpenOnly:  r.URL.Query().Get("open_only") == "true",
	}

	taxLots, err := s.store.ListLots(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list lots", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lots": taxLots})
}

// GetLot handles GET /api/v1/lots/{lotID}.
func (s *Service) GetLot(w http.ResponseWriter, r *http.Request) {
	lotID := chi.URLParam(r, "lotID")
	lot, err := s.store.GetLot(r.Context(), lotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "lot not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load lot", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, lot)
}

// ListLotDispositions handles GET /api/v1/lots/{lotID}/dispositions.
// The lot's full audit trail: every sale that consumed shares from it.
func (s *Service) ListLotDispositions(w http.ResponseWriter, r *http.Request) {
	lotID := chi.URLParam(r, "lotID")
	if _, err := s.store.GetLot(r.Context(), lotID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "lot not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load lot", http.StatusInternalServerError)
		return
	}

	dispositions, err := s.store.ListDispositionsByLot(r.Context(), lotID)
	if err != nil {
		writeError(w, "failed to list dispositions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dispositions": dispositions})
}

// GetPositions handles GET /api/v1/positions/{accountID}: open lots grouped
// per symbol with remaining-share cost basis.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	openLots, err := s.store.ListLots(r.Context(), store.LotFilter{
		AccountID: accountID,
		OpenOnly:  true,
	})
	if err != nil {
		writeError(w, "failed to list lots", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"positions":  lots.GroupBySymbol(openLots),
	})
}

// HarvestScanRequest is the JSON body for POST /api/v1/harvest/scan.
// Prices map symbol to current market price; market data retrieval is the
// caller's responsibility.
type HarvestScanRequest struct {
	AccountID  string                     `json:"account_id"`
	Prices     map[string]decimal.Decimal `json:"prices"`
	MinLoss    decimal.Decimal            `json:"min_loss"`
	TargetLoss decimal.Decimal            `json:"target_loss"`
	AsOf       string                     `json:"as_of,omitempty"` // YYYY-MM-DD, default today
}

// HarvestScan handles POST /api/v1/harvest/scan: finds losing open lots
// worth harvesting at the supplied prices, flagging wash-sale risk.
func (s *Service) HarvestScan(w http.ResponseWriter, r *http.Request) {
	var req HarvestScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Prices) == 0 {
		writeError(w, "prices is required", http.StatusBadRequest)
		return
	}

	asOf := model.DateOnly(time.Now())
	if req.AsOf != "" {
		parsed, err := parseDate(req.AsOf)
		if err != nil {
			writeError(w, "as_of must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	prices := make(map[string]decimal.Decimal, len(req.Prices))
	symbols := make([]string, 0, len(req.Prices))
	for sym, price := range req.Prices {
		upper := strings.ToUpper(sym)
		prices[upper] = price
		symbols = append(symbols, upper)
	}

	openLots, err := s.store.ListLots(r.Context(), store.LotFilter{
		AccountID: req.AccountID,
		OpenOnly:  true,
	})
	if err != nil {
		writeError(w, "failed to list lots", http.StatusInternalServerError)
		return
	}

	// Wash-sale risk needs recent buys of the priced symbols and anything
	// identical to them.
	seen := make(map[string]bool)
	var windowSymbols []string
	for _, sym := range symbols {
		for identical := range washsale.IdenticalSecurities(sym) {
			if !seen[identical] {
				seen[identical] = true
				windowSymbols = append(windowSymbols, identical)
			}
		}
	}
	history, err := s.store.GetTransactionWindow(r.Context(), windowSymbols,
		asOf.AddDate(0, 0, -washsale.WindowDays), asOf)
	if err != nil {
		writeError(w, "failed to load transaction history", http.StatusInternalServerError)
		return
	}

	opportunities := harvest.Scan(openLots, prices, asOf, req.MinLoss, history)
	resp := map[string]interface{}{
		"as_of":         asOf.Format("2006-01-02"),
		"opportunities": opportunities,
	}
	if req.TargetLoss.IsPositive() {
		resp["selected"] = harvest.SelectForTarget(opportunities, req.TargetLoss)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SafeDate handles GET /api/v1/wash-sales/safe-date?symbol=X&as_of=YYYY-MM-DD:
// the first date a sale of symbol is clear of existing purchases' windows.
func (s *Service) SafeDate(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	asOf := model.DateOnly(time.Now())
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			writeError(w, "as_of must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	// Only buys inside the trailing window matter; older windows have closed.
	history, err := s.transactionWindow(r.Context(), symbol,
		asOf.AddDate(0, 0, -washsale.WindowDays), asOf)
	if err != nil {
		writeError(w, "failed to load transaction history", http.StatusInternalServerError)
		return
	}

	advice := washsale.SafeToSellDate(symbol, asOf, history)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"as_of":  asOf.Format("2006-01-02"),
		"advice": advice,
	})
}
