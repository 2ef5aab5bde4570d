// Package ledger provides the HTTP handlers and business logic for
// recording buy/sell transactions, disposing shares against tax lots,
// applying the wash-sale rule, and querying lots and dispositions.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/lots"
	"github.com/lotledger/lot-engine/internal/metrics"
	"github.com/lotledger/lot-engine/internal/model"
	"github.com/lotledger/lot-engine/internal/store"
	"github.com/lotledger/lot-engine/internal/washsale"
)

// lotIDPrefix derives a lot's ID from the buy transaction that created it.
// The shared prefix lets wash-sale basis step-up map a replacement purchase
// straight to its lot.
const lotIDPrefix = "lot_"

// Service handles transaction recording. Uses a mutex for serialized
// read-modify-write of lot quantities (single-instance). For horizontal
// scaling, replace with distributed locking or database-level optimistic
// concurrency.
type Service struct {
	store store.Store
	mu    sync.Mutex
	wsHub *WSHub // optional WebSocket hub for event broadcasts
}

// NewService creates a new ledger service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, hub *WSHub) *Service {
	return &Service{
		store: st,
		wsHub: hub,
	}
}

// --- Request/Response types ---

// RecordTransactionRequest is the JSON body for POST /transactions.
type RecordTransactionRequest struct {
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Date      string          `json:"date"` // YYYY-MM-DD
	Type      string          `json:"type"` // "buy" or "sell"
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fees      decimal.Decimal `json:"fees"`

	// Sell-only fields.
	CostBasisMethod string   `json:"cost_basis_method,omitempty"`
	SpecificLotIDs  []string `json:"specific_lot_ids,omitempty"`
}

// BuyResponse is returned when a buy is recorded.
type BuyResponse struct {
	Transaction model.Transaction          `json:"transaction"`
	TaxLot      model.TaxLot               `json:"tax_lot"`
	Advisory    *washsale.PurchaseAdvisory `json:"wash_sale_advisory,omitempty"`
}

// SellResponse is returned when a sell is recorded or previewed.
type SellResponse struct {
	Transaction *model.Transaction `json:"transaction,omitempty"` // nil on preview
	SaleResult  model.SaleResult   `json:"sale_result"`

	// Warning is set when no open lots matched: the sale is recorded but
	// cost basis is unknown. Never a silent zero-basis fabrication.
	Warning string `json:"warning,omitempty"`

	// WashSaleAlert is set when part of the loss was disallowed.
	WashSaleAlert string `json:"wash_sale_alert,omitempty"`
}

// --- HTTP Handlers ---

// RecordTransaction handles POST /api/v1/transactions.
// Buys create a tax lot; sells dispose against open lots, run the
// wash-sale detector, and persist the results atomically under the
// service mutex.
func (s *Service) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	req, txType, date, ok := s.decodeAndValidate(w, r)
	if !ok {
		return
	}

	if txType == model.TxBuy {
		s.recordBuy(w, r.Context(), req, date)
		return
	}
	s.recordSell(w, r.Context(), req, date, false)
}

// PreviewSale handles POST /api/v1/transactions/preview.
// Computes the full sale result (dispositions, wash-sale disallowance,
// aggregates) without persisting anything.
func (s *Service) PreviewSale(w http.ResponseWriter, r *http.Request) {
	req, txType, date, ok := s.decodeAndValidate(w, r)
	if !ok {
		return
	}
	if txType != model.TxSell {
		writeError(w, "preview only applies to sell transactions", http.StatusBadRequest)
		return
	}
	s.recordSell(w, r.Context(), req, date, true)
}

// decodeAndValidate parses the request body and rejects bad input before
// any computation.
func (s *Service) decodeAndValidate(w http.ResponseWriter, r *http.Request) (RecordTransactionRequest, model.TransactionType, time.Time, bool) {
	var req RecordTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, "", time.Time{}, false
	}

	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return req, "", time.Time{}, false
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return req, "", time.Time{}, false
	}
	req.Symbol = strings.ToUpper(req.Symbol)

	txType, err := model.ParseTransactionType(req.Type)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return req, "", time.Time{}, false
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return req, "", time.Time{}, false
	}

	// Signed quantities are normalized to magnitude + type.
	req.Quantity = req.Quantity.Abs()
	if req.Quantity.IsZero() {
		writeError(w, "quantity must be positive", http.StatusBadRequest)
		return req, "", time.Time{}, false
	}
	if req.Price.IsNegative() {
		writeError(w, "price must not be negative", http.StatusBadRequest)
		return req, "", time.Time{}, false
	}
	if req.Fees.IsNegative() {
		writeError(w, "fees must not be negative", http.StatusBadRequest)
		return req, "", time.Time{}, false
	}

	return req, txType, date, true
}

// recordBuy creates the transaction and its tax lot, then checks whether
// the purchase may retroactively wash a recent sale (advisory only).
func (s *Service) recordBuy(w http.ResponseWriter, ctx context.Context, req RecordTransactionRequest, date time.Time) {
	amount := req.Quantity.Mul(req.Price).Add(req.Fees).Round(lots.CentScale)

	tx := &model.Transaction{
		ID:        uuid.New().String(),
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		Date:      date,
		Type:      model.TxBuy,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Fees:      req.Fees,
		Amount:    amount,
	}

	lot := &model.TaxLot{
		ID:                lotIDPrefix + tx.ID,
		AccountID:         req.AccountID,
		Symbol:            req.Symbol,
		OriginalQuantity:  req.Quantity,
		RemainingQuantity: req.Quantity,
		CostBasisPerShare: amount.Div(req.Quantity),
		TotalCostBasis:    amount,
		AcquisitionDate:   date,
		AcquisitionType:   model.AcquisitionPurchase,
		IsCovered:         true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		writeError(w, "failed to record transaction", http.StatusInternalServerError)
		return
	}
	if err := s.store.CreateLot(ctx, lot); err != nil {
		writeError(w, "failed to create tax lot", http.StatusInternalServerError)
		return
	}

	metrics.TransactionsTotal.WithLabelValues(string(model.TxBuy)).Inc()

	// A buy within 30 days of an earlier loss sale washes that loss.
	// The detector re-runs with the extended window when the sale's year
	// is reported; here we only warn.
	resp := BuyResponse{Transaction: *tx, TaxLot: *lot}
	history, err := s.transactionWindow(ctx, req.Symbol, date.AddDate(0, 0, -washsale.WindowDays), date)
	if err == nil {
		if advisory := washsale.CheckPurchase(req.Symbol, date, history); advisory.Triggered {
			resp.Advisory = &advisory
		}
	} else {
		slog.Warn("purchase advisory check skipped", "symbol", req.Symbol, "err", err)
	}

	slog.Info("buy recorded",
		"transaction_id", tx.ID,
		"account", req.AccountID,
		"symbol", req.Symbol,
		"qty", req.Quantity.String(),
		"amount", amount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "transaction_recorded",
			TransactionID: tx.ID,
			AccountID:     req.AccountID,
			Symbol:        req.Symbol,
			TxType:        string(model.TxBuy),
			Quantity:      req.Quantity.String(),
		})
	}

	writeJSON(w, http.StatusCreated, resp)
}

// recordSell runs the full sale pipeline: dispose → detect → aggregate,
// then (unless previewing) persists the transaction, dispositions, lot
// quantity updates, and replacement-lot basis step-ups.
func (s *Service) recordSell(w http.ResponseWriter, ctx context.Context, req RecordTransactionRequest, date time.Time, preview bool) {
	method, err := model.ParseCostBasisMethod(req.CostBasisMethod)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()

	// Serialize sale processing: two concurrent sells reading the same
	// lot snapshot would double-spend shares.
	s.mu.Lock()
	defer s.mu.Unlock()

	openLots, err := s.store.ListLots(ctx, store.LotFilter{
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		OpenOnly:  true,
	})
	if err != nil {
		writeError(w, "failed to load open lots", http.StatusInternalServerError)
		return
	}

	tx := &model.Transaction{
		ID:        uuid.New().String(),
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		Date:      date,
		Type:      model.TxSell,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Fees:      req.Fees,
		Amount:    req.Quantity.Mul(req.Price).Sub(req.Fees).Round(lots.CentScale),
	}

	resp := SellResponse{}

	if len(openLots) == 0 {
		// Still record the sale, but flag the missing basis.
		resp.Warning = "no open tax lots for " + req.Symbol + " in this account; sale recorded but cost basis unknown"
		resp.SaleResult = lots.Aggregate(nil)
		resp.SaleResult.ShortfallQuantity = req.Quantity

		if !preview {
			if err := s.store.InsertTransaction(ctx, tx); err != nil {
				writeError(w, "failed to record transaction", http.StatusInternalServerError)
				return
			}
			metrics.TransactionsTotal.WithLabelValues(string(model.TxSell)).Inc()
			metrics.ShortfallSales.Inc()
			resp.Transaction = tx
			slog.Warn("sale recorded without lots", "transaction_id", tx.ID, "symbol", req.Symbol)
		}
		status := http.StatusCreated
		if preview {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
		return
	}

	dispositions, shortfall, err := lots.Dispose(openLots, lots.Sale{
		Quantity:       req.Quantity,
		Price:          req.Price,
		Fees:           req.Fees,
		Date:           date,
		Method:         method,
		SpecificLotIDs: req.SpecificLotIDs,
	})
	if err != nil {
		writeError(w, err.Error(), disposeStatus(err))
		return
	}

	window, err := s.transactionWindow(ctx, req.Symbol, date.AddDate(0, 0, -washsale.WindowDays), date.AddDate(0, 0, washsale.WindowDays))
	if err != nil {
		writeError(w, "failed to load transaction window", http.StatusInternalServerError)
		return
	}

	detected, matches := washsale.Detect(req.Symbol, tx.ID, dispositions, window)

	result := lots.Aggregate(detected)
	result.ShortfallQuantity = shortfall
	resp.SaleResult = result

	if shortfall.IsPositive() {
		resp.Warning = "open lots cover only part of the sale; shortfall of " +
			shortfall.String() + " shares has unknown cost basis"
	}
	if result.WashSaleDisallowed.IsPositive() {
		resp.WashSaleAlert = "wash sale detected: $" + result.WashSaleDisallowed.StringFixed(2) +
			" of the loss is disallowed and carried into the replacement lot basis"
	}

	if !preview {
		if err := s.persistSale(ctx, tx, detected, matches, openLots); err != nil {
			writeError(w, "failed to persist sale", http.StatusInternalServerError)
			return
		}
		resp.Transaction = tx

		metrics.TransactionsTotal.WithLabelValues(string(model.TxSell)).Inc()
		metrics.DispositionsTotal.WithLabelValues(string(method)).Add(float64(len(detected)))
		if result.WashSaleDisallowed.IsPositive() {
			metrics.WashSalesDetected.Inc()
		}
		if shortfall.IsPositive() {
			metrics.ShortfallSales.Inc()
		}
		metrics.SaleProcessingDuration.Observe(time.Since(start).Seconds())

		slog.Info("sale recorded",
			"transaction_id", tx.ID,
			"account", req.AccountID,
			"symbol", req.Symbol,
			"method", string(method),
			"qty", req.Quantity.String(),
			"dispositions", len(detected),
			"net_gain_loss", result.NetGainLoss.String(),
			"disallowed", result.WashSaleDisallowed.String(),
		)

		if s.wsHub != nil {
			s.wsHub.Broadcast(WSMessage{
				Type:          "transaction_recorded",
				TransactionID: tx.ID,
				AccountID:     req.AccountID,
				Symbol:        req.Symbol,
				TxType:        string(model.TxSell),
				Quantity:      req.Quantity.String(),
				NetGainLoss:   result.NetGainLoss.String(),
			})
			if result.WashSaleDisallowed.IsPositive() {
				s.wsHub.Broadcast(WSMessage{
					Type:          "wash_sale_alert",
					TransactionID: tx.ID,
					AccountID:     req.AccountID,
					Symbol:        req.Symbol,
					Disallowed:    result.WashSaleDisallowed.String(),
				})
			}
		}
	}

	status := http.StatusCreated
	if preview {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// persistSale writes the sale transaction, its dispositions, and the
// lot quantity decrements as one atomic store apply, then the
// replacement-lot basis step-ups. Called under the service mutex after
// all computation has succeeded, so no partial-apply state is visible
// to other sale requests.
func (s *Service) persistSale(ctx context.Context, tx *model.Transaction, dispositions []model.Disposition, matches map[int][]washsale.ReplacementMatch, openLots []model.TaxLot) error {
	lotsByID := make(map[string]model.TaxLot, len(openLots))
	for _, l := range openLots {
		lotsByID[l.ID] = l
	}

	// A lot can appear in several dispositions under specific
	// identification; accumulate before building the updates.
	consumed := make(map[string]decimal.Decimal)
	for i := range dispositions {
		d := &dispositions[i]
		d.ID = uuid.New().String()
		consumed[d.LotID] = consumed[d.LotID].Add(d.Quantity)
	}

	lotIDs := make([]string, 0, len(consumed))
	for id := range consumed {
		lotIDs = append(lotIDs, id)
	}
	sort.Strings(lotIDs)
	updates := make([]store.LotQuantityUpdate, 0, len(lotIDs))
	for _, id := range lotIDs {
		lot := lotsByID[id]
		updates = append(updates, store.LotQuantityUpdate{
			LotID:     id,
			Remaining: lot.RemainingQuantity.Sub(consumed[id]),
		})
	}

	if err := s.store.ApplySale(ctx, tx, dispositions, updates); err != nil {
		return err
	}

	// Basis carry-forward: each disallowed dollar is added to the lot of
	// the replacement purchase that absorbed it.
	for i := range dispositions {
		for _, m := range matches[i] {
			if !m.Disallowed.IsPositive() {
				continue
			}
			replacementLotID := lotIDPrefix + m.TransactionID
			if err := s.store.StepUpLotBasis(ctx, replacementLotID, m.Disallowed); err != nil {
				// The replacement buy may predate lot tracking; the
				// disallowance stands either way.
				slog.Warn("replacement lot basis step-up skipped",
					"lot_id", replacementLotID, "amount", m.Disallowed.String(), "err", err)
			}
		}
	}

	return nil
}

// transactionWindow loads the cross-account transaction history for the
// symbol and everything substantially identical to it, dates inclusive.
func (s *Service) transactionWindow(ctx context.Context, symbol string, from, to time.Time) ([]model.Transaction, error) {
	identical := washsale.IdenticalSecurities(symbol)
	symbols := make([]string, 0, len(identical))
	for sym := range identical {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return s.store.GetTransactionWindow(ctx, symbols, from, to)
}

// disposeStatus maps calculator errors to HTTP statuses: bad input is the
// caller's fault.
func disposeStatus(err error) int {
	switch {
	case errors.Is(err, lots.ErrNonPositiveQuantity),
		errors.Is(err, lots.ErrNegativePrice),
		errors.Is(err, lots.ErrNegativeFees),
		errors.Is(err, lots.ErrUnknownMethod),
		errors.Is(err, lots.ErrSpecificLotsRequired),
		errors.Is(err, lots.ErrLotNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseDate parses a YYYY-MM-DD date, falling back to RFC 3339 input, and
// normalizes to midnight UTC.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return model.DateOnly(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return model.DateOnly(t), nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
