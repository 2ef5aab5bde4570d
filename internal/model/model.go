// Package model defines the core domain types shared across the lot engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LongTermThresholdDays is the holding period boundary: a disposition is
// short-term when the shares were held 365 days or fewer.
const LongTermThresholdDays = 365

// CostBasisMethod selects which lots a sale consumes, and in what order.
type CostBasisMethod string

const (
	MethodFIFO     CostBasisMethod = "fifo"
	MethodLIFO     CostBasisMethod = "lifo"
	MethodHIFO     CostBasisMethod = "hifo"
	MethodSpecific CostBasisMethod = "specific"
)

// ErrUnknownMethod is returned when a cost basis method string is not one
// of fifo, lifo, hifo, specific.
var ErrUnknownMethod = errors.New("model: unknown cost basis method")

// ParseCostBasisMethod validates a method string at the boundary. An empty
// string resolves to FIFO, the default.
func ParseCostBasisMethod(s string) (CostBasisMethod, error) {
	switch strings.ToLower(s) {
	case "", "fifo":
		return MethodFIFO, nil
	case "lifo":
		return MethodLIFO, nil
	case "hifo":
		return MethodHIFO, nil
	case "specific":
		return MethodSpecific, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// AcquisitionType describes how a lot came into existence.
type AcquisitionType string

const (
	AcquisitionPurchase     AcquisitionType = "purchase"
	AcquisitionDividend     AcquisitionType = "dividend-reinvestment"
	AcquisitionGift         AcquisitionType = "gift"
	AcquisitionInheritance  AcquisitionType = "inheritance"
	AcquisitionWashSaleRepl AcquisitionType = "wash-sale-replacement"
)

// ErrUnknownAcquisitionType is returned for an unrecognized acquisition type.
var ErrUnknownAcquisitionType = errors.New("model: unknown acquisition type")

// ParseAcquisitionType validates an acquisition type string. Empty resolves
// to purchase.
func ParseAcquisitionType(s string) (AcquisitionType, error) {
	switch strings.ToLower(s) {
	case "", "purchase":
		return AcquisitionPurchase, nil
	case "dividend-reinvestment":
		return AcquisitionDividend, nil
	case "gift":
		return AcquisitionGift, nil
	case "inheritance":
		return AcquisitionInheritance, nil
	case "wash-sale-replacement":
		return AcquisitionWashSaleRepl, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAcquisitionType, s)
	}
}

// TransactionType is the direction of a transaction.
type TransactionType string

const (
	TxBuy  TransactionType = "buy"
	TxSell TransactionType = "sell"
)

// ErrUnknownTransactionType is returned for a type other than buy or sell.
var ErrUnknownTransactionType = errors.New("model: transaction type must be buy or sell")

// ParseTransactionType validates a transaction type string.
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToLower(s) {
	case "buy":
		return TxBuy, nil
	case "sell":
		return TxSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransactionType, s)
	}
}

// TaxLot is one acquisition event not yet fully sold. Lots are created on
// buys, mutated only by disposition processing (RemainingQuantity shrinks)
// and wash-sale basis step-up, and never deleted: a fully disposed lot
// remains as an audit record.
type TaxLot struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	Symbol    string `json:"symbol" db:"symbol"`

	OriginalQuantity  decimal.Decimal `json:"original_quantity" db:"original_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity" db:"remaining_quantity"`

	CostBasisPerShare decimal.Decimal `json:"cost_basis_per_share" db:"cost_basis_per_share"`
	TotalCostBasis    decimal.Decimal `json:"total_cost_basis" db:"total_cost_basis"`

	// AcquisitionDate carries date-only semantics: always midnight UTC.
	AcquisitionDate time.Time       `json:"acquisition_date" db:"acquisition_date"`
	AcquisitionType AcquisitionType `json:"acquisition_type" db:"acquisition_type"`

	// IsCovered means the broker reports basis to the tax authority.
	// Informational only; does not affect engine arithmetic.
	IsCovered bool `json:"is_covered" db:"is_covered"`
}

// IsFullyDisposed reports whether the lot has no shares left.
func (l *TaxLot) IsFullyDisposed() bool {
	return l.RemainingQuantity.IsZero()
}

// Transaction is an immutable event log entry. Quantity is unsigned
// magnitude; direction lives in Type. The wash-sale detector treats the
// transaction history as a read-only window.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Date      time.Time       `json:"date" db:"date"` // midnight UTC
	Type      TransactionType `json:"type" db:"type"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Fees      decimal.Decimal `json:"fees" db:"fees"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // quantity*price + fees
}

// Disposition records one lot being (partially) consumed by one sale.
type Disposition struct {
	ID       string          `json:"id" db:"id"`
	LotID    string          `json:"lot_id" db:"lot_id"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`

	// Proceeds is quantity*salePrice minus this disposition's share of the
	// sale's fees, rounded to the cent only here, never mid-calculation.
	Proceeds  decimal.Decimal `json:"proceeds" db:"proceeds"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	SaleDate  time.Time       `json:"sale_date" db:"sale_date"`

	GainLoss    decimal.Decimal `json:"gain_loss" db:"gain_loss"` // proceeds - costBasis
	IsShortTerm bool            `json:"is_short_term" db:"is_short_term"`

	// WashSaleDisallowed is 0 unless the disposition is a loss with
	// replacement purchases in the statutory window; always in [0, |GainLoss|].
	WashSaleDisallowed decimal.Decimal `json:"wash_sale_disallowed" db:"wash_sale_disallowed"`

	// AdjustedGainLoss is the recognized amount: GainLoss + WashSaleDisallowed.
	AdjustedGainLoss decimal.Decimal `json:"adjusted_gain_loss" db:"adjusted_gain_loss"`
}

// SaleResult is the aggregate returned for one sale transaction.
// ShortTermGainLoss and LongTermGainLoss hold recognized (post-disallowance)
// amounts; TotalGainLoss stays raw so both views are available.
type SaleResult struct {
	Dispositions       []Disposition   `json:"dispositions"`
	TotalProceeds      decimal.Decimal `json:"total_proceeds"`
	TotalCostBasis     decimal.Decimal `json:"total_cost_basis"`
	TotalGainLoss      decimal.Decimal `json:"total_gain_loss"`
	ShortTermGainLoss  decimal.Decimal `json:"short_term_gain_loss"`
	LongTermGainLoss   decimal.Decimal `json:"long_term_gain_loss"`
	WashSaleDisallowed decimal.Decimal `json:"wash_sale_disallowed"`
	NetGainLoss        decimal.Decimal `json:"net_gain_loss"`

	// ShortfallQuantity is the portion of the requested sale that no open
	// lot could cover. Zero on a fully covered sale.
	ShortfallQuantity decimal.Decimal `json:"shortfall_quantity"`
}

// DateOnly normalizes a time to midnight UTC, discarding time-of-day.
// All engine date arithmetic operates on normalized dates.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b (negative when
// a is after b). Both arguments are normalized first.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}

// IsShortTerm reports whether shares acquired on acquisitionDate and sold
// on saleDate are short-term: held LongTermThresholdDays or fewer.
func IsShortTerm(acquisitionDate, saleDate time.Time) bool {
	return DaysBetween(acquisitionDate, saleDate) <= LongTermThresholdDays
}
