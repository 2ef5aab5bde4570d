package lots

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotledger/lot-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func lot(id, acquired string, qty, perShare float64) model.TaxLot {
	q := d(qty)
	ps := d(perShare)
	return model.TaxLot{
		ID:                id,
		AccountID:         "acct1",
		Symbol:            "VOO",
		OriginalQuantity:  q,
		RemainingQuantity: q,
		CostBasisPerShare: ps,
		TotalCostBasis:    q.Mul(ps),
		AcquisitionDate:   day(acquired),
		AcquisitionType:   model.AcquisitionPurchase,
	}
}

// --- Lot ordering tests ---

func TestSortForSale_FIFO(t *testing.T) {
	open := []model.TaxLot{
		lot("lot_b", "2025-03-01", 50, 70),
		lot("lot_a", "2025-01-01", 100, 50),
	}
	ordered, err := SortForSale(open, model.MethodFIFO, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ordered[0].ID != "lot_a" || ordered[1].ID != "lot_b" {
		t.Errorf("FIFO should order oldest first, got %s then %s", ordered[0].ID, ordered[1].ID)
	}
}

func TestSortForSale_LIFO(t *testing.T) {
	open := []model.TaxLot{
		lot("lot_a", "2025-01-01", 100, 50),
		lot("lot_b", "2025-03-01", 50, 70),
	}
	ordered, err := SortForSale(open, model.MethodLIFO, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ordered[0].ID != "lot_b" || ordered[1].ID != "lot_a" {
		t.Errorf("LIFO should order newest first, got %s then %s", ordered[0].ID, ordered[1].ID)
	}
}

func TestSortForSale_HIFO(t *testing.T) {
	open := []model.TaxLot{
		lot("lot_cheap", "2025-01-01", 100, 50),
		lot("lot_dear", "2025-03-01", 50, 70),
	}
	ordered, err := SortForSale(open, model.MethodHIFO, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ordered[0].ID != "lot_dear" {
		t.Errorf("HIFO should order highest basis first, got %s", ordered[0].ID)
	}
}

func TestSortForSale_HIFOTieFallsBackToFIFO(t *testing.T) {
	open := []model.TaxLot{
		lot("lot_newer", "2025-03-01", 50, 60),
		lot("lot_older", "2025-01-01", 50, 60),
	}
	ordered, err := SortForSale(open, model.MethodHIFO, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ordered[0].ID != "lot_older" {
		t.Errorf("equal basis should fall back to FIFO order, got %s first", ordered[0].ID)
	}
}

func TestSortForSale_SameDateTieBreaksOnID(t *testing.T) {
	open := []model.TaxLot{
		lot("lot_z", "2025-01-01", 10, 50),
		lot("lot_a", "2025-01-01", 10, 50),
	}
	ordered, err := SortForSale(open, model.MethodFIFO, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ordered[0].ID != "lot_a" {
		t.Errorf("same-date lots should tie-break on ID ascending, got %s first", ordered[0].ID)
	}
}

func TestSortForSale_DeterministicRegardlessOfInputOrder(t *testing.T) {
	a := lot("lot_a", "2025-01-01", 100, 50)
	b := lot("lot_b", "2025-03-01", 50, 70)
	c := lot("lot_c", "2025-02-01", 25, 60)

	first, err := SortForSale([]model.TaxLot{a, b, c}, model.MethodHIFO, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := SortForSale([]model.TaxLot{c, a, b}, model.MethodHIFO, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("ordering depends on input order: %s vs %s at %d", first[i].ID, second[i].ID, i)
		}
	}
}

func TestSortForSale_SpecificRequiresIDs(t *testing.T) {
	_, err := SortForSale([]model.TaxLot{lot("lot_a", "2025-01-01", 10, 50)}, model.MethodSpecific, nil)
	if !errors.Is(err, ErrSpecificLotsRequired) {
		t.Errorf("expected ErrSpecificLotsRequired, got %v", err)
	}
}

func TestSortForSale_SpecificUnknownID(t *testing.T) {
	_, err := SortForSale([]model.TaxLot{lot("lot_a", "2025-01-01", 10, 50)},
		model.MethodSpecific, []string{"lot_missing"})
	if !errors.Is(err, ErrLotNotFound) {
		t.Errorf("expected ErrLotNotFound, got %v", err)
	}
}

func TestSortForSale_UnknownMethod(t *testing.T) {
	_, err := SortForSale(nil, model.CostBasisMethod("average"), nil)
	if !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}

// --- Disposition tests ---

func TestDispose_FIFOSplitsAcrossLots(t *testing.T) {
	open := []model.TaxLot{
		lot("lot_a", "2025-01-01", 100, 50),
		lot("lot_b", "2025-03-01", 50, 70),
	}
	dispositions, shortfall, err := Dispose(open, Sale{
		Quantity: d(120),
		Price:    d(60),
		Date:     day("2025-06-01"),
		Method:   model.MethodFIFO,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shortfall.IsZero() {
		t.Errorf("expected no shortfall, got %s", shortfall)
	}
	if len(dispositions) != 2 {
		t.Fatalf("expected 2 dispositions, got %d", len(dispositions))
	}

	first := dispositions[0]
	if first.LotID != "lot_a" || !first.Quantity.Equal(d(100)) {
		t.Errorf("first disposition should fully consume lot_a: %+v", first)
	}
	if !first.Proceeds.Equal(d(6000)) || !first.CostBasis.Equal(d(5000)) || !first.GainLoss.Equal(d(1000)) {
		t.Errorf("lot_a money wrong: proceeds=%s basis=%s gl=%s",
			first.Proceeds, first.CostBasis, first.GainLoss)
	}
	if !first.IsShortTerm {
		t.Error("held Jan to Jun should be short-term")
	}

	second := dispositions[1]
	if second.LotID != "lot_b" || !second.Quantity.Equal(d(20)) {
		t.Errorf("second disposition should take 20 from lot_b: %+v", second)
	}
	if !second.Proceeds.Equal(d(1200)) || !second.CostBasis.Equal(d(1400)) || !second.GainLoss.Equal(d(-200)) {
		t.Errorf("lot_b money wrong: proceeds=%s basis=%s gl=%s",
			second.Proceeds, second.CostBasis, second.GainLoss)
	}
}

func TestDispose_SpecificLeavesOtherLotsUntouched(t *testing.T) {
	open := []model.TaxLot{
		lot("lot_a", "2025-01-01", 100, 50),
		lot("lot_b", "2025-03-01", 50, 70),
	}
	dispositions, shortfall, err := Dispose(open, Sale{
		Quantity:       d(30),
		Price:          d(60),
		Date:           day("2025-06-01"),
		Method:         model.MethodSpecific,
		SpecificLotIDs: []string{"lot_b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shortfall.IsZero() {
		t.Errorf("expected no shortfall, got %s", shortfall)
	}
	if len(dispositions) != 1 || dispositions[0].LotID != "lot_b" {
		t.Fatalf("only lot_b should be consumed, got %+v", dispositions)
	}
}

func TestDispose_Shortfall(t *testing.T) {
	open := []model.TaxLot{lot("lot_a", "2025-01-01", 40, 50)}
	dispositions, shortfall, err := Dispose(open, Sale{
		Quantity: d(100),
		Price:    d(60),
		Date:     day("2025-06-01"),
		Method:   model.MethodFIFO,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shortfall.Equal(d(60)) {
		t.Errorf("expected shortfall of 60, got %s", shortfall)
	}
	if len(dispositions) != 1 || !dispositions[0].Quantity.Equal(d(40)) {
		t.Errorf("should dispose everything available: %+v", dispositions)
	}
}

func TestDispose_NoOpenLots(t *testing.T) {
	dispositions, shortfall, err := Dispose(nil, Sale{
		Quantity: d(10),
		Price:    d(60),
		Date:     day("2025-06-01"),
		Method:   model.MethodFIFO,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispositions) != 0 {
		t.Errorf("no lots means no dispositions, got %d", len(dispositions))
	}
	if !shortfall.Equal(d(10)) {
		t.Errorf("whole sale should be shortfall, got %s", shortfall)
	}
}

func TestDispose_QuantityConserved(t *testing.T) {
	open := []model.TaxLot{
		lot("lot_a", "2025-01-01", 33, 50),
		lot("lot_b", "2025-02-01", 33, 55),
		lot("lot_c", "2025-03-01", 34, 60),
	}
	dispositions, shortfall, err := Dispose(open, Sale{
		Quantity: d(80),
		Price:    d(58),
		Date:     day("2025-06-01"),
		Method:   model.MethodHIFO,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total := shortfall
	for _, disp := range dispositions {
		total = total.Add(disp.Quantity)
	}
	if !total.Equal(d(80)) {
		t.Errorf("disposed+shortfall should equal sale quantity, got %s", total)
	}
}

func TestDispose_FeesAllocatedExactly(t *testing.T) {
	// Three equal cuts with a fee that does not divide evenly by three.
	open := []model.TaxLot{
		lot("lot_a", "2025-01-01", 10, 50),
		lot("lot_b", "2025-02-01", 10, 50),
		lot("lot_c", "2025-03-01", 10, 50),
	}
	fees := d(1)
	dispositions, _, err := Dispose(open, Sale{
		Quantity: d(30),
		Price:    d(60),
		Fees:     fees,
		Date:     day("2025-06-01"),
		Method:   model.MethodFIFO,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := d(30).Mul(d(60)).Sub(fees)
	sum := decimal.Zero
	for _, disp := range dispositions {
		if disp.Proceeds.Exponent() < -2 {
			t.Errorf("proceeds not rounded to cents: %s", disp.Proceeds)
		}
		sum = sum.Add(disp.Proceeds)
	}
	if !sum.Equal(want) {
		t.Errorf("rounded proceeds must sum to net proceeds: got %s want %s", sum, want)
	}
}

func TestDispose_DuplicateSpecificIDConsumesOnce(t *testing.T) {
	open := []model.TaxLot{lot("lot_a", "2025-01-01", 10, 50)}
	dispositions, shortfall, err := Dispose(open, Sale{
		Quantity:       d(15),
		Price:          d(60),
		Date:           day("2025-06-01"),
		Method:         model.MethodSpecific,
		SpecificLotIDs: []string{"lot_a", "lot_a"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispositions) != 1 || !dispositions[0].Quantity.Equal(d(10)) {
		t.Errorf("a lot listed twice only gives up what it has: %+v", dispositions)
	}
	if !shortfall.Equal(d(5)) {
		t.Errorf("expected shortfall of 5, got %s", shortfall)
	}
}

func TestDispose_InvalidInputs(t *testing.T) {
	open := []model.TaxLot{lot("lot_a", "2025-01-01", 10, 50)}
	base := Sale{Quantity: d(5), Price: d(60), Date: day("2025-06-01"), Method: model.MethodFIFO}

	zeroQty := base
	zeroQty.Quantity = decimal.Zero
	if _, _, err := Dispose(open, zeroQty); !errors.Is(err, ErrNonPositiveQuantity) {
		t.Errorf("expected ErrNonPositiveQuantity, got %v", err)
	}

	negPrice := base
	negPrice.Price = d(-1)
	if _, _, err := Dispose(open, negPrice); !errors.Is(err, ErrNegativePrice) {
		t.Errorf("expected ErrNegativePrice, got %v", err)
	}

	negFees := base
	negFees.Fees = d(-1)
	if _, _, err := Dispose(open, negFees); !errors.Is(err, ErrNegativeFees) {
		t.Errorf("expected ErrNegativeFees, got %v", err)
	}
}

func TestDispose_LongTermHolding(t *testing.T) {
	open := []model.TaxLot{lot("lot_old", "2023-01-15", 10, 50)}
	dispositions, _, err := Dispose(open, Sale{
		Quantity: d(10),
		Price:    d(60),
		Date:     day("2025-06-01"),
		Method:   model.MethodFIFO,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dispositions[0].IsShortTerm {
		t.Error("shares held over a year should be long-term")
	}
}

// --- Aggregation tests ---

func TestAggregate_MixedTerms(t *testing.T) {
	dispositions := []model.Disposition{
		{
			Quantity: d(100), Proceeds: d(6000), CostBasis: d(5000),
			GainLoss: d(1000), AdjustedGainLoss: d(1000), IsShortTerm: true,
		},
		{
			Quantity: d(20), Proceeds: d(1200), CostBasis: d(1400),
			GainLoss: d(-200), WashSaleDisallowed: d(200), AdjustedGainLoss: decimal.Zero,
			IsShortTerm: false,
		},
	}
	result := Aggregate(dispositions)

	if !result.TotalProceeds.Equal(d(7200)) {
		t.Errorf("total proceeds: got %s", result.TotalProceeds)
	}
	if !result.TotalCostBasis.Equal(d(6400)) {
		t.Errorf("total basis: got %s", result.TotalCostBasis)
	}
	if !result.TotalGainLoss.Equal(d(800)) {
		t.Errorf("raw gain/loss: got %s", result.TotalGainLoss)
	}
	if !result.ShortTermGainLoss.Equal(d(1000)) {
		t.Errorf("short-term bucket: got %s", result.ShortTermGainLoss)
	}
	if !result.LongTermGainLoss.Equal(decimal.Zero) {
		t.Errorf("long-term bucket should hold the recognized (zero) loss: got %s", result.LongTermGainLoss)
	}
	if !result.WashSaleDisallowed.Equal(d(200)) {
		t.Errorf("disallowed: got %s", result.WashSaleDisallowed)
	}
	if !result.NetGainLoss.Equal(d(1000)) {
		t.Errorf("net = raw + disallowed: got %s", result.NetGainLoss)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	dispositions := []model.Disposition{
		{Quantity: d(10), Proceeds: d(600), CostBasis: d(500), GainLoss: d(100), AdjustedGainLoss: d(100), IsShortTerm: true},
	}
	first := Aggregate(dispositions)
	second := Aggregate(dispositions)
	if !first.NetGainLoss.Equal(second.NetGainLoss) || !first.TotalProceeds.Equal(second.TotalProceeds) {
		t.Error("re-aggregating the same dispositions should give identical results")
	}
}

func TestAggregate_Empty(t *testing.T) {
	result := Aggregate(nil)
	if !result.NetGainLoss.IsZero() || !result.TotalProceeds.IsZero() {
		t.Errorf("empty aggregation should be all zeros: %+v", result)
	}
}
