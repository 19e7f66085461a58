package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	dec, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return dec
}

func lotCandidate(lot string, available string) allocationCandidate {
	return allocationCandidate{WarehouseId: 1, LotNumber: lot, Available: d(available)}
}

func TestPlanAllocations_TakesEarliestCandidateFirst(t *testing.T) {
	// Candidates arrive already in FEFO order: the planner must drain the
	// first (earliest expiry) before touching the second.
	candidates := []allocationCandidate{
		lotCandidate("LOT-E1", "30"),
		lotCandidate("LOT-E2", "100"),
	}

	planned, shortfall := planAllocations(d("20"), candidates)

	if !shortfall.IsZero() {
		t.Fatalf("expected zero shortfall, got %s", shortfall)
	}
	if len(planned) != 1 {
		t.Fatalf("expected 1 planned allocation, got %d", len(planned))
	}
	if planned[0].LotNumber != "LOT-E1" || !planned[0].Qty.Equal(d("20")) {
		t.Fatalf("expected 20 from LOT-E1, got %s from %s", planned[0].Qty, planned[0].LotNumber)
	}
}

func TestPlanAllocations_SpillsAcrossCandidates(t *testing.T) {
	candidates := []allocationCandidate{
		lotCandidate("LOT-E1", "30"),
		lotCandidate("LOT-E2", "100"),
	}

	planned, shortfall := planAllocations(d("50"), candidates)

	if !shortfall.IsZero() {
		t.Fatalf("expected zero shortfall, got %s", shortfall)
	}
	if len(planned) != 2 {
		t.Fatalf("expected 2 planned allocations, got %d", len(planned))
	}
	if !planned[0].Qty.Equal(d("30")) || planned[0].LotNumber != "LOT-E1" {
		t.Fatalf("first allocation should drain LOT-E1 (30), got %s from %s", planned[0].Qty, planned[0].LotNumber)
	}
	if !planned[1].Qty.Equal(d("20")) || planned[1].LotNumber != "LOT-E2" {
		t.Fatalf("second allocation should take 20 from LOT-E2, got %s from %s", planned[1].Qty, planned[1].LotNumber)
	}
}

func TestPlanAllocations_ShortfallIsNotAnError(t *testing.T) {
	candidates := []allocationCandidate{
		lotCandidate("LOT-E1", "30"),
		lotCandidate("LOT-E2", "15"),
	}

	planned, shortfall := planAllocations(d("60"), candidates)

	var total decimal.Decimal
	for _, p := range planned {
		total = total.Add(p.Qty)
	}
	if !total.Equal(d("45")) {
		t.Fatalf("expected everything available (45) allocated, got %s", total)
	}
	if !shortfall.Equal(d("15")) {
		t.Fatalf("expected shortfall 15, got %s", shortfall)
	}
}

func TestPlanAllocations_SkipsEmptyCandidates(t *testing.T) {
	candidates := []allocationCandidate{
		lotCandidate("LOT-EMPTY", "0"),
		lotCandidate("LOT-NEG", "-3"),
		lotCandidate("LOT-OK", "10"),
	}

	planned, shortfall := planAllocations(d("10"), candidates)

	if !shortfall.IsZero() {
		t.Fatalf("expected zero shortfall, got %s", shortfall)
	}
	if len(planned) != 1 || planned[0].LotNumber != "LOT-OK" {
		t.Fatalf("expected single allocation from LOT-OK, got %+v", planned)
	}
}

func TestPlanAllocations_NoCandidates(t *testing.T) {
	planned, shortfall := planAllocations(d("25"), nil)

	if len(planned) != 0 {
		t.Fatalf("expected no allocations, got %d", len(planned))
	}
	if !shortfall.Equal(d("25")) {
		t.Fatalf("expected full shortfall 25, got %s", shortfall)
	}
}

func TestPlanAllocations_FIFOBalanceFallbackKeepsOrder(t *testing.T) {
	// Balance candidates have no lot numbers; order is first-created slot
	// first.
	candidates := []allocationCandidate{
		{WarehouseId: 1, LocationId: 10, Available: d("5")},
		{WarehouseId: 1, LocationId: 20, Available: d("50")},
	}

	planned, shortfall := planAllocations(d("12"), candidates)

	if !shortfall.IsZero() {
		t.Fatalf("expected zero shortfall, got %s", shortfall)
	}
	if len(planned) != 2 {
		t.Fatalf("expected 2 planned allocations, got %d", len(planned))
	}
	if planned[0].LocationId != 10 || !planned[0].Qty.Equal(d("5")) {
		t.Fatalf("expected first slot drained, got %+v", planned[0])
	}
	if planned[1].LocationId != 20 || !planned[1].Qty.Equal(d("7")) {
		t.Fatalf("expected 7 from second slot, got %+v", planned[1])
	}
}
