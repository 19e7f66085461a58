package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
}

func isValidationErr(err error) bool {
	return errors.Is(err, ErrValidation)
}

func d(v string) decimal.Decimal {
	dec, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return dec
}

func TestClassifyStockState_PriorityOrder(t *testing.T) {
	cases := []struct {
		name      string
		onHand    string
		available string
		reserved  string
		incoming  string
		reorder   string
		want      StockState
	}{
		{"on order wins over out of stock", "0", "0", "0", "50", "10", StockStateOnOrder},
		{"negative on hand with incoming is still on order", "-2", "-2", "0", "50", "0", StockStateOnOrder},
		{"out of stock when nothing incoming", "0", "0", "0", "0", "10", StockStateOutOfStock},
		{"allocated when everything is reserved", "20", "0", "20", "0", "10", StockStateAllocated},
		{"allocated wins over low stock", "1", "0", "1", "0", "100", StockStateAllocated},
		{"allocated requires reserved stock", "20", "0", "0", "0", "0", StockStateInStock},
		{"low stock at exactly the threshold", "10", "2", "8", "0", "10", StockStateLowStock},
		{"in stock just above the threshold", "10", "2.0001", "7.9999", "0", "10", StockStateInStock},
		{"no reorder minimum never goes low", "1", "1", "0", "0", "0", StockStateInStock},
		{"plain in stock", "100", "90", "10", "0", "10", StockStateInStock},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyStockState(d(tc.onHand), d(tc.available), d(tc.reserved), d(tc.incoming), d(tc.reorder))
			if got != tc.want {
				t.Fatalf("ClassifyStockState(%s,%s,%s,%s,%s) = %s; want %s",
					tc.onHand, tc.available, tc.reserved, tc.incoming, tc.reorder, got, tc.want)
			}
		})
	}
}

func TestClassifyLowStockSeverity(t *testing.T) {
	cases := []struct {
		name      string
		available string
		reorder   string
		want      LowStockSeverity
	}{
		{"critical at quarter of reorder minimum", "25", "100", LowStockSeverityCritical},
		{"warning at half of reorder minimum", "50", "100", LowStockSeverityWarning},
		{"none above half", "50.0001", "100", LowStockSeverityNone},
		{"zero reorder minimum never alerts", "0", "0", LowStockSeverityNone},
		{"negative available is critical", "-5", "100", LowStockSeverityCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyLowStockSeverity(d(tc.available), d(tc.reorder))
			if got != tc.want {
				t.Fatalf("ClassifyLowStockSeverity(%s, %s) = %s; want %s", tc.available, tc.reorder, got, tc.want)
			}
		})
	}
}

func TestClassifyCountVariance(t *testing.T) {
	cases := []struct {
		name     string
		expected string
		counted  string
		want     CountLineResult
	}{
		{"exact match", "50", "50", CountLineResultMatch},
		{"zero expected zero counted matches", "0", "0", CountLineResultMatch},
		{"over", "50", "55", CountLineResultOver},
		{"under", "50", "45", CountLineResultUnder},
		{"missing when counted zero but stock expected", "50", "0", CountLineResultMissing},
		{"fractional under", "10.5", "10.25", CountLineResultUnder},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyCountVariance(d(tc.expected), d(tc.counted))
			if got != tc.want {
				t.Fatalf("ClassifyCountVariance(%s, %s) = %s; want %s", tc.expected, tc.counted, got, tc.want)
			}
		})
	}
}

func TestNewStockMovementValidate(t *testing.T) {
	valid := func() *NewStockMovement {
		return &NewStockMovement{
			BusinessId:    "b1",
			WarehouseId:   1,
			VariantId:     2,
			Qty:           d("5"),
			ReferenceType: StockReferenceTypeGoodsReceipt,
			ReferenceId:   3,
			PostingTime:   mustTime(t),
		}
	}

	if err := valid().validate(); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	broken := map[string]func(*NewStockMovement){
		"missing business":       func(m *NewStockMovement) { m.BusinessId = "" },
		"missing warehouse":      func(m *NewStockMovement) { m.WarehouseId = 0 },
		"missing variant":        func(m *NewStockMovement) { m.VariantId = 0 },
		"zero qty":               func(m *NewStockMovement) { m.Qty = decimal.Zero },
		"unknown reference type": func(m *NewStockMovement) { m.ReferenceType = "INVOICE" },
		"missing reference id":   func(m *NewStockMovement) { m.ReferenceId = 0 },
	}
	for name, mutate := range broken {
		t.Run(name, func(t *testing.T) {
			input := valid()
			mutate(input)
			err := input.validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !isValidationErr(err) {
				t.Fatalf("expected a validation error kind, got: %v", err)
			}
		})
	}
}
