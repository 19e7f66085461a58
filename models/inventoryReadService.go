package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
	"gorm.io/gorm"
)

// balanceVerificationEpsilon bounds the tolerated drift between the balance
// cache and the ledger sum. Quantities are decimal(20,4), so anything at or
// beyond the fourth decimal place is real drift.
var balanceVerificationEpsilon = decimal.NewFromFloat(1e-4)

// StockSummary aggregates one variant's quantities across an optional
// warehouse filter.
type StockSummary struct {
	VariantId    int              `json:"variant_id"`
	WarehouseId  int              `json:"warehouse_id,omitempty"`
	QtyOnHand    decimal.Decimal  `json:"qty_on_hand"`
	QtyReserved  decimal.Decimal  `json:"qty_reserved"`
	QtyIncoming  decimal.Decimal  `json:"qty_incoming"`
	QtyAvailable decimal.Decimal  `json:"qty_available"`
	State        StockState       `json:"state"`
	Severity     LowStockSeverity `json:"severity"`
}

// GetStockSummary aggregates the balance cache for one variant. warehouseId 0
// means business-wide; only that shape is redis-cached since it is what
// dashboards poll.
func GetStockSummary(ctx context.Context, variantId int, warehouseId int) (*StockSummary, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	cacheKey := fmt.Sprintf("StockSummary:%s:%d", businessId, variantId)
	if warehouseId == 0 {
		var cached *StockSummary
		if exists, err := config.GetRedisObject(cacheKey, &cached); err == nil && exists && cached != nil {
			return cached, nil
		}
	}

	variant, err := GetProductVariant(ctx, variantId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var row struct {
		QtyOnHand    decimal.Decimal
		QtyReserved  decimal.Decimal
		QtyIncoming  decimal.Decimal
		QtyAvailable decimal.Decimal
	}
	dbCtx := db.WithContext(ctx).Model(&StockBalance{}).
		Select(`COALESCE(SUM(qty_on_hand), 0) as qty_on_hand,
			COALESCE(SUM(qty_reserved), 0) as qty_reserved,
			COALESCE(SUM(qty_incoming), 0) as qty_incoming,
			COALESCE(SUM(qty_available), 0) as qty_available`).
		Where("business_id = ? AND variant_id = ?", businessId, variantId)
	if warehouseId > 0 {
		dbCtx = dbCtx.Where("warehouse_id = ?", warehouseId)
	}
	if err := dbCtx.Scan(&row).Error; err != nil {
		return nil, err
	}

	summary := StockSummary{
		VariantId:    variantId,
		WarehouseId:  warehouseId,
		QtyOnHand:    row.QtyOnHand,
		QtyReserved:  row.QtyReserved,
		QtyIncoming:  row.QtyIncoming,
		QtyAvailable: row.QtyAvailable,
	}
	summary.State = ClassifyStockState(row.QtyOnHand, row.QtyAvailable, row.QtyReserved, row.QtyIncoming, variant.ReorderMinQty)
	summary.Severity = ClassifyLowStockSeverity(row.QtyAvailable, variant.ReorderMinQty)

	if warehouseId == 0 {
		_ = config.SetRedisObject(cacheKey, &summary, utils.GetCacheLifespan())
	}

	return &summary, nil
}

// ClassifyStockState maps aggregated quantities to the finite stock state.
// Evaluation order is fixed and load-bearing: on_order wins over out_of_stock,
// allocated wins over low_stock, low_stock wins over in_stock.
func ClassifyStockState(onHand, available, reserved, incoming, reorderMin decimal.Decimal) StockState {
	switch {
	case onHand.LessThanOrEqual(decimal.Zero) && incoming.GreaterThan(decimal.Zero):
		return StockStateOnOrder
	case onHand.LessThanOrEqual(decimal.Zero):
		return StockStateOutOfStock
	case onHand.GreaterThan(decimal.Zero) && available.LessThanOrEqual(decimal.Zero) && reserved.GreaterThan(decimal.Zero):
		return StockStateAllocated
	case reorderMin.GreaterThan(decimal.Zero) &&
		available.LessThanOrEqual(reorderMin.Mul(decimal.NewFromFloat(config.LowStockReorderRatio))):
		return StockStateLowStock
	default:
		return StockStateInStock
	}
}

// ClassifyLowStockSeverity tiers available stock against the reorder minimum
// for replenishment dashboards. Variants with no reorder minimum never alert.
func ClassifyLowStockSeverity(available, reorderMin decimal.Decimal) LowStockSeverity {
	if !reorderMin.GreaterThan(decimal.Zero) {
		return LowStockSeverityNone
	}
	switch {
	case available.LessThanOrEqual(reorderMin.Mul(decimal.NewFromFloat(config.AlertCriticalRatio))):
		return LowStockSeverityCritical
	case available.LessThanOrEqual(reorderMin.Mul(decimal.NewFromFloat(config.AlertWarningRatio))):
		return LowStockSeverityWarning
	default:
		return LowStockSeverityNone
	}
}

// GetStockState is the classifier-only shape of GetStockSummary.
func GetStockState(ctx context.Context, variantId int, warehouseId int) (StockState, error) {
	summary, err := GetStockSummary(ctx, variantId, warehouseId)
	if err != nil {
		return "", err
	}
	return summary.State, nil
}

// BalanceVerification is one slot's reconciliation verdict: the cached
// on-hand against the ledger sum.
type BalanceVerification struct {
	BusinessId   string          `json:"business_id"`
	WarehouseId  int             `json:"warehouse_id"`
	LocationId   int             `json:"location_id"`
	VariantId    int             `json:"variant_id"`
	CachedOnHand decimal.Decimal `json:"cached_on_hand"`
	LedgerSum    decimal.Decimal `json:"ledger_sum"`
	Variance     decimal.Decimal `json:"variance"`
	IsAccurate   bool            `json:"is_accurate"`
	CheckedAt    time.Time       `json:"checked_at"`
}

// VerifyBalance recomputes one slot's variance = cached on_hand - Σ ledger
// movements. Read-only; safe to run at any time.
func VerifyBalance(tx *gorm.DB, key StockBalanceKey) (*BalanceVerification, error) {

	balance, err := GetStockBalance(tx, key)
	if err != nil {
		return nil, err
	}

	ledgerSum, err := SumMovements(tx, key)
	if err != nil {
		return nil, err
	}

	variance := balance.QtyOnHand.Sub(ledgerSum)
	return &BalanceVerification{
		BusinessId:   key.BusinessId,
		WarehouseId:  key.WarehouseId,
		LocationId:   key.LocationId,
		VariantId:    key.VariantId,
		CachedOnHand: balance.QtyOnHand,
		LedgerSum:    ledgerSum,
		Variance:     variance,
		IsAccurate:   variance.Abs().LessThan(balanceVerificationEpsilon),
		CheckedAt:    time.Now().UTC(),
	}, nil
}

// VerifyAllBalances sweeps every balance slot of one business.
func VerifyAllBalances(tx *gorm.DB, businessId string) ([]*BalanceVerification, error) {

	var balances []*StockBalance
	if err := tx.Where("business_id = ?", businessId).
		Order("variant_id asc, warehouse_id asc, location_id asc").
		Find(&balances).Error; err != nil {
		return nil, err
	}

	results := make([]*BalanceVerification, 0, len(balances))
	for _, balance := range balances {
		verification, err := VerifyBalance(tx, StockBalanceKey{
			BusinessId:  balance.BusinessId,
			WarehouseId: balance.WarehouseId,
			LocationId:  balance.LocationId,
			VariantId:   balance.VariantId,
		})
		if err != nil {
			return nil, err
		}
		results = append(results, verification)
	}
	return results, nil
}
