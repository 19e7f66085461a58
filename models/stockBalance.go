package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockBalance is the derived per-slot quantity cache. The movement ledger is
// the source of truth; every row here must stay consistent with the sum of
// movements for its slot (see VerifyBalance). QtyAvailable is maintained as
// QtyOnHand - QtyReserved on every write so reads never recompute it.
type StockBalance struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"not null;index:idx_balance_slot,unique" json:"business_id"`
	WarehouseId  int             `gorm:"not null;index:idx_balance_slot,unique" json:"warehouse_id"`
	LocationId   int             `gorm:"not null;default:0;index:idx_balance_slot,unique" json:"location_id"`
	VariantId    int             `gorm:"not null;index:idx_balance_slot,unique" json:"variant_id"`
	QtyOnHand    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_on_hand"`
	QtyReserved  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_reserved"`
	QtyIncoming  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_incoming"`
	QtyAvailable decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_available"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockBalanceKey identifies one balance slot. LocationId 0 means the
// warehouse-level slot with no bin subdivision.
type StockBalanceKey struct {
	BusinessId  string
	WarehouseId int
	LocationId  int
	VariantId   int
}

// FirstOrCreateStockBalance fetches the slot's balance row under a FOR UPDATE
// lock, creating a zero row if the slot has never moved. Must run inside tx.
func FirstOrCreateStockBalance(tx *gorm.DB, key StockBalanceKey) (*StockBalance, error) {
	var balance StockBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(StockBalance{
			BusinessId:  key.BusinessId,
			WarehouseId: key.WarehouseId,
			LocationId:  key.LocationId,
			VariantId:   key.VariantId,
		}).
		FirstOrCreate(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// ApplyBalanceDelta moves QtyOnHand by delta and refreshes QtyAvailable in a
// single atomic statement. A negative delta is guarded so on-hand never goes
// below zero; zero rows affected means the slot lacked the quantity.
//
// MySQL evaluates SET clauses left to right, so qty_available sees the
// already-incremented qty_on_hand.
func ApplyBalanceDelta(tx *gorm.DB, key StockBalanceKey, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}

	if _, err := FirstOrCreateStockBalance(tx, key); err != nil {
		return err
	}

	query := `UPDATE stock_balances
		SET qty_on_hand = qty_on_hand + ?,
			qty_available = qty_on_hand - qty_reserved
		WHERE business_id = ? AND warehouse_id = ? AND location_id = ? AND variant_id = ?`
	args := []interface{}{delta, key.BusinessId, key.WarehouseId, key.LocationId, key.VariantId}

	if delta.IsNegative() {
		query += ` AND qty_on_hand + ? >= 0`
		args = append(args, delta)
	}

	result := tx.Exec(query, args...)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// AdjustBalanceReserved moves QtyReserved by delta. Reservation increases are
// guarded so reserved never exceeds on-hand; releases are guarded so reserved
// never goes negative.
func AdjustBalanceReserved(tx *gorm.DB, key StockBalanceKey, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}

	if _, err := FirstOrCreateStockBalance(tx, key); err != nil {
		return err
	}

	result := tx.Exec(`UPDATE stock_balances
		SET qty_reserved = qty_reserved + ?,
			qty_available = qty_on_hand - qty_reserved
		WHERE business_id = ? AND warehouse_id = ? AND location_id = ? AND variant_id = ?
			AND qty_reserved + ? >= 0
			AND qty_reserved + ? <= qty_on_hand`,
		delta, key.BusinessId, key.WarehouseId, key.LocationId, key.VariantId, delta, delta)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if delta.IsPositive() {
			return ErrReservedExceeds
		}
		return NewBusinessRuleError("reserved quantity cannot go negative")
	}
	return nil
}

// AdjustBalanceIncoming moves QtyIncoming by delta, floored at zero.
// Incoming is advisory (issued purchase orders, inbound transfers) and never
// feeds QtyAvailable.
func AdjustBalanceIncoming(tx *gorm.DB, key StockBalanceKey, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}

	if _, err := FirstOrCreateStockBalance(tx, key); err != nil {
		return err
	}

	return tx.Exec(`UPDATE stock_balances
		SET qty_incoming = GREATEST(qty_incoming + ?, 0)
		WHERE business_id = ? AND warehouse_id = ? AND location_id = ? AND variant_id = ?`,
		delta, key.BusinessId, key.WarehouseId, key.LocationId, key.VariantId).Error
}

// FetchBalancesForAllocation loads a variant's balance slots with unreserved
// quantity, locked FOR UPDATE, in first-created order. This is the pure-FIFO
// fallback for variants that have no lot rows at all.
func FetchBalancesForAllocation(tx *gorm.DB, businessId string, warehouseId int, locationId int, variantId int) ([]*StockBalance, error) {
	dbCtx := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND variant_id = ?", businessId, variantId).
		Where("qty_on_hand - qty_reserved > 0")
	if warehouseId > 0 {
		dbCtx = dbCtx.Where("warehouse_id = ?", warehouseId)
	}
	if locationId > 0 {
		dbCtx = dbCtx.Where("location_id = ?", locationId)
	}

	var balances []*StockBalance
	err := dbCtx.Order("created_at asc, id asc").Find(&balances).Error
	if err != nil {
		return nil, err
	}
	return balances, nil
}

// GetStockBalance reads one slot without locking. Missing slot reads as all
// zeros rather than an error.
func GetStockBalance(tx *gorm.DB, key StockBalanceKey) (*StockBalance, error) {
	var balance StockBalance
	err := tx.Where("business_id = ? AND warehouse_id = ? AND location_id = ? AND variant_id = ?",
		key.BusinessId, key.WarehouseId, key.LocationId, key.VariantId).
		First(&balance).Error
	if err == gorm.ErrRecordNotFound {
		return &StockBalance{
			BusinessId:  key.BusinessId,
			WarehouseId: key.WarehouseId,
			LocationId:  key.LocationId,
			VariantId:   key.VariantId,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}
