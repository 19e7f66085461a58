package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryLot tracks a batch of a lot-tracked variant inside one warehouse
// slot. A lot's location is fixed at first receipt; moving lot stock between
// bins means consuming from one lot row and receiving into another.
type InventoryLot struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"not null;index:idx_lot_slot,unique" json:"business_id"`
	WarehouseId int             `gorm:"not null;index:idx_lot_slot,unique" json:"warehouse_id"`
	LocationId  int             `gorm:"not null;default:0;index:idx_lot_slot,unique" json:"location_id"`
	VariantId   int             `gorm:"not null;index:idx_lot_slot,unique" json:"variant_id"`
	LotNumber   string          `gorm:"size:100;not null;index:idx_lot_slot,unique" json:"lot_number"`
	ExpiryDate  *time.Time      `gorm:"type:date" json:"expiry_date"`
	QtyOnHand   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_on_hand"`
	QtyReserved decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_reserved"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type InventoryLotKey struct {
	BusinessId  string
	WarehouseId int
	LocationId  int
	VariantId   int
	LotNumber   string
}

// FirstOrCreateInventoryLot fetches the lot row under a FOR UPDATE lock,
// creating it on first receipt. The expiry date sticks from the first receipt;
// later receipts into the same lot number must not rewrite it.
func FirstOrCreateInventoryLot(tx *gorm.DB, key InventoryLotKey, expiryDate *time.Time) (*InventoryLot, error) {
	var lot InventoryLot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(InventoryLot{
			BusinessId:  key.BusinessId,
			WarehouseId: key.WarehouseId,
			LocationId:  key.LocationId,
			VariantId:   key.VariantId,
			LotNumber:   key.LotNumber,
		}).
		Attrs(InventoryLot{ExpiryDate: expiryDate}).
		FirstOrCreate(&lot).Error
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// ApplyLotDelta moves the lot's on-hand by delta with a non-negative guard.
func ApplyLotDelta(tx *gorm.DB, key InventoryLotKey, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}

	result := tx.Exec(`UPDATE inventory_lots
		SET qty_on_hand = qty_on_hand + ?
		WHERE business_id = ? AND warehouse_id = ? AND location_id = ? AND variant_id = ? AND lot_number = ?
			AND qty_on_hand + ? >= 0`,
		delta, key.BusinessId, key.WarehouseId, key.LocationId, key.VariantId, key.LotNumber, delta)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNegativeLotQty
	}
	return nil
}

// AdjustLotReserved moves the lot's reserved quantity, keeping it within
// [0, qty_on_hand].
func AdjustLotReserved(tx *gorm.DB, key InventoryLotKey, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}

	result := tx.Exec(`UPDATE inventory_lots
		SET qty_reserved = qty_reserved + ?
		WHERE business_id = ? AND warehouse_id = ? AND location_id = ? AND variant_id = ? AND lot_number = ?
			AND qty_reserved + ? >= 0
			AND qty_reserved + ? <= qty_on_hand`,
		delta, key.BusinessId, key.WarehouseId, key.LocationId, key.VariantId, key.LotNumber, delta, delta)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if delta.IsPositive() {
			return ErrReservedExceeds
		}
		return NewBusinessRuleError("lot reserved quantity cannot go negative")
	}
	return nil
}

// FetchLotsForAllocation loads the candidate lots of one variant slot in
// allocation order, locked FOR UPDATE so concurrent allocators serialize.
//
// FEFO order: earliest expiry first, NULL expiry last, first-received breaks
// ties. Only lots with unreserved quantity qualify.
func FetchLotsForAllocation(tx *gorm.DB, businessId string, warehouseId int, locationId int, variantId int) ([]*InventoryLot, error) {
	dbCtx := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND warehouse_id = ? AND variant_id = ?", businessId, warehouseId, variantId).
		Where("qty_on_hand - qty_reserved > 0")
	if locationId > 0 {
		dbCtx = dbCtx.Where("location_id = ?", locationId)
	}

	var lots []*InventoryLot
	err := dbCtx.
		Order("expiry_date IS NULL, expiry_date asc, created_at asc, id asc").
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

// ListLots returns a variant's lots across the business for lot inquiry
// screens. Zero-quantity lots are kept so recently exhausted lots stay
// visible.
func ListLots(ctx context.Context, variantId int, warehouseId int) ([]*InventoryLot, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("business_id = ? AND variant_id = ?", businessId, variantId)
	if warehouseId > 0 {
		dbCtx = dbCtx.Where("warehouse_id = ?", warehouseId)
	}

	var lots []*InventoryLot
	err := dbCtx.
		Order("expiry_date IS NULL, expiry_date asc, created_at asc").
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

// ListExpiringLots returns lots whose expiry falls on or before the horizon,
// for expiry alerting.
func ListExpiringLots(ctx context.Context, horizon time.Time) ([]*InventoryLot, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var lots []*InventoryLot
	err := db.WithContext(ctx).
		Where("business_id = ? AND expiry_date IS NOT NULL AND expiry_date <= ? AND qty_on_hand > 0", businessId, horizon).
		Order("expiry_date asc").
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}
