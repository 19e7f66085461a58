package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"gorm.io/gorm"
)

// StockMovement is one row of the append-only movement ledger: the source of
// truth for all stock quantities. Inbound movements carry a positive Qty,
// outbound a negative one. Corrections are compensating movements, never
// edits.
type StockMovement struct {
	ID            int                `gorm:"primary_key" json:"id"`
	BusinessId    string             `gorm:"not null;index:idx_movement_slot" json:"business_id"`
	WarehouseId   int                `gorm:"not null;index:idx_movement_slot" json:"warehouse_id"`
	LocationId    int                `gorm:"not null;default:0;index:idx_movement_slot" json:"location_id"`
	VariantId     int                `gorm:"not null;index:idx_movement_slot" json:"variant_id"`
	LotNumber     string             `gorm:"size:100;default:''" json:"lot_number"`
	Qty           decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitCost      decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	ReferenceType StockReferenceType `gorm:"size:20;not null;index:idx_movement_ref" json:"reference_type"`
	ReferenceId   int                `gorm:"not null;index:idx_movement_ref" json:"reference_id"`
	ReferenceLine int                `gorm:"default:0" json:"reference_line"`
	PostingTime   time.Time          `gorm:"not null;index" json:"posting_time"`
	Note          string             `gorm:"size:255" json:"note"`
	UserId        string             `gorm:"size:50" json:"user_id"`
	UserName      string             `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// Ledger rows are immutable once written.
func (m *StockMovement) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("stock movements are append-only and cannot be updated")
}

func (m *StockMovement) BeforeDelete(tx *gorm.DB) error {
	return errors.New("stock movements are append-only and cannot be deleted")
}

// NewStockMovement is the posting input. Qty keeps the ledger sign convention:
// positive in, negative out.
type NewStockMovement struct {
	BusinessId    string
	WarehouseId   int
	LocationId    int
	VariantId     int
	LotNumber     string
	ExpiryDate    *time.Time
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
	ReferenceType StockReferenceType
	ReferenceId   int
	ReferenceLine int
	PostingTime   time.Time
	Note          string
	UserId        string
	UserName      string
}

func (input *NewStockMovement) validate() error {
	if input.BusinessId == "" {
		return NewValidationError("movement requires a business id")
	}
	if input.WarehouseId <= 0 {
		return NewValidationError("movement requires a warehouse")
	}
	if input.VariantId <= 0 {
		return NewValidationError("movement requires a variant")
	}
	if input.Qty.IsZero() {
		return NewValidationError("movement quantity must be nonzero")
	}
	if !input.ReferenceType.IsValid() {
		return NewValidationError("unknown reference type %q", input.ReferenceType)
	}
	if input.ReferenceId <= 0 {
		return NewValidationError("movement requires a reference document id")
	}
	if input.PostingTime.IsZero() {
		return NewValidationError("movement requires a posting time")
	}
	return nil
}

func (input *NewStockMovement) balanceKey() StockBalanceKey {
	return StockBalanceKey{
		BusinessId:  input.BusinessId,
		WarehouseId: input.WarehouseId,
		LocationId:  input.LocationId,
		VariantId:   input.VariantId,
	}
}

// PostMovement appends one ledger row and updates the balance cache and, for
// lot movements, the lot registry, all inside the caller's transaction. A
// failure anywhere leaves no partial effect.
func PostMovement(tx *gorm.DB, input *NewStockMovement) (*StockMovement, error) {

	if err := input.validate(); err != nil {
		return nil, err
	}

	movement := StockMovement{
		BusinessId:    input.BusinessId,
		WarehouseId:   input.WarehouseId,
		LocationId:    input.LocationId,
		VariantId:     input.VariantId,
		LotNumber:     input.LotNumber,
		Qty:           input.Qty,
		UnitCost:      input.UnitCost,
		ReferenceType: input.ReferenceType,
		ReferenceId:   input.ReferenceId,
		ReferenceLine: input.ReferenceLine,
		PostingTime:   input.PostingTime.UTC(),
		Note:          input.Note,
		UserId:        input.UserId,
		UserName:      input.UserName,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}

	if err := ApplyBalanceDelta(tx, input.balanceKey(), input.Qty); err != nil {
		return nil, err
	}

	if input.LotNumber != "" {
		lotKey := InventoryLotKey{
			BusinessId:  input.BusinessId,
			WarehouseId: input.WarehouseId,
			LocationId:  input.LocationId,
			VariantId:   input.VariantId,
			LotNumber:   input.LotNumber,
		}
		if input.Qty.IsPositive() {
			if _, err := FirstOrCreateInventoryLot(tx, lotKey, input.ExpiryDate); err != nil {
				return nil, err
			}
		}
		if err := ApplyLotDelta(tx, lotKey, input.Qty); err != nil {
			return nil, err
		}
	}

	InvalidateStockSummary(input.BusinessId, input.VariantId)

	return &movement, nil
}

// PostOutboundMovement posts a consumption. Qty is given positive and negated
// here so callers never mix up the sign convention. Before touching any table
// it checks available (not just on-hand) against the demand, so reserved
// stock cannot be shipped out from under another document.
func PostOutboundMovement(tx *gorm.DB, input *NewStockMovement) (*StockMovement, error) {
	if !input.Qty.IsPositive() {
		return nil, NewValidationError("outbound quantity must be positive")
	}

	balance, err := FirstOrCreateStockBalance(tx, input.balanceKey())
	if err != nil {
		return nil, err
	}
	if balance.QtyAvailable.LessThan(input.Qty) {
		return nil, ErrInsufficientStock
	}

	out := *input
	out.Qty = input.Qty.Neg()
	return PostMovement(tx, &out)
}

// SumMovements aggregates the ledger for one balance slot. This is the truth
// side of balance verification.
func SumMovements(tx *gorm.DB, key StockBalanceKey) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := tx.Model(&StockMovement{}).
		Select("COALESCE(SUM(qty), 0) as total").
		Where("business_id = ? AND warehouse_id = ? AND location_id = ? AND variant_id = ?",
			key.BusinessId, key.WarehouseId, key.LocationId, key.VariantId).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

// ListMovements pages the ledger for one document or one slot, newest first.
func ListMovements(tx *gorm.DB, businessId string, referenceType StockReferenceType, referenceId int) ([]*StockMovement, error) {
	var movements []*StockMovement
	dbCtx := tx.Where("business_id = ?", businessId)
	if referenceType != "" {
		dbCtx = dbCtx.Where("reference_type = ?", referenceType)
	}
	if referenceId > 0 {
		dbCtx = dbCtx.Where("reference_id = ?", referenceId)
	}
	err := dbCtx.Order("posting_time desc, id desc").Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// InvalidateStockSummary drops the cached business-wide summary after any
// write that moves a variant's quantities.
func InvalidateStockSummary(businessId string, variantId int) {
	key := fmt.Sprintf("StockSummary:%s:%d", businessId, variantId)
	_ = config.RemoveRedisKey(key)
}
